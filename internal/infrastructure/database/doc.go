// Package database provides SQLite connectivity for badgelink.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Applying embedded schema migrations in version order
//   - Connection lifecycle and health checks
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file holds badge credentials; its permissions are set to 0600
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Storage.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.{up,down}.sql and are
// registered by the migrations package through MigrationsFS.
package database
