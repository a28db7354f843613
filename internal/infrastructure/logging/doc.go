// Package logging provides structured logging for badgelink.
//
// It wraps the standard log/slog package so every component logs with the
// same handler, level filter and default fields (service, version).
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("badge scanned", "code", code)
//	logger.Warn("scan command failed", "error", err)
//
// Badge codes are access credentials. Log them at debug level only when
// the deployment allows it; info-level messages carry counts, not codes.
package logging
