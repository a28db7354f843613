// Package config handles loading and validating badgelink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (BADGELINK_SECTION_KEY)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - MQTT credentials and the InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.NamePrefix)
package config
