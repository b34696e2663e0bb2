// Package config handles loading and validating Gray Logic BLE bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (GRAYLOGIC_BLE_*)
//   - Structural validation of required fields
//   - Default value handling, including the radio retry policy
//
// The recovery, writer and notify sections are the single source of retry
// counts and backoff durations. Nothing in the radio path hardcodes them.
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.BLE.Adapter)
package config
