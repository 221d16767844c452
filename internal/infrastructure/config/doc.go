// Package config handles loading and validating the camera service configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The service configuration (this package) is separate from the camera's own
// JSON settings file, which the camera package owns and which can be edited at
// runtime. camera.config_path points at that file.
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB and uplink tokens) should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.Name)
package config
