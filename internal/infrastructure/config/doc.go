// Package config handles loading and validating chargegate configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with CHARGEGATE_* environment variables
//   - Validation of required fields and gateway prefix rules
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, JWT secret, InfluxDB token) should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//
// The gateway prefixes are read once at startup and turned into an immutable
// classification policy; changing them requires a restart.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Gateway.SignInPath())
package config
