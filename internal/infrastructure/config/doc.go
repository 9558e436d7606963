// Package config handles loading and validating fleetd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (FLEETD_SECTION_KEY)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords, InfluxDB tokens and object store keys should be set
//     via environment variables rather than committed to the YAML file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Fleet.Name, cfg.GetPollInterval())
package config
