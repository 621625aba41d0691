// Package config provides centralized configuration management for ratecal.
// It loads configuration from multiple sources, validates it, and converts the
// calibration section into the options the calibration driver consumes.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//  1. Environment variables (highest priority)
//  2. A YAML configuration file
//  3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern RATECAL_* for namespacing:
//
//	RATECAL_SERVER_PORT=8080
//	RATECAL_LOGGING_LEVEL=debug
//	RATECAL_CALIBRATION_MODE=joint
//	RATECAL_CALIBRATION_RATING_VARIABLES=region,tier
//	RATECAL_CALIBRATION_OPTIMIZER_SEED=42
//
// # Path Management
//
// Paths anchors the reports and logs directories:
//
//	paths, _ := config.ResolvePaths(cfg.Paths, "")
//	dir := paths.RunReportDir(runID, time.Now())
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	driver, err := calibration.NewDriver(ds, optimizer, cfg.Calibration.Options())
//
// For tests, Default() returns a configuration that passes Validate without
// any environment or file.
package config
