// Package app wires the calibration service together and manages its
// lifecycle.
//
// # Initialization Flow
//
//  1. Load configuration (defaults, YAML file, RATECAL_* environment)
//  2. Initialize logging and OpenTelemetry
//  3. Create the run store, optimizer, report exporter and progress hub
//  4. Initialize services with their dependencies
//  5. Set up HTTP handlers and middleware
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	app, err := app.New(cfg)
//	if err != nil {
//	    return err
//	}
//	return app.Run(ctx)
//
// # Graceful Shutdown
//
// Run returns after SIGINT, SIGTERM or cancellation of its context. Shutdown
// stops accepting requests, cancels runs in flight and waits for them within
// the configured shutdown timeout, closes websocket clients and flushes
// telemetry.
package app
