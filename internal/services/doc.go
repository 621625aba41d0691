// Package services implements the application layer between the transports
// (CLI and HTTP) and the calibration engine.
//
// CalibrationService validates a request, builds the dataset and driver,
// runs the calibration either on the caller's goroutine (Calibrate) or in the
// background (Submit), records every run in a MemoryRunStore and optionally
// exports the report files. Progress events go to a ProgressBroadcaster,
// which the HTTP server backs with the websocket hub.
//
// HealthService answers liveness and readiness probes.
//
// Runs live in memory only; a restart forgets them.
package services
