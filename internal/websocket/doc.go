// Package websocket streams calibration progress to browser clients.
//
// A Hub owns the client set. Each Client follows one run, selected by the
// run_id query parameter, or every run when the parameter is absent. The
// calibration service publishes through Hub.BroadcastProgress, which never
// blocks the optimizer: slow clients are disconnected and a saturated queue
// drops events.
package websocket
