// Package http implements the HTTP handlers of the calibration service.
// Handlers stay thin: they decode and validate requests, delegate to the
// services layer and render responses with go-chi/render.
//
// # Routes
//
//	POST   /api/v1/calibrations                        submit a run (JSON or multipart upload)
//	GET    /api/v1/calibrations                        list runs, ?status=&limit=
//	GET    /api/v1/calibrations/{id}                   run snapshot
//	DELETE /api/v1/calibrations/{id}                   cancel a run
//	GET    /api/v1/calibrations/{id}/reports/{file}    download a report the run wrote
//	GET    /api/v1/schema/{name}                       JSON Schema of the contract
//	GET    /api/v1/stats                               run, websocket and process counters
//	GET    /ws?run_id=                                 progress stream
//	GET    /healthz /readyz /livez /version
//
// # Error Handling
//
// Every error is rendered as RFC 7807 Problem Details by the shared
// errors.ErrorHandler:
//
//	{
//	    "type": "/errors/calibration/data-validation",
//	    "title": "Unprocessable Entity",
//	    "status": 422,
//	    "detail": "row 12: expected is not a number",
//	    "instance": "/api/v1/calibrations"
//	}
package http
