package services

import "errors"

// Run service errors
var (
	ErrRunFinished        = errors.New("run already finished")
	ErrServiceUnavailable = errors.New("service is shutting down")
	ErrTooManyRuns        = errors.New("too many runs in progress")
)
