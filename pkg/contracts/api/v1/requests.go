// Package api contains the HTTP API contract of the rating-factor
// calibration service. Version v1 is the current stable API version.
package api

// Calibration API Requests

// CalibrationRequest submits a calibration run. The dataset comes either
// inline as Rows (one JSON object per record, keyed by column name) or from
// a Google Sheets Location of the form gsheet://<spreadsheet-id>/<range>.
// Every section left out falls back to the server's configured defaults.
type CalibrationRequest struct {
	Source      string                   `json:"source,omitempty" validate:"omitempty,max=256"`
	Rows        []map[string]interface{} `json:"rows,omitempty" validate:"required_without=Location,omitempty,min=1"`
	Location    string                   `json:"location,omitempty" validate:"required_without=Rows,omitempty,gsheet"`
	Dataset     *DatasetRequest          `json:"dataset,omitempty"`
	Credibility *CredibilityRequest      `json:"credibility,omitempty"`
	GuardBand   *IntervalRequest         `json:"guard_band,omitempty"`
	Penalty     *float64                 `json:"penalty,omitempty" validate:"omitempty,gt=0"`
	Optimizer   *OptimizerRequest        `json:"optimizer,omitempty"`
	Export      *bool                    `json:"export,omitempty"`
}

// DatasetRequest names the columns of the dataset and the calibration mode.
type DatasetRequest struct {
	RatingVariables []string `json:"rating_variables" validate:"required,min=1,unique,dive,required,column"`
	ActualField     string   `json:"actual_field" validate:"required,column"`
	ExpectedField   string   `json:"expected_field" validate:"required,column,nefield=ActualField"`
	WeightField     string   `json:"weight_field,omitempty" validate:"omitempty,column"`
	Mode            string   `json:"mode" validate:"required,oneof=sequential joint"`
	Grouped         bool     `json:"grouped"`
}

// CredibilityRequest controls credibility-weighted factor bounds.
type CredibilityRequest struct {
	Enabled         bool             `json:"enabled"`
	WeightField     string           `json:"weight_field,omitempty" validate:"omitempty,column"`
	FullCredibility float64          `json:"full_credibility,omitempty" validate:"omitempty,gt=0"`
	MaxStep         float64          `json:"max_step,omitempty" validate:"omitempty,gt=0"`
	DefaultInterval *IntervalRequest `json:"default_interval,omitempty"`
}

// IntervalRequest is a closed range [Lower, Upper].
type IntervalRequest struct {
	Lower float64 `json:"lower" validate:"gt=0"`
	Upper float64 `json:"upper" validate:"gtfield=Lower"`
}

// OptimizerRequest overrides search control parameters. Zero values keep
// the server defaults.
type OptimizerRequest struct {
	Strategy          string   `json:"strategy,omitempty" validate:"omitempty,oneof=cmaes guess neldermead"`
	MaxIterations     int      `json:"max_iterations,omitempty" validate:"omitempty,min=1,max=100000"`
	PopulationSize    int      `json:"population_size,omitempty" validate:"omitempty,min=1,max=1000"`
	Tolerance         *float64 `json:"tolerance,omitempty" validate:"omitempty,gte=0"`
	AbsoluteTolerance *float64 `json:"absolute_tolerance,omitempty" validate:"omitempty,gte=0"`
	Recombination     *float64 `json:"recombination,omitempty" validate:"omitempty,gte=0,lte=1"`
	Seed              *uint64  `json:"seed,omitempty"`
	Polish            *bool    `json:"polish,omitempty"`
	Init              string   `json:"init,omitempty" validate:"omitempty,oneof=midpoint random"`
	Updating          string   `json:"updating,omitempty" validate:"omitempty,oneof=immediate deferred"`
	Workers           int      `json:"workers,omitempty" validate:"omitempty,min=-1"`
}

// RunListRequest filters the run listing.
type RunListRequest struct {
	Status string `json:"status" query:"status" validate:"omitempty,oneof=queued running completed failed cancelled"`
	Limit  int    `json:"limit" query:"limit" validate:"omitempty,min=1,max=500"`
}
