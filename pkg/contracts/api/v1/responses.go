package api

import "time"

// Calibration API Responses

// RunResponse is the public view of a calibration run.
type RunResponse struct {
	ID         string            `json:"id"`
	Status     string            `json:"status"`
	Source     string            `json:"source,omitempty"`
	Rows       int               `json:"rows"`
	Dataset    DatasetResponse   `json:"dataset"`
	Progress   *ProgressResponse `json:"progress,omitempty"`
	Result     *ResultResponse   `json:"result,omitempty"`
	Reports    []string          `json:"reports,omitempty"`
	Error      *RunErrorResponse `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Links      RunLinks          `json:"links"`
}

// RunLinks points at related resources.
type RunLinks struct {
	Self   string `json:"self"`
	Events string `json:"events"`
}

// DatasetResponse echoes the dataset layout of a run.
type DatasetResponse struct {
	RatingVariables []string `json:"rating_variables"`
	ActualField     string   `json:"actual_field"`
	ExpectedField   string   `json:"expected_field"`
	WeightField     string   `json:"weight_field,omitempty"`
	Mode            string   `json:"mode"`
	Grouped         bool     `json:"grouped"`
}

// ProgressResponse is the latest lifecycle event of a run.
type ProgressResponse struct {
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Stage     int       `json:"stage"`
	Stages    int       `json:"stages"`
	Variables []string  `json:"variables,omitempty"`
	Deviation float64   `json:"deviation,omitempty"`
	Ratio     float64   `json:"ratio,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ResultResponse is the calibration outcome.
type ResultResponse struct {
	Mode              string            `json:"mode"`
	Grouped           bool              `json:"grouped"`
	Credibility       bool              `json:"credibility"`
	Converged         bool              `json:"converged"`
	InitialRatio      float64           `json:"initial_ratio"`
	StartingRatio     float64           `json:"starting_ratio"`
	StartingDeviation float64           `json:"starting_deviation"`
	EndingRatio       float64           `json:"ending_ratio"`
	EndingDeviation   float64           `json:"ending_deviation"`
	Factors           []FactorsResponse `json:"factors"`
	Stages            []StageResponse   `json:"stages"`
	DurationSeconds   float64           `json:"duration_seconds"`
}

// FactorsResponse holds the fitted factors of one rating variable.
type FactorsResponse struct {
	Variable string        `json:"variable"`
	Levels   []LevelFactor `json:"levels"`
}

// LevelFactor is one fitted factor.
type LevelFactor struct {
	Level  string  `json:"level"`
	Factor float64 `json:"factor"`
}

// StageResponse summarizes one optimizer invocation.
type StageResponse struct {
	Index                int      `json:"index"`
	Variables            []string `json:"variables"`
	DeviationBefore      float64  `json:"deviation_before"`
	DeviationAfter       float64  `json:"deviation_after"`
	RatioAfter           float64  `json:"ratio_after"`
	Converged            bool     `json:"converged"`
	Message              string   `json:"message,omitempty"`
	Iterations           int      `json:"iterations"`
	Evaluations          int      `json:"evaluations"`
	ObjectiveEvaluations int64    `json:"objective_evaluations"`
	DurationSeconds      float64  `json:"duration_seconds"`
}

// RunErrorResponse is the classified failure of a run.
type RunErrorResponse struct {
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// RunListResponse is a page of runs, newest first.
type RunListResponse struct {
	Runs  []RunResponse  `json:"runs"`
	Count int            `json:"count"`
	Stats map[string]int `json:"stats"`
}
