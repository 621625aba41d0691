package calibration

import (
	"fmt"
	"time"
)

// Mode selects how rating variables are calibrated.
type Mode string

const (
	// ModeSequential optimizes one variable at a time, committing each stage
	// before the next one reads the dataset.
	ModeSequential Mode = "sequential"
	// ModeJoint optimizes every variable's factors in one flat vector.
	ModeJoint Mode = "joint"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeSequential || m == ModeJoint
}

// Record is one cleaned input row. Categories holds rating-variable values,
// Numbers holds actual, expected, weight and any other numeric fields.
type Record struct {
	Categories map[string]string  `json:"categories"`
	Numbers    map[string]float64 `json:"numbers"`
}

// DatasetSpec describes how records map onto a Dataset.
type DatasetSpec struct {
	RatingVariables []string `json:"rating_variables" yaml:"rating_variables"`
	ActualField     string   `json:"actual_field" yaml:"actual_field"`
	ExpectedField   string   `json:"expected_field" yaml:"expected_field"`
	WeightField     string   `json:"weight_field,omitempty" yaml:"weight_field"`
	Mode            Mode     `json:"mode" yaml:"mode"`
	Grouped         bool     `json:"grouped" yaml:"grouped"`
}

// Interval is a closed range of admissible factors.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Contains reports whether x lies inside the interval.
func (i Interval) Contains(x float64) bool {
	return x >= i.Lower && x <= i.Upper
}

// Width returns Upper - Lower.
func (i Interval) Width() float64 {
	return i.Upper - i.Lower
}

func (i Interval) String() string {
	return fmt.Sprintf("[%g, %g]", i.Lower, i.Upper)
}

// GuardBand bounds the candidate aggregate ratio relative to the initial ratio.
type GuardBand struct {
	Lower float64 `json:"lower" yaml:"lower"`
	Upper float64 `json:"upper" yaml:"upper"`
}

// LevelFactor is the fitted factor of one level.
type LevelFactor struct {
	Level  string  `json:"level"`
	Factor float64 `json:"factor"`
}

// VariableFactors holds the fitted factors of one rating variable in level order.
type VariableFactors struct {
	Variable string        `json:"variable"`
	Levels   []LevelFactor `json:"levels"`
}

// FactorTable is the ordered variable -> level -> factor report.
type FactorTable []VariableFactors

// Factor looks up the fitted factor for a variable level.
func (t FactorTable) Factor(variable, level string) (float64, bool) {
	for _, vf := range t {
		if vf.Variable != variable {
			continue
		}
		for _, lf := range vf.Levels {
			if lf.Level == level {
				return lf.Factor, true
			}
		}
	}
	return 0, false
}

// Map flattens the table into nested maps.
func (t FactorTable) Map() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(t))
	for _, vf := range t {
		levels := make(map[string]float64, len(vf.Levels))
		for _, lf := range vf.Levels {
			levels[lf.Level] = lf.Factor
		}
		out[vf.Variable] = levels
	}
	return out
}

// StageResult records one optimizer invocation.
type StageResult struct {
	Index                int           `json:"index"`
	Variables            []string      `json:"variables"`
	Factors              FactorTable   `json:"factors"`
	DeviationBefore      float64       `json:"deviation_before"`
	DeviationAfter       float64       `json:"deviation_after"`
	RatioAfter           float64       `json:"ratio_after"`
	Converged            bool          `json:"converged"`
	Message              string        `json:"message"`
	Iterations           int           `json:"iterations"`
	Evaluations          int           `json:"evaluations"`
	ObjectiveEvaluations int64         `json:"objective_evaluations"`
	Duration             time.Duration `json:"duration"`
}

// Result is the final calibration report.
type Result struct {
	Mode              Mode          `json:"mode"`
	Grouped           bool          `json:"grouped"`
	Credibility       bool          `json:"credibility"`
	Factors           FactorTable   `json:"factors"`
	InitialRatio      float64       `json:"initial_ratio"`
	StartingRatio     float64       `json:"starting_ratio"`
	StartingDeviation float64       `json:"starting_deviation"`
	EndingRatio       float64       `json:"ending_ratio"`
	EndingDeviation   float64       `json:"ending_deviation"`
	Converged         bool          `json:"converged"`
	Stages            []StageResult `json:"stages"`
	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        time.Time     `json:"finished_at"`
}

// Duration returns the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
