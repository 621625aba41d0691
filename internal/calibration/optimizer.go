package calibration

import (
	"context"
	"fmt"
	"math"

	apperrors "ratecal/internal/errors"
)

// Optimizer is the bounded global search the driver delegates to. Options
// are passed through untouched; implementations decide how to honor them.
type Optimizer interface {
	Optimize(ctx context.Context, f ObjectiveFunc, bounds []Interval, opts OptimizerOptions) (*OptimizeResult, error)
}

// OptimizerFunc adapts a function to Optimizer.
type OptimizerFunc func(ctx context.Context, f ObjectiveFunc, bounds []Interval, opts OptimizerOptions) (*OptimizeResult, error)

// Optimize calls fn.
func (fn OptimizerFunc) Optimize(ctx context.Context, f ObjectiveFunc, bounds []Interval, opts OptimizerOptions) (*OptimizeResult, error) {
	return fn(ctx, f, bounds, opts)
}

// MutationRange is the dithering range of the mutation constant.
type MutationRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Updating modes.
const (
	UpdatingImmediate = "immediate"
	UpdatingDeferred  = "deferred"
)

// Init strategies.
const (
	InitMidpoint = "midpoint"
	InitRandom   = "random"
)

// OptimizerOptions carries the search control parameters.
type OptimizerOptions struct {
	Strategy          string        `json:"strategy" yaml:"strategy"`
	MaxIterations     int           `json:"max_iterations" yaml:"max_iterations"`
	PopulationSize    int           `json:"population_size" yaml:"population_size"`
	Tolerance         float64       `json:"tolerance" yaml:"tolerance"`
	Mutation          MutationRange `json:"mutation" yaml:"mutation"`
	Recombination     float64       `json:"recombination" yaml:"recombination"`
	Seed              uint64        `json:"seed" yaml:"seed"`
	Polish            bool          `json:"polish" yaml:"polish"`
	Init              string        `json:"init" yaml:"init"`
	AbsoluteTolerance float64       `json:"absolute_tolerance" yaml:"absolute_tolerance"`
	Updating          string        `json:"updating" yaml:"updating"`
	Workers           int           `json:"workers" yaml:"workers"`
}

// DefaultOptimizerOptions mirrors the classic differential evolution defaults.
func DefaultOptimizerOptions() OptimizerOptions {
	return OptimizerOptions{
		Strategy:       "cmaes",
		MaxIterations:  1000,
		PopulationSize: 15,
		Tolerance:      0.01,
		Mutation:       MutationRange{Min: 0.5, Max: 1},
		Recombination:  0.7,
		Polish:         true,
		Init:           InitMidpoint,
		Updating:       UpdatingImmediate,
		Workers:        1,
	}
}

func validateOptimizerOptions(o OptimizerOptions) error {
	var problems []string
	if o.Strategy == "" {
		problems = append(problems, "strategy is required")
	}
	if o.MaxIterations < 1 {
		problems = append(problems, "max iterations must be at least 1")
	}
	if o.PopulationSize < 1 {
		problems = append(problems, "population size must be at least 1")
	}
	if !(o.Tolerance >= 0) || !(o.AbsoluteTolerance >= 0) {
		problems = append(problems, "tolerances must be non-negative")
	}
	if !(o.Mutation.Min >= 0) || !(o.Mutation.Max >= o.Mutation.Min) || o.Mutation.Max > 2 {
		problems = append(problems, "mutation range must satisfy 0 <= min <= max <= 2")
	}
	if !(o.Recombination >= 0 && o.Recombination <= 1) {
		problems = append(problems, "recombination must be in [0, 1]")
	}
	if o.Init != InitMidpoint && o.Init != InitRandom {
		problems = append(problems, fmt.Sprintf("unknown init %q", o.Init))
	}
	if o.Updating != UpdatingImmediate && o.Updating != UpdatingDeferred {
		problems = append(problems, fmt.Sprintf("unknown updating mode %q", o.Updating))
	}
	if o.Workers == 0 || o.Workers < -1 {
		problems = append(problems, "workers must be -1 or at least 1")
	}
	if len(problems) > 0 {
		err := apperrors.NewConfigurationError(fmt.Sprintf("invalid optimizer options: %v", problems))
		return err.WithContext("problems", problems)
	}
	return nil
}

// OptimizeResult is what an Optimizer reports for one invocation.
type OptimizeResult struct {
	X           []float64 `json:"x"`
	F           float64   `json:"f"`
	Converged   bool      `json:"converged"`
	Message     string    `json:"message"`
	Iterations  int       `json:"iterations"`
	Evaluations int       `json:"evaluations"`
}

func checkOptimizeResult(res *OptimizeResult, bounds []Interval) error {
	if res == nil {
		return fmt.Errorf("optimizer returned no result")
	}
	if len(res.X) != len(bounds) {
		return dimensionMismatch(len(res.X), len(bounds))
	}
	for i, x := range res.X {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return apperrors.NewNumericEvaluationError(fmt.Sprintf("optimizer returned non-finite factor %d", i), nil)
		}
	}
	if math.IsNaN(res.F) || math.IsInf(res.F, 0) {
		return apperrors.NewNumericEvaluationError("optimizer returned a non-finite score", nil)
	}
	return nil
}
