package calibration

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	apperrors "ratecal/internal/errors"
)

// ObjectiveFunc scores a flat factor vector. Lower is better.
type ObjectiveFunc func(x []float64) (float64, error)

// Variant identifies how an objective aggregates deviation.
type Variant string

const (
	VariantSingle  Variant = "single"
	VariantJoint   Variant = "joint"
	VariantGrouped Variant = "joint_grouped"
)

// DefaultPenalty is added to the score when the guard band is violated.
const DefaultPenalty = 1e10

// ObjectiveProgress is reported every ProgressEvery evaluations.
type ObjectiveProgress struct {
	Variant     Variant
	Variables   []string
	Evaluations int64
	Score       float64
}

// ObjectiveOptions configures scoring.
type ObjectiveOptions struct {
	GuardBand     GuardBand
	Penalty       float64
	ProgressEvery int64
	OnProgress    func(ObjectiveProgress)
	Logger        *slog.Logger
}

// DefaultObjectiveOptions returns a ±5% guard band, a 1e10 penalty and a
// progress report every 100 evaluations.
func DefaultObjectiveOptions() ObjectiveOptions {
	return ObjectiveOptions{
		GuardBand:     GuardBand{Lower: 0.95, Upper: 1.05},
		Penalty:       DefaultPenalty,
		ProgressEvery: 100,
	}
}

func validateObjectiveOptions(opts ObjectiveOptions) error {
	gb := opts.GuardBand
	if !(gb.Lower > 0) || !(gb.Lower <= 1) || !(gb.Upper >= 1) || math.IsInf(gb.Upper, 0) {
		return apperrors.NewConfigurationError(
			fmt.Sprintf("guard band [%g, %g] must satisfy 0 < lower <= 1 <= upper", gb.Lower, gb.Upper))
	}
	if !(opts.Penalty >= 0) || math.IsInf(opts.Penalty, 0) {
		return apperrors.NewConfigurationError(fmt.Sprintf("penalty must be finite and non-negative, got %g", opts.Penalty))
	}
	if opts.ProgressEvery < 0 {
		return apperrors.NewConfigurationError("progress interval must not be negative")
	}
	return nil
}

// Objective is the penalized absolute-deviation score of a dataset snapshot.
// Evaluate only reads the snapshot and builds its scratch state per call, so
// it is safe for concurrent use by optimizer workers.
type Objective struct {
	variant Variant
	ds      *Dataset
	layout  *Layout
	slots   [][]int
	lo, hi  float64
	opts    ObjectiveOptions
	logger  *slog.Logger
	evals   atomic.Int64
}

// NewSingleObjective scores one variable's factors against ds. The segment
// for variable is taken from layout and rebased to offset zero.
func NewSingleObjective(ds *Dataset, layout *Layout, variable string, opts ObjectiveOptions) (*Objective, error) {
	sub, err := layout.Sub(variable)
	if err != nil {
		return nil, err
	}
	return newObjective(VariantSingle, ds, sub, opts)
}

// NewJointObjective scores all variables of layout at once, row by row.
func NewJointObjective(ds *Dataset, layout *Layout, opts ObjectiveOptions) (*Objective, error) {
	return newObjective(VariantJoint, ds, layout, opts)
}

// NewGroupedObjective scores all variables of layout at once, summing
// actual and candidate expected within each variable level first.
func NewGroupedObjective(ds *Dataset, layout *Layout, opts ObjectiveOptions) (*Objective, error) {
	return newObjective(VariantGrouped, ds, layout, opts)
}

func newObjective(variant Variant, ds *Dataset, layout *Layout, opts ObjectiveOptions) (*Objective, error) {
	if err := validateObjectiveOptions(opts); err != nil {
		return nil, err
	}
	if layout.Dim() == 0 {
		return nil, apperrors.NewConfigurationError("objective layout is empty")
	}
	o := &Objective{
		variant: variant,
		ds:      ds,
		layout:  layout,
		slots:   make([][]int, len(layout.Segments)),
		lo:      ds.InitialRatio() * opts.GuardBand.Lower,
		hi:      ds.InitialRatio() * opts.GuardBand.Upper,
		opts:    opts,
		logger:  opts.Logger,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With(slog.String("component", "objective"), slog.String("variant", string(variant)))

	for k, s := range layout.Segments {
		slots, err := s.slots(ds)
		if err != nil {
			return nil, err
		}
		o.slots[k] = slots
	}
	return o, nil
}

// Variant returns the aggregation variant.
func (o *Objective) Variant() Variant { return o.variant }

// Layout returns the vector layout the objective decodes with.
func (o *Objective) Layout() *Layout { return o.layout }

// Dim returns the expected vector length.
func (o *Objective) Dim() int { return o.layout.Dim() }

// Evaluations returns how many times Evaluate has been called.
func (o *Objective) Evaluations() int64 { return o.evals.Load() }

// Func adapts Evaluate to ObjectiveFunc.
func (o *Objective) Func() ObjectiveFunc { return o.Evaluate }

// Evaluate returns the penalized deviation of x. A non-finite intermediate is
// a NumericEvaluationError.
func (o *Objective) Evaluate(x []float64) (float64, error) {
	if len(x) != o.layout.Dim() {
		return 0, dimensionMismatch(len(x), o.layout.Dim())
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, o.numeric(fmt.Sprintf("factor %d is not finite", i))
		}
	}

	candidate := make([]float64, len(o.ds.expected))
	var total float64
	for i, e := range o.ds.expected {
		f := 1.0
		for _, slots := range o.slots {
			f *= x[slots[i]]
		}
		candidate[i] = e * f
		total += candidate[i]
	}

	ratio := o.ds.totalActual / total
	if total == 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0, o.numeric(fmt.Sprintf("candidate expected total %g yields no ratio", total))
	}

	var score float64
	if o.variant == VariantGrouped {
		score = o.groupedDeviation(candidate, ratio)
	} else {
		for i, c := range candidate {
			score += math.Abs(c*ratio - o.ds.actual[i])
		}
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, o.numeric("deviation is not finite")
	}

	if ratio < o.lo || ratio > o.hi {
		score += o.opts.Penalty
	}

	n := o.evals.Add(1)
	if o.opts.ProgressEvery > 0 && n%o.opts.ProgressEvery == 0 {
		o.logger.Debug("objective progress",
			slog.Int64("evaluations", n),
			slog.Float64("score", score),
			slog.Float64("ratio", ratio),
		)
		if o.opts.OnProgress != nil {
			o.opts.OnProgress(ObjectiveProgress{
				Variant:     o.variant,
				Variables:   o.layout.Variables(),
				Evaluations: n,
				Score:       score,
			})
		}
	}
	return score, nil
}

func (o *Objective) groupedDeviation(candidate []float64, ratio float64) float64 {
	var score float64
	for k, s := range o.layout.Segments {
		sumC := make([]float64, len(s.Levels))
		sumA := make([]float64, len(s.Levels))
		for i, slot := range o.slots[k] {
			j := slot - s.Offset
			sumC[j] += candidate[i]
			sumA[j] += o.ds.actual[i]
		}
		for j := range sumC {
			score += math.Abs(sumC[j]*ratio - sumA[j])
		}
	}
	return score
}

func (o *Objective) numeric(msg string) error {
	return apperrors.NewNumericEvaluationError(msg, nil).
		WithContext("variables", o.layout.Variables())
}
