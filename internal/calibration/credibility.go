package calibration

import (
	"fmt"
	"math"

	apperrors "ratecal/internal/errors"
)

// DefaultFullCredibility is the exposure at which a level is fully credible.
const DefaultFullCredibility = 400000

// CredibilityOptions controls how per-level search bounds are derived.
type CredibilityOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// WeightField overrides the dataset's weight field when set.
	WeightField     string   `json:"weight_field,omitempty" yaml:"weight_field"`
	FullCredibility float64  `json:"full_credibility" yaml:"full_credibility"`
	MaxStep         float64  `json:"max_step" yaml:"max_step"`
	DefaultInterval Interval `json:"default_interval" yaml:"default_interval"`
}

// DefaultCredibilityOptions returns credibility disabled with the standard
// full-credibility standard, 10% step and [0.8, 1.2] fallback interval.
func DefaultCredibilityOptions() CredibilityOptions {
	return CredibilityOptions{
		Enabled:         false,
		FullCredibility: DefaultFullCredibility,
		MaxStep:         0.1,
		DefaultInterval: Interval{Lower: 0.8, Upper: 1.2},
	}
}

func validateCredibilityOptions(opts CredibilityOptions) error {
	if !(opts.FullCredibility > 0) || math.IsInf(opts.FullCredibility, 0) {
		return apperrors.NewConfigurationError(
			fmt.Sprintf("full credibility must be positive, got %g", opts.FullCredibility))
	}
	if !(opts.MaxStep >= 0) || opts.MaxStep >= 1 {
		return apperrors.NewConfigurationError(
			fmt.Sprintf("max step must be in [0, 1), got %g", opts.MaxStep))
	}
	iv := opts.DefaultInterval
	if !(iv.Lower > 0) || !(iv.Upper >= iv.Lower) || math.IsInf(iv.Upper, 0) {
		return apperrors.NewConfigurationError(
			fmt.Sprintf("default interval %s must be positive and ordered", iv))
	}
	return nil
}

// BoundSet holds one interval per layout slot. Credibility and Target are
// only populated on the credibility path.
type BoundSet struct {
	Layout      *Layout    `json:"layout"`
	Intervals   []Interval `json:"intervals"`
	Credibility []float64  `json:"credibility,omitempty"`
	Target      []float64  `json:"target,omitempty"`
}

// For returns the intervals of one variable in level order.
func (b *BoundSet) For(variable string) ([]Interval, error) {
	s, ok := b.Layout.Segment(variable)
	if !ok {
		return nil, unknownVariable(variable)
	}
	return append([]Interval(nil), b.Intervals[s.Offset:s.Offset+len(s.Levels)]...), nil
}

// Interval returns the bound of one variable level.
func (b *BoundSet) Interval(variable, level string) (Interval, bool) {
	s, ok := b.Layout.Segment(variable)
	if !ok {
		return Interval{}, false
	}
	for j, l := range s.Levels {
		if l == level {
			return b.Intervals[s.Offset+j], true
		}
	}
	return Interval{}, false
}

// ComputeBounds derives a search interval for every level of every rating
// variable of ds. With credibility enabled a level may move from 1 toward
// its credibility-weighted relative A/E, by at most MaxStep.
func ComputeBounds(ds *Dataset, opts CredibilityOptions) (*BoundSet, error) {
	if err := validateCredibilityOptions(opts); err != nil {
		return nil, err
	}
	layout, err := NewLayout(ds, ds.Variables())
	if err != nil {
		return nil, err
	}

	bs := &BoundSet{Layout: layout, Intervals: make([]Interval, layout.Dim())}
	if !opts.Enabled {
		for i := range bs.Intervals {
			bs.Intervals[i] = opts.DefaultInterval
		}
		return bs, nil
	}

	field := opts.WeightField
	if field == "" {
		field = ds.Spec().WeightField
	}
	if field == "" {
		return nil, apperrors.NewCredibilityInputError("credibility requested without a weight field", nil)
	}
	weights, err := ds.Column(field)
	if err != nil {
		return nil, apperrors.NewCredibilityInputError(
			fmt.Sprintf("weight field %q is unusable", field), err).
			WithContext("field", field)
	}

	overall := ds.Ratio()
	bs.Credibility = make([]float64, layout.Dim())
	bs.Target = make([]float64, layout.Dim())

	for _, s := range layout.Segments {
		actual, expected, err := ds.LevelSums(s.Variable)
		if err != nil {
			return nil, err
		}
		codes, _ := ds.levelCodes(s.Variable)
		weightSums := make([]float64, len(s.Levels))
		for i, c := range codes {
			weightSums[c] += weights[i]
		}

		for j, level := range s.Levels {
			w := weightSums[j]
			if math.IsNaN(w) || w < 0 {
				return nil, apperrors.NewCredibilityInputError(
					fmt.Sprintf("weight sum %g for level %q of %q is invalid", w, level, s.Variable), nil).
					WithContext("variable", s.Variable).
					WithContext("level", level)
			}
			cred := math.Sqrt(w / opts.FullCredibility)
			ae := (actual[j] / expected[j]) / overall
			target := ae*cred + (1 - cred)

			slot := s.Offset + j
			bs.Credibility[slot] = cred
			bs.Target[slot] = target
			bs.Intervals[slot] = boundFor(target, opts.MaxStep)
		}
	}
	return bs, nil
}

func boundFor(target, maxStep float64) Interval {
	switch {
	case math.IsNaN(target):
		return Interval{Lower: 1, Upper: 1}
	case target < 1:
		return Interval{Lower: math.Max(1-maxStep, target), Upper: 1}
	default:
		return Interval{Lower: 1, Upper: math.Min(target, 1+maxStep)}
	}
}
