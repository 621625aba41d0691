package calibration

import (
	"fmt"

	apperrors "ratecal/internal/errors"
)

// Segment is the contiguous slice of a flat factor vector owned by one variable.
type Segment struct {
	Variable string   `json:"variable"`
	Levels   []string `json:"levels"`
	Offset   int      `json:"offset"`
}

// Layout is the explicit level order shared by every component that produces
// or consumes a flat factor vector.
type Layout struct {
	Segments []Segment `json:"segments"`
	dim      int
}

// NewLayout concatenates the level order of the given variables.
func NewLayout(ds *Dataset, variables []string) (*Layout, error) {
	l := &Layout{Segments: make([]Segment, 0, len(variables))}
	for _, v := range variables {
		if _, ok := ds.levelCodes(v); !ok {
			return nil, unknownVariable(v)
		}
		levels := ds.Levels(v)
		l.Segments = append(l.Segments, Segment{Variable: v, Levels: levels, Offset: l.dim})
		l.dim += len(levels)
	}
	return l, nil
}

// Dim returns the length of vectors described by the layout.
func (l *Layout) Dim() int { return l.dim }

// Variables lists the variables in vector order.
func (l *Layout) Variables() []string {
	out := make([]string, len(l.Segments))
	for i, s := range l.Segments {
		out[i] = s.Variable
	}
	return out
}

// Segment returns the segment of variable.
func (l *Layout) Segment(variable string) (Segment, bool) {
	for _, s := range l.Segments {
		if s.Variable == variable {
			return s, true
		}
	}
	return Segment{}, false
}

// Sub returns a layout holding only variable, rebased to offset zero.
func (l *Layout) Sub(variable string) (*Layout, error) {
	s, ok := l.Segment(variable)
	if !ok {
		return nil, unknownVariable(variable)
	}
	s.Offset = 0
	return &Layout{Segments: []Segment{s}, dim: len(s.Levels)}, nil
}

// Decode splits x into an ordered factor table.
func (l *Layout) Decode(x []float64) (FactorTable, error) {
	if len(x) != l.dim {
		return nil, dimensionMismatch(len(x), l.dim)
	}
	table := make(FactorTable, 0, len(l.Segments))
	for _, s := range l.Segments {
		vf := VariableFactors{Variable: s.Variable, Levels: make([]LevelFactor, len(s.Levels))}
		for j, level := range s.Levels {
			vf.Levels[j] = LevelFactor{Level: level, Factor: x[s.Offset+j]}
		}
		table = append(table, vf)
	}
	return table, nil
}

// Encode flattens a factor table in layout order.
func (l *Layout) Encode(table FactorTable) ([]float64, error) {
	x := make([]float64, l.dim)
	for _, s := range l.Segments {
		for j, level := range s.Levels {
			f, ok := table.Factor(s.Variable, level)
			if !ok {
				return nil, apperrors.NewDataValidationError(
					fmt.Sprintf("no factor for level %q of %q", level, s.Variable))
			}
			x[s.Offset+j] = f
		}
	}
	return x, nil
}

// Ones returns the neutral vector.
func (l *Layout) Ones() []float64 {
	x := make([]float64, l.dim)
	for i := range x {
		x[i] = 1
	}
	return x
}

// slots maps each row of ds onto its vector index for the segment. A dataset
// level missing from the segment is an unmapped lookup.
func (s Segment) slots(ds *Dataset) ([]int, error) {
	codes, ok := ds.levelCodes(s.Variable)
	if !ok {
		return nil, unknownVariable(s.Variable)
	}
	position := make(map[string]int, len(s.Levels))
	for j, level := range s.Levels {
		position[level] = j
	}
	levels := ds.levels[s.Variable]
	byCode := make([]int, len(levels))
	for c, level := range levels {
		j, ok := position[level]
		if !ok {
			return nil, apperrors.NewDataValidationError(
				fmt.Sprintf("level %q of %q is not in the factor layout", level, s.Variable)).
				WithContext("variable", s.Variable).
				WithContext("level", level)
		}
		byCode[c] = s.Offset + j
	}
	out := make([]int, len(codes))
	for i, c := range codes {
		out[i] = byCode[c]
	}
	return out, nil
}

func dimensionMismatch(got, want int) error {
	return apperrors.NewDataValidationError(
		fmt.Sprintf("factor vector has %d entries, layout expects %d", got, want))
}
