package calibration

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	apperrors "ratecal/internal/errors"
)

// Dataset is an immutable snapshot of the calibration table. Advancing the
// calibration produces a new snapshot through ApplyFactors; the level
// inventory, actual column and initial ratio are shared by every snapshot.
type Dataset struct {
	spec      DatasetSpec
	variables []string
	levels    map[string][]string
	codes     map[string][]int
	actual    []float64
	expected  []float64
	columns   map[string][]float64
	partial   map[string]int

	totalActual  float64
	initialRatio float64
}

// NewDataset validates records against spec and builds the first snapshot.
func NewDataset(records []Record, spec DatasetSpec) (*Dataset, error) {
	if err := validateDatasetSpec(spec); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperrors.NewDataValidationError("dataset has no records")
	}

	n := len(records)
	ds := &Dataset{
		spec:      spec,
		variables: append([]string(nil), spec.RatingVariables...),
		levels:    make(map[string][]string, len(spec.RatingVariables)),
		codes:     make(map[string][]int, len(spec.RatingVariables)),
		actual:    make([]float64, n),
		expected:  make([]float64, n),
		columns:   make(map[string][]float64),
		partial:   make(map[string]int),
	}

	index := make(map[string]map[string]int, len(ds.variables))
	for _, v := range ds.variables {
		index[v] = make(map[string]int)
		ds.codes[v] = make([]int, n)
	}

	seen := make(map[string]int)
	for i, rec := range records {
		for _, v := range ds.variables {
			value, ok := rec.Categories[v]
			if !ok || value == "" {
				return nil, missingValue(i, v)
			}
			code, ok := index[v][value]
			if !ok {
				code = len(ds.levels[v])
				index[v][value] = code
				ds.levels[v] = append(ds.levels[v], value)
			}
			ds.codes[v][i] = code
		}

		a, err := requireFinite(rec, i, spec.ActualField)
		if err != nil {
			return nil, err
		}
		e, err := requireFinite(rec, i, spec.ExpectedField)
		if err != nil {
			return nil, err
		}
		ds.actual[i], ds.expected[i] = a, e

		for name := range rec.Numbers {
			seen[name]++
		}
	}

	for name, count := range seen {
		if name == spec.ActualField || name == spec.ExpectedField {
			continue
		}
		if count < n {
			ds.partial[name] = count
			continue
		}
		col := make([]float64, n)
		for i, rec := range records {
			col[i] = rec.Numbers[name]
		}
		ds.columns[name] = col
	}

	if w := spec.WeightField; w != "" {
		if count, ok := ds.partial[w]; ok {
			return nil, apperrors.NewDataValidationError(
				fmt.Sprintf("weight field %q present in %d of %d records", w, count, n))
		}
		for i, x := range ds.columns[w] {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, missingValue(i, w)
			}
		}
	}

	ds.totalActual = floats.Sum(ds.actual)
	totalExpected := floats.Sum(ds.expected)
	if totalExpected == 0 || math.IsNaN(totalExpected) || math.IsInf(totalExpected, 0) {
		return nil, apperrors.NewDataValidationError(
			fmt.Sprintf("total expected %g cannot anchor a ratio", totalExpected))
	}
	ds.initialRatio = ds.totalActual / totalExpected

	return ds, nil
}

func validateDatasetSpec(spec DatasetSpec) error {
	if !spec.Mode.Valid() {
		return apperrors.NewConfigurationError(fmt.Sprintf("unknown mode %q", spec.Mode))
	}
	if spec.Mode == ModeSequential && spec.Grouped {
		return apperrors.NewConfigurationError("grouped deviation only applies to joint mode")
	}
	if len(spec.RatingVariables) == 0 {
		return apperrors.NewConfigurationError("at least one rating variable is required")
	}
	if spec.ActualField == "" || spec.ExpectedField == "" {
		return apperrors.NewConfigurationError("actual and expected fields are required")
	}
	if spec.ActualField == spec.ExpectedField {
		return apperrors.NewConfigurationError("actual and expected fields must differ")
	}
	seen := make(map[string]bool, len(spec.RatingVariables))
	for _, v := range spec.RatingVariables {
		if v == "" {
			return apperrors.NewConfigurationError("rating variable name is empty")
		}
		if seen[v] {
			return apperrors.NewConfigurationError(fmt.Sprintf("rating variable %q listed twice", v))
		}
		seen[v] = true
	}
	return nil
}

func requireFinite(rec Record, row int, field string) (float64, error) {
	x, ok := rec.Numbers[field]
	if !ok || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, missingValue(row, field)
	}
	return x, nil
}

func missingValue(row int, field string) error {
	return apperrors.NewDataValidationError(fmt.Sprintf("row %d: missing value in %q", row, field)).
		WithContext("row", row).
		WithContext("field", field)
}

// Spec returns the configuration the dataset was built with.
func (d *Dataset) Spec() DatasetSpec { return d.spec }

// Mode returns the calibration mode.
func (d *Dataset) Mode() Mode { return d.spec.Mode }

// Grouped reports whether deviation is aggregated per level.
func (d *Dataset) Grouped() bool { return d.spec.Grouped }

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.actual) }

// Variables returns the rating variables in caller order.
func (d *Dataset) Variables() []string {
	return append([]string(nil), d.variables...)
}

// Levels returns the distinct values of variable in first-seen order. The
// order defines the positional mapping of every flat factor vector.
func (d *Dataset) Levels(variable string) []string {
	return append([]string(nil), d.levels[variable]...)
}

// InitialRatio returns sum(actual)/sum(expected) as of construction.
func (d *Dataset) InitialRatio() float64 { return d.initialRatio }

// TotalActual returns sum(actual).
func (d *Dataset) TotalActual() float64 { return d.totalActual }

// TotalExpected returns sum(expected) of this snapshot.
func (d *Dataset) TotalExpected() float64 { return floats.Sum(d.expected) }

// Ratio returns the current aggregate actual-to-expected ratio.
func (d *Dataset) Ratio() float64 {
	return d.totalActual / d.TotalExpected()
}

// Deviation returns sum(|expected*ratio - actual|) for this snapshot.
func (d *Dataset) Deviation() float64 {
	ratio := d.Ratio()
	var dev float64
	for i, e := range d.expected {
		dev += math.Abs(e*ratio - d.actual[i])
	}
	return dev
}

// Actual returns a copy of the actual column.
func (d *Dataset) Actual() []float64 {
	return append([]float64(nil), d.actual...)
}

// Expected returns a copy of this snapshot's expected column.
func (d *Dataset) Expected() []float64 {
	return append([]float64(nil), d.expected...)
}

// Column returns a copy of a numeric column present in every record.
func (d *Dataset) Column(name string) ([]float64, error) {
	switch name {
	case d.spec.ActualField:
		return d.Actual(), nil
	case d.spec.ExpectedField:
		return d.Expected(), nil
	}
	if col, ok := d.columns[name]; ok {
		return append([]float64(nil), col...), nil
	}
	if count, ok := d.partial[name]; ok {
		return nil, apperrors.NewDataValidationError(
			fmt.Sprintf("column %q present in %d of %d records", name, count, d.Len()))
	}
	return nil, apperrors.NewNotFoundError(fmt.Sprintf("column %q", name))
}

// Columns lists the numeric columns available to Column, sorted.
func (d *Dataset) Columns() []string {
	names := []string{d.spec.ActualField, d.spec.ExpectedField}
	for name := range d.columns {
		names = append(names, name)
	}
	sort.Strings(names[2:])
	return names
}

// LevelSums returns per-level sums of actual and current expected for variable,
// indexed in level order.
func (d *Dataset) LevelSums(variable string) (actual, expected []float64, err error) {
	codes, ok := d.codes[variable]
	if !ok {
		return nil, nil, unknownVariable(variable)
	}
	k := len(d.levels[variable])
	actual = make([]float64, k)
	expected = make([]float64, k)
	for i, c := range codes {
		actual[c] += d.actual[i]
		expected[c] += d.expected[i]
	}
	return actual, expected, nil
}

// ApplyFactors returns a new snapshot whose expected values are multiplied by
// the factor of each row's level of variable. The receiver is unchanged.
func (d *Dataset) ApplyFactors(variable string, factors map[string]float64) (*Dataset, error) {
	codes, ok := d.codes[variable]
	if !ok {
		return nil, unknownVariable(variable)
	}
	levels := d.levels[variable]
	byCode := make([]float64, len(levels))
	for c, level := range levels {
		f, ok := factors[level]
		if !ok {
			return nil, apperrors.NewDataValidationError(
				fmt.Sprintf("no factor for level %q of %q", level, variable)).
				WithContext("variable", variable).
				WithContext("level", level)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, apperrors.NewNumericEvaluationError(
				fmt.Sprintf("factor for level %q of %q is not finite", level, variable), nil)
		}
		byCode[c] = f
	}

	next := *d
	next.expected = make([]float64, len(d.expected))
	for i, e := range d.expected {
		next.expected[i] = e * byCode[codes[i]]
	}
	return &next, nil
}

func (d *Dataset) levelCodes(variable string) ([]int, bool) {
	codes, ok := d.codes[variable]
	return codes, ok
}

func unknownVariable(variable string) error {
	return apperrors.NewDataValidationError(fmt.Sprintf("unknown rating variable %q", variable)).
		WithContext("variable", variable)
}
