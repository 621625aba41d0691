package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ratecal/internal/errors"
)

func TestNewDataset_Validation(t *testing.T) {
	tests := []struct {
		name    string
		records func() []Record
		spec    func() DatasetSpec
		errType apperrors.ErrorType
	}{
		{
			name:    "sequential and grouped",
			records: scenarioRecords,
			spec: func() DatasetSpec {
				s := scenarioSpec(ModeSequential)
				s.Grouped = true
				return s
			},
			errType: apperrors.ErrTypeConfiguration,
		},
		{
			name:    "unknown mode",
			records: scenarioRecords,
			spec:    func() DatasetSpec { return scenarioSpec("parallel") },
			errType: apperrors.ErrTypeConfiguration,
		},
		{
			name:    "duplicate variable",
			records: scenarioRecords,
			spec:    func() DatasetSpec { return scenarioSpec(ModeJoint, "region", "region") },
			errType: apperrors.ErrTypeConfiguration,
		},
		{
			name:    "no records",
			records: func() []Record { return nil },
			spec:    func() DatasetSpec { return scenarioSpec(ModeJoint) },
			errType: apperrors.ErrTypeDataValidation,
		},
		{
			name: "missing rating variable",
			records: func() []Record {
				r := scenarioRecords()
				delete(r[2].Categories, "region")
				return r
			},
			spec:    func() DatasetSpec { return scenarioSpec(ModeJoint) },
			errType: apperrors.ErrTypeDataValidation,
		},
		{
			name: "NaN actual",
			records: func() []Record {
				r := scenarioRecords()
				r[1].Numbers["actual"] = math.NaN()
				return r
			},
			spec:    func() DatasetSpec { return scenarioSpec(ModeJoint) },
			errType: apperrors.ErrTypeDataValidation,
		},
		{
			name: "missing expected",
			records: func() []Record {
				r := scenarioRecords()
				delete(r[0].Numbers, "expected")
				return r
			},
			spec:    func() DatasetSpec { return scenarioSpec(ModeJoint) },
			errType: apperrors.ErrTypeDataValidation,
		},
		{
			name: "zero total expected",
			records: func() []Record {
				r := scenarioRecords()
				for i := range r {
					r[i].Numbers["expected"] = 0
				}
				return r
			},
			spec:    func() DatasetSpec { return scenarioSpec(ModeJoint) },
			errType: apperrors.ErrTypeDataValidation,
		},
		{
			name: "weight field in some records only",
			records: func() []Record {
				r := scenarioRecords()
				delete(r[3].Numbers, "life_years")
				return r
			},
			spec: func() DatasetSpec {
				s := scenarioSpec(ModeJoint)
				s.WeightField = "life_years"
				return s
			},
			errType: apperrors.ErrTypeDataValidation,
		},
		{
			name: "infinite weight",
			records: func() []Record {
				r := scenarioRecords()
				r[0].Numbers["life_years"] = math.Inf(1)
				return r
			},
			spec: func() DatasetSpec {
				s := scenarioSpec(ModeJoint)
				s.WeightField = "life_years"
				return s
			},
			errType: apperrors.ErrTypeDataValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := NewDataset(tt.records(), tt.spec())
			require.Error(t, err)
			assert.Nil(t, ds)
			assert.True(t, apperrors.IsType(err, tt.errType), "got %v", err)
		})
	}
}

func TestDataset_LevelsFirstSeen(t *testing.T) {
	ds := mustDataset(t, scenarioRecords(), scenarioSpec(ModeJoint, "tier", "region"))

	assert.Equal(t, []string{"X", "Y"}, ds.Levels("region"))
	assert.Equal(t, []string{"A", "B"}, ds.Levels("tier"))
	assert.Equal(t, []string{"tier", "region"}, ds.Variables())
	assert.Empty(t, ds.Levels("unknown"))
}

func TestDataset_RatioAndDeviation(t *testing.T) {
	ds := mustDataset(t, scenarioRecords(), scenarioSpec(ModeSequential))

	assert.Equal(t, 4, ds.Len())
	assert.InDelta(t, 1.0, ds.InitialRatio(), 1e-12)
	assert.InDelta(t, 1.0, ds.Ratio(), 1e-12)
	assert.InDelta(t, 30.0, ds.Deviation(), 1e-9)
}

func TestDataset_ApplyFactorsIsSnapshot(t *testing.T) {
	ds := mustDataset(t, scenarioRecords(), scenarioSpec(ModeSequential))

	next, err := ds.ApplyFactors("region", map[string]float64{"X": 1.1, "Y": 0.8})
	require.NoError(t, err)

	assert.Equal(t, []float64{100, 100, 100, 100}, ds.Expected(), "receiver must not change")
	assert.InDeltaSlice(t, []float64{110, 80, 80, 110}, next.Expected(), 1e-12)
	assert.Equal(t, ds.InitialRatio(), next.InitialRatio())
	assert.InDelta(t, 400.0/380.0, next.Ratio(), 1e-12)

	again, err := next.ApplyFactors("region", map[string]float64{"X": 2, "Y": 2})
	require.NoError(t, err)
	assert.Equal(t, ds.InitialRatio(), again.InitialRatio())
}

func TestDataset_ApplyFactorsErrors(t *testing.T) {
	ds := mustDataset(t, scenarioRecords(), scenarioSpec(ModeSequential))

	_, err := ds.ApplyFactors("tier", map[string]float64{"A": 1})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeDataValidation))

	_, err = ds.ApplyFactors("region", map[string]float64{"X": 1})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeDataValidation))
	assert.Contains(t, err.Error(), `"Y"`)

	_, err = ds.ApplyFactors("region", map[string]float64{"X": 1, "Y": math.NaN()})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNumeric))
}

func TestDataset_Column(t *testing.T) {
	records := scenarioRecords()
	records[0].Numbers["premium"] = 5
	ds := mustDataset(t, records, scenarioSpec(ModeSequential))

	col, err := ds.Column("life_years")
	require.NoError(t, err)
	assert.Equal(t, []float64{1000, 1000, 1000, 1000}, col)

	_, err = ds.Column("premium")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeDataValidation))

	_, err = ds.Column("missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))

	assert.Equal(t, []string{"actual", "expected", "life_years"}, ds.Columns())
}

func TestDataset_LevelSums(t *testing.T) {
	ds := mustDataset(t, scenarioRecords(), scenarioSpec(ModeSequential))

	actual, expected, err := ds.LevelSums("region")
	require.NoError(t, err)
	assert.Equal(t, []float64{215, 185}, actual)
	assert.Equal(t, []float64{200, 200}, expected)
}
