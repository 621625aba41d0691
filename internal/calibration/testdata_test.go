package calibration

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// scenarioRecords is the four-row table with one variable: X rows are
// under-priced and Y rows over-priced by the same total.
func scenarioRecords() []Record {
	rows := []struct {
		region string
		tier   string
		actual float64
		weight float64
	}{
		{"X", "A", 110, 1000},
		{"Y", "A", 90, 1000},
		{"Y", "B", 95, 1000},
		{"X", "B", 105, 1000},
	}
	records := make([]Record, len(rows))
	for i, r := range rows {
		records[i] = Record{
			Categories: map[string]string{"region": r.region, "tier": r.tier},
			Numbers:    map[string]float64{"actual": r.actual, "expected": 100, "life_years": r.weight},
		}
	}
	return records
}

func scenarioSpec(mode Mode, variables ...string) DatasetSpec {
	if len(variables) == 0 {
		variables = []string{"region"}
	}
	return DatasetSpec{
		RatingVariables: variables,
		ActualField:     "actual",
		ExpectedField:   "expected",
		Mode:            mode,
	}
}

func mustDataset(t *testing.T, records []Record, spec DatasetSpec) *Dataset {
	t.Helper()
	ds, err := NewDataset(records, spec)
	require.NoError(t, err)
	return ds
}
