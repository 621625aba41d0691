package evolve

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratecal/internal/calibration"
	apperrors "ratecal/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func scenario(t *testing.T, mode calibration.Mode, grouped bool, variables ...string) *calibration.Dataset {
	t.Helper()
	rows := []struct {
		region, tier string
		actual       float64
	}{
		{"X", "A", 110},
		{"Y", "A", 90},
		{"Y", "B", 95},
		{"X", "B", 105},
	}
	records := make([]calibration.Record, len(rows))
	for i, r := range rows {
		records[i] = calibration.Record{
			Categories: map[string]string{"region": r.region, "tier": r.tier},
			Numbers:    map[string]float64{"actual": r.actual, "expected": 100},
		}
	}
	ds, err := calibration.NewDataset(records, calibration.DatasetSpec{
		RatingVariables: variables,
		ActualField:     "actual",
		ExpectedField:   "expected",
		Mode:            mode,
		Grouped:         grouped,
	})
	require.NoError(t, err)
	return ds
}

func seededOptions() calibration.Options {
	opts := calibration.DefaultOptions()
	opts.Optimizer.Seed = 42
	opts.Optimizer.MaxIterations = 200
	return opts
}

func TestOptimizer_EndToEndSequential(t *testing.T) {
	ds := scenario(t, calibration.ModeSequential, false, "region")

	driver, err := calibration.NewDriver(ds, New(testLogger()), seededOptions(), calibration.WithLogger(testLogger()))
	require.NoError(t, err)

	res, err := driver.Run(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 30.0, res.StartingDeviation, 1e-9)
	assert.Less(t, res.EndingDeviation, res.StartingDeviation)
	assert.GreaterOrEqual(t, res.EndingRatio, 0.95)
	assert.LessOrEqual(t, res.EndingRatio, 1.05)

	x, ok := res.Factors.Factor("region", "X")
	require.True(t, ok)
	y, ok := res.Factors.Factor("region", "Y")
	require.True(t, ok)
	assert.True(t, x >= 0.8 && x <= 1.2)
	assert.True(t, y >= 0.8 && y <= 1.2)
	assert.Greater(t, x, y, "under-priced level must move up relative to the over-priced one")
}

func TestOptimizer_EndToEndJoint(t *testing.T) {
	for _, grouped := range []bool{false, true} {
		ds := scenario(t, calibration.ModeJoint, grouped, "region", "tier")

		driver, err := calibration.NewDriver(ds, New(testLogger()), seededOptions(), calibration.WithLogger(testLogger()))
		require.NoError(t, err)

		res, err := driver.Run(context.Background())
		require.NoError(t, err)
		assert.Less(t, res.EndingDeviation, res.StartingDeviation, "grouped=%v", grouped)
		assert.GreaterOrEqual(t, res.EndingRatio, 0.95)
		assert.LessOrEqual(t, res.EndingRatio, 1.05)
		require.Len(t, res.Stages, 1)
		assert.Greater(t, res.Stages[0].Evaluations, 0)
	}
}

func TestOptimizer_Strategies(t *testing.T) {
	bounds := []calibration.Interval{{Lower: 0.8, Upper: 1.2}, {Lower: 0.8, Upper: 1.2}}
	bowl := func(x []float64) (float64, error) {
		return (x[0]-1.1)*(x[0]-1.1) + (x[1]-0.9)*(x[1]-0.9), nil
	}

	for _, strategy := range []string{StrategyCMAES, StrategyGuess, StrategyNelderMead} {
		t.Run(strategy, func(t *testing.T) {
			opts := calibration.DefaultOptimizerOptions()
			opts.Strategy = strategy
			opts.Seed = 7
			opts.MaxIterations = 100

			res, err := New(testLogger()).Optimize(context.Background(), bowl, bounds, opts)
			require.NoError(t, err)
			require.Len(t, res.X, 2)
			for i, x := range res.X {
				assert.True(t, bounds[i].Contains(x), "x[%d]=%g", i, x)
			}
			assert.Greater(t, res.Evaluations, 0)
			assert.NotEmpty(t, res.Message)
			assert.Less(t, res.F, 0.08, "must approach the minimum at (1.1, 0.9)")
		})
	}
}

func TestOptimizer_SeedIsReproducible(t *testing.T) {
	bounds := []calibration.Interval{{Lower: 0.8, Upper: 1.2}, {Lower: 0.9, Upper: 1.1}}
	f := func(x []float64) (float64, error) {
		return (x[0]-1.15)*(x[0]-1.15) + (x[1]-0.95)*(x[1]-0.95), nil
	}
	opts := calibration.DefaultOptimizerOptions()
	opts.Seed = 99
	opts.Init = calibration.InitRandom

	a, err := New(testLogger()).Optimize(context.Background(), f, bounds, opts)
	require.NoError(t, err)
	b, err := New(testLogger()).Optimize(context.Background(), f, bounds, opts)
	require.NoError(t, err)
	assert.Equal(t, a.X, b.X)
	assert.Equal(t, a.Evaluations, b.Evaluations)
}

func TestOptimizer_CollapsedBounds(t *testing.T) {
	calls := 0
	f := func(x []float64) (float64, error) {
		calls++
		return x[0] + x[1], nil
	}
	res, err := New(testLogger()).Optimize(context.Background(), f,
		[]calibration.Interval{{Lower: 1, Upper: 1}, {Lower: 1, Upper: 1}},
		calibration.DefaultOptimizerOptions())
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 1}, res.X)
	assert.Equal(t, 2.0, res.F)
	assert.True(t, res.Converged)
	assert.Equal(t, 1, calls)
}

func TestOptimizer_PartiallyCollapsedBounds(t *testing.T) {
	bounds := []calibration.Interval{{Lower: 1, Upper: 1}, {Lower: 0.8, Upper: 1.2}}
	f := func(x []float64) (float64, error) {
		return (x[1] - 1.1) * (x[1] - 1.1), nil
	}
	opts := calibration.DefaultOptimizerOptions()
	opts.Seed = 3

	res, err := New(testLogger()).Optimize(context.Background(), f, bounds, opts)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.X[0])
	assert.InDelta(t, 1.1, res.X[1], 0.02)
}

func TestOptimizer_Errors(t *testing.T) {
	ok := func(x []float64) (float64, error) { return 0, nil }
	bounds := []calibration.Interval{{Lower: 0.8, Upper: 1.2}}

	t.Run("unknown strategy", func(t *testing.T) {
		opts := calibration.DefaultOptimizerOptions()
		opts.Strategy = "best1bin"
		_, err := New(testLogger()).Optimize(context.Background(), ok, bounds, opts)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfiguration))
	})

	t.Run("no bounds", func(t *testing.T) {
		_, err := New(testLogger()).Optimize(context.Background(), ok, nil, calibration.DefaultOptimizerOptions())
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfiguration))
	})

	t.Run("objective failure aborts", func(t *testing.T) {
		failing := func(x []float64) (float64, error) {
			return 0, apperrors.NewNumericEvaluationError("ratio undefined", nil)
		}
		opts := calibration.DefaultOptimizerOptions()
		opts.Seed = 1
		_, err := New(testLogger()).Optimize(context.Background(), failing, bounds, opts)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNumeric))
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		opts := calibration.DefaultOptimizerOptions()
		opts.Seed = 1
		_, err := New(testLogger()).Optimize(ctx, ok, bounds, opts)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}
