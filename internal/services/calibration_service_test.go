package services

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratecal/internal/calibration"
	"ratecal/internal/config"
	apperrors "ratecal/internal/errors"
	"ratecal/internal/exporter"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scenarioRequest(mode calibration.Mode, grouped bool) RunRequest {
	row := func(region, tier string, actual float64) calibration.Record {
		return calibration.Record{
			Categories: map[string]string{"region": region, "tier": tier},
			Numbers:    map[string]float64{"actual": actual, "expected": 100, "life_years": 1000},
		}
	}
	return RunRequest{
		Records: []calibration.Record{
			row("X", "A", 110), row("Y", "A", 90), row("Y", "B", 95), row("X", "B", 105),
		},
		Source: "test",
		Spec: calibration.DatasetSpec{
			RatingVariables: []string{"region", "tier"},
			ActualField:     "actual",
			ExpectedField:   "expected",
			WeightField:     "life_years",
			Mode:            mode,
			Grouped:         grouped,
		},
		Options: calibration.DefaultOptions(),
	}
}

// midpointOptimizer evaluates the centre of the box once.
var midpointOptimizer = calibration.OptimizerFunc(func(ctx context.Context, f calibration.ObjectiveFunc, bounds []calibration.Interval, _ calibration.OptimizerOptions) (*calibration.OptimizeResult, error) {
	x := make([]float64, len(bounds))
	for i, b := range bounds {
		x[i] = (b.Lower + b.Upper) / 2
	}
	v, err := f(x)
	if err != nil {
		return nil, err
	}
	return &calibration.OptimizeResult{X: x, F: v, Converged: true, Message: "midpoint", Iterations: 1, Evaluations: 1}, nil
})

// blockingOptimizer waits for cancellation.
var blockingOptimizer = calibration.OptimizerFunc(func(ctx context.Context, _ calibration.ObjectiveFunc, _ []calibration.Interval, _ calibration.OptimizerOptions) (*calibration.OptimizeResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
})

type recordingBroadcaster struct {
	mu     sync.Mutex
	events map[string][]string
}

func (b *recordingBroadcaster) BroadcastProgress(runID string, ev calibration.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events == nil {
		b.events = make(map[string][]string)
	}
	b.events[runID] = append(b.events[runID], ev.Kind)
}

func (b *recordingBroadcaster) kinds(runID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events[runID]...)
}

func TestCalibrate(t *testing.T) {
	paths, err := config.ResolvePaths(config.PathsConfig{ReportsDir: "reports", LogsDir: "logs"}, t.TempDir())
	require.NoError(t, err)

	store := NewMemoryRunStore(10)
	svc := NewCalibrationService(store, midpointOptimizer, quietLogger(),
		WithReports(paths, exporter.NewReportExporter(paths, exporter.DefaultPrecision, quietLogger())))

	req := scenarioRequest(calibration.ModeSequential, false)
	req.Export = true

	var kinds []string
	run, err := svc.Calibrate(context.Background(), req, func(ev calibration.ProgressEvent) {
		kinds = append(kinds, ev.Kind)
	})
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, 4, run.Rows)
	require.NotNil(t, run.Result)
	assert.InDelta(t, 30.0, run.Result.StartingDeviation, 1e-9)
	assert.Len(t, run.Result.Stages, 2)
	require.Len(t, run.Reports, 5)
	for _, f := range run.Reports {
		_, err := os.Stat(f)
		assert.NoError(t, err)
	}
	require.NotNil(t, run.Progress)
	assert.Equal(t, calibration.EventRunCompleted, run.Progress.Kind)

	assert.Equal(t, calibration.EventRunStarted, kinds[0])
	assert.Equal(t, calibration.EventRunCompleted, kinds[len(kinds)-1])

	stored, err := svc.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, stored.Status)
}

func TestCalibrateRejectsBadInput(t *testing.T) {
	store := NewMemoryRunStore(10)
	svc := NewCalibrationService(store, midpointOptimizer, quietLogger())

	tests := []struct {
		name    string
		mutate  func(*RunRequest)
		errType apperrors.ErrorType
	}{
		{"sequential grouped", func(r *RunRequest) { r.Spec.Grouped = true }, apperrors.ErrTypeConfiguration},
		{"missing actual", func(r *RunRequest) { delete(r.Records[1].Numbers, "actual") }, apperrors.ErrTypeDataValidation},
		{"credibility without weight", func(r *RunRequest) {
			r.Spec.WeightField = ""
			r.Options.Credibility.Enabled = true
		}, apperrors.ErrTypeCredibility},
		{"bad optimizer options", func(r *RunRequest) { r.Options.Optimizer.MaxIterations = 0 }, apperrors.ErrTypeConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := scenarioRequest(calibration.ModeSequential, false)
			tt.mutate(&req)
			_, err := svc.Calibrate(context.Background(), req, nil)
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, tt.errType), "got %v", err)
		})
	}
	assert.Empty(t, store.List(RunFilter{}))
}

func TestSubmit(t *testing.T) {
	b := &recordingBroadcaster{}
	svc := NewCalibrationService(NewMemoryRunStore(10), midpointOptimizer, quietLogger(), WithBroadcaster(b))

	run, err := svc.Submit(context.Background(), scenarioRequest(calibration.ModeJoint, true))
	require.NoError(t, err)
	assert.Equal(t, RunStatusQueued, run.Status)

	require.Eventually(t, func() bool {
		r, err := svc.Get(run.ID)
		return err == nil && r.Status == RunStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	done, err := svc.Get(run.ID)
	require.NoError(t, err)
	assert.True(t, done.Result.Grouped)
	require.Len(t, done.Result.Stages, 1)

	kinds := b.kinds(run.ID)
	require.NotEmpty(t, kinds)
	assert.Equal(t, calibration.EventRunStarted, kinds[0])
	assert.Equal(t, calibration.EventRunCompleted, kinds[len(kinds)-1])

	require.NoError(t, svc.Shutdown(context.Background()))
	_, err = svc.Submit(context.Background(), scenarioRequest(calibration.ModeJoint, false))
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestCancel(t *testing.T) {
	svc := NewCalibrationService(NewMemoryRunStore(10), blockingOptimizer, quietLogger(), WithRunLimits(0, 1))

	run, err := svc.Submit(context.Background(), scenarioRequest(calibration.ModeJoint, false))
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), scenarioRequest(calibration.ModeJoint, false))
	assert.ErrorIs(t, err, ErrTooManyRuns)

	require.Eventually(t, func() bool {
		r, err := svc.Get(run.ID)
		return err == nil && r.Status == RunStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	_, err = svc.Cancel(run.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, err := svc.Get(run.ID)
		return err == nil && r.Status == RunStatusCancelled
	}, 5*time.Second, 10*time.Millisecond)

	cancelled, err := svc.Get(run.ID)
	require.NoError(t, err)
	require.NotNil(t, cancelled.Error)
	assert.Equal(t, "CANCELLED", cancelled.Error.Type)
	assert.Nil(t, cancelled.Result)

	_, err = svc.Cancel(run.ID)
	assert.ErrorIs(t, err, ErrRunFinished)

	_, err = svc.Cancel("missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
}

func TestRunTimeout(t *testing.T) {
	svc := NewCalibrationService(NewMemoryRunStore(10), blockingOptimizer, quietLogger(), WithRunLimits(20*time.Millisecond, 0))

	run, err := svc.Submit(context.Background(), scenarioRequest(calibration.ModeSequential, false))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		r, err := svc.Get(run.ID)
		return err == nil && r.Status == RunStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	failed, err := svc.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "TIMEOUT", failed.Error.Type)
	assert.Contains(t, failed.Error.Message, "region")
}

func TestShutdownWaitsForRuns(t *testing.T) {
	svc := NewCalibrationService(NewMemoryRunStore(10), blockingOptimizer, quietLogger())
	run, err := svc.Submit(context.Background(), scenarioRequest(calibration.ModeJoint, false))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	r, err := svc.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCancelled, r.Status)
}
