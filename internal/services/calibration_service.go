package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ratecal/internal/calibration"
	"ratecal/internal/config"
	apperrors "ratecal/internal/errors"
	"ratecal/internal/exporter"
	"ratecal/internal/infrastructure"
)

// ProgressBroadcaster fans progress events out to observers of a run.
type ProgressBroadcaster interface {
	BroadcastProgress(runID string, event calibration.ProgressEvent)
}

// RunRequest is everything needed to calibrate one dataset.
type RunRequest struct {
	Records []calibration.Record
	Source  string
	Spec    calibration.DatasetSpec
	Options calibration.Options
	// Export writes the report files into the run's report directory.
	Export bool
}

// CalibrationService runs calibrations synchronously for the CLI and in the
// background for the HTTP API.
type CalibrationService struct {
	store       *MemoryRunStore
	optimizer   calibration.Optimizer
	reports     *exporter.ReportExporter
	paths       *config.Paths
	broadcaster ProgressBroadcaster
	metrics     *infrastructure.BusinessMetrics
	logger      *slog.Logger
	tracer      trace.Tracer

	runTimeout time.Duration
	maxActive  int
	now        func() time.Time

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
	baseCtx  context.Context
	stopBase context.CancelFunc
}

// ServiceOption customizes a CalibrationService.
type ServiceOption func(*CalibrationService)

// WithBroadcaster sends progress events to b.
func WithBroadcaster(b ProgressBroadcaster) ServiceOption {
	return func(s *CalibrationService) { s.broadcaster = b }
}

// WithMetrics records run metrics.
func WithMetrics(m *infrastructure.BusinessMetrics) ServiceOption {
	return func(s *CalibrationService) { s.metrics = m }
}

// WithReports enables report export.
func WithReports(paths *config.Paths, reports *exporter.ReportExporter) ServiceOption {
	return func(s *CalibrationService) {
		s.paths = paths
		s.reports = reports
	}
}

// WithRunLimits bounds a background run's wall time and the number of runs
// in flight. Zero leaves a limit off.
func WithRunLimits(timeout time.Duration, maxActive int) ServiceOption {
	return func(s *CalibrationService) {
		s.runTimeout = timeout
		s.maxActive = maxActive
	}
}

// NewCalibrationService creates the run service.
func NewCalibrationService(store *MemoryRunStore, optimizer calibration.Optimizer, logger *slog.Logger, opts ...ServiceOption) *CalibrationService {
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	s := &CalibrationService{
		store:     store,
		optimizer: optimizer,
		logger:    logger.With(slog.String("component", "calibration_service")),
		tracer:    otel.Tracer("ratecal.services"),
		now:       time.Now,
		cancels:   make(map[string]context.CancelFunc),
		baseCtx:   base,
		stopBase:  stop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// prepared is a validated request ready to run.
type prepared struct {
	run    *Run
	driver *calibration.Driver
	export bool
}

// prepare validates the request and computes bounds so bad input fails
// before any background work starts.
func (s *CalibrationService) prepare(req RunRequest, progress calibration.ProgressHandler) (*prepared, error) {
	ds, err := calibration.NewDataset(req.Records, req.Spec)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	opts := []calibration.DriverOption{
		calibration.WithLogger(s.logger.With(slog.String("run_id", id))),
	}
	if progress != nil {
		opts = append(opts, calibration.WithProgressHandler(progress))
	}
	driver, err := calibration.NewDriver(ds, s.optimizer, req.Options, opts...)
	if err != nil {
		return nil, err
	}

	return &prepared{
		run: &Run{
			ID:        id,
			Status:    RunStatusQueued,
			Source:    req.Source,
			Rows:      ds.Len(),
			Spec:      ds.Spec(),
			Options:   req.Options,
			CreatedAt: s.now().UTC(),
		},
		driver: driver,
		export: req.Export,
	}, nil
}

// Calibrate runs a request to completion on the caller's goroutine. The run
// is recorded in the store like a background run.
func (s *CalibrationService) Calibrate(ctx context.Context, req RunRequest, progress calibration.ProgressHandler) (*Run, error) {
	var runID string
	handler := func(ev calibration.ProgressEvent) {
		s.observe(runID, ev)
		if progress != nil {
			progress(ev)
		}
	}
	p, err := s.prepare(req, handler)
	if err != nil {
		return nil, err
	}
	runID = p.run.ID
	if err := s.store.Create(p.run); err != nil {
		return nil, err
	}
	return s.execute(ctx, p)
}

// Submit validates the request, stores a queued run and calibrates it in the
// background. The returned run is a snapshot.
func (s *CalibrationService) Submit(ctx context.Context, req RunRequest) (*Run, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServiceUnavailable
	}
	if s.maxActive > 0 && s.store.Active() >= s.maxActive {
		s.mu.Unlock()
		return nil, ErrTooManyRuns
	}
	s.mu.Unlock()

	var runID string
	p, err := s.prepare(req, func(ev calibration.ProgressEvent) { s.observe(runID, ev) })
	if err != nil {
		return nil, err
	}
	runID = p.run.ID

	if err := s.store.Create(p.run); err != nil {
		return nil, err
	}

	runCtx := trace.ContextWithSpanContext(s.baseCtx, trace.SpanContextFromContext(ctx))
	if traceID := infrastructure.GetTraceID(ctx); traceID != "" {
		runCtx = infrastructure.WithTraceID(runCtx, traceID)
	}
	var cancel context.CancelFunc
	if s.runTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, s.runTimeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}

	s.mu.Lock()
	s.cancels[runID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RunsSubmitted.Add(ctx, 1)
	}
	s.logger.InfoContext(ctx, "Run submitted",
		slog.String("run_id", runID),
		slog.String("source", req.Source),
		slog.Int("rows", p.run.Rows))

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, runID)
			s.mu.Unlock()
			cancel()
		}()
		_, _ = s.execute(runCtx, p)
	}()

	return p.run.clone(), nil
}

// execute runs a prepared driver and records the outcome.
func (s *CalibrationService) execute(ctx context.Context, p *prepared) (*Run, error) {
	runID := p.run.ID
	mode := string(p.run.Spec.Mode)
	ctx = infrastructure.WithRunID(ctx, runID)
	ctx, span := s.tracer.Start(ctx, "run.execute", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.mode", mode),
	))
	defer span.End()

	started := s.now().UTC()
	if _, err := s.store.Update(runID, func(r *Run) {
		r.Status = RunStatusRunning
		r.StartedAt = started
	}); err != nil {
		return nil, err
	}
	infrastructure.RecordActiveRunChange(ctx, s.metrics, 1, mode)
	defer infrastructure.RecordActiveRunChange(ctx, s.metrics, -1, mode)

	result, err := p.driver.Run(ctx)

	var reports []string
	if err == nil && p.export && s.reports != nil {
		reports, err = s.export(ctx, p, result, started)
	}

	infrastructure.RecordRunMetrics(ctx, s.metrics, mode, s.now().Sub(started), err)

	run, updateErr := s.store.Update(runID, func(r *Run) {
		r.FinishedAt = s.now().UTC()
		r.Result = result
		r.Reports = reports
		switch {
		case err == nil:
			r.Status = RunStatusCompleted
		case errors.Is(err, context.Canceled):
			r.Status = RunStatusCancelled
			r.Error = classify(err)
		default:
			r.Status = RunStatusFailed
			r.Error = classify(err)
		}
	})
	if updateErr != nil {
		return nil, updateErr
	}

	if err != nil {
		infrastructure.RecordError(ctx, err)
		s.logger.WarnContext(ctx, "Run did not complete",
			slog.String("status", string(run.Status)),
			slog.String("error", err.Error()))
		return run, err
	}
	s.logger.InfoContext(ctx, "Run completed",
		slog.Float64("ending_deviation", result.EndingDeviation),
		slog.Bool("converged", result.Converged),
		slog.Int("reports", len(reports)))
	return run, nil
}

func (s *CalibrationService) export(ctx context.Context, p *prepared, result *calibration.Result, started time.Time) ([]string, error) {
	dir := p.run.ID
	if s.paths != nil {
		dir = s.paths.RunReportDir(p.run.ID, started)
	}
	files, err := s.reports.ExportAll(&exporter.Report{
		RunID:  p.run.ID,
		Source: p.run.Source,
		Rows:   p.run.Rows,
		Spec:   p.run.Spec,
		Result: result,
		Bounds: p.driver.Bounds(),
	}, dir)
	if err != nil {
		return files, fmt.Errorf("export reports: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ReportsWritten.Add(ctx, int64(len(files)))
	}
	return files, nil
}

// observe keeps the latest event on the run, skipping evaluation ticks, and
// forwards every event to the broadcaster.
func (s *CalibrationService) observe(runID string, ev calibration.ProgressEvent) {
	if runID == "" {
		return
	}
	if ev.Kind != calibration.EventEvaluation {
		_, _ = s.store.Update(runID, func(r *Run) {
			e := ev
			r.Progress = &e
		})
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastProgress(runID, ev)
	}
}

// Get returns a snapshot of a run.
func (s *CalibrationService) Get(id string) (*Run, error) {
	return s.store.Get(id)
}

// List returns run snapshots, newest first.
func (s *CalibrationService) List(filter RunFilter) []*Run {
	return s.store.List(filter)
}

// Stats counts stored runs by status.
func (s *CalibrationService) Stats() map[string]int {
	return s.store.GetStats()
}

// Cancel stops a queued or running run.
func (s *CalibrationService) Cancel(id string) (*Run, error) {
	run, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if run.Status.Finished() {
		return run, ErrRunFinished
	}

	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	s.logger.Info("Run cancel requested", slog.String("run_id", id))
	return run, nil
}

// Shutdown rejects new runs, cancels the ones in flight and waits for them
// until ctx expires.
func (s *CalibrationService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stopBase()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runs: %w", ctx.Err())
	}
}

// classify turns an error into the stored error shape.
func classify(err error) *RunError {
	re := &RunError{Type: "INTERNAL", Message: err.Error()}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		re.Type = string(appErr.Type)
		re.Context = appErr.Context
	}
	switch {
	case errors.Is(err, context.Canceled):
		re.Type = "CANCELLED"
	case errors.Is(err, context.DeadlineExceeded):
		re.Type = "TIMEOUT"
	}
	return re
}
