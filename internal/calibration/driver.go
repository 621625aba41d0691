package calibration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "ratecal/internal/errors"
)

// State is the driver's lifecycle position.
type State string

const (
	StateIdle            State = "idle"
	StateBoundsComputed  State = "bounds_computed"
	StateSequentialStage State = "sequential_stage"
	StateJointRunning    State = "joint_running"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Progress event kinds.
const (
	EventRunStarted     = "run_started"
	EventStageStarted   = "stage_started"
	EventEvaluation     = "evaluation"
	EventStageCompleted = "stage_completed"
	EventRunCompleted   = "run_completed"
	EventRunFailed      = "run_failed"
)

// ProgressEvent describes a step of a run for observers.
type ProgressEvent struct {
	Kind        string    `json:"kind"`
	State       State     `json:"state"`
	Stage       int       `json:"stage"`
	Stages      int       `json:"stages"`
	Variables   []string  `json:"variables,omitempty"`
	Evaluations int64     `json:"evaluations,omitempty"`
	Score       float64   `json:"score,omitempty"`
	Deviation   float64   `json:"deviation,omitempty"`
	Ratio       float64   `json:"ratio,omitempty"`
	Converged   bool      `json:"converged,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ProgressHandler receives progress events. It is called from the driver's
// goroutine and, for evaluation events, from optimizer workers.
type ProgressHandler func(ProgressEvent)

// DriverOption customizes a Driver.
type DriverOption func(*Driver)

// WithLogger sets the driver's logger.
func WithLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithProgressHandler subscribes h to run progress.
func WithProgressHandler(h ProgressHandler) DriverOption {
	return func(d *Driver) { d.progress = h }
}

// WithClock replaces time.Now for run timestamps.
func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// Driver runs the configured calibration strategy. It owns the single
// mutable reference to the current dataset snapshot and advances it after
// each committed stage.
type Driver struct {
	mu        sync.Mutex
	state     State
	stage     int
	current   *Dataset
	bounds    *BoundSet
	optimizer Optimizer
	opts      Options
	logger    *slog.Logger
	progress  ProgressHandler
	now       func() time.Time
	telemetry *telemetry
}

// NewDriver validates opts and computes the search bounds for ds.
func NewDriver(ds *Dataset, optimizer Optimizer, opts Options, options ...DriverOption) (*Driver, error) {
	if ds == nil {
		return nil, apperrors.NewConfigurationError("dataset is required")
	}
	if optimizer == nil {
		return nil, apperrors.NewConfigurationError("optimizer is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	d := &Driver{
		state:     StateIdle,
		current:   ds,
		optimizer: optimizer,
		opts:      opts,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range options {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("component", "calibration_driver"))
	d.telemetry = newTelemetry(d.logger)

	if err := d.computeBounds(); err != nil {
		return nil, err
	}
	return d, nil
}

// SetCredibility replaces the credibility options and recomputes bounds.
// It is only allowed before Run.
func (d *Driver) SetCredibility(c CredibilityOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateBoundsComputed && d.state != StateIdle {
		return apperrors.NewConfigurationError(fmt.Sprintf("credibility cannot change in state %s", d.state))
	}
	if err := validateCredibilityOptions(c); err != nil {
		return err
	}
	previous := d.opts.Credibility
	d.opts.Credibility = c
	if err := d.computeBounds(); err != nil {
		d.opts.Credibility = previous
		return err
	}
	return nil
}

func (d *Driver) computeBounds() error {
	c := d.opts.Credibility
	weightField := c.WeightField
	if weightField == "" {
		weightField = d.current.Spec().WeightField
	}
	switch {
	case c.Enabled && weightField == "":
		d.logger.Warn("credibility enabled but no weight field configured")
	case !c.Enabled && weightField != "":
		d.logger.Warn("weight field ignored because credibility is disabled",
			slog.String("weight_field", weightField))
	case !c.Enabled:
		d.logger.Info("credibility disabled, every level moves within the default interval",
			slog.String("interval", c.DefaultInterval.String()))
	}

	bounds, err := ComputeBounds(d.current, c)
	if err != nil {
		return fmt.Errorf("compute bounds: %w", err)
	}
	d.bounds = bounds
	d.state = StateBoundsComputed
	return nil
}

// State returns the lifecycle state and, during a sequential run, the
// zero-based stage index.
func (d *Driver) State() (State, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, d.stage
}

// Bounds returns the bounds computed for the run.
func (d *Driver) Bounds() *BoundSet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bounds
}

// Dataset returns the current snapshot.
func (d *Driver) Dataset() *Dataset {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Options returns the driver's options.
func (d *Driver) Options() Options { return d.opts }

// Run executes the strategy selected by the dataset mode. A driver runs once.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	d.mu.Lock()
	if d.state != StateBoundsComputed {
		state := d.state
		d.mu.Unlock()
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("driver cannot run in state %s", state))
	}
	ds := d.current
	d.mu.Unlock()

	res := &Result{
		Mode:              ds.Mode(),
		Grouped:           ds.Grouped(),
		Credibility:       d.opts.Credibility.Enabled,
		InitialRatio:      ds.InitialRatio(),
		StartingRatio:     ds.Ratio(),
		StartingDeviation: ds.Deviation(),
		Converged:         true,
		StartedAt:         d.now(),
	}

	ctx, span := d.telemetry.startRun(ctx, ds)

	stages := len(ds.Variables())
	if ds.Mode() == ModeJoint {
		stages = 1
	}
	d.logger.InfoContext(ctx, "starting calibration",
		slog.String("mode", string(ds.Mode())),
		slog.Bool("grouped", ds.Grouped()),
		slog.Bool("credibility", res.Credibility),
		slog.Int("rows", ds.Len()),
		slog.Float64("starting_deviation", res.StartingDeviation),
		slog.Float64("starting_ratio", res.StartingRatio),
		slog.Time("started_at", res.StartedAt),
	)
	d.emit(ProgressEvent{
		Kind:      EventRunStarted,
		State:     StateBoundsComputed,
		Stages:    stages,
		Variables: ds.Variables(),
		Deviation: res.StartingDeviation,
		Ratio:     res.StartingRatio,
	})

	var err error
	if ds.Mode() == ModeSequential {
		err = d.runSequential(ctx, res)
	} else {
		err = d.runJoint(ctx, res)
	}
	res.FinishedAt = d.now()

	d.mu.Lock()
	final := d.current
	if err != nil {
		d.state = StateFailed
	} else {
		d.state = StateDone
	}
	d.mu.Unlock()

	d.telemetry.endRun(ctx, span, ds, res, err)

	if err != nil {
		d.logger.ErrorContext(ctx, "calibration failed", slog.String("error", err.Error()))
		d.emit(ProgressEvent{Kind: EventRunFailed, State: StateFailed, Stages: stages, Message: err.Error()})
		return nil, err
	}

	res.EndingRatio = final.Ratio()
	d.logger.InfoContext(ctx, "calibration completed",
		slog.Float64("ending_ratio", res.EndingRatio),
		slog.Float64("ending_deviation", res.EndingDeviation),
		slog.Bool("converged", res.Converged),
		slog.Duration("duration", res.Duration()),
	)
	d.emit(ProgressEvent{
		Kind:      EventRunCompleted,
		State:     StateDone,
		Stage:     stages,
		Stages:    stages,
		Deviation: res.EndingDeviation,
		Ratio:     res.EndingRatio,
		Converged: res.Converged,
	})
	return res, nil
}

func (d *Driver) runSequential(ctx context.Context, res *Result) error {
	variables := d.current.Variables()
	for i, v := range variables {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("calibrate %s: %w", v, err)
		}

		d.mu.Lock()
		d.state = StateSequentialStage
		d.stage = i
		ds := d.current
		d.mu.Unlock()

		intervals, err := d.bounds.For(v)
		if err != nil {
			return err
		}
		obj, err := NewSingleObjective(ds, d.bounds.Layout, v, d.objectiveOptions(i, len(variables)))
		if err != nil {
			return annotate(err, v)
		}

		sr, x, err := d.runStage(ctx, i, len(variables), ds, obj, intervals)
		if err != nil {
			return annotate(err, v)
		}

		factors, err := obj.Layout().Decode(x)
		if err != nil {
			return annotate(err, v)
		}
		next, err := ds.ApplyFactors(v, factors.Map()[v])
		if err != nil {
			return annotate(err, v)
		}

		d.mu.Lock()
		d.current = next
		d.mu.Unlock()

		sr.Factors = factors
		sr.RatioAfter = next.Ratio()
		d.finishStage(ctx, res, sr, len(variables))
	}
	return nil
}

func (d *Driver) runJoint(ctx context.Context, res *Result) error {
	d.mu.Lock()
	d.state = StateJointRunning
	d.stage = 0
	ds := d.current
	d.mu.Unlock()

	layout := d.bounds.Layout
	variables := layout.Variables()

	var (
		obj *Objective
		err error
	)
	if ds.Grouped() {
		obj, err = NewGroupedObjective(ds, layout, d.objectiveOptions(0, 1))
	} else {
		obj, err = NewJointObjective(ds, layout, d.objectiveOptions(0, 1))
	}
	if err != nil {
		return annotate(err, variables...)
	}

	sr, x, err := d.runStage(ctx, 0, 1, ds, obj, append([]Interval(nil), d.bounds.Intervals...))
	if err != nil {
		return annotate(err, variables...)
	}

	factors, err := layout.Decode(x)
	if err != nil {
		return annotate(err, variables...)
	}
	next := ds
	byVariable := factors.Map()
	for _, v := range variables {
		if next, err = next.ApplyFactors(v, byVariable[v]); err != nil {
			return annotate(err, v)
		}
	}

	d.mu.Lock()
	d.current = next
	d.mu.Unlock()

	sr.Factors = factors
	sr.RatioAfter = next.Ratio()
	d.finishStage(ctx, res, sr, 1)
	return nil
}

// runStage invokes the optimizer once. Nothing is committed here.
func (d *Driver) runStage(ctx context.Context, index, total int, ds *Dataset, obj *Objective, intervals []Interval) (*StageResult, []float64, error) {
	variables := obj.Layout().Variables()
	sr := &StageResult{
		Index:           index,
		Variables:       variables,
		DeviationBefore: ds.Deviation(),
	}

	ctx, span := d.telemetry.startStage(ctx, index, variables)
	d.logger.InfoContext(ctx, "starting stage",
		slog.Int("stage", index+1),
		slog.Int("stages", total),
		slog.Any("variables", variables),
		slog.Float64("deviation_before", sr.DeviationBefore),
	)
	d.emit(ProgressEvent{
		Kind:      EventStageStarted,
		State:     d.stateSnapshot(),
		Stage:     index,
		Stages:    total,
		Variables: variables,
		Deviation: sr.DeviationBefore,
		Ratio:     ds.Ratio(),
	})

	start := time.Now()
	out, err := d.optimizer.Optimize(ctx, obj.Func(), intervals, d.opts.Optimizer)
	sr.Duration = time.Since(start)
	sr.ObjectiveEvaluations = obj.Evaluations()
	if err == nil {
		err = checkOptimizeResult(out, intervals)
	}
	if err != nil {
		d.telemetry.endStage(ctx, span, obj.Variant(), sr, err)
		return nil, nil, err
	}

	sr.DeviationAfter = out.F
	sr.Converged = out.Converged
	sr.Message = out.Message
	sr.Iterations = out.Iterations
	sr.Evaluations = out.Evaluations
	d.telemetry.endStage(ctx, span, obj.Variant(), sr, nil)

	if !out.Converged {
		d.logger.WarnContext(ctx, "optimizer did not converge",
			slog.Any("variables", variables),
			slog.String("message", out.Message),
			slog.Int("iterations", out.Iterations),
		)
	}
	return sr, out.X, nil
}

func (d *Driver) finishStage(ctx context.Context, res *Result, sr *StageResult, total int) {
	res.Stages = append(res.Stages, *sr)
	res.Factors = append(res.Factors, sr.Factors...)
	res.EndingDeviation = sr.DeviationAfter
	res.Converged = res.Converged && sr.Converged

	d.logger.InfoContext(ctx, "stage completed",
		slog.Int("stage", sr.Index+1),
		slog.Int("stages", total),
		slog.Any("variables", sr.Variables),
		slog.Float64("deviation_after", sr.DeviationAfter),
		slog.Float64("ratio_after", sr.RatioAfter),
		slog.Bool("converged", sr.Converged),
		slog.Int64("objective_evaluations", sr.ObjectiveEvaluations),
		slog.Duration("duration", sr.Duration),
	)
	d.emit(ProgressEvent{
		Kind:        EventStageCompleted,
		State:       d.stateSnapshot(),
		Stage:       sr.Index,
		Stages:      total,
		Variables:   sr.Variables,
		Evaluations: sr.ObjectiveEvaluations,
		Score:       sr.DeviationAfter,
		Deviation:   sr.DeviationAfter,
		Ratio:       sr.RatioAfter,
		Converged:   sr.Converged,
		Message:     sr.Message,
	})
}

func (d *Driver) objectiveOptions(stage, total int) ObjectiveOptions {
	opts := d.opts.objective()
	opts.Logger = d.logger
	if d.progress != nil {
		opts.OnProgress = func(p ObjectiveProgress) {
			d.emit(ProgressEvent{
				Kind:        EventEvaluation,
				State:       d.stateSnapshot(),
				Stage:       stage,
				Stages:      total,
				Variables:   p.Variables,
				Evaluations: p.Evaluations,
				Score:       p.Score,
			})
		}
	}
	return opts
}

func (d *Driver) stateSnapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) emit(ev ProgressEvent) {
	if d.progress == nil {
		return
	}
	ev.Timestamp = d.now()
	d.progress(ev)
}

// annotate names the variables that were being calibrated when err occurred.
func annotate(err error, variables ...string) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if _, ok := appErr.Context["variables"]; !ok {
			appErr.WithContext("variables", variables)
		}
	}
	return fmt.Errorf("calibrate %v: %w", variables, err)
}
