package evolve

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"

	"ratecal/internal/calibration"
	apperrors "ratecal/internal/errors"
)

// Strategy names understood by Optimizer.
const (
	StrategyCMAES      = "cmaes"
	StrategyGuess      = "guess"
	StrategyNelderMead = "neldermead"
)

// convergePatience is how many major iterations without a tolerance-sized
// improvement end a run.
const convergePatience = 20

// Optimizer is a bounded global minimizer backed by gonum/optimize.
type Optimizer struct {
	logger *slog.Logger
}

var _ calibration.Optimizer = (*Optimizer)(nil)

// New creates an Optimizer.
func New(logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{logger: logger.With(slog.String("component", "evolve"))}
}

// Optimize minimizes f over bounds. Non-convergence is reported in the
// result; an objective error or context cancellation aborts the search.
func (o *Optimizer) Optimize(ctx context.Context, f calibration.ObjectiveFunc, bounds []calibration.Interval, opts calibration.OptimizerOptions) (*calibration.OptimizeResult, error) {
	if len(bounds) == 0 {
		return nil, apperrors.NewConfigurationError("no bounds to search")
	}
	b, err := newBox(bounds)
	if err != nil {
		return nil, err
	}

	if b.dim() == 0 {
		x := b.point(nil)
		score, err := f(x)
		if err != nil {
			return nil, err
		}
		return &calibration.OptimizeResult{
			X:           x,
			F:           score,
			Converged:   true,
			Message:     "all bounds collapsed to a point",
			Evaluations: 1,
		}, nil
	}

	src := newSource(opts.Seed)
	rng := rand.New(src)
	eval := newEvaluator(ctx, f, b)

	method, err := o.method(opts, b.dim(), src)
	if err != nil {
		return nil, err
	}

	u0 := make([]float64, b.dim())
	for i := range u0 {
		if opts.Init == calibration.InitRandom {
			u0[i] = rng.Float64()
		} else {
			u0[i] = 0.5
		}
	}

	start := time.Now()
	res, err := optimize.Minimize(eval.problem(), u0, o.settings(opts, b.dim(), opts.Strategy), method)
	if err := eval.failure(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("minimize: %w", err)
	}

	best := res.Location
	iterations := res.Stats.MajorIterations
	evaluations := res.Stats.FuncEvaluations
	status := res.Status

	if opts.Polish && opts.Strategy != StrategyNelderMead {
		polished, err := optimize.Minimize(eval.problem(), best.X, o.settings(opts, b.dim(), "polish"), &optimize.NelderMead{})
		if err := eval.failure(); err != nil {
			return nil, err
		}
		if err != nil {
			o.logger.WarnContext(ctx, "polish failed", slog.String("error", err.Error()))
		} else {
			iterations += polished.Stats.MajorIterations
			evaluations += polished.Stats.FuncEvaluations
			if polished.Location.F < best.F {
				best = polished.Location
			}
		}
	}

	out := &calibration.OptimizeResult{
		X:           b.point(best.X),
		F:           best.F,
		Converged:   converged(status),
		Message:     status.String(),
		Iterations:  iterations,
		Evaluations: evaluations,
	}

	o.logger.DebugContext(ctx, "optimization finished",
		slog.String("strategy", opts.Strategy),
		slog.Int("dim", b.dim()),
		slog.Float64("f", out.F),
		slog.Bool("converged", out.Converged),
		slog.String("status", out.Message),
		slog.Int("iterations", out.Iterations),
		slog.Int("evaluations", out.Evaluations),
		slog.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (o *Optimizer) method(opts calibration.OptimizerOptions, dim int, src rand.Source) (optimize.Method, error) {
	switch opts.Strategy {
	case StrategyCMAES:
		return &optimize.CmaEsChol{
			InitStepSize: (opts.Mutation.Min + opts.Mutation.Max) / 4,
			Population:   opts.PopulationSize * dim,
			Src:          src,
		}, nil
	case StrategyGuess:
		unit := make([]r1.Interval, dim)
		for i := range unit {
			unit[i] = r1.Interval{Min: 0, Max: 1}
		}
		return &optimize.GuessAndCheck{Rander: distmv.NewUniform(unit, src)}, nil
	case StrategyNelderMead:
		return &optimize.NelderMead{}, nil
	default:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf(
			"unknown strategy %q, expected one of %s, %s, %s", opts.Strategy, StrategyCMAES, StrategyGuess, StrategyNelderMead))
	}
}

func (o *Optimizer) settings(opts calibration.OptimizerOptions, dim int, label string) *optimize.Settings {
	workers := opts.Workers
	if workers < 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > 1 && opts.Updating == calibration.UpdatingImmediate {
		o.logger.Debug("immediate updating unavailable with parallel workers, updating per generation",
			slog.Int("workers", workers))
	}
	return &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		FuncEvaluations: (opts.MaxIterations + 1) * opts.PopulationSize * dim,
		Converger: &optimize.FunctionConverge{
			Absolute:   opts.AbsoluteTolerance,
			Relative:   opts.Tolerance,
			Iterations: convergePatience,
		},
		Concurrent: workers,
		Recorder:   newLogRecorder(o.logger, label),
	}
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.FunctionConvergence, optimize.MethodConverge,
		optimize.StepConvergence, optimize.FunctionThreshold:
		return true
	}
	return false
}

func newSource(seed uint64) rand.Source {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// evaluator wraps the objective for gonum. gonum's Func cannot fail, so the
// first error is stored and surfaced through Problem.Status, which stops the
// run.
type evaluator struct {
	ctx context.Context
	f   calibration.ObjectiveFunc
	box *box

	mu  sync.Mutex
	err error
}

func newEvaluator(ctx context.Context, f calibration.ObjectiveFunc, b *box) *evaluator {
	return &evaluator{ctx: ctx, f: f, box: b}
}

func (e *evaluator) problem() optimize.Problem {
	return optimize.Problem{
		Func:   e.eval,
		Status: e.status,
	}
}

func (e *evaluator) eval(u []float64) float64 {
	if err := e.ctx.Err(); err != nil {
		e.fail(err)
	}
	if e.failure() != nil {
		return math.Inf(1)
	}
	score, err := e.f(e.box.point(u))
	if err != nil {
		e.fail(err)
		return math.Inf(1)
	}
	return score
}

func (e *evaluator) status() (optimize.Status, error) {
	if err := e.ctx.Err(); err != nil {
		e.fail(err)
	}
	if err := e.failure(); err != nil {
		return optimize.Failure, err
	}
	return optimize.NotTerminated, nil
}

func (e *evaluator) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err == nil {
		e.err = err
	}
}

func (e *evaluator) failure() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}
