package evolve

import (
	"log/slog"

	"gonum.org/v1/gonum/optimize"
)

// logRecorder reports every major iteration of a gonum run at debug level.
type logRecorder struct {
	logger *slog.Logger
	method string
	best   float64
	seen   bool
}

func newLogRecorder(logger *slog.Logger, method string) *logRecorder {
	return &logRecorder{logger: logger, method: method}
}

func (r *logRecorder) Init() error {
	r.seen = false
	return nil
}

func (r *logRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op&optimize.MajorIteration == 0 {
		return nil
	}
	if !r.seen || loc.F < r.best {
		r.best, r.seen = loc.F, true
	}
	r.logger.Debug("optimizer iteration",
		slog.String("method", r.method),
		slog.Int("iteration", stats.MajorIterations),
		slog.Int("evaluations", stats.FuncEvaluations),
		slog.Float64("f", loc.F),
		slog.Float64("best", r.best),
	)
	return nil
}
