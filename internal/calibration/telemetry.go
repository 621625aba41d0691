package calibration

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "ratecal.calibration"
)

// telemetry instruments driver runs through the global OpenTelemetry providers.
type telemetry struct {
	tracer        trace.Tracer
	runs          metric.Int64Counter
	stages        metric.Int64Counter
	stageDuration metric.Float64Histogram
	evaluations   metric.Int64Counter
	deviation     metric.Float64Histogram
}

func newTelemetry(logger *slog.Logger) *telemetry {
	meter := otel.Meter(TracerName)
	t := &telemetry{tracer: otel.Tracer(TracerName)}

	var err error
	if t.runs, err = meter.Int64Counter("calibration_runs_total",
		metric.WithDescription("Calibration runs by mode and outcome")); err != nil {
		logger.Warn("failed to create metric", slog.String("metric", "calibration_runs_total"), slog.String("error", err.Error()))
	}
	if t.stages, err = meter.Int64Counter("calibration_stages_total",
		metric.WithDescription("Optimizer invocations by convergence")); err != nil {
		logger.Warn("failed to create metric", slog.String("metric", "calibration_stages_total"), slog.String("error", err.Error()))
	}
	if t.stageDuration, err = meter.Float64Histogram("calibration_stage_duration_seconds",
		metric.WithDescription("Wall time of one optimizer invocation"),
		metric.WithUnit("s")); err != nil {
		logger.Warn("failed to create metric", slog.String("metric", "calibration_stage_duration_seconds"), slog.String("error", err.Error()))
	}
	if t.evaluations, err = meter.Int64Counter("calibration_objective_evaluations_total",
		metric.WithDescription("Objective evaluations by variant")); err != nil {
		logger.Warn("failed to create metric", slog.String("metric", "calibration_objective_evaluations_total"), slog.String("error", err.Error()))
	}
	if t.deviation, err = meter.Float64Histogram("calibration_ending_deviation",
		metric.WithDescription("Ending absolute deviation of completed runs")); err != nil {
		logger.Warn("failed to create metric", slog.String("metric", "calibration_ending_deviation"), slog.String("error", err.Error()))
	}
	return t
}

func (t *telemetry) startRun(ctx context.Context, ds *Dataset) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "calibration.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("calibration.mode", string(ds.Mode())),
			attribute.Bool("calibration.grouped", ds.Grouped()),
			attribute.Int("calibration.rows", ds.Len()),
			attribute.StringSlice("calibration.variables", ds.Variables()),
		),
	)
}

func (t *telemetry) endRun(ctx context.Context, span trace.Span, ds *Dataset, res *Result, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.Float64("calibration.ending_ratio", res.EndingRatio),
			attribute.Float64("calibration.ending_deviation", res.EndingDeviation),
			attribute.Bool("calibration.converged", res.Converged),
		)
		span.SetStatus(codes.Ok, "")
		if t.deviation != nil {
			t.deviation.Record(ctx, res.EndingDeviation)
		}
	}
	span.End()

	if t.runs != nil {
		t.runs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("mode", string(ds.Mode())),
			attribute.String("outcome", outcome),
		))
	}
}

func (t *telemetry) startStage(ctx context.Context, index int, variables []string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "calibration.stage",
		trace.WithAttributes(
			attribute.Int("stage.index", index),
			attribute.StringSlice("stage.variables", variables),
		),
	)
}

func (t *telemetry) endStage(ctx context.Context, span trace.Span, variant Variant, sr *StageResult, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	span.SetAttributes(
		attribute.Bool("stage.converged", sr.Converged),
		attribute.Float64("stage.deviation_before", sr.DeviationBefore),
		attribute.Float64("stage.deviation_after", sr.DeviationAfter),
		attribute.Int("stage.iterations", sr.Iterations),
	)
	span.End()

	if t.stages != nil {
		t.stages.Add(ctx, 1, metric.WithAttributes(attribute.Bool("converged", sr.Converged)))
	}
	if t.stageDuration != nil {
		t.stageDuration.Record(ctx, sr.Duration.Seconds(), metric.WithAttributes(attribute.String("variant", string(variant))))
	}
	if t.evaluations != nil {
		t.evaluations.Add(ctx, sr.ObjectiveEvaluations, metric.WithAttributes(attribute.String("variant", string(variant))))
	}
}
