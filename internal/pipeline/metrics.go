package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metricsSink struct {
	iterations metric.Int64Counter
	duration   metric.Float64Histogram
	errors     metric.Int64Counter
	turns      metric.Int64Gauge
}

// NewMetricsSink records coordinator events as OpenTelemetry instruments.
func NewMetricsSink(meter metric.Meter) (Sink, error) {
	iterations, err := meter.Int64Counter("narrator.iterations",
		metric.WithDescription("Completed or skipped narration iterations by outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("narrator.stage.duration",
		metric.WithDescription("Stage latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter("narrator.stage.errors",
		metric.WithDescription("Stage failures by kind"))
	if err != nil {
		return nil, err
	}
	turns, err := meter.Int64Gauge("narrator.transcript.turns",
		metric.WithDescription("Turns currently retained in the transcript"))
	if err != nil {
		return nil, err
	}
	return &metricsSink{iterations: iterations, duration: duration, errors: errs, turns: turns}, nil
}

func (m *metricsSink) Record(ctx context.Context, evt Event) {
	if evt.Stage == StageIteration {
		m.iterations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", evt.Kind)))
		return
	}
	stage := attribute.String("stage", string(evt.Stage))
	m.duration.Record(ctx, evt.Duration.Seconds(), metric.WithAttributes(stage))
	if evt.Err != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(stage, attribute.String("kind", evt.Kind)))
	}
	if evt.Stage == StageAppend && evt.Err == nil {
		m.turns.Record(ctx, int64(evt.Turns))
	}
}
