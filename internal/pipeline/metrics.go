package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// pipelineMetrics holds OTEL instruments for Process calls. Instruments that
// fail to register stay nil and are skipped.
type pipelineMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func newPipelineMetrics(meter metric.Meter) *pipelineMetrics {
	m := &pipelineMetrics{}
	if c, err := meter.Int64Counter(
		"formextract.pipeline.requests",
		metric.WithDescription("Processed inputs by outcome"),
		metric.WithUnit("{request}"),
	); err == nil {
		m.requests = c
	}
	if h, err := meter.Float64Histogram(
		"formextract.pipeline.duration",
		metric.WithDescription("End to end processing latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30),
	); err == nil {
		m.duration = h
	}
	return m
}

func (m *pipelineMetrics) record(ctx context.Context, outcome string, cacheHit bool, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("cache_hit", cacheHit),
	)
	if m.requests != nil {
		m.requests.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
}
