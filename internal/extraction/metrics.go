package extraction

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// chainMetrics holds OTEL instruments for backend attempts. Instruments that
// fail to register stay nil and are skipped.
type chainMetrics struct {
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

func newChainMetrics(meter metric.Meter) *chainMetrics {
	m := &chainMetrics{}
	if c, err := meter.Int64Counter(
		"formextract.extraction.attempts",
		metric.WithDescription("Backend attempts by outcome"),
		metric.WithUnit("{attempt}"),
	); err == nil {
		m.attempts = c
	}
	if h, err := meter.Float64Histogram(
		"formextract.extraction.backend.duration",
		metric.WithDescription("Backend call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30),
	); err == nil {
		m.duration = h
	}
	return m
}

func (m *chainMetrics) recordAttempt(ctx context.Context, a Attempt) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", a.Backend.String()),
		attribute.String("outcome", string(a.Outcome)),
	)
	if m.attempts != nil {
		m.attempts.Add(ctx, 1, attrs)
	}
	if m.duration != nil && a.Outcome != OutcomeCancelled && a.Outcome != OutcomeSkipped {
		m.duration.Record(ctx, a.Duration.Seconds(), attrs)
	}
}
