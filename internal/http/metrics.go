package http

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/formextract/internal/logging"
	"github.com/fyrsmithlabs/formextract/internal/pipeline"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/formextract/internal/http"

// Extraction outcomes recorded per /extract call.
const (
	outcomeCompleted = "completed"
	outcomeExtracted = "extracted"
	outcomeEmpty     = "empty"
	outcomeRejected  = "rejected"
	outcomeError     = "error"
)

// HTTPMetrics holds the request metrics and the per-turn extraction counter.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *logging.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
	extractions    metric.Int64Counter
}

// NewHTTPMetrics creates HTTP metrics on meter. A nil meter uses the global
// provider.
func NewHTTPMetrics(meter metric.Meter, logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.Nop()
	}
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}

	m := &HTTPMetrics{
		meter:  meter,
		logger: logger,
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	ctx := context.Background()
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"formextract.http.requests_total",
		metric.WithDescription("Total HTTP requests labeled by method, route and status code."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create requests counter", zap.Error(err))
	}

	m.requestDur, err = m.meter.Float64Histogram(
		"formextract.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds, labeled by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.responseSize, err = m.meter.Int64Histogram(
		"formextract.http.response_size_bytes",
		metric.WithDescription("HTTP response body size in bytes."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create response size histogram", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"formextract.http.active_requests",
		metric.WithDescription("Number of currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create active requests gauge", zap.Error(err))
	}

	m.extractions, err = m.meter.Int64Counter(
		"formextract.http.extractions",
		metric.WithDescription("Extraction turns served, labeled by outcome and whether a stored session was resumed."),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create extractions counter", zap.Error(err))
	}
}

// RecordExtraction counts one /extract turn. It is safe on a nil receiver.
func (m *HTTPMetrics) RecordExtraction(ctx context.Context, outcome string, resumed bool) {
	if m == nil || m.extractions == nil {
		return
	}
	m.extractions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("resumed", resumed),
	))
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := req.Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
			}

			err := next(c)

			// c.Path is the route template, so session ids do not become
			// label values.
			attrs := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("endpoint", routeLabel(c.Path())),
				attribute.Int("status", c.Response().Status),
			)

			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, c.Response().Size, attrs)
			}
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, -1)
			}

			return err
		}
	}
}

// extractionOutcome classifies a Process call for RecordExtraction.
func extractionOutcome(res *pipeline.Result, err error) string {
	switch {
	case errors.Is(err, pipeline.ErrEmptyInput), errors.Is(err, pipeline.ErrInputTooLong):
		return outcomeRejected
	case err != nil:
		return outcomeError
	case len(res.Extracted) > 0 && res.IsComplete:
		return outcomeCompleted
	case len(res.Extracted) > 0:
		return outcomeExtracted
	default:
		return outcomeEmpty
	}
}

// routeLabel maps unmatched requests to a single label value.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
