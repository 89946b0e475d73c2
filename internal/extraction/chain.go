package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/formextract/internal/logging"
)

const (
	// DefaultBackendTimeout bounds a single backend call.
	DefaultBackendTimeout = 30 * time.Second

	availabilityTimeout = 5 * time.Second
	instrumentationName = "github.com/fyrsmithlabs/formextract/internal/extraction"
)

// ErrNoBackends is returned by NewChain when given no extractors.
var ErrNoBackends = errors.New("extraction chain needs at least one backend")

// Chain tries extractors in a fixed order and returns the first non-empty
// result. It is safe for concurrent use.
type Chain struct {
	backends []Extractor
	timeout  time.Duration
	logger   *logging.Logger
	tracer   trace.Tracer
	metrics  *chainMetrics
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithBackendTimeout sets the per-backend timeout.
func WithBackendTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for contained failures.
func WithLogger(l *logging.Logger) ChainOption {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracer sets the tracer for dispatch spans.
func WithTracer(t trace.Tracer) ChainOption {
	return func(c *Chain) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithMeter sets the meter for attempt metrics.
func WithMeter(m metric.Meter) ChainOption {
	return func(c *Chain) {
		if m != nil {
			c.metrics = newChainMetrics(m)
		}
	}
}

// NewChain builds a chain over backends, preserving their order.
func NewChain(backends []Extractor, opts ...ChainOption) (*Chain, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	for i, b := range backends {
		if b == nil {
			return nil, fmt.Errorf("extraction backend at position %d is nil", i)
		}
		if id := b.ID(); !id.Dispatchable() {
			return nil, fmt.Errorf("extraction backend at position %d has non-dispatchable id %q", i, id)
		}
	}

	c := &Chain{
		backends: append([]Extractor(nil), backends...),
		timeout:  DefaultBackendTimeout,
		logger:   logging.Nop(),
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = newChainMetrics(otel.Meter(instrumentationName))
	}
	return c, nil
}

// Backends returns the configured order.
func (c *Chain) Backends() []BackendID {
	ids := make([]BackendID, len(c.backends))
	for i, b := range c.backends {
		ids[i] = b.ID()
	}
	return ids
}

// BackendStatus reports the availability of one backend.
type BackendStatus struct {
	Backend   BackendID `json:"backend"`
	Available bool      `json:"available"`
	// State is the circuit breaker state for wrapped backends.
	State string `json:"state,omitempty"`
}

// Status probes every backend's availability in chain order.
func (c *Chain) Status(ctx context.Context) []BackendStatus {
	out := make([]BackendStatus, len(c.backends))
	for i, b := range c.backends {
		ok, err := guard(ctx, availabilityTimeout, availableFunc(b))
		out[i] = BackendStatus{Backend: b.ID(), Available: err == nil && ok}
		if s, isStateful := b.(interface{ State() string }); isStateful {
			out[i].State = s.State()
		}
	}
	return out
}

// Dispatch runs the chain. It returns Success for the first backend that
// produced at least one non-blank value and NotFound otherwise. Cancelling
// ctx stops the chain; the remaining backends are recorded as cancelled.
func (c *Chain) Dispatch(ctx context.Context, text string, hint Hint) Result {
	ctx, span := c.tracer.Start(ctx, "extraction.dispatch",
		trace.WithAttributes(attribute.Int("extraction.backends", len(c.backends))))
	defer span.End()

	attempts := make([]Attempt, 0, len(c.backends))
	for i, b := range c.backends {
		if ctx.Err() != nil {
			attempts = c.cancelRest(ctx, attempts, i)
			span.SetAttributes(attribute.Bool("extraction.cancelled", true))
			return NotFound{Attempts: attempts}
		}

		attempt, fields := c.try(ctx, b, text, hint)
		attempts = append(attempts, attempt)
		c.metrics.recordAttempt(ctx, attempt)

		if attempt.Outcome == OutcomeSucceeded {
			span.SetAttributes(
				attribute.String("extraction.backend", b.ID().String()),
				attribute.Int("extraction.fields", len(fields)),
			)
			return Success{Fields: fields, Backend: b.ID(), Attempts: attempts}
		}
		if attempt.Outcome == OutcomeCancelled {
			attempts = c.cancelRest(ctx, attempts, i+1)
			span.SetAttributes(attribute.Bool("extraction.cancelled", true))
			return NotFound{Attempts: attempts}
		}
	}

	span.SetAttributes(attribute.Bool("extraction.not_found", true))
	c.logger.Debug(ctx, "no extraction backend produced fields",
		zap.Int("attempts", len(attempts)))
	return NotFound{Attempts: attempts}
}

func (c *Chain) cancelRest(ctx context.Context, attempts []Attempt, from int) []Attempt {
	for _, b := range c.backends[from:] {
		a := Attempt{Backend: b.ID(), Outcome: OutcomeCancelled, Error: context.Cause(ctx).Error()}
		attempts = append(attempts, a)
		c.metrics.recordAttempt(ctx, a)
	}
	return attempts
}

func (c *Chain) try(ctx context.Context, b Extractor, text string, hint Hint) (Attempt, Fields) {
	id := b.ID()
	ctx, span := c.tracer.Start(ctx, "extraction.backend",
		trace.WithAttributes(attribute.String("extraction.backend", id.String())))
	defer span.End()

	start := time.Now()
	attempt := Attempt{Backend: id}
	finish := func(o Outcome, err error) {
		attempt.Outcome = o
		attempt.Duration = time.Since(start)
		if err != nil {
			attempt.Error = err.Error()
		}
		span.SetAttributes(attribute.String("extraction.outcome", string(o)))
	}

	available, err := guard(ctx, availabilityTimeout, availableFunc(b))
	if err != nil || !available {
		if ctx.Err() != nil {
			finish(OutcomeCancelled, ctx.Err())
			return attempt, nil
		}
		finish(OutcomeSkipped, err)
		c.logger.Debug(ctx, "extraction backend unavailable", zap.Stringer("backend", id))
		return attempt, nil
	}

	fields, err := guard(ctx, c.timeout, func(callCtx context.Context) (Fields, error) {
		return b.Extract(callCtx, text, hint)
	})
	switch {
	case err != nil && ctx.Err() != nil:
		finish(OutcomeCancelled, ctx.Err())
		return attempt, nil
	case err != nil:
		finish(OutcomeFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend failed")
		c.logger.Warn(ctx, "extraction backend failed",
			zap.Stringer("backend", id),
			zap.Duration("duration", attempt.Duration),
			zap.Error(err),
		)
		return attempt, nil
	}

	cleaned := fields.Clean()
	if len(cleaned) == 0 {
		finish(OutcomeEmpty, nil)
		c.logger.Debug(ctx, "extraction backend found nothing", zap.Stringer("backend", id))
		return attempt, nil
	}
	finish(OutcomeSucceeded, nil)
	return attempt, cleaned
}

func availableFunc(b Extractor) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) { return b.Available(ctx), nil }
}

// guard runs fn under a timeout and converts panics into errors. fn runs on
// its own goroutine so a backend that ignores its context cannot hold the
// chain past the deadline.
func guard[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: %v", ErrBackendPanic, r)}
			}
		}()
		v, err := fn(callCtx)
		done <- result{val: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("%w after %s: %v", ErrBackendTimeout, timeout, r.err)
		}
		return r.val, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrBackendTimeout, timeout)
	}
}
