package backends

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
	"github.com/fyrsmithlabs/formextract/internal/logging"
)

// BreakerConfig configures the circuit breaker around a backend.
type BreakerConfig struct {
	Enabled bool
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval is the closed-state window after which counts reset.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// FailureRatio trips the breaker once at least MinRequests were seen.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig trips at a 50% failure rate over five requests and
// stays open for a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:      true,
		MaxRequests:  1,
		Interval:     30 * time.Second,
		Timeout:      60 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker wraps an extractor with a circuit breaker. While the breaker is
// open the backend reports itself unavailable, so the chain skips it
// instead of waiting on a failing service.
type Breaker struct {
	inner  extraction.Extractor
	cb     *gobreaker.CircuitBreaker
	logger *logging.Logger
}

var _ extraction.Extractor = (*Breaker)(nil)

// NewBreaker wraps inner.
func NewBreaker(inner extraction.Extractor, cfg BreakerConfig, logger *logging.Logger) *Breaker {
	if logger == nil {
		logger = logging.Nop()
	}
	def := DefaultBreakerConfig()
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = def.FailureRatio
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = def.MinRequests
	}

	b := &Breaker{inner: inner, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.ID().String(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "backend circuit breaker state changed",
				zap.String("backend", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
		// Caller cancellation says nothing about the backend's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return b
}

// ID implements extraction.Extractor.
func (b *Breaker) ID() extraction.BackendID { return b.inner.ID() }

// Available is false while the breaker is open.
func (b *Breaker) Available(ctx context.Context) bool {
	if b.cb.State() == gobreaker.StateOpen {
		return false
	}
	return b.inner.Available(ctx)
}

// Extract implements extraction.Extractor.
func (b *Breaker) Extract(ctx context.Context, text string, hint extraction.Hint) (extraction.Fields, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Extract(ctx, text, hint)
	})
	if err != nil {
		return nil, err
	}
	fields, _ := v.(extraction.Fields)
	return fields, nil
}

// State returns the breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
