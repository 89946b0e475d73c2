package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/formextract/internal/confidence"
	"github.com/fyrsmithlabs/formextract/internal/extraction"
	"github.com/fyrsmithlabs/formextract/internal/logging"
	"github.com/fyrsmithlabs/formextract/internal/patterncache"
)

const instrumentationName = "github.com/fyrsmithlabs/formextract/internal/pipeline"

// Dispatcher runs backends in order. *extraction.Chain implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, text string, hint extraction.Hint) extraction.Result
}

// PatternStore is the part of the pattern cache the pipeline uses.
// *patterncache.Cache implements it.
type PatternStore interface {
	FindSimilar(ctx context.Context, text string) (patterncache.Match, bool)
	LearnFromSuccess(ctx context.Context, text string, fields extraction.Fields, backend extraction.BackendID)
}

// Pipeline extracts form fields from free text. It is safe for concurrent
// use; per-call state travels in FieldState and Result.
type Pipeline struct {
	cfg       Config
	chain     Dispatcher
	cache     PatternStore
	scorer    *confidence.Scorer
	validator Validator
	schema    map[string]bool
	logger    *logging.Logger
	tracer    trace.Tracer
	metrics   *pipelineMetrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithScorer replaces the default scorer.
func WithScorer(s *confidence.Scorer) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.scorer = s
		}
	}
}

// WithValidator installs a hook that can normalize or reject values
// before they are scored.
func WithValidator(v Validator) Option {
	return func(p *Pipeline) { p.validator = v }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithMeter sets the meter for request metrics.
func WithMeter(m metric.Meter) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = newPipelineMetrics(m)
		}
	}
}

// New builds a pipeline. chain and cache are required; the cache instance
// is shared by every call and owned by the caller.
func New(cfg Config, chain Dispatcher, cache PatternStore, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if chain == nil {
		return nil, errors.New("pipeline needs an extraction chain")
	}
	if cache == nil {
		return nil, errors.New("pipeline needs a pattern cache")
	}

	p := &Pipeline{
		cfg:    cfg,
		chain:  chain,
		cache:  cache,
		scorer: confidence.New(),
		schema: make(map[string]bool, len(cfg.RequiredFields)),
		logger: logging.Nop(),
		tracer: otel.Tracer(instrumentationName),
	}
	for _, f := range cfg.RequiredFields {
		p.schema[f] = true
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = newPipelineMetrics(otel.Meter(instrumentationName))
	}
	return p, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Process extracts fields from text and merges them into state, which is
// not modified. An error is returned only for empty or over-long input;
// backend and cache failures yield a well-formed result with nothing
// extracted.
func (p *Pipeline) Process(ctx context.Context, text string, state FieldState) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if n := utf8.RuneCountInString(text); n > p.cfg.MaxInputLength {
		return nil, fmt.Errorf("%w: %d > %d characters", ErrInputTooLong, n, p.cfg.MaxInputLength)
	}

	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(attribute.Int("pipeline.input_length", len(text))))
	defer span.End()

	merged := state.Clone()
	match, hit := p.cache.FindSimilar(ctx, text)

	hint := extraction.Hint{
		Missing:  p.missing(merged.Fields),
		Existing: merged.Fields.Clone(),
	}
	res := p.chain.Dispatch(ctx, text, hint)

	result := &Result{Attempts: res.Diagnostics(), CacheHit: hit}
	if hit {
		result.Cache = &CacheMatch{
			Key:      match.Entry.Key,
			Score:    match.Score,
			Path:     string(match.Path),
			Template: match.Entry.Template,
			Source:   match.Entry.SourceBackend,
		}
	}

	outcome := "not_found"
	switch r := res.(type) {
	case extraction.Success:
		result.Backend = r.Backend
		accepted := p.accept(ctx, text, r, hit, &merged, result)
		if len(accepted) > 0 {
			outcome = "extracted"
			// Learning happens only after the backend returned successfully.
			p.cache.LearnFromSuccess(ctx, text, accepted, r.Backend)
		} else {
			outcome = "rejected"
		}
	case extraction.NotFound:
		p.logger.Info(ctx, "no backend extracted any field",
			zap.Int("attempts", len(r.Attempts)))
	}

	p.finish(merged, result)

	span.SetAttributes(
		attribute.String("pipeline.outcome", outcome),
		attribute.Bool("pipeline.cache_hit", hit),
		attribute.Int("pipeline.extracted", len(result.Extracted)),
		attribute.Int("pipeline.missing", len(result.MissingFields)),
	)
	p.metrics.record(ctx, outcome, hit, time.Since(start))
	p.logger.Debug(ctx, "pipeline processed input",
		zap.String("outcome", outcome),
		zap.Stringer("backend", result.Backend),
		zap.Bool("cache_hit", hit),
		zap.Strings("missing", result.MissingFields))
	return result, nil
}

// accept scores, filters and merges a successful dispatch into merged. It
// returns the backend's values for the fields that survived, which is what
// the cache learns.
func (p *Pipeline) accept(ctx context.Context, text string, r extraction.Success, boosted bool, merged *FieldState, result *Result) extraction.Fields {
	accepted := make(extraction.Fields, len(r.Fields))

	for _, field := range p.orderedFields(r.Fields) {
		raw := r.Fields[field]
		if !p.schema[field] {
			p.logger.Debug(ctx, "dropping field outside the form", zap.String("field", field))
			continue
		}

		value := raw
		if p.validator != nil {
			normalized, ok := p.validator.Validate(field, raw)
			if !ok || strings.TrimSpace(normalized) == "" {
				p.logger.Debug(ctx, "validator rejected value",
					zap.String("field", field), logging.FieldValue(field, raw))
				continue
			}
			value = normalized
		}

		conf := p.scorer.Score(field, raw, r.Backend, text)
		if conf == 0 {
			p.logger.Debug(ctx, "scorer rejected value",
				zap.String("field", field), logging.FieldValue(field, raw))
			continue
		}
		if boosted {
			conf = confidence.Boost(conf, p.cfg.CacheBoost)
		}

		sf := ScoredField{
			Field:        field,
			Value:        value,
			Confidence:   conf,
			Label:        confidence.Label(conf),
			Backend:      r.Backend,
			CacheBoosted: boosted,
		}
		sf.Merged = mergeField(merged, field, value, conf)
		result.Extracted = append(result.Extracted, sf)
		accepted[field] = raw
	}
	return accepted
}

// mergeField sets an absent field, and replaces a present one only when the
// new confidence is at least the stored one. A present value without a
// recorded confidence counts as 0. Values are never cleared.
func mergeField(s *FieldState, field, value string, conf float64) bool {
	if _, present := s.Fields[field]; present && conf < s.Confidences[field] {
		return false
	}
	s.Fields[field] = value
	s.Confidences[field] = conf
	return true
}

// finish fills in the derived parts of result from the merged state.
func (p *Pipeline) finish(merged FieldState, result *Result) {
	result.Fields = merged.Fields
	result.Confidences = merged.Confidences
	result.MissingFields = p.missing(merged.Fields)
	result.LowConfidenceFields = []string{}
	for _, field := range p.orderedFields(merged.Fields) {
		if c, ok := merged.Confidences[field]; ok && c < p.cfg.AcceptanceThreshold {
			result.LowConfidenceFields = append(result.LowConfidenceFields, field)
		}
	}
	if result.Extracted == nil {
		result.Extracted = []ScoredField{}
	}

	total := len(p.cfg.RequiredFields)
	filled := total - len(result.MissingFields)
	result.CompletionPercentage = math.Round(float64(filled)/float64(total)*1000) / 10
	result.IsComplete = len(result.MissingFields) == 0
	result.Message = p.message(result)
}

// missing returns the required fields without a value, in schema order.
func (p *Pipeline) missing(fields extraction.Fields) []string {
	out := []string{}
	for _, f := range p.cfg.RequiredFields {
		if strings.TrimSpace(fields[f]) == "" {
			out = append(out, f)
		}
	}
	return out
}

// orderedFields returns the keys of fields, schema fields first in schema
// order, then the rest alphabetically.
func (p *Pipeline) orderedFields(fields extraction.Fields) []string {
	out := make([]string, 0, len(fields))
	for _, f := range p.cfg.RequiredFields {
		if _, ok := fields[f]; ok {
			out = append(out, f)
		}
	}
	var extra []string
	for f := range fields {
		if !p.schema[f] {
			extra = append(extra, f)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}
