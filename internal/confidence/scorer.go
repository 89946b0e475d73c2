// Package confidence assigns trust scores to extracted field values.
//
// A score is a weighted blend of four signals in [0,1]: a prior for the
// backend that produced the value, how well the value matches the expected
// format for its field, whether its length is plausible, and whether the
// input text supports it. Scores are clamped to [0,1] and rounded to two
// decimals. Scoring is pure and safe for concurrent use.
package confidence

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
)

// Signal weights. They sum to 1.
const (
	weightBackend = 0.4
	weightFormat  = 0.3
	weightLength  = 0.1
	weightContext = 0.2
)

const (
	// DefaultPrior applies to backends without a configured prior.
	DefaultPrior = 0.6
	// DefaultAcceptThreshold is the score below which a value is flagged
	// as low confidence.
	DefaultAcceptThreshold = 0.5
	// DefaultCacheBoost is added to scores when a learned pattern matched
	// the input.
	DefaultCacheBoost = 0.1

	unknownFieldFormat = 0.7
	noTextContext      = 0.7
)

// DefaultPriors returns the per-backend base confidence.
func DefaultPriors() map[extraction.BackendID]float64 {
	return map[extraction.BackendID]float64{
		extraction.BackendOpenAI:    0.85,
		extraction.BackendAnthropic: 0.85,
		extraction.BackendOllama:    0.75,
		extraction.BackendRegex:     0.70,
		extraction.BackendCached:    0.90,
	}
}

var formatPatterns = map[string]*regexp.Regexp{
	"email":   regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`),
	"phone":   regexp.MustCompile(`^[\d\-\(\)\s\.]{7,20}$`),
	"name":    regexp.MustCompile(`^[A-Za-z][A-Za-z\s\.\-\']{1,50}$`),
	"address": regexp.MustCompile(`^[\d\w\s\,\.\-\#]{5,200}$`),
}

var streetWord = regexp.MustCompile(`\b(street|st|avenue|ave|road|rd|drive|dr|lane|ln|blvd|court|ct)\b`)

type lengthRange struct{ min, max int }

var lengthRanges = map[string]lengthRange{
	"name":    {3, 60},
	"email":   {5, 100},
	"phone":   {7, 20},
	"address": {10, 200},
}

var defaultLengthRange = lengthRange{1, 100}

var contextKeywords = map[string][]string{
	"name":    {"name", "i'm", "i am", "my name", "call me"},
	"email":   {"email", "mail", "address", "@", "at"},
	"phone":   {"phone", "number", "call", "cell", "mobile"},
	"address": {"address", "live", "street", "house", "apartment"},
}

// Scorer computes confidence scores.
type Scorer struct {
	priors       map[extraction.BackendID]float64
	defaultPrior float64
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithPrior overrides the prior for one backend. Values are clamped to [0,1].
func WithPrior(id extraction.BackendID, prior float64) Option {
	return func(s *Scorer) {
		s.priors[id] = clamp(prior)
	}
}

// New returns a Scorer with the default priors.
func New(opts ...Option) *Scorer {
	s := &Scorer{priors: DefaultPriors(), defaultPrior: DefaultPrior}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Breakdown holds the individual signals behind a score.
type Breakdown struct {
	Backend float64 `json:"backend"`
	Format  float64 `json:"format"`
	Length  float64 `json:"length"`
	Context float64 `json:"context"`
	Score   float64 `json:"score"`
}

// Score returns the confidence for value extracted into field by backend
// from text. A blank value scores 0. text may be empty.
func (s *Scorer) Score(field, value string, backend extraction.BackendID, text string) float64 {
	return s.Explain(field, value, backend, text).Score
}

// Explain returns the score together with its component signals.
func (s *Scorer) Explain(field, value string, backend extraction.BackendID, text string) Breakdown {
	value = strings.TrimSpace(value)
	if value == "" {
		return Breakdown{}
	}
	field = strings.ToLower(field)

	b := Breakdown{
		Backend: s.prior(backend),
		Format:  formatScore(field, value),
		Length:  lengthScore(field, value),
		Context: contextScore(field, value, text),
	}
	b.Score = round2(clamp(weightBackend*b.Backend +
		weightFormat*b.Format +
		weightLength*b.Length +
		weightContext*b.Context))
	return b
}

func (s *Scorer) prior(id extraction.BackendID) float64 {
	if p, ok := s.priors[id]; ok {
		return p
	}
	return s.defaultPrior
}

func formatScore(field, value string) float64 {
	re, ok := formatPatterns[field]
	if !ok {
		return unknownFieldFormat
	}
	if re.MatchString(value) {
		return 1.0
	}

	switch field {
	case "email":
		switch {
		case strings.Contains(value, "@") && strings.Contains(value, "."):
			return 0.7
		case strings.Contains(value, "@"):
			return 0.4
		}
		return 0.2
	case "phone":
		digits := countDigits(value)
		switch {
		case digits >= 10:
			return 0.9
		case digits >= 7:
			return 0.6
		}
		return 0.3
	case "name":
		switch {
		case len(strings.Fields(value)) >= 2:
			return 0.9
		case utf8.RuneCountInString(value) >= 2:
			return 0.6
		}
		return 0.3
	case "address":
		hasNumber := countDigits(value) > 0
		switch {
		case hasNumber && streetWord.MatchString(strings.ToLower(value)):
			return 0.9
		case hasNumber:
			return 0.6
		}
		return 0.4
	}
	return 0.5
}

func lengthScore(field, value string) float64 {
	r, ok := lengthRanges[field]
	if !ok {
		r = defaultLengthRange
	}
	n := utf8.RuneCountInString(value)
	switch {
	case n < r.min:
		return float64(n) / float64(r.min)
	case n > r.max:
		return math.Max(0.5, 1-float64(n-r.max)/float64(r.max))
	}
	return 1.0
}

func contextScore(field, value, text string) float64 {
	if strings.TrimSpace(text) == "" {
		return noTextContext
	}
	lowerText := strings.ToLower(text)
	if strings.Contains(lowerText, strings.ToLower(value)) {
		return 1.0
	}
	for _, kw := range contextKeywords[field] {
		if strings.Contains(lowerText, kw) {
			return 0.8
		}
	}
	return 0.5
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

// Label maps a score to high, good, medium or low.
func Label(score float64) string {
	switch {
	case score >= 0.9:
		return "high"
	case score >= 0.7:
		return "good"
	case score >= 0.5:
		return "medium"
	}
	return "low"
}

// Accept reports whether score meets threshold.
func Accept(score, threshold float64) bool {
	return score >= threshold
}

// Boost adds boost to score, clamped to [0,1] and rounded to two decimals.
func Boost(score, boost float64) float64 {
	return round2(clamp(score + boost))
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
