package pipeline

import (
	"errors"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
)

var (
	// ErrEmptyInput is returned for blank input.
	ErrEmptyInput = errors.New("input is empty")
	// ErrInputTooLong is returned for input over Config.MaxInputLength.
	ErrInputTooLong = errors.New("input exceeds maximum length")
)

// FieldState is the form as known before a call. Confidences may be
// missing for values that did not come from this pipeline; such values
// count as confidence 0 when merging.
type FieldState struct {
	Fields      extraction.Fields  `json:"fields"`
	Confidences map[string]float64 `json:"confidences,omitempty"`
}

// Clone returns a deep copy.
func (s FieldState) Clone() FieldState {
	out := FieldState{
		Fields:      make(extraction.Fields, len(s.Fields)),
		Confidences: make(map[string]float64, len(s.Confidences)),
	}
	for k, v := range s.Fields {
		out.Fields[k] = v
	}
	for k, v := range s.Confidences {
		out.Confidences[k] = v
	}
	return out
}

// ScoredField is one value extracted by this call. Merged is false when an
// existing value with a higher confidence was kept instead.
type ScoredField struct {
	Field        string               `json:"field"`
	Value        string               `json:"value"`
	Confidence   float64              `json:"confidence"`
	Label        string               `json:"label"`
	Backend      extraction.BackendID `json:"backend"`
	CacheBoosted bool                 `json:"cache_boosted"`
	Merged       bool                 `json:"merged"`
}

// CacheMatch describes the learned pattern the input matched.
type CacheMatch struct {
	Key      string               `json:"key"`
	Score    float64              `json:"score"`
	Path     string               `json:"path"`
	Template string               `json:"template"`
	Source   extraction.BackendID `json:"source_backend"`
}

// Result is the outcome of Process. Fields and Confidences hold the merged
// form state; Extracted holds the values accepted from this call, in schema
// order.
type Result struct {
	Fields               extraction.Fields    `json:"fields"`
	Confidences          map[string]float64   `json:"confidences"`
	Extracted            []ScoredField        `json:"extracted"`
	MissingFields        []string             `json:"missing_fields"`
	LowConfidenceFields  []string             `json:"low_confidence_fields"`
	IsComplete           bool                 `json:"is_complete"`
	CompletionPercentage float64              `json:"completion_percentage"`
	Message              string               `json:"message"`
	Backend              extraction.BackendID `json:"backend"`
	CacheHit             bool                 `json:"cache_hit"`
	Cache                *CacheMatch          `json:"cache_match,omitempty"`
	Attempts             []extraction.Attempt `json:"attempts"`
}

// State returns the merged form state, ready for the next call.
func (r *Result) State() FieldState {
	return FieldState{Fields: r.Fields, Confidences: r.Confidences}.Clone()
}

// Validator normalizes a field value or rejects it.
type Validator interface {
	Validate(field, value string) (string, bool)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(field, value string) (string, bool)

// Validate implements Validator.
func (f ValidatorFunc) Validate(field, value string) (string, bool) { return f(field, value) }
