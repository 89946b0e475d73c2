package extraction

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrBackendPanic marks a backend call that panicked.
	ErrBackendPanic = errors.New("extraction backend panicked")
	// ErrBackendTimeout marks a backend call that exceeded its timeout.
	ErrBackendTimeout = errors.New("extraction backend timed out")
)

// Fields maps a field name to its extracted value.
type Fields map[string]string

// Clean returns a copy with values trimmed and blank entries removed.
func (f Fields) Clean() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Hint tells a backend which fields are still wanted. Backends may ignore it.
type Hint struct {
	Missing  []string
	Existing Fields
}

// Extractor is an extraction backend.
type Extractor interface {
	ID() BackendID
	// Available reports whether the backend can be called right now.
	Available(ctx context.Context) bool
	// Extract returns the fields found in text. An empty map means nothing
	// was found and is not an error.
	Extract(ctx context.Context, text string, hint Hint) (Fields, error)
}

// Outcome classifies one backend attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeEmpty     Outcome = "empty"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Attempt records what happened when the chain reached a backend.
type Attempt struct {
	Backend  BackendID     `json:"backend"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Result is either Success or NotFound.
type Result interface {
	// Diagnostics returns the attempts made, in chain order.
	Diagnostics() []Attempt
	isResult()
}

// Success carries the first non-empty extraction.
type Success struct {
	Fields   Fields
	Backend  BackendID
	Attempts []Attempt
}

// NotFound means every backend was skipped, empty, failed or cancelled.
type NotFound struct {
	Attempts []Attempt
}

func (s Success) Diagnostics() []Attempt  { return s.Attempts }
func (n NotFound) Diagnostics() []Attempt { return n.Attempts }
func (Success) isResult()                 {}
func (NotFound) isResult()                {}
