package extraction

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/formextract/internal/logging"
	"github.com/fyrsmithlabs/formextract/internal/telemetry"
)

type fakeExtractor struct {
	id          BackendID
	unavailable bool
	fields      Fields
	err         error
	panicWith   interface{}
	delay       time.Duration
	calls       atomic.Int32
	lastHint    Hint
}

func (f *fakeExtractor) ID() BackendID                  { return f.id }
func (f *fakeExtractor) Available(context.Context) bool { return !f.unavailable }

func (f *fakeExtractor) Extract(ctx context.Context, _ string, hint Hint) (Fields, error) {
	f.calls.Add(1)
	f.lastHint = hint
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.fields, f.err
}

func outcomes(r Result) []Outcome {
	var out []Outcome
	for _, a := range r.Diagnostics() {
		out = append(out, a.Outcome)
	}
	return out
}

func TestNewChain_Validation(t *testing.T) {
	_, err := NewChain(nil)
	assert.ErrorIs(t, err, ErrNoBackends)

	_, err = NewChain([]Extractor{nil})
	assert.Error(t, err)

	for _, id := range []BackendID{BackendUnknown, BackendCached} {
		_, err = NewChain([]Extractor{&fakeExtractor{id: BackendRegex}, &fakeExtractor{id: id}})
		assert.ErrorContains(t, err, "non-dispatchable", id.String())
	}
}

func TestChain_FirstSuccessWins(t *testing.T) {
	first := &fakeExtractor{id: BackendRegex, fields: Fields{"email": "a@b.co"}}
	second := &fakeExtractor{id: BackendOpenAI, fields: Fields{"name": "Jane"}}

	c, err := NewChain([]Extractor{first, second})
	require.NoError(t, err)

	res := c.Dispatch(context.Background(), "a@b.co", Hint{Missing: []string{"email"}})
	s, ok := res.(Success)
	require.True(t, ok)
	assert.Equal(t, BackendRegex, s.Backend)
	assert.Equal(t, Fields{"email": "a@b.co"}, s.Fields)
	assert.Equal(t, []Outcome{OutcomeSucceeded}, outcomes(res))
	assert.Zero(t, second.calls.Load())
	assert.Equal(t, []string{"email"}, first.lastHint.Missing)
}

func TestChain_FallsThroughFailures(t *testing.T) {
	tl := logging.NewTestLogger()
	failing := &fakeExtractor{id: BackendOpenAI, err: errors.New("quota exceeded")}
	panicking := &fakeExtractor{id: BackendAnthropic, panicWith: "boom"}
	empty := &fakeExtractor{id: BackendOllama, fields: Fields{"name": "   "}}
	skipped := &fakeExtractor{id: BackendOllama, unavailable: true}
	working := &fakeExtractor{id: BackendRegex, fields: Fields{"phone": " 555-123-4567 "}}

	c, err := NewChain([]Extractor{failing, panicking, empty, skipped, working}, WithLogger(tl.Logger))
	require.NoError(t, err)

	res := c.Dispatch(context.Background(), "call 555 123 4567", Hint{})
	s, ok := res.(Success)
	require.True(t, ok)
	assert.Equal(t, BackendRegex, s.Backend)
	assert.Equal(t, "555-123-4567", s.Fields["phone"])
	assert.Equal(t,
		[]Outcome{OutcomeFailed, OutcomeFailed, OutcomeEmpty, OutcomeSkipped, OutcomeSucceeded},
		outcomes(res))
	assert.Contains(t, s.Attempts[0].Error, "quota exceeded")
	assert.Contains(t, s.Attempts[1].Error, ErrBackendPanic.Error())
	assert.Zero(t, skipped.calls.Load())

	tl.AssertLogged(t, zapcore.WarnLevel, "extraction backend failed")
}

func TestChain_NotFound(t *testing.T) {
	c, err := NewChain([]Extractor{
		&fakeExtractor{id: BackendRegex, fields: Fields{}},
		&fakeExtractor{id: BackendOpenAI, unavailable: true},
	})
	require.NoError(t, err)

	res := c.Dispatch(context.Background(), "hello", Hint{})
	_, ok := res.(NotFound)
	require.True(t, ok)
	assert.Equal(t, []Outcome{OutcomeEmpty, OutcomeSkipped}, outcomes(res))
}

func TestChain_Timeout(t *testing.T) {
	slow := &fakeExtractor{id: BackendOllama, fields: Fields{"name": "Late"}, delay: time.Second}
	fast := &fakeExtractor{id: BackendRegex, fields: Fields{"name": "Quick"}}

	c, err := NewChain([]Extractor{slow, fast}, WithBackendTimeout(20*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	res := c.Dispatch(context.Background(), "x", Hint{})
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	s, ok := res.(Success)
	require.True(t, ok)
	assert.Equal(t, BackendRegex, s.Backend)
	assert.Equal(t, OutcomeFailed, s.Attempts[0].Outcome)
	assert.Contains(t, s.Attempts[0].Error, ErrBackendTimeout.Error())
}

type stubbornExtractor struct{ release chan struct{} }

func (s *stubbornExtractor) ID() BackendID                  { return BackendOpenAI }
func (s *stubbornExtractor) Available(context.Context) bool { return true }
func (s *stubbornExtractor) Extract(context.Context, string, Hint) (Fields, error) {
	<-s.release
	return Fields{"name": "ignored"}, nil
}

func TestChain_TimeoutWithBackendIgnoringContext(t *testing.T) {
	stubborn := &stubbornExtractor{release: make(chan struct{})}
	defer close(stubborn.release)

	c, err := NewChain([]Extractor{stubborn}, WithBackendTimeout(20*time.Millisecond))
	require.NoError(t, err)

	res := c.Dispatch(context.Background(), "x", Hint{})
	assert.Equal(t, []Outcome{OutcomeFailed}, outcomes(res))
}

func TestChain_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	second := &fakeExtractor{id: BackendOpenAI, fields: Fields{"name": "x"}}
	c, err := NewChain([]Extractor{
		&fakeExtractor{id: BackendRegex, fields: Fields{"name": "x"}},
		second,
	})
	require.NoError(t, err)

	res := c.Dispatch(ctx, "x", Hint{})
	_, ok := res.(NotFound)
	require.True(t, ok)
	assert.Equal(t, []Outcome{OutcomeCancelled, OutcomeCancelled}, outcomes(res))
	assert.Zero(t, second.calls.Load())
}

func TestChain_CancelledMidCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := &fakeExtractor{id: BackendOllama, fields: Fields{"name": "x"}, delay: time.Second}
	after := &fakeExtractor{id: BackendRegex, fields: Fields{"name": "y"}}

	c, err := NewChain([]Extractor{slow, after})
	require.NoError(t, err)

	time.AfterFunc(20*time.Millisecond, cancel)
	res := c.Dispatch(ctx, "x", Hint{})
	assert.Equal(t, []Outcome{OutcomeCancelled, OutcomeCancelled}, outcomes(res))
	assert.Zero(t, after.calls.Load())
}

func TestChain_OrderIsPreserved(t *testing.T) {
	c, err := NewChain([]Extractor{
		&fakeExtractor{id: BackendOllama},
		&fakeExtractor{id: BackendRegex},
		&fakeExtractor{id: BackendOpenAI},
	})
	require.NoError(t, err)
	assert.Equal(t, []BackendID{BackendOllama, BackendRegex, BackendOpenAI}, c.Backends())

	status := c.Status(context.Background())
	require.Len(t, status, 3)
	assert.True(t, status[0].Available)
}

func TestChain_Telemetry(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	c, err := NewChain([]Extractor{
		&fakeExtractor{id: BackendOpenAI, err: errors.New("down")},
		&fakeExtractor{id: BackendRegex, fields: Fields{"name": "Jane"}},
	}, WithTracer(tt.Tracer("test")), WithMeter(tt.Meter("test")))
	require.NoError(t, err)

	c.Dispatch(context.Background(), "x", Hint{})

	tt.AssertSpanAttribute(t, "extraction.dispatch", "extraction.backend", "regex")
	assert.Equal(t, int64(2), tt.CounterTotal(context.Background(), "formextract.extraction.attempts"))
}
