package backends

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestBuildPrompt(t *testing.T) {
	p := buildPrompt("I'm Ann", extraction.Hint{})
	assert.Contains(t, p, "- name: full name (string)")
	assert.Contains(t, p, "- phone: phone number (string)")
	assert.Contains(t, p, `User input: "I'm Ann"`)
	assert.NotContains(t, p, "Already collected")

	p = buildPrompt("call me", extraction.Hint{
		Missing:  []string{"email", "company"},
		Existing: extraction.Fields{"phone": "555-123-4567", "name": "Ann"},
	})
	assert.Contains(t, p, "- email: email address (string)")
	assert.Contains(t, p, "- company: string")
	assert.NotContains(t, p, "- name:")
	assert.Contains(t, p, "Already collected (do not repeat unless corrected): name, phone")
}

func TestParseFields(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    extraction.Fields
		wantErr bool
	}{
		{
			name: "plain object",
			raw:  `{"name": "Ann Lee", "email": "ann@example.com"}`,
			want: extraction.Fields{"name": "Ann Lee", "email": "ann@example.com"},
		},
		{
			name: "fenced",
			raw:  "```json\n{\"name\": \"Ann\"}\n```",
			want: extraction.Fields{"name": "Ann"},
		},
		{
			name: "bare fence",
			raw:  "```\n{\"phone\": \"555-123-4567\"}\n```",
			want: extraction.Fields{"phone": "555-123-4567"},
		},
		{
			name: "repaired",
			raw:  `{name: 'Ann', "phone": 5551234567,}`,
			want: extraction.Fields{"name": "Ann", "phone": "5551234567"},
		},
		{
			name: "odd values dropped and keys lowered",
			raw:  `{"Name": "Ann", "email": null, "address": {"city": "x"}, "phone": "  ", "vip": true}`,
			want: extraction.Fields{"name": "Ann"},
		},
		{name: "empty", raw: "  ", wantErr: true},
		{name: "not an object", raw: `["a", "b"]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFields(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("retries transient errors", func(t *testing.T) {
		calls := 0
		v, err := withRetry(ctx, fastRetry(), func() (string, error) {
			calls++
			if calls < 3 {
				return "", &retryableError{err: errors.New("503")}
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("bad request")
		_, err := withRetry(ctx, fastRetry(), func() (string, error) {
			calls++
			return "", sentinel
		})
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after the budget", func(t *testing.T) {
		calls := 0
		_, err := withRetry(ctx, fastRetry(), func() (string, error) {
			calls++
			return "", &retryableError{err: errors.New("429")}
		})
		assert.True(t, isRetryableError(err))
		assert.Equal(t, 3, calls)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := withRetry(cctx, RetryConfig{MaxRetries: 5, InitialInterval: time.Hour}, func() (string, error) {
			return "", &retryableError{err: errors.New("503")}
		})
		assert.Error(t, err)
	})
}

func TestStatusError(t *testing.T) {
	assert.True(t, isRetryableError(statusError(429, "slow down")))
	assert.True(t, isRetryableError(statusError(503, "overloaded")))
	assert.False(t, isRetryableError(statusError(401, "bad key")))
	assert.EqualError(t, statusError(400, "nope"), "API error (400): nope")
}

func TestLLMConfig_Defaults(t *testing.T) {
	c := LLMConfig{}.withDefaults("http://x", "m")
	assert.Equal(t, "http://x", c.BaseURL)
	assert.Equal(t, "m", c.Model)
	assert.Equal(t, defaultTemperature, c.Temperature)
	assert.Equal(t, defaultMaxTokens, c.MaxTokens)
	assert.Equal(t, defaultRatePerMinute, c.RatePerMinute)
	assert.Equal(t, defaultHTTPTimeout, c.Timeout)

	assert.Nil(t, newLimiter(-1))
	assert.NotNil(t, newLimiter(60))
}
