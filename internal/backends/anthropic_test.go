package backends

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
)

func TestAnthropic_Extract(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key-123", r.Header.Get("X-Api-Key"))
		assert.NotEmpty(t, r.Header.Get("Anthropic-Version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-haiku-20240307",
			"stop_reason": "end_turn", "usage": {"input_tokens": 10, "output_tokens": 8},
			"content": [{"type": "text", "text": "{\"address\": \"1 Infinite Loop\"}"}]}`))
	}))
	defer srv.Close()

	a := NewAnthropic(LLMConfig{APIKey: "key-123", BaseURL: srv.URL, RatePerMinute: -1}, WithRetry(fastRetry()))
	fields, err := a.Extract(context.Background(), "I live at 1 Infinite Loop", extraction.Hint{})
	require.NoError(t, err)
	assert.Equal(t, extraction.Fields{"address": "1 Infinite Loop"}, fields)

	assert.Equal(t, defaultAnthropicModel, got["model"])
	system, ok := got["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	assert.Equal(t, systemPrompt, system[0].(map[string]any)["text"])
	messages, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
}

func TestAnthropic_Errors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case n == 1:
			w.WriteHeader(529)
			_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "invalid_request_error", "message": "max_tokens too large"}}`))
		}
	}))
	defer srv.Close()

	a := NewAnthropic(LLMConfig{APIKey: "k", BaseURL: srv.URL, RatePerMinute: -1}, WithRetry(fastRetry()))
	_, err := a.Extract(context.Background(), "hi", extraction.Hint{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error (400): max_tokens too large")
	assert.EqualValues(t, 2, calls.Load())
}

func TestAnthropic_Available(t *testing.T) {
	assert.False(t, NewAnthropic(LLMConfig{}).Available(context.Background()))
	assert.True(t, NewAnthropic(LLMConfig{APIKey: "k"}).Available(context.Background()))
	assert.Equal(t, extraction.BackendAnthropic, NewAnthropic(LLMConfig{}).ID())
}
