package backends

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
)

func ollamaServer(t *testing.T, models []string, generate http.HandlerFunc) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		list := make([]map[string]string, 0, len(models))
		for _, m := range models {
			list = append(list, map[string]string{"name": m})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": list})
	})
	if generate != nil {
		mux.HandleFunc("/api/generate", generate)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestOllama_Available(t *testing.T) {
	ctx := context.Background()
	url := ollamaServer(t, []string{"llama3:latest", "gpt-oss:20b"}, nil)

	tests := []struct {
		model string
		want  bool
	}{
		{"llama3", true},
		{"llama3:latest", true},
		{"gpt-oss:20b", true},
		{"gpt-oss", false},
		{"mistral", false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			o := NewOllama(LLMConfig{BaseURL: url + "/", Model: tt.model})
			assert.Equal(t, tt.want, o.Available(ctx))
		})
	}
}

func TestOllama_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	o := NewOllama(LLMConfig{BaseURL: url})
	assert.False(t, o.Available(context.Background()))
}

func TestOllama_Extract(t *testing.T) {
	var got ollamaGenerateRequest
	url := ollamaServer(t, []string{"llama3"}, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:    "llama3",
			Response: `{"email": "bob@example.com"}`,
			Done:     true,
		})
	})

	o := NewOllama(LLMConfig{BaseURL: url, Model: "llama3", MaxTokens: 64}, WithRetry(fastRetry()))
	fields, err := o.Extract(context.Background(), "bob@example.com", extraction.Hint{Missing: []string{"email"}})
	require.NoError(t, err)
	assert.Equal(t, extraction.Fields{"email": "bob@example.com"}, fields)

	assert.Equal(t, "llama3", got.Model)
	assert.Equal(t, "json", got.Format)
	assert.False(t, got.Stream)
	assert.Equal(t, 64, got.Options.NumPredict)
	assert.Equal(t, defaultTemperature, got.Options.Temperature)
	assert.Contains(t, got.Prompt, "- email:")
}

func TestOllama_EmptyResponseFails(t *testing.T) {
	url := ollamaServer(t, []string{"llama3"}, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Done: true})
	})
	o := NewOllama(LLMConfig{BaseURL: url, Model: "llama3"}, WithRetry(fastRetry()))

	_, err := o.Extract(context.Background(), "hi", extraction.Hint{})
	assert.ErrorIs(t, err, errEmptyCompletion)
}
