package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
	"github.com/fyrsmithlabs/formextract/internal/logging"
)

// Ollama extracts fields with a local Ollama server's generate endpoint in
// JSON format mode.
type Ollama struct {
	cfg        LLMConfig
	httpClient *http.Client
	retry      RetryConfig
	logger     *logging.Logger
}

var _ extraction.Extractor = (*Ollama)(nil)

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Format  string        `json:"format"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllama creates the backend. APIKey and RatePerMinute are ignored.
func NewOllama(cfg LLMConfig, opts ...Option) *Ollama {
	cfg = cfg.withDefaults(defaultOllamaBaseURL, defaultOllamaModel)
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	o := buildOptions(cfg.Timeout, opts)
	return &Ollama{
		cfg:        cfg,
		httpClient: o.httpClient,
		retry:      o.retry,
		logger:     o.logger.Named("ollama"),
	}
}

// ID implements extraction.Extractor.
func (o *Ollama) ID() extraction.BackendID { return extraction.BackendOllama }

// Available reports whether the server is reachable and has the configured
// model pulled. A model without a tag also matches its ":latest" variant.
func (o *Ollama) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Debug(ctx, "ollama not reachable", zap.String("url", o.cfg.BaseURL), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		if m.Name == o.cfg.Model || (!strings.Contains(o.cfg.Model, ":") && m.Name == o.cfg.Model+":latest") {
			return true
		}
	}
	o.logger.Debug(ctx, "ollama model not pulled", zap.String("model", o.cfg.Model))
	return false
}

// Extract implements extraction.Extractor.
func (o *Ollama) Extract(ctx context.Context, text string, hint extraction.Hint) (extraction.Fields, error) {
	payload, err := json.Marshal(ollamaGenerateRequest{
		Model:  o.cfg.Model,
		Prompt: buildPrompt(text, hint),
		Format: "json",
		Options: ollamaOptions{
			Temperature: o.cfg.Temperature,
			NumPredict:  o.cfg.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	content, err := withRetry(ctx, o.retry, func() (string, error) {
		return o.generate(ctx, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("ollama generate: %w", err)
	}

	fields, err := parseFields(content)
	if err != nil {
		o.logger.Debug(ctx, "unparseable model output", logging.RedactedString("content", content))
		return nil, err
	}
	return fields, nil
}

func (o *Ollama) generate(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var gen ollamaGenerateResponse
	if err := json.Unmarshal(body, &gen); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if strings.TrimSpace(gen.Response) == "" {
		return "", errEmptyCompletion
	}
	return gen.Response, nil
}
