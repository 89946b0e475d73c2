package backends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
	"github.com/fyrsmithlabs/formextract/internal/logging"
)

// Anthropic extracts fields with the Claude messages API.
type Anthropic struct {
	cfg     LLMConfig
	client  anthropic.Client
	limiter *rate.Limiter
	retry   RetryConfig
	logger  *logging.Logger
}

var _ extraction.Extractor = (*Anthropic)(nil)

// anthropicError is the error envelope returned by the messages API.
type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropic creates the backend. Without an API key it reports itself
// unavailable.
func NewAnthropic(cfg LLMConfig, opts ...Option) *Anthropic {
	cfg = cfg.withDefaults(defaultAnthropicBaseURL, defaultAnthropicModel)
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	o := buildOptions(cfg.Timeout, opts)

	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL+"/"),
		option.WithHTTPClient(o.httpClient),
		// Retries are driven by withRetry.
		option.WithMaxRetries(0),
	)

	return &Anthropic{
		cfg:     cfg,
		client:  client,
		limiter: newLimiter(cfg.RatePerMinute),
		retry:   o.retry,
		logger:  o.logger.Named("anthropic"),
	}
}

// ID implements extraction.Extractor.
func (a *Anthropic) ID() extraction.BackendID { return extraction.BackendAnthropic }

// Available reports whether an API key is configured.
func (a *Anthropic) Available(context.Context) bool {
	return a.cfg.APIKey != ""
}

// Extract implements extraction.Extractor.
func (a *Anthropic) Extract(ctx context.Context, text string, hint extraction.Hint) (extraction.Fields, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter error: %w", err)
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.cfg.Model),
		MaxTokens:   int64(a.cfg.MaxTokens),
		Temperature: anthropic.Float(a.cfg.Temperature),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(text, hint))),
		},
	}

	content, err := withRetry(ctx, a.retry, func() (string, error) {
		msg, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return "", classifyAnthropicError(ctx, err)
		}
		for _, block := range msg.Content {
			if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
				return block.Text, nil
			}
		}
		return "", errEmptyCompletion
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	fields, err := parseFields(content)
	if err != nil {
		a.logger.Debug(ctx, "unparseable model output", logging.RedactedString("content", content))
		return nil, err
	}
	a.logger.Debug(ctx, "anthropic extraction complete",
		zap.String("model", a.cfg.Model),
		zap.Int("fields", len(fields)))
	return fields, nil
}

func classifyAnthropicError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return &retryableError{err: err}
	}
	var body anthropicError
	if jerr := json.Unmarshal([]byte(apiErr.RawJSON()), &body); jerr == nil && body.Error.Message != "" {
		return statusError(apiErr.StatusCode, body.Error.Message)
	}
	return statusError(apiErr.StatusCode, apiErr.Error())
}
