package backends

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
	"github.com/fyrsmithlabs/formextract/internal/logging"
)

// OpenAI extracts fields with the OpenAI chat completions API in JSON mode.
type OpenAI struct {
	cfg     LLMConfig
	client  openai.Client
	limiter *rate.Limiter
	retry   RetryConfig
	logger  *logging.Logger
}

var _ extraction.Extractor = (*OpenAI)(nil)

// NewOpenAI creates the backend. A missing API key is not an error; the
// backend then reports itself unavailable.
func NewOpenAI(cfg LLMConfig, opts ...Option) *OpenAI {
	cfg = cfg.withDefaults(defaultOpenAIBaseURL, defaultOpenAIModel)
	o := buildOptions(cfg.Timeout, opts)

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(o.httpClient),
		// Retries are driven by withRetry.
		option.WithMaxRetries(0),
	)

	return &OpenAI{
		cfg:     cfg,
		client:  client,
		limiter: newLimiter(cfg.RatePerMinute),
		retry:   o.retry,
		logger:  o.logger.Named("openai"),
	}
}

// ID implements extraction.Extractor.
func (o *OpenAI) ID() extraction.BackendID { return extraction.BackendOpenAI }

// Available reports whether an API key is configured.
func (o *OpenAI) Available(context.Context) bool {
	return o.cfg.APIKey != "" && o.cfg.APIKey != placeholderAPIKey
}

// Extract implements extraction.Extractor.
func (o *OpenAI) Extract(ctx context.Context, text string, hint extraction.Hint) (extraction.Fields, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter error: %w", err)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(text, hint)),
		},
		Temperature: openai.Float(o.cfg.Temperature),
		MaxTokens:   openai.Int(int64(o.cfg.MaxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	}

	content, err := withRetry(ctx, o.retry, func() (string, error) {
		resp, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", classifyOpenAIError(ctx, err)
		}
		if len(resp.Choices) == 0 {
			return "", errEmptyCompletion
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}

	fields, err := parseFields(content)
	if err != nil {
		o.logger.Debug(ctx, "unparseable model output", logging.RedactedString("content", content))
		return nil, err
	}
	o.logger.Debug(ctx, "openai extraction complete",
		zap.String("model", o.cfg.Model),
		zap.Int("fields", len(fields)))
	return fields, nil
}

func classifyOpenAIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return statusError(apiErr.StatusCode, apiErr.Message)
	}
	// Transport failures carry no status.
	return &retryableError{err: err}
}
