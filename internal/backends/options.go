package backends

import (
	"net/http"
	"time"

	"github.com/fyrsmithlabs/formextract/internal/logging"
)

// Default configuration values.
const (
	defaultOpenAIBaseURL    = "https://api.openai.com/v1/"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-haiku-20241022"
	defaultOllamaBaseURL    = "http://localhost:11434"
	defaultOllamaModel      = "gpt-oss:20b"
	defaultTemperature      = 0.1
	defaultMaxTokens        = 150
	defaultHTTPTimeout      = 30 * time.Second
	defaultRatePerMinute    = 50.0
	defaultBurst            = 5
	availabilityTimeout     = 5 * time.Second
)

// placeholderAPIKey is the value shipped in sample env files.
const placeholderAPIKey = "your-actual-openai-api-key-here"

// LLMConfig configures one LLM backend.
type LLMConfig struct {
	APIKey      string `json:"-"` // Never serialize API keys
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	// RatePerMinute caps outgoing requests. Zero uses the default; a
	// negative value disables limiting.
	RatePerMinute float64
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
}

func (c LLMConfig) withDefaults(baseURL, model string) LLMConfig {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.Temperature <= 0 {
		c.Temperature = defaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.RatePerMinute == 0 {
		c.RatePerMinute = defaultRatePerMinute
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultHTTPTimeout
	}
	return c
}

type options struct {
	logger     *logging.Logger
	httpClient *http.Client
	retry      RetryConfig
}

// Option configures a backend.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHTTPClient replaces the HTTP client built from the backend timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(r RetryConfig) Option {
	return func(o *options) { o.retry = r }
}

func buildOptions(timeout time.Duration, opts []Option) options {
	o := options{
		logger: logging.Nop(),
		retry:  DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: timeout}
	}
	return o
}
