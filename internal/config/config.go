// Package config loads formextract configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/formextract/internal/backends"
	"github.com/fyrsmithlabs/formextract/internal/extraction"
	"github.com/fyrsmithlabs/formextract/internal/logging"
	"github.com/fyrsmithlabs/formextract/internal/patterncache"
	"github.com/fyrsmithlabs/formextract/internal/pipeline"
	"github.com/fyrsmithlabs/formextract/internal/telemetry"
)

// DefaultCachePath is where learned patterns are kept unless cache.path is set.
const DefaultCachePath = "~/.config/formextract/pattern_cache.json"

// Config holds the complete formextract configuration.
type Config struct {
	Server    ServerConfig        `koanf:"server"`
	Logging   *logging.Config     `koanf:"logging"`
	Telemetry *telemetry.Config   `koanf:"telemetry"`
	Cache     patterncache.Config `koanf:"cache"`
	Pipeline  pipeline.Config     `koanf:"pipeline"`
	Backends  BackendsConfig      `koanf:"backends"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// SessionTTL is how long an idle form session is kept.
	SessionTTL  Duration `koanf:"session_ttl"`
	MaxSessions int      `koanf:"max_sessions"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BackendsConfig selects and tunes the extraction backends.
type BackendsConfig struct {
	// Priority lists backend names in dispatch order. Aliases such as
	// "demo" and "claude" are accepted.
	Priority []string `koanf:"priority"`
	// Timeout bounds each backend call.
	Timeout   Duration      `koanf:"timeout"`
	OpenAI    LLMConfig     `koanf:"openai"`
	Ollama    LLMConfig     `koanf:"ollama"`
	Anthropic LLMConfig     `koanf:"anthropic"`
	Retry     RetryConfig   `koanf:"retry"`
	Breaker   BreakerConfig `koanf:"breaker"`

	ids []extraction.BackendID
}

// LLMConfig configures one model-backed backend.
type LLMConfig struct {
	APIKey      Secret  `koanf:"api_key"`
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
	// RatePerMinute caps requests. Zero uses the default; negative disables.
	RatePerMinute float64  `koanf:"rate_per_minute"`
	Timeout       Duration `koanf:"timeout"`
}

// RetryConfig tunes backend retries.
type RetryConfig struct {
	MaxRetries      int      `koanf:"max_retries"`
	InitialInterval Duration `koanf:"initial_interval"`
	MaxInterval     Duration `koanf:"max_interval"`
}

// BreakerConfig tunes the per-backend circuit breaker.
type BreakerConfig struct {
	Enabled      bool     `koanf:"enabled"`
	MaxRequests  uint32   `koanf:"max_requests"`
	Interval     Duration `koanf:"interval"`
	Timeout      Duration `koanf:"timeout"`
	FailureRatio float64  `koanf:"failure_ratio"`
	MinRequests  uint32   `koanf:"min_requests"`
}

// NewDefaultConfig returns the built-in defaults.
func NewDefaultConfig() *Config {
	cache := patterncache.NewDefaultConfig()
	cache.Path = DefaultCachePath

	retry := backends.DefaultRetryConfig()
	breaker := backends.DefaultBreakerConfig()

	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ShutdownTimeout: Duration(10 * time.Second),
			SessionTTL:      Duration(30 * time.Minute),
			MaxSessions:     10000,
		},
		Logging:   logging.NewDefaultConfig(),
		Telemetry: telemetry.NewDefaultConfig(),
		Cache:     cache,
		Pipeline:  pipeline.NewDefaultConfig(),
		Backends: BackendsConfig{
			Priority: []string{"regex", "ollama", "openai"},
			Timeout:  Duration(extraction.DefaultBackendTimeout),
			Retry: RetryConfig{
				MaxRetries:      retry.MaxRetries,
				InitialInterval: Duration(retry.InitialInterval),
				MaxInterval:     Duration(retry.MaxInterval),
			},
			Breaker: BreakerConfig{
				Enabled:      breaker.Enabled,
				MaxRequests:  breaker.MaxRequests,
				Interval:     Duration(breaker.Interval),
				Timeout:      Duration(breaker.Timeout),
				FailureRatio: breaker.FailureRatio,
				MinRequests:  breaker.MinRequests,
			},
		},
	}
}

// Validate checks the configuration and resolves backend names.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.SessionTTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.Server.MaxSessions < 1 {
		return fmt.Errorf("max sessions must be >= 1, got %d", c.Server.MaxSessions)
	}
	if c.Logging == nil {
		return errors.New("logging config is missing")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Telemetry == nil {
		return errors.New("telemetry config is missing")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Backends.validate(); err != nil {
		return fmt.Errorf("backends: %w", err)
	}
	return nil
}

func (b *BackendsConfig) validate() error {
	ids, err := extraction.ParseBackendIDs(b.Priority)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.New("priority must name at least one backend")
	}
	for _, id := range ids {
		if !id.Dispatchable() {
			return fmt.Errorf("backend %q cannot be dispatched", id)
		}
	}
	if b.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if b.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", b.Retry.MaxRetries)
	}
	if b.Breaker.Enabled && (b.Breaker.FailureRatio <= 0 || b.Breaker.FailureRatio > 1) {
		return fmt.Errorf("breaker.failure_ratio must be in (0,1], got %g", b.Breaker.FailureRatio)
	}
	for name, l := range map[string]LLMConfig{"openai": b.OpenAI, "ollama": b.Ollama, "anthropic": b.Anthropic} {
		if l.Temperature < 0 || l.Temperature > 2 {
			return fmt.Errorf("%s.temperature must be in [0,2], got %g", name, l.Temperature)
		}
		if l.MaxTokens < 0 {
			return fmt.Errorf("%s.max_tokens must be >= 0, got %d", name, l.MaxTokens)
		}
		if l.BaseURL != "" && !strings.HasPrefix(l.BaseURL, "http://") && !strings.HasPrefix(l.BaseURL, "https://") {
			return fmt.Errorf("%s.base_url must be an http(s) URL, got %q", name, l.BaseURL)
		}
	}
	b.ids = ids
	return nil
}

// PriorityIDs returns the resolved dispatch order. It is empty until
// Validate succeeds.
func (b BackendsConfig) PriorityIDs() []extraction.BackendID {
	return append([]extraction.BackendID(nil), b.ids...)
}

// Settings converts the section into backend factory settings.
func (b BackendsConfig) Settings() backends.Settings {
	return backends.Settings{
		Priority:  b.PriorityIDs(),
		OpenAI:    b.OpenAI.settings(),
		Ollama:    b.Ollama.settings(),
		Anthropic: b.Anthropic.settings(),
		Retry: backends.RetryConfig{
			MaxRetries:      b.Retry.MaxRetries,
			InitialInterval: b.Retry.InitialInterval.Duration(),
			MaxInterval:     b.Retry.MaxInterval.Duration(),
		},
		Breaker: backends.BreakerConfig{
			Enabled:      b.Breaker.Enabled,
			MaxRequests:  b.Breaker.MaxRequests,
			Interval:     b.Breaker.Interval.Duration(),
			Timeout:      b.Breaker.Timeout.Duration(),
			FailureRatio: b.Breaker.FailureRatio,
			MinRequests:  b.Breaker.MinRequests,
		},
	}
}

func (l LLMConfig) settings() backends.LLMConfig {
	return backends.LLMConfig{
		APIKey:        l.APIKey.Value(),
		Model:         l.Model,
		BaseURL:       l.BaseURL,
		Temperature:   l.Temperature,
		MaxTokens:     l.MaxTokens,
		RatePerMinute: l.RatePerMinute,
		Timeout:       l.Timeout.Duration(),
	}
}
