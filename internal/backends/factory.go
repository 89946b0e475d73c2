package backends

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
	"github.com/fyrsmithlabs/formextract/internal/logging"
)

// Settings configures every backend the factory can build.
type Settings struct {
	// Priority is the dispatch order. Each backend appears at most once.
	Priority  []extraction.BackendID
	OpenAI    LLMConfig
	Ollama    LLMConfig
	Anthropic LLMConfig
	Retry     RetryConfig
	// Breaker wraps the LLM backends when enabled. The regex backend is
	// never wrapped.
	Breaker BreakerConfig
}

// Build creates the extractors named in s.Priority, in that order.
func Build(ctx context.Context, s Settings, logger *logging.Logger) ([]extraction.Extractor, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if len(s.Priority) == 0 {
		return nil, errors.New("backend priority is empty")
	}

	common := []Option{WithLogger(logger), WithRetry(s.Retry)}
	seen := make(map[extraction.BackendID]bool, len(s.Priority))
	out := make([]extraction.Extractor, 0, len(s.Priority))

	for _, id := range s.Priority {
		if seen[id] {
			return nil, fmt.Errorf("backend %s listed twice", id)
		}
		seen[id] = true

		var e extraction.Extractor
		switch id {
		case extraction.BackendRegex:
			out = append(out, NewRegex(WithLogger(logger)))
			continue
		case extraction.BackendOpenAI:
			e = NewOpenAI(s.OpenAI, common...)
		case extraction.BackendOllama:
			e = NewOllama(s.Ollama, common...)
		case extraction.BackendAnthropic:
			e = NewAnthropic(s.Anthropic, common...)
		default:
			return nil, fmt.Errorf("backend %s cannot be dispatched", id)
		}
		if s.Breaker.Enabled {
			e = NewBreaker(e, s.Breaker, logger.Named("breaker"))
		}
		out = append(out, e)
	}

	logger.Info(ctx, "extraction backends configured", zap.Stringers("priority", s.Priority))
	return out, nil
}
