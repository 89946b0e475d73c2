package pipeline

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/formextract/internal/confidence"
)

// Defaults.
const (
	DefaultMaxInputLength = 2000
)

// Config tunes a Pipeline.
type Config struct {
	// AcceptanceThreshold marks fields scoring below it as low confidence.
	AcceptanceThreshold float64 `koanf:"confidence_acceptance_threshold"`
	// CacheBoost is added to every score when the input matched a learned
	// pattern.
	CacheBoost float64 `koanf:"cache_boost"`
	// MaxInputLength is the longest accepted input, in characters.
	MaxInputLength int `koanf:"max_input_length"`
	// RequiredFields lists the form's fields in display order. Fields a
	// backend returns outside this list are dropped.
	RequiredFields []string `koanf:"required_fields"`
	// Labels overrides the human-readable field names used in messages.
	Labels map[string]string `koanf:"labels"`
}

// NewDefaultConfig returns the four-field contact form.
func NewDefaultConfig() Config {
	return Config{
		AcceptanceThreshold: confidence.DefaultAcceptThreshold,
		CacheBoost:          confidence.DefaultCacheBoost,
		MaxInputLength:      DefaultMaxInputLength,
		RequiredFields:      []string{"name", "email", "phone", "address"},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.AcceptanceThreshold < 0 || c.AcceptanceThreshold > 1 {
		return fmt.Errorf("confidence_acceptance_threshold must be in [0,1], got %g", c.AcceptanceThreshold)
	}
	if c.CacheBoost < 0 || c.CacheBoost > 1 {
		return fmt.Errorf("cache_boost must be in [0,1], got %g", c.CacheBoost)
	}
	if c.MaxInputLength < 1 {
		return fmt.Errorf("max_input_length must be >= 1, got %d", c.MaxInputLength)
	}
	if len(c.RequiredFields) == 0 {
		return fmt.Errorf("required_fields must not be empty")
	}
	seen := make(map[string]bool, len(c.RequiredFields))
	for _, f := range c.RequiredFields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("required_fields contains a blank name")
		}
		if seen[f] {
			return fmt.Errorf("required_fields lists %q twice", f)
		}
		seen[f] = true
	}
	return nil
}

var defaultLabels = map[string]string{
	"name":    "Full Name",
	"email":   "Email Address",
	"phone":   "Phone Number",
	"address": "Address",
}

// Label returns the display name of field.
func (c Config) Label(field string) string {
	if l, ok := c.Labels[field]; ok && l != "" {
		return l
	}
	if l, ok := defaultLabels[field]; ok {
		return l
	}
	return strings.ReplaceAll(field, "_", " ")
}
