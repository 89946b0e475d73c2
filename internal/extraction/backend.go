package extraction

import (
	"fmt"
	"strings"
)

// BackendID identifies an extraction backend. Cached is never dispatched;
// it tags values served on the strength of a learned pattern.
type BackendID uint8

const (
	BackendUnknown BackendID = iota
	BackendRegex
	BackendOllama
	BackendOpenAI
	BackendAnthropic
	BackendCached
)

var backendNames = map[BackendID]string{
	BackendRegex:     "regex",
	BackendOllama:    "ollama",
	BackendOpenAI:    "openai",
	BackendAnthropic: "anthropic",
	BackendCached:    "cached",
}

// backendAliases maps accepted configuration names to their backend.
var backendAliases = map[string]BackendID{
	"regex":     BackendRegex,
	"demo":      BackendRegex,
	"fallback":  BackendRegex,
	"ollama":    BackendOllama,
	"openai":    BackendOpenAI,
	"anthropic": BackendAnthropic,
	"claude":    BackendAnthropic,
	"cached":    BackendCached,
}

// ParseBackendID resolves a configured name, including aliases, to a
// BackendID. Matching is case-insensitive.
func ParseBackendID(name string) (BackendID, error) {
	if id, ok := backendAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return id, nil
	}
	return BackendUnknown, fmt.Errorf("unknown extraction backend %q", name)
}

// ParseBackendIDs resolves a priority list. Duplicates after alias
// resolution are dropped, keeping the first position.
func ParseBackendIDs(names []string) ([]BackendID, error) {
	ids := make([]BackendID, 0, len(names))
	seen := make(map[BackendID]bool, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		id, err := ParseBackendID(n)
		if err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (b BackendID) String() string {
	if name, ok := backendNames[b]; ok {
		return name
	}
	return "unknown"
}

// Dispatchable reports whether b names a real backend a chain can call.
func (b BackendID) Dispatchable() bool {
	switch b {
	case BackendRegex, BackendOllama, BackendOpenAI, BackendAnthropic:
		return true
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (b BackendID) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and accepts aliases.
// Names this build does not know decode as BackendUnknown, so persisted
// data written by another build still loads. Configuration goes through
// ParseBackendID, which rejects them.
func (b *BackendID) UnmarshalText(text []byte) error {
	id, err := ParseBackendID(string(text))
	if err != nil {
		id = BackendUnknown
	}
	*b = id
	return nil
}
