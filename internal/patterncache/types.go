package patterncache

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
)

// PatternEntry is one learned extraction.
type PatternEntry struct {
	Key           string               `json:"key"`
	Template      string               `json:"template"`
	Fields        []string             `json:"fields"`
	SourceBackend extraction.BackendID `json:"source_backend"`
	SuccessCount  int                  `json:"success_count"`
	CreatedAt     time.Time            `json:"created_at"`
	LastUsedAt    time.Time            `json:"last_used_at"`
	RawInput      string               `json:"raw_input"`
}

func (e *PatternEntry) clone() PatternEntry {
	out := *e
	out.Fields = append([]string(nil), e.Fields...)
	return out
}

// FieldPattern is the text surrounding a field value, with the value
// replaced by its placeholder.
type FieldPattern struct {
	Pattern   string    `json:"pattern"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}

// MatchPath tells which lookup stage produced a match.
type MatchPath string

const (
	PathBucket MatchPath = "bucket"
	PathScan   MatchPath = "scan"
)

// Match is a FindSimilar hit. Entry is a copy; changing it does not affect
// the cache.
type Match struct {
	Entry PatternEntry `json:"entry"`
	Score float64      `json:"score"`
	Path  MatchPath    `json:"path"`
}

// TopPattern is one row of Stats.Top.
type TopPattern struct {
	Key          string `json:"key"`
	SuccessCount int    `json:"success_count"`
}

// Stats summarises the cache contents.
type Stats struct {
	TotalPatterns int            `json:"total_patterns"`
	FieldPatterns map[string]int `json:"field_patterns"`
	Top           []TopPattern   `json:"top_patterns"`
}

// Snapshot is the persisted form of the cache.
type Snapshot struct {
	Patterns      map[string]*PatternEntry  `json:"patterns"`
	FieldPatterns map[string][]FieldPattern `json:"field_patterns"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

// Config bounds and tunes the cache.
type Config struct {
	// Path of the JSON snapshot file. Empty keeps the cache in memory only.
	Path                        string  `koanf:"path"`
	MaxPatterns                 int     `koanf:"max_patterns"`
	BucketSimilarityThreshold   float64 `koanf:"bucket_similarity_threshold"`
	FallbackSimilarityThreshold float64 `koanf:"fallback_similarity_threshold"`
	FallbackScanLimit           int     `koanf:"fallback_scan_limit"`
	FieldPatternLimit           int     `koanf:"field_pattern_limit"`
	// SyncWrites saves inline after each mutation instead of handing the
	// write to the background flusher.
	SyncWrites bool `koanf:"sync_writes"`
}

const (
	DefaultMaxPatterns                 = 1000
	DefaultBucketSimilarityThreshold   = 0.7
	DefaultFallbackSimilarityThreshold = 0.6
	DefaultFallbackScanLimit           = 100
	DefaultFieldPatternLimit           = 20
)

// NewDefaultConfig returns the default tuning with no persistence path.
func NewDefaultConfig() Config {
	return Config{
		MaxPatterns:                 DefaultMaxPatterns,
		BucketSimilarityThreshold:   DefaultBucketSimilarityThreshold,
		FallbackSimilarityThreshold: DefaultFallbackSimilarityThreshold,
		FallbackScanLimit:           DefaultFallbackScanLimit,
		FieldPatternLimit:           DefaultFieldPatternLimit,
	}
}

// Validate checks the tuning values.
func (c Config) Validate() error {
	if c.MaxPatterns < 1 {
		return fmt.Errorf("max_patterns must be >= 1, got %d", c.MaxPatterns)
	}
	if c.BucketSimilarityThreshold < 0 || c.BucketSimilarityThreshold >= 1 {
		return fmt.Errorf("bucket_similarity_threshold must be in [0,1), got %g", c.BucketSimilarityThreshold)
	}
	if c.FallbackSimilarityThreshold < 0 || c.FallbackSimilarityThreshold >= 1 {
		return fmt.Errorf("fallback_similarity_threshold must be in [0,1), got %g", c.FallbackSimilarityThreshold)
	}
	if c.FallbackScanLimit < 0 {
		return fmt.Errorf("fallback_scan_limit must be >= 0, got %d", c.FallbackScanLimit)
	}
	if c.FieldPatternLimit < 1 {
		return fmt.Errorf("field_pattern_limit must be >= 1, got %d", c.FieldPatternLimit)
	}
	return nil
}
