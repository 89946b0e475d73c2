package patterncache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
)

// stepClock returns a strictly increasing time on every call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestCache(t *testing.T, mutate func(*Config)) *Cache {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.SyncWrites = true
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg, nil, WithClock(stepClock()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

const sampleInput = "my name is John Doe and my email is john@example.com"

var sampleFields = extraction.Fields{"name": "John Doe", "email": "john@example.com"}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.MaxPatterns = 0
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestLearnThenFind_SelfConsistent(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	c.LearnFromSuccess(ctx, sampleInput, sampleFields, extraction.BackendRegex)

	m, ok := c.FindSimilar(ctx, sampleInput)
	require.True(t, ok)
	assert.Equal(t, PathBucket, m.Path)
	assert.Equal(t, 1.0, m.Score)
	assert.Equal(t, "my name is {name} and my email is {email}", m.Entry.Template)
	assert.Equal(t, []string{"email", "name"}, m.Entry.Fields)
	assert.Equal(t, extraction.BackendRegex, m.Entry.SourceBackend)
	assert.Equal(t, sampleInput, m.Entry.RawInput)

	// Whitespace and case differences normalize to the same entry.
	m, ok = c.FindSimilar(ctx, "  MY name is john   doe and my email is JOHN@example.com")
	require.True(t, ok)
	assert.Equal(t, KeyFor(sampleInput), m.Entry.Key)
}

func TestLearn_Idempotent(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	c.LearnFromSuccess(ctx, sampleInput, sampleFields, extraction.BackendRegex)
	first, ok := c.Get(KeyFor(sampleInput))
	require.True(t, ok)
	assert.Equal(t, 1, first.SuccessCount)

	c.LearnFromSuccess(ctx, sampleInput, sampleFields, extraction.BackendRegex)
	second, ok := c.Get(KeyFor(sampleInput))
	require.True(t, ok)

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 2, second.SuccessCount)
	assert.True(t, second.LastUsedAt.After(first.LastUsedAt))
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestLearn_EmptyFieldsIsNoop(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	c.LearnFromSuccess(ctx, sampleInput, nil, extraction.BackendRegex)
	c.LearnFromSuccess(ctx, sampleInput, extraction.Fields{"name": "  "}, extraction.BackendRegex)
	c.LearnFromSuccess(ctx, "   ", sampleFields, extraction.BackendRegex)

	assert.Zero(t, c.Len())
	assert.Empty(t, c.FieldPatterns("name"))
}

func TestFindSimilar_DoesNotMutate(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()
	c.LearnFromSuccess(ctx, sampleInput, sampleFields, extraction.BackendRegex)

	before, _ := c.Get(KeyFor(sampleInput))
	statsBefore := c.Stats()

	m, ok := c.FindSimilar(ctx, sampleInput)
	require.True(t, ok)
	m.Entry.Fields[0] = "changed"
	m.Entry.SuccessCount = 99

	after, _ := c.Get(KeyFor(sampleInput))
	assert.Equal(t, before, after)
	assert.Equal(t, statsBefore, c.Stats())
}

func TestFindSimilar_FallbackScan(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	c.LearnFromSuccess(ctx,
		"hello there my name is john doe and my email is john@example.com",
		sampleFields, extraction.BackendOpenAI)

	m, ok := c.FindSimilar(ctx, "hi there my name is john doe and my email is john@example.com")
	require.True(t, ok)
	assert.Equal(t, PathScan, m.Path)
	assert.Greater(t, m.Score, DefaultFallbackSimilarityThreshold)
}

func TestFindSimilar_FallbackScanLimit(t *testing.T) {
	c := newTestCache(t, func(cfg *Config) { cfg.FallbackScanLimit = 1 })
	ctx := context.Background()

	c.LearnFromSuccess(ctx,
		"hello there my name is john doe and my email is john@example.com",
		sampleFields, extraction.BackendOpenAI)
	// A newer, unrelated entry pushes the first out of the scan window.
	c.LearnFromSuccess(ctx, "my phone is 555-123-4567", extraction.Fields{"phone": "555-123-4567"}, extraction.BackendRegex)

	_, ok := c.FindSimilar(ctx, "hi there my name is john doe and my email is john@example.com")
	assert.False(t, ok)
}

func TestFindSimilar_Miss(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()
	c.LearnFromSuccess(ctx, sampleInput, sampleFields, extraction.BackendRegex)

	_, ok := c.FindSimilar(ctx, "the weather is lovely today")
	assert.False(t, ok)

	_, ok = c.FindSimilar(ctx, "")
	assert.False(t, ok)
}

func TestPrune_KeepsHighestSuccessCounts(t *testing.T) {
	c := newTestCache(t, func(cfg *Config) { cfg.MaxPatterns = 3 })
	ctx := context.Background()

	learn := func(i, times int) {
		text := fmt.Sprintf("entry %d phone %d", i, 5550000+i)
		for n := 0; n < times; n++ {
			c.LearnFromSuccess(ctx, text, extraction.Fields{"phone": fmt.Sprint(5550000 + i)}, extraction.BackendRegex)
		}
	}
	learn(1, 5)
	learn(2, 1)
	learn(3, 3)
	learn(4, 2)

	require.Equal(t, 3, c.Len())

	snap := c.Snapshot()
	var counts []int
	for _, e := range snap.Patterns {
		counts = append(counts, e.SuccessCount)
	}
	assert.ElementsMatch(t, []int{5, 3, 2}, counts)
	_, ok := c.Get(KeyFor("entry 2 phone 5550002"))
	assert.False(t, ok)

	// The bucket index no longer references evicted entries.
	_, ok = c.FindSimilar(ctx, "entry 2 phone 5550002")
	assert.False(t, ok)
	_, ok = c.FindSimilar(ctx, "entry 1 phone 5550001")
	assert.True(t, ok)
}

func TestPrune_TiesPreferRecent(t *testing.T) {
	c := newTestCache(t, func(cfg *Config) { cfg.MaxPatterns = 2 })
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		c.LearnFromSuccess(ctx, fmt.Sprintf("name %d is jane", i), extraction.Fields{"name": "jane"}, extraction.BackendRegex)
	}
	_, ok := c.Get(KeyFor("name 1 is jane"))
	assert.False(t, ok)
	_, ok = c.Get(KeyFor("name 3 is jane"))
	assert.True(t, ok)
}

func TestFieldPatterns(t *testing.T) {
	c := newTestCache(t, func(cfg *Config) { cfg.FieldPatternLimit = 2 })
	ctx := context.Background()

	c.LearnFromSuccess(ctx, "my email is a@b.co", extraction.Fields{"email": "a@b.co"}, extraction.BackendRegex)
	c.LearnFromSuccess(ctx, "my email is c@d.co", extraction.Fields{"email": "c@d.co"}, extraction.BackendRegex)
	c.LearnFromSuccess(ctx, "reach me at e@f.co", extraction.Fields{"email": "e@f.co"}, extraction.BackendRegex)
	c.LearnFromSuccess(ctx, "write to g@h.co", extraction.Fields{"email": "g@h.co"}, extraction.BackendRegex)

	patterns := c.FieldPatterns("email")
	require.Len(t, patterns, 2)
	assert.Equal(t, "my email is {email}", patterns[0].Pattern)
	assert.Equal(t, 2, patterns[0].Count)
	assert.Equal(t, "reach me at {email}", patterns[1].Pattern)

	assert.Empty(t, c.FieldPatterns("phone"))
}

func TestStatsAndClear(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		text := fmt.Sprintf("my name is person%d", i)
		for n := 0; n <= i; n++ {
			c.LearnFromSuccess(ctx, text, extraction.Fields{"name": fmt.Sprintf("person%d", i)}, extraction.BackendRegex)
		}
	}

	stats := c.Stats()
	assert.Equal(t, 7, stats.TotalPatterns)
	assert.Equal(t, 1, stats.FieldPatterns["name"])
	require.Len(t, stats.Top, 5)
	assert.Equal(t, 7, stats.Top[0].SuccessCount)
	assert.Equal(t, 3, stats.Top[4].SuccessCount)

	c.Clear(ctx)
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Stats().TotalPatterns)
	_, ok := c.FindSimilar(ctx, "my name is person6")
	assert.False(t, ok)
}

func TestCache_ConcurrentUse(t *testing.T) {
	c := newTestCache(t, func(cfg *Config) { cfg.MaxPatterns = 50 })
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				text := fmt.Sprintf("worker %d says my email is u%d@example.com", w, i)
				c.LearnFromSuccess(ctx, text, extraction.Fields{"email": fmt.Sprintf("u%d@example.com", i)}, extraction.BackendRegex)
				c.FindSimilar(ctx, text)
				c.Stats()
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}
