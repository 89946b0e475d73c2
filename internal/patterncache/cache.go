package patterncache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/formextract/internal/extraction"
	"github.com/fyrsmithlabs/formextract/internal/logging"
)

const topPatternCount = 5

// Cache is the pattern store. It is safe for concurrent use; lookups share
// a read lock and every mutation holds the write lock.
type Cache struct {
	cfg     Config
	store   Store
	logger  *logging.Logger
	metrics *Metrics
	now     func() time.Time
	hasher  *bucketHasher

	mu            sync.RWMutex
	patterns      map[string]*PatternEntry
	buckets       map[string][]*PatternEntry
	fieldPatterns map[string][]FieldPattern
	version       uint64

	flush   chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	saveMu  sync.Mutex
	savedAt uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty cache persisting through store. A nil store keeps
// the cache in memory. Call Load to rehydrate and Close to flush.
func New(cfg Config, store Store, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = NopStore{}
	}

	c := &Cache{
		cfg:           cfg,
		store:         store,
		logger:        logging.Nop(),
		now:           time.Now,
		hasher:        newBucketHasher(),
		patterns:      make(map[string]*PatternEntry),
		buckets:       make(map[string][]*PatternEntry),
		fieldPatterns: make(map[string][]FieldPattern),
		flush:         make(chan struct{}, 1),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if !cfg.SyncWrites {
		c.wg.Add(1)
		go c.flushLoop()
	}
	return c, nil
}

// FindSimilar returns the best learned entry resembling text. It never
// mutates the cache.
func (c *Cache) FindSimilar(ctx context.Context, text string) (Match, bool) {
	start := time.Now()
	normalized := Normalize(text)
	if normalized == "" {
		c.metrics.recordLookup("miss", time.Since(start))
		return Match{}, false
	}
	bucket := c.hasher.key(normalized)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if best, score := c.bestOf(normalized, c.buckets[bucket], c.cfg.BucketSimilarityThreshold); best != nil {
		c.metrics.recordLookup(string(PathBucket), time.Since(start))
		c.logger.Debug(ctx, "pattern cache hit",
			zap.String("path", string(PathBucket)),
			zap.String("key", best.Key),
			zap.Float64("score", score))
		return Match{Entry: best.clone(), Score: score, Path: PathBucket}, true
	}

	if best, score := c.bestOf(normalized, c.recentLocked(c.cfg.FallbackScanLimit), c.cfg.FallbackSimilarityThreshold); best != nil {
		c.metrics.recordLookup(string(PathScan), time.Since(start))
		c.logger.Debug(ctx, "pattern cache hit",
			zap.String("path", string(PathScan)),
			zap.String("key", best.Key),
			zap.Float64("score", score))
		return Match{Entry: best.clone(), Score: score, Path: PathScan}, true
	}

	c.metrics.recordLookup("miss", time.Since(start))
	return Match{}, false
}

// bestOf returns the highest-scoring candidate whose score is strictly
// above threshold. A candidate scores the better of its template and its
// normalized raw input against the input.
func (c *Cache) bestOf(normalized string, candidates []*PatternEntry, threshold float64) (*PatternEntry, float64) {
	var best *PatternEntry
	bestScore := 0.0
	for _, e := range candidates {
		score := jaccard(normalized, e.Template)
		if raw := jaccard(normalized, Normalize(e.RawInput)); raw > score {
			score = raw
		}
		if score > threshold && score > bestScore {
			best, bestScore = e, score
		}
	}
	return best, bestScore
}

// recentLocked returns up to limit entries, most recently used first.
func (c *Cache) recentLocked(limit int) []*PatternEntry {
	all := make([]*PatternEntry, 0, len(c.patterns))
	for _, e := range c.patterns {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastUsedAt.Equal(all[j].LastUsedAt) {
			return all[i].LastUsedAt.After(all[j].LastUsedAt)
		}
		return all[i].Key < all[j].Key
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// LearnFromSuccess records that backend extracted fields from text. Blank
// values are ignored; with no non-blank value this is a no-op. Learning the
// same normalized text again bumps its success count.
func (c *Cache) LearnFromSuccess(ctx context.Context, text string, fields extraction.Fields, backend extraction.BackendID) {
	fields = fields.Clean()
	normalized := Normalize(text)
	if len(fields) == 0 || normalized == "" {
		return
	}

	key := entryKey(normalized)
	bucket := c.hasher.key(normalized)
	template := buildTemplate(normalized, fields)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	now := c.now()

	c.mu.Lock()
	kind := "repeat"
	if e, ok := c.patterns[key]; ok {
		e.SuccessCount++
		e.LastUsedAt = now
	} else {
		kind = "new"
		e := &PatternEntry{
			Key:           key,
			Template:      template,
			Fields:        names,
			SourceBackend: backend,
			SuccessCount:  1,
			CreatedAt:     now,
			LastUsedAt:    now,
			RawInput:      text,
		}
		c.patterns[key] = e
		c.buckets[bucket] = append(c.buckets[bucket], e)
	}

	for _, name := range names {
		c.upsertFieldPatternLocked(normalized, name, fields[name], now)
	}

	evicted := 0
	if len(c.patterns) > c.cfg.MaxPatterns {
		evicted = c.pruneLocked()
	}
	c.version++
	size := len(c.patterns)
	c.mu.Unlock()

	c.metrics.recordLearn(kind, evicted, size)
	c.logger.Debug(ctx, "learned extraction pattern",
		zap.String("key", key),
		zap.String("kind", kind),
		zap.Stringer("backend", backend),
		zap.Int("evicted", evicted))

	c.persist(ctx)
}

func (c *Cache) upsertFieldPatternLocked(normalized, field, value string, now time.Time) {
	pattern, ok := fieldWindow(normalized, field, value)
	if !ok {
		return
	}
	list := c.fieldPatterns[field]
	for i := range list {
		if structurallyEqual(list[i].Pattern, pattern) {
			list[i].Count++
			return
		}
	}
	list = append(list, FieldPattern{Pattern: pattern, Count: 1, CreatedAt: now})
	if len(list) > c.cfg.FieldPatternLimit {
		sortFieldPatterns(list)
		list = list[:c.cfg.FieldPatternLimit]
	}
	c.fieldPatterns[field] = list
}

// pruneLocked keeps the MaxPatterns entries with the highest success count,
// preferring recently used entries on ties, and rebuilds the bucket index.
func (c *Cache) pruneLocked() int {
	ranked := make([]*PatternEntry, 0, len(c.patterns))
	for _, e := range c.patterns {
		ranked = append(ranked, e)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.SuccessCount != b.SuccessCount {
			return a.SuccessCount > b.SuccessCount
		}
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.After(b.LastUsedAt)
		}
		return a.Key < b.Key
	})

	evicted := 0
	for _, e := range ranked[c.cfg.MaxPatterns:] {
		delete(c.patterns, e.Key)
		evicted++
	}
	c.rebuildIndexLocked()
	return evicted
}

func (c *Cache) rebuildIndexLocked() {
	c.buckets = make(map[string][]*PatternEntry, len(c.patterns))
	keys := make([]string, 0, len(c.patterns))
	for k := range c.patterns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e := c.patterns[k]
		b := c.hasher.key(Normalize(e.RawInput))
		c.buckets[b] = append(c.buckets[b], e)
	}
}

// FieldPatterns returns the learned patterns for field, most frequent first.
func (c *Cache) FieldPatterns(field string) []FieldPattern {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := append([]FieldPattern(nil), c.fieldPatterns[field]...)
	sortFieldPatterns(out)
	return out
}

// Get returns a copy of the entry stored under key.
func (c *Cache) Get(key string) (PatternEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.patterns[key]
	if !ok {
		return PatternEntry{}, false
	}
	return e.clone(), true
}

// KeyFor returns the entry key text would be stored under.
func KeyFor(text string) string {
	return entryKey(Normalize(text))
}

// Len returns the number of learned entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.patterns)
}

// Stats summarises the cache.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fp := make(map[string]int, len(c.fieldPatterns))
	for f, list := range c.fieldPatterns {
		fp[f] = len(list)
	}

	top := make([]TopPattern, 0, len(c.patterns))
	for k, e := range c.patterns {
		top = append(top, TopPattern{Key: k, SuccessCount: e.SuccessCount})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].SuccessCount != top[j].SuccessCount {
			return top[i].SuccessCount > top[j].SuccessCount
		}
		return top[i].Key < top[j].Key
	})
	if len(top) > topPatternCount {
		top = top[:topPatternCount]
	}

	return Stats{TotalPatterns: len(c.patterns), FieldPatterns: fp, Top: top}
}

// Clear removes every entry and field pattern.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.patterns = make(map[string]*PatternEntry)
	c.buckets = make(map[string][]*PatternEntry)
	c.fieldPatterns = make(map[string][]FieldPattern)
	c.version++
	c.mu.Unlock()

	c.metrics.setEntries(0)
	c.logger.Info(ctx, "pattern cache cleared")
	c.persist(ctx)
}

// Snapshot returns a deep copy of the cache contents.
func (c *Cache) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Cache) snapshotLocked() *Snapshot {
	s := &Snapshot{
		Patterns:      make(map[string]*PatternEntry, len(c.patterns)),
		FieldPatterns: make(map[string][]FieldPattern, len(c.fieldPatterns)),
		UpdatedAt:     c.now().UTC(),
	}
	for k, e := range c.patterns {
		cp := e.clone()
		s.Patterns[k] = &cp
	}
	for f, list := range c.fieldPatterns {
		s.FieldPatterns[f] = append([]FieldPattern(nil), list...)
	}
	return s
}
