package patterncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const saveTimeout = 10 * time.Second

// Store loads and saves cache snapshots.
type Store interface {
	// Load returns the stored snapshot, or nil when nothing is stored yet.
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, s *Snapshot) error
}

// NopStore keeps nothing.
type NopStore struct{}

func (NopStore) Load(context.Context) (*Snapshot, error) { return nil, nil }
func (NopStore) Save(context.Context, *Snapshot) error   { return nil }

// FileStore persists snapshots as a JSON file, replaced atomically on save.
type FileStore struct {
	path string
}

// NewFileStore returns a store for path. A leading "~/" expands to the
// user's home directory.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("pattern cache path is empty")
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return &FileStore{path: filepath.Clean(path)}, nil
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the snapshot. A missing file is not an error.
func (s *FileStore) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading pattern cache: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding pattern cache %s: %w", s.path, err)
	}
	return &snap, nil
}

// Save writes the snapshot to a temporary file and renames it into place.
func (s *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding pattern cache: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("setting cache file permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing pattern cache: %w", err)
	}
	return nil
}

// Load replaces the in-memory contents with the stored snapshot. Failures
// are logged and leave the cache empty. Entries without fields are dropped
// and success counts below one are raised to one.
func (c *Cache) Load(ctx context.Context) {
	snap, err := c.store.Load(ctx)
	if err != nil {
		c.metrics.recordPersistError("load")
		c.logger.Warn(ctx, "failed to load pattern cache, starting empty", zap.Error(err))
		return
	}
	if snap == nil {
		return
	}

	c.mu.Lock()
	c.patterns = make(map[string]*PatternEntry, len(snap.Patterns))
	dropped := 0
	for k, e := range snap.Patterns {
		if e == nil || len(e.Fields) == 0 {
			dropped++
			continue
		}
		entry := e.clone()
		entry.Key = k
		if entry.SuccessCount < 1 {
			entry.SuccessCount = 1
		}
		c.patterns[k] = &entry
	}
	c.fieldPatterns = make(map[string][]FieldPattern, len(snap.FieldPatterns))
	for f, list := range snap.FieldPatterns {
		if len(list) > c.cfg.FieldPatternLimit {
			list = append([]FieldPattern(nil), list...)
			sortFieldPatterns(list)
			list = list[:c.cfg.FieldPatternLimit]
		}
		c.fieldPatterns[f] = append([]FieldPattern(nil), list...)
	}
	evicted := 0
	if len(c.patterns) > c.cfg.MaxPatterns {
		evicted = c.pruneLocked()
	} else {
		c.rebuildIndexLocked()
	}
	size := len(c.patterns)
	c.mu.Unlock()

	c.metrics.setEntries(size)
	c.logger.Info(ctx, "pattern cache loaded",
		zap.Int("patterns", size),
		zap.Int("dropped", dropped),
		zap.Int("evicted", evicted))
}

// persist saves synchronously in SyncWrites mode or after Close, and
// otherwise wakes the flusher.
func (c *Cache) persist(ctx context.Context) {
	if c.cfg.SyncWrites || c.closed.Load() {
		c.save(ctx)
		return
	}
	select {
	case c.flush <- struct{}{}:
	default:
		// A flush is already pending and will pick up this change.
	}
}

// save writes the current contents unless a save of the same or a newer
// version already happened.
func (c *Cache) save(ctx context.Context) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.RLock()
	version := c.version
	if version == c.savedAt {
		c.mu.RUnlock()
		return
	}
	snap := c.snapshotLocked()
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := c.store.Save(ctx, snap); err != nil {
		c.metrics.recordPersistError("save")
		c.logger.Warn(ctx, "failed to save pattern cache", zap.Error(err))
		return
	}
	c.savedAt = version
}

func (c *Cache) flushLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.flush:
			c.save(context.Background())
		case <-c.stop:
			return
		}
	}
}

// Close stops the flusher and writes any unsaved changes. Later mutations
// are saved synchronously.
func (c *Cache) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	if !c.cfg.SyncWrites {
		close(c.stop)
		c.wg.Wait()
	}
	c.save(ctx)
	return nil
}

// Flush writes unsaved changes now.
func (c *Cache) Flush(ctx context.Context) {
	c.save(ctx)
}

func sortFieldPatterns(list []FieldPattern) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Count > list[j].Count })
}
