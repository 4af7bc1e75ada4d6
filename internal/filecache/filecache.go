// Package filecache implements a file-backed key-value cache with a timestamp
// safety. Every stored value carries the time it was accepted; Update only
// replaces an existing value once it is older than a caller-supplied freshness
// threshold. The cache is persistent only after a successful Close.
//
// A cache instance is not safe for concurrent writers. Callers that share a
// cache file across processes must hold an external lock (see the lockfile
// package) around mutation and Close.
package filecache

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hpcops/sentinel/internal/logging"
)

// ErrCorrupt is returned by Open in strict mode when the persisted payload
// cannot be decoded.
var ErrCorrupt = errors.New("filecache: corrupt cache payload")

// entry is the persisted form of one cache slot. Time is seconds since the
// epoch, matching what older cache files in the wild contain.
type entry struct {
	Time  float64         `json:"time"`
	Value json.RawMessage `json:"value"`
}

// Entry is a loaded cache slot.
type Entry struct {
	Time time.Time
	Raw  json.RawMessage
}

// Decode unmarshals the stored value into v.
func (e Entry) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// Cache is a file-backed cache of timestamped values. It holds two layers: the
// baseline loaded at Open, and the pending writes staged by Update. Close
// merges the two according to the retention policy and persists the result.
type Cache struct {
	path      string
	retainOld bool
	strict    bool
	closed    bool

	baseline map[string]entry
	pending  map[string]entry
}

// Option configures a Cache at Open.
type Option func(*Cache)

// Strict makes a corrupt persisted payload a hard Open failure instead of
// starting from an empty cache.
func Strict() Option {
	return func(c *Cache) { c.strict = true }
}

// DiscardOld drops baseline entries not rewritten this session when the cache
// is closed. The default is to retain them.
func DiscardOld() Option {
	return func(c *Cache) { c.retainOld = false }
}

// Open loads the cache persisted at path. A missing file starts an empty
// cache. A corrupt or unreadable file also starts empty, logged but not
// fatal, unless the Strict option is given.
func Open(path string, opts ...Option) (*Cache, error) {
	c := &Cache{
		path:      path,
		retainOld: true,
		baseline:  make(map[string]entry),
		pending:   make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		if c.strict {
			return nil, fmt.Errorf("filecache: read %s: %w", path, err)
		}
		logging.Op().Warn("cannot access cache file, starting empty", "path", path, "error", err)
		return c, nil
	}

	shelf, err := decodeShelf(data)
	if err != nil {
		if c.strict {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
		logging.Op().Error("cannot decode cache file, starting empty", "path", path, "error", err)
		return c, nil
	}
	c.baseline = shelf
	return c, nil
}

// Path returns the location of the backing file.
func (c *Cache) Path() string {
	return c.path
}

// Update stores (now, value) under key if no entry exists yet or the existing
// one is older than threshold. A threshold <= 0 always refreshes. Reports
// whether the stored value changed. A fresh existing entry is re-staged
// untouched so the discard-old policy only drops keys never seen this session.
func (c *Cache) Update(key string, value any, threshold time.Duration) (bool, error) {
	now := time.Now()

	if old, ok := c.lookup(key); ok && threshold > 0 && now.Sub(entryTime(old)) <= threshold {
		c.pending[key] = old
		return false, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("filecache: encode value for key %q: %w", key, err)
	}
	c.pending[key] = entry{Time: toEpoch(now), Value: raw}
	return true, nil
}

// Load returns the stored entry for key, preferring a pending write from this
// session over the loaded baseline. The second return is false when the key
// is absent from both layers.
func (c *Cache) Load(key string) (Entry, bool) {
	e, ok := c.lookup(key)
	if !ok {
		return Entry{}, false
	}
	return Entry{Time: entryTime(e), Raw: e.Value}, true
}

// Retain keeps non-updated baseline entries on Close.
func (c *Cache) Retain() {
	c.retainOld = true
}

// Discard drops non-updated baseline entries on Close.
func (c *Cache) Discard() {
	c.retainOld = false
}

// Close merges pending writes into the baseline according to the retention
// policy and persists the merged set. The previous file is replaced by rename
// only after the new content is fully written, so a failed write leaves it
// intact. Closing an already-closed cache re-persists the same state.
func (c *Cache) Close() error {
	merged := c.pending
	if c.retainOld || c.closed {
		merged = make(map[string]entry, len(c.baseline)+len(c.pending))
		maps.Copy(merged, c.baseline)
		maps.Copy(merged, c.pending)
	}

	if err := c.persist(merged); err != nil {
		return err
	}

	c.baseline = merged
	c.pending = make(map[string]entry)
	c.closed = true
	logging.Op().Info("closed file cache", "path", c.path, "entries", len(merged))
	return nil
}

func (c *Cache) lookup(key string) (entry, bool) {
	if e, ok := c.pending[key]; ok {
		return e, true
	}
	e, ok := c.baseline[key]
	return e, ok
}

func (c *Cache) persist(shelf map[string]entry) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filecache: create cache dir %s: %w", dir, err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(shelf); err != nil {
		gz.Close()
		return fmt.Errorf("filecache: encode cache: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("filecache: compress cache: %w", err)
	}

	// Write to a temp file in the same directory and rename over the old
	// file so a partial write never clobbers the previous state.
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(c.path), uuid.NewString()[:8]))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("filecache: create temp file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("filecache: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("filecache: sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("filecache: close temp file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("filecache: replace %s: %w", c.path, err)
	}
	return nil
}

func decodeShelf(data []byte) (map[string]entry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, err
	}

	shelf := make(map[string]entry)
	if err := json.Unmarshal(raw, &shelf); err != nil {
		return nil, err
	}
	return shelf, nil
}

func toEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func entryTime(e entry) time.Time {
	sec := int64(e.Time)
	nsec := int64((e.Time - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}
