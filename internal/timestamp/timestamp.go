// Package timestamp stores "last processed up to" markers for incremental
// scripts in a file cache, so a rerun can pick up where the previous
// invocation left off.
package timestamp

import (
	"errors"
	"fmt"
	"time"

	"github.com/hpcops/sentinel/internal/filecache"
	"github.com/hpcops/sentinel/internal/logging"
)

const cacheKey = "timestamp"

// ErrNoTimestamp is returned by Read when the cache holds no marker.
var ErrNoTimestamp = errors.New("timestamp: no stored timestamp")

// Write persists t as the timestamp marker at path, always overwriting.
func Write(path string, t time.Time) error {
	cache, err := filecache.Open(path)
	if err != nil {
		return fmt.Errorf("timestamp: open %s: %w", path, err)
	}
	if _, err := cache.Update(cacheKey, t.Unix(), 0); err != nil {
		return err
	}
	return cache.Close()
}

// Read returns the timestamp marker stored at path.
func Read(path string) (time.Time, error) {
	cache, err := filecache.Open(path, filecache.Strict())
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp: open %s: %w", path, err)
	}
	entry, ok := cache.Load(cacheKey)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNoTimestamp, path)
	}
	var unix int64
	if err := entry.Decode(&unix); err != nil {
		return time.Time{}, fmt.Errorf("timestamp: decode marker in %s: %w", path, err)
	}
	return time.Unix(unix, 0), nil
}

// ReadWithDefault returns the stored marker, falling back to def when the
// cache is absent, unreadable, or empty.
func ReadWithDefault(path string, def time.Time) time.Time {
	t, err := Read(path)
	if err != nil {
		logging.Op().Warn("no usable timestamp marker, using default", "path", path, "default", def, "error", err)
		return def
	}
	return t
}
