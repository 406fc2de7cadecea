// Package diskcache implements an on-disk content-addressed LRU store with a
// byte-size limit. Entries are written with an atomic tmp+rename, so readers
// never observe a partially written file under a final name.
package diskcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/containerd/log"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/moby/sys/atomicwriter"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get for keys not present in the cache.
var ErrNotFound = errors.New("file not found in cache")

// ItemTooLargeError is returned by Put when a single item exceeds the total
// cache size and could therefore never be stored.
type ItemTooLargeError struct {
	MaxSize    int64
	ActualSize int64
}

func (e *ItemTooLargeError) Error() string {
	return fmt.Sprintf("item of %d bytes does not fit into cache of %d bytes", e.ActualSize, e.MaxSize)
}

// RemovalFunc is invoked asynchronously, once per key, after an entry has
// been evicted or removed.
type RemovalFunc func(key string)

// Cache is a size-limited LRU of files in a single directory. Each entry is
// stored as <dir>/<key><ext>. All mutations happen under one mutex.
type Cache struct {
	dir string
	ext string
	max int64

	onRemove RemovalFunc

	mu    sync.Mutex
	lru   *simplelru.LRU[string, int64]
	total int64
}

// New opens (creating if necessary) the cache directory, purges leftover
// temporary files, loads existing entries and evicts until the size limit
// holds. ext must include the leading dot.
func New(dir string, maxSize int64, ext string, onRemove RemovalFunc) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating cache directory")
	}
	// The capacity bound is bytes, enforced by hand; the entry-count limit
	// of the underlying LRU is never meant to trigger.
	lru, err := simplelru.NewLRU[string, int64](int(^uint(0)>>1), nil)
	if err != nil {
		return nil, err
	}
	c := &Cache{dir: dir, ext: ext, max: maxSize, onRemove: onRemove, lru: lru}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) load() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return errors.Wrap(err, "scanning cache directory")
	}
	ctx := context.TODO()
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".tmp-") || strings.HasSuffix(name, ".tmp") {
			// Leftover from an interrupted write.
			if err := os.Remove(filepath.Join(c.dir, name)); err != nil {
				log.G(ctx).WithError(err).WithField("file", name).Warn("failed to remove stale temporary file")
			}
			continue
		}
		if !strings.HasSuffix(name, c.ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		c.lru.Add(strings.TrimSuffix(name, c.ext), info.Size())
		c.total += info.Size()
	}
	c.evictLocked()
	return nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+c.ext)
}

// evictLocked deletes entries from the LRU front until the size limit holds.
func (c *Cache) evictLocked() {
	for c.total > c.max {
		key, size, ok := c.lru.RemoveOldest()
		if !ok {
			return
		}
		c.removeFileLocked(key, size)
	}
}

func (c *Cache) removeFileLocked(key string, size int64) {
	if err := os.Remove(c.path(key)); err != nil && !os.IsNotExist(err) {
		log.G(context.TODO()).WithError(err).WithField("key", key).Warn("failed to delete cache file")
	}
	c.total -= size
	if c.onRemove != nil {
		go c.onRemove(key)
	}
}

// Contains reports whether key is cached and marks it most recently used.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lru.Get(key)
	return ok
}

// Get returns the path of the cached file for key, marking it most recently
// used. It performs no I/O; the file is guaranteed to exist as long as the
// entry does.
func (c *Cache) Get(key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lru.Get(key); !ok {
		return "", ErrNotFound
	}
	return c.path(key), nil
}

// Put stores data under key and returns the file path. A present entry is
// replaced. After insertion, least recently used entries are evicted until
// the size limit holds again.
func (c *Cache) Put(key string, data []byte) (string, error) {
	size := int64(len(data))
	if size > c.max {
		return "", &ItemTooLargeError{MaxSize: c.max, ActualSize: size}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.path(key)
	if err := atomicwriter.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "writing cache file for %s", key)
	}
	if old, ok := c.lru.Peek(key); ok {
		c.total -= old
	}
	c.lru.Add(key, size)
	c.total += size
	c.evictLocked()
	return path, nil
}

// Remove deletes the entry for key, if any, and fires the removal hook.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	size, ok := c.lru.Peek(key)
	if !ok {
		return
	}
	c.lru.Remove(key)
	c.removeFileLocked(key, size)
}

// TotalSize returns the accounted sum of entry sizes.
func (c *Cache) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns all cached keys from least to most recently used.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// MaxSize returns the configured size limit.
func (c *Cache) MaxSize() int64 { return c.max }

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }
