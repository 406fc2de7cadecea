package diskcache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"pgregory.net/rapid"
)

const testExt = ".qpy"

func newTestCache(t *testing.T, maxSize int64) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), maxSize, testExt, nil)
	assert.NilError(t, err)
	return c
}

func TestPutGet(t *testing.T) {
	c := newTestCache(t, 100)

	path, err := c.Put("aabb", []byte("hello"))
	assert.NilError(t, err)

	got, err := c.Get("aabb")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(path, got))

	data, err := os.ReadFile(got)
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(data, []byte("hello")))
	assert.Check(t, is.Equal(c.TotalSize(), int64(5)))
}

func TestGetMissing(t *testing.T) {
	c := newTestCache(t, 100)
	_, err := c.Get("ffff")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Check(t, !c.Contains("ffff"))
}

func TestPutTooLarge(t *testing.T) {
	c := newTestCache(t, 4)
	_, err := c.Put("aabb", []byte("hello"))
	var tooLarge *ItemTooLargeError
	assert.Check(t, errors.As(err, &tooLarge))
	assert.Check(t, is.Equal(tooLarge.MaxSize, int64(4)))
	assert.Check(t, is.Equal(tooLarge.ActualSize, int64(5)))
}

func TestPutReplaceAdjustsAccounting(t *testing.T) {
	c := newTestCache(t, 100)
	_, err := c.Put("aabb", []byte("hello world"))
	assert.NilError(t, err)
	_, err = c.Put("aabb", []byte("hi"))
	assert.NilError(t, err)
	assert.Check(t, is.Equal(c.TotalSize(), int64(2)))
	assert.Check(t, is.Equal(c.Len(), 1))
}

func TestEvictionOrder(t *testing.T) {
	c := newTestCache(t, 10)
	for _, key := range []string{"aa", "bb", "cc"} {
		_, err := c.Put(key, []byte("123"))
		assert.NilError(t, err)
	}
	// Touch "aa" so "bb" becomes the eviction candidate.
	assert.Check(t, c.Contains("aa"))

	_, err := c.Put("dd", []byte("1234"))
	assert.NilError(t, err)

	assert.Check(t, !c.Contains("bb"))
	assert.Check(t, c.Contains("aa"))
	assert.Check(t, c.Contains("cc"))
	assert.Check(t, c.Contains("dd"))
	assert.Check(t, c.TotalSize() <= 10)
}

func TestRemovalHook(t *testing.T) {
	var (
		mu      sync.Mutex
		removed []string
		done    = make(chan struct{}, 16)
	)
	c, err := New(t.TempDir(), 6, testExt, func(key string) {
		mu.Lock()
		removed = append(removed, key)
		mu.Unlock()
		done <- struct{}{}
	})
	assert.NilError(t, err)

	_, err = c.Put("aa", []byte("123"))
	assert.NilError(t, err)
	_, err = c.Put("bb", []byte("123"))
	assert.NilError(t, err)
	_, err = c.Put("cc", []byte("123"))
	assert.NilError(t, err)
	<-done

	c.Remove("cc")
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Check(t, is.DeepEqual(removed, []string{"aa", "cc"}))
}

func TestStartupScan(t *testing.T) {
	dir := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "aa"+testExt), []byte("123"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "bb"+testExt), []byte("4567"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(dir, ".tmp-cc"+testExt+"123"), []byte("partial"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "stale.tmp"), []byte("partial"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	c, err := New(dir, 100, testExt, nil)
	assert.NilError(t, err)

	assert.Check(t, is.Equal(c.Len(), 2))
	assert.Check(t, is.Equal(c.TotalSize(), int64(7)))
	_, err = os.Stat(filepath.Join(dir, ".tmp-cc"+testExt+"123"))
	assert.Check(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "stale.tmp"))
	assert.Check(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NilError(t, err)
}

func TestStartupScanEvictsOverflow(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("k%d%s", i, testExt)
		assert.NilError(t, os.WriteFile(filepath.Join(dir, name), []byte("1234"), 0o644))
	}
	c, err := New(dir, 10, testExt, nil)
	assert.NilError(t, err)
	assert.Check(t, c.TotalSize() <= 10)
	assert.Check(t, is.Equal(c.Len(), 2))
}

// TestCacheInvariants drives the cache with random operation traces and
// checks the accounting invariants after every step: the accounted total
// equals the sum of entry sizes, never exceeds the limit, and every present
// key maps to a file of the declared size.
func TestCacheInvariants(tt *testing.T) {
	rapid.Check(tt, func(t *rapid.T) {
		const maxSize = 64
		c, err := New(tt.TempDir(), maxSize, testExt, nil)
		if err != nil {
			t.Fatal(err)
		}

		model := map[string]int64{}
		keyGen := rapid.SampledFrom([]string{"k0", "k1", "k2", "k3", "k4", "k5"})

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			key := keyGen.Draw(t, "key")
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				size := rapid.IntRange(0, maxSize+8).Draw(t, "size")
				data := make([]byte, size)
				_, err := c.Put(key, data)
				if size > maxSize {
					var tooLarge *ItemTooLargeError
					if !errors.As(err, &tooLarge) {
						t.Fatalf("expected ItemTooLargeError, got %v", err)
					}
				} else if err != nil {
					t.Fatalf("put: %v", err)
				} else {
					model[key] = int64(size)
				}
			case 1:
				c.Remove(key)
				delete(model, key)
			case 2:
				c.Contains(key)
			}

			var sum int64
			for _, key := range c.Keys() {
				path := filepath.Join(c.Dir(), key+testExt)
				info, err := os.Stat(path)
				if err != nil {
					t.Fatalf("present key %s has no file: %v", key, err)
				}
				sum += info.Size()
				// Evictions may have dropped model entries; present
				// entries must still match what was last written.
				if want, ok := model[key]; ok && info.Size() != want {
					t.Fatalf("key %s: file size %d, want %d", key, info.Size(), want)
				}
			}
			if got := c.TotalSize(); got != sum {
				t.Fatalf("accounted total %d, files sum to %d", got, sum)
			}
			if c.TotalSize() > maxSize {
				t.Fatalf("total %d exceeds max %d", c.TotalSize(), maxSize)
			}
		}
	})
}
