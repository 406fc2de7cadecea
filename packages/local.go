package packages

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/containerd/log"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// PackageExt is the file extension of package archives.
const PackageExt = ".qpy"

type localFile struct {
	hash    Hash
	size    int64
	modTime time.Time
}

// LocalCollector serves packages from a watched directory. It keeps
// bidirectional path/hash maps (several paths may hold identical bytes) and
// reconciles the directory by diffing snapshots: at startup, on filesystem
// events and on demand.
type LocalCollector struct {
	dir      string
	indexer  *Indexer
	resolver ManifestResolver

	mu    sync.Mutex
	files map[string]localFile // path -> state
	paths map[Hash]map[string]struct{}

	watcher *fsnotify.Watcher
	stop    chan struct{}
	stopped sync.WaitGroup
}

// NewLocalCollector watches dir for package archives.
func NewLocalCollector(dir string, indexer *Indexer, resolver ManifestResolver) *LocalCollector {
	return &LocalCollector{
		dir:      dir,
		indexer:  indexer,
		resolver: resolver,
		files:    make(map[string]localFile),
		paths:    make(map[Hash]map[string]struct{}),
		stop:     make(chan struct{}),
	}
}

func (c *LocalCollector) Name() string    { return "local:" + c.dir }
func (c *LocalCollector) Indexable() bool { return true }
func (c *LocalCollector) Priority() int   { return 0 }

// Start runs the initial scan and begins watching for changes.
func (c *LocalCollector) Start(ctx context.Context) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return errors.Wrap(err, "creating package directory")
	}
	if err := c.Update(ctx); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "starting directory watcher")
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "watching %s", c.dir)
	}
	c.watcher = watcher
	c.stopped.Add(1)
	go c.watch(ctx)
	return nil
}

// watch coalesces bursts of events into full diff updates.
func (c *LocalCollector) watch(ctx context.Context) {
	defer c.stopped.Done()
	var pending bool
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	for {
		select {
		case <-c.stop:
			return
		case _, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if !pending {
				pending = true
				debounce.Reset(100 * time.Millisecond)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.G(ctx).WithError(err).Warn("package directory watcher error")
		case <-debounce.C:
			pending = false
			if err := c.Update(ctx); err != nil {
				log.G(ctx).WithError(err).Warn("package directory update failed")
			}
		}
	}
}

// Update diffs the directory against the last snapshot. New and changed
// files are hashed and registered; vanished paths are unregistered unless
// another path still holds the same bytes, which also covers moves without
// touching the indexer.
func (c *LocalCollector) Update(ctx context.Context) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return errors.Wrap(err, "reading package directory")
	}

	seen := make(map[string]struct{}, len(entries))
	var added, removed []string
	c.mu.Lock()
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), PackageExt) {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		seen[path] = struct{}{}
		known, ok := c.files[path]
		if ok && known.size == info.Size() && known.modTime.Equal(info.ModTime()) {
			continue
		}
		if ok {
			log.G(ctx).WithField("path", path).Warn("package file changed in place; workers holding it open keep the old bytes")
			removed = append(removed, path)
		}
		added = append(added, path)
	}
	for path := range c.files {
		if _, ok := seen[path]; !ok {
			removed = append(removed, path)
		}
	}
	c.mu.Unlock()

	// Additions before removals, so a moved file's hash gains its new path
	// before the old path is dropped and no unregister happens.
	for _, path := range added {
		if err := c.addFile(ctx, path); err != nil {
			log.G(ctx).WithError(err).WithField("path", path).Warn("ignoring unusable package file")
		}
	}
	for _, path := range removed {
		c.removeFile(ctx, path)
	}
	return nil
}

func hashFile(path string) (Hash, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	hasher := NewHasher()
	n, err := io.Copy(hasher.Writer(), f)
	if err != nil {
		return "", 0, err
	}
	return hasher.Sum(), n, nil
}

func (c *LocalCollector) addFile(ctx context.Context, path string) error {
	hash, size, err := hashFile(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	firstPath := len(c.paths[hash]) == 0
	c.files[path] = localFile{hash: hash, size: size, modTime: info.ModTime()}
	if c.paths[hash] == nil {
		c.paths[hash] = make(map[string]struct{})
	}
	c.paths[hash][path] = struct{}{}
	c.mu.Unlock()

	if !firstPath {
		return nil
	}
	// Always resolve, even for hashes already indexed: borrowing the
	// registered manifest would race with the owning source unregistering
	// it between the lookup and our registration.
	manifest, err := c.resolver(ctx, ZipLocation(path))
	if err != nil {
		return errors.Wrap(err, "resolving manifest")
	}
	c.indexer.Register(ctx, hash, manifest, c)
	return nil
}

func (c *LocalCollector) removeFile(ctx context.Context, path string) {
	c.mu.Lock()
	state, ok := c.files[path]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.files, path)
	delete(c.paths[state.hash], path)
	lastPath := len(c.paths[state.hash]) == 0
	if lastPath {
		delete(c.paths, state.hash)
	}
	c.mu.Unlock()

	if lastPath {
		c.indexer.Unregister(ctx, state.hash, c)
	}
}

// Location returns the archive path serving the package.
func (c *LocalCollector) Location(ctx context.Context, pkg *Package) (Location, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path := range c.paths[pkg.Hash] {
		return ZipLocation(path), nil
	}
	return Location{}, errors.Errorf("package %s has no local file", pkg.Hash)
}

// Close stops the watcher.
func (c *LocalCollector) Close() error {
	close(c.stop)
	if c.watcher != nil {
		c.watcher.Close()
	}
	c.stopped.Wait()
	return nil
}
