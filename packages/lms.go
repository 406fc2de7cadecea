package packages

import (
	"context"
	"sync"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/questionpy-org/questionpy-server/errdefs"
	"github.com/questionpy-org/questionpy-server/pkg/diskcache"
)

// LMSCollector holds packages uploaded by the host. They live in the package
// cache and are reachable by hash only; eviction from the cache is the one way
// they leave the index.
type LMSCollector struct {
	indexer  *Indexer
	cache    *diskcache.Cache
	resolver ManifestResolver

	mu   sync.Mutex
	held map[Hash]struct{}
}

// NewLMSCollector stores uploads in cache.
func NewLMSCollector(indexer *Indexer, cache *diskcache.Cache, resolver ManifestResolver) *LMSCollector {
	return &LMSCollector{
		indexer:  indexer,
		cache:    cache,
		resolver: resolver,
		held:     make(map[Hash]struct{}),
	}
}

func (c *LMSCollector) Name() string    { return "lms" }
func (c *LMSCollector) Indexable() bool { return false }
func (c *LMSCollector) Priority() int   { return 2 }

// Put accepts uploaded package bytes already hashed by the request pipeline.
// A cached copy is reused; a fresh upload is written to the cache first. The
// manifest is resolved only for hashes the indexer does not know yet.
func (c *LMSCollector) Put(ctx context.Context, hash Hash, data []byte) (*Package, error) {
	path, err := c.cache.Get(string(hash))
	if err != nil {
		path, err = c.cache.Put(string(hash), data)
		var tooLarge *diskcache.ItemTooLargeError
		if errors.As(err, &tooLarge) {
			return nil, errdefs.TooLarge(err)
		}
		if err != nil {
			return nil, errors.Wrap(err, "storing uploaded package")
		}
	}

	pkg, known := c.indexer.GetByHash(hash)
	if !known {
		manifest, err := c.resolver(ctx, ZipLocation(path))
		if err != nil {
			c.cache.Remove(string(hash))
			return nil, err
		}
		pkg = c.indexer.Register(ctx, hash, manifest, c)
	} else {
		pkg = c.indexer.Register(ctx, hash, pkg.Manifest, c)
	}

	c.mu.Lock()
	c.held[hash] = struct{}{}
	c.mu.Unlock()
	return pkg, nil
}

// HandleEviction is the package cache's removal hook. Evictions of archives
// the collector never registered (repository downloads share the cache) are
// not its business.
func (c *LMSCollector) HandleEviction(ctx context.Context, key string) {
	hash, err := ParseHash(key)
	if err != nil {
		return
	}
	c.mu.Lock()
	_, ours := c.held[hash]
	delete(c.held, hash)
	c.mu.Unlock()
	if !ours {
		return
	}
	c.indexer.Unregister(ctx, hash, c)
	log.G(ctx).WithField("hash", hash).Debug("uploaded package evicted")
}

// Location returns the cached archive, touching its recency.
func (c *LMSCollector) Location(ctx context.Context, pkg *Package) (Location, error) {
	path, err := c.cache.Get(string(pkg.Hash))
	if err != nil {
		return Location{}, errdefs.NotFound(err, errdefs.NotFoundPackage)
	}
	return ZipLocation(path), nil
}
