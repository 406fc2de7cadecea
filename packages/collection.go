package packages

import (
	"context"
	"net/url"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/pkg/errors"

	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/errdefs"
	"github.com/questionpy-org/questionpy-server/pkg/diskcache"
)

// CollectionConfig carries the settings the collection needs from the daemon
// configuration.
type CollectionConfig struct {
	PackageCacheDir  string
	PackageCacheSize int64
	PackageCacheExt  string
	RepoIndexDir     string
	RepoIndexSize    int64
	RepoIndexExt     string

	LocalDir       string
	RepositoryURLs []*url.URL
	UpdateInterval time.Duration
}

type collector interface {
	Source
	Start(ctx context.Context) error
	Close() error
}

// Collection owns the caches and collectors and fronts the indexer. Location
// lookups resolve through the best source of a package; uploads land in the
// LMS collector.
type Collection struct {
	indexer *Indexer

	packageCache   *diskcache.Cache
	repoIndexCache *diskcache.Cache

	lms        *LMSCollector
	collectors []collector
}

// NewCollection builds the caches and collectors. Nothing touches the disk
// or the network until Start.
func NewCollection(cfg CollectionConfig, clk clock.Clock, resolver ManifestResolver) (*Collection, error) {
	c := &Collection{indexer: NewIndexer()}

	packageExt := cfg.PackageCacheExt
	if packageExt == "" {
		packageExt = PackageExt
	}
	indexExt := cfg.RepoIndexExt
	if indexExt == "" {
		indexExt = ".json.gz"
	}

	// The removal hook fires for every evicted archive; the LMS collector
	// ignores the ones it does not hold.
	packageCache, err := diskcache.New(cfg.PackageCacheDir, cfg.PackageCacheSize, packageExt, func(key string) {
		c.lms.HandleEviction(context.Background(), key)
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening package cache")
	}
	c.packageCache = packageCache

	repoIndexCache, err := diskcache.New(cfg.RepoIndexDir, cfg.RepoIndexSize, indexExt, nil)
	if err != nil {
		return nil, errors.Wrap(err, "opening repository index cache")
	}
	c.repoIndexCache = repoIndexCache

	c.lms = NewLMSCollector(c.indexer, packageCache, resolver)

	if cfg.LocalDir != "" {
		c.collectors = append(c.collectors, NewLocalCollector(cfg.LocalDir, c.indexer, resolver))
	}
	for _, repoURL := range cfg.RepositoryURLs {
		c.collectors = append(c.collectors, NewRepoCollector(repoURL, cfg.UpdateInterval, clk, c.indexer, packageCache, repoIndexCache))
	}
	return c, nil
}

// Indexer exposes the registry for lookups and listings.
func (c *Collection) Indexer() *Indexer { return c.indexer }

// Start brings the collectors up in priority order.
func (c *Collection) Start(ctx context.Context) error {
	for _, col := range c.collectors {
		if err := col.Start(ctx); err != nil {
			return errors.Wrapf(err, "starting collector %s", col.Name())
		}
	}
	return nil
}

// Put stores host-uploaded package bytes.
func (c *Collection) Put(ctx context.Context, hash Hash, data []byte) (*Package, error) {
	return c.lms.Put(ctx, hash, data)
}

// Get returns the indexed package for hash.
func (c *Collection) Get(hash Hash) (*Package, error) {
	pkg, ok := c.indexer.GetByHash(hash)
	if !ok {
		return nil, errdefs.NotFound(errors.Errorf("no package with hash %s", hash), errdefs.NotFoundPackage)
	}
	return pkg, nil
}

// Location resolves hash to an archive a worker can open, preferring the
// cheapest source.
func (c *Collection) Location(ctx context.Context, hash Hash) (Location, error) {
	pkg, err := c.Get(hash)
	if err != nil {
		return Location{}, err
	}
	source := pkg.bestSource()
	if source == nil {
		return Location{}, errdefs.NotFound(errors.Errorf("package %s has no source left", hash), errdefs.NotFoundPackage)
	}
	return source.Location(ctx, pkg)
}

// PackageVersionsInfos lists the indexable inventory.
func (c *Collection) PackageVersionsInfos() []types.PackageVersionsInfo {
	return c.indexer.PackageVersionsInfos()
}

// Close stops the collectors. Cache contents stay on disk for the next run.
func (c *Collection) Close() error {
	var first error
	for _, col := range c.collectors {
		if err := col.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
