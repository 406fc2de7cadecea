// Package daemon wires the configuration, the package collection and the
// worker pool into one backend serving the HTTP routers.
package daemon

import (
	"context"

	"code.cloudfoundry.org/clock"
	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/daemon/config"
	"github.com/questionpy-org/questionpy-server/packages"
	"github.com/questionpy-org/questionpy-server/worker"
	"github.com/questionpy-org/questionpy-server/worker/ipc"
)

// Version is the server version reported by GET /status. Overridden at build
// time.
var Version = "dev"

// Daemon owns the long-lived server state.
type Daemon struct {
	cfg        *config.Config
	pool       *worker.Pool
	collection *packages.Collection
}

// NewDaemon builds the pool and the collection from cfg. Collectors do not
// run until Start.
func NewDaemon(cfg *config.Config, clk clock.Clock) (*Daemon, error) {
	d := &Daemon{cfg: cfg}

	var factory worker.Factory
	switch cfg.Worker.Type {
	case ipc.WorkerTypeProcess:
		factory = worker.NewProcessFactory(clk)
	case ipc.WorkerTypeThread:
		factory = worker.NewInProcessFactory()
	default:
		return nil, errors.Errorf("unknown worker type %q", cfg.Worker.Type)
	}
	d.pool = worker.NewPool(factory, cfg.Worker.MaxWorkers, cfg.Worker.MaxTotalMemoryBytes)

	collection, err := packages.NewCollection(packages.CollectionConfig{
		PackageCacheDir:  cfg.CachePackage.Directory,
		PackageCacheSize: cfg.CachePackage.SizeBytes,
		PackageCacheExt:  cfg.CachePackage.Extension,
		RepoIndexDir:     cfg.CacheRepoIndex.Directory,
		RepoIndexSize:    cfg.CacheRepoIndex.SizeBytes,
		RepoIndexExt:     cfg.CacheRepoIndex.Extension,
		LocalDir:         cfg.Collector.LocalDirectory,
		RepositoryURLs:   cfg.Collector.RepositoryBaseURLs,
		UpdateInterval:   cfg.Collector.UpdateInterval,
	}, clk, d.resolveManifest)
	if err != nil {
		return nil, err
	}
	d.collection = collection
	return d, nil
}

// Start brings the collectors up.
func (d *Daemon) Start(ctx context.Context) error {
	return d.collection.Start(ctx)
}

// Shutdown stops the collectors. Workers are per-request and need no
// teardown of their own.
func (d *Daemon) Shutdown(ctx context.Context) error {
	return d.collection.Close()
}

// resolveManifest asks a short-lived worker for the manifest of the package
// at loc. Collectors use it for packages they only know as files.
func (d *Daemon) resolveManifest(ctx context.Context, loc packages.Location) (*types.Manifest, error) {
	var manifest *types.Manifest
	err := d.pool.With(ctx, loc, d.cfg.WorkerLimits(), func(ctx context.Context, w worker.Worker) error {
		m := w.Manifest()
		if m == nil {
			return errors.New("worker reported no manifest")
		}
		manifest = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.G(ctx).WithField("identifier", manifest.Identifier()).Debug("manifest resolved")
	return manifest, nil
}

// LookupPackage implements the packages router backend.
func (d *Daemon) LookupPackage(hash packages.Hash) (*packages.Package, error) {
	return d.collection.Get(hash)
}

// PackageLocation implements the packages router backend.
func (d *Daemon) PackageLocation(ctx context.Context, hash packages.Hash) (packages.Location, error) {
	return d.collection.Location(ctx, hash)
}

// StorePackage implements the packages router backend.
func (d *Daemon) StorePackage(ctx context.Context, hash packages.Hash, data []byte) (*packages.Package, error) {
	return d.collection.Put(ctx, hash, data)
}

// ListPackages implements the packages router backend.
func (d *Daemon) ListPackages() []types.PackageVersionsInfo {
	return d.collection.PackageVersionsInfos()
}

// WithWorker implements the packages router backend.
func (d *Daemon) WithWorker(ctx context.Context, location packages.Location, fn func(ctx context.Context, w worker.Worker) error) error {
	return d.pool.With(ctx, location, d.cfg.WorkerLimits(), fn)
}

// AllowLMSPackages implements the packages router backend.
func (d *Daemon) AllowLMSPackages() bool {
	return d.cfg.WebService.AllowLMSPackages
}

// MaxPackageSize implements the packages router backend.
func (d *Daemon) MaxPackageSize() int64 {
	return d.cfg.WebService.MaxPackageSizeBytes
}

// SystemStatus implements the system router backend.
func (d *Daemon) SystemStatus() types.ServerStatus {
	return types.ServerStatus{
		Version:          Version,
		AllowLMSPackages: d.cfg.WebService.AllowLMSPackages,
		MaxPackageSize:   d.cfg.WebService.MaxPackageSizeBytes,
		Usage:            d.pool.Usage(),
	}
}
