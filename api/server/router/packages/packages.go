package packages

import (
	"context"

	"github.com/questionpy-org/questionpy-server/api/server/router"
	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/packages"
	"github.com/questionpy-org/questionpy-server/worker"
)

// Backend is everything the package routes need from the daemon.
type Backend interface {
	// LookupPackage returns the indexed package for hash.
	LookupPackage(hash packages.Hash) (*packages.Package, error)

	// PackageLocation resolves hash to an archive a worker can open.
	PackageLocation(ctx context.Context, hash packages.Hash) (packages.Location, error)

	// StorePackage accepts a host-uploaded archive.
	StorePackage(ctx context.Context, hash packages.Hash, data []byte) (*packages.Package, error)

	// ListPackages returns the indexable inventory.
	ListPackages() []types.PackageVersionsInfo

	// WithWorker runs fn against a worker loaded with the package at
	// location, for the duration of one exchange.
	WithWorker(ctx context.Context, location packages.Location, fn func(ctx context.Context, w worker.Worker) error) error

	// AllowLMSPackages reports whether host uploads are accepted.
	AllowLMSPackages() bool

	// MaxPackageSize is the byte cap for uploaded archives.
	MaxPackageSize() int64
}

type packagesRouter struct {
	backend Backend
	routes  []router.Route
}

// NewRouter initializes a new packages router.
func NewRouter(backend Backend) router.Router {
	r := &packagesRouter{backend: backend}
	r.initRoutes()
	return r
}

func (pr *packagesRouter) Routes() []router.Route {
	return pr.routes
}

func (pr *packagesRouter) initRoutes() {
	pr.routes = []router.Route{
		router.NewGetRoute("/packages", pr.getPackages),
		router.NewGetRoute("/packages/{hash:[0-9a-f]{64}}", pr.getPackage),
		router.NewPostRoute("/package-extract-info", pr.postExtractInfo),
		router.NewPostRoute("/packages/{hash:[0-9a-f]{64}}/options", pr.postOptions),
		router.NewPostRoute("/packages/{hash:[0-9a-f]{64}}/question", pr.postQuestion),
		router.NewPostRoute("/packages/{hash:[0-9a-f]{64}}/attempt/start", pr.postAttemptStart),
		router.NewPostRoute("/packages/{hash:[0-9a-f]{64}}/attempt/view", pr.postAttemptView),
		router.NewPostRoute("/packages/{hash:[0-9a-f]{64}}/attempt/score", pr.postAttemptScore),
		router.NewPostRoute("/packages/{hash:[0-9a-f]{64}}/file/{namespace}/{shortname}/{path:static/.*}", pr.postStaticFile),
	}
}
