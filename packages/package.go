package packages

import (
	"context"
	"sync"

	"github.com/questionpy-org/questionpy-server/api/types"
)

// Source is a collector feeding the indexer. A source is indexable when its
// inventory is authoritative by identifier and version (the local directory
// and remote repositories); host uploads are reachable by hash only.
type Source interface {
	// Name identifies the source in logs and PackageInfo.
	Name() string

	// Indexable sources contribute to the identifier index.
	Indexable() bool

	// Priority orders sources when several can serve the same package;
	// lower wins.
	Priority() int

	// Location makes the package bytes available and returns where a
	// worker can open them.
	Location(ctx context.Context, pkg *Package) (Location, error)
}

// ManifestResolver resolves the manifest of a package at a location,
// normally by loading it into a short-lived worker. Collectors use it when
// they discover packages they only know as files.
type ManifestResolver func(ctx context.Context, location Location) (*types.Manifest, error)

// Package is an immutable package known to the indexer. Hash is the primary
// identity; the identifier is secondary and only unique among indexable
// sources. The sources set is mutated by the indexer while every request
// reads it, so it carries its own lock.
type Package struct {
	Hash     Hash
	Manifest *types.Manifest

	mu      sync.RWMutex
	sources map[string]Source
}

func newPackage(hash Hash, manifest *types.Manifest, source Source) *Package {
	return &Package{
		Hash:     hash,
		Manifest: manifest,
		sources:  map[string]Source{source.Name(): source},
	}
}

func (p *Package) addSource(s Source) {
	p.mu.Lock()
	p.sources[s.Name()] = s
	p.mu.Unlock()
}

// removeSource drops the named source and reports whether an indexable
// source and whether any source at all remain.
func (p *Package) removeSource(name string) (indexable, remaining bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sources, name)
	for _, s := range p.sources {
		if s.Indexable() {
			indexable = true
			break
		}
	}
	return indexable, len(p.sources) > 0
}

// Sources returns the names of the sources currently providing the package.
func (p *Package) Sources() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.sources))
	for name := range p.sources {
		names = append(names, name)
	}
	return names
}

// bestSource returns the provider with the lowest priority number.
func (p *Package) bestSource() Source {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var best Source
	for _, s := range p.sources {
		if best == nil || s.Priority() < best.Priority() {
			best = s
		}
	}
	return best
}

// Info renders the package for the HTTP surface.
func (p *Package) Info() types.PackageInfo {
	return types.PackageInfo{
		Hash:     string(p.Hash),
		Manifest: *p.Manifest,
		Sources:  p.Sources(),
	}
}
