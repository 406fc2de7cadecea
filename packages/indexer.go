package packages

import (
	"context"
	"sort"
	"sync"

	"github.com/containerd/log"

	"github.com/questionpy-org/questionpy-server/api/types"
)

// Indexer is the in-memory registry of packages across all sources. It maps
// hashes to packages, and identifiers to version maps for the indexable
// sources. One lock guards registration; lookups copy what they return.
type Indexer struct {
	mu           sync.Mutex
	byHash       map[Hash]*Package
	byIdentifier map[string]map[string]*Package
}

// NewIndexer returns an empty indexer.
func NewIndexer() *Indexer {
	return &Indexer{
		byHash:       make(map[Hash]*Package),
		byIdentifier: make(map[string]map[string]*Package),
	}
}

// Register records that source provides the package with the given hash and
// manifest. A known hash gains the source; a new hash becomes a new package.
// Indexable sources additionally claim the (identifier, version) slot; on a
// collision with a different hash the first registration wins and the
// collision is logged.
func (i *Indexer) Register(ctx context.Context, hash Hash, manifest *types.Manifest, source Source) *Package {
	i.mu.Lock()
	defer i.mu.Unlock()

	pkg, known := i.byHash[hash]
	if known {
		pkg.addSource(source)
	} else {
		pkg = newPackage(hash, manifest, source)
		i.byHash[hash] = pkg
	}

	if source.Indexable() {
		identifier := pkg.Manifest.Identifier()
		versions := i.byIdentifier[identifier]
		if versions == nil {
			versions = make(map[string]*Package)
			i.byIdentifier[identifier] = versions
		}
		if existing, taken := versions[pkg.Manifest.Version]; taken && existing.Hash != hash {
			log.G(ctx).WithFields(log.Fields{
				"identifier": identifier,
				"version":    pkg.Manifest.Version,
				"kept":       existing.Hash,
				"ignored":    hash,
			}).Warn("conflicting packages for the same identifier and version")
		} else {
			versions[pkg.Manifest.Version] = pkg
		}
	}

	log.G(ctx).WithFields(log.Fields{
		"hash":   hash,
		"source": source.Name(),
	}).Debug("package registered")
	return pkg
}

// Unregister removes source from the package's providers. Without any
// indexable source left the package leaves the identifier index; without any
// source at all it is dropped entirely.
func (i *Indexer) Unregister(ctx context.Context, hash Hash, source Source) {
	i.mu.Lock()
	defer i.mu.Unlock()

	pkg, ok := i.byHash[hash]
	if !ok {
		return
	}
	indexable, remaining := pkg.removeSource(source.Name())

	if !indexable {
		identifier := pkg.Manifest.Identifier()
		if versions, ok := i.byIdentifier[identifier]; ok {
			if versions[pkg.Manifest.Version] == pkg {
				delete(versions, pkg.Manifest.Version)
			}
			if len(versions) == 0 {
				delete(i.byIdentifier, identifier)
			}
		}
	}
	if !remaining {
		delete(i.byHash, hash)
		log.G(ctx).WithField("hash", hash).Debug("package dropped from index")
	}
}

// GetByHash returns the package for hash, if any.
func (i *Indexer) GetByHash(hash Hash) (*Package, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	pkg, ok := i.byHash[hash]
	return pkg, ok
}

// GetByIdentifier returns the version map of an identifier.
func (i *Indexer) GetByIdentifier(namespace, shortName string) map[string]*Package {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(map[string]*Package)
	for version, pkg := range i.byIdentifier[namespace+"."+shortName] {
		out[version] = pkg
	}
	return out
}

// GetByIdentifierAndVersion returns one exact version of an identifier.
func (i *Indexer) GetByIdentifierAndVersion(namespace, shortName, version string) (*Package, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	pkg, ok := i.byIdentifier[namespace+"."+shortName][version]
	return pkg, ok
}

// PackageVersionsInfos lists every indexed identifier with its versions
// sorted descending; the manifest shown is the highest version's.
func (i *Indexer) PackageVersionsInfos() []types.PackageVersionsInfo {
	i.mu.Lock()
	defer i.mu.Unlock()

	identifiers := make([]string, 0, len(i.byIdentifier))
	for identifier := range i.byIdentifier {
		identifiers = append(identifiers, identifier)
	}
	sort.Strings(identifiers)

	infos := make([]types.PackageVersionsInfo, 0, len(identifiers))
	for _, identifier := range identifiers {
		versionMap := i.byIdentifier[identifier]
		if len(versionMap) == 0 {
			continue
		}
		versions := make([]string, 0, len(versionMap))
		for version := range versionMap {
			versions = append(versions, version)
		}
		sort.Slice(versions, func(a, b int) bool {
			return types.CompareVersions(versions[a], versions[b]) > 0
		})
		items := make([]types.PackageVersionItem, len(versions))
		for idx, version := range versions {
			items[idx] = types.PackageVersionItem{Version: version, Hash: string(versionMap[version].Hash)}
		}
		infos = append(infos, types.PackageVersionsInfo{
			Manifest: *versionMap[versions[0]].Manifest,
			Versions: items,
		})
	}
	return infos
}
