package packages

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestIndexerRegisterAndLookups(t *testing.T) {
	ctx := context.Background()
	idx := NewIndexer()
	src := &stubSource{name: "a", indexable: true}

	hash := HashBytes([]byte("one"))
	idx.Register(ctx, hash, testManifest("acme", "choice", "1.0.0"), src)

	pkg, ok := idx.GetByHash(hash)
	assert.Assert(t, ok)
	assert.Check(t, is.Equal(pkg.Manifest.Identifier(), "acme.choice"))

	byID := idx.GetByIdentifier("acme", "choice")
	assert.Check(t, is.Len(byID, 1))
	assert.Check(t, is.Equal(byID["1.0.0"], pkg))

	exact, ok := idx.GetByIdentifierAndVersion("acme", "choice", "1.0.0")
	assert.Assert(t, ok)
	assert.Check(t, is.Equal(exact, pkg))

	_, ok = idx.GetByIdentifierAndVersion("acme", "choice", "2.0.0")
	assert.Check(t, !ok)
}

// A hash-only source never surfaces in the identifier index.
func TestIndexerNonIndexableSource(t *testing.T) {
	ctx := context.Background()
	idx := NewIndexer()
	lms := &stubSource{name: "lms", indexable: false}

	hash := HashBytes([]byte("upload"))
	idx.Register(ctx, hash, testManifest("acme", "choice", "1.0.0"), lms)

	_, ok := idx.GetByHash(hash)
	assert.Check(t, ok)
	assert.Check(t, is.Len(idx.GetByIdentifier("acme", "choice"), 0))
}

// First indexable registration of an (identifier, version) wins; a later one
// with a different hash is ignored but still reachable by hash.
func TestIndexerCollisionKeepsFirst(t *testing.T) {
	ctx := context.Background()
	idx := NewIndexer()
	first := &stubSource{name: "local", indexable: true}
	second := &stubSource{name: "repo", indexable: true}

	hashA := HashBytes([]byte("a"))
	hashB := HashBytes([]byte("b"))
	idx.Register(ctx, hashA, testManifest("acme", "choice", "1.0.0"), first)
	idx.Register(ctx, hashB, testManifest("acme", "choice", "1.0.0"), second)

	winner, ok := idx.GetByIdentifierAndVersion("acme", "choice", "1.0.0")
	assert.Assert(t, ok)
	assert.Check(t, is.Equal(winner.Hash, hashA))

	_, ok = idx.GetByHash(hashB)
	assert.Check(t, ok)
}

func TestIndexerUnregister(t *testing.T) {
	ctx := context.Background()
	idx := NewIndexer()
	local := &stubSource{name: "local", indexable: true}
	lms := &stubSource{name: "lms", indexable: false}

	hash := HashBytes([]byte("shared"))
	idx.Register(ctx, hash, testManifest("acme", "choice", "1.0.0"), local)
	idx.Register(ctx, hash, nil, lms)

	// Dropping the indexable source removes the identifier entry but the
	// package survives on the remaining source.
	idx.Unregister(ctx, hash, local)
	assert.Check(t, is.Len(idx.GetByIdentifier("acme", "choice"), 0))
	pkg, ok := idx.GetByHash(hash)
	assert.Assert(t, ok)
	assert.Check(t, is.DeepEqual(pkg.Sources(), []string{"lms"}))

	idx.Unregister(ctx, hash, lms)
	_, ok = idx.GetByHash(hash)
	assert.Check(t, !ok)
}

// Unregistering the losing side of a collision must not evict the winner.
func TestIndexerUnregisterCollisionLoser(t *testing.T) {
	ctx := context.Background()
	idx := NewIndexer()
	first := &stubSource{name: "local", indexable: true}
	second := &stubSource{name: "repo", indexable: true}

	hashA := HashBytes([]byte("a"))
	hashB := HashBytes([]byte("b"))
	idx.Register(ctx, hashA, testManifest("acme", "choice", "1.0.0"), first)
	idx.Register(ctx, hashB, testManifest("acme", "choice", "1.0.0"), second)

	idx.Unregister(ctx, hashB, second)

	winner, ok := idx.GetByIdentifierAndVersion("acme", "choice", "1.0.0")
	assert.Assert(t, ok)
	assert.Check(t, is.Equal(winner.Hash, hashA))
}

// Source reads run on every request while collectors register and
// unregister; this stays quiet under the race detector.
func TestIndexerConcurrentSourceChurn(t *testing.T) {
	ctx := context.Background()
	idx := NewIndexer()
	local := &stubSource{name: "local", indexable: true}
	repo := &stubSource{name: "repo", indexable: true, priority: 1}

	hash := HashBytes([]byte("churn"))
	pkg := idx.Register(ctx, hash, testManifest("acme", "choice", "1.0.0"), local)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			idx.Register(ctx, hash, nil, repo)
			idx.Unregister(ctx, hash, repo)
		}
	}()
	for i := 0; i < 1000; i++ {
		if pkg.bestSource() == nil {
			t.Error("package lost all sources")
			break
		}
		pkg.Sources()
	}
	<-done

	assert.Check(t, is.DeepEqual(pkg.Sources(), []string{"local"}))
}

func TestIndexerVersionsListing(t *testing.T) {
	ctx := context.Background()
	idx := NewIndexer()
	src := &stubSource{name: "local", indexable: true}

	idx.Register(ctx, HashBytes([]byte("1")), testManifest("acme", "choice", "1.2.0"), src)
	idx.Register(ctx, HashBytes([]byte("2")), testManifest("acme", "choice", "1.10.0"), src)
	idx.Register(ctx, HashBytes([]byte("3")), testManifest("acme", "choice", "0.9.0"), src)
	idx.Register(ctx, HashBytes([]byte("4")), testManifest("acme", "blank", "2.0.0"), src)

	infos := idx.PackageVersionsInfos()
	assert.Assert(t, is.Len(infos, 2))

	// Identifiers sorted ascending; versions descending, numerically not
	// lexically (1.10.0 above 1.2.0).
	assert.Check(t, is.Equal(infos[0].Manifest.Identifier(), "acme.blank"))
	assert.Check(t, is.Equal(infos[1].Manifest.Identifier(), "acme.choice"))
	versions := make([]string, 0, len(infos[1].Versions))
	for _, item := range infos[1].Versions {
		versions = append(versions, item.Version)
	}
	assert.Check(t, is.DeepEqual(versions, []string{"1.10.0", "1.2.0", "0.9.0"}))
	assert.Check(t, is.Equal(infos[1].Manifest.Version, "1.10.0"))
}
