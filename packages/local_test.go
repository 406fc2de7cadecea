package packages

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/questionpy-org/questionpy-server/api/types"
)

func TestLocalCollectorScan(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := NewIndexer()

	_, raw := buildZip(t, dir, "choice.qpy", testManifest("acme", "choice", "1.0.0"), nil)
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a package"), 0o644))

	c := NewLocalCollector(dir, idx, zipResolver)
	assert.NilError(t, c.Update(ctx))

	pkg, ok := idx.GetByHash(HashBytes(raw))
	assert.Assert(t, ok)
	assert.Check(t, is.Equal(pkg.Manifest.Identifier(), "acme.choice"))
	assert.Check(t, is.Len(idx.GetByIdentifier("acme", "choice"), 1))

	loc, err := c.Location(ctx, pkg)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(loc.Kind, LocationZip))
}

// Two paths holding identical bytes are one package; it leaves the index only
// when the last path goes.
func TestLocalCollectorDuplicatePaths(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := NewIndexer()

	pathA, raw := buildZip(t, dir, "a.qpy", testManifest("acme", "choice", "1.0.0"), nil)
	pathB := filepath.Join(dir, "b.qpy")
	assert.NilError(t, os.WriteFile(pathB, raw, 0o644))

	c := NewLocalCollector(dir, idx, zipResolver)
	assert.NilError(t, c.Update(ctx))

	hash := HashBytes(raw)
	_, ok := idx.GetByHash(hash)
	assert.Assert(t, ok)

	assert.NilError(t, os.Remove(pathA))
	assert.NilError(t, c.Update(ctx))
	_, ok = idx.GetByHash(hash)
	assert.Check(t, ok, "hash still has a path")

	assert.NilError(t, os.Remove(pathB))
	assert.NilError(t, c.Update(ctx))
	_, ok = idx.GetByHash(hash)
	assert.Check(t, !ok)
}

// A rename between scans must not bounce the package out of the index.
func TestLocalCollectorMove(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := NewIndexer()

	oldPath, raw := buildZip(t, dir, "old.qpy", testManifest("acme", "choice", "1.0.0"), nil)
	c := NewLocalCollector(dir, idx, zipResolver)
	assert.NilError(t, c.Update(ctx))

	assert.NilError(t, os.Rename(oldPath, filepath.Join(dir, "new.qpy")))
	assert.NilError(t, c.Update(ctx))

	pkg, ok := idx.GetByHash(HashBytes(raw))
	assert.Assert(t, ok)
	loc, err := c.Location(ctx, pkg)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(loc.Path, filepath.Join(dir, "new.qpy")))
}

// The collector resolves every first path itself, even when another source
// already indexed the hash; a registration borrowing that source's manifest
// would be left without one if the source unregistered in between.
func TestLocalCollectorResolvesKnownHash(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := NewIndexer()

	_, raw := buildZip(t, dir, "choice.qpy", testManifest("acme", "choice", "1.0.0"), nil)
	hash := HashBytes(raw)
	lms := &stubSource{name: "lms", indexable: false}
	idx.Register(ctx, hash, testManifest("acme", "choice", "1.0.0"), lms)

	var resolved int
	resolver := func(ctx context.Context, loc Location) (*types.Manifest, error) {
		resolved++
		return zipResolver(ctx, loc)
	}
	c := NewLocalCollector(dir, idx, resolver)
	assert.NilError(t, c.Update(ctx))
	assert.Check(t, is.Equal(resolved, 1))

	idx.Unregister(ctx, hash, lms)
	pkg, ok := idx.GetByHash(hash)
	assert.Assert(t, ok)
	assert.Check(t, is.Equal(pkg.Manifest.Identifier(), "acme.choice"))
	assert.Check(t, is.Len(idx.GetByIdentifier("acme", "choice"), 1))
}

func TestLocalCollectorIgnoresBrokenArchive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := NewIndexer()
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "broken.qpy"), []byte("not a zip"), 0o644))

	c := NewLocalCollector(dir, idx, zipResolver)
	assert.NilError(t, c.Update(ctx))
	assert.Check(t, is.Len(idx.PackageVersionsInfos(), 0))
}
