package packages

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/errdefs"
	"github.com/questionpy-org/questionpy-server/pkg/diskcache"
)

// fakeRepo serves META.json, PACKAGES.json.gz and archives over httptest.
type fakeRepo struct {
	t         *testing.T
	mux       *http.ServeMux
	server    *httptest.Server
	meta      RepoMeta
	index     []byte
	archives  map[string][]byte
	fetches   atomic.Int64
	timestamp int64
}

func newFakeRepo(t *testing.T) *fakeRepo {
	r := &fakeRepo{t: t, mux: http.NewServeMux(), archives: make(map[string][]byte)}
	r.mux.HandleFunc("/"+repoMetaFile, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(r.meta)
	})
	r.mux.HandleFunc("/"+repoIndexFile, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(r.index)
	})
	r.mux.HandleFunc("/archives/", func(w http.ResponseWriter, req *http.Request) {
		r.fetches.Add(1)
		data, ok := r.archives[req.URL.Path]
		if !ok {
			http.NotFound(w, req)
			return
		}
		_, _ = w.Write(data)
	})
	r.server = httptest.NewServer(r.mux)
	t.Cleanup(r.server.Close)
	return r
}

func (r *fakeRepo) url() *url.URL {
	u, err := url.Parse(r.server.URL + "/")
	assert.NilError(r.t, err)
	return u
}

// publish sets the repository inventory and advances the timestamp.
func (r *fakeRepo) publish(entries ...repoIndexEntry) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	assert.NilError(r.t, json.NewEncoder(gz).Encode(repoIndex{Packages: entries}))
	assert.NilError(r.t, gz.Close())
	r.index = buf.Bytes()
	r.timestamp++
	r.meta = RepoMeta{
		Timestamp: r.timestamp,
		Size:      int64(len(r.index)),
		SHA256:    string(HashBytes(r.index)),
	}
}

// addArchive registers archive bytes and returns the matching index entry.
func (r *fakeRepo) addArchive(manifest *types.Manifest, data []byte) repoIndexEntry {
	path := "/archives/" + string(HashBytes(data)) + PackageExt
	r.archives[path] = data
	return repoIndexEntry{
		Manifest: *manifest,
		Versions: []repoVersion{{
			Version: manifest.Version,
			SHA256:  string(HashBytes(data)),
			Path:    path[1:],
			Size:    int64(len(data)),
		}},
	}
}

func newRepoCollector(t *testing.T, repo *fakeRepo, pkgCacheSize int64) (*RepoCollector, *Indexer) {
	t.Helper()
	idx := NewIndexer()
	pkgCache, err := diskcache.New(t.TempDir(), pkgCacheSize, PackageExt, nil)
	assert.NilError(t, err)
	indexCache, err := diskcache.New(t.TempDir(), 1<<20, ".json.gz", nil)
	assert.NilError(t, err)
	clk := fakeclock.NewFakeClock(time.Now())
	return NewRepoCollector(repo.url(), time.Minute, clk, idx, pkgCache, indexCache), idx
}

func TestRepoCollectorUpdateDiffs(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(t)

	_, rawA := buildZip(t, t.TempDir(), "a.qpy", testManifest("acme", "choice", "1.0.0"), nil)
	_, rawB := buildZip(t, t.TempDir(), "b.qpy", testManifest("acme", "blank", "2.0.0"), nil)
	entryA := repo.addArchive(testManifest("acme", "choice", "1.0.0"), rawA)
	entryB := repo.addArchive(testManifest("acme", "blank", "2.0.0"), rawB)
	repo.publish(entryA, entryB)

	c, idx := newRepoCollector(t, repo, 1<<20)
	assert.NilError(t, c.Update(ctx))
	_, ok := idx.GetByHash(HashBytes(rawA))
	assert.Check(t, ok)
	_, ok = idx.GetByHash(HashBytes(rawB))
	assert.Check(t, ok)

	// Dropping an entry from the next index unregisters it.
	repo.publish(entryA)
	assert.NilError(t, c.Update(ctx))
	_, ok = idx.GetByHash(HashBytes(rawA))
	assert.Check(t, ok)
	_, ok = idx.GetByHash(HashBytes(rawB))
	assert.Check(t, !ok)
}

// A stale timestamp means no index download and no churn.
func TestRepoCollectorSkipsStaleIndex(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(t)
	_, raw := buildZip(t, t.TempDir(), "a.qpy", testManifest("acme", "choice", "1.0.0"), nil)
	repo.publish(repo.addArchive(testManifest("acme", "choice", "1.0.0"), raw))

	c, idx := newRepoCollector(t, repo, 1<<20)
	assert.NilError(t, c.Update(ctx))
	before := idx.PackageVersionsInfos()

	// Same timestamp, corrupted index: must never be fetched.
	repo.index = []byte("garbage")
	assert.NilError(t, c.Update(ctx))
	assert.Check(t, is.DeepEqual(len(idx.PackageVersionsInfos()), len(before)))
}

func TestRepoCollectorRejectsTamperedIndex(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(t)
	_, raw := buildZip(t, t.TempDir(), "a.qpy", testManifest("acme", "choice", "1.0.0"), nil)
	repo.publish(repo.addArchive(testManifest("acme", "choice", "1.0.0"), raw))
	repo.index = append(repo.index, 0)

	c, idx := newRepoCollector(t, repo, 1<<20)
	assert.ErrorContains(t, c.Update(ctx), "mismatch")
	assert.Check(t, is.Len(idx.PackageVersionsInfos(), 0))
}

func TestRepoCollectorDownloadsIntoCache(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(t)
	_, raw := buildZip(t, t.TempDir(), "a.qpy", testManifest("acme", "choice", "1.0.0"), nil)
	repo.publish(repo.addArchive(testManifest("acme", "choice", "1.0.0"), raw))

	c, idx := newRepoCollector(t, repo, 1<<20)
	assert.NilError(t, c.Update(ctx))

	pkg, ok := idx.GetByHash(HashBytes(raw))
	assert.Assert(t, ok)

	loc, err := c.Location(ctx, pkg)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(loc.Kind, LocationZip))
	assert.Check(t, is.Equal(repo.fetches.Load(), int64(1)))

	// Second resolution hits the cache.
	_, err = c.Location(ctx, pkg)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(repo.fetches.Load(), int64(1)))
}

// An archive the cache cannot hold resolves like a missing package.
func TestRepoCollectorArchiveTooLargeForCache(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(t)
	_, raw := buildZip(t, t.TempDir(), "a.qpy", testManifest("acme", "choice", "1.0.0"), nil)
	repo.publish(repo.addArchive(testManifest("acme", "choice", "1.0.0"), raw))

	c, idx := newRepoCollector(t, repo, 16)
	assert.NilError(t, c.Update(ctx))
	pkg, ok := idx.GetByHash(HashBytes(raw))
	assert.Assert(t, ok)

	_, err := c.Location(ctx, pkg)
	assert.Check(t, errdefs.IsNotFound(err), "got %v", err)
}
