package packages

import (
	"archive/zip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/questionpy-org/questionpy-server/api/types"
)

func testManifest(namespace, shortName, version string) *types.Manifest {
	return &types.Manifest{
		ShortName:  shortName,
		Namespace:  namespace,
		Version:    version,
		APIVersion: "1.0",
		Author:     "Example Author",
		Type:       types.PackageTypeQuestion,
	}
}

// buildZip writes a minimal package archive and returns its path and bytes.
func buildZip(t *testing.T, dir, name string, manifest *types.Manifest, static map[string]string) (string, []byte) {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	assert.NilError(t, err)
	zw := zip.NewWriter(f)

	w, err := zw.Create("dist/manifest.json")
	assert.NilError(t, err)
	data := marshalManifest(t, manifest)
	_, err = w.Write(data)
	assert.NilError(t, err)

	for file, content := range static {
		w, err := zw.Create("dist/" + file)
		assert.NilError(t, err)
		_, err = w.Write([]byte(content))
		assert.NilError(t, err)
	}

	assert.NilError(t, zw.Close())
	assert.NilError(t, f.Close())

	raw, err := os.ReadFile(path)
	assert.NilError(t, err)
	return path, raw
}

func marshalManifest(t *testing.T, m *types.Manifest) []byte {
	t.Helper()
	data, err := json.Marshal(m)
	assert.NilError(t, err)
	return data
}

// zipResolver reads manifests straight out of archives, standing in for the
// worker-backed resolver.
func zipResolver(ctx context.Context, loc Location) (*types.Manifest, error) {
	contents, err := Open(loc)
	if err != nil {
		return nil, err
	}
	defer contents.Close()
	return contents.Manifest()
}

type stubSource struct {
	name      string
	indexable bool
	priority  int
	location  Location
}

func (s *stubSource) Name() string    { return s.name }
func (s *stubSource) Indexable() bool { return s.indexable }
func (s *stubSource) Priority() int   { return s.priority }
func (s *stubSource) Location(context.Context, *Package) (Location, error) {
	return s.location, nil
}
