package packages

import (
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/errdefs"
)

// distDir is the subtree of every package archive holding the manifest, the
// code and the static files.
const distDir = "dist"

// Contents gives read access to an opened package.
type Contents interface {
	// Manifest returns the parsed and validated dist/manifest.json.
	Manifest() (*types.Manifest, error)
	// ReadStaticFile returns the bytes of a file below dist/. The declared
	// size must match the stored size exactly; a disagreement means the
	// package is invalid.
	ReadStaticFile(name string, declaredSize int64) ([]byte, error)
	Close() error
}

// Open resolves a location into readable package contents.
func Open(loc Location) (Contents, error) {
	switch loc.Kind {
	case LocationZip:
		zr, err := zip.OpenReader(loc.Path)
		if err != nil {
			return nil, errdefs.InvalidPackage(errors.Wrapf(err, "opening package archive %s", loc.Path))
		}
		return &zipContents{zr}, nil
	case LocationDir:
		return &dirContents{root: loc.Path}, nil
	case LocationFunction:
		return &functionContents{manifest: loc.Manifest}, nil
	default:
		return nil, errors.Errorf("cannot open location of kind %q", loc.Kind)
	}
}

func parseManifest(r io.Reader) (*types.Manifest, error) {
	var m types.Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, errdefs.InvalidPackage(errors.Wrap(err, "parsing manifest"))
	}
	if err := m.Validate(); err != nil {
		return nil, errdefs.InvalidPackage(err)
	}
	return &m, nil
}

func sizeMismatch(name string, declared, actual int64) error {
	return errdefs.InvalidPackage(errors.Errorf(
		"static file %s: manifest declares %d bytes but package holds %d", name, declared, actual))
}

type zipContents struct {
	zr *zip.ReadCloser
}

func (z *zipContents) find(name string) *zip.File {
	want := path.Join(distDir, name)
	for _, f := range z.zr.File {
		if f.Name == want {
			return f
		}
	}
	return nil
}

func (z *zipContents) Manifest() (*types.Manifest, error) {
	f := z.find("manifest.json")
	if f == nil {
		return nil, errdefs.InvalidPackage(errors.New("package has no dist/manifest.json"))
	}
	rc, err := f.Open()
	if err != nil {
		return nil, errdefs.InvalidPackage(err)
	}
	defer rc.Close()
	return parseManifest(rc)
}

func (z *zipContents) ReadStaticFile(name string, declaredSize int64) ([]byte, error) {
	f := z.find(name)
	if f == nil {
		return nil, errdefs.NotFound(errors.Errorf("package holds no file %s", name), errdefs.NotFoundPackage)
	}
	if int64(f.UncompressedSize64) != declaredSize {
		return nil, sizeMismatch(name, declaredSize, int64(f.UncompressedSize64))
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (z *zipContents) Close() error { return z.zr.Close() }

type dirContents struct {
	root string
}

func (d *dirContents) resolve(name string) (string, error) {
	p := filepath.Join(d.root, distDir, filepath.FromSlash(path.Clean("/"+name)))
	return p, nil
}

func (d *dirContents) Manifest() (*types.Manifest, error) {
	p, _ := d.resolve("manifest.json")
	f, err := os.Open(p)
	if err != nil {
		return nil, errdefs.InvalidPackage(errors.Wrap(err, "package has no dist/manifest.json"))
	}
	defer f.Close()
	return parseManifest(f)
}

func (d *dirContents) ReadStaticFile(name string, declaredSize int64) ([]byte, error) {
	p, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, errdefs.NotFound(errors.Errorf("package holds no file %s", name), errdefs.NotFoundPackage)
	}
	if info.Size() != declaredSize {
		return nil, sizeMismatch(name, declaredSize, info.Size())
	}
	return os.ReadFile(p)
}

func (d *dirContents) Close() error { return nil }

type functionContents struct {
	manifest *types.Manifest
}

func (f *functionContents) Manifest() (*types.Manifest, error) {
	if f.manifest == nil {
		return nil, errdefs.InvalidPackage(errors.New("function location without manifest"))
	}
	if err := f.manifest.Validate(); err != nil {
		return nil, errdefs.InvalidPackage(err)
	}
	return f.manifest, nil
}

func (f *functionContents) ReadStaticFile(name string, declaredSize int64) ([]byte, error) {
	return nil, errdefs.NotFound(errors.New("function packages hold no static files"), errdefs.NotFoundPackage)
}

func (f *functionContents) Close() error { return nil }
