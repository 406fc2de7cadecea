package packages

import (
	"fmt"

	"github.com/questionpy-org/questionpy-server/api/types"
)

// LocationKind discriminates the package location variants.
type LocationKind string

const (
	LocationZip      LocationKind = "zip"
	LocationDir      LocationKind = "dir"
	LocationFunction LocationKind = "function"
)

// Location tells a worker where and how to open a package. Zip and Dir are
// the shipping formats; Function names a question type registered in the
// worker runtime and exists for tests and debugging.
type Location struct {
	Kind LocationKind `json:"kind"`

	// Path of the archive (zip) or the unpacked tree (dir).
	Path string `json:"path,omitempty"`

	// Entrypoint and Manifest of a function location.
	Entrypoint string          `json:"entrypoint,omitempty"`
	Manifest   *types.Manifest `json:"manifest,omitempty"`
}

// ZipLocation points at a package archive on disk.
func ZipLocation(path string) Location {
	return Location{Kind: LocationZip, Path: path}
}

// DirLocation points at an unpacked package tree on disk.
func DirLocation(path string) Location {
	return Location{Kind: LocationDir, Path: path}
}

// FunctionLocation names a registered question type directly, bypassing any
// archive.
func FunctionLocation(entrypoint string, manifest *types.Manifest) Location {
	return Location{Kind: LocationFunction, Entrypoint: entrypoint, Manifest: manifest}
}

func (l Location) String() string {
	switch l.Kind {
	case LocationFunction:
		return fmt.Sprintf("function:%s", l.Entrypoint)
	default:
		return fmt.Sprintf("%s:%s", l.Kind, l.Path)
	}
}

// Validate checks that the location is internally consistent.
func (l Location) Validate() error {
	switch l.Kind {
	case LocationZip, LocationDir:
		if l.Path == "" {
			return fmt.Errorf("%s location without path", l.Kind)
		}
	case LocationFunction:
		if l.Entrypoint == "" || l.Manifest == nil {
			return fmt.Errorf("function location needs entrypoint and manifest")
		}
	default:
		return fmt.Errorf("unknown location kind %q", l.Kind)
	}
	return nil
}
