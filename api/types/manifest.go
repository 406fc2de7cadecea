package types

import (
	"fmt"
	"regexp"

	"golang.org/x/mod/semver"
)

// PackageType distinguishes runnable question types from library-only
// packages.
type PackageType string

const (
	PackageTypeQuestion PackageType = "QUESTION_TYPE"
	PackageTypeLibrary  PackageType = "LIBRARY"
)

// DefaultEntrypoint is assumed when a manifest does not name one.
const DefaultEntrypoint = "__main__"

// StaticFile describes one entry of the manifest's static-file inventory.
// Size must equal the size of the file inside the package's dist subtree.
type StaticFile struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// Manifest is the package metadata stored at dist/manifest.json inside every
// package archive.
type Manifest struct {
	ShortName   string                `json:"short_name"`
	Namespace   string                `json:"namespace"`
	Version     string                `json:"version"`
	APIVersion  string                `json:"api_version"`
	Author      string                `json:"author"`
	Name        map[string]string     `json:"name,omitempty"`
	Description map[string]string     `json:"description,omitempty"`
	Type        PackageType           `json:"type"`
	Entrypoint  string                `json:"entrypoint,omitempty"`
	Languages   []string              `json:"languages,omitempty"`
	Permissions []string              `json:"permissions,omitempty"`
	Tags        []string              `json:"tags,omitempty"`
	Requirements []string             `json:"requirements,omitempty"`
	StaticFiles map[string]StaticFile `json:"static_files,omitempty"`
}

var identifierRegexp = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate checks the fields the server relies on. It does not touch the
// static-file inventory; sizes are cross-checked against the archive when a
// file is actually served.
func (m *Manifest) Validate() error {
	if !identifierRegexp.MatchString(m.ShortName) {
		return fmt.Errorf("invalid short_name %q", m.ShortName)
	}
	if !identifierRegexp.MatchString(m.Namespace) {
		return fmt.Errorf("invalid namespace %q", m.Namespace)
	}
	if !semver.IsValid("v" + m.Version) {
		return fmt.Errorf("invalid version %q", m.Version)
	}
	switch m.Type {
	case PackageTypeQuestion, PackageTypeLibrary:
	default:
		return fmt.Errorf("invalid package type %q", m.Type)
	}
	return nil
}

// EntrypointOrDefault returns the manifest entrypoint, falling back to
// DefaultEntrypoint.
func (m *Manifest) EntrypointOrDefault() string {
	if m.Entrypoint == "" {
		return DefaultEntrypoint
	}
	return m.Entrypoint
}

// Identifier returns the namespace-qualified package name.
func (m *Manifest) Identifier() string {
	return m.Namespace + "." + m.ShortName
}

// CompareVersions orders two semver strings, newest first when used with
// sort functions as CompareVersions(b, a).
func CompareVersions(a, b string) int {
	return semver.Compare("v"+a, "v"+b)
}
