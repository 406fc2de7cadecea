// Package packages implements the package model: content-addressed
// identities, archive access, the indexer and the collectors feeding it.
package packages

import (
	"io"
	"regexp"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// Hash is the hex-encoded sha256 of a package archive's bytes. It is the
// primary identity of a package everywhere: in URLs, in the cache and in the
// indexer.
type Hash string

var hashRegexp = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ParseHash validates a hex hash taken from a URL or request.
func ParseHash(s string) (Hash, error) {
	if !hashRegexp.MatchString(s) {
		return "", errors.Errorf("malformed package hash %q", s)
	}
	return Hash(s), nil
}

// HashBytes computes the hash of in-memory archive bytes.
func HashBytes(data []byte) Hash {
	return Hash(digest.SHA256.FromBytes(data).Encoded())
}

// NewHasher returns a streaming hasher for archive bytes read from a request
// or a download.
func NewHasher() Hasher {
	return Hasher{digest.SHA256.Digester()}
}

// Hasher accumulates archive bytes and yields their Hash.
type Hasher struct {
	d digest.Digester
}

// Writer exposes the underlying hash writer for io.TeeReader plumbing.
func (h Hasher) Writer() io.Writer { return h.d.Hash() }

// Sum returns the hash of everything written so far.
func (h Hasher) Sum() Hash { return Hash(h.d.Digest().Encoded()) }
