package shared

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/minio/sha256-simd" // simd optimized sha256 computation
	"github.com/zeebo/blake3"
)

// ErrDigestUnavailable is returned when a digest algorithm cannot be constructed.
var ErrDigestUnavailable = errors.New("digest algorithm unavailable")

const (
	DigestSHA1   = "SHA1"
	DigestSHA256 = "SHA256"
	DigestBLAKE3 = "BLAKE3"

	// DefaultDigest is the digest used by proofs and votes unless configured otherwise.
	DefaultDigest = DigestSHA1
)

// NewDigest returns a fresh hash.Hash for the named algorithm.
// Names are case-insensitive.
func NewDigest(name string) (hash.Hash, error) {
	switch strings.ToUpper(name) {
	case DigestSHA1, "SHA-1":
		return sha1.New(), nil
	case DigestSHA256, "SHA-256":
		return sha256.New(), nil
	case DigestBLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrDigestUnavailable, name)
	}
}

// DigestFactory returns a constructor for the named digest, failing early if the
// algorithm is unknown.
func DigestFactory(name string) (func() hash.Hash, error) {
	if _, err := NewDigest(name); err != nil {
		return nil, err
	}
	return func() hash.Hash {
		h, _ := NewDigest(name)
		return h
	}, nil
}
