// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Hasher produces running SHA-256 digests for streamed payloads.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewDigest starts a running digest that chunks can be written into as they arrive.
func (h *Hasher) NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Digest accumulates chunks in write order.
type Digest struct {
	h hash.Hash
}

// Write adds p to the digest. It never returns an error.
func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Sum returns the hex digest of everything written so far.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
