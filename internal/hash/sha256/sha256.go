// Package sha256 provides content hashing for archived object names.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher hashes artifact source URLs and payloads.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Short returns the first n hex characters of the digest of data.
func (h *Hasher) Short(data []byte, n int) string {
	digest := h.Hash(data)
	if n <= 0 || n > len(digest) {
		return digest
	}
	return digest[:n]
}
