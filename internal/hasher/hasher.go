// Package hasher provides the single hash primitive the archive commits to:
// plain SHA-256 over file bytes, and SHA-256 over sibling concatenation.
// There is deliberately no domain-separation prefix (unlike RFC 6962 leaf/node
// hashing) because the archive's on-disk and wire test vectors are defined in
// terms of bare SHA-256.
package hasher

import (
	"crypto/sha256"
	"crypto/subtle"
)

// Size is the length in bytes of a Hash.
const Size = sha256.Size

// Hash is a fixed 32-byte opaque digest.
type Hash [Size]byte

// Bytes returns h as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// HashBytes returns SHA-256(b).
func HashBytes(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// HashPair returns SHA-256(a || b), the hash of two concatenated digests.
func HashPair(a, b Hash) Hash {
	var buf [2 * Size]byte
	copy(buf[:Size], a[:])
	copy(buf[Size:], b[:])
	return Hash(sha256.Sum256(buf[:]))
}

// Equal reports whether a and b are the same digest, in constant time.
func Equal(a, b Hash) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
