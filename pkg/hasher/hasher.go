// Package hasher computes the content and chain hashes records are
// addressed and linked by.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Prefix marks every digest the system produces
const Prefix = "sha256:"

// ContentHash computes the content hash of a payload:
// "sha256:" + lowercase hex of SHA-256 over the raw bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:])
}

// ChainHash computes a record's chain hash. The input is the colon-joined
// concatenation of the previous hash (empty string for the first record),
// the content hash, the author and the canonical created-at timestamp.
// The format is fixed; it must match byte-for-byte across implementations.
func ChainHash(previousHash, contentHash, userID, createdAtISO string) string {
	input := previousHash + ":" + contentHash + ":" + userID + ":" + createdAtISO
	sum := sha256.Sum256([]byte(input))
	return Prefix + hex.EncodeToString(sum[:])
}

// Hex strips the algorithm prefix from a digest, returning the bare
// lowercase hex. Digests without the prefix are returned unchanged.
func Hex(digest string) string {
	return strings.TrimPrefix(digest, Prefix)
}
