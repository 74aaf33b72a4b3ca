// Package integrity implements content-hash computation and verification.
// It is deliberately tiny: every other component depends on it for the
// content-hash invariant, so it must have zero dependencies of its own.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeHash returns hex(SHA-256(utf8 bytes)) of content.
func ComputeHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether content still hashes to storedHash.
func Verify(content, storedHash string) bool {
	return ComputeHash(content) == storedHash
}
