// Package hasher computes content digests used for artifact integrity and short stable ids.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Checksum returns the lowercase hex SHA-256 of data. This is the value written to manifests.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Short returns the first n hex characters of the BLAKE3 digest of s.
func Short(s string, n int) string {
	sum := blake3.Sum256([]byte(s))
	h := hex.EncodeToString(sum[:])
	if n <= 0 || n > len(h) {
		return h
	}
	return h[:n]
}
