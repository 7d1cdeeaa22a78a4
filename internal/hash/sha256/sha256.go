// Package sha256 derives content digests for published reports.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ETag returns a strong entity tag for data. The first 16 bytes of the digest
// are enough to tell report bodies apart.
func ETag(data []byte) string {
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
