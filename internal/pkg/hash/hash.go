// Package hash derives stable identifiers from configuration content.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FingerprintLen is the length of a Fingerprint in hex characters.
const FingerprintLen = 16

// SHA256 computes the SHA256 hash of data and returns it as a hex string.
func SHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Fingerprint returns a deterministic ID for an ordered list of parts.
// Parts are NUL separated so ("ab", "c") and ("a", "bc") differ.
func Fingerprint(parts ...string) string {
	return SHA256([]byte(strings.Join(parts, "\x00")))[:FingerprintLen]
}
