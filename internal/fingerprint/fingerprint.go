// Package fingerprint computes the content hash used as the sole
// change-detection signal for tracked files. Modification times and sizes
// are deliberately not consulted; they are unreliable across filesystems
// and container mounts.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the lowercase hex SHA-256 digest of the UTF-8 bytes of text.
// It is a pure function: identical input always yields identical output.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
