package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// DeriveKey folds the parts into a stable 32-byte BLAKE2b digest, hex encoded.
// Parts are separated by a unit separator so ("ab","c") and ("a","bc")
// never collide.
func DeriveKey(parts ...string) string {
	buf := make([]byte, 0, 64)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, 0x1f)
		}
		buf = append(buf, p...)
	}
	sum := blake2b.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
