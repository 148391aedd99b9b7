package recycling

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint is the hex blake2b-256 digest of the raw photo bytes.
func Fingerprint(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
