package catalog

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash fingerprints a record's values in field order: the first 16
// hex digits of their SHA-256.
func ContentHash(values []string) string {
	h := sha256.New()
	for i, v := range values {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(v))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
