package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash derives a stable identity for one concrete error instance, shared
// across executions: SHA-256 hex of message+"#"+path+"#"+county, lowercase,
// with no whitespace normalization. Identical hashes denote the "same"
// error for the purposes of bulk status mutation (C5).
func Hash(message, path, county string) string {
	sum := sha256.Sum256([]byte(message + "#" + path + "#" + county))
	return hex.EncodeToString(sum[:])
}
