package visitors

import (
	"crypto/sha256"
	"encoding/hex"
)

// FingerprintLength is the number of hex characters kept from the digest.
const FingerprintLength = 16

// Fingerprint derives the visitor identity used for unique-visitor dedup.
// The address is never stored, only hashed together with the secret salt.
// Rotating the salt starts a fresh set of visitors.
func Fingerprint(address, salt string) string {
	hash := sha256.Sum256([]byte(address + salt))
	return hex.EncodeToString(hash[:])[:FingerprintLength]
}
