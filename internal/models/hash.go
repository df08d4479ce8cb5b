package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash fingerprints an inbound message's subject+body for the
// near-duplicate dedup check on ProcessedEmail (§4.10 supplemental).
func ContentHash(subject, body string) string {
	sum := sha256.Sum256([]byte(subject + "\n" + body))
	return hex.EncodeToString(sum[:])
}
