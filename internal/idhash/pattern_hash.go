package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// ComputePatternHash computes the content-derived identity of a detected
// pattern: SHA256 over the comma-joined, lexically sorted txids.
// The sort makes the hash independent of detection order, so re-detecting
// the same set of transactions always yields the same identity.
// Returns hex-encoded hash (64 characters).
func ComputePatternHash(txids []string) string {
	sorted := make([]string, len(txids))
	copy(sorted, txids)
	sort.Strings(sorted)

	hash := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(hash[:])
}
