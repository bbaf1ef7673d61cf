package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Fingerprint returns the SHA-256 of the RFC 8785 canonical JSON of r,
// excluding the Fingerprint field itself. Two results with the same
// fingerprint are the same payout down to every audit detail, which is how
// replays and batch recalculation detect drift.
func Fingerprint(r PayoutResult) (string, error) {
	r.Fingerprint = ""
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal payout result: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize payout result: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
