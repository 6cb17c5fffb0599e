// Package cache short-circuits repeated prompts with an exact hash or a
// semantic nearest-neighbor lookup. The cache is advisory: every read
// and write failure is swallowed by the caller.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Entry is one cached routing answer. Confidence is the confidence of
// the result that produced the response, replayed on a hit.
type Entry struct {
	Response   string
	Confidence float64
}

// Store is the lookup surface shared by exact and semantic modes.
type Store interface {
	// Get returns the cached response and its original confidence for
	// a prompt, if any.
	Get(ctx context.Context, prompt string) (string, float64, bool)

	// Put inserts a response. Callers check Eligible first.
	Put(ctx context.Context, prompt, response string, confidence float64) error
}

// Fingerprint returns the stable SHA-256 hex key for a prompt.
func Fingerprint(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Eligible reports whether a turn may touch the cache at all. The same
// rule gates both lookup and insert.
func Eligible(freshnessRequired bool, visionTargets int, output string) bool {
	if freshnessRequired {
		return false
	}
	if visionTargets > 0 {
		return false
	}
	return output != ""
}

// LookupEligible gates the read path, where no output exists yet.
func LookupEligible(freshnessRequired bool, visionTargets int) bool {
	return !freshnessRequired && visionTargets == 0
}
