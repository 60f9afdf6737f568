// Package fingerprint computes the content-addressed identity of one unit
// of work: a single (question, persona, provider, model, prompt_version,
// settings) combination. The same inputs always produce the same 64-hex
// digest, across processes and restarts, so materialization can detect
// already-created work by key alone.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// NormalizeText lowercases text and collapses every run of whitespace to a
// single space. Leading and trailing whitespace is dropped.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// CanonicalSettings serializes a settings object with keys ordered
// lexicographically at every nesting level.
// Go's json.Marshal sorts map keys deterministically since Go 1.12.
func CanonicalSettings(settings map[string]any) string {
	b, err := json.Marshal(settings)
	if err != nil {
		// Settings originate from decoded JSON, so this should not happen.
		return "{}"
	}
	return string(b)
}

// Compute returns the fingerprint for one unit of work as lowercase hex.
//
// The question text is normalized and the settings are canonicalized
// before hashing, so formatting-only differences (whitespace, key order)
// do not change the key. Fields are joined with a vertical bar; none of
// the inputs can contain one after normalization mattering to identity.
func Compute(provider, model, promptVersion, questionID, personaID, questionText string, settings map[string]any) string {
	parts := []string{
		provider,
		model,
		promptVersion,
		questionID,
		personaID,
		NormalizeText(questionText),
		CanonicalSettings(settings),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
