package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint derives a deterministic cache key from a request's semantic
// content: the consumer scope (e.g. category plus consumer id), the
// normalized request text, and any feature parameters.
//
// Two requests that differ only in whitespace or letter case produce the
// same fingerprint. Parameters are folded in sorted key order so map
// iteration order cannot change the key.
func Fingerprint(scope, text string, params map[string]string) string {
	h := sha256.New()
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write([]byte(normalize(text)))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(params[k]))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// normalize lowercases the text and collapses runs of whitespace to single
// spaces so that semantically identical prompts share a fingerprint.
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
