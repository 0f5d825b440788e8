package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	canonicaljson "github.com/gibson042/canonicaljson-go"
)

// Fingerprint derives a stable hash of the method, path, and request body
// plus whatever header values the caller passes in relevantHeaders. The body is
// decoded and re-encoded with canonicaljson-go so that semantically
// identical bodies with different key ordering or whitespace produce the
// same fingerprint (§3.3).
func Fingerprint(method, path string, body []byte, relevantHeaders map[string]string) (string, error) {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})

	if len(body) > 0 {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err != nil {
			// Not JSON (or empty/malformed): fingerprint the raw bytes so
			// the request is still replay-detectable, just less tolerant
			// of incidental formatting differences.
			h.Write(body)
		} else {
			canonical, err := canonicaljson.Marshal(parsed)
			if err != nil {
				return "", err
			}
			h.Write(canonical)
		}
	}
	h.Write([]byte{0})

	for _, k := range sortedKeys(relevantHeaders) {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(relevantHeaders[k]))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
