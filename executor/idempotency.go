package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// keyLength is the number of hex characters kept from the request digest.
const keyLength = 16

// GenerateKey derives the deterministic idempotency key for a tool call:
// the SHA-256 of the canonical JSON of {tool, args, session}, truncated to
// sixteen hex characters. Canonical JSON sorts object keys at every depth
// and preserves array order, so structurally equal args produce the same
// key regardless of map iteration order. An empty session scopes the key
// to "default".
func GenerateKey(tool string, args map[string]any, sessionID string) string {
	if sessionID == "" {
		sessionID = "default"
	}
	payload := fmt.Sprintf(`{"args":%s,"session":%s,"tool":%s}`,
		canonicalJSON(args), canonicalJSON(sessionID), canonicalJSON(tool))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:keyLength]
}

// canonicalJSON renders a value as JSON with lexicographically sorted object
// keys at every depth. Values that cannot marshal render as their quoted Go
// string form so key derivation never fails.
func canonicalJSON(v any) string {
	switch tv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			out = append(out, canonicalJSON(k)...)
			out = append(out, ':')
			out = append(out, canonicalJSON(tv[k])...)
		}
		return string(append(out, '}'))
	case []any:
		out := []byte{'['}
		for i, item := range tv {
			if i > 0 {
				out = append(out, ',')
			}
			out = append(out, canonicalJSON(item)...)
		}
		return string(append(out, ']'))
	default:
		b, err := json.Marshal(v)
		if err != nil {
			b, _ = json.Marshal(fmt.Sprintf("%v", v))
		}
		return string(b)
	}
}
