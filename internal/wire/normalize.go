// Package wire reshapes upstream JSON so the rest of the library sees one
// naming convention regardless of which endpoint produced a payload.
package wire

import (
	"encoding/json"
	"strings"
	"unicode"
)

// SnakeKey converts a camelCase JSON key to snake_case. Keys already in
// snake_case pass through unchanged, so the conversion is idempotent.
func SnakeKey(key string) string {
	if !strings.ContainsFunc(key, unicode.IsUpper) {
		return key
	}
	var b strings.Builder
	b.Grow(len(key) + 4)
	runes := []rune(key)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && runes[i-1] != '_' && (prevLower || nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeKeys rewrites every map key in a decoded JSON value to
// snake_case, recursing through nested objects and arrays. Values are
// never altered.
func NormalizeKeys(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[SnakeKey(k)] = NormalizeKeys(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = NormalizeKeys(inner)
		}
		return out
	default:
		return v
	}
}

// NormalizeJSON decodes raw JSON, normalizes object keys recursively, and
// re-encodes. Scalars and arrays at the top level pass through with keys of
// any nested objects normalized.
func NormalizeJSON(raw []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(NormalizeKeys(v))
}
