package automation

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// resolvePointer walks an RFC 6901 JSON Pointer through a decoded JSON
// document. The empty pointer addresses the whole document. The second
// return is false when the pointer does not resolve.
func resolvePointer(doc any, pointer string) (any, bool) {
	if pointer == "" {
		return doc, true
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, false
	}

	cur := doc
	for _, token := range strings.Split(pointer[1:], "/") {
		token = strings.ReplaceAll(token, "~1", "/")
		token = strings.ReplaceAll(token, "~0", "~")

		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[token]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			// Array indices must be plain decimals without a
			// leading zero.
			if len(token) > 1 && token[0] == '0' {
				return nil, false
			}
			idx, err := strconv.Atoi(token)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// jsonEqual reports whether two values have the same JSON
// representation. Map keys are sorted by the encoder, so object key
// order does not matter.
func jsonEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
