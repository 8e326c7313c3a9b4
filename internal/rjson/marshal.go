package rjson

import "encoding/json"

// marshalStrict re-serializes a parsed value as strict JSON text. Errors
// are not expected here since Parse only ever produces JSON-representable
// values (map[string]any, []any, string, float64, bool, nil).
func marshalStrict(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
