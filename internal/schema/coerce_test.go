package schema

import (
	"encoding/json"
	"testing"

	"github.com/davincible/toolrelay/internal/rxml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseSchema(t *testing.T, raw string) *Schema {
	t.Helper()
	s, err := Parse(json.RawMessage(raw))
	require.NoError(t, err)
	return s
}

func parseElement(t *testing.T, src string) *rxml.Node {
	t.Helper()
	root, err := rxml.Parse(src, rxml.ParseOptions{})
	require.NoError(t, err)
	return root.Elements()[0]
}

func TestCoerceElement_TupleArray(t *testing.T) {
	s := parseSchema(t, `{
		"type": "object",
		"properties": {
			"coordinates": {"type": "array", "items": {"type": "number"}}
		}
	}`)
	el := parseElement(t, `<set_coordinates><coordinates><0>10.5</0><1>20.3</1></coordinates></set_coordinates>`)

	got := CoerceElement(s, el, `<set_coordinates><coordinates><0>10.5</0><1>20.3</1></coordinates></set_coordinates>`)

	obj, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{10.5, 20.3}, obj["coordinates"])
}

func TestCoerceElement_StringIsRawInner(t *testing.T) {
	s := parseSchema(t, `{"type": "object", "properties": {"description": {"type": "string"}}}`)
	src := `<tool><description>raw <b>nested</b> text</description></tool>`
	el := parseElement(t, src)

	got := CoerceElement(s, el, src)
	obj := got.(map[string]any)
	assert.Equal(t, "raw <b>nested</b> text", obj["description"])
}

func TestCoerceElement_BooleanAndNumber(t *testing.T) {
	s := parseSchema(t, `{
		"type": "object",
		"properties": {
			"count": {"type": "integer"},
			"enabled": {"type": "boolean"}
		}
	}`)
	src := `<tool><count>7</count><enabled>TRUE</enabled></tool>`
	el := parseElement(t, src)

	got := CoerceElement(s, el, src).(map[string]any)
	assert.Equal(t, int64(7), got["count"])
	assert.Equal(t, true, got["enabled"])
}

func TestCoerceElement_ItemLift(t *testing.T) {
	s := parseSchema(t, `{
		"type": "object",
		"properties": {
			"tags": {"type": "array", "items": {"type": "string"}}
		}
	}`)
	src := `<tool><tags><item>a</item><item>b</item></tags></tool>`
	el := parseElement(t, src)

	got := CoerceElement(s, el, src).(map[string]any)
	assert.Equal(t, []any{"a", "b"}, got["tags"])
}

func TestCoerceValue_NoHintSniffsTypes(t *testing.T) {
	assert.Equal(t, true, coerceNoHintString("true"))
	assert.Equal(t, 3.5, coerceNoHintString("3.5"))
	assert.Equal(t, "hello", coerceNoHintString("hello"))

	v := coerceNoHintString(`{"a": 1}`)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.0, m["a"])
}

func TestCoerceValue_ObjectAgainstMap(t *testing.T) {
	s := parseSchema(t, `{
		"type": "object",
		"properties": {
			"count": {"type": "integer"}
		}
	}`)
	v := map[string]any{"count": "42"}

	got := CoerceValue(s, v).(map[string]any)
	assert.Equal(t, int64(42), got["count"])
}
