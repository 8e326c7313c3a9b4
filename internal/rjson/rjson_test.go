package rjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_UnquotedKeys(t *testing.T) {
	v, _, err := Parse(`{name: "get_weather", arguments: {city: 'Seoul'}}`, Options{})
	require.NoError(t, err)

	obj := v.(map[string]any)
	assert.Equal(t, "get_weather", obj["name"])
	args := obj["arguments"].(map[string]any)
	assert.Equal(t, "Seoul", args["city"])
}

func TestParse_TrailingCommas(t *testing.T) {
	v, _, err := Parse(`{"a": 1, "b": [1, 2, 3,],}`, Options{})
	require.NoError(t, err)

	obj := v.(map[string]any)
	assert.Equal(t, 1.0, obj["a"])
	assert.Equal(t, []any{1.0, 2.0, 3.0}, obj["b"])
}

func TestParse_Comments(t *testing.T) {
	src := `{
		// leading comment
		"a": 1, /* inline */ "b": 2
	}`
	v, _, err := Parse(src, Options{})
	require.NoError(t, err)

	obj := v.(map[string]any)
	assert.Equal(t, 1.0, obj["a"])
	assert.Equal(t, 2.0, obj["b"])
}

func TestParse_DuplicateKeyPolicy(t *testing.T) {
	src := `{"a": 1, "a": 2}`

	v, _, err := Parse(src, Options{Duplicate: true})
	require.NoError(t, err)
	assert.Equal(t, 2.0, v.(map[string]any)["a"])

	_, _, err = Parse(src, Options{Duplicate: false})
	assert.Error(t, err)

	_, warnings, err := Parse(src, Options{Duplicate: false, Tolerant: true})
	require.Error(t, err)
	require.Len(t, warnings, 1)
}

func TestParse_MixedQuotes(t *testing.T) {
	v, _, err := Parse(`{'a': "b", "c": 'd'}`, Options{})
	require.NoError(t, err)
	obj := v.(map[string]any)
	assert.Equal(t, "b", obj["a"])
	assert.Equal(t, "d", obj["c"])
}

func TestTransform(t *testing.T) {
	out, err := Transform(`{name: 'x', n: 1,}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"x","n":1}`, out)
}
