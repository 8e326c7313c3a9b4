package diskcache

import (
	"path/filepath"
	"testing"

	"github.com/davincible/toolrelay/internal/toolcall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_StableUnderToolOrder(t *testing.T) {
	a := []toolcall.ToolDefinition{{Name: "b"}, {Name: "a"}}
	b := []toolcall.ToolDefinition{{Name: "a"}, {Name: "b"}}
	assert.Equal(t, Key("jsonintag", a), Key("jsonintag", b))
}

func TestKey_DiffersByProtocol(t *testing.T) {
	tools := []toolcall.ToolDefinition{{Name: "a"}}
	assert.NotEqual(t, Key("jsonintag", tools), Key("xmlastool", tools))
}

func TestPutGet_RoundTrips(t *testing.T) {
	c, err := New(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	key := Key("jsonintag", []toolcall.ToolDefinition{{Name: "echo"}})
	require.NoError(t, c.Put(key, "jsonintag", "formatted prompt text"))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "formatted prompt text", got)
}

func TestGet_MissingKeyReturnsFalse(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	_, ok := c.Get("does-not-exist")
	assert.False(t, ok)
}

func TestGetOrFormat_CallsFormatOnlyOnMiss(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	key := Key("jsonintag", nil)
	calls := 0
	format := func() string {
		calls++
		return "computed"
	}

	first := c.GetOrFormat(key, "jsonintag", format)
	second := c.GetOrFormat(key, "jsonintag", format)

	assert.Equal(t, "computed", first)
	assert.Equal(t, "computed", second)
	assert.Equal(t, 1, calls)
}
