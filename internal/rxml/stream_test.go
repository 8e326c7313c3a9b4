package rxml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamTokenizer_EmitsOnClose(t *testing.T) {
	st := NewStreamTokenizer(ParseOptions{})

	nodes := st.Feed(`<a>hi</a><b>`)
	require.Len(t, nodes, 1)
	assert.Equal(t, "a", nodes[0].TagName)

	nodes = st.Feed(`world</b>`)
	require.Len(t, nodes, 1)
	assert.Equal(t, "b", nodes[0].TagName)
}

func TestStreamTokenizer_CloseFlushesTail(t *testing.T) {
	st := NewStreamTokenizer(ParseOptions{})
	st.Feed(`<a>partial`)
	nodes := st.Close()
	require.Len(t, nodes, 1)
	assert.Equal(t, "a", nodes[0].TagName)
}
