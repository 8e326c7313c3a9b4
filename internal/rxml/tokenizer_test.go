package rxml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_BasicElement(t *testing.T) {
	root, err := Parse(`<tool_call><name>x</name></tool_call>`, ParseOptions{})
	require.NoError(t, err)

	tc := root.Children[0]
	assert.Equal(t, "tool_call", tc.TagName)
	name := tc.Elements()[0]
	assert.Equal(t, "name", name.TagName)
	assert.Equal(t, "x", name.TextContent())
}

func TestParse_SelfClosing(t *testing.T) {
	root, err := Parse(`<set_coordinates/>`, ParseOptions{})
	require.NoError(t, err)
	assert.True(t, root.Children[0].SelfClosing)
}

func TestParse_SelfClosingWithSpace(t *testing.T) {
	root, err := Parse(`<set_coordinates / >`, ParseOptions{})
	require.NoError(t, err)
	assert.True(t, root.Children[0].SelfClosing)
}

func TestParse_Attributes(t *testing.T) {
	root, err := Parse(`<a href="x" data-id='7' disabled>text</a>`, ParseOptions{})
	require.NoError(t, err)

	a := root.Children[0]
	href, ok := a.Attr("href")
	require.True(t, ok)
	assert.Equal(t, "x", href)

	id, ok := a.Attr("data-id")
	require.True(t, ok)
	assert.Equal(t, "7", id)

	_, ok = a.Attr("disabled")
	assert.True(t, ok)
}

func TestParse_UnterminatedQuotedAttribute(t *testing.T) {
	root, err := Parse(`<a href="unterminated>text</a>`, ParseOptions{})
	require.NoError(t, err)
	href, ok := root.Children[0].Attr("href")
	require.True(t, ok)
	assert.Contains(t, href, "unterminated")
}

func TestParse_CDATA(t *testing.T) {
	root, err := Parse(`<x><![CDATA[<not-a-tag>]]></x>`, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, "<not-a-tag>", root.Children[0].TextContent())
}

func TestParse_Comments(t *testing.T) {
	root, err := Parse(`<x><!-- hi --></x>`, ParseOptions{KeepComments: true})
	require.NoError(t, err)
	assert.Len(t, root.Children[0].Children, 1)
	assert.Equal(t, CommentNode, root.Children[0].Children[0].Type)
}

func TestParse_CommentsDropped(t *testing.T) {
	root, err := Parse(`<x><!-- hi --></x>`, ParseOptions{})
	require.NoError(t, err)
	assert.Len(t, root.Children[0].Children, 0)
}

func TestParse_NoChildNodes(t *testing.T) {
	root, err := Parse(`<br>after`, ParseOptions{NoChildNodes: map[string]bool{"br": true}})
	require.NoError(t, err)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "br", root.Children[0].TagName)
	assert.Equal(t, TextNode, root.Children[1].Type)
}

func TestParse_RawContentTag(t *testing.T) {
	root, err := Parse(`<script>if (a < b) { }</script>`, ParseOptions{RawContentTags: map[string]bool{"script": true}})
	require.NoError(t, err)
	assert.Equal(t, "if (a < b) { }", root.Children[0].TextContent())
}

func TestParse_MismatchedCloseWithoutRepair(t *testing.T) {
	_, err := Parse(`<a><b></a></b>`, ParseOptions{})
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}

func TestParse_MismatchedCloseWithRepair(t *testing.T) {
	root, err := Parse(`<a><b>hi</a></b>`, ParseOptions{Repair: true})
	require.NoError(t, err)
	a := root.Children[0]
	assert.Equal(t, "a", a.TagName)
	b := a.Elements()[0]
	assert.Equal(t, "b", b.TagName)
	assert.Equal(t, "hi", b.TextContent())
}

func TestParse_MalformedCloseLeadingSpace(t *testing.T) {
	root, err := Parse(`<a>hi</ a>`, ParseOptions{Repair: true})
	require.NoError(t, err)
	assert.Equal(t, "hi", root.Children[0].TextContent())
}

func TestParse_UnclosedAtTopLevelNoRepair(t *testing.T) {
	_, err := Parse(`<a><b>hi`, ParseOptions{})
	require.Error(t, err)
}

func TestParse_UnclosedAtTopLevelRepaired(t *testing.T) {
	root, err := Parse(`<a><b>hi`, ParseOptions{Repair: true})
	require.NoError(t, err)
	assert.Equal(t, "a", root.Children[0].TagName)
}

func TestParse_InnerRawExtraction(t *testing.T) {
	src := `<description>raw <b>nested</b> text</description>`
	root, err := Parse(src, ParseOptions{})
	require.NoError(t, err)
	d := root.Children[0]
	assert.Equal(t, "raw <b>nested</b> text", src[d.InnerStart:d.InnerEnd])
}

func TestRemoveDuplicateStringSiblings(t *testing.T) {
	src := `<shell><description>first</description><description>second</description><command>ls</command></shell>`
	root, err := Parse(src, ParseOptions{})
	require.NoError(t, err)

	shell := root.Children[0]
	changed := RemoveDuplicateStringSiblings(shell, map[string]bool{"description": true})
	require.True(t, changed)

	descs := shell.ElementsByTag("description")
	require.Len(t, descs, 1)
	assert.Equal(t, "second", descs[0].TextContent())
}
