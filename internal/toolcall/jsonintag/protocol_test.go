package jsonintag

import (
	"context"
	"testing"

	"github.com/davincible/toolrelay/internal/toolcall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var weatherTool = toolcall.ToolDefinition{Name: "get_weather"}

func TestParseGeneratedText_SimpleCall(t *testing.T) {
	p := NewDefault()
	text := `Hi <tool_call>{"name":"get_weather","arguments":{"city":"Seoul"}}</tool_call> bye`

	parts := p.ParseGeneratedText(context.Background(), text, []toolcall.ToolDefinition{weatherTool}, toolcall.ParseOptions{})

	require.Len(t, parts, 3)
	assert.Equal(t, toolcall.ContentText, parts[0].Kind)
	assert.Equal(t, "Hi ", parts[0].Text)

	assert.Equal(t, toolcall.ContentToolCall, parts[1].Kind)
	assert.Equal(t, "get_weather", parts[1].ToolCall.ToolName)
	assert.JSONEq(t, `{"city":"Seoul"}`, parts[1].ToolCall.Input)

	assert.Equal(t, toolcall.ContentText, parts[2].Kind)
	assert.Equal(t, " bye", parts[2].Text)
}

func TestParseGeneratedText_UnknownToolFallsBackToText(t *testing.T) {
	p := NewDefault()
	text := `<tool_call>{"name":"nope","arguments":{}}</tool_call>`

	parts := p.ParseGeneratedText(context.Background(), text, nil, toolcall.ParseOptions{})

	require.Len(t, parts, 1)
	assert.Equal(t, toolcall.ContentText, parts[0].Kind)
	assert.Equal(t, text, parts[0].Text)
}

func TestStream_SimpleCall_ChunkSize7(t *testing.T) {
	p := NewDefault()
	text := `Hi <tool_call>{"name":"get_weather","arguments":{"city":"Seoul"}}</tool_call> bye`

	st := p.CreateStreamParser([]toolcall.ToolDefinition{weatherTool}, toolcall.ParseOptions{})
	var all []toolcall.StreamPart
	for i := 0; i < len(text); i += 7 {
		end := i + 7
		if end > len(text) {
			end = len(text)
		}
		all = append(all, st.Push(text[i:end])...)
	}
	all = append(all, st.Finish()...)

	var kinds []toolcall.StreamKind
	for _, p := range all {
		kinds = append(kinds, p.Kind)
	}

	require.Contains(t, kinds, toolcall.StreamToolInputStart)
	require.Contains(t, kinds, toolcall.StreamToolInputEnd)
	require.Contains(t, kinds, toolcall.StreamToolCall)

	var toolCall *toolcall.ToolCall
	for _, part := range all {
		if part.Kind == toolcall.StreamToolCall {
			toolCall = part.ToolCall
		}
	}
	require.NotNil(t, toolCall)
	assert.Equal(t, "get_weather", toolCall.ToolName)
	assert.JSONEq(t, `{"city":"Seoul"}`, toolCall.Input)

	reconstructed := reconstructText(all)
	assert.Equal(t, "Hi  bye", reconstructed)
}

func TestStream_SingleByteChunks_MatchesOneShot(t *testing.T) {
	p := NewDefault()
	text := `before <tool_call>{"name":"get_weather","arguments":{"city":"Seoul"}}</tool_call> after`

	st := p.CreateStreamParser([]toolcall.ToolDefinition{weatherTool}, toolcall.ParseOptions{})
	var all []toolcall.StreamPart
	for i := 0; i < len(text); i++ {
		all = append(all, st.Push(string(text[i]))...)
	}
	all = append(all, st.Finish()...)

	var calls int
	for _, part := range all {
		if part.Kind == toolcall.StreamToolCall {
			calls++
			assert.Equal(t, "get_weather", part.ToolCall.ToolName)
		}
	}
	assert.Equal(t, 1, calls)
}

func TestStream_PartialTagAtFinish(t *testing.T) {
	p := NewDefault()
	st := p.CreateStreamParser(nil, toolcall.ParseOptions{})

	parts := st.Push("before <tool_c")
	for _, part := range parts {
		assert.NotEqual(t, toolcall.StreamToolInputStart, part.Kind)
	}

	final := st.Finish()
	var text string
	for _, part := range append(parts, final...) {
		if part.Kind == toolcall.StreamTextDelta {
			text += part.Delta
		}
	}
	assert.Equal(t, "before <tool_c", text)
}

func TestStream_UnclosedToolAtFinish_EmitsFragmentAsText(t *testing.T) {
	p := NewDefault()
	st := p.CreateStreamParser([]toolcall.ToolDefinition{weatherTool}, toolcall.ParseOptions{})

	st.Push(`<tool_call>{"name":"get_weather"`)
	final := st.Finish()

	var sawToolCall bool
	var text string
	for _, part := range final {
		if part.Kind == toolcall.StreamToolCall {
			sawToolCall = true
		}
		if part.Kind == toolcall.StreamTextDelta {
			text += part.Delta
		}
	}
	assert.False(t, sawToolCall)
	assert.Equal(t, `<tool_call>{"name":"get_weather"`, text)
}

func reconstructText(parts []toolcall.StreamPart) string {
	var out string
	for _, p := range parts {
		if p.Kind == toolcall.StreamTextDelta {
			out += p.Delta
		}
	}
	return out
}
