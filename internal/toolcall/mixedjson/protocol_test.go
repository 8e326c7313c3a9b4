package mixedjson

import (
	"context"
	"testing"

	"github.com/davincible/toolrelay/internal/toolcall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var weatherTool = toolcall.ToolDefinition{Name: "get_weather"}

func TestParseGeneratedText_BareObjectInProse(t *testing.T) {
	p := New()
	text := `Sure, let me check. {"tool":"get_weather","arguments":{"city":"Seoul"}} one moment.`

	parts := p.ParseGeneratedText(context.Background(), text, []toolcall.ToolDefinition{weatherTool}, toolcall.ParseOptions{})

	require.Len(t, parts, 3)
	assert.Equal(t, toolcall.ContentText, parts[0].Kind)
	assert.Equal(t, toolcall.ContentToolCall, parts[1].Kind)
	assert.Equal(t, "get_weather", parts[1].ToolCall.ToolName)
	assert.JSONEq(t, `{"city":"Seoul"}`, parts[1].ToolCall.Input)
	assert.Equal(t, toolcall.ContentText, parts[2].Kind)
}

func TestParseGeneratedText_WrappedInOptionalTags(t *testing.T) {
	p := New()
	text := `<tool_call>{"tool":"get_weather","arguments":{}}</tool_call>`

	parts := p.ParseGeneratedText(context.Background(), text, []toolcall.ToolDefinition{weatherTool}, toolcall.ParseOptions{})

	var sawCall bool
	for _, part := range parts {
		if part.Kind == toolcall.ContentToolCall {
			sawCall = true
			assert.Equal(t, "get_weather", part.ToolCall.ToolName)
		}
	}
	assert.True(t, sawCall)
}

func TestParseGeneratedText_IncidentalJSONIsNotATool(t *testing.T) {
	p := New()
	text := `The config is {"retries": 3, "timeout": 30}.`

	parts := p.ParseGeneratedText(context.Background(), text, []toolcall.ToolDefinition{weatherTool}, toolcall.ParseOptions{})

	require.Len(t, parts, 1)
	assert.Equal(t, toolcall.ContentText, parts[0].Kind)
	assert.Equal(t, text, parts[0].Text)
}

func TestStream_BareObject_ChunkSize6(t *testing.T) {
	p := New()
	text := `before {"tool":"get_weather","arguments":{"city":"Seoul"}} after`

	st := p.CreateStreamParser([]toolcall.ToolDefinition{weatherTool}, toolcall.ParseOptions{})
	var all []toolcall.StreamPart
	for i := 0; i < len(text); i += 6 {
		end := i + 6
		if end > len(text) {
			end = len(text)
		}
		all = append(all, st.Push(text[i:end])...)
	}
	all = append(all, st.Finish()...)

	var tc *toolcall.ToolCall
	for _, part := range all {
		if part.Kind == toolcall.StreamToolCall {
			tc = part.ToolCall
		}
	}
	require.NotNil(t, tc)
	assert.Equal(t, "get_weather", tc.ToolName)
	assert.JSONEq(t, `{"city":"Seoul"}`, tc.Input)
}

func TestStream_UnterminatedObjectAtFinish_EmitsFragmentAsText(t *testing.T) {
	p := New()
	st := p.CreateStreamParser([]toolcall.ToolDefinition{weatherTool}, toolcall.ParseOptions{})

	st.Push(`{"tool":"get_weather"`)
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
	assert.Equal(t, `{"tool":"get_weather"`, text)
}
