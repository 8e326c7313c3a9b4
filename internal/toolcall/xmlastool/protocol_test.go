package xmlastool

import (
	"context"
	"testing"

	"github.com/davincible/toolrelay/internal/toolcall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var coordsTool = toolcall.ToolDefinition{
	Name: "set_coordinates",
	InputSchema: []byte(`{
		"type": "object",
		"properties": {
			"coordinates": {"type": "array", "items": {"type": "number"}}
		}
	}`),
}

var noteTool = toolcall.ToolDefinition{
	Name: "add_note",
	InputSchema: []byte(`{
		"type": "object",
		"properties": {
			"description": {"type": "string"}
		}
	}`),
}

var pingTool = toolcall.ToolDefinition{Name: "ping"}

func TestParseGeneratedText_TupleArray(t *testing.T) {
	p := New()
	text := `<set_coordinates><coordinates><0>10.5</0><1>20.3</1></coordinates></set_coordinates>`

	parts := p.ParseGeneratedText(context.Background(), text, []toolcall.ToolDefinition{coordsTool}, toolcall.ParseOptions{})

	require.Len(t, parts, 1)
	require.Equal(t, toolcall.ContentToolCall, parts[0].Kind)
	assert.Equal(t, "set_coordinates", parts[0].ToolCall.ToolName)
	assert.JSONEq(t, `{"coordinates":[10.5,20.3]}`, parts[0].ToolCall.Input)
}

func TestParseGeneratedText_UnknownTagIsText(t *testing.T) {
	p := New()
	text := `before <note>hello</note> after`

	parts := p.ParseGeneratedText(context.Background(), text, []toolcall.ToolDefinition{coordsTool}, toolcall.ParseOptions{})

	require.Len(t, parts, 1)
	assert.Equal(t, toolcall.ContentText, parts[0].Kind)
	assert.Equal(t, text, parts[0].Text)
}

func TestParseGeneratedText_SelfClosing(t *testing.T) {
	p := New()
	text := `<ping/>`

	parts := p.ParseGeneratedText(context.Background(), text, []toolcall.ToolDefinition{pingTool}, toolcall.ParseOptions{})

	require.Len(t, parts, 1)
	require.Equal(t, toolcall.ContentToolCall, parts[0].Kind)
	assert.Equal(t, "{}", parts[0].ToolCall.Input)
}

func TestParseGeneratedText_DuplicateStringTag_NonFatalKeepsLast(t *testing.T) {
	p := New()
	text := `<add_note><description>first</description><description>second</description></add_note>`

	parts := p.ParseGeneratedText(context.Background(), text, []toolcall.ToolDefinition{noteTool}, toolcall.ParseOptions{})

	require.Len(t, parts, 1)
	require.Equal(t, toolcall.ContentToolCall, parts[0].Kind)
	assert.JSONEq(t, `{"description":"second"}`, parts[0].ToolCall.Input)
}

func TestParseGeneratedText_DuplicateStringTag_Fatal(t *testing.T) {
	p := New()
	text := `<add_note><description>first</description><description>second</description></add_note>`

	var errs []string
	opts := toolcall.ParseOptions{
		DuplicateStringTagFatal: true,
		OnError: func(msg string, _ map[string]any) { errs = append(errs, msg) },
	}
	parts := p.ParseGeneratedText(context.Background(), text, []toolcall.ToolDefinition{noteTool}, opts)

	require.Len(t, parts, 1)
	assert.Equal(t, toolcall.ContentText, parts[0].Kind)
	assert.Equal(t, text, parts[0].Text)
	assert.NotEmpty(t, errs)
}

func TestStream_TupleArray_ChunkSize5(t *testing.T) {
	p := New()
	text := `<set_coordinates><coordinates><0>10.5</0><1>20.3</1></coordinates></set_coordinates>`

	st := p.CreateStreamParser([]toolcall.ToolDefinition{coordsTool}, toolcall.ParseOptions{})
	var all []toolcall.StreamPart
	for i := 0; i < len(text); i += 5 {
		end := i + 5
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
	assert.JSONEq(t, `{"coordinates":[10.5,20.3]}`, tc.Input)
}

func TestStream_UnknownTagPassesThroughAsText(t *testing.T) {
	p := New()
	text := `before <note>hi</note> after`

	st := p.CreateStreamParser([]toolcall.ToolDefinition{coordsTool}, toolcall.ParseOptions{})
	var all []toolcall.StreamPart
	for i := 0; i < len(text); i++ {
		all = append(all, st.Push(string(text[i]))...)
	}
	all = append(all, st.Finish()...)

	var reconstructed string
	var sawToolCall bool
	for _, part := range all {
		if part.Kind == toolcall.StreamTextDelta {
			reconstructed += part.Delta
		}
		if part.Kind == toolcall.StreamToolCall {
			sawToolCall = true
		}
	}
	assert.False(t, sawToolCall)
	assert.Equal(t, text, reconstructed)
}

func TestStream_PartialNameAtFinish(t *testing.T) {
	p := New()
	st := p.CreateStreamParser([]toolcall.ToolDefinition{coordsTool}, toolcall.ParseOptions{})

	parts := st.Push("before <set_coo")
	final := st.Finish()

	var text string
	for _, part := range append(parts, final...) {
		if part.Kind == toolcall.StreamTextDelta {
			text += part.Delta
		}
	}
	assert.Equal(t, "before <set_coo", text)
}

func TestStream_UnclosedToolAtFinish_EmitsFragmentAsText(t *testing.T) {
	p := New()
	st := p.CreateStreamParser([]toolcall.ToolDefinition{pingTool}, toolcall.ParseOptions{})

	st.Push("<ping>oops")
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
	assert.Equal(t, "<ping>oops", text)
}
