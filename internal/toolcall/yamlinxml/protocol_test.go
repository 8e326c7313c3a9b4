package yamlinxml

import (
	"context"
	"testing"

	"github.com/davincible/toolrelay/internal/toolcall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var writeFileTool = toolcall.ToolDefinition{Name: "write_file"}

func TestParseGeneratedText_Multiline(t *testing.T) {
	p := New()
	text := "<write_file>\nfile_path: /tmp/a.txt\ncontents: |\n  line1\n  line2\n</write_file>"

	parts := p.ParseGeneratedText(context.Background(), text, []toolcall.ToolDefinition{writeFileTool}, toolcall.ParseOptions{})

	require.Len(t, parts, 1)
	require.Equal(t, toolcall.ContentToolCall, parts[0].Kind)
	assert.Equal(t, "write_file", parts[0].ToolCall.ToolName)
	assert.JSONEq(t, `{"file_path":"/tmp/a.txt","contents":"line1\nline2\n"}`, parts[0].ToolCall.Input)
}

func TestParseGeneratedText_NestedLookalikeInBlockScalarPreserved(t *testing.T) {
	p := New()
	text := "<write_file>\ncontents: |\n  </write_file>\n  not really closed\n</write_file>"

	parts := p.ParseGeneratedText(context.Background(), text, []toolcall.ToolDefinition{writeFileTool}, toolcall.ParseOptions{})

	require.Len(t, parts, 1)
	require.Equal(t, toolcall.ContentToolCall, parts[0].Kind)
	assert.JSONEq(t, `{"contents":"</write_file>\nnot really closed\n"}`, parts[0].ToolCall.Input)
}

func TestParseGeneratedText_NonMappingRootSuppressedByDefault(t *testing.T) {
	p := New()
	text := "<write_file>\n- one\n- two\n</write_file>"

	var errs []string
	opts := toolcall.ParseOptions{OnError: func(msg string, _ map[string]any) { errs = append(errs, msg) }}
	parts := p.ParseGeneratedText(context.Background(), text, []toolcall.ToolDefinition{writeFileTool}, opts)

	assert.Empty(t, parts)
	assert.NotEmpty(t, errs)
}

func TestParseGeneratedText_NonMappingRootForwardedWhenConfigured(t *testing.T) {
	p := New()
	text := "<write_file>\n- one\n- two\n</write_file>"

	opts := toolcall.ParseOptions{EmitRawToolCallTextOnError: true}
	parts := p.ParseGeneratedText(context.Background(), text, []toolcall.ToolDefinition{writeFileTool}, opts)

	require.Len(t, parts, 1)
	assert.Equal(t, toolcall.ContentText, parts[0].Kind)
	assert.Equal(t, text, parts[0].Text)
}

func TestStream_Multiline_ChunkSize6(t *testing.T) {
	p := New()
	text := "<write_file>\nfile_path: /tmp/a.txt\ncontents: |\n  line1\n  line2\n</write_file>"

	st := p.CreateStreamParser([]toolcall.ToolDefinition{writeFileTool}, toolcall.ParseOptions{})
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
	assert.JSONEq(t, `{"file_path":"/tmp/a.txt","contents":"line1\nline2\n"}`, tc.Input)
}

func TestStream_ForceCompletesParseableMappingAtFinish(t *testing.T) {
	p := New()
	st := p.CreateStreamParser([]toolcall.ToolDefinition{writeFileTool}, toolcall.ParseOptions{})

	st.Push("<write_file>\nfile_path: /tmp/a.txt")
	final := st.Finish()

	var tc *toolcall.ToolCall
	for _, part := range final {
		if part.Kind == toolcall.StreamToolCall {
			tc = part.ToolCall
		}
	}
	require.NotNil(t, tc)
	assert.JSONEq(t, `{"file_path":"/tmp/a.txt"}`, tc.Input)
}

func TestStream_UnparseableDanglingBodyFallsBackToText(t *testing.T) {
	p := New()
	st := p.CreateStreamParser([]toolcall.ToolDefinition{writeFileTool}, toolcall.ParseOptions{})

	st.Push("<write_file>\n{unterminated_flow_map: ")
	final := st.Finish()

	var sawToolCall bool
	for _, part := range final {
		if part.Kind == toolcall.StreamToolCall {
			sawToolCall = true
		}
	}
	assert.False(t, sawToolCall)
}
