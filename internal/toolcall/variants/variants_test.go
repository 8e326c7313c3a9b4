package variants

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/davincible/toolrelay/internal/toolcall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var echoTool = toolcall.ToolDefinition{
	Name:        "echo",
	Description: "echoes its input",
	InputSchema: json.RawMessage(`{"type":"object","properties":{"msg":{"type":"string"}}}`),
}

func TestHermes_ParseGeneratedText(t *testing.T) {
	p := NewHermes()
	text := `<tool_call>{"name":"echo","arguments":{"msg":"hi"}}</tool_call>`

	parts := p.ParseGeneratedText(context.Background(), text, []toolcall.ToolDefinition{echoTool}, toolcall.ParseOptions{})

	require.Len(t, parts, 1)
	assert.Equal(t, "echo", parts[0].ToolCall.ToolName)
}

func TestHermes_FormatTools_DefaultTemplate(t *testing.T) {
	p := NewHermes()
	out := p.FormatTools([]toolcall.ToolDefinition{echoTool}, nil)
	assert.Contains(t, out, "<tool_call>")
	assert.Contains(t, out, "echo")
}

func TestGemma_UsesFencedDelimiters(t *testing.T) {
	p := NewGemma()
	tc := toolcall.ToolCall{ToolCallID: "1", ToolName: "echo", Input: `{"msg":"hi"}`}
	rendered := p.FormatToolCall(tc)
	assert.Contains(t, rendered, "```tool_call")

	parts := p.ParseGeneratedText(context.Background(), rendered, []toolcall.ToolDefinition{echoTool}, toolcall.ParseOptions{})
	require.Len(t, parts, 1)
	assert.Equal(t, "echo", parts[0].ToolCall.ToolName)
}

func TestGuided_ParsesSameAsHermes(t *testing.T) {
	p := NewGuided()
	text := `<tool_call>{"name":"echo","arguments":{"msg":"hi"}}</tool_call>`

	parts := p.ParseGeneratedText(context.Background(), text, []toolcall.ToolDefinition{echoTool}, toolcall.ParseOptions{})

	require.Len(t, parts, 1)
	assert.Equal(t, "echo", parts[0].ToolCall.ToolName)
}

func TestResponseFormatSchema_NamedTool(t *testing.T) {
	choice := toolcall.ToolChoice{Mode: toolcall.ToolChoiceTool, Name: "echo"}
	schema := ResponseFormatSchema([]toolcall.ToolDefinition{echoTool}, choice)
	require.NotNil(t, schema)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(schema, &decoded))
	props := decoded["properties"].(map[string]any)
	name := props["name"].(map[string]any)
	assert.Equal(t, "echo", name["const"])
}

func TestResponseFormatSchema_RequiredIfThenElse(t *testing.T) {
	other := toolcall.ToolDefinition{Name: "ping"}
	choice := toolcall.ToolChoice{Mode: toolcall.ToolChoiceRequired}
	schema := ResponseFormatSchema([]toolcall.ToolDefinition{echoTool, other}, choice)
	require.NotNil(t, schema)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(schema, &decoded))
	cond := decoded["if"].(map[string]any)["properties"].(map[string]any)["name"].(map[string]any)
	assert.Equal(t, "echo", cond["const"])
	second := decoded["else"].(map[string]any)
	assert.Contains(t, second, "then")
	assert.Equal(t, false, second["else"])
}

func TestResponseFormatSchema_AutoModeReturnsNil(t *testing.T) {
	choice := toolcall.ToolChoice{Mode: toolcall.ToolChoiceAuto}
	schema := ResponseFormatSchema([]toolcall.ToolDefinition{echoTool}, choice)
	assert.Nil(t, schema)
}
