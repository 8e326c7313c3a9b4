package handlers

import (
	"encoding/json"
	"testing"

	"github.com/davincible/toolrelay/internal/toolcall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnthropicRequest_ExtractsToolsAndChoice(t *testing.T) {
	body := []byte(`{
		"system": "be helpful",
		"messages": [{"role": "user", "content": "what's the weather?"}],
		"tools": [{"name": "get_weather", "description": "look up weather", "input_schema": {"type": "object"}}],
		"tool_choice": {"type": "tool", "name": "get_weather"}
	}`)

	req, err := parseAnthropicRequest(body)
	require.NoError(t, err)

	assert.Equal(t, "be helpful", req.system)
	require.Len(t, req.tools, 1)
	assert.Equal(t, "get_weather", req.tools[0].Name)
	assert.Equal(t, toolcall.ToolChoiceTool, req.toolChoice.Mode)
	assert.Equal(t, "get_weather", req.toolChoice.Name)
}

func TestParseAnthropicRequest_DefaultsToAutoChoice(t *testing.T) {
	req, err := parseAnthropicRequest([]byte(`{"messages": []}`))
	require.NoError(t, err)
	assert.Equal(t, toolcall.ToolChoiceAuto, req.toolChoice.Mode)
}

func TestIsStreamingRequest(t *testing.T) {
	assert.True(t, isStreamingRequest([]byte(`{"stream": true}`)))
	assert.False(t, isStreamingRequest([]byte(`{"stream": false}`)))
	assert.False(t, isStreamingRequest([]byte(`{}`)))
}

func TestToMiddlewareMessages_SplitsToolResultFromUserText(t *testing.T) {
	body := []byte(`{
		"messages": [
			{"role": "assistant", "content": [{"type": "tool_use", "id": "call_1", "name": "get_weather", "input": {"city": "Lyon"}}]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "call_1", "content": "18C"},
				{"type": "text", "text": "thanks"}
			]}
		]
	}`)

	req, err := parseAnthropicRequest(body)
	require.NoError(t, err)

	messages := req.toMiddlewareMessages()
	require.Len(t, messages, 3)

	assert.Equal(t, toolcall.ContentToolCall, messages[0].Parts[0].Kind)
	assert.Equal(t, "get_weather", messages[0].Parts[0].ToolCall.ToolName)

	assert.Equal(t, "tool", string(messages[1].Role))
	assert.Equal(t, toolcall.ContentToolResult, messages[1].Parts[0].Kind)
	assert.Equal(t, "call_1", messages[1].Parts[0].ToolResult.ToolCallID)

	assert.Equal(t, "user", string(messages[2].Role))
	assert.Equal(t, "thanks", messages[2].Parts[0].Text)
}

func TestAnthropicResponseFromContent_RendersTextAndToolCall(t *testing.T) {
	parts := []toolcall.ContentPart{
		toolcall.TextPart("here you go"),
		toolcall.ToolCallPart(toolcall.ToolCall{ToolCallID: "call_1", ToolName: "get_weather", Input: `{"city":"Lyon"}`}),
	}

	out, err := anthropicResponseFromContent(parts, toolcall.FinishToolCalls, &toolcall.Usage{InputTokens: 10, OutputTokens: 5})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))

	assert.Equal(t, "tool_use", decoded["stop_reason"])
	blocks := decoded["content"].([]interface{})
	require.Len(t, blocks, 2)
	assert.Equal(t, "text", blocks[0].(map[string]interface{})["type"])
	assert.Equal(t, "tool_use", blocks[1].(map[string]interface{})["type"])
}

func TestFinishToStopReason(t *testing.T) {
	assert.Equal(t, "tool_use", finishToStopReason(toolcall.FinishToolCalls))
	assert.Equal(t, "max_tokens", finishToStopReason(toolcall.FinishLength))
	assert.Equal(t, "end_turn", finishToStopReason(toolcall.FinishStop))
}
