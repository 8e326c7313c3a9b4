package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/davincible/toolrelay/internal/config"
	"github.com/davincible/toolrelay/internal/diskcache"
	"github.com/davincible/toolrelay/internal/middleware"
	"github.com/davincible/toolrelay/internal/providers"
	"github.com/davincible/toolrelay/internal/toolcall"
)

// anthropicRequest is the subset of the Claude Messages API request shape
// the tool-call bridge needs to read and rewrite. Fields it doesn't
// recognize are preserved verbatim in raw so nothing else gets dropped.
type anthropicRequest struct {
	raw        map[string]interface{}
	system     string
	messages   []anthropicMessage
	tools      []toolcall.ToolDefinition
	toolChoice toolcall.ToolChoice
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// effectiveToolCallProtocol resolves which toolcall.Registry protocol name
// (if any) a request should be bridged through: an explicit per-route
// config value wins, otherwise the provider itself is asked what its
// target model typically needs (see providers.Provider.DefaultToolCallProtocol).
// Empty means native tool-calling support, no middleware rewrite.
func effectiveToolCallProtocol(providerConfig *config.Provider, provider providers.Provider, modelName string) string {
	if providerConfig.ToolCall.Protocol != "" {
		return providerConfig.ToolCall.Protocol
	}
	return provider.DefaultToolCallProtocol(modelName)
}

// isStreamingRequest reports whether the Anthropic request body asked for
// a streamed response; the middleware bridge only handles the one-shot
// case (spec's Non-goals: this module is not a production-grade proxy).
func isStreamingRequest(body []byte) bool {
	var probe struct {
		Stream bool `json:"stream"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.Stream
}

// serveToolCallMiddleware handles one non-streaming Messages API request
// whose target provider has no native tool-calling support, bridging it
// through toolcall.Protocol via the ToolCallMiddleware pipeline instead of
// the plain format transform. Returns false if the request carries no
// tools (nothing to bridge) or the configured protocol name is unknown,
// in which case the caller falls back to the regular proxy path.
func (h *ProxyHandler) serveToolCallMiddleware(
	w http.ResponseWriter,
	r *http.Request,
	body []byte,
	modelName string,
	provider providers.Provider,
	providerConfig *config.Provider,
	protocolName string,
	inputTokens int,
) bool {
	req, err := parseAnthropicRequest(body)
	if err != nil {
		h.logger.Warn("tool-call bridge: failed to parse request, falling back", "error", err)
		return false
	}
	if len(req.tools) == 0 {
		return false
	}

	protocol, ok := h.protocols.Get(protocolName)
	if !ok {
		h.logger.Warn("tool-call bridge: unknown protocol configured, falling back",
			"protocol", protocolName, "provider", provider.Name())
		return false
	}

	opts := toolcall.ParseOptions{
		Repair:      providerConfig.ToolCall.RepairBudget > 0,
		MaxReparses: providerConfig.ToolCall.RepairBudget,
		OnError: func(message string, metadata map[string]any) {
			h.logger.Warn("tool-call parse issue", append([]any{"message", message}, flattenMetadata(metadata)...)...)
		},
	}

	mw := middleware.NewToolCallMiddleware(protocol, opts, h.logger)
	if h.cache != nil {
		key := diskcache.Key(protocol.Name(), req.tools)
		mw.FormatToolsFunc = func(tools []toolcall.ToolDefinition) string {
			return h.cache.GetOrFormat(key, protocol.Name(), func() string {
				return protocol.FormatTools(tools, nil)
			})
		}
	}

	params := middleware.GenerateParams{
		Messages:   req.toMiddlewareMessages(),
		Tools:      req.tools,
		ToolChoice: req.toolChoice,
	}

	result, err := mw.WrapGenerate(r.Context(), params, h.callUpstreamAsText(r, req, modelName, provider, providerConfig))
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "tool-call bridge request failed: %v", err)
		return true
	}

	respBody, err := anthropicResponseFromContent(result.Content, result.FinishReason, result.Usage)
	if err != nil {
		h.httpError(w, http.StatusInternalServerError, "tool-call bridge response encode failed: %v", err)
		return true
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(respBody)

	h.logger.Info("Completed tool-call bridged response",
		"provider", provider.Name(),
		"protocol", protocol.Name(),
		"finish_reason", string(result.FinishReason),
		"input_tokens", inputTokens,
	)
	return true
}

// callUpstreamAsText returns a middleware.GenerateFunc that re-serializes
// the middleware-rewritten messages back into an Anthropic-shaped request
// (tools stripped, tool calls/results flattened to protocol text by
// TransformParams), sends it to the upstream provider through the existing
// format transform and HTTP round trip, and returns the assistant's raw
// text reply for the protocol parser to scan.
func (h *ProxyHandler) callUpstreamAsText(
	r *http.Request,
	original anthropicRequest,
	modelName string,
	provider providers.Provider,
	providerConfig *config.Provider,
) middleware.GenerateFunc {
	return func(ctx context.Context, params middleware.GenerateParams) (string, toolcall.FinishReason, *toolcall.Usage, error) {
		rewritten, err := original.withMiddlewareMessages(params.Messages)
		if err != nil {
			return "", "", nil, fmt.Errorf("encode rewritten request: %w", err)
		}

		finalBody, err := h.transformRequestToProviderFormat(rewritten, provider.Name())
		if err != nil {
			h.logger.Warn("tool-call bridge: request transformation failed, using original", "error", err)
			finalBody = rewritten
		}

		finalURL := h.buildEndpointURL(provider, providerConfig.APIBase, modelName)

		upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, finalURL, strings.NewReader(string(finalBody)))
		if err != nil {
			return "", "", nil, fmt.Errorf("build upstream request: %w", err)
		}
		upstreamReq.Header = r.Header.Clone()
		if providerConfig.APIKey != "" {
			h.setAuthHeader(upstreamReq, provider, providerConfig.APIKey)
		}

		resp, err := http.DefaultClient.Do(upstreamReq)
		if err != nil {
			return "", "", nil, fmt.Errorf("upstream request failed: %w", err)
		}
		defer resp.Body.Close()

		bodyReader, err := h.decompressReader(resp)
		if err != nil {
			return "", "", nil, fmt.Errorf("decompress upstream response: %w", err)
		}
		if closer, ok := bodyReader.(io.Closer); ok {
			defer closer.Close()
		}

		_, text, finish, usage, err := h.readUpstreamText(bodyReader, resp, provider)
		if err != nil {
			return "", "", nil, err
		}

		return text, finish, usage, nil
	}
}

// readUpstreamText reads and decodes a non-streaming upstream response
// into Anthropic shape, then extracts the assistant's concatenated text
// content, stop reason, and usage.
func (h *ProxyHandler) readUpstreamText(bodyReader io.Reader, resp *http.Response, provider providers.Provider) ([]byte, string, toolcall.FinishReason, *toolcall.Usage, error) {
	respBody, err := io.ReadAll(bodyReader)
	if err != nil {
		return nil, "", "", nil, fmt.Errorf("read upstream response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, "", "", nil, fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	transformed, err := provider.Transform(respBody)
	if err != nil {
		return nil, "", "", nil, fmt.Errorf("transform upstream response: %w", err)
	}

	var anthResp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(transformed, &anthResp); err != nil {
		return nil, "", "", nil, fmt.Errorf("decode transformed response: %w", err)
	}

	var text strings.Builder
	for _, block := range anthResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	usage := &toolcall.Usage{
		InputTokens:  anthResp.Usage.InputTokens,
		OutputTokens: anthResp.Usage.OutputTokens,
		TotalTokens:  anthResp.Usage.InputTokens + anthResp.Usage.OutputTokens,
	}

	return transformed, text.String(), anthropicStopReasonToFinish(anthResp.StopReason), usage, nil
}

func anthropicStopReasonToFinish(reason string) toolcall.FinishReason {
	switch reason {
	case "max_tokens":
		return toolcall.FinishLength
	case "tool_use":
		return toolcall.FinishToolCalls
	case "":
		return toolcall.FinishStop
	default:
		return toolcall.FinishStop
	}
}

func finishToStopReason(reason toolcall.FinishReason) string {
	switch reason {
	case toolcall.FinishToolCalls:
		return "tool_use"
	case toolcall.FinishLength:
		return "max_tokens"
	case toolcall.FinishError, toolcall.FinishContentFilter:
		return "end_turn"
	default:
		return "end_turn"
	}
}

func parseAnthropicRequest(body []byte) (anthropicRequest, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return anthropicRequest{}, err
	}

	req := anthropicRequest{raw: raw, toolChoice: toolcall.ToolChoice{Mode: toolcall.ToolChoiceAuto}}

	switch sys := raw["system"].(type) {
	case string:
		req.system = sys
	case []interface{}:
		var b strings.Builder
		for _, item := range sys {
			if block, ok := item.(map[string]interface{}); ok {
				if text, ok := block["text"].(string); ok {
					b.WriteString(text)
				}
			}
		}
		req.system = b.String()
	}

	if rawMessages, ok := raw["messages"]; ok {
		messagesJSON, err := json.Marshal(rawMessages)
		if err != nil {
			return anthropicRequest{}, err
		}
		if err := json.Unmarshal(messagesJSON, &req.messages); err != nil {
			return anthropicRequest{}, err
		}
	}

	if rawTools, ok := raw["tools"].([]interface{}); ok {
		for _, t := range rawTools {
			toolMap, ok := t.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := toolMap["name"].(string)
			if name == "" {
				continue
			}
			desc, _ := toolMap["description"].(string)
			var schema json.RawMessage
			if s, ok := toolMap["input_schema"]; ok {
				schema, _ = json.Marshal(s)
			}
			req.tools = append(req.tools, toolcall.ToolDefinition{Name: name, Description: desc, InputSchema: schema})
		}
	}

	if rawChoice, ok := raw["tool_choice"].(map[string]interface{}); ok {
		switch rawChoice["type"] {
		case "none":
			req.toolChoice = toolcall.ToolChoice{Mode: toolcall.ToolChoiceNone}
		case "any":
			req.toolChoice = toolcall.ToolChoice{Mode: toolcall.ToolChoiceRequired}
		case "tool":
			name, _ := rawChoice["name"].(string)
			req.toolChoice = toolcall.ToolChoice{Mode: toolcall.ToolChoiceTool, Name: name}
		default:
			req.toolChoice = toolcall.ToolChoice{Mode: toolcall.ToolChoiceAuto}
		}
	}

	return req, nil
}

// toMiddlewareMessages converts the parsed Anthropic system text plus
// message array into the generic Message/ContentPart shape the middleware
// rewrites. A user message's tool_result blocks become their own
// Role: RoleTool message per result, the way the teacher's own
// extractToolResults splits Claude tool_result blocks out of a user turn.
func (r anthropicRequest) toMiddlewareMessages() []middleware.Message {
	var out []middleware.Message
	if r.system != "" {
		out = append(out, middleware.Message{Role: middleware.RoleSystem, Parts: []toolcall.ContentPart{toolcall.TextPart(r.system)}})
	}

	for _, msg := range r.messages {
		blocks := decodeAnthropicContent(msg.Content)
		role := middleware.Role(msg.Role)

		var textParts []toolcall.ContentPart
		for _, block := range blocks {
			switch block.Type {
			case "text":
				textParts = append(textParts, toolcall.TextPart(block.Text))
			case "tool_use":
				textParts = append(textParts, toolcall.ToolCallPart(toolcall.ToolCall{
					ToolCallID: block.ID,
					ToolName:   block.Name,
					Input:      string(block.Input),
				}))
			case "tool_result":
				if len(textParts) > 0 {
					out = append(out, middleware.Message{Role: role, Parts: textParts})
					textParts = nil
				}
				out = append(out, middleware.Message{Role: middleware.RoleTool, Parts: []toolcall.ContentPart{toolcall.ToolResultPart(toolcall.ToolResult{
					ToolCallID: block.ToolUseID,
					Output:     anthropicToolResultContentAsJSON(block.Content),
				})}})
			}
		}
		if len(textParts) > 0 {
			out = append(out, middleware.Message{Role: role, Parts: textParts})
		}
	}

	return out
}

// withMiddlewareMessages re-serializes TransformParams' rewritten
// Messages (tools stripped, tool calls/results flattened to protocol text)
// back into the Anthropic request shape, keeping every other field from
// the original request untouched.
func (r anthropicRequest) withMiddlewareMessages(messages []middleware.Message) ([]byte, error) {
	out := make(map[string]interface{}, len(r.raw))
	for k, v := range r.raw {
		out[k] = v
	}
	delete(out, "tools")
	delete(out, "tool_choice")

	var system string
	var wireMessages []map[string]interface{}
	for _, msg := range messages {
		text := contentPartsAsText(msg.Parts)
		if msg.Role == middleware.RoleSystem {
			system = joinNonEmpty(system, text)
			continue
		}
		wireMessages = append(wireMessages, map[string]interface{}{
			"role":    string(msg.Role),
			"content": text,
		})
	}

	if system != "" {
		out["system"] = system
	} else {
		delete(out, "system")
	}
	out["messages"] = wireMessages

	return json.Marshal(out)
}

func contentPartsAsText(parts []toolcall.ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Kind == toolcall.ContentText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "\n" + b
}

func decodeAnthropicContent(raw json.RawMessage) []anthropicContentBlock {
	if len(raw) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []anthropicContentBlock{{Type: "text", Text: asString}}
	}
	var blocks []anthropicContentBlock
	_ = json.Unmarshal(raw, &blocks)
	return blocks
}

func anthropicToolResultContentAsJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`""`)
	}
	return raw
}

// anthropicResponseFromContent renders the middleware's parsed content
// parts back into a minimal Claude Messages API response body.
func anthropicResponseFromContent(parts []toolcall.ContentPart, finish toolcall.FinishReason, usage *toolcall.Usage) ([]byte, error) {
	blocks := make([]map[string]interface{}, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case toolcall.ContentText:
			if p.Text == "" {
				continue
			}
			blocks = append(blocks, map[string]interface{}{"type": "text", "text": p.Text})
		case toolcall.ContentToolCall:
			var input interface{}
			if err := json.Unmarshal([]byte(p.ToolCall.Input), &input); err != nil {
				input = map[string]interface{}{}
			}
			blocks = append(blocks, map[string]interface{}{
				"type":  "tool_use",
				"id":    p.ToolCall.ToolCallID,
				"name":  p.ToolCall.ToolName,
				"input": input,
			})
		}
	}

	resp := map[string]interface{}{
		"type":        "message",
		"role":        "assistant",
		"content":     blocks,
		"stop_reason": finishToStopReason(finish),
	}
	if usage != nil {
		resp["usage"] = map[string]interface{}{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
		}
	}

	return json.Marshal(resp)
}

func flattenMetadata(metadata map[string]any) []any {
	out := make([]any, 0, len(metadata)*2)
	for k, v := range metadata {
		out = append(out, k, v)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
