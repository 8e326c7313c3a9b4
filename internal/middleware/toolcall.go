package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/davincible/toolrelay/internal/schema"
	"github.com/davincible/toolrelay/internal/toolcall"
	"github.com/davincible/toolrelay/internal/toolcall/variants"
)

// Role mirrors the host chat message roles the pipeline rewrites between.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in the conversation the pipeline rewrites, generic
// over whichever provider converter produced/consumes it.
type Message struct {
	Role  Role
	Parts []toolcall.ContentPart
}

// GenerateParams is the pre-call request shape TransformParams rewrites in
// place (spec 4.5 pre-call rewrite).
type GenerateParams struct {
	Messages   []Message
	Tools      []toolcall.ToolDefinition
	ToolChoice toolcall.ToolChoice

	// ResponseFormatSchema is set when ToolChoice forces a call (spec 4.5
	// item 5); nil otherwise.
	ResponseFormatSchema json.RawMessage

	// ToolCallSidecar carries everything the post-call layer needs without
	// re-deriving it from the (now tool-stripped) outgoing params.
	ToolCallSidecar *Sidecar
}

// Sidecar is the data TransformParams attaches to a request so
// WrapGenerate/WrapStream can recover the original tool catalog and
// choice after Tools has been cleared from the outgoing params (spec 4.5
// item 4: "carry a toolCallMiddleware sidecar").
type Sidecar struct {
	Tools      []toolcall.ToolDefinition
	ToolChoice toolcall.ToolChoice
}

// GenerateResult is the non-streaming completion the wrapped call
// produces, before and after WrapGenerate reassembles its content.
type GenerateResult struct {
	Content      []toolcall.ContentPart
	FinishReason toolcall.FinishReason
	Usage        *toolcall.Usage
}

// GenerateFunc performs the actual upstream call; TransformParams'
// rewritten params flow into it, its raw text/content flows back through
// WrapGenerate's reassembly.
type GenerateFunc func(ctx context.Context, params GenerateParams) (rawText string, finish toolcall.FinishReason, usage *toolcall.Usage, err error)

// UpstreamStreamEvent is one unit StreamFunc hands back per upstream
// chunk. IsText marks a raw text delta, fed into the protocol's
// incremental parser so tool-call text embedded in it can be recognized;
// anything else (reasoning, usage, finish, error) is a fully formed
// StreamPart that WrapStream passes through unchanged (spec 4.5: "Non-text
// parts (reasoning, usage, finish, error) pass through unchanged").
type UpstreamStreamEvent struct {
	IsText bool
	Text   string
	Part   toolcall.StreamPart
}

// StreamFunc performs the actual upstream streaming call, returning a
// channel of events the way the host runtime's stream reader would hand
// them to the transform one chunk at a time.
type StreamFunc func(ctx context.Context, params GenerateParams) (<-chan UpstreamStreamEvent, error)

// ToolCallMiddleware adapts a generic chat endpoint to behave as if it
// natively supported tool calls in protocol's host format (spec 4.5).
// Constructed once per request (it closes over the resolved protocol,
// error callback, repair budget and id generator) rather than held
// globally, since ParseOptions themselves are per-request configuration
// (spec 9).
type ToolCallMiddleware struct {
	protocol toolcall.Protocol
	opts     toolcall.ParseOptions
	logger   *slog.Logger

	// FormatToolsFunc overrides how the tool catalog is rendered into the
	// synthesized system text. Nil means call protocol.FormatTools(tools,
	// nil) directly; a caller fronting this with a cache (internal/diskcache)
	// can set it to skip re-rendering an unchanged catalog.
	FormatToolsFunc func([]toolcall.ToolDefinition) string
}

// NewToolCallMiddleware constructs a middleware bound to protocol for the
// duration of one request/step.
func NewToolCallMiddleware(protocol toolcall.Protocol, opts toolcall.ParseOptions, logger *slog.Logger) *ToolCallMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolCallMiddleware{protocol: protocol, opts: opts, logger: logger}
}

// TransformParams rewrites an incoming {messages, tools, toolChoice} into
// the host-native request the underlying endpoint actually understands
// (spec 4.5 pre-call rewrite, steps 1-5).
func (m *ToolCallMiddleware) TransformParams(params GenerateParams) (GenerateParams, error) {
	if err := validateToolChoice(params.Tools, params.ToolChoice); err != nil {
		return GenerateParams{}, err
	}

	out := params

	if len(params.Tools) > 0 {
		formatFn := m.FormatToolsFunc
		if formatFn == nil {
			formatFn = func(tools []toolcall.ToolDefinition) string { return m.protocol.FormatTools(tools, nil) }
		}
		out.Messages = prependOrAppendSystem(params.Messages, formatFn(params.Tools))
	}

	out.Messages = m.rewriteMessages(out.Messages)

	out.ToolCallSidecar = &Sidecar{Tools: params.Tools, ToolChoice: params.ToolChoice}
	out.Tools = nil

	switch params.ToolChoice.Mode {
	case toolcall.ToolChoiceRequired, toolcall.ToolChoiceTool:
		out.ResponseFormatSchema = guidedSchema(params.Tools, params.ToolChoice)
	}

	m.logger.Debug("transformed tool-call params",
		"protocol", m.protocol.Name(),
		"tool_count", len(params.Tools),
		"tool_choice", string(params.ToolChoice.Mode),
		"forced_schema", out.ResponseFormatSchema != nil,
	)

	return out, nil
}

// validateToolChoice enforces spec 4.5 step 1: none toolChoice with tools
// present is a typed error, a named tool choice must reference a declared
// tool, and required needs at least one tool.
func validateToolChoice(tools []toolcall.ToolDefinition, choice toolcall.ToolChoice) error {
	switch choice.Mode {
	case toolcall.ToolChoiceNone:
		if len(tools) > 0 {
			return toolcall.ErrToolChoiceNone
		}
	case toolcall.ToolChoiceRequired:
		if len(tools) == 0 {
			return toolcall.ErrToolChoiceRequiredEmpty
		}
	case toolcall.ToolChoiceTool:
		found := false
		for _, t := range tools {
			if t.Name == choice.Name {
				found = true
				break
			}
		}
		if !found {
			return toolcall.ErrUnknownToolChoice
		}
	}
	return nil
}

// prependOrAppendSystem synthesizes a system message from systemText and
// prepends it, or appends to an existing leading system message, keeping
// both present rather than replacing (spec 4.5 step 2: "If a system
// message already exists, keep both").
func prependOrAppendSystem(messages []Message, systemText string) []Message {
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		out := make([]Message, len(messages))
		copy(out, messages)
		out[0] = Message{Role: RoleSystem, Parts: append(
			append([]toolcall.ContentPart{}, out[0].Parts...),
			toolcall.TextPart(systemText),
		)}
		return out
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: RoleSystem, Parts: []toolcall.ContentPart{toolcall.TextPart(systemText)}})
	out = append(out, messages...)
	return out
}

// rewriteMessages implements spec 4.5 step 3: assistant tool-call parts
// become protocol text, tool-role messages become user-role text, adjacent
// text parts in one message collapse, and adjacent user messages merge.
func (m *ToolCallMiddleware) rewriteMessages(messages []Message) []Message {
	rewritten := make([]Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			rewritten = append(rewritten, Message{Role: RoleAssistant, Parts: m.flattenAssistantParts(msg.Parts)})
		case RoleTool:
			rewritten = append(rewritten, Message{Role: RoleUser, Parts: m.toolResultsAsUserText(msg.Parts)})
		default:
			rewritten = append(rewritten, Message{Role: msg.Role, Parts: collapseText(msg.Parts)})
		}
	}
	return mergeAdjacentUser(rewritten)
}

func (m *ToolCallMiddleware) flattenAssistantParts(parts []toolcall.ContentPart) []toolcall.ContentPart {
	out := make([]toolcall.ContentPart, 0, len(parts))
	for _, p := range parts {
		if p.Kind == toolcall.ContentToolCall {
			out = append(out, toolcall.TextPart(m.protocol.FormatToolCall(*p.ToolCall)))
			continue
		}
		out = append(out, p)
	}
	return collapseText(out)
}

func (m *ToolCallMiddleware) toolResultsAsUserText(parts []toolcall.ContentPart) []toolcall.ContentPart {
	out := make([]toolcall.ContentPart, 0, len(parts))
	for _, p := range parts {
		if p.Kind == toolcall.ContentToolResult {
			out = append(out, toolcall.TextPart(m.protocol.FormatToolResponse(*p.ToolResult)))
			continue
		}
		out = append(out, p)
	}
	return collapseText(out)
}

// collapseText merges adjacent ContentText parts within one message into
// a single part (spec 4.5 step 3).
func collapseText(parts []toolcall.ContentPart) []toolcall.ContentPart {
	out := make([]toolcall.ContentPart, 0, len(parts))
	for _, p := range parts {
		if p.Kind == toolcall.ContentText && len(out) > 0 && out[len(out)-1].Kind == toolcall.ContentText {
			out[len(out)-1].Text += p.Text
			continue
		}
		out = append(out, p)
	}
	return out
}

// mergeAdjacentUser merges consecutive user-role messages with a newline
// join, which rewriting a tool message into user-role text can produce
// next to a genuine user turn.
func mergeAdjacentUser(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleUser && len(out) > 0 && out[len(out)-1].Role == RoleUser {
			prev := &out[len(out)-1]
			prev.Parts = append(prev.Parts, toolcall.TextPart("\n"))
			prev.Parts = append(prev.Parts, msg.Parts...)
			prev.Parts = collapseText(prev.Parts)
			continue
		}
		out = append(out, msg)
	}
	return out
}

// guidedSchema delegates to variants.ResponseFormatSchema regardless of
// which protocol is active; non-Guided protocols simply never get this
// field read downstream (only the engines actually honoring a
// response-format hint look at it).
func guidedSchema(tools []toolcall.ToolDefinition, choice toolcall.ToolChoice) json.RawMessage {
	return variants.ResponseFormatSchema(tools, choice)
}

// WrapGenerate calls gen with the transformed params and reassembles the
// result's content list from the raw text it returns (spec 4.5 post-call,
// non-streaming case).
func (m *ToolCallMiddleware) WrapGenerate(ctx context.Context, params GenerateParams, gen GenerateFunc) (GenerateResult, error) {
	transformed, err := m.TransformParams(params)
	if err != nil {
		return GenerateResult{}, err
	}

	rawText, finish, usage, err := gen(ctx, transformed)
	if err != nil {
		return GenerateResult{}, err
	}

	var content []toolcall.ContentPart
	if transformed.ResponseFormatSchema != nil {
		content = m.parseForcedCall(rawText, transformed.ToolCallSidecar)
	} else {
		content = m.protocol.ParseGeneratedText(ctx, rawText, transformed.ToolCallSidecar.Tools, m.opts)
	}

	mappedFinish := finish
	for _, p := range content {
		if p.Kind == toolcall.ContentToolCall {
			mappedFinish = toolcall.FinishToolCalls
			break
		}
	}

	return GenerateResult{Content: content, FinishReason: mappedFinish, Usage: usage}, nil
}

// parseForcedCall handles the toolChoice-forced path (spec 4.5: "if a
// forced toolChoice is active, parse the response content as a single
// JSON call via the sidecar schemas"): the engine was constrained to emit
// exactly {"name":...,"arguments":...}, coerced with the declared tool's
// own schema rather than run through the general protocol scanner.
func (m *ToolCallMiddleware) parseForcedCall(rawText string, sidecar *Sidecar) []toolcall.ContentPart {
	var wire struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	onError := toolcall.ResolveOnError(m.opts)
	trimmed := strings.TrimSpace(rawText)
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		onError("forced tool-call output did not decode as JSON", map[string]any{"text": rawText})
		return []toolcall.ContentPart{toolcall.TextPart(rawText)}
	}

	var def *toolcall.ToolDefinition
	for i := range sidecar.Tools {
		if sidecar.Tools[i].Name == wire.Name {
			def = &sidecar.Tools[i]
			break
		}
	}
	if def == nil {
		onError("forced tool-call output named an unknown tool", map[string]any{"name": wire.Name})
		return []toolcall.ContentPart{toolcall.TextPart(rawText)}
	}

	args := wire.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if s, err := schema.Parse(def.InputSchema); err == nil && s != nil {
		var v any
		if json.Unmarshal(args, &v) == nil {
			if b, err := json.Marshal(schema.CoerceValue(s, v)); err == nil {
				args = b
			}
		}
	}

	return []toolcall.ContentPart{toolcall.ToolCallPart(toolcall.ToolCall{
		ToolCallID: toolcall.ResolveIDGen(m.opts)(),
		ToolName:   wire.Name,
		Input:      string(args),
	})}
}

// WrapStream pipes the upstream stream through the protocol's incremental
// parser, preserving non-text parts untouched (spec 4.5 post-call,
// streaming case) and mapping the terminal finish reason the way
// WrapGenerate does for the non-streaming case. If the upstream never
// sends its own finish-step/finish event, one is synthesized at
// end-of-stream with FinishStop (spec 9: "recommend emitting at
// end-of-stream" when a tool call was parsed but the upstream never sent
// finish-step) so a terminal event is always produced exactly once.
func (m *ToolCallMiddleware) WrapStream(ctx context.Context, params GenerateParams, streamFn StreamFunc) (<-chan toolcall.StreamPart, error) {
	transformed, err := m.TransformParams(params)
	if err != nil {
		return nil, err
	}

	raw, err := streamFn(ctx, transformed)
	if err != nil {
		return nil, err
	}

	out := make(chan toolcall.StreamPart)
	go func() {
		defer close(out)
		parser := m.protocol.CreateStreamParser(transformed.ToolCallSidecar.Tools, m.opts)
		finishSent := false
		crossedToolCall := false

		emit := func(parts []toolcall.StreamPart) bool {
			for _, p := range parts {
				if p.Kind == toolcall.StreamToolCall {
					crossedToolCall = true
				}
				if (p.Kind == toolcall.StreamFinishStep || p.Kind == toolcall.StreamFinish) && finishSent {
					continue // exactly one terminal event per step (spec 4.5 finish-reason mapping).
				}
				if p.Kind == toolcall.StreamFinishStep || p.Kind == toolcall.StreamFinish {
					finishSent = true
					if crossedToolCall {
						p.Reason = toolcall.FinishToolCalls
					}
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

	loop:
		for ev := range raw {
			var ok bool
			if ev.IsText {
				ok = emit(parser.Push(ev.Text))
			} else {
				ok = emit([]toolcall.StreamPart{ev.Part})
			}
			if !ok {
				break loop // context cancelled: stop draining the upstream stream
			}
		}
		if ctx.Err() == nil {
			emit(parser.Finish())
			if !finishSent {
				emit([]toolcall.StreamPart{{Kind: toolcall.StreamFinish, Reason: toolcall.FinishStop}})
			}
		}
	}()

	return out, nil
}
