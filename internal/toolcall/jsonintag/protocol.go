// Package jsonintag implements the JSON-in-tag tool-call convention: a
// `{"name": ..., "arguments": {...}}` payload wrapped between two
// delimiter tags, by default `<tool_call>`/`</tool_call>`. The
// Hermes/Gemma/Guided prompt variants reuse this same state machine by
// embedding *Protocol (Gemma with different delimiters); the mixedjson
// protocol follows the same scan-decode-fallback design with its own parser.
package jsonintag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/davincible/toolrelay/internal/rjson"
	"github.com/davincible/toolrelay/internal/toolcall"
)

const (
	DefaultStartTag = "<tool_call>"
	DefaultEndTag   = "</tool_call>"
)

// Protocol implements toolcall.Protocol for the JSON-in-tag convention.
type Protocol struct {
	name     string
	startTag string
	endTag   string
}

// New constructs a JSON-in-tag protocol with the given name and
// delimiters, for variants that reuse this machinery with different tag
// text (e.g. prompt-template-only variants in internal/toolcall/variants).
func New(name, startTag, endTag string) *Protocol {
	return &Protocol{name: name, startTag: startTag, endTag: endTag}
}

// NewDefault constructs the protocol with the spec's default
// <tool_call>/</tool_call> delimiters.
func NewDefault() *Protocol {
	return New("json-in-tag", DefaultStartTag, DefaultEndTag)
}

func (p *Protocol) Name() string     { return p.name }
func (p *Protocol) StartTag() string { return p.startTag }
func (p *Protocol) EndTag() string   { return p.endTag }

func (p *Protocol) FormatTools(tools []toolcall.ToolDefinition, template toolcall.PromptTemplate) string {
	if template != nil {
		return template(tools)
	}
	return p.defaultTemplate(tools)
}

func (p *Protocol) defaultTemplate(tools []toolcall.ToolDefinition) string {
	var b strings.Builder
	b.WriteString("You can call tools. To call one, respond with exactly one block of the form:\n\n")
	b.WriteString(p.startTag)
	b.WriteString(`{"name":"<tool name>","arguments":{...}}`)
	b.WriteString(p.endTag)
	b.WriteString("\n\nAvailable tools:\n")
	for _, t := range tools {
		b.WriteString("- ")
		b.WriteString(t.Name)
		if t.Description != "" {
			b.WriteString(": ")
			b.WriteString(t.Description)
		}
		b.WriteByte('\n')
		if len(t.InputSchema) > 0 {
			b.WriteString("  arguments schema: ")
			b.Write(t.InputSchema)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// FormatToolCall renders tc back into protocol text, used when rewriting
// assistant history for a follow-up request.
func (p *Protocol) FormatToolCall(tc toolcall.ToolCall) string {
	args := json.RawMessage(tc.Input)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	wire := struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}{Name: tc.ToolName, Arguments: args}
	b, err := json.Marshal(wire)
	if err != nil {
		b = []byte(`{"name":"` + tc.ToolName + `","arguments":{}}`)
	}
	return p.startTag + string(b) + p.endTag
}

// FormatToolResponse renders a tool's result as the user-role text the
// model sees in place of the original tool-role message.
func (p *Protocol) FormatToolResponse(tr toolcall.ToolResult) string {
	out := tr.Output
	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	return fmt.Sprintf("Tool %q returned: %s", tr.ToolName, string(out))
}

// ParseGeneratedText is the one-shot parse: scan text for complete
// startTag...endTag segments, decoding each as a tool call and emitting
// text for everything in between (spec 4.4 JSON-in-tag state machine,
// finite-input case).
func (p *Protocol) ParseGeneratedText(_ context.Context, text string, tools []toolcall.ToolDefinition, opts toolcall.ParseOptions) []toolcall.ContentPart {
	onError := toolcall.ResolveOnError(opts)
	idGen := toolcall.ResolveIDGen(opts)

	var parts []toolcall.ContentPart
	rest := text
	for {
		start := strings.Index(rest, p.startTag)
		if start == -1 {
			if rest != "" {
				parts = append(parts, toolcall.TextPart(rest))
			}
			return parts
		}
		if start > 0 {
			parts = append(parts, toolcall.TextPart(rest[:start]))
		}

		afterStart := rest[start+len(p.startTag):]
		end := strings.Index(afterStart, p.endTag)
		if end == -1 {
			// Unterminated at end of input: never synthesize, emit verbatim.
			parts = append(parts, toolcall.TextPart(rest[start:]))
			return parts
		}

		segment := afterStart[:end]
		name, input, ok := decodePayload(segment, tools)
		if ok {
			parts = append(parts, toolcall.ToolCallPart(toolcall.ToolCall{
				ToolCallID: idGen(),
				ToolName:   name,
				Input:      input,
			}))
		} else {
			onError("malformed tool-call payload", map[string]any{"segment": segment})
			parts = append(parts, toolcall.TextPart(p.startTag+segment+p.endTag))
		}

		rest = afterStart[end+len(p.endTag):]
	}
}

// ExtractToolCallSegments returns the raw startTag...endTag substrings,
// without decoding them, for analysis/logging callers.
func (p *Protocol) ExtractToolCallSegments(text string, _ []toolcall.ToolDefinition) []string {
	var segments []string
	rest := text
	for {
		start := strings.Index(rest, p.startTag)
		if start == -1 {
			return segments
		}
		after := rest[start+len(p.startTag):]
		end := strings.Index(after, p.endTag)
		if end == -1 {
			return segments
		}
		segments = append(segments, rest[start:start+len(p.startTag)+end+len(p.endTag)])
		rest = after[end+len(p.endTag):]
	}
}

// decodePayload parses a {"name":...,"arguments":...} segment with rjson
// and validates the name against the declared tool set. An unknown tool
// name is reported as not-ok so the caller falls back to text (spec 7:
// "Unknown tool name ... treated as text, not a tool call").
func decodePayload(segment string, tools []toolcall.ToolDefinition) (name, input string, ok bool) {
	v, _, err := rjson.Parse(segment, rjson.Options{Duplicate: true})
	if err != nil {
		return "", "", false
	}
	obj, isObj := v.(map[string]any)
	if !isObj {
		return "", "", false
	}
	name, _ = obj["name"].(string)
	if name == "" || !knownTool(tools, name) {
		return "", "", false
	}
	return name, marshalArgs(obj["arguments"]), true
}

func knownTool(tools []toolcall.ToolDefinition, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func marshalArgs(args any) string {
	if args == nil {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}
