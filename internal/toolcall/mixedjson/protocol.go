// Package mixedjson implements the mixed-JSON tool-call convention: a
// bare `{"tool":"...","arguments":{...}}` object appearing anywhere in
// prose, with no required delimiter tags, for models that refuse to
// hold a stable wrapping convention. It reuses jsonintag's scan-decode-
// fallback design with a relaxed opener: any balanced `{...}` is a
// candidate, not just one following a literal start tag.
package mixedjson

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/davincible/toolrelay/internal/rjson"
	"github.com/davincible/toolrelay/internal/toolcall"
)

// Protocol implements toolcall.Protocol for mixed JSON.
type Protocol struct{}

func New() *Protocol { return &Protocol{} }

func (p *Protocol) Name() string { return "mixed-json" }

func (p *Protocol) FormatTools(tools []toolcall.ToolDefinition, template toolcall.PromptTemplate) string {
	if template != nil {
		return template(tools)
	}
	var b strings.Builder
	b.WriteString(`You can call tools. To call one, include a JSON object anywhere in your reply of the form {"tool":"<tool name>","arguments":{...}}.` + "\n\nAvailable tools:\n")
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

func (p *Protocol) FormatToolCall(tc toolcall.ToolCall) string {
	args := json.RawMessage(tc.Input)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	wire := struct {
		Tool      string          `json:"tool"`
		Arguments json.RawMessage `json:"arguments"`
	}{Tool: tc.ToolName, Arguments: args}
	b, err := json.Marshal(wire)
	if err != nil {
		b = []byte(`{"tool":"` + tc.ToolName + `","arguments":{}}`)
	}
	return string(b)
}

func (p *Protocol) FormatToolResponse(tr toolcall.ToolResult) string {
	out := tr.Output
	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	return fmt.Sprintf("Tool %q returned: %s", tr.ToolName, string(out))
}

// ParseGeneratedText scans text for balanced `{...}` objects and decodes
// each as a candidate tool call; anything that doesn't decode to an
// object with a known "tool" name is left exactly as written (it was
// never a delimiter, just prose that happened to contain a brace).
func (p *Protocol) ParseGeneratedText(_ context.Context, text string, tools []toolcall.ToolDefinition, opts toolcall.ParseOptions) []toolcall.ContentPart {
	idGen := toolcall.ResolveIDGen(opts)

	var parts []toolcall.ContentPart
	var textBuf strings.Builder
	rest := text

	for len(rest) > 0 {
		idx := strings.IndexByte(rest, '{')
		if idx == -1 {
			textBuf.WriteString(rest)
			break
		}
		textBuf.WriteString(rest[:idx])
		local := rest[idx:]

		end, ok := scanBalancedObject(local)
		if !ok {
			// Unterminated object at end of input: never synthesize.
			textBuf.WriteString(local)
			rest = ""
			break
		}

		candidate := local[:end]
		name, input, ok := decodeCandidate(candidate, tools)
		if !ok {
			textBuf.WriteByte('{')
			rest = local[1:]
			continue
		}

		if textBuf.Len() > 0 {
			parts = append(parts, toolcall.TextPart(textBuf.String()))
			textBuf.Reset()
		}
		parts = append(parts, toolcall.ToolCallPart(toolcall.ToolCall{
			ToolCallID: idGen(),
			ToolName:   name,
			Input:      input,
		}))
		rest = local[end:]
	}

	if textBuf.Len() > 0 {
		parts = append(parts, toolcall.TextPart(textBuf.String()))
	}
	return parts
}

func (p *Protocol) ExtractToolCallSegments(text string, tools []toolcall.ToolDefinition) []string {
	var segments []string
	rest := text
	for len(rest) > 0 {
		idx := strings.IndexByte(rest, '{')
		if idx == -1 {
			return segments
		}
		local := rest[idx:]
		end, ok := scanBalancedObject(local)
		if !ok {
			return segments
		}
		candidate := local[:end]
		if _, _, ok := decodeCandidate(candidate, tools); ok {
			segments = append(segments, candidate)
		}
		rest = local[end:]
	}
	return segments
}

// decodeCandidate parses candidate (a balanced {...} span) and accepts it
// only if it is an object with a "tool" key matching a declared tool.
func decodeCandidate(candidate string, tools []toolcall.ToolDefinition) (name, input string, ok bool) {
	v, _, err := rjson.Parse(candidate, rjson.Options{Duplicate: true})
	if err != nil {
		return "", "", false
	}
	obj, isObj := v.(map[string]any)
	if !isObj {
		return "", "", false
	}
	name, _ = obj["tool"].(string)
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

// scanBalancedObject reports how many bytes of s (which must start with
// '{') make up the balanced JSON object beginning there, respecting
// string literals (so a brace inside a quoted value doesn't affect
// depth). Returns ok=false if s runs out before depth returns to zero.
func scanBalancedObject(s string) (int, bool) {
	if len(s) == 0 || s[0] != '{' {
		return 0, false
	}
	depth := 0
	inStr := false
	esc := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
