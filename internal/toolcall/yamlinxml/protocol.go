// Package yamlinxml implements the YAML-in-XML tool-call convention:
// `<tool_name>` followed by a YAML mapping body, closed by `</tool_name>`,
// parsed with gopkg.in/yaml.v3 so block scalars (`|`, `>`) survive intact.
// The element name is the tool name, exactly as in xmlastool, but the
// body is YAML rather than nested XML elements.
package yamlinxml

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/davincible/toolrelay/internal/toolcall"
	"gopkg.in/yaml.v3"
)

// Protocol implements toolcall.Protocol for YAML-in-XML.
type Protocol struct{}

func New() *Protocol { return &Protocol{} }

func (p *Protocol) Name() string { return "yaml-in-xml" }

func (p *Protocol) FormatTools(tools []toolcall.ToolDefinition, template toolcall.PromptTemplate) string {
	if template != nil {
		return template(tools)
	}
	var b strings.Builder
	b.WriteString("You can call tools. To call one, respond with an XML element named after the tool, containing a YAML mapping of its arguments, e.g.:\n\n<tool_name>\narg_one: value\narg_two: |\n  multi\n  line\n</tool_name>\n\nAvailable tools:\n")
	for _, t := range tools {
		b.WriteString("- <")
		b.WriteString(t.Name)
		b.WriteString(">")
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

// FormatToolCall renders tc's arguments back as a YAML mapping body, the
// inverse of decodeYAMLBody.
func (p *Protocol) FormatToolCall(tc toolcall.ToolCall) string {
	var args any
	if tc.Input != "" {
		_ = json.Unmarshal([]byte(tc.Input), &args)
	}
	body, err := yaml.Marshal(args)
	if err != nil || args == nil {
		return fmt.Sprintf("<%s>\n</%s>", tc.ToolName, tc.ToolName)
	}
	return fmt.Sprintf("<%s>\n%s</%s>", tc.ToolName, string(body), tc.ToolName)
}

func (p *Protocol) FormatToolResponse(tr toolcall.ToolResult) string {
	out := tr.Output
	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	return fmt.Sprintf("Tool %q returned: %s", tr.ToolName, string(out))
}

// ParseGeneratedText scans text for top-level `<tool_name>...</tool_name>`
// regions whose name is declared, requiring the close tag at column 0 so
// an indented tag-like sequence inside a YAML block scalar is never
// mistaken for it (spec 4.4).
func (p *Protocol) ParseGeneratedText(_ context.Context, text string, tools []toolcall.ToolDefinition, opts toolcall.ParseOptions) []toolcall.ContentPart {
	onError := toolcall.ResolveOnError(opts)
	idGen := toolcall.ResolveIDGen(opts)
	byName := indexTools(tools)

	var parts []toolcall.ContentPart
	var textBuf strings.Builder
	rest := text

	for len(rest) > 0 {
		idx := strings.IndexByte(rest, '<')
		if idx == -1 {
			textBuf.WriteString(rest)
			break
		}
		textBuf.WriteString(rest[:idx])
		local := rest[idx:]

		name, isName := readTagName(local)
		if _, known := byName[name]; !isName || !known {
			textBuf.WriteByte('<')
			rest = local[1:]
			continue
		}

		gt := strings.IndexByte(local[1+len(name):], '>')
		if gt == -1 {
			textBuf.WriteByte('<')
			rest = local[1:]
			continue
		}
		bodyStart := 1 + len(name) + gt + 1

		needle := "</" + name + ">"
		closeIdx, matched := findClose(local[bodyStart:], needle)
		if closeIdx == -1 || !matched {
			// Unterminated at end of input: never synthesize.
			textBuf.WriteString(local)
			rest = ""
			break
		}

		body := local[bodyStart : bodyStart+closeIdx]
		outerEnd := bodyStart + closeIdx + len(needle)

		m, err := decodeYAMLBody(body)
		if err != nil {
			onError(err.Error(), map[string]any{"tool": name})
			if opts.EmitRawToolCallTextOnError {
				textBuf.WriteString(local[:outerEnd])
			}
		} else {
			if textBuf.Len() > 0 {
				parts = append(parts, toolcall.TextPart(textBuf.String()))
				textBuf.Reset()
			}
			b, _ := json.Marshal(m)
			parts = append(parts, toolcall.ToolCallPart(toolcall.ToolCall{
				ToolCallID: idGen(),
				ToolName:   name,
				Input:      string(b),
			}))
		}
		rest = local[outerEnd:]
	}

	if textBuf.Len() > 0 {
		parts = append(parts, toolcall.TextPart(textBuf.String()))
	}
	return parts
}

func (p *Protocol) ExtractToolCallSegments(text string, tools []toolcall.ToolDefinition) []string {
	byName := indexTools(tools)
	var segments []string
	rest := text
	for len(rest) > 0 {
		idx := strings.IndexByte(rest, '<')
		if idx == -1 {
			return segments
		}
		local := rest[idx:]
		name, isName := readTagName(local)
		if _, known := byName[name]; !isName || !known {
			rest = local[1:]
			continue
		}
		gt := strings.IndexByte(local[1+len(name):], '>')
		if gt == -1 {
			rest = local[1:]
			continue
		}
		bodyStart := 1 + len(name) + gt + 1
		needle := "</" + name + ">"
		closeIdx, matched := findClose(local[bodyStart:], needle)
		if closeIdx == -1 || !matched {
			return segments
		}
		outerEnd := bodyStart + closeIdx + len(needle)
		segments = append(segments, local[:outerEnd])
		rest = local[outerEnd:]
	}
	return segments
}

func decodeYAMLBody(body string) (map[string]any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(body), &v); err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("yaml-in-xml: root is not a mapping (%T)", v)
	}
	return m, nil
}

func indexTools(tools []toolcall.ToolDefinition) map[string]toolcall.ToolDefinition {
	m := make(map[string]toolcall.ToolDefinition, len(tools))
	for _, t := range tools {
		m[t.Name] = t
	}
	return m
}

func readTagName(local string) (string, bool) {
	if len(local) < 2 {
		return "", false
	}
	c := local[1]
	if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
		return "", false
	}
	i := 1
	for i < len(local) && !isNameTerminator(local[i]) {
		i++
	}
	return local[1:i], true
}

func isNameTerminator(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '>' || c == '/'
}

// findClose scans body for needle ("</tool_name>") requiring a column-0
// occurrence (spec 4.4: "require the close tag at column 0"), so an
// indented occurrence inside a YAML block scalar value is never mistaken
// for the real close. Returns (idx, true) on a confirmed match, (idx,
// false) if body's tail could still become a match with more bytes (the
// streaming case), or (-1, false) if nothing in body is currently risky.
func findClose(body, needle string) (int, bool) {
	from := 0
	for {
		rel := strings.Index(body[from:], "</")
		if rel == -1 {
			return -1, false
		}
		abs := from + rel
		if abs != 0 && body[abs-1] != '\n' {
			from = abs + 1
			continue
		}
		avail := len(body) - abs
		if avail >= len(needle) {
			if body[abs:abs+len(needle)] == needle {
				return abs, true
			}
			from = abs + 1
			continue
		}
		if needle[:avail] == body[abs:] {
			return abs, false
		}
		from = abs + 1
	}
}
