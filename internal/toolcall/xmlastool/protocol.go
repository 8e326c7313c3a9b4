// Package xmlastool implements the morph-XML tool-call convention: each
// call is `<tool_name>...inner...</tool_name>`, where the element name
// itself is the tool name. An element name is only treated as a tool call
// when it matches a declared ToolDefinition; any other tag is left as
// ordinary text (spec 4.4: "the model's output is not corrected").
package xmlastool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/davincible/toolrelay/internal/rxml"
	"github.com/davincible/toolrelay/internal/schema"
	"github.com/davincible/toolrelay/internal/toolcall"
)

// Protocol implements toolcall.Protocol for morph-XML.
type Protocol struct{}

func New() *Protocol { return &Protocol{} }

func (p *Protocol) Name() string { return "xml-as-tool" }

func (p *Protocol) FormatTools(tools []toolcall.ToolDefinition, template toolcall.PromptTemplate) string {
	if template != nil {
		return template(tools)
	}
	var b strings.Builder
	b.WriteString("You can call tools. To call one, respond with an XML element named after the tool, with one child element per argument, e.g. <tool_name><field>value</field></tool_name>, or <tool_name/> for a tool with no arguments.\n\nAvailable tools:\n")
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

// FormatToolCall renders tc's arguments back to nested XML elements, the
// inverse of the coercion rules in internal/schema.
func (p *Protocol) FormatToolCall(tc toolcall.ToolCall) string {
	var args any
	if tc.Input != "" {
		_ = json.Unmarshal([]byte(tc.Input), &args)
	}
	if args == nil {
		return fmt.Sprintf("<%s/>", tc.ToolName)
	}
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(tc.ToolName)
	b.WriteByte('>')
	writeXMLValue(&b, args)
	b.WriteString("</")
	b.WriteString(tc.ToolName)
	b.WriteByte('>')
	return b.String()
}

func (p *Protocol) FormatToolResponse(tr toolcall.ToolResult) string {
	out := tr.Output
	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	return fmt.Sprintf("Tool %q returned: %s", tr.ToolName, string(out))
}

func writeXMLValue(b *strings.Builder, v any) {
	m, ok := v.(map[string]any)
	if !ok {
		b.WriteString(toXMLText(v))
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeXMLField(b, k, m[k])
	}
}

func writeXMLField(b *strings.Builder, key string, v any) {
	if arr, ok := v.([]any); ok {
		// array fields serialize as positional index tags inside the field's
		// own element, the inverse of the tuple coercion rule
		b.WriteByte('<')
		b.WriteString(key)
		b.WriteByte('>')
		for i, e := range arr {
			writeXMLField(b, strconv.Itoa(i), e)
		}
		b.WriteString("</")
		b.WriteString(key)
		b.WriteByte('>')
		return
	}
	b.WriteByte('<')
	b.WriteString(key)
	b.WriteByte('>')
	writeXMLValue(b, v)
	b.WriteString("</")
	b.WriteString(key)
	b.WriteByte('>')
}

func toXMLText(v any) string {
	switch val := v.(type) {
	case string:
		return escapeXML(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}

func escapeXML(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// ParseGeneratedText scans text for top-level elements whose name matches
// a declared tool; everything else (prose, and tags with unrecognised
// names) passes through untouched as text.
func (p *Protocol) ParseGeneratedText(_ context.Context, text string, tools []toolcall.ToolDefinition, opts toolcall.ParseOptions) []toolcall.ContentPart {
	onError := toolcall.ResolveOnError(opts)
	idGen := toolcall.ResolveIDGen(opts)
	byName := indexTools(tools)

	var parts []toolcall.ContentPart
	var text_ strings.Builder
	rest := text

	for len(rest) > 0 {
		idx := strings.IndexByte(rest, '<')
		if idx == -1 {
			text_.WriteString(rest)
			break
		}
		text_.WriteString(rest[:idx])
		local := rest[idx:]

		name, isName := readTagName(local)
		def, known := byName[name]
		if !isName || !known {
			text_.WriteByte('<')
			rest = local[1:]
			continue
		}

		node, outerLen, ok := scanElement(local)
		if !ok {
			text_.WriteByte('<')
			rest = local[1:]
			continue
		}

		if text_.Len() > 0 {
			parts = append(parts, toolcall.TextPart(text_.String()))
			text_.Reset()
		}

		input, err := coerceNode(def, node, local[:outerLen], opts)
		if err != nil {
			onError(err.Error(), map[string]any{"tool": name})
			parts = append(parts, toolcall.TextPart(local[:outerLen]))
		} else {
			parts = append(parts, toolcall.ToolCallPart(toolcall.ToolCall{
				ToolCallID: idGen(),
				ToolName:   name,
				Input:      input,
			}))
		}
		rest = local[outerLen:]
	}

	if text_.Len() > 0 {
		parts = append(parts, toolcall.TextPart(text_.String()))
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
		_, outerLen, ok := scanElement(local)
		if !ok {
			rest = local[1:]
			continue
		}
		segments = append(segments, local[:outerLen])
		rest = local[outerLen:]
	}
	return segments
}

func indexTools(tools []toolcall.ToolDefinition) map[string]toolcall.ToolDefinition {
	m := make(map[string]toolcall.ToolDefinition, len(tools))
	for _, t := range tools {
		m[t.Name] = t
	}
	return m
}

// readTagName reads the element name immediately following local[0]=='<',
// the streaming nuance's name-resolution rule: terminated by '>', '/', or
// whitespace (spec 4.4 "resolve the name on > or whitespace-after-name").
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

// scanElement parses the single element beginning at local[0]=='<' using
// rxml (repair always on, since we have already committed to this being a
// tool call by name match and must degrade gracefully rather than fail
// the whole parse), returning the node and how many bytes of local its
// outer span (open tag through close tag) occupies.
func scanElement(local string) (*rxml.Node, int, bool) {
	root, err := rxml.Parse(local, rxml.ParseOptions{Repair: true})
	if err != nil || len(root.Children) == 0 {
		return nil, 0, false
	}
	node := root.Children[0]
	if node.Type != rxml.ElementNode {
		return nil, 0, false
	}

	outerEnd := node.InnerEnd
	if !node.SelfClosing {
		gt := strings.IndexByte(local[outerEnd:], '>')
		if gt == -1 {
			outerEnd = len(local)
		} else {
			outerEnd = outerEnd + gt + 1
		}
	}
	return node, outerEnd, true
}

func coerceNode(def toolcall.ToolDefinition, node *rxml.Node, src string, opts toolcall.ParseOptions) (string, error) {
	s, err := schema.Parse(def.InputSchema)
	if err != nil {
		return "", err
	}
	if err := schema.ResolveDuplicates(s, node, opts.DuplicateStringTagFatal, resolveMaxReparses(opts)); err != nil {
		return "", err
	}
	if node.SelfClosing {
		return "{}", nil
	}
	v := schema.CoerceElement(s, node, src)
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func resolveMaxReparses(opts toolcall.ParseOptions) int {
	if opts.MaxReparses > 0 {
		return opts.MaxReparses
	}
	return 4
}
