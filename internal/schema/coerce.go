package schema

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/davincible/toolrelay/internal/rjson"
	"github.com/davincible/toolrelay/internal/rxml"
)

var numberPattern = regexp.MustCompile(`^-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?$`)

// CoerceElement coerces a tool call's root XML element against its input
// schema, producing the generic value that gets JSON-encoded into
// ToolCall.Input. src is the original source text, used for byte-exact raw
// inner extraction on string-typed fields (spec invariant 6).
func CoerceElement(s *Schema, el *rxml.Node, src string) any {
	return coerceNode(s, el, src)
}

// coerceNode coerces a single DOM element against schema s.
func coerceNode(s *Schema, el *rxml.Node, src string) any {
	switch s.EffectiveType() {
	case "object", "":
		if s.EffectiveType() == "" && (s == nil || len(s.Properties) == 0) {
			return coerceNoHintNode(el, src)
		}
		return coerceObjectFromNode(s, el, src)
	case "array":
		return coerceArrayFromNode(s, el, src)
	case "string":
		return rawInner(el, src)
	case "number", "integer":
		return coerceNumberString(el.TextContent(), s.EffectiveType())
	case "boolean":
		return coerceBoolString(el.TextContent())
	default:
		return coerceObjectFromNode(s, el, src)
	}
}

// coerceObjectFromNode implements spec 4.2 "Object" against an XML
// element: each direct child element becomes a field, keyed by tag name.
func coerceObjectFromNode(s *Schema, el *rxml.Node, src string) any {
	groups := groupByTag(el)
	obj := make(map[string]any, len(groups))

	for tag, nodes := range groups {
		prop, declared := s.Property(tag)
		if !declared {
			obj[tag] = passthroughNodes(nodes, src)
			continue
		}

		if prop.EffectiveType() == "string" {
			// String-typed: raw inner text, byte-exact (spec invariant 6).
			// Duplicate detection/removal (DetectDuplicateStringTags,
			// rxml.RemoveDuplicateStringSiblings) runs before coercion, so
			// by the time we're here at most the policy-selected
			// occurrence remains; defensively still take the first.
			obj[tag] = rawInner(nodes[0], src)
			continue
		}

		if len(nodes) == 1 {
			obj[tag] = coerceNode(prop, nodes[0], src)
		} else {
			obj[tag] = coerceArrayFromNodeList(prop, nodes, src)
		}
	}

	return obj
}

func passthroughNodes(nodes []*rxml.Node, src string) any {
	if len(nodes) == 1 {
		return passthroughNode(nodes[0], src)
	}
	out := make([]any, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, passthroughNode(n, src))
	}
	return out
}

// passthroughNode converts an undeclared element into a generic value
// without a schema hint, applying the best-effort bool/number/string
// rules (spec 4.2 "Without schema hint").
func passthroughNode(n *rxml.Node, src string) any {
	if len(n.Elements()) == 0 {
		return coerceNoHintString(rawInner(n, src))
	}
	return coerceObjectFromNode(nil, n, src)
}

func coerceNoHintNode(el *rxml.Node, src string) any {
	return passthroughNode(el, src)
}

// coerceArrayFromNode implements spec 4.2 "Array" when the input is a
// single XML element (not yet known to be array-shaped): it inspects the
// element's own children to decide between tuple-by-index, "item" lift,
// single-key lift, or wrap-in-one-element-array.
func coerceArrayFromNode(s *Schema, el *rxml.Node, src string) any {
	groups := groupByTag(el)

	if len(groups) == 0 {
		// Leaf text value: wrap.
		return []any{coerceLeafString(s.ItemsSchema(), el.TextContent())}
	}

	if ints, ok := contiguousIntegerKeys(groups); ok {
		out := make([]any, len(ints))
		for idx, tag := range ints {
			nodes := groups[tag]
			out[idx] = coerceNode(s.PrefixItemAt(idx), nodes[0], src)
		}
		return out
	}

	if nodes, ok := groups["item"]; ok && len(groups) == 1 {
		return coerceArrayFromNodeList(s, nodes, src)
	}

	if len(groups) == 1 {
		for tag, nodes := range groups {
			items := s.ItemsSchema()
			if items == nil || !items.HasProperty(tag) {
				return coerceArrayFromNodeList(s, nodes, src)
			}
		}
	}

	// Fallback: treat the whole element as a single object value, wrapped.
	return []any{coerceObjectFromNode(s.ItemsSchema(), el, src)}
}

// coerceArrayFromNodeList coerces an explicit list of same-tag sibling
// elements positionally/elementwise against items/prefixItems.
func coerceArrayFromNodeList(s *Schema, nodes []*rxml.Node, src string) any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = coerceNode(s.PrefixItemAt(i), n, src)
	}
	return out
}

func groupByTag(el *rxml.Node) map[string][]*rxml.Node {
	groups := make(map[string][]*rxml.Node)
	for _, c := range el.Elements() {
		groups[c.TagName] = append(groups[c.TagName], c)
	}
	return groups
}

// contiguousIntegerKeys reports whether groups' keys are exactly the
// decimal integers 0..n-1, returning them ordered by index.
func contiguousIntegerKeys(groups map[string][]*rxml.Node) ([]string, bool) {
	n := len(groups)
	ordered := make([]string, n)
	seen := make([]bool, n)

	for tag := range groups {
		idx, err := strconv.Atoi(tag)
		if err != nil || idx < 0 || idx >= n {
			return nil, false
		}
		if seen[idx] {
			return nil, false
		}
		seen[idx] = true
		ordered[idx] = tag
	}

	return ordered, true
}

func coerceLeafString(s *Schema, text string) any {
	switch s.EffectiveType() {
	case "string":
		return text
	case "number", "integer":
		return coerceNumberString(text, s.EffectiveType())
	case "boolean":
		return coerceBoolString(text)
	default:
		return coerceNoHintString(text)
	}
}

func rawInner(n *rxml.Node, src string) string {
	if n.InnerStart < 0 || n.InnerEnd > len(src) || n.InnerStart > n.InnerEnd {
		return n.TextContent()
	}
	return src[n.InnerStart:n.InnerEnd]
}

// CoerceValue coerces an already-generic value (map[string]any, []any,
// string, float64, bool, nil - as produced by rjson) against schema s, for
// protocols whose payload is parsed as JSON/YAML rather than XML.
func CoerceValue(s *Schema, v any) any {
	switch s.EffectiveType() {
	case "object":
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		out := make(map[string]any, len(m))
		for k, val := range m {
			prop, declared := s.Property(k)
			if !declared {
				out[k] = val
				continue
			}
			out[k] = CoerceValue(prop, val)
		}
		return out
	case "array":
		return coerceArrayValue(s, v)
	case "string":
		return coerceStringValue(v)
	case "number", "integer":
		return coerceNumberValue(v, s.EffectiveType())
	case "boolean":
		return coerceBoolValue(v)
	default:
		return coerceNoHintValue(v)
	}
}

func coerceArrayValue(s *Schema, v any) any {
	items := s.ItemsSchema()

	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = CoerceValue(s.PrefixItemAt(i), e)
		}
		return out
	case map[string]any:
		if item, ok := val["item"]; ok && len(val) == 1 {
			if arr, ok := item.([]any); ok {
				return coerceArrayValue(s, arr)
			}
		}
		if ints, ok := contiguousIntegerKeysMap(val); ok {
			out := make([]any, len(ints))
			for idx, key := range ints {
				out[idx] = CoerceValue(s.PrefixItemAt(idx), val[key])
			}
			return out
		}
		if len(val) == 1 {
			for k, single := range val {
				if items == nil || !items.HasProperty(k) {
					switch sv := single.(type) {
					case map[string]any:
						return []any{CoerceValue(items, sv)}
					case []any:
						out := make([]any, len(sv))
						for i, e := range sv {
							out[i] = CoerceValue(s.PrefixItemAt(i), e)
						}
						return out
					default:
						return []any{CoerceValue(items, sv)}
					}
				}
			}
		}
		return []any{CoerceValue(items, val)}
	default:
		return []any{CoerceValue(items, val)}
	}
}

func contiguousIntegerKeysMap(m map[string]any) ([]string, bool) {
	n := len(m)
	ordered := make([]string, n)
	seen := make([]bool, n)
	for k := range m {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 || idx >= n || seen[idx] {
			return nil, false
		}
		seen[idx] = true
		ordered[idx] = k
	}
	return ordered, true
}

func coerceStringValue(v any) any {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return v
	}
}

func coerceNumberValue(v any, typ string) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return coerceNumberString(s, typ)
}

func coerceNumberString(s string, typ string) any {
	if !numberPattern.MatchString(strings.TrimSpace(s)) {
		return s
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return s
	}
	if typ == "integer" {
		return int64(f)
	}
	return f
}

func coerceBoolValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return coerceBoolString(s)
}

func coerceBoolString(s string) any {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true
	case "false":
		return false
	default:
		return s
	}
}

func coerceNoHintValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return coerceNoHintString(s)
}

// coerceNoHintString implements spec 4.2 "Without schema hint": try
// boolean, then numeric, then JSON object/array sniff, else keep as-is.
func coerceNoHintString(s string) any {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "true":
		return true
	case "false":
		return false
	}
	if numberPattern.MatchString(trimmed) {
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return f
		}
	}
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		if v, ok := tryJSONParse(trimmed); ok {
			return v
		}
	}
	return s
}

// tryJSONParse sniffs trimmed as a lenient JSON object/array literal,
// falling back to "not JSON after all" rather than erroring, since a
// string field that merely starts with '{' or '[' is common prose.
func tryJSONParse(trimmed string) (any, bool) {
	v, _, err := rjson.Parse(trimmed, rjson.Options{Tolerant: true})
	if err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	default:
		return nil, false
	}
}
