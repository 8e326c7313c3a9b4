// Package schema turns a loosely structured tree (an rxml DOM element, or
// a generic map/slice value produced by rjson) into a value coerced to
// match a JSON-Schema fragment describing a tool's input arguments.
package schema

import "encoding/json"

// Schema is a JSON-Schema fragment, decoded just deep enough to drive
// coercion: type, nested property/array schemas, and the `{jsonSchema:
// ...}` wrapper some tool definitions use.
type Schema struct {
	Type        string             `json:"type"`
	Properties  map[string]*Schema `json:"properties"`
	Items       *Schema            `json:"items"`
	PrefixItems []*Schema          `json:"prefixItems"`
	JSONSchema  *Schema            `json:"jsonSchema"`
}

// Parse decodes a JSON-Schema fragment. A nil/empty input is valid and
// yields a nil *Schema, meaning "no schema hint" (spec 4.2 last bullet).
func Parse(raw json.RawMessage) (*Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s.unwrap(), nil
}

// unwrap follows the {jsonSchema: ...} wrapper some sources use to embed a
// schema fragment one level deep.
func (s *Schema) unwrap() *Schema {
	if s == nil {
		return nil
	}
	if s.JSONSchema != nil {
		return s.JSONSchema.unwrap()
	}
	return s
}

// Property looks up a declared property schema by name, unwrapping the
// jsonSchema wrapper on the result.
func (s *Schema) Property(name string) (*Schema, bool) {
	if s == nil || s.Properties == nil {
		return nil, false
	}
	p, ok := s.Properties[name]
	if !ok {
		return nil, false
	}
	return p.unwrap(), true
}

// ItemsSchema returns the schema new array elements should be coerced
// against, unwrapped.
func (s *Schema) ItemsSchema() *Schema {
	if s == nil {
		return nil
	}
	return s.Items.unwrap()
}

// PrefixItemAt returns the positional tuple schema at idx if PrefixItems
// covers it, else falls back to Items.
func (s *Schema) PrefixItemAt(idx int) *Schema {
	if s == nil {
		return nil
	}
	if idx < len(s.PrefixItems) {
		return s.PrefixItems[idx].unwrap()
	}
	return s.ItemsSchema()
}

// EffectiveType returns s.Type, or "" for a nil schema (no hint).
func (s *Schema) EffectiveType() string {
	if s == nil {
		return ""
	}
	return s.Type
}

// HasProperty reports whether name is declared directly on s.
func (s *Schema) HasProperty(name string) bool {
	if s == nil || s.Properties == nil {
		return false
	}
	_, ok := s.Properties[name]
	return ok
}
