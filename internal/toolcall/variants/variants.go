// Package variants supplies prompt-template-only tool-call conventions:
// Hermes, Gemma, and Guided. All three parse and stream exactly like
// jsonintag's default json-in-tag convention (spec 4.4: "share the
// JSON-in-tag stream machinery"); only FormatTools differs, matching the
// system-prompt phrasing each model family was instruction-tuned against.
// Each embeds a *jsonintag.Protocol for everything but FormatTools, so a
// change to the shared stream machinery only needs to happen once.
package variants

import (
	"encoding/json"
	"strings"

	"github.com/davincible/toolrelay/internal/toolcall"
	"github.com/davincible/toolrelay/internal/toolcall/jsonintag"
)

const (
	hermesStartTag = "<tool_call>"
	hermesEndTag   = "</tool_call>"
	gemmaStartTag  = "```tool_call\n"
	gemmaEndTag    = "\n```"
	guidedStartTag = "<tool_call>"
	guidedEndTag   = "</tool_call>"
)

// Hermes implements the NousResearch Hermes function-calling convention: a
// <tool_call> block wrapping a single {"name":...,"arguments":...} object.
type Hermes struct {
	*jsonintag.Protocol
}

func NewHermes() *Hermes {
	return &Hermes{jsonintag.New("hermes", hermesStartTag, hermesEndTag)}
}

func (h *Hermes) FormatTools(tools []toolcall.ToolDefinition, template toolcall.PromptTemplate) string {
	if template != nil {
		return template(tools)
	}
	var b strings.Builder
	b.WriteString("You are a function calling AI model. You are provided with function signatures within <tools></tools> XML tags.\n")
	b.WriteString("For each function call, return a json object with function name and arguments within <tool_call></tool_call> XML tags as follows:\n")
	b.WriteString("<tool_call>\n{\"name\": <function-name>, \"arguments\": <args-dict>}\n</tool_call>\n\n")
	b.WriteString("<tools>\n")
	for _, t := range tools {
		b.WriteString(`{"name": "`)
		b.WriteString(t.Name)
		b.WriteString(`"`)
		if t.Description != "" {
			b.WriteString(`, "description": "`)
			b.WriteString(t.Description)
			b.WriteString(`"`)
		}
		if len(t.InputSchema) > 0 {
			b.WriteString(`, "parameters": `)
			b.Write(t.InputSchema)
		}
		b.WriteString("}\n")
	}
	b.WriteString("</tools>\n")
	return b.String()
}

// Gemma targets Gemma-family models. Gemma's chat template carries no
// system role (grounded on the pack's own system-message-folding
// workaround for system-role-less models, e.g. the openai-tool-adapter
// reference's applyToolPrompt), so its convention favors a fenced code
// block over raw angle-bracket tags, which the Gemma tokenizer handles
// more reliably than bare XML-like text sitting in a user turn.
type Gemma struct {
	*jsonintag.Protocol
}

func NewGemma() *Gemma {
	return &Gemma{jsonintag.New("gemma", gemmaStartTag, gemmaEndTag)}
}

func (g *Gemma) FormatTools(tools []toolcall.ToolDefinition, template toolcall.PromptTemplate) string {
	if template != nil {
		return template(tools)
	}
	var b strings.Builder
	b.WriteString("You have access to the following functions. When you need to call one, respond with a fenced block:\n\n")
	b.WriteString("```tool_call\n{\"name\": <function-name>, \"arguments\": <args-dict>}\n```\n\n")
	b.WriteString("Functions:\n")
	for _, t := range tools {
		b.WriteString("* ")
		b.WriteString(t.Name)
		if t.Description != "" {
			b.WriteString(" - ")
			b.WriteString(t.Description)
		}
		b.WriteByte('\n')
		if len(t.InputSchema) > 0 {
			b.WriteString("  schema: ")
			b.Write(t.InputSchema)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Guided pairs the same <tool_call> convention with an out-of-band
// structured-output constraint (ResponseFormatSchema) that forces the
// serving engine's grammar to only ever produce the wrapped-JSON shape;
// the parser itself behaves identically to Hermes/the jsonintag default
// (spec 4.4: "the parser behaves identically"), so malformed payloads are
// expected to be rare even though it still defends against them.
type Guided struct {
	*jsonintag.Protocol
}

func NewGuided() *Guided {
	return &Guided{jsonintag.New("guided", guidedStartTag, guidedEndTag)}
}

func (g *Guided) FormatTools(tools []toolcall.ToolDefinition, template toolcall.PromptTemplate) string {
	if template != nil {
		return template(tools)
	}
	var b strings.Builder
	b.WriteString("You can call tools; your response is constrained to match the required shape exactly. ")
	b.WriteString("Wrap a single call as <tool_call>{\"name\":...,\"arguments\":...}</tool_call>.\n\nAvailable tools:\n")
	for _, t := range tools {
		b.WriteString("- ")
		b.WriteString(t.Name)
		if t.Description != "" {
			b.WriteString(": ")
			b.WriteString(t.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ResponseFormatSchema computes the structured-output JSON schema used to
// constrain a forced tool choice (spec 4.5 item 5): a direct schema for a
// single named tool, or an if/then/else chain over every tool's named
// schema when the choice is merely "required". The result
// wraps the <tool_call> delimiters' payload shape directly: the engine is
// constrained to produce {"name":...,"arguments":...}, not the delimiters
// themselves, since those are static text the serving engine emits
// unconstrained around the generated JSON.
//
// Returns nil if toolChoice doesn't actually force a tool (Mode is Auto or
// None), since there is then nothing to constrain.
func ResponseFormatSchema(tools []toolcall.ToolDefinition, choice toolcall.ToolChoice) json.RawMessage {
	switch choice.Mode {
	case toolcall.ToolChoiceTool:
		for _, t := range tools {
			if t.Name == choice.Name {
				return namedCallSchema(t)
			}
		}
		return nil
	case toolcall.ToolChoiceRequired:
		return requiredCallSchema(tools)
	default:
		return nil
	}
}

// namedCallSchema constrains "name" to the exact literal and "arguments"
// to the tool's own input schema.
func namedCallSchema(t toolcall.ToolDefinition) json.RawMessage {
	args := t.InputSchema
	if len(args) == 0 {
		args = json.RawMessage(`{"type":"object"}`)
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":      map[string]any{"const": t.Name},
			"arguments": json.RawMessage(args),
		},
		"required":             []string{"name", "arguments"},
		"additionalProperties": false,
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	return b
}

// requiredCallSchema builds an if/then/else chain over every declared
// tool, so the engine may pick any one of them but must match its
// arguments schema once it commits to a name.
func requiredCallSchema(tools []toolcall.ToolDefinition) json.RawMessage {
	if len(tools) == 0 {
		return nil
	}
	// Built from the last tool outward; the innermost else is false, so a
	// name matching no declared tool fails validation.
	var schema any = false
	for i := len(tools) - 1; i >= 0; i-- {
		t := tools[i]
		schema = map[string]any{
			"if":   map[string]any{"properties": map[string]any{"name": map[string]any{"const": t.Name}}},
			"then": namedCallSchema(t),
			"else": schema,
		}
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	return b
}
