package yamlinxml

import (
	"encoding/json"
	"strings"

	"github.com/davincible/toolrelay/internal/toolcall"
)

type phase int

const (
	phaseOutside phase = iota
	phasePendingName
	phaseInsideTool
)

// streamState is the YAML-in-XML incremental parser. Unlike the other
// protocols, the close delimiter is content-shaped, not a fixed literal:
// it must additionally sit at column 0, so a block-scalar value holding
// text that merely looks like a closing tag is never mistaken for one.
type streamState struct {
	tools   []toolcall.ToolDefinition
	byName  map[string]toolcall.ToolDefinition
	opts    toolcall.ParseOptions
	idGen   toolcall.IDGenerator
	onError toolcall.ErrorFunc

	ph  phase
	buf string // pending bytes for phaseOutside/phasePendingName

	toolCallID  string
	toolName    string
	closeNeedle string
	body        string
	emitted     int
}

func (p *Protocol) CreateStreamParser(tools []toolcall.ToolDefinition, opts toolcall.ParseOptions) toolcall.StreamTransform {
	return &streamState{
		tools:   tools,
		byName:  indexTools(tools),
		opts:    opts,
		idGen:   toolcall.ResolveIDGen(opts),
		onError: toolcall.ResolveOnError(opts),
		ph:      phaseOutside,
	}
}

func (s *streamState) Push(chunk string) []toolcall.StreamPart {
	if s.ph == phaseInsideTool {
		s.body += chunk
	} else {
		s.buf += chunk
	}

	var out []toolcall.StreamPart
	for {
		var parts []toolcall.StreamPart
		var progressed bool
		switch s.ph {
		case phaseOutside:
			parts, progressed = s.stepOutside()
		case phasePendingName:
			parts, progressed = s.stepPendingName()
		default:
			parts, progressed = s.stepInsideTool()
		}
		out = append(out, parts...)
		if !progressed {
			return out
		}
	}
}

func (s *streamState) stepOutside() ([]toolcall.StreamPart, bool) {
	idx := strings.IndexByte(s.buf, '<')
	if idx == -1 {
		parts := s.flushText(s.buf)
		s.buf = ""
		return parts, false
	}
	parts := s.flushText(s.buf[:idx])
	s.buf = s.buf[idx:]
	s.ph = phasePendingName
	return parts, true
}

// stepPendingName resolves the candidate tool name, then waits for the
// opening tag's closing '>' (no attributes are supported on the tool
// element itself, matching xmlastool's simplification) before the YAML
// body collection begins.
func (s *streamState) stepPendingName() ([]toolcall.StreamPart, bool) {
	if len(s.buf) < 2 {
		return nil, false
	}
	name, isName := readTagName(s.buf)
	if !isName {
		parts := s.flushText(s.buf[:1])
		s.buf = s.buf[1:]
		s.ph = phaseOutside
		return parts, true
	}

	termIdx := 1 + len(name)
	if termIdx >= len(s.buf) {
		return nil, false
	}

	if _, known := s.byName[name]; !known {
		released := s.buf[:termIdx+1]
		parts := s.flushText(released)
		s.buf = s.buf[termIdx+1:]
		s.ph = phaseOutside
		return parts, true
	}

	gt := strings.IndexByte(s.buf[termIdx:], '>')
	if gt == -1 {
		return nil, false // open tag not yet fully read
	}
	bodyStart := termIdx + gt + 1

	s.toolCallID = s.idGen()
	s.toolName = name
	s.closeNeedle = "</" + name + ">"
	s.body = s.buf[bodyStart:]
	s.emitted = 0
	s.buf = ""
	s.ph = phaseInsideTool
	return []toolcall.StreamPart{{Kind: toolcall.StreamToolInputStart, ID: s.toolCallID}}, true
}

func (s *streamState) stepInsideTool() ([]toolcall.StreamPart, bool) {
	idx, matched := findClose(s.body, s.closeNeedle)

	if idx == -1 {
		var parts []toolcall.StreamPart
		if delta := s.body[s.emitted:]; delta != "" {
			parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolInputDelta, ID: s.toolCallID, Delta: delta})
		}
		s.emitted = len(s.body)
		return parts, false
	}

	if !matched {
		var parts []toolcall.StreamPart
		if delta := s.body[s.emitted:idx]; delta != "" {
			parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolInputDelta, ID: s.toolCallID, Delta: delta})
		}
		s.emitted = idx
		return parts, false
	}

	var parts []toolcall.StreamPart
	if delta := s.body[s.emitted:idx]; delta != "" {
		parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolInputDelta, ID: s.toolCallID, Delta: delta})
	}
	parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolInputEnd, ID: s.toolCallID})

	bodyText := s.body[:idx]
	rest := s.body[idx+len(s.closeNeedle):]
	toolCallID, toolName := s.toolCallID, s.toolName

	m, err := decodeYAMLBody(bodyText)
	if err != nil {
		s.onError(err.Error(), map[string]any{"tool": toolName})
		if s.opts.EmitRawToolCallTextOnError {
			parts = append(parts, s.flushText("<"+toolName+">"+bodyText+s.closeNeedle)...)
		}
	} else {
		b, _ := json.Marshal(m)
		tc := toolcall.ToolCall{ToolCallID: toolCallID, ToolName: toolName, Input: string(b)}
		parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolCall, ID: toolCallID, ToolCall: &tc})
	}

	s.buf = rest
	s.body = ""
	s.emitted = 0
	s.toolCallID = ""
	s.toolName = ""
	s.ph = phaseOutside
	return parts, true
}

// Finish flushes a dangling prose/name fragment as text. A tool call
// still open when the stream ends is, uniquely to this protocol, force-
// completed if its accumulated body already parses as a full YAML
// mapping (spec 4.4/9: "YAML protocol may, when the partial payload is
// parseable as a complete mapping, force-complete the call"); otherwise
// it is abandoned and the buffered fragment emitted as text, same as
// every other protocol.
func (s *streamState) Finish() []toolcall.StreamPart {
	switch s.ph {
	case phaseInsideTool:
		parts := []toolcall.StreamPart{{Kind: toolcall.StreamToolInputEnd, ID: s.toolCallID}}
		if m, err := decodeYAMLBody(s.body); err == nil {
			b, _ := json.Marshal(m)
			tc := toolcall.ToolCall{ToolCallID: s.toolCallID, ToolName: s.toolName, Input: string(b)}
			parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolCall, ID: s.toolCallID, ToolCall: &tc})
		} else {
			parts = append(parts, s.flushText("<"+s.toolName+">"+s.body)...)
		}
		s.body = ""
		s.toolCallID = ""
		s.toolName = ""
		s.ph = phaseOutside
		return parts
	default:
		parts := s.flushText(s.buf)
		s.buf = ""
		s.ph = phaseOutside
		return parts
	}
}

func (s *streamState) flushText(text string) []toolcall.StreamPart {
	if text == "" {
		return nil
	}
	id := s.idGen()
	return []toolcall.StreamPart{
		{Kind: toolcall.StreamTextStart, ID: id},
		{Kind: toolcall.StreamTextDelta, ID: id, Delta: text},
		{Kind: toolcall.StreamTextEnd, ID: id},
	}
}
