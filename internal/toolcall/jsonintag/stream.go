package jsonintag

import "github.com/davincible/toolrelay/internal/toolcall"

// streamState is the JSON-in-tag incremental parser, modeled as an
// explicit record per spec 9 rather than closures. outside mode holds
// prose pending classification in buf; inside-tool mode holds the
// payload collected so far in buf, with emitted tracking how much of it
// has already gone out as a tool-input-delta.
type streamState struct {
	proto *Protocol
	tools []toolcall.ToolDefinition
	opts  toolcall.ParseOptions

	idGen   toolcall.IDGenerator
	onError toolcall.ErrorFunc

	mode       toolcall.ParseMode
	buf        string
	emitted    int
	toolCallID string
}

func (p *Protocol) CreateStreamParser(tools []toolcall.ToolDefinition, opts toolcall.ParseOptions) toolcall.StreamTransform {
	return &streamState{
		proto:   p,
		tools:   tools,
		opts:    opts,
		idGen:   toolcall.ResolveIDGen(opts),
		onError: toolcall.ResolveOnError(opts),
		mode:    toolcall.ModeOutside,
	}
}

func (s *streamState) Push(chunk string) []toolcall.StreamPart {
	s.buf += chunk
	var out []toolcall.StreamPart
	for {
		var parts []toolcall.StreamPart
		var progressed bool
		if s.mode == toolcall.ModeOutside {
			parts, progressed = s.stepOutside()
		} else {
			parts, progressed = s.stepInside()
		}
		out = append(out, parts...)
		if !progressed {
			return out
		}
	}
}

// stepOutside looks for the start delimiter in the pending prose buffer.
func (s *streamState) stepOutside() ([]toolcall.StreamPart, bool) {
	needle := s.proto.startTag
	idx := toolcall.PotentialStartIndex(s.buf, needle)

	if idx == -1 {
		parts := s.flushText(s.buf)
		s.buf = ""
		return parts, false
	}

	if matchesAt(s.buf, needle, idx) {
		parts := s.flushText(s.buf[:idx])
		s.buf = s.buf[idx+len(needle):]
		s.emitted = 0
		s.toolCallID = s.idGen()
		s.mode = toolcall.ModeInsideTool
		parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolInputStart, ID: s.toolCallID})
		return parts, true
	}

	// Partial suffix only: flush the definitely-safe prefix, withhold the
	// candidate tail until more input arrives.
	parts := s.flushText(s.buf[:idx])
	s.buf = s.buf[idx:]
	return parts, false
}

// stepInside accumulates the tool-call payload, streaming deltas for
// everything that cannot possibly be the start of the end delimiter, and
// resolves the call once the end delimiter fully matches.
func (s *streamState) stepInside() ([]toolcall.StreamPart, bool) {
	needle := s.proto.endTag
	idx := toolcall.PotentialStartIndex(s.buf, needle)

	if idx == -1 {
		var parts []toolcall.StreamPart
		if delta := s.buf[s.emitted:]; delta != "" {
			parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolInputDelta, ID: s.toolCallID, Delta: delta})
		}
		s.emitted = len(s.buf)
		return parts, false
	}

	if matchesAt(s.buf, needle, idx) {
		var parts []toolcall.StreamPart
		if delta := s.buf[s.emitted:idx]; delta != "" {
			parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolInputDelta, ID: s.toolCallID, Delta: delta})
		}

		payload := s.buf[:idx]
		rest := s.buf[idx+len(needle):]
		toolCallID := s.toolCallID

		parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolInputEnd, ID: toolCallID})

		name, input, ok := decodePayload(payload, s.tools)
		if ok {
			tc := toolcall.ToolCall{ToolCallID: toolCallID, ToolName: name, Input: input}
			parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolCall, ID: toolCallID, ToolCall: &tc})
		} else {
			s.onError("malformed tool-call payload", map[string]any{"segment": payload})
			parts = append(parts, s.flushText(s.proto.startTag+payload+s.proto.endTag)...)
		}

		s.buf = rest
		s.emitted = 0
		s.toolCallID = ""
		s.mode = toolcall.ModeOutside
		return parts, true
	}

	var parts []toolcall.StreamPart
	if delta := s.buf[s.emitted:idx]; delta != "" {
		parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolInputDelta, ID: s.toolCallID, Delta: delta})
	}
	s.emitted = idx
	return parts, false
}

// Finish signals the upstream closed. A dangling text run is flushed as
// final text; a dangling tool-call-in-progress is abandoned per spec 4.4
// ("emit the buffered fragment as text") since the close delimiter never
// arrived and no tool call may be synthesized from an incomplete payload.
func (s *streamState) Finish() []toolcall.StreamPart {
	switch s.mode {
	case toolcall.ModeInsideTool:
		parts := []toolcall.StreamPart{{Kind: toolcall.StreamToolInputEnd, ID: s.toolCallID}}
		parts = append(parts, s.flushText(s.proto.startTag+s.buf)...)
		s.buf = ""
		s.emitted = 0
		s.toolCallID = ""
		s.mode = toolcall.ModeOutside
		return parts
	default:
		parts := s.flushText(s.buf)
		s.buf = ""
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

// matchesAt reports whether needle occurs at idx in buf as a complete,
// not merely partial, match.
func matchesAt(buf, needle string, idx int) bool {
	end := idx + len(needle)
	return end <= len(buf) && buf[idx:end] == needle
}
