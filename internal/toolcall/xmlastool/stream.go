package xmlastool

import (
	"strings"

	"github.com/davincible/toolrelay/internal/rxml"
	"github.com/davincible/toolrelay/internal/toolcall"
)

// phase is the morph-XML streaming state: outside prose, mid-way through
// resolving a candidate element's name, or collecting a recognised tool
// call's body.
type phase int

const (
	phaseOutside phase = iota
	phasePendingName
	phaseInsideTool
)

// streamState holds everything a morph-XML streaming parse needs: which
// phase it's in, the bytes not yet dispositioned for that phase, and (once
// phaseInsideTool) the scoped tokenizer collecting the current call.
type streamState struct {
	tools   []toolcall.ToolDefinition
	byName  map[string]toolcall.ToolDefinition
	opts    toolcall.ParseOptions
	idGen   toolcall.IDGenerator
	onError toolcall.ErrorFunc

	ph  phase
	buf string // pending bytes for phaseOutside/phasePendingName

	toolCallID string
	tok        *rxml.StreamTokenizer
	toolRaw    string // everything fed to tok so far, == its pending buffer
	toolName   string
	insideBuf  string // bytes not yet fed to tok
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
		s.insideBuf += chunk
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

// stepPendingName waits until a name terminator (>, /, or whitespace) is
// available, the point at which the candidate name is fully known (spec
// 4.4: "resolve the name on > or whitespace-after-name").
func (s *streamState) stepPendingName() ([]toolcall.StreamPart, bool) {
	if len(s.buf) < 2 {
		return nil, false
	}
	name, isName := readTagName(s.buf)
	if !isName {
		// Not even a valid name-start character: the '<' was a bare
		// character, not a tag. Release it as text and retry from the
		// next byte.
		parts := s.flushText(s.buf[:1])
		s.buf = s.buf[1:]
		s.ph = phaseOutside
		return parts, true
	}

	termIdx := 1 + len(name)
	if termIdx >= len(s.buf) {
		return nil, false // name read so far has no terminator yet, need more bytes
	}

	if _, known := s.byName[name]; !known {
		released := s.buf[:termIdx+1]
		parts := s.flushText(released)
		s.buf = s.buf[termIdx+1:]
		s.ph = phaseOutside
		return parts, true
	}

	s.toolCallID = s.idGen()
	s.toolName = name
	s.tok = rxml.NewStreamTokenizer(rxml.ParseOptions{Repair: true})
	s.toolRaw = ""
	s.insideBuf = s.buf
	s.buf = ""
	s.ph = phaseInsideTool
	return []toolcall.StreamPart{{Kind: toolcall.StreamToolInputStart, ID: s.toolCallID}}, true
}

// stepInsideTool feeds the scoped tokenizer one byte at a time, so a
// single Feed call can never complete more than one top-level element;
// that lets us treat the first (only) node Feed returns as this call's
// closing, with no risk of silently absorbing what follows it.
func (s *streamState) stepInsideTool() ([]toolcall.StreamPart, bool) {
	if len(s.insideBuf) == 0 {
		return nil, false
	}

	var parts []toolcall.StreamPart
	var deltaAcc strings.Builder

	for len(s.insideBuf) > 0 {
		b := s.insideBuf[0]
		s.insideBuf = s.insideBuf[1:]
		s.toolRaw += string(b)
		deltaAcc.WriteByte(b)

		nodes := s.tok.Feed(string(b))
		if len(nodes) == 0 {
			continue
		}

		if deltaAcc.Len() > 0 {
			parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolInputDelta, ID: s.toolCallID, Delta: deltaAcc.String()})
		}
		parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolInputEnd, ID: s.toolCallID})

		node := nodes[0]
		def := s.byName[node.TagName]
		if input, err := coerceNode(def, node, s.toolRaw, s.opts); err != nil {
			s.onError(err.Error(), map[string]any{"tool": node.TagName})
			parts = append(parts, s.flushText(s.toolRaw)...)
		} else {
			tc := toolcall.ToolCall{ToolCallID: s.toolCallID, ToolName: node.TagName, Input: input}
			parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolCall, ID: s.toolCallID, ToolCall: &tc})
		}

		s.buf = s.insideBuf
		s.insideBuf = ""
		s.toolRaw = ""
		s.toolCallID = ""
		s.toolName = ""
		s.tok = nil
		s.ph = phaseOutside
		return parts, true
	}

	if deltaAcc.Len() > 0 {
		parts = append(parts, toolcall.StreamPart{Kind: toolcall.StreamToolInputDelta, ID: s.toolCallID, Delta: deltaAcc.String()})
	}
	return parts, false
}

// Finish flushes whatever is left: a dangling prose run or name fragment
// is emitted as plain text; a tool call still open when the stream ends
// is abandoned per spec 4.4, never synthesized from an incomplete body.
func (s *streamState) Finish() []toolcall.StreamPart {
	switch s.ph {
	case phaseInsideTool:
		parts := []toolcall.StreamPart{{Kind: toolcall.StreamToolInputEnd, ID: s.toolCallID}}
		parts = append(parts, s.flushText(s.toolRaw+s.insideBuf)...)
		s.toolRaw = ""
		s.insideBuf = ""
		s.toolCallID = ""
		s.tok = nil
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
