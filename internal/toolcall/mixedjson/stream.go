package mixedjson

import (
	"strings"

	"github.com/davincible/toolrelay/internal/toolcall"
)

type phase int

const (
	phaseOutside phase = iota
	phaseCandidate
)

// streamState collects a balanced {...} candidate byte by byte, tracking
// brace depth and string-literal state directly (no partial-delimiter
// ambiguity to resolve, since a single '{' is unambiguous) and only
// classifies it as a tool call or plain text once depth returns to zero.
// Unlike the delimited protocols it cannot announce a tool-input stream
// before that point, since nothing marks the object as tool-shaped in
// advance; it resolves atomically instead of streaming progressive
// deltas.
type streamState struct {
	tools   []toolcall.ToolDefinition
	idGen   toolcall.IDGenerator
	onError toolcall.ErrorFunc

	ph        phase
	buf       string // pending bytes for phaseOutside
	candidate string
	scanPos   int // bytes of candidate already folded into depth/inStr/esc
	depth     int
	inStr     bool
	esc       bool
}

func (p *Protocol) CreateStreamParser(tools []toolcall.ToolDefinition, opts toolcall.ParseOptions) toolcall.StreamTransform {
	return &streamState{
		tools:   tools,
		idGen:   toolcall.ResolveIDGen(opts),
		onError: toolcall.ResolveOnError(opts),
		ph:      phaseOutside,
	}
}

func (s *streamState) Push(chunk string) []toolcall.StreamPart {
	if s.ph == phaseCandidate {
		s.candidate += chunk
	} else {
		s.buf += chunk
	}

	var out []toolcall.StreamPart
	for {
		var parts []toolcall.StreamPart
		var progressed bool
		if s.ph == phaseOutside {
			parts, progressed = s.stepOutside()
		} else {
			parts, progressed = s.stepCandidate()
		}
		out = append(out, parts...)
		if !progressed {
			return out
		}
	}
}

func (s *streamState) stepOutside() ([]toolcall.StreamPart, bool) {
	idx := strings.IndexByte(s.buf, '{')
	if idx == -1 {
		parts := s.flushText(s.buf)
		s.buf = ""
		return parts, false
	}
	parts := s.flushText(s.buf[:idx])
	s.candidate = s.buf[idx:]
	s.buf = ""
	s.scanPos = 0
	s.depth = 0
	s.inStr = false
	s.esc = false
	s.ph = phaseCandidate
	return parts, true
}

func (s *streamState) stepCandidate() ([]toolcall.StreamPart, bool) {
	if s.scanPos >= len(s.candidate) {
		return nil, false
	}

	scanned := s.scanPos
	for scanned < len(s.candidate) {
		c := s.candidate[scanned]
		scanned++

		if s.inStr {
			switch {
			case s.esc:
				s.esc = false
			case c == '\\':
				s.esc = true
			case c == '"':
				s.inStr = false
			}
			continue
		}
		switch c {
		case '"':
			s.inStr = true
		case '{':
			s.depth++
		case '}':
			s.depth--
			if s.depth == 0 {
				return s.resolveCandidate(scanned)
			}
		}
	}
	s.scanPos = scanned
	return nil, false // still open, need more bytes
}

// resolveCandidate is called the instant depth returns to zero at byte
// offset end within s.candidate.
func (s *streamState) resolveCandidate(end int) ([]toolcall.StreamPart, bool) {
	candidate := s.candidate[:end]
	rest := s.candidate[end:]

	name, input, ok := decodeCandidate(candidate, s.tools)

	var parts []toolcall.StreamPart
	if !ok {
		// Not a tool call after all: only the leading '{' was ever
		// meaningfully "consumed"; release it as text and let the rest
		// flow back through outside-mode scanning, since it may still
		// contain a real candidate (e.g. a brace nested one level in).
		parts = append(parts, s.flushText(candidate[:1])...)
		s.buf = candidate[1:] + rest
	} else {
		id := s.idGen()
		tc := toolcall.ToolCall{ToolCallID: id, ToolName: name, Input: input}
		parts = append(parts,
			toolcall.StreamPart{Kind: toolcall.StreamToolInputStart, ID: id},
			toolcall.StreamPart{Kind: toolcall.StreamToolInputDelta, ID: id, Delta: input},
			toolcall.StreamPart{Kind: toolcall.StreamToolInputEnd, ID: id},
			toolcall.StreamPart{Kind: toolcall.StreamToolCall, ID: id, ToolCall: &tc},
		)
		s.buf = rest
	}

	s.candidate = ""
	s.scanPos = 0
	s.depth = 0
	s.inStr = false
	s.esc = false
	s.ph = phaseOutside
	return parts, true
}

// Finish flushes a dangling prose run as text; a candidate object never
// closed by the time the stream ends is, like every other protocol,
// abandoned and emitted as text rather than guessed at.
func (s *streamState) Finish() []toolcall.StreamPart {
	switch s.ph {
	case phaseCandidate:
		parts := s.flushText(s.candidate)
		s.candidate = ""
		s.ph = phaseOutside
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
