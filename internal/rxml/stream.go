package rxml

// StreamTokenizer emits complete top-level elements as soon as they close,
// buffering the unprocessed tail across Feed calls. It is a separate,
// byte-fed mode for consumers that want incremental DOM; the xmlastool
// protocol's streaming parser uses it to find the close of a tool-call
// region, while the other tool-call protocols do their own text-level
// streaming.
type StreamTokenizer struct {
	opts     ParseOptions
	pending  string
	returned int // top-level children of pending already returned by Feed
}

// NewStreamTokenizer creates a tokenizer over repeated Feed calls.
func NewStreamTokenizer(opts ParseOptions) *StreamTokenizer {
	return &StreamTokenizer{opts: opts}
}

// Feed appends chunk to the internal buffer and returns every top-level
// node that can be fully determined closed given the buffer so far. The
// unconsumed remainder (a dangling partial element or trailing text) stays
// buffered for the next Feed/Close call.
func (s *StreamTokenizer) Feed(chunk string) []*Node {
	s.pending += chunk
	return s.drain(false)
}

// Close flushes anything left in the buffer, treating it as final input
// (an open tag at this point is simply unclosed, not an error).
func (s *StreamTokenizer) Close() []*Node {
	out := s.drain(true)
	s.pending = ""
	return out
}

// drain reparses the whole pending buffer (idempotent, simplest-correct)
// and works out the prefix of top-level children known to be complete: all
// of them if final, otherwise every child except a trailing text node
// (which may still grow or turn into a tag) or a trailing element whose
// close might still be mid-flight (its InnerEnd lands exactly at the
// buffer's end, the signature of the auto-close-at-EOF repair rather than
// a real close tag). Of that prefix it returns only the children not
// already returned by an earlier call.
func (s *StreamTokenizer) drain(final bool) []*Node {
	opts := s.opts
	opts.Repair = true // streaming mode always tolerates partial/unclosed input

	root, _ := Parse(s.pending, opts)

	complete := root.Children
	if !final && len(complete) > 0 {
		last := complete[len(complete)-1]
		if last.Type == TextNode || (last.Type == ElementNode && !last.SelfClosing && last.InnerEnd == len(s.pending)) {
			complete = complete[:len(complete)-1]
		}
	}

	var out []*Node
	if s.returned < len(complete) {
		out = complete[s.returned:]
	}

	if len(complete) == len(root.Children) {
		s.pending = ""
		s.returned = 0
	} else {
		s.returned = len(complete)
	}

	return out
}
