package toolcall

import "context"

// ErrorFunc is the injectable error callback (spec 4.4, 7, 9): invoked when
// a malformed tool-call segment is encountered. The core never throws out
// of stream handlers; the only fatal cases are the tool-choice errors in
// errors.go.
type ErrorFunc func(message string, metadata map[string]any)

// IDGenerator produces tool-call and text-block ids. Injectable so tests
// can assert stable output (spec 9: "no hidden globals").
type IDGenerator func() string

// ParseOptions bundles the per-request knobs every protocol accepts.
type ParseOptions struct {
	OnError                      ErrorFunc
	IDGen                        IDGenerator
	Repair                       bool
	MaxReparses                  int
	DuplicateStringTagFatal      bool
	EmitRawToolCallTextOnError   bool // yamlinxml: forward raw markup on parse failure
}

// StreamTransform is the incremental parser contract: feed it text chunks
// in order, get StreamParts back. One instance per request stream.
type StreamTransform interface {
	// Push feeds one chunk of model output and returns zero or more
	// StreamParts produced as a result.
	Push(chunk string) []StreamPart
	// Finish signals the upstream has closed; returns any final parts
	// (buffered text, closing tool-input-end/tool-call, finish).
	Finish() []StreamPart
}

// PromptTemplate renders a tool catalog into the exact text the model
// should produce, for a given protocol's delimiter conventions.
type PromptTemplate func(tools []ToolDefinition) string

// Protocol is the uniform contract every tool-call codec implements (spec
// 4.4): Name plus six protocol methods. Implementations are immutable after construction
// and safe to share across requests (spec 5).
type Protocol interface {
	Name() string

	FormatTools(tools []ToolDefinition, template PromptTemplate) string
	FormatToolCall(tc ToolCall) string
	FormatToolResponse(tr ToolResult) string

	ParseGeneratedText(ctx context.Context, text string, tools []ToolDefinition, opts ParseOptions) []ContentPart

	CreateStreamParser(tools []ToolDefinition, opts ParseOptions) StreamTransform

	// ExtractToolCallSegments is optional textual extraction for analysis;
	// implementations that have nothing cheaper than ParseGeneratedText may
	// return nil.
	ExtractToolCallSegments(text string, tools []ToolDefinition) []string
}
