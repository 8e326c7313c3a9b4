package toolcall

import "errors"

// Fatal errors raised before the model is ever called (spec 7). Everything
// else degrades to text rather than failing the request.
var (
	ErrToolChoiceNone          = errors.New("toolcall: toolChoice \"none\" is not supported when tools are provided")
	ErrUnknownToolChoice       = errors.New("toolcall: toolChoice names a tool that is not in the request's tool list")
	ErrToolChoiceRequiredEmpty = errors.New("toolcall: toolChoice \"required\" needs at least one tool")
	// ErrProviderDefinedTool is not returned anywhere in this module:
	// ToolDefinition carries no marker that distinguishes a provider-defined
	// tool, so tool-choice validation cannot detect one.
	ErrProviderDefinedTool = errors.New("toolcall: provider-defined tools cannot be targeted by toolChoice")
)
