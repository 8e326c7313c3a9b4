package providers

import (
	"fmt"
	"net/url"
	"strings"
)

// Provider interface defines the contract for all LLM providers
type Provider interface {
	Name() string
	SupportsStreaming() bool
	Transform(request []byte) ([]byte, error)
	TransformStream(chunk []byte, state *StreamState) ([]byte, error)
	IsStreaming(headers map[string][]string) bool
	GetEndpoint() string
	SetAPIKey(key string)

	// DefaultToolCallProtocol reports which internal/toolcall.Registry
	// protocol name a model served through this provider typically needs
	// in order to parse tool calls out of plain text, or "" if the
	// provider's own wire format already carries native tool-calling.
	// modelName lets one provider answer differently for different
	// backing models, e.g. an OpenAI-compatible endpoint fronting a
	// Hermes-tuned open-weight model still needs the middleware even
	// though OpenAI's own models do not.
	DefaultToolCallProtocol(modelName string) string
}

// StreamState tracks streaming conversion state
type StreamState struct {
	MessageStartSent bool
	MessageID        string
	Model            string
	InitialUsage     map[string]interface{}

	// Content block tracking for multiple blocks (text, tool_use, etc.)
	ContentBlocks map[int]*ContentBlockState
	CurrentIndex  int
}

// ContentBlockState tracks individual content block state during streaming
type ContentBlockState struct {
	Type          string // "text" or "tool_use"
	StartSent     bool
	StopSent      bool
	ToolCallID    string // For tool_use blocks
	ToolCallIndex int    // OpenRouter tool call index for tracking across chunks
	ToolName      string // For tool_use blocks
	Arguments     string // Accumulated arguments for tool_use blocks
}

// Registry manages provider instances
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry
func (r *Registry) Register(provider Provider) {
	r.providers[provider.Name()] = provider
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, bool) {
	provider, exists := r.providers[name]
	return provider, exists
}

// GetByDomain returns a provider based on the API base URL domain
func (r *Registry) GetByDomain(apiBase string) (Provider, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}

	domain := strings.ToLower(u.Hostname())

	// Domain mapping to provider names. Any OpenAI-compatible endpoint
	// that isn't Anthropic's own (OpenRouter, NVIDIA NIM, local
	// inference servers, ...) speaks the same wire format the "openai"
	// provider already converts, so it maps there too rather than each
	// getting its own near-identical converter.
	domainProviderMap := map[string]string{
		"api.openai.com":           "openai",
		"openai.com":               "openai",
		"openrouter.ai":            "openai",
		"api.openrouter.ai":        "openai",
		"integrate.api.nvidia.com": "openai",
		"api.nvidia.com":           "openai",
		"api.anthropic.com":        "anthropic",
		"anthropic.com":            "anthropic",
	}

	if providerName, exists := domainProviderMap[domain]; exists {
		if provider, found := r.Get(providerName); found {
			return provider, nil
		}
	}

	return nil, fmt.Errorf("no provider found for domain: %s", domain)
}

// List returns all registered provider names
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Initialize registers all built-in providers. OpenRouter, NVIDIA NIM, and
// any other OpenAI-compatible endpoint route through the "openai" provider
// (see GetByDomain) rather than each getting its own converter, since the
// wire format it converts is identical.
func (r *Registry) Initialize() {
	r.Register(NewOpenAIProvider())
	r.Register(NewAnthropicProvider())
}
