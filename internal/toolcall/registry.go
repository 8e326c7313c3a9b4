package toolcall

import "fmt"

// Registry manages named Protocol instances, the way internal/providers.Registry
// manages named model providers: register once at startup, look up by name
// per request.
type Registry struct {
	protocols map[string]Protocol
}

func NewRegistry() *Registry {
	return &Registry{protocols: make(map[string]Protocol)}
}

func (r *Registry) Register(p Protocol) {
	r.protocols[p.Name()] = p
}

func (r *Registry) Get(name string) (Protocol, bool) {
	p, ok := r.protocols[name]
	return p, ok
}

func (r *Registry) MustGet(name string) (Protocol, error) {
	p, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("toolcall: unknown protocol %q", name)
	}
	return p, nil
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.protocols))
	for name := range r.protocols {
		names = append(names, name)
	}
	return names
}
