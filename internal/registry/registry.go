// Package registry implements spec.md §4.4's function registry: a
// process-wide mapping from a name to an adapter that invokes a registered
// handler with raw JSON in and out. Grounded on the teacher's
// PluginRegistry.Register/Execute pattern, collapsed to the single
// name-to-handler mechanism the spec requires.
package registry

import (
	"context"
	"fmt"
	"sync"
)

// ErrUnknownFunction is returned when Invoke is called with a name that was
// never registered, corresponding to spec.md §7's UnknownFunction category.
type ErrUnknownFunction struct {
	Name string
}

func (e *ErrUnknownFunction) Error() string {
	return fmt.Sprintf("registry: unknown function %q", e.Name)
}

// Handler adapts a named function: it receives raw request JSON and returns
// raw response JSON or an error.
type Handler func(ctx context.Context, requestJSON []byte) (responseJSON []byte, err error)

// Registry is a concurrency-safe name-to-handler map built once at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for name. Intended to be called
// during node startup before any workflow is submitted.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Invoke looks up name and runs it, or returns ErrUnknownFunction.
func (r *Registry) Invoke(ctx context.Context, name string, requestJSON []byte) ([]byte, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ErrUnknownFunction{Name: name}
	}
	return h(ctx, requestJSON)
}

// Names returns the currently registered function names, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
