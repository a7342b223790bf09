package crawler

import (
	"slices"
	"sync"
)

// Registry maps job kinds to handlers. Lookups fall back to a handler that
// fails with UnimplementedHandlerError.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds h to kind, replacing any previous binding. It panics on an
// empty kind or a nil handler, both of which are programming errors.
func (r *Registry) Register(kind string, h Handler) {
	if kind == "" {
		panic("crawler: register handler with empty kind")
	}
	if h == nil || isNilHandler(h) {
		panic("crawler: register nil handler for kind " + kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Lookup returns the handler for kind, or the unimplemented fallback.
func (r *Registry) Lookup(kind string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[kind]; ok {
		return h
	}
	return unimplemented
}

// Has reports whether kind has a registered handler.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

func isNilHandler(h Handler) bool {
	switch fn := h.(type) {
	case SingleResult:
		return fn == nil
	case Stream:
		return fn == nil
	}
	return false
}
