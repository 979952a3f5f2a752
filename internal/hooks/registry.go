package hooks

import (
	"fmt"
	"sort"
	"sync"
)

// Registry stores hook handlers grouped by type, ordered by priority.
type Registry struct {
	mu       sync.RWMutex
	handlers map[HookType][]*Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[HookType][]*Handler),
	}
}

// Register adds a handler for a hook type. Handler ids are unique per
// type; registering an existing id fails.
func (r *Registry) Register(hookType HookType, handler *Handler) error {
	if !IsValidHookType(hookType) {
		return fmt.Errorf("%w: %s", ErrHookTypeInvalid, hookType)
	}
	if handler == nil || handler.Handler == nil {
		return ErrHandlerNil
	}
	if handler.ID == "" {
		return fmt.Errorf("hooks: handler id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.handlers[hookType] {
		if h.ID == handler.ID {
			return fmt.Errorf("%w: %s/%s", ErrHandlerExists, hookType, handler.ID)
		}
	}

	r.handlers[hookType] = append(r.handlers[hookType], handler)
	sort.SliceStable(r.handlers[hookType], func(i, j int) bool {
		return r.handlers[hookType][i].Priority > r.handlers[hookType][j].Priority
	})
	return nil
}

// Unregister removes a handler by id.
func (r *Registry) Unregister(hookType HookType, handlerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[hookType]
	for i, h := range list {
		if h.ID == handlerID {
			r.handlers[hookType] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", ErrHandlerNotFound, hookType, handlerID)
}

// GetHandlers returns the enabled handlers for a type, highest priority
// first.
func (r *Registry) GetHandlers(hookType HookType) []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Handler, 0, len(r.handlers[hookType]))
	for _, h := range r.handlers[hookType] {
		if h.Enabled {
			out = append(out, h)
		}
	}
	return out
}

// HasHandlers reports whether any enabled handler exists for a type.
func (r *Registry) HasHandlers(hookType HookType) bool {
	return len(r.GetHandlers(hookType)) > 0
}

// Count returns the total number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, list := range r.handlers {
		n += len(list)
	}
	return n
}

// Clear removes all handlers.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[HookType][]*Handler)
}
