package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"deskctl/pkg/logger"
)

// pool bounds concurrent executions of one ConcurrencyClass with a
// buffered channel acting as a semaphore.
type pool struct {
	slots chan struct{}
}

func newPool(size int) *pool {
	if size <= 0 {
		size = 1
	}
	return &pool{slots: make(chan struct{}, size)}
}

func (p *pool) acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pool) release() { <-p.slots }

// PoolSizes configures the size of each concurrency-class pool.
type PoolSizes struct {
	IOLight      int
	GUIExclusive int
	Blocking     int
}

// Registry manages the set of registered handlers and dispatches commands
// to them, enforcing capability checks, per-class concurrency bounds, and
// execution deadlines. It is safe for concurrent use, including concurrent
// hot-swap of handlers while dispatch is in flight.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	pools    map[ConcurrencyClass]*pool
}

// NewRegistry creates a new empty handler registry with the given
// concurrency-class pool sizes.
func NewRegistry(sizes PoolSizes) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		pools: map[ConcurrencyClass]*pool{
			ClassIOLight:      newPool(sizes.IOLight),
			ClassGUIExclusive: newPool(sizes.GUIExclusive),
			ClassBlocking:     newPool(sizes.Blocking),
		},
	}
}

// Register adds a handler to the registry.
// Returns an error wrapping ErrHandlerAlreadyExists if a handler with the
// same name is already registered.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return NewInvalidParamsError("registry", "handler cannot be nil", nil)
	}

	name := h.Name()
	if name == "" {
		return NewInvalidParamsError("registry", "handler name cannot be empty", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return NewHandlerAlreadyExistsError(name)
	}

	r.handlers[name] = h
	return nil
}

// Replace atomically swaps in a new handler under the same name, used by
// the hot-reload watcher to apply a reloaded module without a window where
// the command is unregistered.
func (r *Registry) Replace(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// Get retrieves a handler by name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// List returns all registered handlers.
func (r *Registry) List() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		result = append(result, h)
	}
	return result
}

// Names returns the names of all registered handlers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		result = append(result, name)
	}
	return result
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Unregister removes a handler from the registry.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; !exists {
		return NewHandlerNotFoundError(name)
	}
	delete(r.handlers, name)
	return nil
}

// Clear removes all handlers from the registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string]Handler)
}

// Filter keeps only the handlers whose names appear in allowList. Supports
// "*" (keep all), "!name" (exclude), and "prefix_*" glob matching.
func (r *Registry) Filter(allowList []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var includes, excludes []string
	for _, name := range allowList {
		if name == "*" {
			for _, n := range allowList {
				if strings.HasPrefix(n, "!") {
					excludes = append(excludes, n[1:])
				}
			}
			for _, ex := range excludes {
				delete(r.handlers, ex)
			}
			return
		}
		if strings.HasPrefix(name, "!") {
			excludes = append(excludes, name[1:])
		} else {
			includes = append(includes, name)
		}
	}

	allowed := make(map[string]struct{})
	for _, pattern := range includes {
		if strings.HasSuffix(pattern, "*") {
			prefix := pattern[:len(pattern)-1]
			for name := range r.handlers {
				if strings.HasPrefix(name, prefix) {
					allowed[name] = struct{}{}
				}
			}
		} else {
			allowed[pattern] = struct{}{}
		}
	}
	for name := range r.handlers {
		if _, ok := allowed[name]; !ok {
			delete(r.handlers, name)
		}
	}
	for _, ex := range excludes {
		delete(r.handlers, ex)
	}
}

// HasCapability is satisfied by the capability set attached to a
// connection; kept as an interface here so dispatcher does not import
// internal/capability's concrete type, avoiding an import cycle risk.
type HasCapability interface {
	Has(name string) bool
}

// Dispatch looks up the named handler, checks the caller's capability set,
// enforces the handler's deadline, runs it in its concurrency-class pool,
// and normalizes any error or panic into a Response. Dispatch never
// returns a Go error for a failed command: command failure is encoded in
// the returned Response itself.
func (r *Registry) Dispatch(ctx context.Context, name string, params map[string]any, caps HasCapability) Response {
	return r.DispatchRequest(ctx, Request{Command: name, Params: params}, caps)
}

// DispatchRequest is the full form of Dispatch: it honors the request's
// per-command timeout override and stamps the response metadata with the
// command name, command id, and execution time.
func (r *Registry) DispatchRequest(ctx context.Context, req Request, caps HasCapability) Response {
	start := time.Now()
	resp := r.dispatch(ctx, req, caps)

	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}
	resp.Metadata["command"] = req.Command
	resp.Metadata["execution_time"] = time.Since(start).Seconds()
	if req.CommandID != "" {
		resp.Metadata["command_id"] = req.CommandID
	}
	return resp
}

func (r *Registry) dispatch(ctx context.Context, req Request, caps HasCapability) Response {
	h, ok := r.Get(req.Command)
	if !ok {
		return Fail(ErrCodeUnknownCommand, fmt.Sprintf("unknown command: %s", req.Command))
	}

	if required := h.RequiredCapability(); required != "" {
		if caps == nil || !caps.Has(required) {
			return Fail(ErrCodeCapabilityMissing, fmt.Sprintf("command %s requires capability %s", req.Command, required))
		}
	}

	class := h.ConcurrencyClass()
	r.mu.RLock()
	p := r.pools[class]
	r.mu.RUnlock()
	if p == nil {
		p = newPool(1)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = h.DefaultTimeout()
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.acquire(dctx); err != nil {
		return Fail(ErrCodeTimeout, fmt.Sprintf("command %s timed out waiting for a %s slot", req.Command, class))
	}
	defer p.release()

	return r.execute(dctx, h, req.Params)
}

// execute runs a single handler, converting a panic or an error return
// into a normalized failure Response.
func (r *Registry) execute(ctx context.Context, h Handler, params map[string]any) (resp Response) {
	done := make(chan Response, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorf("handler %s panicked: %v\n%s", h.Name(), rec, debug.Stack())
				resp := Fail(ErrCodeInternal, fmt.Sprintf("handler %s panicked: %v", h.Name(), rec))
				resp.Error.Type = "panic"
				done <- resp
				return
			}
		}()

		r, err := h.Execute(ctx, params)
		if err != nil {
			resp := Fail(CodeForError(err), err.Error())
			resp.Error.Type = fmt.Sprintf("%T", err)
			done <- resp
			return
		}
		done <- r
	}()

	select {
	case resp = <-done:
		return resp
	case <-ctx.Done():
		return Fail(ErrCodeTimeout, fmt.Sprintf("command %s exceeded its deadline", h.Name()))
	}
}
