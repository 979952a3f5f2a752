package hooks

import (
	"context"
	"time"
)

// Manager is the facade the agent runtime and dispatcher talk to.
type Manager struct {
	registry *Registry
	executor *Executor
}

// NewManager creates a manager with a fresh registry and executor.
func NewManager() *Manager {
	return &Manager{
		registry: NewRegistry(),
		executor: NewExecutor(),
	}
}

// Register adds a handler for a hook type.
func (m *Manager) Register(hookType HookType, handler *Handler) error {
	return m.registry.Register(hookType, handler)
}

// Unregister removes a handler.
func (m *Manager) Unregister(hookType HookType, handlerID string) error {
	return m.registry.Unregister(hookType, handlerID)
}

// Trigger runs every enabled handler for the context's hook type.
func (m *Manager) Trigger(ctx context.Context, hookCtx *Context) *Result {
	handlers := m.registry.GetHandlers(hookCtx.Type)
	if len(handlers) == 0 {
		return &Result{}
	}
	if hookCtx.Timestamp.IsZero() {
		hookCtx.Timestamp = time.Now()
	}
	return m.executor.Execute(ctx, handlers, hookCtx)
}

// TriggerBeforeDispatch fires before a handler runs. The returned result
// may block the command or rewrite its params.
func (m *Manager) TriggerBeforeDispatch(ctx context.Context, cmd *CommandContext) *Result {
	return m.Trigger(ctx, &Context{Type: HookBeforeDispatch, Command: cmd})
}

// TriggerAfterDispatch fires after a handler returned.
func (m *Manager) TriggerAfterDispatch(ctx context.Context, cmd *CommandContext) *Result {
	return m.Trigger(ctx, &Context{Type: HookAfterDispatch, Command: cmd})
}

// TriggerOnError fires when a dispatch produced a failed envelope.
func (m *Manager) TriggerOnError(ctx context.Context, cmd *CommandContext, errCtx *ErrorContext) *Result {
	return m.Trigger(ctx, &Context{Type: HookOnError, Command: cmd, Error: errCtx})
}

// TriggerConnectionUp fires when the agent's broker link goes live.
func (m *Manager) TriggerConnectionUp(ctx context.Context, conn *ConnectionContext) *Result {
	return m.Trigger(ctx, &Context{Type: HookConnectionUp, Connection: conn})
}

// TriggerConnectionDown fires when the agent's broker link drops.
func (m *Manager) TriggerConnectionDown(ctx context.Context, conn *ConnectionContext) *Result {
	return m.Trigger(ctx, &Context{Type: HookConnectionDown, Connection: conn})
}

// TriggerStartup fires once when the agent starts.
func (m *Manager) TriggerStartup(ctx context.Context) *Result {
	return m.Trigger(ctx, &Context{Type: HookStartup})
}

// TriggerShutdown fires once on orderly shutdown.
func (m *Manager) TriggerShutdown(ctx context.Context) *Result {
	return m.Trigger(ctx, &Context{Type: HookShutdown})
}

// ListHandlers returns the enabled handlers for a type.
func (m *Manager) ListHandlers(hookType HookType) []*Handler {
	return m.registry.GetHandlers(hookType)
}

// Count returns the total number of registered handlers.
func (m *Manager) Count() int { return m.registry.Count() }

// Clear removes every handler.
func (m *Manager) Clear() { m.registry.Clear() }
