package jsvm

import (
	"context"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"deskctl/internal/jsvm/hostapi"
)

// SandboxConfig holds configuration for the sandbox environment.
type SandboxConfig struct {
	// Timeout is the maximum execution time for scripts.
	Timeout time.Duration
	// AllowedPaths is the list of allowed file system paths.
	AllowedPaths []string
	// HTTPAllowlist is the list of allowed HTTP domains (empty = allow all).
	HTTPAllowlist []string
	// MaxWriteSize is the maximum file write size in bytes.
	MaxWriteSize int64
}

// DefaultSandboxConfig returns default sandbox configuration.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Timeout:       30 * time.Second,
		AllowedPaths:  []string{"~/.deskctl/", "/tmp"},
		HTTPAllowlist: nil,
		MaxWriteSize:  10 * 1024 * 1024, // 10MB
	}
}

// Sandbox provides a restricted execution environment for plugin scripts:
// a deadline-driven interrupt, path-allowlisted fs access, and the desk.*
// host API.
type Sandbox struct {
	config SandboxConfig
	kv     hostapi.KV
	logger zerolog.Logger

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{} // signals cleanup to interrupt goroutine
}

// NewSandbox creates a new sandbox with the given configuration.
func NewSandbox(cfg SandboxConfig, kv hostapi.KV, logger zerolog.Logger) *Sandbox {
	return &Sandbox{
		config: cfg,
		kv:     kv,
		logger: logger,
	}
}

// Setup configures the VM with security restrictions and injects Host APIs.
func (s *Sandbox) Setup(vm *goja.Runtime, ctx context.Context, scriptName, executionID string) (context.Context, error) {
	s.mu.Lock()

	execCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	s.cancelFunc = cancel
	s.done = make(chan struct{})
	done := s.done // Copy under lock
	s.mu.Unlock()

	// Interrupt the VM when the deadline trips.
	go func() {
		select {
		case <-execCtx.Done():
			vm.Interrupt("execution interrupted: " + execCtx.Err().Error())
		case <-done:
			return
		}
	}()

	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	hctx := &hostapi.Context{
		Ctx:         execCtx,
		KV:          s.kv,
		Logger:      s.logger,
		ScriptName:  scriptName,
		ExecutionID: executionID,
		Config: hostapi.Config{
			AllowedPaths:  s.config.AllowedPaths,
			HTTPAllowlist: s.config.HTTPAllowlist,
			MaxWriteSize:  s.config.MaxWriteSize,
		},
	}

	if err := hostapi.Register(vm, hctx); err != nil {
		cancel()
		return nil, err
	}

	return execCtx, nil
}

// Cleanup removes injected objects and cancels any pending operations.
func (s *Sandbox) Cleanup(vm *goja.Runtime) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Signal goroutine to stop before cancelling context
	if s.done != nil {
		close(s.done)
		s.done = nil
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}

	hostapi.Unregister(vm)
	vm.ClearInterrupt()
}
