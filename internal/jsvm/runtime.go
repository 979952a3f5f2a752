package jsvm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"deskctl/internal/jsvm/hostapi"
)

// RuntimeConfig holds configuration for the Runtime.
type RuntimeConfig struct {
	// Pool configuration
	PoolConfig PoolConfig
	// Sandbox configuration
	SandboxConfig SandboxConfig
}

// DefaultRuntimeConfig returns default runtime configuration.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		PoolConfig:    DefaultPoolConfig(),
		SandboxConfig: DefaultSandboxConfig(),
	}
}

// Runtime provides JavaScript execution capabilities over a pooled set of
// goja VMs.
type Runtime struct {
	pool   *VMPool
	config RuntimeConfig
	kv     hostapi.KV
	logger zerolog.Logger
	closed bool
}

// NewRuntime creates a new JavaScript runtime. kv backs the desk.kv host
// API and is shared by every script this runtime executes.
func NewRuntime(cfg RuntimeConfig, kv hostapi.KV, logger zerolog.Logger) *Runtime {
	return &Runtime{
		pool:   NewVMPool(cfg.PoolConfig),
		config: cfg,
		kv:     kv,
		logger: logger,
	}
}

// ExecuteResult holds the result of script execution.
type ExecuteResult struct {
	// Value is the return value of the script.
	Value interface{}
}

// Execute runs a JavaScript script and returns the result.
func (r *Runtime) Execute(ctx context.Context, script, scriptName, executionID string) (*ExecuteResult, error) {
	if r.closed {
		return nil, ErrRuntimeClosed
	}

	vm, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Release(vm)

	sandbox := NewSandbox(r.config.SandboxConfig, r.kv, r.logger)
	execCtx, err := sandbox.Setup(vm, ctx, scriptName, executionID)
	if err != nil {
		return nil, err
	}
	defer sandbox.Cleanup(vm)

	val, err := vm.RunString(script)
	if err != nil {
		return nil, wrapExecutionError(err, scriptName)
	}

	select {
	case <-execCtx.Done():
		return nil, &ExecutionError{Script: scriptName, Cause: execCtx.Err()}
	default:
	}

	return &ExecuteResult{Value: exportValue(val)}, nil
}

// ExecuteFile reads a file and executes its contents.
func (r *Runtime) ExecuteFile(ctx context.Context, filePath, executionID string) (*ExecuteResult, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read script file: %w", err)
	}

	return r.Execute(ctx, string(content), filepath.Base(filePath), executionID)
}

// Close shuts down the runtime and releases resources.
func (r *Runtime) Close() error {
	r.closed = true
	return r.pool.Close()
}

// wrapExecutionError converts goja errors to structured errors.
func wrapExecutionError(err error, scriptName string) error {
	if interrupted, ok := err.(*goja.InterruptedError); ok {
		return &ExecutionError{
			Script: scriptName,
			Cause:  fmt.Errorf("interrupted: %v", interrupted.Value()),
		}
	}
	if exception, ok := err.(*goja.Exception); ok {
		return &ExecutionError{
			Script: scriptName,
			Cause:  fmt.Errorf("exception: %s", exception.String()),
		}
	}
	if compileErr, ok := err.(*goja.CompilerSyntaxError); ok {
		return &ScriptSyntaxError{
			File:    scriptName,
			Message: compileErr.Error(),
		}
	}
	return &ExecutionError{Script: scriptName, Cause: err}
}

// exportValue converts goja values to Go values.
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}
