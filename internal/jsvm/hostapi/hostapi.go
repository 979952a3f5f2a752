// Package hostapi provides the desk.* JavaScript host APIs injected into
// every plugin script: desk.fs, desk.http, desk.kv, desk.log, and
// desk.context.
package hostapi

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// Config holds configuration for Host APIs.
type Config struct {
	// AllowedPaths is the list of allowed file system paths.
	AllowedPaths []string
	// HTTPAllowlist is the list of allowed HTTP domains (empty = allow all).
	HTTPAllowlist []string
	// MaxWriteSize is the maximum file write size in bytes.
	MaxWriteSize int64
}

// DefaultConfig returns default Host API configuration.
func DefaultConfig() Config {
	return Config{
		AllowedPaths:  []string{"~/.deskctl/", "/tmp"},
		HTTPAllowlist: nil,
		MaxWriteSize:  10 * 1024 * 1024, // 10MB
	}
}

// KV is the key-value store backing desk.kv. Plugins use it to remember
// state across invocations and reloads; the agent supplies an in-memory
// store by default.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
	Keys(prefix string) []string
}

// Context holds the execution context for Host APIs.
type Context struct {
	Ctx         context.Context
	KV          KV
	Logger      zerolog.Logger
	ScriptName  string
	ExecutionID string
	Config      Config
}

// PathNotAllowedError indicates a script touched a path outside the
// allowlist.
type PathNotAllowedError struct {
	Path string
}

func (e *PathNotAllowedError) Error() string {
	return fmt.Sprintf("path not allowed: %s", e.Path)
}

// Register injects all Host APIs into the given goja.Runtime under the
// global desk object.
func Register(vm *goja.Runtime, hctx *Context) error {
	desk := vm.NewObject()

	if err := registerHTTP(vm, desk, hctx); err != nil {
		return err
	}
	if err := registerKV(vm, desk, hctx); err != nil {
		return err
	}
	if err := registerFS(vm, desk, hctx); err != nil {
		return err
	}
	if err := registerLog(vm, desk, hctx); err != nil {
		return err
	}
	if err := registerContext(vm, desk, hctx); err != nil {
		return err
	}

	return vm.Set("desk", desk)
}

// registerContext injects desk.context with execution info.
func registerContext(vm *goja.Runtime, desk *goja.Object, hctx *Context) error {
	ctxObj := vm.NewObject()
	_ = ctxObj.Set("script_name", hctx.ScriptName)
	_ = ctxObj.Set("execution_id", hctx.ExecutionID)
	return desk.Set("context", ctxObj)
}

// Unregister removes Host APIs from the VM.
func Unregister(vm *goja.Runtime) {
	_ = vm.GlobalObject().Delete("desk")
	_ = vm.GlobalObject().Delete("console")
}
