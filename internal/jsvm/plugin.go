package jsvm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"deskctl/internal/dispatcher"
)

// PluginManifest is the metadata a plugin script exports alongside its
// handler function:
//
//	exports.name = "count_windows";
//	exports.description = "example plugin";
//	exports.version = "1.2.0";
//	exports.min_host_version = "1.0.0";
//	exports.capability = "control";
//	exports.concurrency_class = "io_light";
//	exports.timeout_ms = 5000;
//	exports.handler = function(params) { return {count: 1}; };
type PluginManifest struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	Version          string `json:"version"`
	MinHostVersion   string `json:"min_host_version"`
	Capability       string `json:"capability"`
	ConcurrencyClass string `json:"concurrency_class"`
	TimeoutMS        int64  `json:"timeout_ms"`
}

// ScriptHandler adapts a plugin script to the dispatcher's Handler
// interface. Each invocation re-wraps the cached source, so a hot reload
// replaces the whole handler value atomically rather than mutating it.
type ScriptHandler struct {
	manifest   PluginManifest
	scriptPath string
	source     string
	runtime    *Runtime
	logger     zerolog.Logger
}

// NewScriptHandler creates a handler from an already-validated manifest
// and source.
func NewScriptHandler(manifest PluginManifest, scriptPath, source string, runtime *Runtime, logger zerolog.Logger) *ScriptHandler {
	return &ScriptHandler{
		manifest:   manifest,
		scriptPath: scriptPath,
		source:     source,
		runtime:    runtime,
		logger:     logger,
	}
}

// Name returns the command name the plugin registered.
func (h *ScriptHandler) Name() string { return h.manifest.Name }

// RequiredCapability returns the capability tag the plugin demands.
func (h *ScriptHandler) RequiredCapability() string { return h.manifest.Capability }

// ConcurrencyClass maps the manifest's class name, defaulting to io_light.
func (h *ScriptHandler) ConcurrencyClass() dispatcher.ConcurrencyClass {
	switch dispatcher.ConcurrencyClass(h.manifest.ConcurrencyClass) {
	case dispatcher.ClassGUIExclusive:
		return dispatcher.ClassGUIExclusive
	case dispatcher.ClassBlocking:
		return dispatcher.ClassBlocking
	default:
		return dispatcher.ClassIOLight
	}
}

// DefaultTimeout returns the manifest timeout, defaulting to 10s.
func (h *ScriptHandler) DefaultTimeout() time.Duration {
	if h.manifest.TimeoutMS > 0 {
		return time.Duration(h.manifest.TimeoutMS) * time.Millisecond
	}
	return 10 * time.Second
}

// Version returns the plugin's own version string.
func (h *ScriptHandler) Version() string { return h.manifest.Version }

// ScriptPath returns the file the handler was loaded from.
func (h *ScriptHandler) ScriptPath() string { return h.scriptPath }

// Execute runs the plugin's handler function with the given params.
func (h *ScriptHandler) Execute(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return dispatcher.Response{}, dispatcher.NewInvalidParamsError(h.manifest.Name, "params not serializable", err)
	}
	if params == nil {
		paramsJSON = []byte("{}")
	}

	script := fmt.Sprintf(`
		(function() {
			var __params = %s;
			var module = { exports: {} };
			var exports = module.exports;
			%s
			var handler = module.exports;
			if (typeof handler !== 'function') {
				handler = module.exports.handler;
			}
			if (typeof handler !== 'function') {
				throw new Error('plugin must export a handler function');
			}
			return handler(__params);
		})()
	`, string(paramsJSON), h.source)

	executionID := fmt.Sprintf("plugin-%s-%d", h.manifest.Name, time.Now().UnixNano())
	result, err := h.runtime.Execute(ctx, script, h.scriptPath, executionID)
	if err != nil {
		return dispatcher.Response{}, err
	}

	return dispatcher.Success(result.Value), nil
}

// ExtractManifest evaluates a plugin file's exports to read its manifest
// without running the handler.
func ExtractManifest(runtime *Runtime, scriptPath string) (*PluginManifest, string, error) {
	raw, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, "", fmt.Errorf("read plugin: %w", err)
	}
	source := string(raw)

	script := fmt.Sprintf(`
		(function() {
			var module = { exports: {} };
			var exports = module.exports;
			%s
			return {
				name: module.exports.name || '',
				description: module.exports.description || '',
				version: module.exports.version || '0.0.0',
				min_host_version: module.exports.min_host_version || '',
				capability: module.exports.capability || '',
				concurrency_class: module.exports.concurrency_class || '',
				timeout_ms: module.exports.timeout_ms || 0
			};
		})()
	`, source)

	result, err := runtime.Execute(context.Background(), script, scriptPath, "extract-manifest")
	if err != nil {
		return nil, "", err
	}

	data, ok := result.Value.(map[string]interface{})
	if !ok {
		return nil, "", &ManifestError{File: scriptPath, Message: fmt.Sprintf("expected object exports, got %T", result.Value)}
	}

	manifest := &PluginManifest{
		Name:             getString(data, "name"),
		Description:      getString(data, "description"),
		Version:          getString(data, "version"),
		MinHostVersion:   getString(data, "min_host_version"),
		Capability:       getString(data, "capability"),
		ConcurrencyClass: getString(data, "concurrency_class"),
	}
	if v, ok := data["timeout_ms"].(int64); ok {
		manifest.TimeoutMS = v
	} else if v, ok := data["timeout_ms"].(float64); ok {
		manifest.TimeoutMS = int64(v)
	}

	if manifest.Name == "" {
		return nil, "", &ManifestError{File: scriptPath, Message: "plugin must export a name"}
	}
	return manifest, source, nil
}

// getString safely extracts a string from a map.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
