package jsvm

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskctl/internal/dispatcher"
)

func TestExtractManifest(t *testing.T) {
	dir := t.TempDir()
	path := writePlugin(t, dir, "m.js", `
exports.name = "list_things";
exports.description = "lists things";
exports.version = "0.3.1";
exports.min_host_version = "1.0.0";
exports.capability = "control";
exports.concurrency_class = "gui_exclusive";
exports.timeout_ms = 2500;
exports.handler = function() { return []; };
`)

	manifest, source, err := ExtractManifest(testRuntime(t), path)
	require.NoError(t, err)
	assert.Equal(t, "list_things", manifest.Name)
	assert.Equal(t, "lists things", manifest.Description)
	assert.Equal(t, "0.3.1", manifest.Version)
	assert.Equal(t, "1.0.0", manifest.MinHostVersion)
	assert.Equal(t, "control", manifest.Capability)
	assert.Equal(t, "gui_exclusive", manifest.ConcurrencyClass)
	assert.Equal(t, int64(2500), manifest.TimeoutMS)
	assert.Contains(t, source, "list_things")
}

func TestExtractManifestRequiresName(t *testing.T) {
	dir := t.TempDir()
	path := writePlugin(t, dir, "anon.js", `exports.handler = function() {};`)

	_, _, err := ExtractManifest(testRuntime(t), path)
	require.Error(t, err)
	var merr *ManifestError
	assert.ErrorAs(t, err, &merr)
}

func TestScriptHandlerMetadata(t *testing.T) {
	h := NewScriptHandler(PluginManifest{
		Name:             "x",
		Capability:       "control",
		ConcurrencyClass: "blocking",
		TimeoutMS:        100,
	}, "/p/x.js", "", nil, zerolog.Nop())

	assert.Equal(t, "x", h.Name())
	assert.Equal(t, "control", h.RequiredCapability())
	assert.Equal(t, dispatcher.ClassBlocking, h.ConcurrencyClass())
	assert.Equal(t, 100*time.Millisecond, h.DefaultTimeout())

	// Unknown class falls back to io_light; zero timeout to 10s.
	h2 := NewScriptHandler(PluginManifest{Name: "y", ConcurrencyClass: "weird"}, "", "", nil, zerolog.Nop())
	assert.Equal(t, dispatcher.ClassIOLight, h2.ConcurrencyClass())
	assert.Equal(t, 10*time.Second, h2.DefaultTimeout())
}

func TestScriptHandlerErrorSurfaces(t *testing.T) {
	rt := testRuntime(t)
	h := NewScriptHandler(PluginManifest{Name: "bad"}, "bad.js", `
exports.name = "bad";
exports.handler = function() { throw new Error("kaput"); };
`, rt, zerolog.Nop())

	_, err := h.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaput")
}

func TestRuntimeHostAPIs(t *testing.T) {
	rt := testRuntime(t)

	// desk.kv survives across executions through the shared store.
	_, err := rt.Execute(context.Background(), `desk.kv.set("counter", 41)`, "t.js", "e1")
	require.NoError(t, err)

	res, err := rt.Execute(context.Background(), `desk.kv.get("counter") + 1`, "t.js", "e2")
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Value)

	// console.log goes to the logger without breaking the script.
	res, err = rt.Execute(context.Background(), `(function(){ console.log("hi"); return desk.context.script_name; })()`, "t.js", "e3")
	require.NoError(t, err)
	assert.Equal(t, "t.js", res.Value)
}

func TestRuntimeInterruptsRunawayScript(t *testing.T) {
	cfg := DefaultRuntimeConfig()
	cfg.SandboxConfig.Timeout = 100 * time.Millisecond
	rt := NewRuntime(cfg, nil, zerolog.Nop())
	defer rt.Close()

	_, err := rt.Execute(context.Background(), `while (true) {}`, "spin.js", "e1")
	require.Error(t, err)
	var eerr *ExecutionError
	assert.ErrorAs(t, err, &eerr)
}

func TestRuntimeSyntaxError(t *testing.T) {
	rt := testRuntime(t)
	_, err := rt.Execute(context.Background(), `function {`, "broken.js", "e1")
	require.Error(t, err)
}
