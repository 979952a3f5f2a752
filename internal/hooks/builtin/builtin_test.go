package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskctl/internal/hooks"
)

func TestAuditTrailWritesRedactedJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	trail := NewAuditTrail(path)

	m := hooks.NewManager()
	require.NoError(t, m.Register(hooks.HookAfterDispatch, trail.Handler()))

	m.TriggerAfterDispatch(context.Background(), &hooks.CommandContext{
		Name:      "send_text",
		CommandID: "c1",
		Params:    map[string]any{"text": "secret prompt", "hwnd": 1234},
		Success:   true,
		Duration:  120 * time.Millisecond,
	})
	m.TriggerAfterDispatch(context.Background(), &hooks.CommandContext{
		Name:    "get_windows",
		Success: false,
	})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e AuditEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)

	assert.Equal(t, "send_text", entries[0].Command)
	assert.Equal(t, "[redacted]", entries[0].Params["text"])
	assert.Equal(t, float64(1234), entries[0].Params["hwnd"])
	assert.True(t, entries[0].Success)

	assert.Equal(t, "get_windows", entries[1].Command)
	assert.False(t, entries[1].Success)
}

func TestRedact(t *testing.T) {
	assert.Nil(t, Redact(nil))

	out := Redact(map[string]any{"text": "x", "value": "y", "depth": 3})
	assert.Equal(t, "[redacted]", out["text"])
	assert.Equal(t, "[redacted]", out["value"])
	assert.Equal(t, 3, out["depth"])
}

func TestRateLimiterBlocksBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	assert.True(t, rl.Allow("send_text"))
	assert.True(t, rl.Allow("send_text"))
	assert.False(t, rl.Allow("send_text"), "burst exhausted")

	// A different command has its own bucket.
	assert.True(t, rl.Allow("get_windows"))
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(100, 1)

	require.True(t, rl.Allow("ping"))
	require.False(t, rl.Allow("ping"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, rl.Allow("ping"), "bucket refilled")
}

func TestRateLimiterHookBlocks(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	m := hooks.NewManager()
	require.NoError(t, m.Register(hooks.HookBeforeDispatch, rl.Handler()))

	first := m.TriggerBeforeDispatch(context.Background(), &hooks.CommandContext{Name: "submit"})
	assert.False(t, first.Block)

	second := m.TriggerBeforeDispatch(context.Background(), &hooks.CommandContext{Name: "submit"})
	assert.True(t, second.Block)
	assert.Contains(t, second.BlockReason, "rate limited")
}

func TestLoggingHandlersDoNotInterfere(t *testing.T) {
	before, after := LoggingHandlers()
	m := hooks.NewManager()
	require.NoError(t, m.Register(hooks.HookBeforeDispatch, before))
	require.NoError(t, m.Register(hooks.HookAfterDispatch, after))

	res := m.TriggerBeforeDispatch(context.Background(), &hooks.CommandContext{Name: "ping"})
	assert.False(t, res.Block)
	res = m.TriggerAfterDispatch(context.Background(), &hooks.CommandContext{Name: "ping", Success: true})
	assert.False(t, res.Block)
}
