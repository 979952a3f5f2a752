package broker

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskctl/internal/config"
	"deskctl/internal/protocol"
)

func testHub() *Hub {
	cfg := config.DefaultBrokerConfig()
	cfg.LivenessSweepInterval = 10 * time.Millisecond
	cfg.DeadTimeout = 50 * time.Millisecond
	cfg.PendingRequestTimeout = 100 * time.Millisecond
	return NewHub(cfg)
}

// fakeConn builds a Conn that never touches a real websocket; frames land
// in the send channel for the test to inspect.
func fakeConn(role, session string, queueSize int) *Conn {
	c := &Conn{
		role:        role,
		userSession: session,
		connectedAt: time.Now(),
		send:        make(chan []byte, queueSize),
		closed:      make(chan struct{}),
	}
	c.touch()
	return c
}

func recvFrame(t *testing.T, c *Conn) *protocol.Frame {
	t.Helper()
	select {
	case data := <-c.send:
		f, err := protocol.Decode(data)
		require.NoError(t, err)
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame on send queue")
		return nil
	}
}

func TestHubAssignsMonotonicUniqueIDs(t *testing.T) {
	h := testHub()

	var mu sync.Mutex
	seen := map[uint64]bool{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := h.add(fakeConn(protocol.RoleAgent, "s", 8))
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[id], "id %d assigned twice", id)
			seen[id] = true
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, h.ConnCount())
}

func TestHubIDsNotReusedAfterRemove(t *testing.T) {
	h := testHub()

	c1 := fakeConn(protocol.RoleAgent, "a", 8)
	id1 := h.add(c1)
	h.remove(c1)

	c2 := fakeConn(protocol.RoleAgent, "b", 8)
	id2 := h.add(c2)
	assert.Greater(t, id2, id1)
}

func TestForwardToMissingTarget(t *testing.T) {
	h := testHub()
	m := fakeConn(protocol.RoleManager, "mgr", 8)
	h.add(m)

	corr, status := h.Forward(m, 999, &protocol.Command{Type: "command", Command: "get_windows"})
	assert.Equal(t, protocol.ForwardNoSuchTarget, status)
	assert.NotEmpty(t, corr)

	// A no_such_target ack must never record a pending entry, so no
	// TARGET_DEAD can show up later.
	assert.Zero(t, h.PendingCount())
}

func TestForwardAndCorrelateResult(t *testing.T) {
	h := testHub()
	m := fakeConn(protocol.RoleManager, "mgr", 8)
	g := fakeConn(protocol.RoleAgent, "agent", 8)
	h.add(m)
	h.add(g)

	corr, status := h.Forward(m, g.id, &protocol.Command{
		Type: "command", Command: "get_windows", CommandID: "c1",
	})
	require.Equal(t, protocol.ForwardQueued, status)
	assert.Equal(t, 1, h.PendingCount())

	// The agent sees the command frame with the broker's correlation id.
	cmd := recvFrame(t, g)
	assert.Equal(t, protocol.TypeCommand, cmd.Type)
	assert.Equal(t, corr, cmd.CorrelationID)
	require.NotNil(t, cmd.Command)
	assert.Equal(t, "get_windows", cmd.Command.Command)

	envelope := json.RawMessage(`{"success":true,"timestamp":"2025-01-01T00:00:00Z","data":{"windows":[]}}`)
	h.HandleResult(g, corr, envelope)

	res := recvFrame(t, m)
	assert.Equal(t, protocol.TypeCommandResult, res.Type)
	assert.Equal(t, corr, res.CorrelationID)
	assert.Equal(t, g.id, res.FromClient)
	assert.NoError(t, protocol.ValidateEnvelope(res.Result))
	assert.Zero(t, h.PendingCount())

	// A second result for the same correlation is dropped.
	h.HandleResult(g, corr, envelope)
	select {
	case <-m.send:
		t.Fatal("duplicate result relayed")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestResultFromWrongConnectionDropped(t *testing.T) {
	h := testHub()
	m := fakeConn(protocol.RoleManager, "mgr", 8)
	g := fakeConn(protocol.RoleAgent, "agent", 8)
	imposter := fakeConn(protocol.RoleAgent, "other", 8)
	h.add(m)
	h.add(g)
	h.add(imposter)

	corr, _ := h.Forward(m, g.id, &protocol.Command{Type: "command", Command: "ping"})
	<-g.send

	h.HandleResult(imposter, corr, json.RawMessage(`{}`))
	select {
	case <-m.send:
		t.Fatal("imposter result relayed")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTargetDeathFailsPending(t *testing.T) {
	h := testHub()
	m := fakeConn(protocol.RoleManager, "mgr", 8)
	g := fakeConn(protocol.RoleAgent, "agent", 8)
	h.add(m)
	h.add(g)

	corr, status := h.Forward(m, g.id, &protocol.Command{Type: "command", Command: "slow_op"})
	require.Equal(t, protocol.ForwardQueued, status)
	<-g.send

	h.remove(g)

	res := recvFrame(t, m)
	assert.Equal(t, protocol.TypeCommandResult, res.Type)
	assert.Equal(t, corr, res.CorrelationID)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(res.Result, &env))
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "TARGET_DEAD", env.Error.Code)
}

func TestSweepExpiresPendingWithTimeout(t *testing.T) {
	h := testHub()
	m := fakeConn(protocol.RoleManager, "mgr", 8)
	g := fakeConn(protocol.RoleAgent, "agent", 8)
	h.add(m)
	h.add(g)

	_, status := h.Forward(m, g.id, &protocol.Command{Type: "command", Command: "slow_op", TimeoutS: 0.01})
	require.Equal(t, protocol.ForwardQueued, status)
	<-g.send

	time.Sleep(20 * time.Millisecond)
	h.sweep(time.Now())

	res := recvFrame(t, m)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(res.Result, &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, "TIMEOUT", env.Error.Code)
	assert.Zero(t, h.PendingCount())
}

func TestSweepClosesIdleConnections(t *testing.T) {
	h := testHub()
	c := fakeConn(protocol.RoleAgent, "idle", 8)
	h.add(c)

	c.lastSeen.Store(time.Now().Add(-time.Minute).UnixNano())
	h.sweep(time.Now())

	assert.Zero(t, h.ConnCount())
	select {
	case <-c.closed:
	default:
		t.Fatal("idle connection not closed")
	}
}

func TestSlowConsumerClosedOnForward(t *testing.T) {
	h := testHub()
	m := fakeConn(protocol.RoleManager, "mgr", 8)
	g := fakeConn(protocol.RoleAgent, "agent", 1)
	h.add(m)
	h.add(g)

	// Fill the agent's queue so the next forward overflows it.
	g.send <- []byte(`{"type":"heartbeat"}`)

	_, status := h.Forward(m, g.id, &protocol.Command{Type: "command", Command: "ping"})
	assert.Equal(t, protocol.ForwardNoSuchTarget, status)
	assert.Zero(t, h.PendingCount())

	select {
	case <-g.closed:
	default:
		t.Fatal("slow consumer not closed")
	}
}

func TestSnapshotCarriesRegistrationFields(t *testing.T) {
	h := testHub()
	c := fakeConn(protocol.RoleAgent, "wjchk", 8)
	c.capabilities = map[string]bool{"vscode_control": true}
	h.add(c)

	snap := h.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, c.id, snap[0].ID)
	assert.Equal(t, "wjchk", snap[0].UserSession)
	assert.True(t, snap[0].Capabilities["vscode_control"])
	assert.NotEmpty(t, snap[0].ConnectedAt)
	assert.NotEmpty(t, snap[0].LastHeartbeat)
}
