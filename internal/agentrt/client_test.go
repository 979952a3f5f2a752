package agentrt

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskctl/internal/broker"
	"deskctl/internal/config"
	"deskctl/internal/dispatcher"
	"deskctl/internal/health"
	"deskctl/internal/hooks"
	"deskctl/internal/protocol"
)

func dialWS(url string) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.Dial(url, nil)
}

func sendJSON(t *testing.T, ws *websocket.Conn, f *protocol.Frame) {
	t.Helper()
	data, err := protocol.Encode(f)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func readJSON(t *testing.T, ws *websocket.Conn) *protocol.Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	f, err := protocol.Decode(data)
	require.NoError(t, err)
	return f
}

type pingHandler struct {
	dispatcher.BaseHandler
}

func newPingHandler() *pingHandler {
	return &pingHandler{BaseHandler: dispatcher.BaseHandler{
		HandlerName: "ping",
		Class:       dispatcher.ClassIOLight,
	}}
}

func (h *pingHandler) Execute(ctx context.Context, params map[string]any) (dispatcher.Response, error) {
	return dispatcher.Success(map[string]any{"pong": true}), nil
}

// startTestBroker runs a real broker hub and returns its ws URL.
func startTestBroker(t *testing.T) (*broker.Hub, string) {
	t.Helper()
	hub := broker.NewHub(config.DefaultBrokerConfig())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		broker.ServeWS(hub, w, r)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Stop)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientRegistersAndServesCommands(t *testing.T) {
	hub, url := startTestBroker(t)

	registry := dispatcher.NewRegistry(dispatcher.PoolSizes{IOLight: 4, GUIExclusive: 1, Blocking: 2})
	require.NoError(t, registry.Register(newPingHandler()))

	mon, err := health.NewMonitor(config.DefaultHealthConfig())
	require.NoError(t, err)

	cfg := config.DefaultAgentConfig()
	cfg.BrokerURL = url
	cfg.ReconnectInitial = 50 * time.Millisecond

	client := NewClient(Options{
		Config:            cfg,
		UserSession:       "test-session",
		Capabilities:      map[string]bool{"control": true},
		Registry:          registry,
		Hooks:             hooks.NewManager(),
		Health:            mon,
		HeartbeatInterval: 100 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	require.Eventually(t, func() bool {
		return client.State() == StateLive
	}, 5*time.Second, 20*time.Millisecond)
	agentID := client.ClientID()
	require.NotZero(t, agentID)

	// Drive a command through the broker from a manager connection.
	mgr, _, err := dialWS(url)
	require.NoError(t, err)
	defer mgr.Close()

	sendJSON(t, mgr, &protocol.Frame{
		Type:         protocol.TypeRegister,
		Role:         protocol.RoleManager,
		UserSession:  "op",
		Capabilities: map[string]bool{"management": true},
	})
	welcome := readJSON(t, mgr)
	require.Equal(t, protocol.TypeWelcome, welcome.Type)

	sendJSON(t, mgr, &protocol.Frame{
		Type:         protocol.TypeForwardCommand,
		TargetClient: agentID,
		Command:      &protocol.Command{Type: "command", Command: "ping", CommandID: "c1"},
	})

	ack := readJSON(t, mgr)
	require.Equal(t, protocol.TypeForwardAck, ack.Type)
	require.Equal(t, protocol.ForwardQueued, ack.Status)

	res := readJSON(t, mgr)
	require.Equal(t, protocol.TypeCommandResult, res.Type)
	assert.Equal(t, ack.CorrelationID, res.CorrelationID)
	assert.Equal(t, agentID, res.FromClient)
	require.NoError(t, protocol.ValidateEnvelope(res.Result))

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(res.Result, &env))
	assert.True(t, env.Success)
	assert.Equal(t, "ping", env.Metadata["command"])
	assert.Equal(t, "c1", env.Metadata["command_id"])

	// Unknown command comes back as a failed envelope, not silence.
	sendJSON(t, mgr, &protocol.Frame{
		Type:         protocol.TypeForwardCommand,
		TargetClient: agentID,
		Command:      &protocol.Command{Type: "command", Command: "does_not_exist"},
	})
	readJSON(t, mgr) // ack
	res = readJSON(t, mgr)
	require.NoError(t, json.Unmarshal(res.Result, &env))
	assert.False(t, env.Success)
	assert.Equal(t, "UNKNOWN_COMMAND", env.Error.Code)

	// Health saw both commands.
	rep := mon.Report()
	assert.Equal(t, uint64(2), rep.Counters.Total)
	assert.Equal(t, uint64(1), rep.Counters.Success)

	_ = hub
}

func TestClientReconnectsAfterBrokerRestart(t *testing.T) {
	hub := broker.NewHub(config.DefaultBrokerConfig())
	var (
		connsMu sync.Mutex
		conns   []net.Conn
	)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		broker.ServeWS(hub, w, r)
	}))
	// The test server forgets hijacked (upgraded) connections, so record
	// them here to be able to close them.
	srv.Config.ConnState = func(c net.Conn, state http.ConnState) {
		if state == http.StateHijacked {
			connsMu.Lock()
			conns = append(conns, c)
			connsMu.Unlock()
		}
	}
	srv.Start()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	registry := dispatcher.NewRegistry(dispatcher.PoolSizes{IOLight: 1, GUIExclusive: 1, Blocking: 1})
	cfg := config.DefaultAgentConfig()
	cfg.BrokerURL = url
	cfg.ReconnectInitial = 20 * time.Millisecond
	cfg.ReconnectMax = 100 * time.Millisecond

	client := NewClient(Options{
		Config:            cfg,
		UserSession:       "reconnect-test",
		Registry:          registry,
		HeartbeatInterval: 50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	require.Eventually(t, func() bool { return client.State() == StateLive }, 5*time.Second, 10*time.Millisecond)
	firstID := client.ClientID()

	// Kill every connection; the client must come back on its own.
	connsMu.Lock()
	for _, c := range conns {
		c.Close()
	}
	connsMu.Unlock()

	require.Eventually(t, func() bool {
		return client.State() == StateLive && client.ClientID() != firstID
	}, 5*time.Second, 10*time.Millisecond)

	srv.Close()
	hub.Stop()
}
