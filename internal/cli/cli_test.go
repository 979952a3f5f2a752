package cli

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskctl/internal/broker"
	"deskctl/internal/config"
	"deskctl/internal/protocol"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))
	assert.Equal(t, 2, ExitCode(&ExitError{Code: 2, Err: errors.New("connect")}))
	assert.Equal(t, 5, ExitCode(&ExitError{Code: 5}))
}

func TestApplyPortOverride(t *testing.T) {
	cfg := config.Default()
	t.Setenv("DESKCTL_PORT", "12345")

	applyPortOverride(cfg)
	assert.Equal(t, "0.0.0.0:12345", cfg.Broker.ListenAddr)
	assert.Equal(t, "ws://127.0.0.1:12345/connect", cfg.Agent.BrokerURL)
}

func TestApplyPortOverrideNoEnv(t *testing.T) {
	cfg := config.Default()
	t.Setenv("DESKCTL_PORT", "")

	applyPortOverride(cfg)
	assert.Equal(t, config.Default().Broker.ListenAddr, cfg.Broker.ListenAddr)
}

func TestUserSessionFallbacks(t *testing.T) {
	t.Setenv("DESKCTL_SESSION", "desk-7")
	assert.Equal(t, "desk-7", UserSession())

	t.Setenv("DESKCTL_SESSION", "")
	t.Setenv("USER", "fallback-user")
	assert.Equal(t, "fallback-user", UserSession())
}

func startCLITestBroker(t *testing.T) string {
	t.Helper()
	hub := broker.NewHub(config.DefaultBrokerConfig())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		broker.ServeWS(hub, w, r)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Stop)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestManagerClientListAndFind(t *testing.T) {
	url := startCLITestBroker(t)

	mc, err := DialManager(url, "operator")
	require.NoError(t, err)
	defer mc.Close()
	require.NotZero(t, mc.ID())

	clients, err := mc.ListClients()
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "operator", clients[0].UserSession)

	_, err = mc.FindAgentBySession("nobody")
	assert.Error(t, err)
}

func TestManagerClientNoSuchTarget(t *testing.T) {
	url := startCLITestBroker(t)

	mc, err := DialManager(url, "operator")
	require.NoError(t, err)
	defer mc.Close()

	_, err = mc.SendCommand(999, &protocol.Command{Command: "ping"}, 2*time.Second)
	assert.ErrorIs(t, err, ErrNoSuchTarget)
}

func TestDialManagerConnectFailure(t *testing.T) {
	_, err := DialManager("ws://127.0.0.1:1/connect", "operator")
	assert.Error(t, err)
}
