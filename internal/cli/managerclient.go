package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"deskctl/internal/protocol"
)

// ManagerClient is the operator-side connection: register as a manager,
// query the broker, forward commands and wait for the correlated result.
type ManagerClient struct {
	ws *websocket.Conn
	id uint64
}

// DialManager connects to the broker and registers with the management
// capability.
func DialManager(brokerURL, session string) (*ManagerClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.Dial(brokerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", brokerURL, err)
	}

	c := &ManagerClient{ws: ws}
	reg := &protocol.Frame{
		Type:            protocol.TypeRegister,
		Role:            protocol.RoleManager,
		UserSession:     session,
		ClientStartTime: protocol.Timestamp(time.Now()),
		Capabilities:    map[string]bool{"management": true, "control": true},
	}
	if err := c.send(reg); err != nil {
		ws.Close()
		return nil, err
	}

	welcome, err := c.read(10 * time.Second)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("await welcome: %w", err)
	}
	if welcome.Type != protocol.TypeWelcome {
		ws.Close()
		return nil, fmt.Errorf("expected welcome, got %s: %s", welcome.Type, welcome.Message)
	}
	c.id = welcome.ClientID
	return c, nil
}

// ID returns the broker-assigned manager connection id.
func (c *ManagerClient) ID() uint64 { return c.id }

// Close shuts the connection down.
func (c *ManagerClient) Close() error { return c.ws.Close() }

// ListClients fetches the broker's connection snapshot.
func (c *ManagerClient) ListClients() ([]protocol.ClientInfo, error) {
	if err := c.send(&protocol.Frame{Type: protocol.TypeRequest, RequestName: "list_clients"}); err != nil {
		return nil, err
	}
	reply, err := c.read(10 * time.Second)
	if err != nil {
		return nil, err
	}
	if reply.Type != protocol.TypeClientList {
		return nil, fmt.Errorf("expected client_list, got %s", reply.Type)
	}
	return reply.Clients, nil
}

// FindAgentBySession resolves an agent connection by its user_session
// label.
func (c *ManagerClient) FindAgentBySession(session string) (*protocol.ClientInfo, error) {
	clients, err := c.ListClients()
	if err != nil {
		return nil, err
	}
	for i := range clients {
		if clients[i].Role == protocol.RoleAgent && clients[i].UserSession == session {
			return &clients[i], nil
		}
	}
	return nil, fmt.Errorf("no agent with user_session %q", session)
}

// ErrNoSuchTarget is surfaced when the broker acks no_such_target.
var ErrNoSuchTarget = fmt.Errorf("target client not connected")

// SendCommand forwards a command and waits for the correlated result.
func (c *ManagerClient) SendCommand(target uint64, cmd *protocol.Command, timeout time.Duration) (*protocol.Envelope, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cmd.Type == "" {
		cmd.Type = "command"
	}

	if err := c.send(&protocol.Frame{
		Type:         protocol.TypeForwardCommand,
		TargetClient: target,
		Command:      cmd,
	}); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	var correlationID string
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("timed out waiting for reply to %s", cmd.Command)
		}
		frame, err := c.read(remaining)
		if err != nil {
			return nil, err
		}

		switch frame.Type {
		case protocol.TypeForwardAck:
			if frame.Status == protocol.ForwardNoSuchTarget {
				return nil, ErrNoSuchTarget
			}
			correlationID = frame.CorrelationID

		case protocol.TypeCommandResult:
			if correlationID != "" && frame.CorrelationID != correlationID {
				// A stale result from an earlier command; skip it.
				continue
			}
			var env protocol.Envelope
			if err := json.Unmarshal(frame.Result, &env); err != nil {
				return nil, fmt.Errorf("malformed result envelope: %w", err)
			}
			return &env, nil

		case protocol.TypeError:
			return nil, fmt.Errorf("broker error: %s", frame.Message)
		}
	}
}

func (c *ManagerClient) send(f *protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *ManagerClient) read(timeout time.Duration) (*protocol.Frame, error) {
	c.ws.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

// UserSession returns the label this process registers under: the OS
// username, overridable for operators running several agents per host.
func UserSession() string {
	if s := os.Getenv("DESKCTL_SESSION"); s != "" {
		return s
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	return "unknown"
}
