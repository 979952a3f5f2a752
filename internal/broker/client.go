package broker

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"deskctl/internal/protocol"
	"deskctl/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// How long the broker waits for the mandatory register frame.
	registerWait = 10 * time.Second

	// Maximum message size allowed from peer. UIA dumps of a deep Electron
	// tree can run to several megabytes.
	maxMessageSize = 16 * 1024 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// No auth model: any connector may register.
		return true
	},
}

// ServeWS upgrades an HTTP request to a websocket connection and runs the
// connection's session until it ends.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	go serveConn(hub, ws)
}

// serveConn drives one connection: it demands a register frame first,
// admits the connection into the hub, then loops over inbound frames until
// close, error, or protocol violation.
func serveConn(hub *Hub, ws *websocket.Conn) {
	ws.SetReadLimit(maxMessageSize)

	reg, err := readRegister(ws)
	if err != nil {
		logger.Warn().Err(err).Str("remote_addr", ws.RemoteAddr().String()).
			Msg("rejecting connection before register")
		writeProtocolError(ws, err.Error())
		ws.Close()
		return
	}

	c := newConn(ws, reg, hub.cfg.OutboundQueueSize)
	hub.add(c)
	defer hub.remove(c)

	go c.writePump(pingPeriod, writeWait)

	welcome := &protocol.Frame{
		Type:       protocol.TypeWelcome,
		ClientID:   c.id,
		ServerTime: protocol.Timestamp(time.Now()),
	}
	if err := c.Send(welcome); err != nil {
		return
	}

	readLoop(hub, c)
}

// readRegister reads the first frame and requires it to be a well-formed
// register. Anything else is a protocol violation.
func readRegister(ws *websocket.Conn) (*protocol.Frame, error) {
	ws.SetReadDeadline(time.Now().Add(registerWait))
	defer ws.SetReadDeadline(time.Time{})

	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}

	f, err := protocol.Decode(data)
	if err != nil {
		return nil, err
	}
	if f.Type != protocol.TypeRegister {
		return nil, errRegisterFirst(f.Type)
	}
	switch f.Role {
	case protocol.RoleAgent, protocol.RoleManager, protocol.RoleMonitor:
	case "":
		// Management scripts predating the role field registered with
		// capabilities only; treat a management capability as manager.
		if f.Capabilities["management"] {
			f.Role = protocol.RoleManager
		} else {
			f.Role = protocol.RoleAgent
		}
	default:
		return nil, errUnknownRole(f.Role)
	}
	return f, nil
}

type protocolError string

func (e protocolError) Error() string { return string(e) }

func errRegisterFirst(got string) error {
	return protocolError("first frame must be register, got " + got)
}

func errUnknownRole(role string) error {
	return protocolError("unknown role " + role)
}

// readLoop dispatches inbound frames for a registered connection. It
// returns when the connection errors or violates the protocol; the caller
// removes the connection from the hub.
func readLoop(hub *Hub, c *Conn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Uint64("client_id", c.id).Msg("read error")
			}
			return
		}
		c.touch()

		f, err := protocol.Decode(data)
		if err != nil {
			sendProtocolError(c, err.Error())
			return
		}

		if !handleFrame(hub, c, f) {
			return
		}
	}
}

// handleFrame processes one frame. It returns false when the connection
// must close (protocol violation).
func handleFrame(hub *Hub, c *Conn, f *protocol.Frame) bool {
	switch f.Type {
	case protocol.TypeHeartbeat:
		// touch already happened; no reply required.
		return true

	case protocol.TypeRequest:
		return handleRequest(hub, c, f)

	case protocol.TypeForwardCommand:
		if f.Command == nil || f.Command.Command == "" {
			sendProtocolError(c, "forward_command without a command")
			return false
		}
		correlationID, status := hub.Forward(c, f.TargetClient, f.Command)
		ack := &protocol.Frame{
			Type:          protocol.TypeForwardAck,
			Status:        status,
			CorrelationID: correlationID,
		}
		if err := c.Send(ack); err != nil {
			if err == ErrSlowConsumer {
				hub.closeSlowConsumer(c)
			}
			return false
		}
		return true

	case protocol.TypeCommandResult:
		if f.CorrelationID == "" {
			sendProtocolError(c, "command_result without correlation_id")
			return false
		}
		hub.HandleResult(c, f.CorrelationID, f.Result)
		return true

	case protocol.TypeRegister:
		sendProtocolError(c, "duplicate register")
		return false

	default:
		sendProtocolError(c, "unknown frame type "+f.Type)
		return false
	}
}

// handleRequest answers admin queries on the manager link.
func handleRequest(hub *Hub, c *Conn, f *protocol.Frame) bool {
	switch f.RequestName {
	case "list_clients":
		reply := &protocol.Frame{
			Type:    protocol.TypeClientList,
			Clients: hub.Snapshot(),
		}
		if err := c.Send(reply); err != nil {
			if err == ErrSlowConsumer {
				hub.closeSlowConsumer(c)
			}
			return false
		}
		return true
	default:
		sendProtocolError(c, "unknown request "+f.RequestName)
		return false
	}
}

// sendProtocolError notifies the peer why its connection is about to
// close. Best effort; the connection is going away either way.
func sendProtocolError(c *Conn, message string) {
	_ = c.Send(&protocol.Frame{
		Type:    protocol.TypeError,
		Code:    "PROTOCOL",
		Message: message,
	})
	// Give the writePump a moment to flush before teardown.
	time.Sleep(50 * time.Millisecond)
}

// writeProtocolError writes directly to a not-yet-admitted socket.
func writeProtocolError(ws *websocket.Conn, message string) {
	data, err := protocol.Encode(&protocol.Frame{
		Type:    protocol.TypeError,
		Code:    "PROTOCOL",
		Message: message,
	})
	if err != nil {
		return
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.TextMessage, data)
}
