package broker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"deskctl/internal/protocol"
	"deskctl/pkg/logger"
)

// ErrSlowConsumer is returned by Send when a connection's outbound queue
// is full. The caller closes the connection; a peer that cannot drain its
// queue would otherwise stall every sender behind it.
var ErrSlowConsumer = errors.New("outbound queue overflow")

// Conn is one registered connection: an agent, a manager, or a monitor.
// All writes to the peer go through the bounded send queue so frames are
// never interleaved; the queue is drained by a single writePump goroutine.
type Conn struct {
	id              uint64
	role            string
	userSession     string
	capabilities    map[string]bool
	clientStartTime string
	remoteAddr      string
	connectedAt     time.Time

	// lastSeen is unix nanoseconds of the most recent inbound activity
	// (any frame, not just heartbeats).
	lastSeen atomic.Int64

	ws        *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, reg *protocol.Frame, queueSize int) *Conn {
	caps := reg.Capabilities
	if caps == nil {
		caps = map[string]bool{}
	}
	c := &Conn{
		role:            reg.Role,
		userSession:     reg.UserSession,
		capabilities:    caps,
		clientStartTime: reg.ClientStartTime,
		remoteAddr:      ws.RemoteAddr().String(),
		connectedAt:     time.Now(),
		ws:              ws,
		send:            make(chan []byte, queueSize),
		closed:          make(chan struct{}),
	}
	c.touch()
	return c
}

// ID returns the broker-assigned connection id.
func (c *Conn) ID() uint64 { return c.id }

// Role returns the role the connection registered as.
func (c *Conn) Role() string { return c.role }

// UserSession returns the free-form session label from registration.
func (c *Conn) UserSession() string { return c.userSession }

// touch records inbound activity for the liveness sweep.
func (c *Conn) touch() { c.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen returns the time of the most recent inbound activity.
func (c *Conn) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

// Send enqueues a frame for delivery. It never blocks: a full queue means
// the peer is not draining and the connection must be closed with
// SLOW_CONSUMER rather than stalling the broker.
func (c *Conn) Send(f *protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close shuts the connection down exactly once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.ws != nil {
			c.ws.Close()
		}
	})
}

// info snapshots the connection for a client_list reply.
func (c *Conn) info() protocol.ClientInfo {
	return protocol.ClientInfo{
		ID:            c.id,
		Role:          c.role,
		UserSession:   c.userSession,
		RemoteAddr:    c.remoteAddr,
		ConnectedAt:   protocol.Timestamp(c.connectedAt),
		LastHeartbeat: protocol.Timestamp(c.LastSeen()),
		Capabilities:  c.capabilities,
	}
}

// writePump drains the send queue onto the websocket, interleaving
// protocol-level pings. It exits when the queue writer closes the
// connection or a write fails.
func (c *Conn) writePump(pingPeriod, writeWait time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug().Err(err).Uint64("client_id", c.id).Msg("write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
