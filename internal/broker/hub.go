// Package broker implements the central server: connection registration
// and addressing, heartbeat liveness, command forwarding, and correlation
// of asynchronous request/response pairs across websocket connections.
package broker

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"deskctl/internal/config"
	"deskctl/internal/protocol"
	"deskctl/pkg/logger"
)

// pendingReply is one in-flight forwarded command awaiting the target
// agent's command_result frame.
type pendingReply struct {
	correlationID string
	managerID     uint64
	targetID      uint64
	command       string
	issuedAt      time.Time
	deadline      time.Time
}

// Hub owns every live connection and every pending correlation. Relations
// between connections are by id lookup only; nothing holds a *Conn across
// a disconnect.
type Hub struct {
	cfg config.BrokerConfig

	mu     sync.RWMutex
	conns  map[uint64]*Conn
	nextID atomic.Uint64

	pmu     sync.Mutex
	pending map[string]*pendingReply

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a hub with the given broker configuration.
func NewHub(cfg config.BrokerConfig) *Hub {
	return &Hub{
		cfg:     cfg,
		conns:   make(map[uint64]*Conn),
		pending: make(map[string]*pendingReply),
		done:    make(chan struct{}),
	}
}

// Run starts the liveness sweep and blocks until Stop is called. The sweep
// closes connections idle past DeadTimeout and fails pending correlations
// past their deadline.
func (h *Hub) Run() {
	ticker := time.NewTicker(h.cfg.LivenessSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.sweep(time.Now())
		}
	}
}

// Stop terminates the liveness sweep.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// add registers a connection, assigning the next monotonic id. Ids are
// never reused within the life of the process.
func (h *Hub) add(c *Conn) uint64 {
	id := h.nextID.Add(1)
	c.id = id

	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()

	logger.Info().
		Uint64("client_id", id).
		Str("role", c.role).
		Str("user_session", c.userSession).
		Str("remote_addr", c.remoteAddr).
		Msg("connection registered")
	return id
}

// remove retires a connection id and fails every pending correlation whose
// target was that connection.
func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	if h.conns[c.id] != c {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.id)
	h.mu.Unlock()

	c.Close()
	h.failPendingForTarget(c.id)

	logger.Info().
		Uint64("client_id", c.id).
		Str("user_session", c.userSession).
		Msg("connection closed")
}

// get resolves a connection id, returning nil if it is gone.
func (h *Hub) get(id uint64) *Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[id]
}

// Snapshot returns the current connection list for admin queries. No
// filtering happens here; managers filter.
func (h *Hub) Snapshot() []protocol.ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]protocol.ClientInfo, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c.info())
	}
	return out
}

// ConnCount returns the number of live connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Forward routes a command from a manager to a target agent. It assigns a
// correlation id, records the pending entry, and writes the command frame
// to the target's queue. The returned status goes straight into the
// forward_ack; a missing target never records a pending entry, so no
// TARGET_DEAD result can follow a no_such_target ack.
func (h *Hub) Forward(manager *Conn, targetID uint64, cmd *protocol.Command) (correlationID, status string) {
	correlationID = uuid.New().String()

	target := h.get(targetID)
	if target == nil {
		return correlationID, protocol.ForwardNoSuchTarget
	}

	deadline := h.cfg.PendingRequestTimeout
	if cmd.TimeoutS > 0 {
		deadline = time.Duration(cmd.TimeoutS * float64(time.Second))
	}

	now := time.Now()
	h.pmu.Lock()
	h.pending[correlationID] = &pendingReply{
		correlationID: correlationID,
		managerID:     manager.id,
		targetID:      targetID,
		command:       cmd.Command,
		issuedAt:      now,
		deadline:      now.Add(deadline),
	}
	h.pmu.Unlock()

	frame := &protocol.Frame{
		Type:          protocol.TypeCommand,
		Command:       cmd,
		CorrelationID: correlationID,
	}
	if err := target.Send(frame); err != nil {
		h.evictPending(correlationID)
		if err == ErrSlowConsumer {
			h.closeSlowConsumer(target)
		}
		return correlationID, protocol.ForwardNoSuchTarget
	}

	logger.Debug().
		Str("correlation_id", correlationID).
		Uint64("manager", manager.id).
		Uint64("target", targetID).
		Str("command", cmd.Command).
		Msg("command forwarded")
	return correlationID, protocol.ForwardQueued
}

// HandleResult relays an agent's command_result to the manager that
// originated the forwarded command. An unknown or already-evicted
// correlation is dropped; a vanished manager is dropped and logged.
func (h *Hub) HandleResult(from *Conn, correlationID string, result json.RawMessage) {
	p := h.evictPending(correlationID)
	if p == nil {
		logger.Warn().
			Str("correlation_id", correlationID).
			Uint64("from", from.id).
			Msg("result for unknown correlation dropped")
		return
	}
	if p.targetID != from.id {
		logger.Warn().
			Str("correlation_id", correlationID).
			Uint64("from", from.id).
			Uint64("expected", p.targetID).
			Msg("result from unexpected connection dropped")
		return
	}

	h.deliverResult(p, result)
}

// deliverResult sends a command_result frame to the pending entry's
// originating manager, if it is still connected.
func (h *Hub) deliverResult(p *pendingReply, result json.RawMessage) {
	manager := h.get(p.managerID)
	if manager == nil {
		logger.Warn().
			Str("correlation_id", p.correlationID).
			Uint64("manager", p.managerID).
			Msg("originating manager gone, reply dropped")
		return
	}

	frame := &protocol.Frame{
		Type:          protocol.TypeCommandResult,
		CorrelationID: p.correlationID,
		FromClient:    p.targetID,
		Result:        result,
	}
	if err := manager.Send(frame); err != nil {
		if err == ErrSlowConsumer {
			h.closeSlowConsumer(manager)
			return
		}
		logger.Warn().Err(err).
			Str("correlation_id", p.correlationID).
			Msg("failed to relay result")
	}
}

func (h *Hub) evictPending(correlationID string) *pendingReply {
	h.pmu.Lock()
	defer h.pmu.Unlock()
	p := h.pending[correlationID]
	delete(h.pending, correlationID)
	return p
}

// failPendingForTarget synthesizes a TARGET_DEAD result for every pending
// correlation whose target connection is gone.
func (h *Hub) failPendingForTarget(targetID uint64) {
	h.pmu.Lock()
	var dead []*pendingReply
	for id, p := range h.pending {
		if p.targetID == targetID {
			dead = append(dead, p)
			delete(h.pending, id)
		}
	}
	h.pmu.Unlock()

	for _, p := range dead {
		h.deliverResult(p, errorEnvelope("TARGET_DEAD",
			fmt.Sprintf("agent %d disconnected before replying to %s", targetID, p.command)))
	}
}

// sweep closes idle connections and expires pending correlations.
func (h *Hub) sweep(now time.Time) {
	h.mu.RLock()
	var idle []*Conn
	for _, c := range h.conns {
		if now.Sub(c.LastSeen()) > h.cfg.DeadTimeout {
			idle = append(idle, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range idle {
		logger.Warn().
			Uint64("client_id", c.id).
			Time("last_seen", c.LastSeen()).
			Msg("closing connection after heartbeat timeout")
		h.remove(c)
	}

	h.pmu.Lock()
	var expired []*pendingReply
	for id, p := range h.pending {
		if now.After(p.deadline) {
			expired = append(expired, p)
			delete(h.pending, id)
		}
	}
	h.pmu.Unlock()

	for _, p := range expired {
		h.deliverResult(p, errorEnvelope("TIMEOUT",
			fmt.Sprintf("no reply to %s from agent %d within deadline", p.command, p.targetID)))
	}
}

// closeSlowConsumer drops a connection whose outbound queue overflowed.
func (h *Hub) closeSlowConsumer(c *Conn) {
	logger.Warn().
		Uint64("client_id", c.id).
		Str("user_session", c.userSession).
		Msg("closing slow consumer")
	h.remove(c)
}

// PendingCount returns the number of in-flight correlations.
func (h *Hub) PendingCount() int {
	h.pmu.Lock()
	defer h.pmu.Unlock()
	return len(h.pending)
}

// errorEnvelope builds a failed response envelope the broker synthesizes
// on behalf of an agent that cannot answer for itself.
func errorEnvelope(code, message string) json.RawMessage {
	env := protocol.Envelope{
		Success:   false,
		Timestamp: protocol.Timestamp(time.Now()),
		Error: &protocol.EnvelopeError{
			Code:    code,
			Message: message,
		},
	}
	data, _ := json.Marshal(env)
	return data
}
