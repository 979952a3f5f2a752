package agentrt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"deskctl/internal/capability"
	"deskctl/internal/config"
	"deskctl/internal/dispatcher"
	"deskctl/internal/health"
	"deskctl/internal/hooks"
	"deskctl/internal/protocol"
	"deskctl/pkg/logger"
)

const (
	writeWait         = 10 * time.Second
	welcomeWait       = 10 * time.Second
	outboundQueueSize = 256
)

// Options wires the client to the rest of the agent.
type Options struct {
	Config       config.AgentConfig
	UserSession  string
	Capabilities map[string]bool

	Registry *dispatcher.Registry
	Hooks    *hooks.Manager
	Health   *health.Monitor

	// HeartbeatInterval defaults to 10s when zero.
	HeartbeatInterval time.Duration
}

// Client maintains the connection to the broker: register, heartbeat,
// receive commands, dispatch them, and send results back. On any error it
// reconnects with exponential backoff until the context ends.
type Client struct {
	opts      Options
	caps      capability.Set
	state     stateVar
	clientID  atomic.Uint64
	startTime time.Time
}

// NewClient creates a client; Run does the work.
func NewClient(opts Options) *Client {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	var tags []string
	for name, on := range opts.Capabilities {
		if on {
			tags = append(tags, name)
		}
	}
	return &Client{
		opts:      opts,
		caps:      capability.NewSet(tags...),
		startTime: time.Now(),
	}
}

// State returns the current connection state.
func (c *Client) State() State { return c.state.get() }

// ClientID returns the broker-assigned id of the current connection, 0
// when not registered.
func (c *Client) ClientID() uint64 { return c.clientID.Load() }

// Run connects and serves until ctx is cancelled, reconnecting on any
// connection failure.
func (c *Client) Run(ctx context.Context) error {
	backoff := Backoff{
		Initial:   c.opts.Config.ReconnectInitial,
		Max:       c.opts.Config.ReconnectMax,
		JitterPct: c.opts.Config.ReconnectJitterPct,
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			c.state.set(StateShutdown)
			return ctx.Err()
		}

		err := c.runOnce(ctx)
		c.state.set(StateDisconnected)
		if ctx.Err() != nil {
			c.state.set(StateShutdown)
			return ctx.Err()
		}

		delay := backoff.Next(attempt)
		attempt++
		logger.Named("agentrt").Warn().
			Err(err).
			Dur("retry_in", delay).
			Int("attempt", attempt).
			Msg("broker connection lost")

		select {
		case <-ctx.Done():
			c.state.set(StateShutdown)
			return ctx.Err()
		case <-time.After(delay):
		}

		// A successful session resets the backoff; runOnce only returns
		// after the link actually went live if registration succeeded.
		if c.clientID.Load() != 0 {
			attempt = 0
		}
	}
}

// runOnce performs one connect → register → live session.
func (c *Client) runOnce(ctx context.Context) error {
	c.clientID.Store(0)
	c.state.set(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, c.opts.Config.BrokerURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.Config.BrokerURL, err)
	}
	defer ws.Close()

	c.state.set(StateRegistering)
	if err := c.register(ws); err != nil {
		return err
	}

	c.state.set(StateLive)
	log := logger.Named("agentrt")
	log.Info().Uint64("client_id", c.clientID.Load()).Str("broker", c.opts.Config.BrokerURL).Msg("registered with broker")
	if c.opts.Hooks != nil {
		c.opts.Hooks.TriggerConnectionUp(ctx, &hooks.ConnectionContext{
			ClientID:  c.clientID.Load(),
			BrokerURL: c.opts.Config.BrokerURL,
		})
	}
	defer func() {
		if c.opts.Hooks != nil {
			c.opts.Hooks.TriggerConnectionDown(context.WithoutCancel(ctx), &hooks.ConnectionContext{
				ClientID:  c.clientID.Load(),
				BrokerURL: c.opts.Config.BrokerURL,
			})
		}
	}()

	return c.serve(ctx, ws)
}

// register sends the mandatory first frame and waits for the welcome.
func (c *Client) register(ws *websocket.Conn) error {
	reg := &protocol.Frame{
		Type:            protocol.TypeRegister,
		Role:            protocol.RoleAgent,
		UserSession:     c.opts.UserSession,
		ClientStartTime: protocol.Timestamp(c.startTime),
		Capabilities:    c.opts.Capabilities,
		SystemInfo: map[string]any{
			"platform": runtime.GOOS,
			"arch":     runtime.GOARCH,
			"hostname": hostname(),
			"pid":      os.Getpid(),
		},
	}
	data, err := protocol.Encode(reg)
	if err != nil {
		return err
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(welcomeWait))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("await welcome: %w", err)
	}
	ws.SetReadDeadline(time.Time{})

	f, err := protocol.Decode(raw)
	if err != nil {
		return err
	}
	switch f.Type {
	case protocol.TypeWelcome:
		c.clientID.Store(f.ClientID)
		return nil
	case protocol.TypeError:
		return fmt.Errorf("broker rejected register: %s", f.Message)
	default:
		return fmt.Errorf("expected welcome, got %s", f.Type)
	}
}

// serve pumps frames in both directions until the connection dies.
func (c *Client) serve(ctx context.Context, ws *websocket.Conn) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outbound := make(chan []byte, outboundQueueSize)
	writeDone := make(chan error, 1)

	// Heartbeat RTT feeds the health monitor through the websocket
	// ping/pong exchange.
	var lastPing atomic.Int64
	ws.SetPongHandler(func(string) error {
		if sent := lastPing.Load(); sent != 0 && c.opts.Health != nil {
			c.opts.Health.RecordHeartbeatLatency(time.Since(time.Unix(0, sent)))
		}
		return nil
	})

	go func() {
		writeDone <- c.writeLoop(sctx, ws, outbound, &lastPing)
	}()

	// Unblock the read loop on shutdown; a blocked ReadMessage only
	// returns once the socket closes.
	go func() {
		<-sctx.Done()
		ws.Close()
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			cancel()
			<-writeDone
			return err
		}

		f, err := protocol.Decode(raw)
		if err != nil {
			logger.Named("agentrt").Warn().Err(err).Msg("dropping malformed frame from broker")
			continue
		}

		switch f.Type {
		case protocol.TypeCommand:
			if f.Command == nil {
				logger.Named("agentrt").Warn().Msg("command frame without command")
				continue
			}
			go c.handleCommand(sctx, f, outbound)
		case protocol.TypeHeartbeat, protocol.TypeWelcome:
			// welcome already consumed during register; tolerate echoes.
		case protocol.TypeError:
			logger.Named("agentrt").Warn().Str("code", f.Code).Str("message", f.Message).Msg("broker error frame")
		default:
			logger.Named("agentrt").Debug().Str("type", f.Type).Msg("ignoring unexpected frame")
		}
	}
}

// writeLoop drains the outbound queue and emits heartbeats.
func (c *Client) writeLoop(ctx context.Context, ws *websocket.Conn, outbound <-chan []byte, lastPing *atomic.Int64) error {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case data := <-outbound:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}

		case <-ticker.C:
			if c.state.get() != StateLive {
				continue
			}
			hb, err := protocol.Encode(&protocol.Frame{
				Type: protocol.TypeHeartbeat,
				TS:   protocol.Timestamp(time.Now()),
			})
			if err != nil {
				return err
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, hb); err != nil {
				return err
			}
			lastPing.Store(time.Now().UnixNano())
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// handleCommand dispatches one command and queues its result.
func (c *Client) handleCommand(ctx context.Context, f *protocol.Frame, outbound chan<- []byte) {
	start := time.Now()
	req := dispatcher.Request{
		Command:   f.Command.Command,
		Params:    f.Command.Params,
		CommandID: f.Command.CommandID,
	}
	if f.Command.TimeoutS > 0 {
		req.Timeout = time.Duration(f.Command.TimeoutS * float64(time.Second))
	}

	dctx := dispatcher.WithCorrelationID(ctx, f.CorrelationID)

	var resp dispatcher.Response
	blocked := false
	if c.opts.Hooks != nil {
		cmdCtx := &hooks.CommandContext{
			Name:          req.Command,
			Params:        req.Params,
			CommandID:     req.CommandID,
			CorrelationID: f.CorrelationID,
		}
		if hr := c.opts.Hooks.TriggerBeforeDispatch(dctx, cmdCtx); hr.Block {
			resp = dispatcher.Fail(dispatcher.ErrCodeInternal, hr.BlockReason)
			blocked = true
		} else {
			req.Params = cmdCtx.Params
		}
	}
	if !blocked {
		resp = c.opts.Registry.DispatchRequest(dctx, req, c.caps)
	}

	duration := time.Since(start)
	c.recordOutcome(resp, duration)

	if c.opts.Hooks != nil {
		cmdCtx := &hooks.CommandContext{
			Name:          req.Command,
			Params:        req.Params,
			CommandID:     req.CommandID,
			CorrelationID: f.CorrelationID,
			Success:       resp.Success,
			Duration:      duration,
		}
		c.opts.Hooks.TriggerAfterDispatch(dctx, cmdCtx)
		if !resp.Success && resp.Error != nil {
			c.opts.Hooks.TriggerOnError(dctx, cmdCtx, &hooks.ErrorContext{
				Code:    resp.Error.Code,
				Message: resp.Error.Message,
			})
		}
	}

	result, err := json.Marshal(resp)
	if err != nil {
		logger.Named("agentrt").Error().Err(err).Str("command", req.Command).Msg("result not serializable")
		result, _ = json.Marshal(dispatcher.Fail(dispatcher.ErrCodeInternal, "result not serializable"))
	}

	frame := &protocol.Frame{
		Type:          protocol.TypeCommandResult,
		CorrelationID: f.CorrelationID,
		Result:        result,
	}
	data, err := protocol.Encode(frame)
	if err != nil {
		return
	}

	select {
	case outbound <- data:
	default:
		// Queue full: the broker link is stalled; drop and let the broker
		// time the correlation out.
		logger.Named("agentrt").Warn().Str("command", req.Command).Msg("outbound queue full, result dropped")
	}
}

// recordOutcome feeds the health monitor's command counters.
func (c *Client) recordOutcome(resp dispatcher.Response, duration time.Duration) {
	if c.opts.Health == nil {
		return
	}
	switch {
	case resp.Success:
		c.opts.Health.RecordCommand(health.OutcomeSuccess, duration)
	case resp.Error != nil && resp.Error.Code == string(dispatcher.ErrCodeTimeout):
		c.opts.Health.RecordCommand(health.OutcomeTimeout, duration)
	default:
		c.opts.Health.RecordCommand(health.OutcomeFailed, duration)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
