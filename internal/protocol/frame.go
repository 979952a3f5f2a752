// Package protocol defines the JSON wire frames exchanged between the
// broker, agents, and managers, plus the canonical response envelope. One
// frame per JSON object, discriminated by the Type field; unknown types
// terminate the connection with a PROTOCOL error.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame types.
const (
	TypeRegister       = "register"
	TypeWelcome        = "welcome"
	TypeHeartbeat      = "heartbeat"
	TypeRequest        = "request"
	TypeClientList     = "client_list"
	TypeForwardCommand = "forward_command"
	TypeForwardAck     = "forward_ack"
	TypeCommand        = "command"
	TypeCommandResult  = "command_result"
	TypeError          = "error"
)

// Roles a connection may register as.
const (
	RoleAgent   = "agent"
	RoleManager = "manager"
	RoleMonitor = "monitor"
)

// Forward-ack statuses.
const (
	ForwardQueued       = "queued"
	ForwardNoSuchTarget = "no_such_target"
)

// Frame is the single wire message shape. Exactly the fields relevant to
// the frame's Type are populated; everything else stays at its zero value
// and is omitted from the encoded JSON.
type Frame struct {
	Type string `json:"type"`

	// register
	Role            string          `json:"role,omitempty"`
	UserSession     string          `json:"user_session,omitempty"`
	ClientStartTime string          `json:"client_start_time,omitempty"`
	Capabilities    map[string]bool `json:"capabilities,omitempty"`
	SystemInfo      map[string]any  `json:"system_info,omitempty"`

	// welcome
	ClientID   uint64 `json:"client_id,omitempty"`
	ServerTime string `json:"server_time,omitempty"`

	// heartbeat
	TS string `json:"ts,omitempty"`

	// request / client_list
	RequestName string       `json:"-"`
	Clients     []ClientInfo `json:"clients,omitempty"`

	// forward_command / command
	TargetClient uint64   `json:"target_client,omitempty"`
	Command      *Command `json:"-"`

	// forward_ack / command / command_result
	Status        string `json:"status,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	// command_result
	FromClient uint64          `json:"from_client,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// frameJSON mirrors Frame for encoding; Command needs special handling
// because the "command" key is shared between request frames (a string)
// and forward frames (an object).
type frameAlias Frame

type frameJSON struct {
	frameAlias
	RawCommand json.RawMessage `json:"command,omitempty"`
}

// MarshalJSON encodes the frame, placing either the request name or the
// command object under the shared "command" key.
func (f Frame) MarshalJSON() ([]byte, error) {
	out := frameJSON{frameAlias: frameAlias(f)}
	switch {
	case f.Command != nil:
		raw, err := json.Marshal(f.Command)
		if err != nil {
			return nil, err
		}
		out.RawCommand = raw
	case f.RequestName != "":
		raw, err := json.Marshal(f.RequestName)
		if err != nil {
			return nil, err
		}
		out.RawCommand = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the frame, resolving the shared "command" key into
// either RequestName (string form) or Command (object form).
func (f *Frame) UnmarshalJSON(data []byte) error {
	var in frameJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*f = Frame(in.frameAlias)
	if len(in.RawCommand) == 0 {
		return nil
	}
	switch in.RawCommand[0] {
	case '"':
		return json.Unmarshal(in.RawCommand, &f.RequestName)
	case '{':
		f.Command = &Command{}
		return json.Unmarshal(in.RawCommand, f.Command)
	default:
		return fmt.Errorf("command field is neither a name nor an object")
	}
}

// Command is the inner command object carried by forward_command frames
// and delivered to agents inside command frames.
type Command struct {
	Type      string         `json:"type"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
	CommandID string         `json:"command_id,omitempty"`
	TimeoutS  float64        `json:"timeout,omitempty"`
}

// ClientInfo is one row of a client_list reply.
type ClientInfo struct {
	ID            uint64          `json:"id"`
	Role          string          `json:"role"`
	UserSession   string          `json:"user_session"`
	RemoteAddr    string          `json:"remote_addr,omitempty"`
	ConnectedAt   string          `json:"connected_at"`
	LastHeartbeat string          `json:"last_heartbeat"`
	Capabilities  map[string]bool `json:"capabilities,omitempty"`
}

// Timestamp formats t the way every frame timestamp is formatted: ISO-8601
// in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Decode parses a raw wire message into a Frame, rejecting frames with a
// missing or empty type.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame has no type")
	}
	return &f, nil
}

// Encode serializes a frame for the wire.
func Encode(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}
