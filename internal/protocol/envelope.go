package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire view of a handler response: the broker and the
// operator CLI decode results into this shape to check well-formedness
// without knowing any command's data schema.
type Envelope struct {
	Success   bool            `json:"success"`
	Timestamp string          `json:"timestamp"`
	Error     *EnvelopeError  `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// EnvelopeError is the error member of an envelope.
type EnvelopeError struct {
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Type    string         `json:"type,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ValidateEnvelope checks the envelope invariants: a successful envelope
// carries data and no error, a failed one carries a non-empty error
// message, and the timestamp is parseable ISO-8601.
func ValidateEnvelope(raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("envelope is not valid JSON: %w", err)
	}
	return env.Validate()
}

// Validate checks the decoded envelope against the §3 invariants.
func (e *Envelope) Validate() error {
	if e.Timestamp == "" {
		return fmt.Errorf("envelope has no timestamp")
	}
	if _, err := time.Parse(time.RFC3339Nano, e.Timestamp); err != nil {
		if _, err2 := time.Parse(time.RFC3339, e.Timestamp); err2 != nil {
			return fmt.Errorf("envelope timestamp %q is not ISO-8601: %w", e.Timestamp, err)
		}
	}
	if e.Success {
		if e.Error != nil {
			return fmt.Errorf("successful envelope carries an error")
		}
		if len(e.Data) == 0 {
			return fmt.Errorf("successful envelope carries no data")
		}
		return nil
	}
	if e.Error == nil || e.Error.Message == "" {
		return fmt.Errorf("failed envelope has no error message")
	}
	return nil
}
