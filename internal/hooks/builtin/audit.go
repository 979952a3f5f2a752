// Package builtin provides the stock hook handlers the agent registers at
// startup: the dispatch audit trail, dispatch logging, and per-command
// rate limiting.
package builtin

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"deskctl/internal/hooks"
)

// Params that never reach the audit trail. Synthetic-input text can carry
// whatever an operator is typing into a remote session.
var redactedParams = map[string]bool{
	"text":     true,
	"value":    true,
	"content":  true,
	"password": true,
}

// AuditEntry is one line of the JSONL audit trail.
type AuditEntry struct {
	TS            string         `json:"ts"`
	Command       string         `json:"command"`
	CommandID     string         `json:"command_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Params        map[string]any `json:"params,omitempty"`
	Success       bool           `json:"success"`
	DurationMS    int64          `json:"duration_ms"`
}

// AuditTrail appends every finished command to a JSONL file with
// sensitive parameter values redacted.
type AuditTrail struct {
	mu   sync.Mutex
	path string
}

// NewAuditTrail creates an audit trail writing to path.
func NewAuditTrail(path string) *AuditTrail {
	return &AuditTrail{path: path}
}

// Handler returns the after_dispatch hook handler.
func (a *AuditTrail) Handler() *hooks.Handler {
	return &hooks.Handler{
		ID:          "builtin.audit",
		Priority:    -100, // run after everything else observed the result
		Description: "append finished commands to the audit trail",
		Enabled:     true,
		Handler:     a.record,
	}
}

func (a *AuditTrail) record(ctx context.Context, hookCtx *hooks.Context) (*hooks.Result, error) {
	cmd := hookCtx.Command
	if cmd == nil {
		return nil, nil
	}

	entry := AuditEntry{
		TS:            hookCtx.Timestamp.UTC().Format(time.RFC3339),
		Command:       cmd.Name,
		CommandID:     cmd.CommandID,
		CorrelationID: cmd.CorrelationID,
		Params:        Redact(cmd.Params),
		Success:       cmd.Success,
		DurationMS:    cmd.Duration.Milliseconds(),
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return nil, err
	}
	return nil, nil
}

// Redact replaces sensitive parameter values with a placeholder, leaving
// the keys so the trail still shows what was supplied.
func Redact(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if redactedParams[k] {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}
