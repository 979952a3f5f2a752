// Package logring keeps the agent's most recent structured log records in
// a fixed-capacity ring so operators can query them over the wire without
// touching the log file. It plugs into pkg/logger as an extra sink.
package logring

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Record is one captured log entry. Context carries every structured
// field the original event had beyond the well-known ones.
type Record struct {
	TS      time.Time      `json:"ts"`
	Level   string         `json:"level"`
	Logger  string         `json:"logger,omitempty"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// Ring is a fixed-capacity circular buffer of log records. It implements
// io.Writer over zerolog's JSON line output, so it can be handed to
// logger.Init as the extra sink.
type Ring struct {
	mu    sync.Mutex
	buf   []Record
	next  int
	count int
}

// New creates a ring holding at most capacity records.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Ring{buf: make([]Record, capacity)}
}

// Write parses one zerolog JSON line into a Record and appends it,
// evicting the oldest record when full. Unparseable lines are stored as
// raw messages rather than dropped.
func (r *Ring) Write(p []byte) (int, error) {
	rec := parseLine(p)
	r.Append(rec)
	return len(p), nil
}

// Append adds a record directly.
func (r *Ring) Append(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = rec
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Len returns the number of records currently held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Capacity returns the maximum number of records the ring can hold.
func (r *Ring) Capacity() int { return len(r.buf) }

// Query returns records at or above minLevel whose message or logger name
// contains substring, newest last, capped at tail entries. A tail of 0
// means no cap; an empty substring matches everything.
func (r *Ring) Query(minLevel string, substring string, tail int) []Record {
	min := zerolog.TraceLevel
	if minLevel != "" {
		min = parseLevel(minLevel)
	}
	sub := strings.ToLower(substring)

	r.mu.Lock()
	snapshot := r.orderedLocked()
	r.mu.Unlock()

	out := make([]Record, 0, len(snapshot))
	for _, rec := range snapshot {
		if parseLevel(rec.Level) < min {
			continue
		}
		if sub != "" &&
			!strings.Contains(strings.ToLower(rec.Message), sub) &&
			!strings.Contains(strings.ToLower(rec.Logger), sub) {
			continue
		}
		out = append(out, rec)
	}
	if tail > 0 && len(out) > tail {
		out = out[len(out)-tail:]
	}
	return out
}

// orderedLocked returns records oldest first.
func (r *Ring) orderedLocked() []Record {
	out := make([]Record, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

func parseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.TraceLevel
	}
	return l
}

// wellKnown are zerolog fields lifted out of the context map.
var wellKnown = map[string]bool{
	zerolog.TimestampFieldName: true,
	zerolog.LevelFieldName:     true,
	zerolog.MessageFieldName:   true,
	zerolog.CallerFieldName:    true,
	"logger":                   true,
}

func parseLine(p []byte) Record {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return Record{TS: time.Now(), Level: "info", Message: strings.TrimSpace(string(p))}
	}

	rec := Record{TS: time.Now()}
	if ts, ok := fields[zerolog.TimestampFieldName].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			rec.TS = parsed
		}
	}
	rec.Level, _ = fields[zerolog.LevelFieldName].(string)
	rec.Message, _ = fields[zerolog.MessageFieldName].(string)
	rec.Logger, _ = fields["logger"].(string)

	for k, v := range fields {
		if wellKnown[k] {
			continue
		}
		if rec.Context == nil {
			rec.Context = make(map[string]any)
		}
		rec.Context[k] = v
	}
	return rec
}
