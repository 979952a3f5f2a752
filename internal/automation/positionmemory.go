package automation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// maxPointsPerEntry caps how many remembered coordinates one
// (application, interaction) pair keeps.
const maxPointsPerEntry = 10

// MemoryPoint is one remembered screen coordinate with its track record.
type MemoryPoint struct {
	Point         Point     `json:"point"`
	Successes     int       `json:"successes"`
	Attempts      int       `json:"attempts"`
	ConsecFails   int       `json:"consec_fails"`
	LastValidated time.Time `json:"last_validated"`
}

// PositionMemory remembers, per (application-signature, interaction-kind),
// the screen coordinates that previously produced a validated input. The
// scorer uses it to bias detection; repeated validation failures evict an
// entry.
type PositionMemory struct {
	mu         sync.Mutex
	entries    map[string][]*MemoryPoint
	evictAfter int
	dirty      bool
}

// NewPositionMemory creates an empty memory. evictAfter is the number of
// consecutive validation failures that evicts a point (default 3).
func NewPositionMemory(evictAfter int) *PositionMemory {
	if evictAfter <= 0 {
		evictAfter = 3
	}
	return &PositionMemory{
		entries:    make(map[string][]*MemoryPoint),
		evictAfter: evictAfter,
	}
}

func memoryKey(signature, interaction string) string {
	return signature + "#" + interaction
}

// RecordSuccess remembers a validated input at the point, adding it if
// new and evicting the oldest point past the cap.
func (m *PositionMemory) RecordSuccess(signature, interaction string, p Point) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(signature, interaction)
	points := m.entries[key]

	for _, mp := range points {
		if mp.Point == p {
			mp.Successes++
			mp.Attempts++
			mp.ConsecFails = 0
			mp.LastValidated = time.Now()
			m.dirty = true
			return
		}
	}

	points = append(points, &MemoryPoint{
		Point:         p,
		Successes:     1,
		Attempts:      1,
		LastValidated: time.Now(),
	})
	if len(points) > maxPointsPerEntry {
		points = points[len(points)-maxPointsPerEntry:]
	}
	m.entries[key] = points
	m.dirty = true
}

// RecordFailure counts a validation failure at the point; after
// evictAfter consecutive failures the point is dropped.
func (m *PositionMemory) RecordFailure(signature, interaction string, p Point) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(signature, interaction)
	points := m.entries[key]
	for i, mp := range points {
		if mp.Point != p {
			continue
		}
		mp.Attempts++
		mp.ConsecFails++
		m.dirty = true
		if mp.ConsecFails >= m.evictAfter {
			m.entries[key] = append(points[:i], points[i+1:]...)
		}
		return
	}
}

// Points returns the remembered points for a key, best first (most
// successes, then most recently validated).
func (m *PositionMemory) Points(signature, interaction string) []MemoryPoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	points := m.entries[memoryKey(signature, interaction)]
	out := make([]MemoryPoint, len(points))
	for i, mp := range points {
		out[i] = *mp
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Successes > out[i].Successes ||
				(out[j].Successes == out[i].Successes && out[j].LastValidated.After(out[i].LastValidated)) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// HitCount returns how many remembered points lie within radius pixels of
// p, for the scorer's position-memory bonus.
func (m *PositionMemory) HitCount(signature, interaction string, p Point, radius int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	hits := 0
	for _, mp := range m.entries[memoryKey(signature, interaction)] {
		dx := mp.Point.X - p.X
		dy := mp.Point.Y - p.Y
		if dx*dx+dy*dy <= radius*radius {
			hits++
		}
	}
	return hits
}

// snapshot is the on-disk format.
type snapshot struct {
	SavedAt time.Time                 `json:"saved_at"`
	Entries map[string][]*MemoryPoint `json:"entries"`
}

// Save writes a JSON snapshot atomically, skipping the write when nothing
// changed since the last save. The scheduler calls this every minute so
// adaptive learning survives restarts.
func (m *PositionMemory) Save(path string) error {
	m.mu.Lock()
	if !m.dirty {
		m.mu.Unlock()
		return nil
	}
	snap := snapshot{SavedAt: time.Now(), Entries: m.entries}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.dirty = err != nil
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load replaces the memory contents from a snapshot file. A missing file
// is not an error.
func (m *PositionMemory) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Entries != nil {
		m.entries = snap.Entries
	}
	m.dirty = false
	return nil
}

// Len returns the total number of remembered points.
func (m *PositionMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, points := range m.entries {
		n += len(points)
	}
	return n
}
