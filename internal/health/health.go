// Package health samples the agent process's CPU and memory and tracks
// heartbeat latency over rolling windows, keeps cumulative command outcome
// counters, and classifies each signal into ok/degraded/unhealthy. The
// aggregate status is the worst individual signal.
package health

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"deskctl/internal/config"
)

// Status is a classified health signal.
type Status string

const (
	StatusOK        Status = "ok"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func worst(a, b Status) Status {
	rank := map[Status]int{StatusOK: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// CommandOutcome classifies one finished command for the counters.
type CommandOutcome int

const (
	OutcomeSuccess CommandOutcome = iota
	OutcomeFailed
	OutcomeTimeout
)

// window is a bounded slice of float samples.
type window struct {
	samples []float64
	max     int
}

func newWindow(max int) *window {
	if max <= 0 {
		max = 12
	}
	return &window{max: max}
}

func (w *window) push(v float64) {
	w.samples = append(w.samples, v)
	if len(w.samples) > w.max {
		w.samples = w.samples[len(w.samples)-w.max:]
	}
}

func (w *window) avg() (float64, bool) {
	if len(w.samples) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range w.samples {
		sum += v
	}
	return sum / float64(len(w.samples)), true
}

// Counters are the cumulative command counters.
type Counters struct {
	Total   uint64 `json:"total"`
	Success uint64 `json:"success"`
	Failed  uint64 `json:"failed"`
	Timeout uint64 `json:"timeout"`
}

// Signal is one classified health dimension in a report.
type Signal struct {
	Status Status  `json:"status"`
	Avg    float64 `json:"avg"`
}

// Report is a point-in-time health summary.
type Report struct {
	Status           Status   `json:"status"`
	CPU              Signal   `json:"cpu"`
	Memory           Signal   `json:"memory"`
	HeartbeatLatency Signal   `json:"heartbeat_latency"`
	CommandSuccess   Signal   `json:"command_success"`
	Counters         Counters `json:"counters"`
	WatchdogRestarts int      `json:"watchdog_restarts,omitempty"`
	SampledAt        string   `json:"sampled_at"`
	UptimeSeconds    float64  `json:"uptime_seconds"`
	RegisteredSince  string   `json:"registered_since,omitempty"`
	LastSampleError  string   `json:"last_sample_error,omitempty"`
}

// Monitor owns the rolling windows and counters. Sample is driven by the
// agent's maintenance scheduler at the configured cadence.
type Monitor struct {
	cfg   config.HealthConfig
	proc  *process.Process
	start time.Time

	mu        sync.Mutex
	cpu       *window
	mem       *window
	latency   *window
	cmdTimes  *window
	sampleErr string

	total   atomic.Uint64
	success atomic.Uint64
	failed  atomic.Uint64
	timeout atomic.Uint64

	restarts atomic.Int64
}

// NewMonitor creates a monitor bound to the current process.
func NewMonitor(cfg config.HealthConfig) (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Monitor{
		cfg:      cfg,
		proc:     proc,
		start:    time.Now(),
		cpu:      newWindow(cfg.SampleWindow),
		mem:      newWindow(cfg.SampleWindow),
		latency:  newWindow(cfg.SampleWindow),
		cmdTimes: newWindow(cfg.SampleWindow),
	}, nil
}

// Sample takes one CPU/memory reading. Sampling failures are recorded in
// the report, not returned; a health probe must never take the agent down.
func (m *Monitor) Sample() {
	cpuPct, cpuErr := m.proc.CPUPercent()
	memInfo, memErr := m.proc.MemoryInfo()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampleErr = ""
	if cpuErr != nil {
		m.sampleErr = cpuErr.Error()
	} else {
		m.cpu.push(cpuPct)
	}
	if memErr != nil {
		m.sampleErr = memErr.Error()
	} else if memInfo != nil {
		m.mem.push(float64(memInfo.RSS) / (1024 * 1024))
	}
}

// RecordHeartbeatLatency feeds one broker round-trip measurement.
func (m *Monitor) RecordHeartbeatLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency.push(float64(d.Milliseconds()))
}

// RecordCommand feeds one finished command's outcome and duration.
func (m *Monitor) RecordCommand(outcome CommandOutcome, d time.Duration) {
	m.total.Add(1)
	switch outcome {
	case OutcomeSuccess:
		m.success.Add(1)
	case OutcomeTimeout:
		m.timeout.Add(1)
	default:
		m.failed.Add(1)
	}

	m.mu.Lock()
	m.cmdTimes.push(float64(d.Milliseconds()))
	m.mu.Unlock()
}

// RecordRestart counts a watchdog-driven restart for the report.
func (m *Monitor) RecordRestart() { m.restarts.Add(1) }

// Report classifies every signal and aggregates the worst.
func (m *Monitor) Report() Report {
	m.mu.Lock()
	cpuAvg, cpuOK := m.cpu.avg()
	memAvg, memOK := m.mem.avg()
	latAvg, latOK := m.latency.avg()
	sampleErr := m.sampleErr
	m.mu.Unlock()

	counters := Counters{
		Total:   m.total.Load(),
		Success: m.success.Load(),
		Failed:  m.failed.Load(),
		Timeout: m.timeout.Load(),
	}

	rep := Report{
		Status:           StatusOK,
		Counters:         counters,
		WatchdogRestarts: int(m.restarts.Load()),
		SampledAt:        time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds:    time.Since(m.start).Seconds(),
		LastSampleError:  sampleErr,
	}

	rep.CPU = classify(cpuAvg, cpuOK, m.cfg.CPUDegradedPct, m.cfg.CPUUnhealthyPct)
	rep.Memory = classify(memAvg, memOK, float64(m.cfg.MemDegradedMB), float64(m.cfg.MemUnhealthyMB))
	rep.HeartbeatLatency = classify(latAvg, latOK, float64(m.cfg.LatencyDegradedMS), float64(m.cfg.LatencyUnhealthyMS))
	rep.CommandSuccess = m.classifySuccessRate(counters)

	rep.Status = worst(rep.Status, rep.CPU.Status)
	rep.Status = worst(rep.Status, rep.Memory.Status)
	rep.Status = worst(rep.Status, rep.HeartbeatLatency.Status)
	rep.Status = worst(rep.Status, rep.CommandSuccess.Status)
	return rep
}

// classify maps an average against its thresholds; a signal with no
// samples yet is ok.
func classify(avg float64, haveSamples bool, degraded, unhealthy float64) Signal {
	s := Signal{Status: StatusOK, Avg: avg}
	if !haveSamples {
		return s
	}
	switch {
	case avg >= unhealthy:
		s.Status = StatusUnhealthy
	case avg >= degraded:
		s.Status = StatusDegraded
	}
	return s
}

// classifySuccessRate is inverted: lower is worse.
func (m *Monitor) classifySuccessRate(c Counters) Signal {
	if c.Total == 0 {
		return Signal{Status: StatusOK, Avg: 1}
	}
	rate := float64(c.Success) / float64(c.Total)
	s := Signal{Status: StatusOK, Avg: rate}
	switch {
	case rate < m.cfg.SuccessRateUnhealthy:
		s.Status = StatusUnhealthy
	case rate < m.cfg.SuccessRateDegraded:
		s.Status = StatusDegraded
	}
	return s
}
