// Package config provides viper-backed configuration for the broker, agent,
// and operator CLI binaries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration shared by all three binaries. Each
// binary only reads the sections relevant to it.
type Config struct {
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Broker     BrokerConfig     `mapstructure:"broker" yaml:"broker"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
	Health     HealthConfig     `mapstructure:"health" yaml:"health"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler" yaml:"scheduler"`
}

// LogConfig controls the process-global zerolog sink (pkg/logger) and the
// agent's in-memory log ring buffer.
type LogConfig struct {
	Level    string `mapstructure:"level" yaml:"level"`         // debug, info, warn, error
	Format   string `mapstructure:"format" yaml:"format"`       // console, json
	File     string `mapstructure:"file" yaml:"file"`           // empty means no file sink
	RingSize int    `mapstructure:"ring_size" yaml:"ring_size"` // capacity of the agent's in-memory log ring
}

// DefaultLogConfig returns the default log configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:    "info",
		Format:   "console",
		File:     "",
		RingSize: 1000,
	}
}

// BrokerConfig controls the broker's listen address and connection
// lifecycle parameters.
type BrokerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	AdminListenAddr       string        `mapstructure:"admin_listen_addr" yaml:"admin_listen_addr"`
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	LivenessSweepInterval time.Duration `mapstructure:"liveness_sweep_interval" yaml:"liveness_sweep_interval"`
	DeadTimeout           time.Duration `mapstructure:"dead_timeout" yaml:"dead_timeout"`
	OutboundQueueSize     int           `mapstructure:"outbound_queue_size" yaml:"outbound_queue_size"`
	PendingRequestTimeout time.Duration `mapstructure:"pending_request_timeout" yaml:"pending_request_timeout"`
}

// DefaultBrokerConfig returns the default broker configuration:
// heartbeats every 10s, liveness sweep every 15s, a connection declared
// dead after 60s of silence.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		ListenAddr:            "0.0.0.0:9998",
		AdminListenAddr:       "127.0.0.1:9999",
		HeartbeatInterval:     10 * time.Second,
		LivenessSweepInterval: 15 * time.Second,
		DeadTimeout:           60 * time.Second,
		OutboundQueueSize:     256,
		PendingRequestTimeout: 30 * time.Second,
	}
}

// DispatcherConfig controls the handler registry's concurrency-class pool
// sizes and hot-reload behavior.
type DispatcherConfig struct {
	IOLightWorkers    int           `mapstructure:"io_light_workers" yaml:"io_light_workers"`
	GUIExclusiveSlots int           `mapstructure:"gui_exclusive_slots" yaml:"gui_exclusive_slots"`
	BlockingWorkers   int           `mapstructure:"blocking_workers" yaml:"blocking_workers"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	PluginDir         string        `mapstructure:"plugin_dir" yaml:"plugin_dir"`
	ReloadDebounce    time.Duration `mapstructure:"reload_debounce" yaml:"reload_debounce"`
	MinHostVersion    string        `mapstructure:"min_host_version" yaml:"min_host_version"`
}

// DefaultDispatcherConfig returns the default dispatcher configuration.
// gui_exclusive is pinned at 1 slot: the desktop only has one foreground
// window and one cursor, so GUI-mutating handlers must serialize.
func DefaultDispatcherConfig() DispatcherConfig {
	pluginDir, _ := DefaultPluginDir()
	return DispatcherConfig{
		IOLightWorkers:    4,
		GUIExclusiveSlots: 1,
		BlockingWorkers:   2,
		DefaultTimeout:    10 * time.Second,
		PluginDir:         pluginDir,
		ReloadDebounce:    500 * time.Millisecond,
		MinHostVersion:    "1.0.0",
	}
}

// HealthConfig controls the agent's rolling CPU/memory/heartbeat-latency
// sampling and its degraded/unhealthy thresholds.
type HealthConfig struct {
	SampleInterval       time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`
	SampleWindow         int           `mapstructure:"sample_window" yaml:"sample_window"`
	CPUDegradedPct       float64       `mapstructure:"cpu_degraded_pct" yaml:"cpu_degraded_pct"`
	CPUUnhealthyPct      float64       `mapstructure:"cpu_unhealthy_pct" yaml:"cpu_unhealthy_pct"`
	MemDegradedMB        uint64        `mapstructure:"mem_degraded_mb" yaml:"mem_degraded_mb"`
	MemUnhealthyMB       uint64        `mapstructure:"mem_unhealthy_mb" yaml:"mem_unhealthy_mb"`
	LatencyDegradedMS    int64         `mapstructure:"latency_degraded_ms" yaml:"latency_degraded_ms"`
	LatencyUnhealthyMS   int64         `mapstructure:"latency_unhealthy_ms" yaml:"latency_unhealthy_ms"`
	SuccessRateDegraded  float64       `mapstructure:"success_rate_degraded" yaml:"success_rate_degraded"`
	SuccessRateUnhealthy float64       `mapstructure:"success_rate_unhealthy" yaml:"success_rate_unhealthy"`
}

// DefaultHealthConfig returns the default health monitor configuration: a
// 12-sample rolling window taken every 5 seconds (1 minute of history).
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		SampleInterval:       5 * time.Second,
		SampleWindow:         12,
		CPUDegradedPct:       80,
		CPUUnhealthyPct:      95,
		MemDegradedMB:        512,
		MemUnhealthyMB:       1024,
		LatencyDegradedMS:    2000,
		LatencyUnhealthyMS:   10000,
		SuccessRateDegraded:  0.8,
		SuccessRateUnhealthy: 0.5,
	}
}

// AgentConfig controls the agent runtime's connection, watchdog, and
// single-instance-guard behavior.
type AgentConfig struct {
	BrokerURL          string        `mapstructure:"broker_url" yaml:"broker_url"`
	ReconnectInitial   time.Duration `mapstructure:"reconnect_initial" yaml:"reconnect_initial"`
	ReconnectMax       time.Duration `mapstructure:"reconnect_max" yaml:"reconnect_max"`
	ReconnectJitterPct float64       `mapstructure:"reconnect_jitter_pct" yaml:"reconnect_jitter_pct"`
	LockFile           string        `mapstructure:"lock_file" yaml:"lock_file"`
	MaxRestarts        int           `mapstructure:"max_restarts" yaml:"max_restarts"`
	RestartWindow      time.Duration `mapstructure:"restart_window" yaml:"restart_window"`
	RestartDelay       time.Duration `mapstructure:"restart_delay" yaml:"restart_delay"`
}

// DefaultAgentConfig returns the default agent configuration. The
// watchdog allows at most 5 restarts inside a 5-minute sliding window
// before giving up on a crash-looping agent.
func DefaultAgentConfig() AgentConfig {
	configDir, _ := DefaultConfigDir()
	lockFile := ""
	if configDir != "" {
		lockFile = configDir + string(os.PathSeparator) + "agent.lock"
	}
	return AgentConfig{
		BrokerURL:          "ws://127.0.0.1:9998/connect",
		ReconnectInitial:   1 * time.Second,
		ReconnectMax:       30 * time.Second,
		ReconnectJitterPct: 0.2,
		LockFile:           lockFile,
		MaxRestarts:        5,
		RestartWindow:      5 * time.Minute,
		RestartDelay:       1 * time.Second,
	}
}

// AutomationConfig controls the GUI-automation core: element scoring
// thresholds, position-memory staleness, and the UIA tree-walk depth bound.
type AutomationConfig struct {
	PositionMemoryPath string  `mapstructure:"position_memory_path" yaml:"position_memory_path"`
	ScoreThreshold     float64 `mapstructure:"score_threshold" yaml:"score_threshold"`
	StaleAfterFailures int     `mapstructure:"stale_after_failures" yaml:"stale_after_failures"`
	MaxTreeDepth       int     `mapstructure:"max_tree_depth" yaml:"max_tree_depth"`

	// OCRServiceURL points at the external detect_text endpoint; empty
	// disables OCR-backed handlers and validation.
	OCRServiceURL string `mapstructure:"ocr_service_url" yaml:"ocr_service_url"`
	OCREngineName string `mapstructure:"ocr_engine_name" yaml:"ocr_engine_name"`
}

// DefaultAutomationConfig returns the default automation configuration.
func DefaultAutomationConfig() AutomationConfig {
	posPath, _ := DefaultPositionMemoryPath()
	return AutomationConfig{
		PositionMemoryPath: posPath,
		ScoreThreshold:     0.5,
		StaleAfterFailures: 3,
		MaxTreeDepth:       15,
		OCREngineName:      "remote",
	}
}

// SchedulerConfig controls the cadence of the broker's and agent's periodic
// maintenance jobs.
type SchedulerConfig struct {
	PositionMemorySnapshotInterval time.Duration `mapstructure:"position_memory_snapshot_interval" yaml:"position_memory_snapshot_interval"`
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PositionMemorySnapshotInterval: 1 * time.Minute,
	}
}

// Default returns a fully populated Config using every subsystem's default
// constructor.
func Default() *Config {
	return &Config{
		Log:        DefaultLogConfig(),
		Broker:     DefaultBrokerConfig(),
		Dispatcher: DefaultDispatcherConfig(),
		Health:     DefaultHealthConfig(),
		Agent:      DefaultAgentConfig(),
		Automation: DefaultAutomationConfig(),
		Scheduler:  DefaultSchedulerConfig(),
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.ring_size", d.Log.RingSize)

	v.SetDefault("broker.listen_addr", d.Broker.ListenAddr)
	v.SetDefault("broker.admin_listen_addr", d.Broker.AdminListenAddr)
	v.SetDefault("broker.heartbeat_interval", d.Broker.HeartbeatInterval)
	v.SetDefault("broker.liveness_sweep_interval", d.Broker.LivenessSweepInterval)
	v.SetDefault("broker.dead_timeout", d.Broker.DeadTimeout)
	v.SetDefault("broker.outbound_queue_size", d.Broker.OutboundQueueSize)
	v.SetDefault("broker.pending_request_timeout", d.Broker.PendingRequestTimeout)

	v.SetDefault("dispatcher.io_light_workers", d.Dispatcher.IOLightWorkers)
	v.SetDefault("dispatcher.gui_exclusive_slots", d.Dispatcher.GUIExclusiveSlots)
	v.SetDefault("dispatcher.blocking_workers", d.Dispatcher.BlockingWorkers)
	v.SetDefault("dispatcher.default_timeout", d.Dispatcher.DefaultTimeout)
	v.SetDefault("dispatcher.plugin_dir", d.Dispatcher.PluginDir)
	v.SetDefault("dispatcher.reload_debounce", d.Dispatcher.ReloadDebounce)
	v.SetDefault("dispatcher.min_host_version", d.Dispatcher.MinHostVersion)

	v.SetDefault("health.sample_interval", d.Health.SampleInterval)
	v.SetDefault("health.sample_window", d.Health.SampleWindow)
	v.SetDefault("health.cpu_degraded_pct", d.Health.CPUDegradedPct)
	v.SetDefault("health.cpu_unhealthy_pct", d.Health.CPUUnhealthyPct)
	v.SetDefault("health.mem_degraded_mb", d.Health.MemDegradedMB)
	v.SetDefault("health.mem_unhealthy_mb", d.Health.MemUnhealthyMB)
	v.SetDefault("health.latency_degraded_ms", d.Health.LatencyDegradedMS)
	v.SetDefault("health.latency_unhealthy_ms", d.Health.LatencyUnhealthyMS)
	v.SetDefault("health.success_rate_degraded", d.Health.SuccessRateDegraded)
	v.SetDefault("health.success_rate_unhealthy", d.Health.SuccessRateUnhealthy)

	v.SetDefault("agent.broker_url", d.Agent.BrokerURL)
	v.SetDefault("agent.reconnect_initial", d.Agent.ReconnectInitial)
	v.SetDefault("agent.reconnect_max", d.Agent.ReconnectMax)
	v.SetDefault("agent.reconnect_jitter_pct", d.Agent.ReconnectJitterPct)
	v.SetDefault("agent.lock_file", d.Agent.LockFile)
	v.SetDefault("agent.max_restarts", d.Agent.MaxRestarts)
	v.SetDefault("agent.restart_window", d.Agent.RestartWindow)
	v.SetDefault("agent.restart_delay", d.Agent.RestartDelay)

	v.SetDefault("automation.position_memory_path", d.Automation.PositionMemoryPath)
	v.SetDefault("automation.score_threshold", d.Automation.ScoreThreshold)
	v.SetDefault("automation.stale_after_failures", d.Automation.StaleAfterFailures)
	v.SetDefault("automation.max_tree_depth", d.Automation.MaxTreeDepth)
	v.SetDefault("automation.ocr_service_url", d.Automation.OCRServiceURL)
	v.SetDefault("automation.ocr_engine_name", d.Automation.OCREngineName)

	v.SetDefault("scheduler.position_memory_snapshot_interval", d.Scheduler.PositionMemorySnapshotInterval)
}

// Load reads configuration from path (YAML), falling back to defaults for
// any key the file doesn't set. A missing file is not an error: Load
// returns pure defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return nil, fmt.Errorf("read config %s: %w", path, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Dump renders the effective configuration as YAML, for the `config`
// subcommand and for writing a starter config file.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault writes a fully populated default config file at path,
// refusing to overwrite an existing one.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	data, err := Default().Dump()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
