package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"deskctl/internal/agentrt"
	"deskctl/internal/automation"
	"deskctl/internal/config"
	"deskctl/internal/dispatcher"
	"deskctl/internal/health"
	"deskctl/internal/hooks"
	"deskctl/internal/hooks/builtin"
	"deskctl/internal/jsvm"
	"deskctl/internal/jsvm/hostapi"
	"deskctl/internal/logring"
	"deskctl/internal/protocol"
	"deskctl/internal/scheduler"
	"deskctl/pkg/logger"
)

// NewAgentRootCmd builds the agent binary's command tree.
func NewAgentRootCmd() *cobra.Command {
	var flags GlobalFlags
	var cfg *config.Config
	var noWatchdog bool
	var supervised bool

	rootCmd := &cobra.Command{
		Use:           "deskctl-agent",
		Short:         "Desktop automation agent running inside a user session",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			var err error
			cfg, err = bootstrap(&flags)
			return err
		},
	}
	addGlobalFlags(rootCmd, &flags)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent (under the watchdog unless --no-watchdog)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if supervised || noWatchdog {
				return runAgent(cmd.Context(), cfg)
			}
			// Watchdog mode: supervise ourselves as a child with the
			// crash-restart budget.
			childArgs := []string{"run", "--supervised"}
			if flags.ConfigPath != "" {
				childArgs = append(childArgs, "--config", flags.ConfigPath)
			}
			if flags.Verbose {
				childArgs = append(childArgs, "--verbose")
			}
			return agentrt.RunWatchdog(cmd.Context(), cfg.Agent, childArgs)
		},
	}
	runCmd.Flags().BoolVar(&noWatchdog, "no-watchdog", false, "run without the watchdog parent")
	runCmd.Flags().BoolVar(&supervised, "supervised", false, "internal: this process is the watchdog's child")
	_ = runCmd.Flags().MarkHidden("supervised")

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Ask the running agent for this session to restart",
		RunE: func(cmd *cobra.Command, args []string) error {
			return requestAgentRestart(cfg)
		},
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(NewVersionCmd("deskctl-agent"))
	return rootCmd
}

// runAgent is the agent composition root: single-instance guard, log
// ring, dispatcher with native and scripted handlers, health monitor,
// maintenance scheduler, and the broker connection loop.
func runAgent(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := UserSession()

	lock := agentrt.NewInstanceLock(session, cfg.Agent.LockFile)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	// Re-initialize logging with the in-memory ring attached, now that
	// the ring size is known.
	ring := logring.New(cfg.Log.RingSize)
	if err := logger.Init(logger.LogConfig{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		File:      cfg.Log.File,
		ExtraSink: ring,
	}); err != nil {
		return err
	}
	defer logger.Close()

	monitor, err := health.NewMonitor(cfg.Health)
	if err != nil {
		return fmt.Errorf("health monitor: %w", err)
	}

	registry := dispatcher.NewRegistry(dispatcher.PoolSizes{
		IOLight:      cfg.Dispatcher.IOLightWorkers,
		GUIExclusive: cfg.Dispatcher.GUIExclusiveSlots,
		Blocking:     cfg.Dispatcher.BlockingWorkers,
	})

	driver, err := automation.NewDriver()
	if err != nil {
		return fmt.Errorf("automation driver: %w", err)
	}

	memory := automation.NewPositionMemory(cfg.Automation.StaleAfterFailures)
	if err := memory.Load(cfg.Automation.PositionMemoryPath); err != nil {
		logger.Warn().Err(err).Msg("position memory snapshot unreadable, starting fresh")
	}

	// Scripted handlers: goja runtime + plugin dir watcher.
	runtime := jsvm.NewRuntime(jsvm.DefaultRuntimeConfig(), hostapi.NewMemStore(), *logger.Named("jsvm"))
	defer runtime.Close()

	loader, err := jsvm.NewLoader(runtime, registry, cfg.Dispatcher.PluginDir, Version,
		cfg.Dispatcher.ReloadDebounce, *logger.Named("jsvm"))
	if err != nil {
		return err
	}
	defer loader.Close()
	if err := loader.Load(); err != nil {
		logger.Warn().Err(err).Msg("plugin scan failed")
	}
	if err := loader.Watch(); err != nil {
		logger.Debug().Err(err).Msg("plugin watch unavailable")
	}

	restart := func(reason string) error {
		_ = memory.Save(cfg.Automation.PositionMemoryPath)
		_ = logger.Close()
		_ = lock.Release()
		return reexecSelf()
	}

	var ocr *automation.OCRFacade
	if cfg.Automation.OCRServiceURL != "" {
		name := cfg.Automation.OCREngineName
		if name == "" {
			name = "remote"
		}
		ocr = automation.NewOCRFacade(name, automation.NewHTTPOCREngine(name, cfg.Automation.OCRServiceURL))
	}

	if err := automation.RegisterHandlers(registry, automation.HandlersConfig{
		Driver:         driver,
		Memory:         memory,
		OCR:            ocr,
		Health:         monitor,
		LogRing:        ring,
		Loader:         loader,
		Restart:        restart,
		MaxTreeDepth:   cfg.Automation.MaxTreeDepth,
		ScoreThreshold: cfg.Automation.ScoreThreshold,
		Input:          automation.DefaultInputConfig(),
	}); err != nil {
		return err
	}

	// Dispatch lifecycle hooks: logging, audit trail, rate limiting.
	hookMgr := hooks.NewManager()
	before, after := builtin.LoggingHandlers()
	_ = hookMgr.Register(hooks.HookBeforeDispatch, before)
	_ = hookMgr.Register(hooks.HookAfterDispatch, after)
	_ = hookMgr.Register(hooks.HookBeforeDispatch, builtin.NewRateLimiter(20, 60).Handler())
	if dir, err := config.DefaultConfigDir(); err == nil {
		trail := builtin.NewAuditTrail(filepath.Join(dir, "audit.jsonl"))
		_ = hookMgr.Register(hooks.HookAfterDispatch, trail.Handler())
	}
	hookMgr.TriggerStartup(ctx)
	defer hookMgr.TriggerShutdown(context.Background())

	// Maintenance cadences: health sampling and the position-memory
	// snapshot.
	sched := scheduler.New(20)
	_ = sched.AddEvery("health_sample", cfg.Health.SampleInterval, func(ctx context.Context) error {
		monitor.Sample()
		return nil
	})
	_ = sched.AddJob(&scheduler.Job{
		Name:     "position_memory_snapshot",
		Interval: cfg.Scheduler.PositionMemorySnapshotInterval,
		Retry:    scheduler.DefaultRetryPolicy(),
	}, func(ctx context.Context) error {
		return memory.Save(cfg.Automation.PositionMemoryPath)
	})
	sched.Start()
	defer sched.Stop()

	client := agentrt.NewClient(agentrt.Options{
		Config:      cfg.Agent,
		UserSession: session,
		Capabilities: map[string]bool{
			"control":        true,
			"vscode_control": true,
			"hot_reload":     true,
		},
		Registry:          registry,
		Hooks:             hookMgr,
		Health:            monitor,
		HeartbeatInterval: cfg.Broker.HeartbeatInterval,
	})

	logger.Info().Str("session", session).Str("broker", cfg.Agent.BrokerURL).Msg("agent starting")
	err = client.Run(ctx)
	if err == context.Canceled {
		err = nil
	}

	_ = memory.Save(cfg.Automation.PositionMemoryPath)
	return err
}

// reexecSelf replaces this agent with a fresh copy of itself, preserving
// arguments.
func reexecSelf() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	os.Exit(0)
	return nil
}

// requestAgentRestart forwards restart_client to the agent registered
// under this session label.
func requestAgentRestart(cfg *config.Config) error {
	client, err := DialManager(cfg.Agent.BrokerURL, UserSession()+"_restart")
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	defer client.Close()

	agent, err := client.FindAgentBySession(UserSession())
	if err != nil {
		return &ExitError{Code: 3, Err: err}
	}

	env, err := client.SendCommand(agent.ID, &protocol.Command{
		Command: "restart_client",
		Params:  map[string]any{"reason": "operator restart"},
	}, 15*time.Second)
	if err != nil {
		return &ExitError{Code: 4, Err: err}
	}
	if !env.Success {
		return &ExitError{Code: 4, Err: fmt.Errorf("restart refused: %s", env.Error.Message)}
	}
	fmt.Println("restart requested")
	return nil
}
