package agentrt

import (
	"context"
	"fmt"
	"os"

	"deskctl/internal/config"
	"deskctl/internal/procmgr"
	"deskctl/pkg/logger"
)

const watchdogProcName = "agent"

// RunWatchdog supervises the agent binary as a child process, restarting
// it on crash within the configured budget (default 5 restarts per 5
// minutes). When the budget is exhausted the watchdog exits non-zero and
// does not respawn — a crash-looping agent is an operator problem, not
// something to retry forever.
func RunWatchdog(ctx context.Context, cfg config.AgentConfig, childArgs []string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("agentrt: resolve own binary: %w", err)
	}

	mgr := procmgr.NewManager()
	defer mgr.StopAll()

	err = mgr.Start(&procmgr.ProcessConfig{
		Name:          watchdogProcName,
		Path:          exe,
		Args:          childArgs,
		MaxRestarts:   cfg.MaxRestarts,
		RestartWindow: cfg.RestartWindow,
		RestartDelay:  cfg.RestartDelay,
		Hidden:        true,
	})
	if err != nil {
		return fmt.Errorf("agentrt: start agent child: %w", err)
	}

	proc, _ := mgr.GetProcess(watchdogProcName)
	logger.Named("watchdog").Info().
		Str("binary", exe).
		Int("max_restarts", cfg.MaxRestarts).
		Dur("window", cfg.RestartWindow).
		Msg("watchdog supervising agent")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-proc.Exhausted():
		return fmt.Errorf("agentrt: agent exceeded restart budget (%d in %s)",
			cfg.MaxRestarts, cfg.RestartWindow)
	}
}
