package automation

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"deskctl/pkg/logger"
)

// LaunchResult reports a started (or completed) program.
type LaunchResult struct {
	PID      int    `json:"pid"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// ExecuteProgram starts a process in the agent's desktop session. With
// wait, it blocks until exit (bounded by ctx) and captures output; without,
// it detaches and returns the pid immediately. shell wraps the invocation
// in the platform shell so operators can use pipelines and builtins.
func ExecuteProgram(ctx context.Context, path string, args []string, wait, shell bool) (*LaunchResult, error) {
	var cmd *exec.Cmd
	if shell {
		line := path
		for _, a := range args {
			line += " " + a
		}
		if runtime.GOOS == "windows" {
			cmd = exec.CommandContext(ctx, "cmd", "/C", line)
		} else {
			cmd = exec.CommandContext(ctx, "sh", "-c", line)
		}
	} else {
		cmd = exec.CommandContext(ctx, path, args...)
	}

	if wait {
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		result := &LaunchResult{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
		if cmd.Process != nil {
			result.PID = cmd.Process.Pid
		}
		code := cmd.ProcessState.ExitCode()
		result.ExitCode = &code
		if err != nil {
			if _, isExit := err.(*exec.ExitError); !isExit {
				return nil, fmt.Errorf("automation: run %s: %w", path, err)
			}
		}
		return result, nil
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("automation: start %s: %w", path, err)
	}
	pid := cmd.Process.Pid
	// Reap the child in the background so it never zombies.
	go func() { _ = cmd.Wait() }()

	logger.Named("automation").Info().Str("path", path).Int("pid", pid).Msg("program launched")
	return &LaunchResult{PID: pid}, nil
}

// ListProcesses returns the running processes with their resource usage,
// via gopsutil.
func ListProcesses(ctx context.Context) ([]ProcessRecord, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ProcessRecord, 0, len(procs))
	for _, p := range procs {
		rec := ProcessRecord{PID: p.Pid}
		if name, err := p.NameWithContext(ctx); err == nil {
			rec.Name = name
		}
		if exe, err := p.ExeWithContext(ctx); err == nil {
			rec.Exe = exe
		}
		if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
			rec.CPUPct = cpu
		}
		if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			rec.MemMB = float64(mem.RSS) / (1024 * 1024)
		}
		out = append(out, rec)
	}
	return out, nil
}

// RestartFunc performs the agent-restart side effects: flush logs,
// release the single-instance lock, re-exec. The composition root wires
// the real one; handlers only schedule it.
type RestartFunc func(reason string) error

// ScheduleRestart invokes restart after delay in the background so the
// restart_client command can return its envelope before the process goes
// away.
func ScheduleRestart(restart RestartFunc, delay time.Duration, reason string) {
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		logger.Named("automation").Warn().Str("reason", reason).Msg("restarting agent")
		if err := restart(reason); err != nil {
			logger.Named("automation").Error().Err(err).Msg("restart failed")
			os.Exit(1)
		}
	}()
}
