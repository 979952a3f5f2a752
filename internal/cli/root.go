// Package cli builds the cobra command trees for the three binaries:
// deskctl-broker, deskctl-agent, and the operator CLI deskctl.
package cli

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"deskctl/internal/config"
	"deskctl/pkg/logger"
)

// GlobalFlags are the persistent flags every binary carries.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

// ExitError carries the operator-CLI exit codes: 0 success, 2 connect
// failure, 3 target missing, 4 command failed, 5 timeout.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*ExitError); ok {
		return exitErr.Code
	}
	return 1
}

// bootstrap loads config and initializes the logger; every subcommand's
// PersistentPreRunE funnels through it. The agent re-initializes the
// logger afterwards to attach its log ring, whose size comes from the
// loaded config.
func bootstrap(flags *GlobalFlags) (*config.Config, error) {
	configPath := flags.ConfigPath
	if configPath == "" {
		var err error
		configPath, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyPortOverride(cfg)

	logLevel := cfg.Log.Level
	if flags.Verbose {
		logLevel = "debug"
	}
	if flags.Quiet {
		logLevel = "error"
	}

	if err := logger.Init(logger.LogConfig{
		Level:  logLevel,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyPortOverride honors the DESKCTL_PORT environment variable on both
// the broker's listen address and the agent's broker URL.
func applyPortOverride(cfg *config.Config) {
	port := os.Getenv("DESKCTL_PORT")
	if port == "" {
		return
	}
	if host, _, err := net.SplitHostPort(cfg.Broker.ListenAddr); err == nil {
		cfg.Broker.ListenAddr = net.JoinHostPort(host, port)
	}
	cfg.Agent.BrokerURL = fmt.Sprintf("ws://127.0.0.1:%s/connect", port)
}

func addGlobalFlags(cmd *cobra.Command, flags *GlobalFlags) {
	cmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "quiet mode")
}
