package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"deskctl/internal/automation"
	"deskctl/internal/config"
	"deskctl/internal/protocol"
)

// NewCtlRootCmd builds the operator CLI's command tree.
func NewCtlRootCmd() *cobra.Command {
	var flags GlobalFlags
	var cfg *config.Config
	var brokerURL string

	rootCmd := &cobra.Command{
		Use:           "deskctl",
		Short:         "Operator CLI for the desktop automation broker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			var err error
			cfg, err = bootstrap(&flags)
			if err != nil {
				return err
			}
			if brokerURL == "" {
				brokerURL = cfg.Agent.BrokerURL
			}
			return nil
		},
	}
	addGlobalFlags(rootCmd, &flags)
	rootCmd.PersistentFlags().StringVar(&brokerURL, "broker", "", "broker websocket URL (default from config)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print live connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctlList(brokerURL)
		},
	}

	testCmd := &cobra.Command{
		Use:   "test <client_id>",
		Short: "Send a trivial command to a client and report the round-trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctlTest(brokerURL, args[0])
		},
	}

	var paramsJSON string
	var timeoutS float64
	commandCmd := &cobra.Command{
		Use:   "command <target> <name>",
		Short: "Run a one-shot command on a target agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctlCommand(brokerURL, args[0], args[1], paramsJSON, timeoutS)
		},
	}
	commandCmd.Flags().StringVar(&paramsJSON, "json", "", "command parameters as JSON")
	commandCmd.Flags().Float64Var(&timeoutS, "timeout", 30, "per-command timeout in seconds")

	batchCmd := &cobra.Command{
		Use:   "batch <target> <file>",
		Short: "Run a sequence of commands from a file (one JSON object per line)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctlBatch(brokerURL, args[0], args[1], timeoutS)
		},
	}
	batchCmd.Flags().Float64Var(&timeoutS, "timeout", 30, "per-command timeout in seconds")

	var contentHwnd uint64
	var contentApp string
	contentCmd := &cobra.Command{
		Use:   "content <target>",
		Short: "Extract the readable text of a remote window",
		Long: "content composes the agent's primitives from the manager side:\n" +
			"find the application window, walk its accessibility tree, and\n" +
			"flatten the readable text. There is no dedicated agent handler.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctlContent(brokerURL, args[0], contentHwnd, contentApp, timeoutS)
		},
	}
	contentCmd.Flags().Uint64Var(&contentHwnd, "hwnd", 0, "window handle (skips window discovery)")
	contentCmd.Flags().StringVar(&contentApp, "app", "cursor", "application name to find when no hwnd is given")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := cfg.Dump()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.ConfigPath
			if path == "" {
				var err error
				path, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(commandCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(contentCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(NewVersionCmd("deskctl"))
	return rootCmd
}

func dialOrExit(brokerURL string) (*ManagerClient, error) {
	client, err := DialManager(brokerURL, UserSession()+"_ctl")
	if err != nil {
		return nil, &ExitError{Code: 2, Err: err}
	}
	return client, nil
}

func resolveTarget(client *ManagerClient, target string) (uint64, error) {
	if id, err := strconv.ParseUint(target, 10, 64); err == nil {
		return id, nil
	}
	// Not numeric: treat it as a user_session label.
	agent, err := client.FindAgentBySession(target)
	if err != nil {
		return 0, &ExitError{Code: 3, Err: err}
	}
	return agent.ID, nil
}

func ctlList(brokerURL string) error {
	client, err := dialOrExit(brokerURL)
	if err != nil {
		return err
	}
	defer client.Close()

	clients, err := client.ListClients()
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	fmt.Printf("%-6s %-8s %-20s %-25s %s\n", "ID", "ROLE", "SESSION", "LAST HEARTBEAT", "CAPABILITIES")
	for _, c := range clients {
		caps := make([]string, 0, len(c.Capabilities))
		for name, on := range c.Capabilities {
			if on {
				caps = append(caps, name)
			}
		}
		fmt.Printf("%-6d %-8s %-20s %-25s %s\n", c.ID, c.Role, c.UserSession, c.LastHeartbeat, strings.Join(caps, ","))
	}
	return nil
}

func ctlTest(brokerURL, target string) error {
	client, err := dialOrExit(brokerURL)
	if err != nil {
		return err
	}
	defer client.Close()

	id, err := resolveTarget(client, target)
	if err != nil {
		return err
	}

	start := time.Now()
	env, err := client.SendCommand(id, &protocol.Command{Command: "ping"}, 10*time.Second)
	if err != nil {
		if err == ErrNoSuchTarget {
			return &ExitError{Code: 3, Err: err}
		}
		return &ExitError{Code: 5, Err: err}
	}
	rtt := time.Since(start)

	if !env.Success {
		return &ExitError{Code: 4, Err: fmt.Errorf("test command failed: %s", env.Error.Message)}
	}
	fmt.Printf("client %d ok, round-trip %s\n", id, rtt.Round(time.Millisecond))
	return nil
}

func ctlCommand(brokerURL, target, name, paramsJSON string, timeoutS float64) error {
	var params map[string]any
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			return fmt.Errorf("--json: %w", err)
		}
	}

	client, err := dialOrExit(brokerURL)
	if err != nil {
		return err
	}
	defer client.Close()

	id, err := resolveTarget(client, target)
	if err != nil {
		return err
	}

	env, err := client.SendCommand(id, &protocol.Command{
		Command:  name,
		Params:   params,
		TimeoutS: timeoutS,
	}, time.Duration(timeoutS*float64(time.Second))+5*time.Second)
	if err != nil {
		if err == ErrNoSuchTarget {
			return &ExitError{Code: 3, Err: err}
		}
		return &ExitError{Code: 5, Err: err}
	}

	printEnvelope(env)
	if !env.Success {
		return &ExitError{Code: 4, Err: fmt.Errorf("%s failed: %s", name, env.Error.Message)}
	}
	return nil
}

// ctlBatch runs commands from a file: each non-empty, non-comment line is
// a JSON object {"command": ..., "params": ...}. The batch stops at the
// first failure.
func ctlBatch(brokerURL, target, path string, timeoutS float64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open batch file: %w", err)
	}
	defer f.Close()

	client, err := dialOrExit(brokerURL)
	if err != nil {
		return err
	}
	defer client.Close()

	id, err := resolveTarget(client, target)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var cmd protocol.Command
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			return fmt.Errorf("batch line %d: %w", lineNo, err)
		}
		if cmd.TimeoutS == 0 {
			cmd.TimeoutS = timeoutS
		}

		fmt.Printf("[%d] %s\n", lineNo, cmd.Command)
		env, err := client.SendCommand(id, &cmd, time.Duration(cmd.TimeoutS*float64(time.Second))+5*time.Second)
		if err != nil {
			if err == ErrNoSuchTarget {
				return &ExitError{Code: 3, Err: err}
			}
			return &ExitError{Code: 5, Err: fmt.Errorf("batch line %d: %w", lineNo, err)}
		}
		printEnvelope(env)
		if !env.Success {
			return &ExitError{Code: 4, Err: fmt.Errorf("batch line %d: %s failed: %s", lineNo, cmd.Command, env.Error.Message)}
		}
	}
	return scanner.Err()
}

// ctlContent composes window discovery, the UIA walk, and text
// extraction from the manager side.
func ctlContent(brokerURL, target string, hwnd uint64, app string, timeoutS float64) error {
	client, err := dialOrExit(brokerURL)
	if err != nil {
		return err
	}
	defer client.Close()

	id, err := resolveTarget(client, target)
	if err != nil {
		return err
	}
	timeout := time.Duration(timeoutS*float64(time.Second)) + 5*time.Second

	if hwnd == 0 {
		env, err := client.SendCommand(id, &protocol.Command{
			Command: "find_cursor_windows",
			Params:  map[string]any{"name": app},
		}, timeout)
		if err != nil {
			return &ExitError{Code: 5, Err: err}
		}
		if !env.Success {
			return &ExitError{Code: 4, Err: fmt.Errorf("window discovery failed: %s", env.Error.Message)}
		}
		var found automation.AppWindows
		if err := json.Unmarshal(env.Data, &found); err != nil {
			return fmt.Errorf("decode window list: %w", err)
		}
		if len(found.Matches) == 0 {
			return &ExitError{Code: 4, Err: fmt.Errorf("no %s window found (%d candidates)", app, len(found.Candidates))}
		}
		hwnd = uint64(found.Matches[0].HWND)
	}

	env, err := client.SendCommand(id, &protocol.Command{
		Command: "get_window_uia_structure",
		Params:  map[string]any{"hwnd": hwnd},
	}, timeout)
	if err != nil {
		return &ExitError{Code: 5, Err: err}
	}
	if !env.Success {
		return &ExitError{Code: 4, Err: fmt.Errorf("tree walk failed: %s", env.Error.Message)}
	}

	var payload struct {
		Tree *automation.UIANode `json:"tree"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("decode tree: %w", err)
	}
	if payload.Tree == nil {
		return &ExitError{Code: 4, Err: fmt.Errorf("agent returned no tree")}
	}

	fmt.Println(automation.JoinTexts(automation.CollectTexts(payload.Tree)))
	return nil
}

func printEnvelope(env *protocol.Envelope) {
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", env)
		return
	}
	fmt.Println(string(out))
}
