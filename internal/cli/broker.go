package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"deskctl/internal/broker"
	"deskctl/internal/config"
	"deskctl/pkg/logger"
)

// NewBrokerRootCmd builds the broker binary's command tree.
func NewBrokerRootCmd() *cobra.Command {
	var flags GlobalFlags
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           "deskctl-broker",
		Short:         "Central broker routing commands between managers and desktop agents",
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

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broker until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroker(cmd.Context(), cfg)
		},
	}

	healthCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running broker's admin health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return brokerHealthcheck(cfg)
		},
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(NewVersionCmd("deskctl-broker"))
	return rootCmd
}

func runBroker(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := broker.NewHub(cfg.Broker)
	go hub.Run()
	defer hub.Stop()

	broker.InitStartTime()
	router := broker.NewRouter(hub, Version)

	srv := &http.Server{
		Addr:              cfg.Broker.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Broker.ListenAddr).Msg("broker listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		// Bind failure is fatal; nothing to clean up.
		return fmt.Errorf("broker listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down broker")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func brokerHealthcheck(cfg *config.Config) error {
	url := fmt.Sprintf("http://%s/health", cfg.Broker.ListenAddr)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return &ExitError{Code: 2, Err: fmt.Errorf("broker unreachable: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ExitError{Code: 4, Err: fmt.Errorf("broker unhealthy: %s", resp.Status)}
	}

	var body broker.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return &ExitError{Code: 4, Err: err}
	}
	fmt.Printf("status=%s version=%s uptime=%ds\n", body.Status, body.Version, body.Uptime)
	return nil
}
