package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/vengine/internal/logger"
	"github.com/marmos91/vengine/pkg/config"
	"github.com/marmos91/vengine/pkg/keyspace"
	promMetrics "github.com/marmos91/vengine/pkg/metrics/prometheus"
	"github.com/marmos91/vengine/pkg/server"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the server",
		Long: `Start the server and block until SIGINT or SIGTERM.

Configuration is read from --config, or from the default location when the
flag is omitted. VENGINE_* environment variables override file values.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	return cmd
}

func runStart(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}

	fmt.Println("vengine - RESP command server")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsResult := config.InitializeMetrics(cfg)
	if metricsResult.Server != nil {
		go func() {
			if err := metricsResult.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	store, err := config.CreateKeyspace(ctx, &cfg.Keyspace)
	if err != nil {
		return fmt.Errorf("failed to create keyspace: %w", err)
	}
	logger.Info("Keyspace: %s", cfg.Keyspace.Type)

	srv := server.New(store)
	srv.SetStopTimeout(cfg.Server.ShutdownTimeout)
	logger.Info("Run ID: %s", srv.RunID())

	if cfg.Server.Metrics.Enabled {
		promMetrics.RegisterServerInfo(srv.RunID(), version)
	}

	adapters, err := config.CreateAdapters(cfg, metricsResult.RESPMetrics)
	if err != nil {
		closeKeyspace(store)
		return err
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			closeKeyspace(store)
			return fmt.Errorf("failed to add %s adapter: %w", a.Protocol(), err)
		}
		logger.Info("%s adapter configured on port %d", a.Protocol(), a.Port())
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")

	serveErr := srv.Serve(ctx)

	if metricsResult.Server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsResult.Server.Stop(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown: %v", err)
		}
	}

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// closeKeyspace releases a store that never reached Serve, which would
// otherwise close it.
func closeKeyspace(store keyspace.Store) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		logger.Warn("Keyspace close: %v", err)
	}
}
