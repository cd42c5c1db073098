package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forkwiki/pkg/config"
	"forkwiki/pkg/metrics"
	"forkwiki/pkg/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var (
		address        string
		metricsAddress string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a storage server",
		Long: `Serve the configured storage backend (memory, disk or redis) over gRPC so
other forkwiki clients can use it with storage.backend=grpc.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if address != "" {
				cfg.Serve.Address = address
			}
			if metricsAddress != "" {
				cfg.Serve.MetricsAddress = metricsAddress
			}
			if cfg.Storage.Backend == config.BackendGRPC {
				return fmt.Errorf("%w: serve needs a local backend, not %s", config.ErrInvalidConfig, cfg.Storage.Backend)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			backend, closer, err := openBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closer.Close()

			server := transport.NewServer(backend, logger)
			if err := server.Start(cfg.Serve.Address); err != nil {
				return fmt.Errorf("failed to start storage server: %w", err)
			}
			defer server.Stop()

			var metricsServer *http.Server
			if cfg.Serve.MetricsAddress != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler(prometheus.DefaultGatherer))
				metricsServer = &http.Server{Addr: cfg.Serve.MetricsAddress, Handler: mux}
				go func() {
					if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("Metrics server stopped", zap.Error(err))
					}
				}()
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Serving %s storage on %s\n", cfg.Storage.Backend, server.Addr())
			<-ctx.Done()
			logger.Info("Shutting down storage server")

			if metricsServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				metricsServer.Shutdown(shutdownCtx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "listen address (overrides serve.address)")
	cmd.Flags().StringVar(&metricsAddress, "metrics-addr", "", "metrics listen address (overrides serve.metrics_address)")
	return cmd
}
