package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/formextract/internal/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the extraction HTTP API",
		Long: `Start the HTTP API. The server stops gracefully on SIGINT or SIGTERM and
flushes learned patterns to disk.

Examples:
  # Start with defaults (0.0.0.0:5000)
  formextract serve

  # Configure via environment
  SERVER_HTTP_PORT=8080 AI_PROVIDER_PRIORITY=regex,openai formextract serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

// runServe blocks until ctx is cancelled or the server fails.
func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}

	a.logger.Info(ctx, "starting formextract",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.Stringers("backends", a.chain.Backends()),
		zap.Int("patterns", a.cache.Len()))

	srv, err := httpserver.NewServer(a.pipeline, a.cache, a.chain, a.logger.Named("http"), &httpserver.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		SessionTTL:  cfg.Server.SessionTTL.Duration(),
		MaxSessions: cfg.Server.MaxSessions,
		Metrics:     httpserver.NewHTTPMetrics(a.telemetry.Meter(instrumentationName), a.logger),
	})
	if err != nil {
		a.Close(context.Background())
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn(shutdownCtx, "http shutdown failed", zap.Error(err))
	}
	a.Close(shutdownCtx)

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}
