package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and, when enabled, the scan worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(parent context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	var scanWorker *worker.Worker
	if a.cfg.Worker.Enabled {
		scanWorker = worker.NewWorker(a.bus, a.svc, a.cache)
		if err := scanWorker.Start(worker.ConfigFrom(a.cfg.Worker)); err != nil {
			slog.Error("failed to start scan worker", "error", err)
			scanWorker = nil
		}
	}

	checks := map[string]api.Pinger{
		"repository": a.repo,
		"cache":      a.cache,
		"eventbus":   a.bus,
	}
	srv := api.NewServer(a.cfg.Server, a.svc, checks, a.svc.Metrics().Handler(), Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", a.cfg.Server.Host,
		"port", a.cfg.Server.Port,
		"worker", scanWorker != nil,
	)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	// Stop the worker first so no scan starts during shutdown.
	if scanWorker != nil {
		if err := scanWorker.Stop(); err != nil {
			slog.Error("failed to stop scan worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return nil
}
