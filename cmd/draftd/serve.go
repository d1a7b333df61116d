package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quillworks/draftd/internal/config"
	"github.com/quillworks/draftd/internal/httpapi"
	"github.com/quillworks/draftd/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the draftd HTTP server",
	Long: `Start the HTTP API. Runs are created with POST /api/v1/runs and review
decisions are submitted with POST /api/v1/runs/:id/phases/:phase/decision.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging, nil)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	reg, err := newRegistry(cfg, logger, cfg.Engine.AutoApprove)
	if err != nil {
		return err
	}

	srv, err := httpapi.NewServer(reg, logger.Underlying(), &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-sigCh:
		logger.Underlying().Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	// Abort in-flight runs first so their emergency checkpoints land before
	// the listener closes.
	if err := reg.Shutdown(ctx); err != nil {
		logger.Underlying().Warn("registry shutdown incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
