package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/anonchat/edgeworker/internal/app"
	"github.com/anonchat/edgeworker/internal/config"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the edge worker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create app: %w", err)
		}

		errCh := make(chan error, 1)
		go func() { errCh <- a.Run() }()

		if err := a.Start(ctx); err != nil {
			slog.Error("startup aborted", "error", err)
		}

		select {
		case err = <-errCh:
			if err != nil {
				slog.Error("server failed", "error", err)
			}
		case <-ctx.Done():
			slog.Info("shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := a.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		return err
	},
}
