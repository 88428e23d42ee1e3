package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternarybob/foresight/internal/app"
	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run workers, scheduler and the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Info().
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Str("version", common.GetVersion()).
		Msg("Starting Foresight server")

	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	if err := application.Start(); err != nil {
		return err
	}

	srv := server.New(application)
	errCh := make(chan error, 1)
	common.SafeGo(logger, "http-server", func() {
		errCh <- srv.Start()
	})

	logger.Info().
		Str("url", "http://"+srv.Addr()).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
	return nil
}
