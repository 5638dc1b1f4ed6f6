package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/streamhub/livecore/internal/bufpool"
	"github.com/streamhub/livecore/internal/config"
	"github.com/streamhub/livecore/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a pipeline process",
	Long: `Serve builds the shared buffer pool and an empty pipeline
orchestrator from the resolved configuration, then blocks until SIGINT or
SIGTERM.

This binary is a composition root, not the pipeline itself: attaching a
capture source (internal/audioinput.Input.SetSource, a compositor
producer surface), an encoder session, and a muxer/sink pair onto the
pipeline is the embedding application's job (internal/pipeline.Pipeline's
AddOutput), done through this library's Go API rather than CLI flags.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pool := bufpool.New(cfg.Buffer)
	logger.Info("buffer pool ready",
		slog.Any("classes", cfg.Buffer.Classes),
		slog.Int64("total_bytes", pool.TotalBytes()))

	p := pipeline.New(nil, nil, logger)
	defer func() {
		if err := p.Release(); err != nil {
			logger.Error("releasing pipeline", slog.String("error", err.Error()))
		}
	}()

	if err := p.StartStream(); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}
	logger.Info("pipeline started, waiting for outputs to be attached by the embedding application")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return p.StopStream()
		case err, ok := <-p.ErrorChannel():
			if !ok {
				return nil
			}
			logger.Error("pipeline output error", slog.String("error", err.Error()))
		}
	}
}
