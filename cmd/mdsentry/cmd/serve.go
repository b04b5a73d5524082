package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
	"github.com/Aman-CERP/mdsentry/internal/logging"
	"github.com/Aman-CERP/mdsentry/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve <document>...",
		Short: "Start the MCP server",
		Long: `Start a Model Context Protocol server over stdio that exposes the
conflict engine to AI assistants.

Tools: conflict_status, list_conflicts, resolve_conflict, list_backups,
include_graph. Tracked documents and the include graph are also served as
resources.

stdout carries JSON-RPC only. Logs go to ~/.mdsentry/logs/mdsentry.log.`,
		Example: `  mdsentry serve notes/board.md`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, args, transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport: stdio")

	return cmd
}

func runServe(ctx context.Context, docs []string, transport string) error {
	// Nothing may be written to stdout before the MCP server starts.
	cfg, err := loadConfig(docs)
	if err != nil {
		return err
	}

	level := cfg.Server.LogLevel
	if debugMode {
		level = "debug"
	}
	cleanup, err := logging.SetupMCPMode(level)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()
	logger := slog.Default()

	e, err := openEngine(ctx, cfg, engineOptions{
		recovery:    true,
		preferences: true,
		telemetry:   true,
		logger:      logger,
	})
	if err != nil {
		logger.Error("failed to start engine", slog.String("error", err.Error()))
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Warn("shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if err := e.register(ctx, docs); err != nil {
		logger.Error("failed to register documents", slog.String("error", err.Error()))
		return err
	}

	srv, err := mcp.NewServer(e.coord, e.recovery, logger)
	if err != nil {
		return err
	}
	srv.RegisterResources()
	if e.metrics != nil {
		srv.SetStats(e.metrics)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribing lets remembered choices apply automatically; the rest
	// stay awaiting resolution until a client calls resolve_conflict.
	ready, unsubscribe := e.coord.Subscribe()
	defer unsubscribe()
	go logReady(runCtx, logger, ready)

	go func() {
		if err := e.coord.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("coordinator stopped", slog.String("error", err.Error()))
		}
	}()

	err = srv.Serve(runCtx, transport)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logReady(ctx context.Context, logger *slog.Logger, ready <-chan []*conflict.Conflict) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-ready:
			if !ok {
				return
			}
			for _, c := range batch {
				logger.Info("conflict awaiting resolution",
					slog.String("id", c.ID),
					slog.String("path", c.Path),
					slog.String("kind", string(c.Kind)))
			}
		}
	}
}
