package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nextlevelbuilder/orionmind/internal/config"
	"github.com/nextlevelbuilder/orionmind/internal/daemon"
	"github.com/nextlevelbuilder/orionmind/internal/policy"
	"github.com/spf13/cobra"
)

func runServe(cmd *cobra.Command) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	pol := policy.NewEngine(logger.With("component", "policy"))
	if err := pol.Load(config.ExpandHome(cfg.Policy.Path)); err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pol.Watch(ctx); err != nil {
		logger.Warn("policy watch disabled", "error", err)
	}

	d, err := daemon.New(cfg, pol, logger.With("component", "daemon"))
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}

	logger.Info("orionmind starting", "user_id", cfg.Daemon.UserID)
	return d.Run(ctx)
}
