package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetsupervisor/fleetd/internal/config"
	"github.com/fleetsupervisor/fleetd/internal/control"
	"github.com/fleetsupervisor/fleetd/internal/driver"
	"github.com/fleetsupervisor/fleetd/internal/fleet"
)

func startCmd() *cobra.Command {
	var anthropicKey string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Initialize and start the Fleet Supervisor in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(anthropicKey)
		},
	}
	cmd.Flags().StringVar(&anthropicKey, "anthropic-api-key", os.Getenv("ANTHROPIC_API_KEY"), "API key for the reference Anthropic QueryDriver")
	return cmd
}

func runStart(anthropicKey string) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	d := driver.NewAnthropicDriver(anthropicKey)
	mgr := fleet.New(cfgFile, d, logger)

	if err := mgr.Initialize(); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("reload config path: %w", err)
	}
	sockPath := socketFlag
	if sockPath == "" {
		sockPath = filepath.Join(cfg.StateDir, control.SocketName)
	}

	ctrl := control.NewServer(mgr, logger)
	ctrlDone := make(chan error, 1)
	go func() { ctrlDone <- ctrl.Start(ctx, sockPath) }()

	logger.Info("fleet supervisor running", "agents", len(cfg.Agents), "socket", sockPath)

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping fleet")

	stopCtx, cancel := context.WithTimeout(context.Background(), fleet.DefaultStopOptions().Timeout+5*time.Second)
	defer cancel()
	if err := mgr.Stop(stopCtx, fleet.DefaultStopOptions()); err != nil {
		logger.Error("fleet stop reported an error", "error", err)
	}

	if err := <-ctrlDone; err != nil {
		logger.Error("control socket server exited with error", "error", err)
	}
	return nil
}
