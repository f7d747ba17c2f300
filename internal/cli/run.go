package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/instarelay/internal/config"
	"github.com/bryan-buckman/instarelay/internal/logging"
	"github.com/bryan-buckman/instarelay/internal/monitor"
	"github.com/bryan-buckman/instarelay/internal/server"
	"github.com/bryan-buckman/instarelay/internal/sink/telegram"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ShutdownTimeout time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start monitoring and relaying",
		Long: `Start the relay. A monitoring cycle runs every MONITOR_INTERVAL_SECONDS;
the first one fires one interval after start.

When TELEGRAM_ADMIN_USER_ID is set the bot also answers admin commands.
When HTTP_ADDR is set the control plane API and /metrics are served there.

Example:
  instarelay run
  instarelay run --env-file prod.env --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 15*time.Second, "how long to wait for the control plane to drain")

	return cmd
}

func runRelay(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return configError(err)
	}
	logger := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(commandContext(cmd.Context()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start", err)
	}
	defer func() {
		if closeErr := eng.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Error closing database")
		}
	}()

	poller := monitor.NewPoller(monitor.PollerConfig{
		Cycle:    eng.cycle,
		Interval: cfg.Interval(),
		Logger:   logger,
	})
	poller.Start(ctx)

	if cfg.AdminUserID != 0 {
		commands := telegram.NewCommands(eng.sink.Bot(), cfg.AdminUserID, eng.control, logger)
		go commands.Run(ctx)
	} else {
		logger.Warn("TELEGRAM_ADMIN_USER_ID not set, bot commands disabled")
	}

	var srv *server.Server
	if cfg.HTTPAddr != "" {
		srv = server.New(server.Config{
			Control:       eng.control,
			OperatorToken: cfg.OperatorToken,
			Gatherer:      eng.metrics.Registry(),
			Logger:        logger,
		})
		go func() {
			if err := srv.Start(cfg.HTTPAddr); err != nil {
				logger.WithError(err).Error("Control plane stopped")
				stop()
			}
		}()
	}

	logger.WithFields(logging.Fields{
		"posts":   cfg.EnablePosts,
		"stories": cfg.EnableStories,
	}).Info("Relay started")
	fmt.Fprintln(cmd.OutOrStdout(), "Relay started. Press Ctrl-C to stop.")

	<-ctx.Done()
	logger.Info("Shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Control plane did not drain in time")
		}
		cancel()
	}
	poller.Stop()

	logger.Info("Relay stopped")
	return nil
}
