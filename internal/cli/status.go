package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/instarelay/internal/config"
	"github.com/bryan-buckman/instarelay/internal/logging"
	"github.com/bryan-buckman/instarelay/internal/model"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show accounts and their watermarks",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, opts, func(ctx context.Context, st *storage, logger logging.Logger) error {
				status, err := st.statusCycle(logger).Status(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read status", err)
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), status)
				}
				return printStatus(cmd.OutOrStdout(), status)
			})
		},
	}
}

func printStatus(w io.Writer, status model.CycleStatus) error {
	fmt.Fprintf(w, "Accounts: %d (%d enabled)\n\n", status.TotalAccounts, status.EnabledAccounts)
	if status.TotalAccounts == 0 {
		return nil
	}

	names := make([]string, 0, len(status.Accounts))
	for name := range status.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tCHANNEL\tENABLED\tLAST POST\tSTORIES SEEN")
	for _, name := range names {
		a := status.Accounts[name]
		lastPost := a.LastPostID
		if lastPost == "" {
			lastPost = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%d\n", name, a.ChannelID, a.Enabled, lastPost, a.SeenStoryCount)
	}
	return tw.Flush()
}

// withStorage loads the storage settings, opens the store and runs fn.
func withStorage(cmd *cobra.Command, opts *RootOptions, fn func(context.Context, *storage, logging.Logger) error) error {
	cfg := config.FromEnv()
	if err := cfg.ValidateStorage(); err != nil {
		return configError(err)
	}
	logger := newLogger(opts, cfg, cmd.ErrOrStderr())
	ctx := commandContext(cmd.Context())

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Error closing database")
		}
	}()
	return fn(ctx, st, logger)
}
