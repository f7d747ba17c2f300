package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/instarelay/internal/config"
)

// NewOnceCommand creates the once command.
func NewOnceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single monitoring cycle and exit",
		Long: `Run one monitoring cycle over every enabled account, print a summary and
exit. Useful from cron or to seed watermarks for new accounts.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return configError(err)
			}
			logger := newLogger(opts, cfg, cmd.ErrOrStderr())
			ctx := commandContext(cmd.Context())

			eng, err := buildEngine(ctx, cfg, logger)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to start", err)
			}
			defer eng.Close()

			res := eng.cycle.Run(ctx)
			if opts.Format == "json" {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Cycle %s: relayed %d, errors %d in %s\n",
					res.CycleID, res.Relayed, res.Errors, res.Duration.Round(time.Millisecond))
			}
			if res.Errors > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d account check(s) failed", res.Errors))
			}
			return nil
		},
	}
}
