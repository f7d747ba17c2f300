package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/instarelay/internal/accountsfile"
	"github.com/bryan-buckman/instarelay/internal/logging"
	"github.com/bryan-buckman/instarelay/internal/model"
	"github.com/bryan-buckman/instarelay/internal/registry"
)

// NewAccountsCommand creates the accounts command group.
func NewAccountsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage monitored accounts",
		Long: `Manage the account registry directly in the database. Changes are picked
up by a running relay on its next cycle.`,
	}

	cmd.AddCommand(newAccountsAddCommand(opts))
	cmd.AddCommand(newAccountsRemoveCommand(opts))
	cmd.AddCommand(newAccountsListCommand(opts))
	cmd.AddCommand(newAccountsToggleCommand(opts, "enable", true))
	cmd.AddCommand(newAccountsToggleCommand(opts, "disable", false))
	cmd.AddCommand(newAccountsImportCommand(opts))
	cmd.AddCommand(newAccountsExportCommand(opts))

	return cmd
}

func newAccountsAddCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <username> <channel>",
		Short: "Start relaying an account to a channel",
		Long: `Start relaying an account to a channel. The channel is a public @username
or a numeric chat id. Adding an existing account re-targets and enables it.

Example:
  instarelay accounts add natgeo @natgeo_mirror
  instarelay accounts add nasa -1001234567890`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, opts, func(ctx context.Context, st *storage, _ logging.Logger) error {
				account, err := st.registry.Add(ctx, args[0], args[1])
				if err != nil {
					return registryError("failed to add account", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added @%s -> %s\n", account.Username, account.ChannelID)
				return nil
			})
		},
	}
	// Numeric channel ids start with "-".
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newAccountsRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <username>",
		Aliases:       []string{"rm"},
		Short:         "Stop relaying an account",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, opts, func(ctx context.Context, st *storage, _ logging.Logger) error {
				if err := st.registry.Remove(ctx, args[0]); err != nil {
					return registryError("failed to remove account", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed @%s\n", registry.NormalizeUsername(args[0]))
				return nil
			})
		},
	}
}

func newAccountsListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Aliases:       []string{"ls"},
		Short:         "List monitored accounts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, opts, func(ctx context.Context, st *storage, _ logging.Logger) error {
				accounts, err := st.registry.List(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list accounts", err)
				}
				if opts.Format == "json" {
					if accounts == nil {
						accounts = []model.Account{}
					}
					return writeJSON(cmd.OutOrStdout(), accounts)
				}
				return printAccounts(cmd.OutOrStdout(), accounts)
			})
		},
	}
}

func newAccountsToggleCommand(opts *RootOptions, verb string, enabled bool) *cobra.Command {
	short := "Resume relaying an account"
	if !enabled {
		short = "Pause relaying an account without forgetting its watermarks"
	}
	return &cobra.Command{
		Use:           verb + " <username>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, opts, func(ctx context.Context, st *storage, _ logging.Logger) error {
				if err := st.registry.SetEnabled(ctx, args[0], enabled); err != nil {
					return registryError("failed to "+verb+" account", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "@%s %sd\n", registry.NormalizeUsername(args[0]), verb)
				return nil
			})
		},
	}
}

func newAccountsImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import accounts from a YAML file (- for stdin)",
		Long: `Import accounts from a YAML document. Existing accounts are updated.

Accepted layouts:
  accounts:
    - username: natgeo
      channel_id: "@natgeo_mirror"

  channels:
    - channel: "@space"
      accounts:
        - username: nasa
        - username: spacex
          enabled: false`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to open file", err)
				}
				defer f.Close()
				in = f
			}
			accounts, err := accountsfile.Parse(in)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to parse accounts", err)
			}
			return withStorage(cmd, opts, func(ctx context.Context, st *storage, _ logging.Logger) error {
				n, err := st.registry.Import(ctx, accounts)
				if err != nil {
					return registryError("failed to import accounts", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d accounts\n", n, len(accounts))
				return nil
			})
		},
	}
}

func newAccountsExportCommand(opts *RootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:           "export",
		Short:         "Export accounts as YAML",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, opts, func(ctx context.Context, st *storage, _ logging.Logger) error {
				accounts, err := st.registry.List(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list accounts", err)
				}
				data, err := accountsfile.Export("instarelay accounts", accounts)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to export accounts", err)
				}
				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return WrapExitError(ExitFailure, "failed to write file", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d accounts to %s\n", len(accounts), output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func printAccounts(w io.Writer, accounts []model.Account) error {
	if len(accounts) == 0 {
		fmt.Fprintln(w, "No accounts configured.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tCHANNEL\tENABLED")
	for _, a := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", a.Username, a.ChannelID, a.Enabled)
	}
	return tw.Flush()
}

// registryError maps registry sentinels to command errors.
func registryError(msg string, err error) error {
	if errors.Is(err, registry.ErrInvalid) || errors.Is(err, registry.ErrNotFound) {
		return WrapExitError(ExitCommandError, msg, err)
	}
	return WrapExitError(ExitFailure, msg, err)
}
