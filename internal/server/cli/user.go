package cli

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newUserCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
		Long: `Manage gophdrive accounts.

Examples:
  # Create an account with the default quota
  gophdrive user create alice

  # Create an administrator with a 10GiB quota
  gophdrive user create root --quota 10GiB --admin

  # Change a quota
  gophdrive user quota alice 2GiB`,
	}

	create := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quota := int64(-1)
			if raw, _ := cmd.Flags().GetString("quota"); raw != "" {
				n, err := parseQuota(raw)
				if err != nil {
					return err
				}
				quota = n
			}
			admin, _ := cmd.Flags().GetBool("admin")

			app, closeFn, err := st.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			u, err := app.Users().CreateUser(cmd.Context(), args[0], quota, admin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (id %d, quota %s)\n", u.Username, u.ID, humanize.IBytes(uint64(u.Quota)))
			return nil
		},
	}
	create.Flags().String("quota", "", "storage quota, e.g. 5GiB (default from storage.default_quota)")
	create.Flags().Bool("admin", false, "grant administrator rights")

	quota := &cobra.Command{
		Use:   "quota <username> <size>",
		Short: "Set an account quota",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseQuota(args[1])
			if err != nil {
				return err
			}

			app, closeFn, err := st.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			u, err := app.Users().SetQuota(cmd.Context(), args[0], n)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Quota of %s set to %s (%s used)\n",
				u.Username, humanize.IBytes(uint64(u.Quota)), humanize.IBytes(uint64(u.UsedSpace)))
			return nil
		},
	}

	cmd.AddCommand(create, quota)
	return cmd
}

func parseQuota(raw string) (int64, error) {
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", raw, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("size %q is too large", raw)
	}
	return int64(n), nil
}

func newTokenCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "token <username>",
		Short: "Issue a bearer token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeFn, err := st.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			token, err := app.Users().IssueToken(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
