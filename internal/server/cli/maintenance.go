package cli

import (
	"fmt"

	"github.com/dmitrijs2005/gophdrive/internal/server/services"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newReconcileCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute used space and report storage inconsistencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeFn, err := st.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			reports, runErr := app.Reconciler().ReconcileAll(cmd.Context())
			if reports == nil {
				reports = []*services.ReconcileReport{}
			}
			data, err := yaml.Marshal(reports)
			if err != nil {
				return err
			}
			if _, err := cmd.OutOrStdout().Write(data); err != nil {
				return err
			}
			return runErr
		},
	}
}

func newReapCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Run one stale upload session sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeFn, err := st.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			stats, err := app.Reaper().RunNow(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, purged %d, busy %d, errors %d\n",
				stats.Scanned, stats.Purged, stats.Busy, stats.Errors)
			return nil
		},
	}
}
