package cli

import (
	"fmt"

	"github.com/dmitrijs2005/gophdrive/internal/server"
	"github.com/spf13/cobra"
)

func newServeCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the session reaper and the reconciler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := st.load()
			if err != nil {
				return err
			}

			logger, err := server.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			app, err := server.NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer app.Close()

			return app.Run(cmd.Context())
		},
	}

	cmd.Flags().String("address", "", "HTTP listen address")
	cmd.Flags().Bool("no-reaper", false, "disable the stale session reaper")
	bindFlags(st.v, cmd.Flags(), map[string]string{
		"http.address": "address",
	})
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if off, _ := cmd.Flags().GetBool("no-reaper"); off {
			st.v.Set("reaper.enabled", false)
		}
	}
	return cmd
}

func newMigrateCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st.v.Set("database.auto_migrate", false)
			app, closeFn, err := st.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := app.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}
}
