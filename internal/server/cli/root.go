// Package cli implements the gophdrive command line: the server itself plus
// the administrative commands that work on the same configuration.
package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophdrive/internal/buildinfo"
	"github.com/dmitrijs2005/gophdrive/internal/server"
	"github.com/dmitrijs2005/gophdrive/internal/server/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// state is shared by every command of one tree.
type state struct {
	v    *viper.Viper
	path string
}

func NewRootCommand(info buildinfo.Info) *cobra.Command {
	st := &state{v: config.NewViper()}

	cmd := &cobra.Command{
		Use:           "gophdrive",
		Short:         "Multi-tenant file storage server",
		Long:          "gophdrive stores per-user file trees with quotas, resumable chunked uploads, zip downloads and public share links.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       info.String(),

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.ReadInConfig(st.v, st.path)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&st.path, "config", "c", "", "config file (default is ./config.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, console)")
	flags.String("db-driver", "sqlite", "metadata store driver (sqlite, postgres)")
	flags.String("db-dsn", "", "metadata store DSN")
	flags.String("upload-folder", "", "root folder for stored files and upload sessions")

	bindFlags(st.v, flags, map[string]string{
		"log.level":             "log-level",
		"log.format":            "log-format",
		"database.driver":       "db-driver",
		"database.dsn":          "db-dsn",
		"storage.upload_folder": "upload-folder",
	})

	cmd.AddCommand(
		newServeCommand(st),
		newMigrateCommand(st),
		newConfigCommand(st),
		newUserCommand(st),
		newTokenCommand(st),
		newReconcileCommand(st),
		newReapCommand(st),
		newVersionCommand(info),
	)
	return cmd
}

// bindFlags maps config keys onto flags. A flag only overrides its key when
// it was set on the command line.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if f := fs.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func (st *state) load() (*config.Config, error) {
	return config.Load(st.v)
}

// openApp builds the application for a one-shot command. Its logger is
// quieted to warnings unless --log-level was given.
func (st *state) openApp(cmd *cobra.Command) (*server.App, func(), error) {
	cfg, err := st.load()
	if err != nil {
		return nil, nil, err
	}
	if !cmd.Flags().Changed("log-level") {
		cfg.Log.Level = "warn"
	}

	logger, err := server.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}

	app, err := server.NewApp(cmd.Context(), cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return app, func() {
		_ = app.Close()
		_ = logger.Sync()
	}, nil
}

func newVersionCommand(info buildinfo.Info) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gophdrive %s\n", info)
		},
	}
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, info buildinfo.Info, args []string) error {
	cmd := NewRootCommand(info)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}
