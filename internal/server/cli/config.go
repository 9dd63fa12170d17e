package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/gophdrive/internal/server/config"
	"github.com/spf13/cobra"
)

func newConfigCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management utilities",
	}
	cmd.AddCommand(newConfigShowCommand(st), newConfigGenerateCommand())
	return cmd
}

func newConfigShowCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := st.load(); err != nil {
				return err
			}
			data, err := config.Dump(st.v)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a config file holding the built-in defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputDir, _ := cmd.Flags().GetString("output")
			overwrite, _ := cmd.Flags().GetBool("overwrite")

			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			filename := filepath.Join(outputDir, "config.yaml")
			if _, err := os.Stat(filename); err == nil && !overwrite {
				return fmt.Errorf("%s exists, use --overwrite to replace it", filename)
			}

			data, err := config.DefaultsYAML()
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			if err := os.WriteFile(filename, data, 0o600); err != nil {
				return fmt.Errorf("failed to write config file %s: %w", filename, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s\n", filename)
			return nil
		},
	}

	cmd.Flags().String("output", ".", "output directory for the config file")
	cmd.Flags().Bool("overwrite", false, "overwrite an existing file")
	return cmd
}
