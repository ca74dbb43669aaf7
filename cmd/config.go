package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var forceConfig bool

func init() {
	configInitCmd.Flags().BoolVarP(&forceConfig, "force", "f", false, "Overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the bomstore config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective settings to the config file",
	Long: `Writes the settings in effect (defaults, environment overrides and
--project) to the file named by --config.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !forceConfig {
			return fmt.Errorf("%s already exists (use --force to overwrite): %w", configPath, os.ErrExist)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		cfg.Project = projectPath
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
		return nil
	},
}
