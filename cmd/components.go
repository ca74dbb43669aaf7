package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/agentic-research/bomstore/api"
	"github.com/spf13/cobra"
)

var (
	nameWidth int16
	jsonOut   bool
)

func init() {
	createCmd.Flags().Int16VarP(&nameWidth, "width", "w", 0, "Name field width in bytes (default from config)")
	listCmd.Flags().BoolVar(&jsonOut, "json", false, "Print the listing as JSON")

	rootCmd.AddCommand(createCmd, listCmd, addCmd, rmCmd)
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an empty project (.prd and .prs pair)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		width := nameWidth
		if width == 0 {
			width = cfg.NameWidth
		}
		if err := engine.Create(projectPath, width); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s (name width %d)\n", projectPath, width)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every component with its type and direct children",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openProject(); err != nil {
			return err
		}
		g, err := engine.Graph()
		if err != nil {
			return err
		}
		listing := api.NewListing(projectPath, g)

		out := cmd.OutOrStdout()
		if jsonOut {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(listing)
		}
		printListing(out, listing)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add NAME...",
	Short: "Add components",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openProject(); err != nil {
			return err
		}
		for _, name := range args {
			if err := engine.AddComponent(name); err != nil {
				return err
			}
			stored, err := engine.StoredName(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", stored)
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Delete a component that no assembly uses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openProject(); err != nil {
			return err
		}
		if err := engine.DeleteComponent(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}
