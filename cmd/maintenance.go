package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/agentic-research/bomstore/internal/export"
	"github.com/agentic-research/bomstore/internal/project"
	"github.com/spf13/cobra"
)

var (
	sortByName bool
	noBackup   bool
)

func init() {
	compactCmd.Flags().BoolVar(&sortByName, "sort", false, "Renumber components in name order")
	compactCmd.Flags().BoolVar(&noBackup, "no-backup", false, "Skip the snapshot taken before rewriting")

	rootCmd.AddCommand(compactCmd, exportCmd, snapshotCmd, restoreCmd)
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Physically remove deleted records from both files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openProject(); err != nil {
			return err
		}
		st, err := engine.Compact(project.CompactOptions{
			SortByName: sortByName,
			Backup:     cfg.Compact.Backup && !noBackup,
			BackupDir:  cfg.Compact.BackupDir,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Compacted: %d components, %d relations, %d bytes reclaimed\n",
			st.Components, st.Relations, st.ReclaimedComponentBytes+st.ReclaimedRelationBytes)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export OUTPUT.db",
	Short: "Write the BOM into a SQLite database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openProject(); err != nil {
			return err
		}
		g, err := engine.Graph()
		if err != nil {
			return err
		}
		n, err := export.Graph(g, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d components and %d relations to %s\n", n.Components, n.Relations, args[0])
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [ARCHIVE]",
	Short: "Archive the project files into one compressed snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openProject(); err != nil {
			return err
		}
		dest := ""
		if len(args) == 1 {
			dest = args[0]
		}
		written, err := engine.Snapshot(dest)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Snapshot written to %s\n", written)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore ARCHIVE [DIR]",
	Short: "Restore a project from a snapshot (into the project directory by default)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := filepath.Dir(projectPath)
		if len(args) == 2 {
			dir = args[1]
		}
		path, err := engine.Restore(args[0], dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", path)
		return nil
	},
}
