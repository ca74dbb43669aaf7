package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/agentic-research/bomstore/api"
	"github.com/spf13/cobra"
)

var treeJSON bool

func init() {
	treeCmd.Flags().BoolVar(&treeJSON, "json", false, "Print the tree as JSON")

	rootCmd.AddCommand(linkCmd, unlinkCmd, cycleCmd, treeCmd, usedInCmd)
}

var linkCmd = &cobra.Command{
	Use:   "link PARENT CHILD...",
	Short: "Make components direct children of PARENT",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openProject(); err != nil {
			return err
		}
		parent := args[0]
		for _, child := range args[1:] {
			if err := engine.AddRelation(parent, child); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", parent, child)
		}
		return nil
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink PARENT",
	Short: "Remove every direct child of PARENT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openProject(); err != nil {
			return err
		}
		if err := engine.DeleteRelations(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared specification of %s\n", args[0])
		return nil
	},
}

var cycleCmd = &cobra.Command{
	Use:   "cycle PARENT CHILD",
	Short: "Report whether linking PARENT -> CHILD would create a cycle",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openProject(); err != nil {
			return err
		}
		cycle, err := engine.WouldCreateCycle(args[0], args[1])
		if err != nil {
			return err
		}
		if cycle {
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s would create a cycle\n", args[0], args[1])
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s is allowed\n", args[0], args[1])
		}
		return nil
	},
}

var treeCmd = &cobra.Command{
	Use:   "tree NAME",
	Short: "Print the specification tree of a component",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openProject(); err != nil {
			return err
		}
		lines, err := engine.Tree(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if treeJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(api.NewTree(lines))
		}
		printTree(out, lines)
		return nil
	},
}

var usedInCmd = &cobra.Command{
	Use:   "used-in NAME",
	Short: "List the assemblies that use a component directly",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openProject(); err != nil {
			return err
		}
		parents, err := engine.Parents(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(parents) == 0 {
			fmt.Fprintf(out, "%s is not used in any assembly\n", args[0])
			return nil
		}
		for _, p := range parents {
			fmt.Fprintln(out, p.Name)
		}
		return nil
	},
}
