package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/agentic-research/bomstore/internal/config"
	"github.com/agentic-research/bomstore/internal/project"
	"github.com/agentic-research/bomstore/internal/store"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath  string
	projectPath string
	verbose     bool

	cfg    *config.Config
	logger *zap.Logger
	engine *project.Engine
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&projectPath, "project", "p", "", "Component store (.prd) to operate on")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
}

var rootCmd = &cobra.Command{
	Use:   "bomstore",
	Short: "bomstore: a bill-of-materials store on two fixed-record files",
	Long: `bomstore keeps components in a .prd file and their parent/child
relations in a paired .prs file. Deleted records are tombstoned and reused;
compact rewrites both files without them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if projectPath == "" {
			projectPath = cfg.Project
		}

		logger, err = cfg.Log.ZapConfig(verbose).Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		engine = project.NewEngine(project.WithLogger(logger))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if engine != nil {
			if err := engine.Close(); err != nil {
				logger.Warn("closing project", zap.Error(err))
			}
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// openProject opens the selected project on the engine.
func openProject() error {
	if err := engine.Open(projectPath); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w (create it with `bomstore create`)", err)
		}
		return err
	}
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		if engine != nil {
			_ = engine.Close()
		}
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to exit statuses.
func exitCode(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return 2
	case errors.Is(err, store.ErrConstraint):
		return 3
	case errors.Is(err, store.ErrFormat):
		return 4
	default:
		return 1
	}
}
