// Package cmd holds the duet command tree.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "duet",
	Short: "Two-agent pipeline orchestrator",
	Long: `Duet coordinates two independent code-generating agents through a
fixed pipeline: planning, proposing, deciding, execution planning,
implementing, reviewing, and converging, producing a single reviewed
patch. Every phase's artifacts are persisted under the state directory,
so runs are inspectable and resumable.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default .duet.yaml)")
}

// setup loads the configuration and opens the run logger. The logger
// writes to <state dir>/debug.log under the current project root.
func setup() (*config.Config, *logging.Logger, string, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, "", err
	}
	root, err := os.Getwd()
	if err != nil {
		return nil, nil, "", fmt.Errorf("resolving project root: %w", err)
	}
	log, err := logging.NewLogger(filepath.Join(root, cfg.StateDir), cfg.Logging.Level)
	if err != nil {
		return nil, nil, "", err
	}
	return cfg, log, root, nil
}
