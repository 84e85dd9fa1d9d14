package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duetctl/duet/internal/agent"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check both agent binaries and versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, _, err := setup()
		if err != nil {
			return err
		}
		defer log.Close()

		invoker := agent.NewProcessInvoker(log)
		results, verr := invoker.Verify(cmd.Context(), cfg.AgentA, cfg.AgentB)
		for _, r := range results {
			status := "ok"
			if !r.OK {
				status = r.Problem
			}
			version := r.Version
			if version == "" {
				version = "unknown"
			}
			fmt.Printf("%-12s %-10s %s\n", r.Agent, version, status)
		}
		return verr
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
