package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/duetctl/duet/internal/artifact"
	"github.com/duetctl/duet/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions and their runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, root, err := setup()
		if err != nil {
			return err
		}
		defer log.Close()

		store := session.NewStore(artifact.NewStore(filepath.Join(root, cfg.StateDir)))
		sessions, err := store.List()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("no sessions")
			return nil
		}

		for _, s := range sessions {
			fmt.Printf("%s  %s\n", s.ID, s.CreatedAt.Format("2006-01-02 15:04"))
			fmt.Printf("    task: %s\n", firstLine(s.Task))
			runs, err := store.Runs(s.ID)
			if err != nil {
				return err
			}
			for _, r := range runs {
				branch := ""
				if r.ParentRun != "" {
					branch = " (from " + shortID(r.ParentRun) + ")"
				}
				fmt.Printf("    %s  %-9s %s%s\n", shortID(r.ID), r.Mode, r.CreatedAt.Format("2006-01-02 15:04"), branch)
			}
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
