package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/duetctl/duet/internal/agent"
	"github.com/duetctl/duet/internal/pipeline"
	"github.com/duetctl/duet/internal/prompt"
	"github.com/duetctl/duet/internal/render"
)

var runOpts pipeline.Options

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline for a task",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runOpts.Task == "" {
			if !prompt.Interactive() {
				return fmt.Errorf("a task is required (--task)")
			}
			task, err := prompt.AskTask()
			if err != nil {
				return err
			}
			runOpts.Task = task
		}

		cfg, log, root, err := setup()
		if err != nil {
			return err
		}
		defer log.Close()

		invoker := agent.NewProcessInvoker(log)
		controller := pipeline.New(cfg, root, invoker, log)

		out, err := controller.Run(cmd.Context(), runOpts)
		if err != nil {
			return err
		}

		if isatty.IsTerminal(os.Stdout.Fd()) {
			fmt.Print(render.Terminal(out.Report))
		} else {
			fmt.Print(render.Markdown(out.Report))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.Task, "task", "t", "", "task description")
	runCmd.Flags().StringVarP(&runOpts.Session, "session", "s", "default", "session identifier")
	runCmd.Flags().StringVarP(&runOpts.Mode, "mode", "m", pipeline.ModeFull, "run mode: full, plan, implement, bugfix")
	runCmd.Flags().StringVar(&runOpts.FromRun, "from-run", "", "branch from a prior run's summary")
	runCmd.Flags().BoolVarP(&runOpts.Interactive, "interactive", "i", false, "prompt for a driver override on a terminal")
	rootCmd.AddCommand(runCmd)
}
