// Package tests runs the optional configured test command inside a
// worktree. An empty command disables testing; every loop that consults
// test outcomes treats "not run" as passing.
package tests

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/logging"
)

// Outcome is the recorded result of one test run.
type Outcome struct {
	Ran      bool          `json:"ran"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration_ns"`
}

// Passed reports whether the outcome permits proceeding: tests that never
// ran count as passing.
func (o Outcome) Passed() bool { return !o.Ran || (o.ExitCode == 0 && !o.TimedOut) }

// Failed reports an actual failed run, never a skipped one.
func (o Outcome) Failed() bool { return o.Ran && !o.Passed() }

// Runner executes the configured test command.
type Runner struct {
	cfg config.TestConfig
	log *logging.Logger
}

// NewRunner creates a Runner for the given test configuration.
func NewRunner(cfg config.TestConfig, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Runner{cfg: cfg, log: log}
}

// Run executes the test command in workDir through the shell, bounded by
// the configured timeout. Expiry kills the process and records a timed-out
// outcome with a synthetic exit code of -1. A nonzero exit is an Outcome,
// never an error.
func (r *Runner) Run(ctx context.Context, workDir string) Outcome {
	if !r.cfg.Enabled() {
		return Outcome{}
	}

	timeout := time.Duration(r.cfg.TimeoutSeconds) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", r.cfg.Command)
	cmd.Dir = workDir
	cmd.WaitDelay = 5 * time.Second

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	r.log.Debug("running tests", "command", r.cfg.Command, "workdir", workDir)
	start := time.Now()
	err := cmd.Run()
	out := Outcome{
		Ran:      true,
		Output:   combined.String(),
		Duration: time.Since(start),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		out.TimedOut = true
		out.ExitCode = -1
		r.log.Warn("tests timed out", "timeout", timeout)
	case err != nil:
		if exitErr, ok := err.(*exec.ExitError); ok {
			out.ExitCode = exitErr.ExitCode()
			r.log.Warn("tests failed", "exit_code", out.ExitCode)
		} else {
			// The shell itself could not start; report as a failed run.
			out.ExitCode = -1
			out.Output = err.Error()
		}
	}
	return out
}
