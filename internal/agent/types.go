// Package agent invokes the two external code-generating agents. Agents
// are opaque local subprocesses: they receive a prompt over stdin, a file,
// or an inline argument, work inside a designated directory, and report
// through stdout/stderr and their exit code. Each invocation is bounded by
// a timeout that kills the process and surfaces a synthetic failed result.
package agent

import (
	"context"
	"time"

	"github.com/duetctl/duet/internal/config"
)

// Request describes a single agent invocation for one pipeline phase.
type Request struct {
	// Agent is the resolved configuration of the agent to run.
	Agent config.AgentConfig
	// Phase names the pipeline phase, e.g. "planning" or "review".
	Phase string
	// Prompt is the full prompt text delivered to the agent.
	Prompt string
	// WorkDir is the worktree the agent operates in.
	WorkDir string
	// Task is the immutable task text of the session.
	Task string
	// Session and Run identify the artifact partition.
	Session string
	Run     string
	// Mode is the run mode (full, plan, implement, bugfix).
	Mode string
}

// RunInfo carries the per-run values shared by every invocation.
type RunInfo struct {
	Task    string
	Session string
	Run     string
	Mode    string
}

// Request builds a Request for one agent call in the given phase.
func (ri RunInfo) Request(a config.AgentConfig, phase, prompt, workDir string) Request {
	return Request{
		Agent:   a,
		Phase:   phase,
		Prompt:  prompt,
		WorkDir: workDir,
		Task:    ri.Task,
		Session: ri.Session,
		Run:     ri.Run,
		Mode:    ri.Mode,
	}
}

// Result is the structured outcome of one invocation. A nonzero exit or a
// timeout is a recorded result, not an error: downstream logic treats
// empty or unparseable output as absence of a signal.
type Result struct {
	Agent    string        `json:"agent"`
	Phase    string        `json:"phase"`
	Prompt   string        `json:"-"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration_ns"`
	TimedOut bool          `json:"timed_out"`
}

// Failed reports whether the invocation ended with a nonzero exit or timeout.
func (r Result) Failed() bool { return r.ExitCode != 0 || r.TimedOut }

// Invoker runs one agent process for one phase. Implementations must be
// safe to call sequentially from a single control goroutine; there is no
// concurrent invocation within a run.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}
