package agent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/logging"
)

// ProcessInvoker runs agents as local subprocesses.
type ProcessInvoker struct {
	log *logging.Logger

	mu       sync.Mutex
	versions map[string]string // agent name -> detected version
}

// NewProcessInvoker creates a ProcessInvoker logging through log.
func NewProcessInvoker(log *logging.Logger) *ProcessInvoker {
	if log == nil {
		log = logging.NopLogger()
	}
	return &ProcessInvoker{log: log, versions: make(map[string]string)}
}

// Invoke runs one agent process for one phase. The call blocks until the
// process exits or the agent's configured timeout elapses, in which case
// the process is killed and the result marked TimedOut with a synthetic
// exit code of -1.
//
// A nonzero exit is returned as a Result, not an error; errors are
// reserved for infrastructure failures such as an unwritable prompt file.
func (p *ProcessInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	sub := Substitution{
		WorkDir:      req.WorkDir,
		Phase:        req.Phase,
		Prompt:       req.Prompt,
		Task:         req.Task,
		Session:      req.Session,
		Run:          req.Run,
		Agent:        req.Agent.Name,
		Mode:         req.Mode,
		Version:      p.versionOf(req.Agent.Name),
		Capabilities: strings.Join(req.Agent.Capabilities, ","),
	}

	if req.Agent.PromptMode == config.PromptFile {
		f, err := os.CreateTemp("", "duet-prompt-*.md")
		if err != nil {
			return Result{}, fmt.Errorf("creating prompt file: %w", err)
		}
		if _, err := f.WriteString(req.Prompt); err != nil {
			f.Close()
			return Result{}, fmt.Errorf("writing prompt file: %w", err)
		}
		if err := f.Close(); err != nil {
			return Result{}, fmt.Errorf("closing prompt file: %w", err)
		}
		defer os.Remove(f.Name())
		sub.PromptFile = f.Name()
	}

	args := ExpandArgs(req.Agent.Args, sub)

	timeout := time.Duration(req.Agent.TimeoutSeconds) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, req.Agent.Command, args...)
	cmd.Dir = req.WorkDir
	cmd.Env = append(os.Environ(), sub.Environ()...)
	for k, v := range req.Agent.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.WaitDelay = 5 * time.Second

	if req.Agent.PromptMode == config.PromptStdin {
		cmd.Stdin = strings.NewReader(req.Prompt)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := p.log.WithAgent(req.Agent.Name).WithPhase(req.Phase)
	log.Debug("invoking agent", "command", req.Agent.Command, "workdir", req.WorkDir)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := Result{
		Agent:    req.Agent.Name,
		Phase:    req.Phase,
		Prompt:   req.Prompt,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}

	switch {
	case callCtx.Err() == context.DeadlineExceeded:
		result.TimedOut = true
		result.ExitCode = -1
		log.Warn("agent timed out", "timeout", timeout)
	case err != nil:
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			log.Warn("agent exited nonzero", "exit_code", result.ExitCode)
		} else {
			return Result{}, fmt.Errorf("running agent %s: %w", req.Agent.Name, err)
		}
	default:
		log.Debug("agent completed", "duration", elapsed)
	}

	return result, nil
}

func (p *ProcessInvoker) versionOf(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.versions[name]
}

func (p *ProcessInvoker) setVersion(name, version string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.versions[name] = version
}
