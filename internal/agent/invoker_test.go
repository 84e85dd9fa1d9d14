package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/errors"
	"github.com/duetctl/duet/internal/logging"
)

func shAgent(script string, timeout int) config.AgentConfig {
	return config.AgentConfig{
		Name:           "fake",
		Command:        "sh",
		Args:           []string{"-c", script},
		PromptMode:     config.PromptStdin,
		TimeoutSeconds: timeout,
	}
}

func TestInvokeCapturesOutput(t *testing.T) {
	inv := NewProcessInvoker(logging.NopLogger())
	res, err := inv.Invoke(context.Background(), Request{
		Agent:   shAgent("cat; echo done; echo oops >&2", 10),
		Phase:   "planning",
		Prompt:  "the prompt\n",
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Failed() {
		t.Fatalf("unexpected failure: %+v", res)
	}
	if !strings.Contains(res.Stdout, "the prompt") || !strings.Contains(res.Stdout, "done") {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "oops") {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestInvokeNonzeroExitIsRecordedNotError(t *testing.T) {
	inv := NewProcessInvoker(logging.NopLogger())
	res, err := inv.Invoke(context.Background(), Request{
		Agent:   shAgent("exit 3", 10),
		Phase:   "review",
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("nonzero exit must not be an error: %v", err)
	}
	if res.ExitCode != 3 || !res.Failed() {
		t.Errorf("result = %+v, want exit code 3", res)
	}
}

func TestInvokeTimeoutKillsProcess(t *testing.T) {
	inv := NewProcessInvoker(logging.NopLogger())
	start := time.Now()
	res, err := inv.Invoke(context.Background(), Request{
		Agent:   shAgent("sleep 30", 1),
		Phase:   "implementation",
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 15*time.Second {
		t.Fatalf("process not killed promptly, took %v", elapsed)
	}
	if !res.TimedOut || res.ExitCode != -1 {
		t.Errorf("result = %+v, want timed out with exit -1", res)
	}
}

func TestInvokeEnvironmentInjection(t *testing.T) {
	inv := NewProcessInvoker(logging.NopLogger())
	agent := shAgent(`echo "$DUET_PHASE/$DUET_AGENT/$DUET_EXTRA"`, 10)
	agent.Env = map[string]string{"DUET_EXTRA": "custom"}
	agent.Name = "envy"
	res, err := inv.Invoke(context.Background(), Request{
		Agent:   agent,
		Phase:   "deciding",
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(res.Stdout, "deciding/envy/custom") {
		t.Errorf("stdout = %q, want phase/agent/extra", res.Stdout)
	}
}

func TestInvokePromptFileMode(t *testing.T) {
	inv := NewProcessInvoker(logging.NopLogger())
	agent := config.AgentConfig{
		Name:           "filey",
		Command:        "sh",
		Args:           []string{"-c", "cat {prompt_file}"},
		PromptMode:     config.PromptFile,
		TimeoutSeconds: 10,
	}
	res, err := inv.Invoke(context.Background(), Request{
		Agent:   agent,
		Phase:   "planning",
		Prompt:  "file-delivered prompt",
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(res.Stdout, "file-delivered prompt") {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestVerifyMissingBinary(t *testing.T) {
	inv := NewProcessInvoker(logging.NopLogger())
	results, err := inv.Verify(context.Background(), config.AgentConfig{
		Name:    "ghost",
		Command: "duet-definitely-not-a-binary",
	})
	if err == nil {
		t.Fatal("expected verification error")
	}
	if !errors.Is(err, errors.ErrAgentNotFound) {
		t.Errorf("error should wrap ErrAgentNotFound: %v", err)
	}
	if len(results) != 1 || results[0].OK {
		t.Errorf("results = %+v", results)
	}
}

func TestVerifyVersionFlow(t *testing.T) {
	inv := NewProcessInvoker(logging.NopLogger())
	ok := config.AgentConfig{
		Name:        "new-enough",
		Command:     "sh",
		Args:        nil,
		VersionArgs: []string{"-c", "echo tool 3.2.1"},
		MinVersion:  "3.0.0",
	}
	old := config.AgentConfig{
		Name:        "too-old",
		Command:     "sh",
		VersionArgs: []string{"-c", "echo tool 1.0.0"},
		MinVersion:  "2.0.0",
	}

	results, err := inv.Verify(context.Background(), ok, old)
	if err == nil {
		t.Fatal("expected verification error for the old agent")
	}
	if !errors.Is(err, errors.ErrVersionBelowMinimum) {
		t.Errorf("error should wrap ErrVersionBelowMinimum: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if !results[0].OK || results[0].Version != "3.2.1" {
		t.Errorf("first agent should verify: %+v", results[0])
	}
	if results[1].OK {
		t.Errorf("second agent should fail: %+v", results[1])
	}
}
