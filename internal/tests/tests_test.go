package tests

import (
	"context"
	"strings"
	"testing"

	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/logging"
)

func TestDisabledNeverRuns(t *testing.T) {
	r := NewRunner(config.TestConfig{}, logging.NopLogger())
	out := r.Run(context.Background(), t.TempDir())
	if out.Ran {
		t.Error("empty command must not run")
	}
	if !out.Passed() {
		t.Error("skipped tests count as passing")
	}
	if out.Failed() {
		t.Error("skipped tests are not a failure")
	}
}

func TestPassAndFail(t *testing.T) {
	tests := []struct {
		name    string
		command string
		passed  bool
		exit    int
	}{
		{"passing", "true", true, 0},
		{"failing", "exit 3", false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(config.TestConfig{Command: tt.command, TimeoutSeconds: 30}, logging.NopLogger())
			out := r.Run(context.Background(), t.TempDir())
			if !out.Ran {
				t.Fatal("command did not run")
			}
			if out.Passed() != tt.passed || out.ExitCode != tt.exit {
				t.Errorf("outcome = %+v", out)
			}
		})
	}
}

func TestOutputCaptured(t *testing.T) {
	r := NewRunner(config.TestConfig{Command: "echo out; echo err >&2", TimeoutSeconds: 30}, logging.NopLogger())
	out := r.Run(context.Background(), t.TempDir())
	if !strings.Contains(out.Output, "out") || !strings.Contains(out.Output, "err") {
		t.Errorf("output = %q, want both streams", out.Output)
	}
}

func TestTimeoutKillsProcess(t *testing.T) {
	r := NewRunner(config.TestConfig{Command: "sleep 30", TimeoutSeconds: 1}, logging.NopLogger())
	out := r.Run(context.Background(), t.TempDir())
	if !out.TimedOut || out.ExitCode != -1 {
		t.Errorf("outcome = %+v, want timed out with exit -1", out)
	}
	if out.Passed() {
		t.Error("timed-out run must not pass")
	}
}
