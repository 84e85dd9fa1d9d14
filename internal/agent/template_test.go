package agent

import (
	"reflect"
	"testing"
)

func TestExpandArgs(t *testing.T) {
	sub := Substitution{
		WorkDir:      "/tmp/wt",
		Phase:        "planning",
		Prompt:       "do the thing",
		PromptFile:   "/tmp/p.md",
		Task:         "fix bug",
		Session:      "s1",
		Run:          "r1",
		Agent:        "claude",
		Mode:         "full",
		Version:      "2.1.0",
		Capabilities: "code,review",
	}

	args := ExpandArgs([]string{
		"--cwd", "{workdir}",
		"--phase={phase}",
		"-p", "{prompt}",
		"--meta", "{agent}/{run}/{mode}",
		"--caps", "{capabilities}",
		"--unknown", "{not_a_placeholder}",
	}, sub)

	want := []string{
		"--cwd", "/tmp/wt",
		"--phase=planning",
		"-p", "do the thing",
		"--meta", "claude/r1/full",
		"--caps", "code,review",
		"--unknown", "{not_a_placeholder}",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("ExpandArgs = %v, want %v", args, want)
	}
}

func TestEnvironCarriesAllFields(t *testing.T) {
	sub := Substitution{
		WorkDir: "/w", Phase: "review", Task: "t", Session: "s", Run: "r",
		Agent: "b", Mode: "bugfix", Version: "1.0.0", Capabilities: "code",
	}
	env := sub.Environ()

	seen := make(map[string]bool, len(env))
	for _, e := range env {
		seen[e] = true
	}
	want := []string{
		"DUET_WORKDIR=/w",
		"DUET_PHASE=review",
		"DUET_TASK=t",
		"DUET_SESSION=s",
		"DUET_RUN=r",
		"DUET_AGENT=b",
		"DUET_MODE=bugfix",
		"DUET_AGENT_VERSION=1.0.0",
		"DUET_CAPABILITIES=code",
	}
	for _, k := range want {
		if !seen[k] {
			t.Errorf("environment missing %q", k)
		}
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.2", "1.2.0", 0},
		{"2.0.0", "1.9.9", 1},
		{"1.9.9", "2.0.0", -1},
		{"1.10.0", "1.9.0", 1},
		{"0.5", "0.12", -1},
	}
	for _, tt := range tests {
		if got := compareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("compareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
