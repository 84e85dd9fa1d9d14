package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	duerr "github.com/duetctl/duet/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "duet.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const minimalConfig = `
agent_a:
  name: claude
  command: claude
agent_b:
  name: codex
  command: codex
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Decision.Mode != DecisionDebate {
		t.Errorf("decision mode = %q, want debate", cfg.Decision.Mode)
	}
	if cfg.Decision.MaxDebateRounds != 2 {
		t.Errorf("debate rounds = %d, want 2", cfg.Decision.MaxDebateRounds)
	}
	if cfg.Implementation.Strategy != StrategyJoint {
		t.Errorf("strategy = %q, want joint", cfg.Implementation.Strategy)
	}
	if cfg.Implementation.MaxRounds != 3 {
		t.Errorf("impl rounds = %d, want 3", cfg.Implementation.MaxRounds)
	}
	if !cfg.Review.Enabled {
		t.Error("review should default to enabled")
	}
	if !cfg.Guardrail.ProtectDependencies {
		t.Error("dependency protection should default to enabled")
	}
	if cfg.AgentA.PromptMode != PromptStdin {
		t.Errorf("prompt mode = %q, want stdin", cfg.AgentA.PromptMode)
	}
	if cfg.StateDir != ".duet" {
		t.Errorf("state dir = %q, want .duet", cfg.StateDir)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
decision:
  mode: judge
  judge: codex
implementation:
  strategy: parallel
  max_rounds: 5
guardrail:
  max_files: 10
  forbidden_paths:
    - "*.lock"
    - "secrets/*"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Decision.Mode != DecisionJudge || cfg.Decision.Judge != "codex" {
		t.Errorf("decision = %+v", cfg.Decision)
	}
	if cfg.Implementation.Strategy != StrategyParallel || cfg.Implementation.MaxRounds != 5 {
		t.Errorf("implementation = %+v", cfg.Implementation)
	}
	if cfg.Guardrail.MaxFiles != 10 {
		t.Errorf("max files = %d, want 10", cfg.Guardrail.MaxFiles)
	}
	if len(cfg.Guardrail.ForbiddenPaths) != 2 {
		t.Errorf("forbidden paths = %v", cfg.Guardrail.ForbiddenPaths)
	}
}

func TestLoadRejectsMissingCommand(t *testing.T) {
	_, err := Load(writeConfig(t, `
agent_a:
  name: claude
agent_b:
  name: codex
  command: codex
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !duerr.Is(err, duerr.ErrConfigInvalid) {
		t.Errorf("error should wrap ErrConfigInvalid, got %v", err)
	}
	if !strings.Contains(err.Error(), "agent_a.command") {
		t.Errorf("error should name the missing field: %v", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := &Config{
		AgentA:         AgentConfig{Name: "same", Command: "x", PromptMode: PromptStdin, TimeoutSeconds: 1},
		AgentB:         AgentConfig{Name: "same", Command: "y", PromptMode: "carrier-pigeon", TimeoutSeconds: 1},
		Decision:       DecisionConfig{Mode: "coin-flip", MaxDebateRounds: 0},
		Implementation: ImplementationConfig{Strategy: "solo", MaxRounds: 0, PatchMode: "maybe"},
		Convergence:    ConvergenceConfig{MaxRounds: 1},
		Guardrail:      GuardrailConfig{MaxFiles: 1, MaxAddedLines: 1, MaxRemovedLines: 1},
		StateDir:       ".duet",
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"must differ", "coin-flip", "carrier-pigeon", "solo", "max_rounds", "patch_mode", "max_debate_rounds"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q:\n%v", want, err)
		}
	}
}

func TestValidateJudgeMustBeConfiguredAgent(t *testing.T) {
	cfg := &Config{
		AgentA:         AgentConfig{Name: "a", Command: "x", PromptMode: PromptStdin, TimeoutSeconds: 1},
		AgentB:         AgentConfig{Name: "b", Command: "y", PromptMode: PromptStdin, TimeoutSeconds: 1},
		Decision:       DecisionConfig{Mode: DecisionJudge, Judge: "stranger", MaxDebateRounds: 1},
		Implementation: ImplementationConfig{Strategy: StrategyJoint, MaxRounds: 1, PatchMode: PatchAuto},
		Convergence:    ConvergenceConfig{MaxRounds: 1},
		Guardrail:      GuardrailConfig{MaxFiles: 1, MaxAddedLines: 1, MaxRemovedLines: 1},
		StateDir:       ".duet",
	}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "stranger") {
		t.Errorf("expected judge validation error, got %v", err)
	}
}

func TestTestConfigEnabled(t *testing.T) {
	if (TestConfig{}).Enabled() {
		t.Error("empty command should disable tests")
	}
	if !(TestConfig{Command: "go test ./..."}).Enabled() {
		t.Error("non-empty command should enable tests")
	}
}
