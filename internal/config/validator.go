package config

import (
	"fmt"
	"strings"

	duerr "github.com/duetctl/duet/internal/errors"
)

// Validate checks a resolved Config and returns an error describing every
// problem found. Validation runs once, at load time; downstream components
// assume a valid Config.
func Validate(cfg *Config) error {
	var problems []string

	problems = append(problems, validateAgent("agent_a", cfg.AgentA)...)
	problems = append(problems, validateAgent("agent_b", cfg.AgentB)...)

	if cfg.AgentA.Name == cfg.AgentB.Name {
		problems = append(problems, "agent_a.name and agent_b.name must differ")
	}

	switch cfg.Decision.Mode {
	case DecisionPreferA, DecisionPreferB, DecisionNeither, DecisionJudge, DecisionDebate:
	default:
		problems = append(problems, fmt.Sprintf("decision.mode: unknown mode %q", cfg.Decision.Mode))
	}
	if cfg.Decision.Mode == DecisionJudge && cfg.Decision.Judge != "" {
		if cfg.Decision.Judge != cfg.AgentA.Name && cfg.Decision.Judge != cfg.AgentB.Name {
			problems = append(problems, fmt.Sprintf("decision.judge: %q is not a configured agent", cfg.Decision.Judge))
		}
	}
	if cfg.Decision.MaxDebateRounds < 1 {
		problems = append(problems, "decision.max_debate_rounds: must be at least 1")
	}

	switch cfg.Implementation.Strategy {
	case StrategyParallel, StrategyJoint:
	default:
		problems = append(problems, fmt.Sprintf("implementation.strategy: unknown strategy %q", cfg.Implementation.Strategy))
	}
	if cfg.Implementation.MaxRounds < 1 {
		problems = append(problems, "implementation.max_rounds: must be at least 1")
	}
	switch cfg.Implementation.PatchMode {
	case PatchAuto, PatchManual:
	default:
		problems = append(problems, fmt.Sprintf("implementation.patch_mode: unknown mode %q", cfg.Implementation.PatchMode))
	}

	if cfg.Convergence.MaxRounds < 1 {
		problems = append(problems, "convergence.max_rounds: must be at least 1")
	}

	if cfg.Guardrail.MaxFiles < 1 {
		problems = append(problems, "guardrail.max_files: must be at least 1")
	}
	if cfg.Guardrail.MaxAddedLines < 1 {
		problems = append(problems, "guardrail.max_added_lines: must be at least 1")
	}
	if cfg.Guardrail.MaxRemovedLines < 1 {
		problems = append(problems, "guardrail.max_removed_lines: must be at least 1")
	}

	if cfg.StateDir == "" {
		problems = append(problems, "state_dir: must not be empty")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w:\n  %s", duerr.ErrConfigInvalid, strings.Join(problems, "\n  "))
}

func validateAgent(prefix string, a AgentConfig) []string {
	var problems []string
	if strings.TrimSpace(a.Name) == "" {
		problems = append(problems, prefix+".name: must not be empty")
	}
	if strings.TrimSpace(a.Command) == "" {
		problems = append(problems, prefix+".command: must not be empty")
	}
	switch a.PromptMode {
	case PromptStdin, PromptFile, PromptArg:
	default:
		problems = append(problems, fmt.Sprintf("%s.prompt_mode: unknown mode %q", prefix, a.PromptMode))
	}
	if a.TimeoutSeconds < 1 {
		problems = append(problems, prefix+".timeout_seconds: must be at least 1")
	}
	return problems
}
