// Package config loads and resolves the duet configuration. The
// configuration is read once at startup, defaulted and validated into a
// single Config value, and then passed through every component. No
// component re-reads or re-defaults configuration mid-run.
package config

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Decision modes.
const (
	DecisionPreferA = "prefer-a"
	DecisionPreferB = "prefer-b"
	DecisionNeither = "neither"
	DecisionJudge   = "judge"
	DecisionDebate  = "debate"
)

// Implementation strategies.
const (
	StrategyParallel = "parallel"
	StrategyJoint    = "joint"
)

// Prompt delivery modes.
const (
	PromptStdin = "stdin"
	PromptFile  = "file"
	PromptArg   = "arg"
)

// Patch apply modes for the joint loop.
const (
	PatchAuto   = "auto"
	PatchManual = "manual"
)

// Config is the fully-resolved duet configuration.
type Config struct {
	AgentA         AgentConfig          `mapstructure:"agent_a"`
	AgentB         AgentConfig          `mapstructure:"agent_b"`
	Decision       DecisionConfig       `mapstructure:"decision"`
	Implementation ImplementationConfig `mapstructure:"implementation"`
	Review         ReviewConfig         `mapstructure:"review"`
	Convergence    ConvergenceConfig    `mapstructure:"convergence"`
	Tests          TestConfig           `mapstructure:"tests"`
	Guardrail      GuardrailConfig      `mapstructure:"guardrail"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Interactive    bool                 `mapstructure:"interactive"`
	StateDir       string               `mapstructure:"state_dir"`
}

// AgentConfig describes how to invoke one external agent.
type AgentConfig struct {
	// Name identifies the agent in decisions, artifacts, and logs.
	Name string `mapstructure:"name"`
	// Command is the agent binary.
	Command string `mapstructure:"command"`
	// Args is the argument template. Placeholders like {prompt} and
	// {workdir} are substituted per invocation.
	Args []string `mapstructure:"args"`
	// PromptMode selects how the prompt reaches the agent: "stdin",
	// "file", or "arg".
	PromptMode string `mapstructure:"prompt_mode"`
	// VersionArgs are the arguments used to probe the agent version.
	VersionArgs []string `mapstructure:"version_args"`
	// MinVersion is the minimum acceptable agent version (semver).
	MinVersion string `mapstructure:"min_version"`
	// Capabilities are free-form tags passed to the agent.
	Capabilities []string `mapstructure:"capabilities"`
	// Env holds additional environment overrides for the agent process.
	Env map[string]string `mapstructure:"env"`
	// TimeoutSeconds bounds each invocation. The process is killed on
	// expiry and the call reported as timed out.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// DecisionConfig controls how the two agents' proposals are reconciled.
type DecisionConfig struct {
	// Mode is one of prefer-a, prefer-b, neither, judge, debate.
	Mode string `mapstructure:"mode"`
	// Judge names the judging agent for judge mode. Defaults to agent A.
	Judge string `mapstructure:"judge"`
	// MaxDebateRounds bounds the mutual-critique loop in debate mode.
	MaxDebateRounds int `mapstructure:"max_debate_rounds"`
}

// ImplementationConfig controls the implementation phase.
type ImplementationConfig struct {
	// Strategy is "parallel" or "joint".
	Strategy string `mapstructure:"strategy"`
	// MaxRounds bounds the joint loop.
	MaxRounds int `mapstructure:"max_rounds"`
	// PatchMode is "auto" (navigator patches applied immediately) or
	// "manual" (patches recorded only).
	PatchMode string `mapstructure:"patch_mode"`
	// SwapEveryRound swaps driver/navigator after every round.
	SwapEveryRound bool `mapstructure:"swap_every_round"`
	// SwapOnTestFailure swaps driver/navigator when the last test run failed.
	SwapOnTestFailure bool `mapstructure:"swap_on_test_failure"`
}

// ReviewConfig controls the review phase.
type ReviewConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ConvergenceConfig controls the post-review fix/critique loop.
type ConvergenceConfig struct {
	MaxRounds int `mapstructure:"max_rounds"`
}

// TestConfig controls optional test runs between rounds.
type TestConfig struct {
	// Command is the shell command to run, empty disables tests.
	Command string `mapstructure:"command"`
	// TimeoutSeconds bounds each test run.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// Enabled reports whether a test command is configured.
func (t TestConfig) Enabled() bool { return strings.TrimSpace(t.Command) != "" }

// GuardrailConfig is the safety policy checked before the final apply.
type GuardrailConfig struct {
	MaxFiles            int      `mapstructure:"max_files"`
	MaxAddedLines       int      `mapstructure:"max_added_lines"`
	MaxRemovedLines     int      `mapstructure:"max_removed_lines"`
	ForbiddenPaths      []string `mapstructure:"forbidden_paths"`
	ProtectDependencies bool     `mapstructure:"protect_dependencies"`
	// DependencyFiles overrides the builtin manifest/lockfile set.
	DependencyFiles []string `mapstructure:"dependency_files"`
}

// LoggingConfig controls the structured run log.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the given file (or the default search
// paths when file is empty), applies defaults, and validates. The returned
// Config is complete: no downstream component applies further defaults.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DUET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName(".duet")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		// A missing config file is fine: defaults plus env cover it.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent_a.name", "a")
	v.SetDefault("agent_b.name", "b")
	v.SetDefault("agent_a.prompt_mode", PromptStdin)
	v.SetDefault("agent_b.prompt_mode", PromptStdin)
	v.SetDefault("agent_a.timeout_seconds", 600)
	v.SetDefault("agent_b.timeout_seconds", 600)

	v.SetDefault("decision.mode", DecisionDebate)
	v.SetDefault("decision.max_debate_rounds", 2)

	v.SetDefault("implementation.strategy", StrategyJoint)
	v.SetDefault("implementation.max_rounds", 3)
	v.SetDefault("implementation.patch_mode", PatchAuto)
	v.SetDefault("implementation.swap_on_test_failure", true)

	v.SetDefault("review.enabled", true)
	v.SetDefault("convergence.max_rounds", 2)

	v.SetDefault("tests.timeout_seconds", 600)

	v.SetDefault("guardrail.max_files", 40)
	v.SetDefault("guardrail.max_added_lines", 4000)
	v.SetDefault("guardrail.max_removed_lines", 2000)
	v.SetDefault("guardrail.protect_dependencies", true)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("state_dir", ".duet")
}
