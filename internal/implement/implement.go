// Package implement executes the decided implementation strategy. Parallel
// runs each agent once in its own worktree with no interaction; joint runs
// a bounded driver/navigator loop over one shared worktree, with the
// navigator proposing per-round patches and roles swapping at the
// configured decision points.
package implement

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/duetctl/duet/internal/agent"
	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/decision"
	"github.com/duetctl/duet/internal/diffutil"
	"github.com/duetctl/duet/internal/logging"
	"github.com/duetctl/duet/internal/roles"
	"github.com/duetctl/duet/internal/tests"
	"github.com/duetctl/duet/internal/worktree"
)

// Round records one joint-loop round: the role snapshot, the accumulated
// diff after the round, the navigator's patch and its outcome, and the
// last test result.
type Round struct {
	Ordinal        int           `json:"ordinal"`
	Roles          roles.Pair    `json:"roles"`
	Diff           string        `json:"-"`
	NavigatorPatch string        `json:"-"`
	PatchEmpty     bool          `json:"patch_empty"`
	PatchApplied   bool          `json:"patch_applied"`
	Tests          tests.Outcome `json:"tests"`
	Activity       []string      `json:"-"`
}

// AgentOutcome is one agent's independent result under the parallel
// strategy.
type AgentOutcome struct {
	Agent        string         `json:"agent"`
	Diff         string         `json:"-"`
	ChangedFiles []string       `json:"changed_files"`
	Stats        diffutil.Stats `json:"stats"`
	ExitCode     int            `json:"exit_code"`
}

// Result is the implementation phase outcome. Diff is always the
// accumulated diff from the pristine base to the final driver state.
type Result struct {
	Strategy      string         `json:"strategy"`
	Diff          string         `json:"-"`
	ChangedFiles  []string       `json:"changed_files"`
	Stats         diffutil.Stats `json:"stats"`
	Roles         roles.Pair     `json:"roles"`
	Rounds        []Round        `json:"rounds,omitempty"`
	Converged     bool           `json:"converged"`
	StoppedUnsafe bool           `json:"stopped_unsafe,omitempty"`
	PerAgent      []AgentOutcome `json:"per_agent,omitempty"`
	DriverDir     string         `json:"-"`
}

// Engine runs the implementation phase.
type Engine struct {
	invoker   agent.Invoker
	cfg       *config.Config
	worktrees *worktree.Manager
	diffs     *diffutil.Reconciler
	tests     *tests.Runner
	log       *logging.Logger

	// Watch, when set, is called with the driver worktree at the start of
	// each joint round; the returned stop function yields activity lines
	// recorded during the round.
	Watch func(dir string) (stop func() []string)
}

// NewEngine creates an implementation Engine.
func NewEngine(invoker agent.Invoker, cfg *config.Config, wt *worktree.Manager, diffs *diffutil.Reconciler, runner *tests.Runner, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Engine{invoker: invoker, cfg: cfg, worktrees: wt, diffs: diffs, tests: runner, log: log}
}

// Run executes the configured strategy. baseRoot is the pristine project
// tree; workRoot is the run-private directory worktrees are created under.
func (e *Engine) Run(ctx context.Context, info agent.RunInfo, baseRoot, workRoot, planText string, d decision.Decision) (Result, []agent.Result, error) {
	switch e.cfg.Implementation.Strategy {
	case config.StrategyParallel:
		return e.parallel(ctx, info, baseRoot, workRoot, planText, d)
	case config.StrategyJoint:
		return e.joint(ctx, info, baseRoot, workRoot, planText, d)
	default:
		return Result{}, nil, fmt.Errorf("implement: unknown strategy %q", e.cfg.Implementation.Strategy)
	}
}

// parallel runs each agent once in its own worktree. The agents never see
// each other's work; invocation is still sequential (single control
// thread). The execution driver's diff becomes the phase result.
func (e *Engine) parallel(ctx context.Context, info agent.RunInfo, baseRoot, workRoot, planText string, d decision.Decision) (Result, []agent.Result, error) {
	driverName := d.ExecutionDriver
	if driverName == "" {
		driverName = e.cfg.AgentA.Name
	}

	var results []agent.Result
	var outcomes []AgentOutcome

	for _, a := range []config.AgentConfig{e.cfg.AgentA, e.cfg.AgentB} {
		dest := filepath.Join(workRoot, a.Name)
		if err := e.worktrees.Acquire(baseRoot, dest); err != nil {
			return Result{}, results, err
		}

		res, err := e.invoker.Invoke(ctx, info.Request(a, "implement", e.parallelPrompt(planText), dest))
		if err != nil {
			return Result{}, results, err
		}
		results = append(results, res)

		diffText, err := e.captureDiff(baseRoot, dest)
		if err != nil {
			return Result{}, results, err
		}
		outcomes = append(outcomes, AgentOutcome{
			Agent:        a.Name,
			Diff:         diffText,
			ChangedFiles: diffutil.ExtractChangedFiles(diffText),
			Stats:        diffutil.ComputeStats(diffText),
			ExitCode:     res.ExitCode,
		})
	}

	result := Result{
		Strategy:  config.StrategyParallel,
		Roles:     roles.NewPair(driverName, e.otherAgent(driverName).Name),
		PerAgent:  outcomes,
		Converged: true,
	}
	for _, o := range outcomes {
		if o.Agent == driverName {
			result.Diff = o.Diff
			result.ChangedFiles = o.ChangedFiles
			result.Stats = o.Stats
			result.DriverDir = filepath.Join(workRoot, o.Agent)
		}
	}
	return result, results, nil
}

// joint runs the bounded driver/navigator loop over one shared worktree.
// Stop conditions are checked in order after each round: empty navigator
// patch with tests absent or passing converges; a patch that failed to
// apply stops the loop as unsafe; otherwise the configured swap rules
// decide the next round's roles.
func (e *Engine) joint(ctx context.Context, info agent.RunInfo, baseRoot, workRoot, planText string, d decision.Decision) (Result, []agent.Result, error) {
	driverName := d.ExecutionDriver
	if driverName == "" {
		driverName = e.cfg.AgentA.Name
	}
	pair := roles.NewPair(driverName, e.otherAgent(driverName).Name)

	driverDir := filepath.Join(workRoot, "driver")
	navDir := filepath.Join(workRoot, "navigator")
	if err := e.worktrees.Acquire(baseRoot, driverDir); err != nil {
		return Result{}, nil, err
	}

	imp := e.cfg.Implementation
	var (
		results   []agent.Result
		rounds    []Round
		navNotes  string
		lastTest  tests.Outcome
		converged bool
		unsafe    bool
	)

	for ordinal := 1; ordinal <= imp.MaxRounds; ordinal++ {
		phase := fmt.Sprintf("implement/round-%02d", ordinal)
		log := e.log.WithPhase(phase)
		log.Info("joint round", "driver", pair.Primary, "navigator", pair.Secondary)

		var stop func() []string
		if e.Watch != nil {
			stop = e.Watch(driverDir)
		}

		driverRes, err := e.invoker.Invoke(ctx, info.Request(e.agentByName(pair.Primary), phase,
			e.driverPrompt(planText, navNotes, lastTest, ordinal), driverDir))
		if err != nil {
			return Result{}, results, err
		}
		results = append(results, driverRes)

		diffText, err := e.captureDiff(baseRoot, driverDir)
		if err != nil {
			return Result{}, results, err
		}

		lastTest = e.tests.Run(ctx, driverDir)

		if err := e.cloneNavigator(driverDir, navDir); err != nil {
			return Result{}, results, err
		}
		navRes, err := e.invoker.Invoke(ctx, info.Request(e.agentByName(pair.Secondary), phase,
			e.navigatorPrompt(planText, diffText), navDir))
		if err != nil {
			return Result{}, results, err
		}
		results = append(results, navRes)
		navNotes = strings.TrimSpace(navRes.Stdout)

		patch, err := e.diffs.Diff(driverDir, navDir)
		if err != nil {
			return Result{}, results, err
		}
		patchEmpty := strings.TrimSpace(patch) == ""

		applied := false
		if imp.PatchMode == config.PatchAuto && !patchEmpty {
			ar, err := e.diffs.ApplyPatch(driverDir, patch)
			if err != nil {
				return Result{}, results, err
			}
			applied = ar.Applied
			if applied {
				if diffText, err = e.captureDiff(baseRoot, driverDir); err != nil {
					return Result{}, results, err
				}
				lastTest = e.tests.Run(ctx, driverDir)
			}
		}

		round := Round{
			Ordinal:        ordinal,
			Roles:          pair,
			Diff:           diffText,
			NavigatorPatch: patch,
			PatchEmpty:     patchEmpty,
			PatchApplied:   applied,
			Tests:          lastTest,
		}
		if stop != nil {
			round.Activity = stop()
		}
		rounds = append(rounds, round)

		if patchEmpty && lastTest.Passed() {
			log.Info("converged", "round", ordinal)
			converged = true
			break
		}
		if imp.PatchMode == config.PatchAuto && !patchEmpty && !applied {
			log.Warn("navigator patch did not apply, stopping", "round", ordinal)
			unsafe = true
			break
		}
		if imp.SwapOnTestFailure && lastTest.Failed() {
			pair = pair.Swap()
			log.Info("swapping roles after test failure", "driver", pair.Primary)
			continue
		}
		if imp.SwapEveryRound && ordinal < imp.MaxRounds {
			pair = pair.Swap()
		}
	}

	finalDiff, err := e.captureDiff(baseRoot, driverDir)
	if err != nil {
		return Result{}, results, err
	}
	return Result{
		Strategy:      config.StrategyJoint,
		Diff:          finalDiff,
		ChangedFiles:  diffutil.ExtractChangedFiles(finalDiff),
		Stats:         diffutil.ComputeStats(finalDiff),
		Roles:         pair,
		Rounds:        rounds,
		Converged:     converged,
		StoppedUnsafe: unsafe,
		DriverDir:     driverDir,
	}, results, nil
}

// captureDiff returns the accumulated diff from the pristine base to dir:
// a version-control diff against the detached HEAD when dir is a
// repository worktree, a recursive tree diff otherwise.
func (e *Engine) captureDiff(baseRoot, dir string) (string, error) {
	if worktree.IsRepository(dir) {
		return e.diffs.DiffWorking(dir)
	}
	return e.diffs.Diff(baseRoot, dir)
}

// cloneNavigator materializes the navigator worktree from the driver's
// current state, uncommitted edits included. The first round copies; later
// rounds reconcile in place.
func (e *Engine) cloneNavigator(driverDir, navDir string) error {
	if pathExists(navDir) {
		return e.worktrees.Sync(driverDir, navDir)
	}
	return worktree.CopyTree(driverDir, navDir)
}

func (e *Engine) agentByName(name string) config.AgentConfig {
	if name == e.cfg.AgentB.Name {
		return e.cfg.AgentB
	}
	return e.cfg.AgentA
}

func (e *Engine) otherAgent(name string) config.AgentConfig {
	if name == e.cfg.AgentA.Name {
		return e.cfg.AgentB
	}
	return e.cfg.AgentA
}

func (e *Engine) parallelPrompt(planText string) string {
	var sb strings.Builder
	sb.WriteString("Implement the execution plan below by editing files in your working ")
	sb.WriteString("directory. Work independently and completely; do not leave steps for later.\n\n")
	sb.WriteString("## Execution plan\n")
	sb.WriteString(planText)
	sb.WriteString("\n")
	return sb.String()
}

func (e *Engine) driverPrompt(planText, navNotes string, lastTest tests.Outcome, round int) string {
	var sb strings.Builder
	if round == 1 {
		sb.WriteString("You are the driver. Implement the execution plan below by editing ")
		sb.WriteString("files in your working directory.\n\n")
	} else {
		sb.WriteString("You are the driver. Continue implementing the execution plan, ")
		sb.WriteString("addressing the navigator's notes from the previous round.\n\n")
	}
	sb.WriteString("## Execution plan\n")
	sb.WriteString(planText)
	sb.WriteString("\n")
	if navNotes != "" {
		sb.WriteString("\n## Navigator notes\n")
		sb.WriteString(navNotes)
		sb.WriteString("\n")
	}
	if lastTest.Ran {
		fmt.Fprintf(&sb, "\n## Last test run (exit %d)\n%s\n", lastTest.ExitCode, tail(lastTest.Output, 2000))
	}
	return sb.String()
}

func (e *Engine) navigatorPrompt(planText, diffText string) string {
	var sb strings.Builder
	sb.WriteString("You are the navigator. Review the driver's changes below against the ")
	sb.WriteString("execution plan. Apply any corrections directly to the files in your ")
	sb.WriteString("working copy, and summarize remaining concerns on standard output.\n\n")
	sb.WriteString("## Execution plan\n")
	sb.WriteString(planText)
	sb.WriteString("\n\n## Driver changes so far\n")
	sb.WriteString(tail(diffText, 16000))
	sb.WriteString("\n")
	return sb.String()
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// tail returns at most limit trailing bytes of s.
func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return "…" + s[len(s)-limit:]
}
