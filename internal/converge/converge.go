// Package converge runs the bounded post-review fix/critique loop. The
// fixer (the last implementer) addresses the merged blocker and warning
// list under a minimal-diff rule; the critic re-reviews the recomputed
// diff, and the fresh review replaces the prior round's. Exhausting the
// round bound is a soft deadline, never an error: downstream consumers see
// the latest review and diff either way.
package converge

import (
	"context"
	"fmt"
	"strings"

	"github.com/duetctl/duet/internal/agent"
	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/diffutil"
	"github.com/duetctl/duet/internal/logging"
	"github.com/duetctl/duet/internal/review"
	"github.com/duetctl/duet/internal/roles"
	"github.com/duetctl/duet/internal/tests"
	"github.com/duetctl/duet/internal/worktree"
)

// Round records one fix/critique round.
type Round struct {
	Ordinal int            `json:"ordinal"`
	Roles   roles.Pair     `json:"roles"`
	Review  review.Summary `json:"review"`
	Parsed  bool           `json:"parsed"`
	Diff    string         `json:"-"`
	Tests   tests.Outcome  `json:"tests"`
}

// Result is the convergence outcome: the latest review and diff, whether
// the stop condition was met, and the final role assignment.
type Result struct {
	Review       review.Summary `json:"review"`
	Diff         string         `json:"-"`
	ChangedFiles []string       `json:"changed_files"`
	Rounds       []Round        `json:"rounds"`
	Converged    bool           `json:"converged"`
	Roles        roles.Pair     `json:"roles"`
}

// Engine runs the convergence loop.
type Engine struct {
	invoker agent.Invoker
	cfg     *config.Config
	diffs   *diffutil.Reconciler
	tests   *tests.Runner
	log     *logging.Logger
}

// NewEngine creates a convergence Engine.
func NewEngine(invoker agent.Invoker, cfg *config.Config, diffs *diffutil.Reconciler, runner *tests.Runner, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Engine{invoker: invoker, cfg: cfg, diffs: diffs, tests: runner, log: log}
}

// Needed reports whether convergence should run at all: review must be
// enabled, and either the initial review carries blockers or the
// pre-convergence tests failed.
func Needed(cfg *config.Config, initial review.Summary, testsFailed bool) bool {
	if !cfg.Review.Enabled {
		return false
	}
	return initial.HasBlockers() || testsFailed
}

// Converge runs rounds 1..MaxRounds over the driver worktree. pair holds
// the initial assignment: Primary fixes, Secondary critiques. The loop
// stops at the first round with zero blockers and tests disabled or
// passing; otherwise the roles swap and the next round runs.
func (e *Engine) Converge(ctx context.Context, info agent.RunInfo, baseRoot, workDir string, pair roles.Pair, initial review.Summary) (Result, []agent.Result, error) {
	var (
		results []agent.Result
		rounds  []Round
		current = initial
		diff    string
		err     error
	)

	maxRounds := e.cfg.Convergence.MaxRounds
	for ordinal := 1; ordinal <= maxRounds; ordinal++ {
		phase := fmt.Sprintf("converge/round-%02d", ordinal)
		log := e.log.WithPhase(phase)
		log.Info("convergence round", "fixer", pair.Primary, "critic", pair.Secondary)

		fixRes, err := e.invoker.Invoke(ctx, info.Request(e.agentByName(pair.Primary), phase,
			e.fixerPrompt(current), workDir))
		if err != nil {
			return Result{}, results, err
		}
		results = append(results, fixRes)

		outcome := e.tests.Run(ctx, workDir)

		diff, err = e.captureDiff(baseRoot, workDir)
		if err != nil {
			return Result{}, results, err
		}

		critRes, err := e.invoker.Invoke(ctx, info.Request(e.agentByName(pair.Secondary), phase,
			e.criticPrompt(diff), workDir))
		if err != nil {
			return Result{}, results, err
		}
		results = append(results, critRes)

		// The fresh review replaces the prior round's entirely.
		fresh, parsed := review.Parse(critRes.Stdout)
		if !parsed {
			log.Warn("critic produced no structured review", "agent", pair.Secondary)
		}
		current = fresh

		rounds = append(rounds, Round{
			Ordinal: ordinal,
			Roles:   pair,
			Review:  fresh,
			Parsed:  parsed,
			Diff:    diff,
			Tests:   outcome,
		})

		if !current.HasBlockers() && outcome.Passed() {
			log.Info("converged", "round", ordinal)
			return Result{
				Review:       current,
				Diff:         diff,
				ChangedFiles: diffutil.ExtractChangedFiles(diff),
				Rounds:       rounds,
				Converged:    true,
				Roles:        pair,
			}, results, nil
		}
		pair = pair.Swap()
	}

	e.log.Warn("convergence bound exhausted", "rounds", maxRounds, "blockers", len(current.Blockers))
	if diff == "" {
		if diff, err = e.captureDiff(baseRoot, workDir); err != nil {
			return Result{}, results, err
		}
	}
	return Result{
		Review:       current,
		Diff:         diff,
		ChangedFiles: diffutil.ExtractChangedFiles(diff),
		Rounds:       rounds,
		Converged:    false,
		Roles:        pair,
	}, results, nil
}

func (e *Engine) captureDiff(baseRoot, dir string) (string, error) {
	if worktree.IsRepository(dir) {
		return e.diffs.DiffWorking(dir)
	}
	return e.diffs.Diff(baseRoot, dir)
}

func (e *Engine) agentByName(name string) config.AgentConfig {
	if name == e.cfg.AgentB.Name {
		return e.cfg.AgentB
	}
	return e.cfg.AgentA
}

func (e *Engine) fixerPrompt(current review.Summary) string {
	var sb strings.Builder
	sb.WriteString("Address the review findings below by editing files in your working ")
	sb.WriteString("directory. Keep the diff minimal: change only what a finding requires. ")
	sb.WriteString("If you disagree with a finding, justify the disagreement in your output ")
	sb.WriteString("instead of silently ignoring it.\n\n")
	if len(current.Blockers) > 0 {
		sb.WriteString("## Blockers\n")
		writeIssues(&sb, current.Blockers)
	}
	if len(current.Warnings) > 0 {
		sb.WriteString("\n## Warnings\n")
		writeIssues(&sb, current.Warnings)
	}
	if current.Notes != "" {
		sb.WriteString("\n## Notes\n")
		sb.WriteString(current.Notes)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (e *Engine) criticPrompt(diff string) string {
	var sb strings.Builder
	sb.WriteString("Review the change below. Respond with a JSON object ")
	sb.WriteString(`{"ok": bool, "blockers": [], "warnings": [], "notes": ""}; `)
	sb.WriteString(`each issue is {"id", "summary", "file", "suggested_fix"}. `)
	sb.WriteString("Report as a blocker only what must change before this can land.\n\n")
	sb.WriteString("## Diff\n")
	sb.WriteString(diff)
	sb.WriteString("\n")
	return sb.String()
}

func writeIssues(sb *strings.Builder, issues []review.Issue) {
	for _, is := range issues {
		fmt.Fprintf(sb, "- [%s] %s", is.ID, is.Summary)
		if is.File != "" {
			fmt.Fprintf(sb, " (%s)", is.File)
		}
		if is.SuggestedFix != "" {
			fmt.Fprintf(sb, "; suggested: %s", is.SuggestedFix)
		}
		sb.WriteString("\n")
	}
}
