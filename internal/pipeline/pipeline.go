// Package pipeline sequences the phases of a run: planning, proposing,
// deciding, execution planning, implementing, reviewing, and converging,
// ending in a single reviewed patch. Every phase commits its artifacts
// before the next phase reads them; the guardrail is evaluated exactly
// once, immediately before the final apply to the working tree.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/duetctl/duet/internal/agent"
	"github.com/duetctl/duet/internal/artifact"
	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/contextpack"
	"github.com/duetctl/duet/internal/converge"
	"github.com/duetctl/duet/internal/decision"
	"github.com/duetctl/duet/internal/diffutil"
	"github.com/duetctl/duet/internal/guardrail"
	"github.com/duetctl/duet/internal/implement"
	"github.com/duetctl/duet/internal/logging"
	"github.com/duetctl/duet/internal/memory"
	"github.com/duetctl/duet/internal/monitor"
	"github.com/duetctl/duet/internal/plan"
	"github.com/duetctl/duet/internal/prompt"
	"github.com/duetctl/duet/internal/render"
	"github.com/duetctl/duet/internal/review"
	"github.com/duetctl/duet/internal/roles"
	"github.com/duetctl/duet/internal/session"
	"github.com/duetctl/duet/internal/tests"
	"github.com/duetctl/duet/internal/worktree"
)

// Run modes.
const (
	ModeFull      = "full"
	ModePlan      = "plan"
	ModeImplement = "implement"
	ModeBugfix    = "bugfix"
)

// Options select what one invocation runs.
type Options struct {
	Task        string
	Session     string
	Mode        string
	FromRun     string
	Interactive bool
}

// Outcome is what the CLI reports after a run.
type Outcome struct {
	Run       session.Run
	Report    render.RunReport
	FinalDiff string
}

// Verifier is implemented by invokers that can check agent binaries and
// versions before the pipeline starts.
type Verifier interface {
	Verify(ctx context.Context, agents ...config.AgentConfig) ([]agent.VerifyResult, error)
}

// Controller owns the run lifecycle and artifact persistence. All other
// components are functions over (config, inputs).
type Controller struct {
	cfg       *config.Config
	root      string
	artifacts *artifact.Store
	sessions  *session.Store
	memories  *memory.Store
	invoker   agent.Invoker
	diffs     *diffutil.Reconciler
	tests     *tests.Runner
	decider   *decision.Engine
	planner   *plan.Planner
	builder   *contextpack.Builder
	log       *logging.Logger

	implementer *implement.Engine
	converger   *converge.Engine

	// Confirm is the interactive driver-override hook; the default shows
	// the terminal prompt. Replaceable in tests.
	Confirm func(d decision.Decision, agentA, agentB string) (prompt.Override, error)
}

// New wires a Controller for the project at root.
func New(cfg *config.Config, root string, invoker agent.Invoker, log *logging.Logger) *Controller {
	if log == nil {
		log = logging.NopLogger()
	}
	store := artifact.NewStore(filepath.Join(root, cfg.StateDir))
	mem := memory.NewStore(filepath.Join(root, cfg.StateDir, "memory.jsonl"))
	diffs := diffutil.NewReconciler(log)
	runner := tests.NewRunner(cfg.Tests, log)
	wt := worktree.NewManager(log)

	impl := implement.NewEngine(invoker, cfg, wt, diffs, runner, log)
	impl.Watch = func(dir string) func() []string {
		w, err := monitor.Watch(dir, log)
		if err != nil {
			log.Warn("activity watch unavailable", "error", err)
			return func() []string { return nil }
		}
		return w.Stop
	}

	return &Controller{
		cfg:         cfg,
		root:        root,
		artifacts:   store,
		sessions:    session.NewStore(store),
		memories:    mem,
		invoker:     invoker,
		diffs:       diffs,
		tests:       runner,
		decider:     decision.NewEngine(invoker, cfg, log),
		planner:     plan.NewPlanner(invoker, cfg, log),
		builder:     contextpack.NewBuilder(mem, log),
		implementer: impl,
		converger:   converge.NewEngine(invoker, cfg, diffs, runner, log),
		log:         log,
		Confirm:     prompt.ConfirmDriver,
	}
}

// Sessions exposes the session store for listing commands.
func (c *Controller) Sessions() *session.Store { return c.sessions }

// Run executes one pipeline run and returns its outcome. Fatal errors
// (configuration, verification, worktree collisions, version-control
// failures) abort the run; agent failures, unparseable output, patch
// failures, and guardrail violations are absorbed into the artifacts.
func (c *Controller) Run(ctx context.Context, opts Options) (Outcome, error) {
	if opts.Mode == "" {
		opts.Mode = ModeFull
	}
	switch opts.Mode {
	case ModeFull, ModePlan, ModeImplement, ModeBugfix:
	default:
		return Outcome{}, fmt.Errorf("run: unknown mode %q", opts.Mode)
	}

	if v, ok := c.invoker.(Verifier); ok {
		if _, err := v.Verify(ctx, c.cfg.AgentA, c.cfg.AgentB); err != nil {
			return Outcome{}, err
		}
	}

	sess, err := c.sessions.Open(opts.Session, opts.Task)
	if err != nil {
		return Outcome{}, err
	}
	run, err := c.sessions.NewRun(sess, opts.Mode, opts.FromRun)
	if err != nil {
		return Outcome{}, err
	}

	log := c.log.WithSession(sess.ID).WithRun(run.ID)
	log.Info("run started", "mode", run.Mode)

	info := agent.RunInfo{Task: sess.Task, Session: sess.ID, Run: run.ID, Mode: run.Mode}
	report := render.RunReport{Session: sess.ID, Run: run.ID, Mode: run.Mode}

	if err := c.artifacts.PutString(artifact.RunKey(sess.ID, run.ID, "task.md"), sess.Task); err != nil {
		return Outcome{}, err
	}
	pack, err := c.builder.Build(c.root, sess.Task, c.sessions.AncestorSummary(run))
	if err != nil {
		return Outcome{}, err
	}
	if err := c.artifacts.PutString(artifact.RunKey(sess.ID, run.ID, "context.md"), pack); err != nil {
		return Outcome{}, err
	}

	switch run.Mode {
	case ModeBugfix:
		return c.runBugfix(ctx, info, run, report)
	case ModeImplement:
		d, planText, err := c.recordedOrDefault(sess.ID, run)
		if err != nil {
			return Outcome{}, err
		}
		report.Decision = d
		return c.runImplementation(ctx, info, run, report, d, planText)
	}

	// Planning and proposing: each agent works independently from the
	// same task and context pack.
	inputs, err := c.planAndPropose(ctx, info, pack)
	if err != nil {
		return Outcome{}, err
	}

	d, err := c.decide(ctx, info, run, inputs, opts.Interactive, &report)
	if err != nil {
		return Outcome{}, err
	}
	report.Decision = d

	planned, planResults, err := c.planner.Finalize(ctx, info, c.root, d, inputs)
	if err != nil {
		return Outcome{}, err
	}
	if err := c.artifacts.SaveResults(info.Session, info.Run, planResults); err != nil {
		return Outcome{}, err
	}
	if err := c.artifacts.PutString(artifact.RunKey(info.Session, info.Run, "plan.md"), planned.Plan); err != nil {
		return Outcome{}, err
	}

	if run.Mode == ModePlan {
		report.Plan = true
		if err := c.finishPlanOnly(info, d, &report); err != nil {
			return Outcome{}, err
		}
		return Outcome{Run: run, Report: report}, nil
	}

	return c.runImplementation(ctx, info, run, report, d, planned.Plan)
}

// planAndPropose runs the planning and proposing phases for both agents.
func (c *Controller) planAndPropose(ctx context.Context, info agent.RunInfo, pack string) (decision.Inputs, error) {
	var in decision.Inputs
	for _, a := range []config.AgentConfig{c.cfg.AgentA, c.cfg.AgentB} {
		planRes, err := c.invoker.Invoke(ctx, info.Request(a, "planning", c.planningPrompt(info.Task, pack), c.root))
		if err != nil {
			return in, err
		}
		propRes, err := c.invoker.Invoke(ctx, info.Request(a, "proposing",
			c.proposingPrompt(info.Task, planRes.Stdout), c.root))
		if err != nil {
			return in, err
		}
		if err := c.artifacts.SaveResults(info.Session, info.Run, []agent.Result{planRes, propRes}); err != nil {
			return in, err
		}

		if a.Name == c.cfg.AgentA.Name {
			in.PlanA, in.ProposalA = planRes.Stdout, propRes.Stdout
		} else {
			in.PlanB, in.ProposalB = planRes.Stdout, propRes.Stdout
		}
	}
	return in, nil
}

// decide runs the decision engine, persists its artifacts, and applies an
// interactive driver override when one is given. The override never
// mutates the recorded decision; it is persisted as its own event.
func (c *Controller) decide(ctx context.Context, info agent.RunInfo, run session.Run, in decision.Inputs, interactive bool, report *render.RunReport) (decision.Decision, error) {
	d, results, err := c.decider.Decide(ctx, info, c.root, in)
	if err != nil {
		return decision.Decision{}, err
	}
	if err := c.artifacts.SaveResults(info.Session, info.Run, results); err != nil {
		return decision.Decision{}, err
	}
	if err := c.artifacts.PutJSON(artifact.RunKey(info.Session, info.Run, "decision.json"), d); err != nil {
		return decision.Decision{}, err
	}

	if (interactive || c.cfg.Interactive) && prompt.Interactive() {
		ov, err := c.Confirm(d, c.cfg.AgentA.Name, c.cfg.AgentB.Name)
		if err != nil {
			return decision.Decision{}, err
		}
		if ov.Overridden {
			if err := c.artifacts.PutJSON(artifact.RunKey(info.Session, info.Run, "decision.override.json"), ov); err != nil {
				return decision.Decision{}, err
			}
			d.ExecutionDriver = ov.Driver
			report.Overridden = true
			c.log.Info("driver overridden interactively", "driver", ov.Driver)
		}
	}
	return d, nil
}

// recordedOrDefault resolves the decision and plan for implement-only
// runs: the parent run's artifacts when branching, safe defaults
// otherwise.
func (c *Controller) recordedOrDefault(sessionID string, run session.Run) (decision.Decision, string, error) {
	d := decision.Decision{
		Mode:            "default",
		Winner:          decision.WinnerNeither,
		Rationale:       "implement-only run without a recorded decision",
		ExecutionDriver: c.cfg.AgentA.Name,
	}
	planText := run.Mode + " run for task"

	if run.ParentRun != "" {
		var recorded decision.Decision
		if err := c.artifacts.GetJSON(artifact.RunKey(sessionID, run.ParentRun, "decision.json"), &recorded); err == nil {
			d = recorded
		}
		if data, err := c.artifacts.Get(artifact.RunKey(sessionID, run.ParentRun, "plan.md")); err == nil {
			planText = string(data)
		}
	}
	return d, planText, nil
}

// runImplementation executes implement, review, converge, and the final
// apply for full and implement-mode runs.
func (c *Controller) runImplementation(ctx context.Context, info agent.RunInfo, run session.Run, report render.RunReport, d decision.Decision, planText string) (Outcome, error) {
	runDir := c.artifacts.Path(artifact.RunKey(info.Session, info.Run))
	workRoot := filepath.Join(runDir, "worktrees")

	impl, implResults, err := c.implementer.Run(ctx, info, c.root, workRoot, planText, d)
	if err != nil {
		return Outcome{}, err
	}
	if err := c.artifacts.SaveResults(info.Session, info.Run, implResults); err != nil {
		return Outcome{}, err
	}
	if err := c.persistImplementation(info, impl); err != nil {
		return Outcome{}, err
	}
	report.Strategy = impl.Strategy
	report.Rounds = len(impl.Rounds)
	report.Converged = impl.Converged

	testsFailed := false
	for _, r := range impl.Rounds {
		testsFailed = r.Tests.Failed()
	}

	finalDiff, merged, err := c.reviewAndConverge(ctx, info, impl.DriverDir, impl.Diff, impl.Roles, testsFailed, &report)
	if err != nil {
		return Outcome{}, err
	}
	report.Blockers = len(merged.Blockers)
	report.Warnings = len(merged.Warnings)

	return c.finish(info, run, report, d, finalDiff)
}

// runBugfix skips implementation: the working tree's current changes are
// reviewed and converged in a private copy of the tree.
func (c *Controller) runBugfix(ctx context.Context, info agent.RunInfo, run session.Run, report render.RunReport) (Outcome, error) {
	runDir := c.artifacts.Path(artifact.RunKey(info.Session, info.Run))
	workDir := filepath.Join(runDir, "worktrees", "driver")
	if err := worktree.CopyTree(c.root, workDir); err != nil {
		return Outcome{}, err
	}

	var initialDiff string
	if worktree.IsRepository(c.root) {
		var err error
		if initialDiff, err = c.diffs.DiffWorking(c.root, c.cfg.StateDir); err != nil {
			return Outcome{}, err
		}
	}

	outcome := c.tests.Run(ctx, workDir)
	pair := roles.NewPair(c.cfg.AgentA.Name, c.cfg.AgentB.Name)

	finalDiff, merged, err := c.reviewAndConverge(ctx, info, workDir, initialDiff, pair, outcome.Failed(), &report)
	if err != nil {
		return Outcome{}, err
	}
	report.Blockers = len(merged.Blockers)
	report.Warnings = len(merged.Warnings)

	d := decision.Decision{Mode: "bugfix", Winner: decision.WinnerNeither, ExecutionDriver: pair.Primary}
	return c.finish(info, run, report, d, finalDiff)
}

// reviewAndConverge runs the review phase over diffText and, when needed,
// the convergence loop inside workDir. It returns the final diff and the
// latest merged review.
func (c *Controller) reviewAndConverge(ctx context.Context, info agent.RunInfo, workDir, diffText string, pair roles.Pair, testsFailed bool, report *render.RunReport) (string, review.Summary, error) {
	if !c.cfg.Review.Enabled {
		return diffText, review.Summary{OK: true}, nil
	}

	var summaries []review.Summary
	for _, a := range []config.AgentConfig{c.cfg.AgentA, c.cfg.AgentB} {
		res, err := c.invoker.Invoke(ctx, info.Request(a, "review", c.reviewPrompt(diffText), workDir))
		if err != nil {
			return "", review.Summary{}, err
		}
		if err := c.artifacts.SaveResult(info.Session, info.Run, res); err != nil {
			return "", review.Summary{}, err
		}

		summary, parsed := review.Parse(res.Stdout)
		if !parsed {
			c.log.Warn("reviewer produced no structured review", "agent", a.Name)
		}
		if err := c.artifacts.PutJSON(artifact.RunKey(info.Session, info.Run, "review", a.Name+".json"), summary); err != nil {
			return "", review.Summary{}, err
		}
		summaries = append(summaries, summary)
	}
	merged := review.Merge(summaries...)

	if !converge.Needed(c.cfg, merged, testsFailed) {
		return diffText, merged, nil
	}

	conv, convResults, err := c.converger.Converge(ctx, info, c.root, workDir, pair, merged)
	if err != nil {
		return "", review.Summary{}, err
	}
	if err := c.artifacts.SaveResults(info.Session, info.Run, convResults); err != nil {
		return "", review.Summary{}, err
	}
	for _, r := range conv.Rounds {
		key := artifact.RunKey(info.Session, info.Run, "converge", fmt.Sprintf("round-%02d.json", r.Ordinal))
		if err := c.artifacts.PutJSON(key, r); err != nil {
			return "", review.Summary{}, err
		}
	}
	if conv.Diff != "" {
		diffText = conv.Diff
	}
	return diffText, conv.Review, nil
}

// persistImplementation writes the per-round diffs, navigator patches,
// and activity logs, plus the per-agent diffs under the parallel strategy.
func (c *Controller) persistImplementation(info agent.RunInfo, impl implement.Result) error {
	for _, r := range impl.Rounds {
		prefix := artifact.RunKey(info.Session, info.Run, "rounds", fmt.Sprintf("round-%02d", r.Ordinal))
		if err := c.artifacts.PutString(prefix+".diff", r.Diff); err != nil {
			return err
		}
		if strings.TrimSpace(r.NavigatorPatch) != "" {
			if err := c.artifacts.PutString(prefix+".patch", r.NavigatorPatch); err != nil {
				return err
			}
		}
		if len(r.Activity) > 0 {
			if err := c.artifacts.PutString(prefix+".activity.log", strings.Join(r.Activity, "\n")+"\n"); err != nil {
				return err
			}
		}
	}
	for _, o := range impl.PerAgent {
		key := artifact.RunKey(info.Session, info.Run, "parallel", o.Agent+".diff")
		if err := c.artifacts.PutString(key, o.Diff); err != nil {
			return err
		}
	}
	return c.artifacts.PutJSON(artifact.RunKey(info.Session, info.Run, "implementation.json"), impl)
}

// finish evaluates the guardrail, applies or blocks the final patch, and
// writes the final artifact set.
func (c *Controller) finish(info agent.RunInfo, run session.Run, report render.RunReport, d decision.Decision, finalDiff string) (Outcome, error) {
	report.ChangedFiles = diffutil.ExtractChangedFiles(finalDiff)
	report.Stats = diffutil.ComputeStats(finalDiff)
	report.Violations = guardrail.Evaluate(c.cfg.Guardrail, report.ChangedFiles, report.Stats)

	finalKey := func(name string) string { return artifact.RunKey(info.Session, info.Run, "final", name) }
	if err := c.artifacts.PutJSON(finalKey("decision.json"), d); err != nil {
		return Outcome{}, err
	}
	if err := c.artifacts.PutString(finalKey("final.diff"), finalDiff); err != nil {
		return Outcome{}, err
	}

	if report.Blocked() {
		var sb strings.Builder
		sb.WriteString("blocked: guardrail violations prevented the final apply\n")
		for _, v := range report.Violations {
			sb.WriteString(v.String() + "\n")
		}
		if err := c.artifacts.PutString(finalKey("blocked.log"), sb.String()); err != nil {
			return Outcome{}, err
		}
		c.log.Warn("final apply blocked", "violations", len(report.Violations))
	} else if strings.TrimSpace(finalDiff) != "" {
		applied, err := c.diffs.ApplyPatch(c.root, finalDiff)
		if err != nil {
			return Outcome{}, err
		}
		report.Applied = applied.Applied
		if !applied.Applied {
			c.log.Warn("final patch did not apply", "output", applied.Output)
		}
	}

	if err := c.artifacts.PutString(finalKey("summary.md"), render.Markdown(report)); err != nil {
		return Outcome{}, err
	}

	if err := c.memories.Record(memory.Entry{
		Session: info.Session,
		Task:    info.Task,
		Outcome: c.outcomeLabel(report),
	}); err != nil {
		c.log.Warn("memory record failed", "error", err)
	}

	c.log.Info("run finished", "applied", report.Applied, "blocked", report.Blocked())
	return Outcome{Run: run, Report: report, FinalDiff: finalDiff}, nil
}

// finishPlanOnly writes the final directory for plan-mode runs.
func (c *Controller) finishPlanOnly(info agent.RunInfo, d decision.Decision, report *render.RunReport) error {
	finalKey := func(name string) string { return artifact.RunKey(info.Session, info.Run, "final", name) }
	if err := c.artifacts.PutJSON(finalKey("decision.json"), d); err != nil {
		return err
	}
	return c.artifacts.PutString(finalKey("summary.md"), render.Markdown(*report))
}

func (c *Controller) outcomeLabel(report render.RunReport) string {
	switch {
	case report.Blocked():
		return "blocked by guardrail"
	case report.Applied:
		return "applied"
	case report.Plan:
		return "planned"
	default:
		return "recorded"
	}
}

func (c *Controller) planningPrompt(task, pack string) string {
	var sb strings.Builder
	sb.WriteString("Study the task and repository context, then produce an approach plan: ")
	sb.WriteString("what to change, in what order, and what could go wrong. Do not edit files.\n\n")
	sb.WriteString("## Task\n")
	sb.WriteString(task)
	sb.WriteString("\n\n")
	sb.WriteString(pack)
	return sb.String()
}

func (c *Controller) proposingPrompt(task, ownPlan string) string {
	var sb strings.Builder
	sb.WriteString("Turn your plan into a concrete proposal: the files to change, the ")
	sb.WriteString("interfaces involved, and the tests that prove it. Do not edit files.\n\n")
	sb.WriteString("## Task\n")
	sb.WriteString(task)
	sb.WriteString("\n\n## Your plan\n")
	sb.WriteString(ownPlan)
	sb.WriteString("\n")
	return sb.String()
}

func (c *Controller) reviewPrompt(diffText string) string {
	var sb strings.Builder
	sb.WriteString("Review the change below. Respond with a JSON object ")
	sb.WriteString(`{"ok": bool, "blockers": [], "warnings": [], "notes": ""}; `)
	sb.WriteString(`each issue is {"id", "summary", "file", "suggested_fix"}. `)
	sb.WriteString("Report as a blocker only what must change before this can land.\n\n")
	sb.WriteString("## Diff\n")
	sb.WriteString(diffText)
	sb.WriteString("\n")
	return sb.String()
}
