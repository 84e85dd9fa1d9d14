package implement

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/duetctl/duet/internal/agent"
	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/decision"
	"github.com/duetctl/duet/internal/diffutil"
	"github.com/duetctl/duet/internal/logging"
	"github.com/duetctl/duet/internal/tests"
	"github.com/duetctl/duet/internal/worktree"
)

type fakeInvoker struct {
	fn func(req agent.Request) agent.Result
}

func (f *fakeInvoker) Invoke(_ context.Context, req agent.Request) (agent.Result, error) {
	res := f.fn(req)
	res.Agent = req.Agent.Name
	res.Phase = req.Phase
	return res, nil
}

func requireTools(t *testing.T) {
	t.Helper()
	for _, tool := range []string{"diff", "patch"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, inv agent.Invoker) *Engine {
	t.Helper()
	log := logging.NopLogger()
	return NewEngine(inv, cfg, worktree.NewManager(log), diffutil.NewReconciler(log),
		tests.NewRunner(cfg.Tests, log), log)
}

func jointConfig(maxRounds int) *config.Config {
	return &config.Config{
		AgentA: config.AgentConfig{Name: "alpha"},
		AgentB: config.AgentConfig{Name: "beta"},
		Implementation: config.ImplementationConfig{
			Strategy:  config.StrategyJoint,
			MaxRounds: maxRounds,
			PatchMode: config.PatchAuto,
		},
	}
}

func baseTree(t *testing.T) string {
	t.Helper()
	base := filepath.Join(t.TempDir(), "base")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "main.txt"), []byte("original\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return base
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestJointEarlyStop(t *testing.T) {
	requireTools(t)
	base := baseTree(t)
	workRoot := filepath.Join(t.TempDir(), "worktrees")

	inv := &fakeInvoker{fn: func(req agent.Request) agent.Result {
		if strings.Contains(req.Prompt, "driver") && req.Agent.Name == "alpha" {
			write(t, req.WorkDir, "feature.txt", "implemented\n")
		}
		// Navigator edits nothing.
		return agent.Result{Stdout: "looks complete"}
	}}
	e := newTestEngine(t, jointConfig(3), inv)

	res, _, err := e.Run(context.Background(), agent.RunInfo{}, base, workRoot, "the plan",
		decision.Decision{ExecutionDriver: "alpha"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Converged {
		t.Error("empty navigator patch with no tests must converge")
	}
	if len(res.Rounds) != 1 {
		t.Errorf("ran %d rounds, want early stop at 1", len(res.Rounds))
	}
	if !strings.Contains(res.Diff, "feature.txt") {
		t.Error("final diff missing driver's change")
	}
	if got := res.ChangedFiles; len(got) != 1 || got[0] != "feature.txt" {
		t.Errorf("changed files = %v", got)
	}
}

func TestJointNavigatorPatchApplied(t *testing.T) {
	requireTools(t)
	base := baseTree(t)
	workRoot := filepath.Join(t.TempDir(), "worktrees")

	round := 0
	inv := &fakeInvoker{fn: func(req agent.Request) agent.Result {
		if strings.Contains(req.Prompt, "You are the driver") {
			round++
			write(t, req.WorkDir, "feature.txt", "implemented\n")
			return agent.Result{Stdout: "done"}
		}
		if round == 1 {
			// First-round navigator adds a fix in its clone.
			write(t, req.WorkDir, "fix.txt", "navigator fix\n")
		}
		return agent.Result{Stdout: "added a fix"}
	}}
	e := newTestEngine(t, jointConfig(3), inv)

	res, _, err := e.Run(context.Background(), agent.RunInfo{}, base, workRoot, "the plan",
		decision.Decision{ExecutionDriver: "alpha"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rounds) != 2 || !res.Converged {
		t.Fatalf("rounds = %d converged = %v, want convergence in round 2", len(res.Rounds), res.Converged)
	}
	if res.Rounds[0].PatchEmpty || !res.Rounds[0].PatchApplied {
		t.Errorf("round 1 = %+v, want non-empty applied patch", res.Rounds[0])
	}

	applied, err := os.ReadFile(filepath.Join(res.DriverDir, "fix.txt"))
	if err != nil {
		t.Fatalf("navigator fix not applied to driver tree: %v", err)
	}
	if string(applied) != "navigator fix\n" {
		t.Errorf("fix content = %q", applied)
	}
	if !strings.Contains(res.Diff, "fix.txt") {
		t.Error("final diff missing applied navigator fix")
	}
}

func TestJointSwapOnTestFailure(t *testing.T) {
	requireTools(t)
	base := baseTree(t)
	workRoot := filepath.Join(t.TempDir(), "worktrees")

	cfg := jointConfig(2)
	cfg.Implementation.SwapOnTestFailure = true
	cfg.Tests = config.TestConfig{Command: "false", TimeoutSeconds: 30}

	inv := &fakeInvoker{fn: func(req agent.Request) agent.Result {
		return agent.Result{Stdout: "no edits"}
	}}
	e := newTestEngine(t, cfg, inv)

	res, _, err := e.Run(context.Background(), agent.RunInfo{}, base, workRoot, "the plan",
		decision.Decision{ExecutionDriver: "alpha"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Converged {
		t.Error("failing tests must prevent convergence")
	}
	if len(res.Rounds) != 2 {
		t.Fatalf("rounds = %d, want the full bound", len(res.Rounds))
	}
	if res.Rounds[0].Roles.Primary != "alpha" || res.Rounds[1].Roles.Primary != "beta" {
		t.Errorf("roles per round = %+v / %+v, want swap after test failure",
			res.Rounds[0].Roles, res.Rounds[1].Roles)
	}
}

func TestJointManualModeRecordsWithoutApplying(t *testing.T) {
	requireTools(t)
	base := baseTree(t)
	workRoot := filepath.Join(t.TempDir(), "worktrees")

	cfg := jointConfig(1)
	cfg.Implementation.PatchMode = config.PatchManual

	inv := &fakeInvoker{fn: func(req agent.Request) agent.Result {
		if strings.Contains(req.Prompt, "navigator") {
			write(t, req.WorkDir, "fix.txt", "proposal\n")
		}
		return agent.Result{Stdout: "ok"}
	}}
	e := newTestEngine(t, cfg, inv)

	res, _, err := e.Run(context.Background(), agent.RunInfo{}, base, workRoot, "the plan",
		decision.Decision{ExecutionDriver: "alpha"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rounds[0].PatchEmpty || res.Rounds[0].PatchApplied {
		t.Errorf("round = %+v, want recorded unapplied patch", res.Rounds[0])
	}
	if _, err := os.Stat(filepath.Join(res.DriverDir, "fix.txt")); !os.IsNotExist(err) {
		t.Error("manual mode must not touch the driver tree")
	}
	if !strings.Contains(res.Rounds[0].NavigatorPatch, "fix.txt") {
		t.Error("navigator patch not recorded")
	}
}

func TestJointActivityWatch(t *testing.T) {
	requireTools(t)
	base := baseTree(t)
	workRoot := filepath.Join(t.TempDir(), "worktrees")

	inv := &fakeInvoker{fn: func(req agent.Request) agent.Result {
		return agent.Result{Stdout: "ok"}
	}}
	e := newTestEngine(t, jointConfig(1), inv)
	e.Watch = func(dir string) func() []string {
		return func() []string { return []string{"watched " + dir} }
	}

	res, _, err := e.Run(context.Background(), agent.RunInfo{}, base, workRoot, "plan",
		decision.Decision{ExecutionDriver: "alpha"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rounds[0].Activity) != 1 || !strings.Contains(res.Rounds[0].Activity[0], "watched") {
		t.Errorf("activity = %v", res.Rounds[0].Activity)
	}
}

func TestParallelIndependentOutcomes(t *testing.T) {
	requireTools(t)
	base := baseTree(t)
	workRoot := filepath.Join(t.TempDir(), "worktrees")

	cfg := jointConfig(1)
	cfg.Implementation.Strategy = config.StrategyParallel

	inv := &fakeInvoker{fn: func(req agent.Request) agent.Result {
		write(t, req.WorkDir, req.Agent.Name+".txt", "by "+req.Agent.Name+"\n")
		return agent.Result{Stdout: "done"}
	}}
	e := newTestEngine(t, cfg, inv)

	res, results, err := e.Run(context.Background(), agent.RunInfo{}, base, workRoot, "plan",
		decision.Decision{ExecutionDriver: "beta"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 || len(res.PerAgent) != 2 {
		t.Fatalf("results = %d outcomes = %d, want one each per agent", len(results), len(res.PerAgent))
	}
	for _, o := range res.PerAgent {
		want := o.Agent + ".txt"
		if len(o.ChangedFiles) != 1 || o.ChangedFiles[0] != want {
			t.Errorf("%s changed files = %v, want only %s", o.Agent, o.ChangedFiles, want)
		}
	}
	if !strings.Contains(res.Diff, "beta.txt") || strings.Contains(res.Diff, "alpha.txt") {
		t.Error("phase diff must be the execution driver's diff")
	}
}
