package decision

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/duetctl/duet/internal/agent"
	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/logging"
)

type fakeInvoker struct {
	fn    func(req agent.Request) agent.Result
	calls []agent.Request
}

func (f *fakeInvoker) Invoke(_ context.Context, req agent.Request) (agent.Result, error) {
	f.calls = append(f.calls, req)
	res := f.fn(req)
	res.Agent = req.Agent.Name
	res.Phase = req.Phase
	res.Prompt = req.Prompt
	return res, nil
}

func testConfig() *config.Config {
	return &config.Config{
		AgentA:   config.AgentConfig{Name: "alpha"},
		AgentB:   config.AgentConfig{Name: "beta"},
		Decision: config.DecisionConfig{Mode: config.DecisionDebate, MaxDebateRounds: 2},
	}
}

func verdictJSON(winner, rationale string) string {
	return fmt.Sprintf(`{"winner": %q, "rationale": %q}`, winner, rationale)
}

var testInputs = Inputs{PlanA: "plan a", ProposalA: "prop a", PlanB: "plan b", ProposalB: "prop b"}

func TestRuleBasedModes(t *testing.T) {
	tests := []struct {
		mode   string
		winner string
	}{
		{config.DecisionPreferA, "alpha"},
		{config.DecisionPreferB, "beta"},
		{config.DecisionNeither, WinnerNeither},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := testConfig()
			cfg.Decision.Mode = tt.mode
			inv := &fakeInvoker{fn: func(agent.Request) agent.Result {
				t.Fatal("rule-based decision must not call agents")
				return agent.Result{}
			}}
			e := NewEngine(inv, cfg, logging.NopLogger())

			d, results, err := e.Decide(context.Background(), agent.RunInfo{}, "", testInputs)
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if d.Winner != tt.winner {
				t.Errorf("winner = %q, want %q", d.Winner, tt.winner)
			}
			if len(results) != 0 {
				t.Errorf("rule-based decision recorded %d agent calls", len(results))
			}
			if d.ExecutionDriver == "" {
				t.Error("execution driver must always be set")
			}
		})
	}
}

func TestJudgeMode(t *testing.T) {
	cfg := testConfig()
	cfg.Decision.Mode = config.DecisionJudge
	cfg.Decision.Judge = "beta"

	inv := &fakeInvoker{fn: func(req agent.Request) agent.Result {
		if req.Agent.Name != "beta" {
			t.Errorf("judge call went to %q, want beta", req.Agent.Name)
		}
		return agent.Result{Stdout: verdictJSON("alpha", "cleaner decomposition")}
	}}
	e := NewEngine(inv, cfg, logging.NopLogger())

	d, results, err := e.Decide(context.Background(), agent.RunInfo{}, "", testInputs)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Winner != "alpha" || d.JudgeAgent != "beta" {
		t.Errorf("decision = %+v", d)
	}
	if d.ExecutionDriver != "alpha" {
		t.Errorf("driver = %q, want winner", d.ExecutionDriver)
	}
	if len(results) != 1 {
		t.Errorf("judge mode made %d calls, want 1", len(results))
	}
}

func TestJudgeUnparseableDefaultsToNeither(t *testing.T) {
	cfg := testConfig()
	cfg.Decision.Mode = config.DecisionJudge

	inv := &fakeInvoker{fn: func(agent.Request) agent.Result {
		return agent.Result{Stdout: "I simply cannot choose."}
	}}
	e := NewEngine(inv, cfg, logging.NopLogger())

	d, _, err := e.Decide(context.Background(), agent.RunInfo{}, "", testInputs)
	if err != nil {
		t.Fatalf("unparseable judge output must not be fatal: %v", err)
	}
	if d.Winner != WinnerNeither {
		t.Errorf("winner = %q, want neither", d.Winner)
	}
	if !strings.Contains(d.Rationale, "no structured verdict") {
		t.Errorf("rationale = %q", d.Rationale)
	}
}

func TestDebateConsensusShortCircuit(t *testing.T) {
	inv := &fakeInvoker{fn: func(req agent.Request) agent.Result {
		return agent.Result{Stdout: verdictJSON("beta", "tighter scope")}
	}}
	e := NewEngine(inv, testConfig(), logging.NopLogger())

	d, results, err := e.Decide(context.Background(), agent.RunInfo{}, "", testInputs)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Winner != "beta" {
		t.Errorf("winner = %q, want beta", d.Winner)
	}
	if d.DebateRounds != 0 {
		t.Errorf("consensus must run zero critique rounds, got %d", d.DebateRounds)
	}
	if !strings.Contains(d.Rationale, "initial judgment") {
		t.Errorf("rationale must reference the initial judgment: %q", d.Rationale)
	}
	if len(results) != 2 {
		t.Errorf("made %d calls, want 2", len(results))
	}
	for _, r := range results {
		if r.Phase != "decide" {
			t.Errorf("unexpected round phase %q after consensus", r.Phase)
		}
	}
}

func TestDebateNonConvergence(t *testing.T) {
	// Each agent stubbornly votes for itself.
	inv := &fakeInvoker{fn: func(req agent.Request) agent.Result {
		return agent.Result{Stdout: verdictJSON(req.Agent.Name, "mine is better")}
	}}
	cfg := testConfig()
	cfg.Decision.MaxDebateRounds = 3
	e := NewEngine(inv, cfg, logging.NopLogger())

	d, results, err := e.Decide(context.Background(), agent.RunInfo{}, "", testInputs)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Winner != WinnerNeither {
		t.Errorf("winner = %q, want neither", d.Winner)
	}
	if !strings.Contains(d.Rationale, "no convergence") {
		t.Errorf("rationale = %q", d.Rationale)
	}
	if d.DebateRounds != 3 {
		t.Errorf("debate rounds = %d, want 3", d.DebateRounds)
	}

	rounds := make(map[string]bool)
	for _, r := range results {
		if strings.HasPrefix(r.Phase, "decide/round-") {
			rounds[r.Phase] = true
		}
	}
	if len(rounds) != 3 {
		t.Errorf("round phases = %v, want exactly 3", rounds)
	}
}

func TestDebateAgreementInCritiqueRound(t *testing.T) {
	// Disagree initially; beta concedes in round 1.
	call := 0
	inv := &fakeInvoker{fn: func(req agent.Request) agent.Result {
		call++
		if call <= 2 {
			return agent.Result{Stdout: verdictJSON(req.Agent.Name, "initial self-vote")}
		}
		return agent.Result{Stdout: verdictJSON("alpha", "conceded after critique")}
	}}
	e := NewEngine(inv, testConfig(), logging.NopLogger())

	d, _, err := e.Decide(context.Background(), agent.RunInfo{}, "", testInputs)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Winner != "alpha" || d.DebateRounds != 1 {
		t.Errorf("decision = %+v, want alpha in round 1", d)
	}
}

func TestDebatePromptsExposePriorJudgments(t *testing.T) {
	inv := &fakeInvoker{fn: func(req agent.Request) agent.Result {
		return agent.Result{Stdout: verdictJSON(req.Agent.Name, "self-vote")}
	}}
	cfg := testConfig()
	cfg.Decision.MaxDebateRounds = 1
	e := NewEngine(inv, cfg, logging.NopLogger())

	_, _, err := e.Decide(context.Background(), agent.RunInfo{}, "", testInputs)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	var roundPrompt string
	for _, req := range inv.calls {
		if strings.HasPrefix(req.Phase, "decide/round-") {
			roundPrompt = req.Prompt
		}
	}
	if !strings.Contains(roundPrompt, "Prior judgments") {
		t.Error("critique round prompt must include prior judgments")
	}
	if !strings.Contains(roundPrompt, "alpha judged") || !strings.Contains(roundPrompt, "beta judged") {
		t.Errorf("critique prompt missing judgments:\n%s", roundPrompt)
	}
}

func TestNormalizeWinner(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"alpha", "alpha"},
		{"ALPHA", "alpha"},
		{"the winner is beta", "beta"},
		{"neither", WinnerNeither},
		{"", WinnerNeither},
		{"alpha or beta", WinnerNeither},
		{"tie", WinnerNeither},
	}
	for _, tt := range tests {
		if got := normalizeWinner(tt.text, "alpha", "beta"); got != tt.want {
			t.Errorf("normalizeWinner(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
