// Package plan finalizes the execution plan through a fixed three-call
// protocol: the decided winner drafts, the other agent critiques grouped
// by severity, and the original planner revises once. There is no further
// iteration regardless of how severe the critique is.
package plan

import (
	"context"
	"fmt"
	"strings"

	"github.com/duetctl/duet/internal/agent"
	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/decision"
	"github.com/duetctl/duet/internal/logging"
)

// Result is the finalized execution plan plus the agents that produced it.
type Result struct {
	Plan     string `json:"plan"`
	Planner  string `json:"planner"`
	Reviewer string `json:"reviewer"`
}

// Planner runs the draft/critique/finalize protocol.
type Planner struct {
	invoker agent.Invoker
	cfg     *config.Config
	log     *logging.Logger
}

// NewPlanner creates a Planner over the given invoker and config.
func NewPlanner(invoker agent.Invoker, cfg *config.Config, log *logging.Logger) *Planner {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Planner{invoker: invoker, cfg: cfg, log: log}
}

// Finalize produces the execution plan with exactly three agent calls,
// phase-tagged plan/draft, plan/critique, and plan/final. A failed or
// empty revision falls back to the draft so a plan always exists.
func (p *Planner) Finalize(ctx context.Context, info agent.RunInfo, workDir string, d decision.Decision, in decision.Inputs) (Result, []agent.Result, error) {
	planner, reviewer := p.assign(d)
	log := p.log.WithPhase("plan")
	log.Info("finalizing execution plan", "planner", planner.Name, "reviewer", reviewer.Name)

	var results []agent.Result

	draftRes, err := p.invoker.Invoke(ctx, info.Request(planner, "plan/draft", p.draftPrompt(d, in), workDir))
	if err != nil {
		return Result{}, results, err
	}
	results = append(results, draftRes)
	draft := strings.TrimSpace(draftRes.Stdout)

	critiqueRes, err := p.invoker.Invoke(ctx, info.Request(reviewer, "plan/critique", p.critiquePrompt(draft), workDir))
	if err != nil {
		return Result{}, results, err
	}
	results = append(results, critiqueRes)
	critique := strings.TrimSpace(critiqueRes.Stdout)

	finalRes, err := p.invoker.Invoke(ctx, info.Request(planner, "plan/final", p.finalPrompt(draft, critique), workDir))
	if err != nil {
		return Result{}, results, err
	}
	results = append(results, finalRes)

	final := strings.TrimSpace(finalRes.Stdout)
	if finalRes.Failed() || final == "" {
		log.Warn("plan revision produced no output, keeping draft", "agent", planner.Name)
		final = draft
	}

	return Result{Plan: final, Planner: planner.Name, Reviewer: reviewer.Name}, results, nil
}

// assign resolves planner and reviewer from the decision: the winner
// plans, the other critiques; on neither, agent A plans by default.
func (p *Planner) assign(d decision.Decision) (planner, reviewer config.AgentConfig) {
	if d.Winner == p.cfg.AgentB.Name {
		return p.cfg.AgentB, p.cfg.AgentA
	}
	return p.cfg.AgentA, p.cfg.AgentB
}

func (p *Planner) draftPrompt(d decision.Decision, in decision.Inputs) string {
	var sb strings.Builder
	sb.WriteString("Draft a numbered step-by-step execution plan for the task, ")
	sb.WriteString("concrete enough that an implementer can follow it file by file.\n\n")
	if d.Decided() {
		fmt.Fprintf(&sb, "The approach by %s was selected: %s\n\n", d.Winner, d.Rationale)
	} else {
		sb.WriteString("No single approach prevailed; synthesize the strongest elements of both.\n\n")
	}
	fmt.Fprintf(&sb, "## Plan by %s\n%s\n\n## Proposal by %s\n%s\n\n",
		p.cfg.AgentA.Name, in.PlanA, p.cfg.AgentA.Name, in.ProposalA)
	fmt.Fprintf(&sb, "## Plan by %s\n%s\n\n## Proposal by %s\n%s\n",
		p.cfg.AgentB.Name, in.PlanB, p.cfg.AgentB.Name, in.ProposalB)
	return sb.String()
}

func (p *Planner) critiquePrompt(draft string) string {
	var sb strings.Builder
	sb.WriteString("Critique the following execution plan. Group your feedback by severity ")
	sb.WriteString("under the headings Blocker, Major, and Minor. Be specific about which ")
	sb.WriteString("step each point concerns.\n\n## Draft plan\n")
	sb.WriteString(draft)
	sb.WriteString("\n")
	return sb.String()
}

func (p *Planner) finalPrompt(draft, critique string) string {
	var sb strings.Builder
	sb.WriteString("Revise your execution plan using the critique below. Address every ")
	sb.WriteString("Blocker and Major point; incorporate Minor points where they improve ")
	sb.WriteString("the plan. Output only the final plan.\n\n## Draft plan\n")
	sb.WriteString(draft)
	sb.WriteString("\n\n## Critique\n")
	sb.WriteString(critique)
	sb.WriteString("\n")
	return sb.String()
}
