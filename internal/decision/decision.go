// Package decision reduces the two agents' independent plan and proposal
// outputs to a single winner. Three modes exist: rule-based (deterministic,
// no agent call), judge (one configured agent arbitrates), and debate
// (both agents judge independently, with a bounded mutual-critique loop
// when they disagree).
package decision

import (
	"fmt"
	"strings"
)

// WinnerNeither is the winner value when no agent prevails.
const WinnerNeither = "neither"

// Decision is the single per-run outcome of the decision phase. It is
// produced exactly once; an interactive override downstream is recorded as
// a distinct transcript event, never a mutation of this value.
type Decision struct {
	Mode            string `json:"mode"`
	Winner          string `json:"winner"`
	Rationale       string `json:"rationale"`
	JudgeAgent      string `json:"judge_agent,omitempty"`
	ExecutionDriver string `json:"execution_driver"`
	DebateRounds    int    `json:"debate_rounds,omitempty"`
}

// Decided reports whether a concrete agent won.
func (d Decision) Decided() bool { return d.Winner != WinnerNeither && d.Winner != "" }

// Inputs are the four texts the decision is made over.
type Inputs struct {
	PlanA     string
	ProposalA string
	PlanB     string
	ProposalB string
}

// verdict is the structured JSON shape solicited from judging agents.
type verdict struct {
	Winner    string `json:"winner"`
	Rationale string `json:"rationale"`
}

// normalizeWinner maps free-form winner text onto one of the two agent
// names or WinnerNeither. Matching is case-insensitive and tolerates
// surrounding text as long as exactly one agent name appears.
func normalizeWinner(text, agentA, agentB string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	a := strings.ToLower(agentA)
	b := strings.ToLower(agentB)

	switch t {
	case a:
		return agentA
	case b:
		return agentB
	case WinnerNeither, "none", "tie", "":
		return WinnerNeither
	}

	hasA := strings.Contains(t, a)
	hasB := strings.Contains(t, b)
	switch {
	case hasA && !hasB:
		return agentA
	case hasB && !hasA:
		return agentB
	default:
		return WinnerNeither
	}
}

// resolveDriver picks the execution driver for a decision: the winner when
// one exists, otherwise the default agent.
func resolveDriver(winner, defaultAgent string) string {
	if winner != WinnerNeither && winner != "" {
		return winner
	}
	return defaultAgent
}

func summarize(text string, limit int) string {
	t := strings.TrimSpace(text)
	if len(t) <= limit {
		return t
	}
	return t[:limit] + "…"
}

func judgmentBlock(agent string, v verdict) string {
	return fmt.Sprintf("%s judged winner=%s because: %s", agent, v.Winner, summarize(v.Rationale, 800))
}
