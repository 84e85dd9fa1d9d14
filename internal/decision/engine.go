package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/duetctl/duet/internal/agent"
	"github.com/duetctl/duet/internal/config"
	"github.com/duetctl/duet/internal/jsonx"
	"github.com/duetctl/duet/internal/logging"
)

// Engine runs the decision state machine.
type Engine struct {
	invoker agent.Invoker
	cfg     *config.Config
	log     *logging.Logger
}

// NewEngine creates an Engine over the given invoker and resolved config.
func NewEngine(invoker agent.Invoker, cfg *config.Config, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Engine{invoker: invoker, cfg: cfg, log: log}
}

// Decide produces the run's Decision. The returned results hold every
// agent call made along the way, phase-tagged so the controller can
// persist them (debate rounds under decide/round-NN).
func (e *Engine) Decide(ctx context.Context, info agent.RunInfo, workDir string, in Inputs) (Decision, []agent.Result, error) {
	mode := e.cfg.Decision.Mode
	switch mode {
	case config.DecisionPreferA:
		return e.ruleBased(mode, e.cfg.AgentA.Name), nil, nil
	case config.DecisionPreferB:
		return e.ruleBased(mode, e.cfg.AgentB.Name), nil, nil
	case config.DecisionNeither:
		return e.ruleBased(mode, WinnerNeither), nil, nil
	case config.DecisionJudge:
		return e.judge(ctx, info, workDir, in)
	case config.DecisionDebate:
		return e.debate(ctx, info, workDir, in)
	default:
		return Decision{}, nil, fmt.Errorf("decide: unknown mode %q", mode)
	}
}

func (e *Engine) ruleBased(mode, winner string) Decision {
	return Decision{
		Mode:            mode,
		Winner:          winner,
		Rationale:       "configured rule-based preference",
		ExecutionDriver: resolveDriver(winner, e.cfg.AgentA.Name),
	}
}

// judge asks one configured agent to arbitrate. Unparseable judge output
// is never fatal: the decision defaults to neither with an explanatory
// rationale.
func (e *Engine) judge(ctx context.Context, info agent.RunInfo, workDir string, in Inputs) (Decision, []agent.Result, error) {
	judgeAgent := e.judgeConfig()

	prompt := e.judgePrompt(in, nil)
	res, err := e.invoker.Invoke(ctx, info.Request(judgeAgent, "decide", prompt, workDir))
	if err != nil {
		return Decision{}, nil, err
	}
	results := []agent.Result{res}

	var v verdict
	if res.Failed() || jsonx.Extract(res.Stdout, &v) != nil {
		e.log.Warn("judge produced no structured verdict", "agent", judgeAgent.Name)
		return Decision{
			Mode:            config.DecisionJudge,
			Winner:          WinnerNeither,
			Rationale:       "judge output contained no structured verdict",
			JudgeAgent:      judgeAgent.Name,
			ExecutionDriver: e.cfg.AgentA.Name,
		}, results, nil
	}

	winner := normalizeWinner(v.Winner, e.cfg.AgentA.Name, e.cfg.AgentB.Name)
	return Decision{
		Mode:            config.DecisionJudge,
		Winner:          winner,
		Rationale:       v.Rationale,
		JudgeAgent:      judgeAgent.Name,
		ExecutionDriver: resolveDriver(winner, e.cfg.AgentA.Name),
	}, results, nil
}

// judgeConfig resolves the judging agent, defaulting to agent A.
func (e *Engine) judgeConfig() config.AgentConfig {
	if e.cfg.Decision.Judge == e.cfg.AgentB.Name {
		return e.cfg.AgentB
	}
	return e.cfg.AgentA
}

// debate has both agents judge independently. Agreement on the initial
// judgment short-circuits with zero critique rounds. Disagreement runs up
// to MaxDebateRounds critique rounds, each exposing both agents' two most
// recent judgments; the loop stops at the first agreement, or decides
// neither when the bound is exhausted. The bound exists specifically to
// prevent unbounded mutual-critique cycles.
func (e *Engine) debate(ctx context.Context, info agent.RunInfo, workDir string, in Inputs) (Decision, []agent.Result, error) {
	nameA := e.cfg.AgentA.Name
	nameB := e.cfg.AgentB.Name

	var results []agent.Result
	// historyA/B hold each agent's judgments, most recent last.
	var historyA, historyB []verdict

	solicit := func(phase string, prior []string) (verdict, verdict, error) {
		prompt := e.judgePrompt(in, prior)

		resA, err := e.invoker.Invoke(ctx, info.Request(e.cfg.AgentA, phase, prompt, workDir))
		if err != nil {
			return verdict{}, verdict{}, err
		}
		results = append(results, resA)

		resB, err := e.invoker.Invoke(ctx, info.Request(e.cfg.AgentB, phase, prompt, workDir))
		if err != nil {
			return verdict{}, verdict{}, err
		}
		results = append(results, resB)

		return e.parseVerdict(resA), e.parseVerdict(resB), nil
	}

	vA, vB, err := solicit("decide", nil)
	if err != nil {
		return Decision{}, results, err
	}
	historyA = append(historyA, vA)
	historyB = append(historyB, vB)

	winA := normalizeWinner(vA.Winner, nameA, nameB)
	winB := normalizeWinner(vB.Winner, nameA, nameB)
	if winA == winB && winA != WinnerNeither {
		// Consensus short-circuit: no critique rounds run.
		return Decision{
			Mode:            config.DecisionDebate,
			Winner:          winA,
			Rationale:       fmt.Sprintf("consensus on initial judgment: %s", summarize(vA.Rationale, 400)),
			ExecutionDriver: winA,
		}, results, nil
	}

	for round := 1; round <= e.cfg.Decision.MaxDebateRounds; round++ {
		phase := fmt.Sprintf("decide/round-%02d", round)
		prior := []string{
			recentJudgments(nameA, historyA),
			recentJudgments(nameB, historyB),
		}

		vA, vB, err = solicit(phase, prior)
		if err != nil {
			return Decision{}, results, err
		}
		historyA = append(historyA, vA)
		historyB = append(historyB, vB)

		winA = normalizeWinner(vA.Winner, nameA, nameB)
		winB = normalizeWinner(vB.Winner, nameA, nameB)
		if winA == winB && winA != WinnerNeither {
			return Decision{
				Mode:            config.DecisionDebate,
				Winner:          winA,
				Rationale:       fmt.Sprintf("agreement in critique round %d: %s", round, summarize(vA.Rationale, 400)),
				ExecutionDriver: winA,
				DebateRounds:    round,
			}, results, nil
		}
	}

	return Decision{
		Mode:            config.DecisionDebate,
		Winner:          WinnerNeither,
		Rationale:       fmt.Sprintf("no convergence after %d critique rounds", e.cfg.Decision.MaxDebateRounds),
		ExecutionDriver: e.cfg.AgentA.Name,
		DebateRounds:    e.cfg.Decision.MaxDebateRounds,
	}, results, nil
}

// parseVerdict extracts a verdict from an agent result, tolerating failed
// calls and unstructured output as an empty verdict.
func (e *Engine) parseVerdict(res agent.Result) verdict {
	var v verdict
	if res.Failed() {
		return v
	}
	if err := jsonx.Extract(res.Stdout, &v); err != nil {
		e.log.Debug("no structured verdict", "agent", res.Agent, "phase", res.Phase)
	}
	return v
}

// recentJudgments renders an agent's two most recent judgments for the
// next critique round's prompt.
func recentJudgments(agentName string, history []verdict) string {
	start := len(history) - 2
	if start < 0 {
		start = 0
	}
	var lines []string
	for _, v := range history[start:] {
		lines = append(lines, judgmentBlock(agentName, v))
	}
	return strings.Join(lines, "\n")
}

// judgePrompt renders the decision prompt: the task, both agents' plan and
// proposal texts, optional prior judgments, and the required JSON shape.
func (e *Engine) judgePrompt(in Inputs, prior []string) string {
	var sb strings.Builder
	sb.WriteString("Two agents planned and proposed solutions for the same task. ")
	sb.WriteString("Pick the stronger overall approach.\n\n")
	fmt.Fprintf(&sb, "## Plan by %s\n%s\n\n## Proposal by %s\n%s\n\n",
		e.cfg.AgentA.Name, in.PlanA, e.cfg.AgentA.Name, in.ProposalA)
	fmt.Fprintf(&sb, "## Plan by %s\n%s\n\n## Proposal by %s\n%s\n\n",
		e.cfg.AgentB.Name, in.PlanB, e.cfg.AgentB.Name, in.ProposalB)
	if len(prior) > 0 {
		sb.WriteString("## Prior judgments\n")
		for _, p := range prior {
			sb.WriteString(p)
			sb.WriteString("\n")
		}
		sb.WriteString("\nReconsider in light of the other judge's reasoning.\n\n")
	}
	fmt.Fprintf(&sb, "Respond with a JSON object: {\"winner\": \"%s\"|\"%s\"|\"neither\", \"rationale\": \"...\"}\n",
		e.cfg.AgentA.Name, e.cfg.AgentB.Name)
	return sb.String()
}
