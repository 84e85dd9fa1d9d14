// Package render produces the run summary in two forms: the markdown
// artifact written to the run's final directory, and a styled terminal
// rendering of the same information.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/duetctl/duet/internal/decision"
	"github.com/duetctl/duet/internal/diffutil"
	"github.com/duetctl/duet/internal/guardrail"
)

// RunReport is everything the summary shows about a completed run.
type RunReport struct {
	Session      string
	Run          string
	Mode         string
	Decision     decision.Decision
	Overridden   bool
	Plan         bool
	Strategy     string
	Rounds       int
	Converged    bool
	Blockers     int
	Warnings     int
	ChangedFiles []string
	Stats        diffutil.Stats
	Applied      bool
	Violations   []guardrail.Violation
}

// Blocked reports whether the guardrail stopped the final apply.
func (r RunReport) Blocked() bool { return len(r.Violations) > 0 }

// Markdown renders the summary.md artifact.
func Markdown(r RunReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Run summary\n\n")
	fmt.Fprintf(&sb, "- session: %s\n- run: %s\n- mode: %s\n", r.Session, r.Run, r.Mode)
	if r.Decision.Mode != "" {
		fmt.Fprintf(&sb, "- decision: %s wins (%s)\n", r.Decision.Winner, r.Decision.Mode)
		if r.Overridden {
			fmt.Fprintf(&sb, "- driver overridden interactively: %s\n", r.Decision.ExecutionDriver)
		}
	}
	if r.Strategy != "" {
		fmt.Fprintf(&sb, "- strategy: %s, %d round(s), converged: %v\n", r.Strategy, r.Rounds, r.Converged)
	}
	fmt.Fprintf(&sb, "- review: %d blocker(s), %d warning(s)\n", r.Blockers, r.Warnings)
	fmt.Fprintf(&sb, "- diff: %d file(s), +%d/-%d\n", len(r.ChangedFiles), r.Stats.Added, r.Stats.Removed)

	switch {
	case r.Blocked():
		sb.WriteString("- outcome: blocked by guardrail\n\n## Guardrail violations\n")
		for _, v := range r.Violations {
			fmt.Fprintf(&sb, "- %s: %s\n", v.Rule, v.Detail)
		}
	case r.Applied:
		sb.WriteString("- outcome: patch applied to working tree\n")
	default:
		sb.WriteString("- outcome: patch recorded, not applied\n")
	}

	if len(r.ChangedFiles) > 0 {
		sb.WriteString("\n## Changed files\n")
		for _, f := range r.ChangedFiles {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}
	if r.Decision.Rationale != "" {
		fmt.Fprintf(&sb, "\n## Decision rationale\n%s\n", r.Decision.Rationale)
	}
	return sb.String()
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(10)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	blockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// Terminal renders the summary for an interactive terminal.
func Terminal(r RunReport) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render("duet run "+shortID(r.Run)) + "\n")

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(label) + " " + value + "\n")
	}
	row("session", r.Session)
	row("mode", r.Mode)
	if r.Decision.Mode != "" {
		row("decision", fmt.Sprintf("%s (%s)", r.Decision.Winner, r.Decision.Mode))
	}
	if r.Strategy != "" {
		row("rounds", fmt.Sprintf("%s x%d, converged %v", r.Strategy, r.Rounds, r.Converged))
	}
	row("review", fmt.Sprintf("%d blockers, %d warnings", r.Blockers, r.Warnings))
	row("diff", fmt.Sprintf("%d files +%d/-%d", len(r.ChangedFiles), r.Stats.Added, r.Stats.Removed))

	switch {
	case r.Blocked():
		sb.WriteString(blockedStyle.Render("blocked by guardrail") + "\n")
		for _, v := range r.Violations {
			sb.WriteString("  " + v.Rule + ": " + v.Detail + "\n")
		}
	case r.Applied:
		sb.WriteString(okStyle.Render("applied to working tree") + "\n")
	default:
		sb.WriteString("patch recorded, not applied\n")
	}
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
