// Package prompt is the interactive decision-override surface. It only
// ever runs when standard input is a terminal and interactive mode is on;
// otherwise the pipeline proceeds with the decided defaults so it can
// never hang in scripts or CI.
package prompt

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/duetctl/duet/internal/decision"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Override is the user's answer to the driver prompt.
type Override struct {
	// Driver is the chosen execution driver.
	Driver string `json:"driver"`
	// Overridden reports whether the user changed the decided driver.
	Overridden bool `json:"overridden"`
}

// Interactive reports whether an override prompt may be shown at all.
func Interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

// ConfirmDriver shows the decision and lets the user keep or override the
// execution driver. Callers must gate on Interactive() first.
func ConfirmDriver(d decision.Decision, agentA, agentB string) (Override, error) {
	m := model{
		decision: d,
		choices:  []string{d.ExecutionDriver, otherOf(d.ExecutionDriver, agentA, agentB)},
	}
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return Override{}, fmt.Errorf("driver prompt: %w", err)
	}

	result := final.(model)
	chosen := result.choices[result.cursor]
	return Override{Driver: chosen, Overridden: chosen != d.ExecutionDriver}, nil
}

func otherOf(name, agentA, agentB string) string {
	if name == agentA {
		return agentB
	}
	return agentA
}

type model struct {
	decision decision.Decision
	choices  []string
	cursor   int
	done     bool
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.choices)-1 {
			m.cursor++
		}
	case "enter":
		m.done = true
		return m, tea.Quit
	case "q", "esc", "ctrl+c":
		// Abandoning the prompt keeps the decided driver.
		m.cursor = 0
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	if m.done {
		return ""
	}
	s := titleStyle.Render("Decision") + "\n"
	s += fmt.Sprintf("  winner: %s\n", m.decision.Winner)
	if m.decision.Rationale != "" {
		s += dimStyle.Render("  "+m.decision.Rationale) + "\n"
	}
	s += "\n" + titleStyle.Render("Execution driver") + "\n"
	for i, choice := range m.choices {
		label := choice
		if i == 0 {
			label += " (decided)"
		}
		if i == m.cursor {
			s += selectedStyle.Render("> "+label) + "\n"
		} else {
			s += "  " + label + "\n"
		}
	}
	s += dimStyle.Render("\nenter to confirm, q to keep the decided driver\n")
	return s
}
