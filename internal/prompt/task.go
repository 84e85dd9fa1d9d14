package prompt

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// AskTask prompts for a task description when none was given on the
// command line. Callers must gate on Interactive() first.
func AskTask() (string, error) {
	final, err := tea.NewProgram(taskModel{input: newTaskInput()}).Run()
	if err != nil {
		return "", fmt.Errorf("task prompt: %w", err)
	}
	m := final.(taskModel)
	if m.aborted {
		return "", fmt.Errorf("task prompt: aborted")
	}
	return strings.TrimSpace(m.input.Value()), nil
}

func newTaskInput() textinput.Model {
	in := textinput.New()
	in.Placeholder = "describe the task"
	in.Focus()
	in.CharLimit = 500
	in.Width = 72
	return in
}

type taskModel struct {
	input   textinput.Model
	done    bool
	aborted bool
}

func (m taskModel) Init() tea.Cmd { return textinput.Blink }

func (m taskModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			if strings.TrimSpace(m.input.Value()) != "" {
				m.done = true
				return m, tea.Quit
			}
		case "esc", "ctrl+c":
			m.aborted = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m taskModel) View() string {
	if m.done || m.aborted {
		return ""
	}
	return titleStyle.Render("Task") + "\n" + m.input.View() + "\n" +
		dimStyle.Render("enter to start, esc to abort\n")
}
