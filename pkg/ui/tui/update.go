package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"apiflow/pkg/waiter"
)

// AttemptMsg reports a poll.
type AttemptMsg struct {
	Job     string
	Attempt int
	State   waiter.State
}

// ResultMsg reports a finished wait.
type ResultMsg struct {
	Job      string
	Attempts int
	Err      error
}

// DoneMsg is sent once every wait has returned. The dashboard exits after
// rendering the final state.
type DoneMsg struct{}

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "?":
			m.showHelp = !m.showHelp
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case AttemptMsg:
		m.RecordAttempt(msg.Job, msg.Attempt, msg.State)
		return m, nil

	case ResultMsg:
		m.RecordResult(msg.Job, msg.Attempts, msg.Err)
		return m, nil

	case DoneMsg:
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}
