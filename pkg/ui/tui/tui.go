// Package tui is a terminal dashboard that follows concurrent waits.
package tui

import (
	"apiflow/pkg/waiter"

	tea "github.com/charmbracelet/bubbletea"
)

// TUI runs the dashboard program.
type TUI struct {
	program *tea.Program
	model   *Model
}

// New creates a dashboard for the named jobs. opts are passed to the
// bubbletea program.
func New(title string, jobs []string, opts ...tea.ProgramOption) *TUI {
	model := NewModel(title, jobs)
	return &TUI{
		program: tea.NewProgram(model, opts...),
		model:   model,
	}
}

// Run blocks until the dashboard exits, either after Done or when the
// user quits.
func (t *TUI) Run() error {
	_, err := t.program.Run()
	return err
}

// Done tells the dashboard that all waits have returned.
func (t *TUI) Done() {
	t.program.Send(DoneMsg{})
}

// Quit stops the dashboard immediately.
func (t *TUI) Quit() {
	t.program.Quit()
}

// Model returns the dashboard state. Read it only after Run returns.
func (t *TUI) Model() *Model {
	return t.model
}

// Observer returns a waiter observer that reports to the dashboard under
// job.
func (t *TUI) Observer(job string) waiter.Observer {
	return &jobObserver{send: t.program.Send, job: job}
}

type jobObserver struct {
	send func(tea.Msg)
	job  string
}

func (o *jobObserver) ObserveWaiterAttempt(_ string, attempt int, state waiter.State) {
	o.send(AttemptMsg{Job: o.job, Attempt: attempt, State: state})
}

func (o *jobObserver) ObserveWaiterResult(_ string, attempts int, err error) {
	o.send(ResultMsg{Job: o.job, Attempts: attempts, Err: err})
}
