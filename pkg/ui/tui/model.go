package tui

import (
	"time"

	"apiflow/pkg/waiter"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// JobState is the progress of one wait.
type JobState int

const (
	JobPending JobState = iota
	JobPolling
	JobSucceeded
	JobFailed
)

// Job is one wait shown on the dashboard.
type Job struct {
	Name      string
	State     JobState
	Attempts  int
	LastState waiter.State
	Err       error
	Started   time.Time
	Finished  time.Time
}

// Model is the waiter dashboard. All mutation happens in Update, which
// bubbletea serialises.
type Model struct {
	title   string
	spinner spinner.Model
	jobs    map[string]*Job
	order   []string
	started time.Time

	width    int
	height   int
	showHelp bool
	done     bool
	now      func() time.Time
}

// NewModel creates a dashboard for the named jobs.
func NewModel(title string, jobs []string) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(neonCyan)

	m := &Model{
		title:   title,
		spinner: s,
		jobs:    make(map[string]*Job, len(jobs)),
		now:     time.Now,
	}
	m.started = m.now()
	for _, name := range jobs {
		m.track(name)
	}
	return m
}

// Init starts the spinner.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *Model) track(name string) *Job {
	if j, ok := m.jobs[name]; ok {
		return j
	}
	j := &Job{Name: name}
	m.jobs[name] = j
	m.order = append(m.order, name)
	return j
}

// RecordAttempt marks a poll of job.
func (m *Model) RecordAttempt(name string, attempt int, state waiter.State) {
	j := m.track(name)
	if j.State == JobPending {
		j.State = JobPolling
		j.Started = m.now()
	}
	j.Attempts = attempt
	j.LastState = state
}

// RecordResult marks job as finished.
func (m *Model) RecordResult(name string, attempts int, err error) {
	j := m.track(name)
	j.Attempts = attempts
	j.Err = err
	j.Finished = m.now()
	if err != nil {
		j.State = JobFailed
	} else {
		j.State = JobSucceeded
	}
}

// Jobs returns the jobs in the order they were first seen.
func (m *Model) Jobs() []*Job {
	out := make([]*Job, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.jobs[name])
	}
	return out
}

// Counts returns how many jobs are in each state.
func (m *Model) Counts() (pending, polling, succeeded, failed int) {
	for _, j := range m.jobs {
		switch j.State {
		case JobPending:
			pending++
		case JobPolling:
			polling++
		case JobSucceeded:
			succeeded++
		case JobFailed:
			failed++
		}
	}
	return
}

// Finished reports whether every job has a result.
func (m *Model) Finished() bool {
	pending, polling, _, _ := m.Counts()
	return pending == 0 && polling == 0
}
