package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// View renders the dashboard
func (m *Model) View() string {
	if m.width == 0 && !m.done {
		return "Initializing..."
	}

	sections := []string{
		headerStyle.Render("apiflow :: " + m.title),
		m.renderStats(),
		m.renderJobs(),
	}
	if m.showHelp {
		sections = append(sections, helpStyle.Render("q: quit   ?: toggle help"))
	} else if !m.done {
		sections = append(sections, helpStyle.Render("Press ? for help"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (m *Model) renderStats() string {
	pending, polling, succeeded, failed := m.Counts()
	elapsed := m.now().Sub(m.started).Round(time.Second)

	stat := func(label string, value int) string {
		return statsLabelStyle.Render(label) + " " + statsValueStyle.Render(fmt.Sprint(value))
	}
	return strings.Join([]string{
		stat("pending", pending),
		stat("polling", polling),
		stat("succeeded", succeeded),
		stat("failed", failed),
		statsLabelStyle.Render("elapsed") + " " + statsValueStyle.Render(elapsed.String()),
	}, "  ")
}

func (m *Model) renderJobs() string {
	title := titleStyle.Render(" WAITS ")
	if len(m.order) == 0 {
		return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, pendingStyle.Render("nothing to wait for")))
	}

	lines := []string{title}
	for _, j := range m.Jobs() {
		lines = append(lines, m.renderJob(j))
	}
	style := panelStyle
	if m.width > 4 {
		style = style.Width(m.width - 4)
	}
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *Model) renderJob(j *Job) string {
	name := jobStyle.Render(j.Name)
	switch j.State {
	case JobPending:
		return pendingStyle.Render("  ") + name + pendingStyle.Render(" queued")
	case JobPolling:
		state := string(j.LastState)
		if state == "" {
			state = "waiting"
		}
		return m.spinner.View() + " " + name + " " + retryStyle.Render(fmt.Sprintf("attempt %d (%s)", j.Attempts, state))
	case JobSucceeded:
		return successStyle.Render("✓ ") + name + " " + successStyle.Render(fmt.Sprintf("ready after %d attempts", j.Attempts))
	default:
		return errorStyle.Render("✗ ") + name + " " + errorStyle.Render(j.Err.Error())
	}
}
