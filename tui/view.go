package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	columnStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39"))

	selectedStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("238"))

	pendingStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	startedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))
)

func statusStyle(s domain.JobStatus) lipgloss.Style {
	switch s {
	case domain.StatusStarted:
		return startedStyle
	case domain.StatusOK:
		return okStyle
	case domain.StatusFailed:
		return failedStyle
	}
	return pendingStyle
}

func outcomeStyle(o domain.RunOutcome) lipgloss.Style {
	switch o {
	case domain.OutcomeSucceeded:
		return okStyle
	case domain.OutcomeFailed:
		return failedStyle
	case domain.OutcomeCancelled:
		return startedStyle
	}
	return pendingStyle
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	counts := make(map[domain.JobStatus]int)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	header := fmt.Sprintf(" Court Orchestrator │ Jobs: %d │ Pending: %d │ Started: %d │ OK: %d │ Failed: %d ",
		len(m.jobs), counts[domain.StatusPending], counts[domain.StatusStarted],
		counts[domain.StatusOK], counts[domain.StatusFailed])
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	var section string
	switch m.activeTab {
	case tabRuns:
		section = m.renderRuns()
	default:
		section = m.renderJobs()
	}
	b.WriteString(sectionStyle.Width(m.width - 2).Render(section))
	b.WriteString("\n")

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderTabs() string {
	tabs := []string{"Jobs", "Runs"}
	var parts []string

	for i, tab := range tabs {
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		} else {
			parts = append(parts, tabInactiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		}
	}

	return strings.Join(parts, "│")
}

func (m Model) renderJobs() string {
	if len(m.jobs) == 0 {
		return dimmedStyle.Render("No reservations yet. Add one with `court-orch jobs add`.")
	}

	var lines []string
	lines = append(lines, columnStyle.Render(fmt.Sprintf("%-10s %-9s %-11s %-4s %-24s %-6s %s",
		"ID", "STATUS", "DATE", "HOUR", "LOCATION", "AT", "NEXT RUN")))

	now := m.now()
	for i, j := range m.jobs {
		next := "-"
		if t, ok := j.NextRun(now); ok {
			next = humanize.Time(t)
		}
		at := j.ScheduledTime
		if at == "" {
			at = "-"
		}
		status := statusStyle(j.Status).Render(fmt.Sprintf("%-9s", j.Status))
		line := fmt.Sprintf("%-10s %s %-11s %-4s %-24s %-6s %s",
			truncate(j.ID, 10), status, j.Date, j.Hour, truncate(j.Location, 24), at, next)
		if j.DryRun {
			line += dimmedStyle.Render(" (dry run)")
		}
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderRuns() string {
	if len(m.runs) == 0 {
		return dimmedStyle.Render("No runs recorded.")
	}

	var lines []string
	lines = append(lines, columnStyle.Render(fmt.Sprintf("%-14s %-10s %-10s %-10s %-5s %-14s %s",
		"RUN", "JOB", "ORIGIN", "OUTCOME", "EXIT", "STARTED", "DURATION")))

	for i, r := range m.runs {
		outcome := string(r.Outcome)
		if !r.Finished() {
			outcome = "running"
		}
		exit := "-"
		if r.Finished() {
			exit = fmt.Sprintf("%d", r.ExitCode)
		}
		line := fmt.Sprintf("%-14s %-10s %-10s %s %-5s %-14s %s",
			truncate(r.ID, 14), truncate(r.JobID, 10), r.Origin,
			outcomeStyle(r.Outcome).Render(fmt.Sprintf("%-10s", outcome)),
			exit, humanize.Time(r.StartedAt), formatDuration(r.Duration()))
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, line)
		if i == m.selectedRow && r.Detail != "" {
			lines = append(lines, dimmedStyle.Render("  "+truncate(strings.ReplaceAll(r.Detail, "\n", " │ "), m.width-8)))
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderStatusBar() string {
	refreshed := "never"
	if !m.lastRefresh.IsZero() {
		refreshed = humanize.Time(m.lastRefresh)
	}
	bar := fmt.Sprintf(" tab: switch │ j/k: select │ r: refresh │ q: quit │ refreshed %s", refreshed)
	if m.err != nil {
		bar += " │ " + failedStyle.Render("error: "+m.err.Error())
	}
	return dimmedStyle.Render(bar)
}

func truncate(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}
