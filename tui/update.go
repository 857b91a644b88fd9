package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, refreshCmd(m.load)
		case "j", "down":
			if m.selectedRow < m.rowCount()-1 {
				m.selectedRow++
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.selectedRow = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(refreshCmd(m.load), tickCmd())

	case DataMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.jobs = msg.Snapshot.Jobs
			m.runs = msg.Snapshot.Runs
			m.lastRefresh = m.now()
		}
		if n := m.rowCount(); m.selectedRow >= n {
			m.selectedRow = max(n-1, 0)
		}
	}

	return m, nil
}
