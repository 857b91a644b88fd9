// Package tui is the terminal dashboard for jobs and recent runs.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
)

// RefreshInterval is how often the dashboard reloads its data
const RefreshInterval = 2 * time.Second

const (
	tabJobs = iota
	tabRuns
	tabCount
)

// Snapshot is one load of dashboard data
type Snapshot struct {
	Jobs []domain.Job
	Runs []domain.Run
}

// Loader fetches the current dashboard data
type Loader func() (Snapshot, error)

// Model is the TUI application model
type Model struct {
	load Loader
	now  func() time.Time

	// Data
	jobs []domain.Job
	runs []domain.Run
	err  error

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int

	// Refresh
	lastRefresh time.Time
}

// NewModel creates a new TUI model
func NewModel(load Loader) Model {
	return Model{
		load: load,
		now:  time.Now,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		refreshCmd(m.load),
		tickCmd(),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

// DataMsg carries freshly loaded data
type DataMsg struct {
	Snapshot Snapshot
	Err      error
}

func tickCmd() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func refreshCmd(load Loader) tea.Cmd {
	return func() tea.Msg {
		if load == nil {
			return DataMsg{}
		}
		snap, err := load()
		return DataMsg{Snapshot: snap, Err: err}
	}
}

func (m Model) rowCount() int {
	if m.activeTab == tabRuns {
		return len(m.runs)
	}
	return len(m.jobs)
}
