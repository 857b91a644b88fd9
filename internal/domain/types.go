package domain

// JobStatus represents the lifecycle state of a booking job
type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusStarted JobStatus = "started"
	StatusOK      JobStatus = "ok"
	StatusFailed  JobStatus = "failed"
)

// Valid reports whether s is one of the known statuses
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusStarted, StatusOK, StatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true once a job has finished running
func (s JobStatus) IsTerminal() bool {
	return s == StatusOK || s == StatusFailed
}

// CanTransitionTo reports whether a job in status s may move to next.
// Staying in the same status is always allowed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusStarted
	case StatusStarted:
		return next == StatusOK || next == StatusFailed
	}
	return false
}

// RunOutcome is the terminal classification of a run
type RunOutcome string

const (
	OutcomeSucceeded RunOutcome = "succeeded"
	OutcomeFailed    RunOutcome = "failed"
	OutcomeCancelled RunOutcome = "cancelled"
)

// JobStatus maps a run outcome to the status persisted on the job.
// A cancelled run leaves the job failed.
func (o RunOutcome) JobStatus() JobStatus {
	if o == OutcomeSucceeded {
		return StatusOK
	}
	return StatusFailed
}

// RunOrigin records who asked for a run
type RunOrigin string

const (
	OriginAPI       RunOrigin = "api"
	OriginScheduler RunOrigin = "scheduler"
	OriginCLI       RunOrigin = "cli"
)
