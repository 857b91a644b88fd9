package domain

import "time"

// Run is one execution of a job's worker process
type Run struct {
	ID         string     `json:"runId"`
	JobID      string     `json:"jobId,omitempty"`
	Origin     RunOrigin  `json:"origin"`
	Outcome    RunOutcome `json:"outcome,omitempty"`
	ExitCode   int        `json:"exitCode"`
	Detail     string     `json:"detail,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Finished returns true once the run has an outcome
func (r *Run) Finished() bool {
	return r.FinishedAt != nil
}

// Duration returns how long the run took, or has been running so far
func (r *Run) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// RunResult is what the executor reports once a run is over
type RunResult struct {
	RunID    string
	JobID    string
	Outcome  RunOutcome
	ExitCode int
	// Detail holds the launch error or the tail of the worker's stderr.
	Detail string
	// MarkerSeen is true if the success marker appeared on stdout.
	MarkerSeen bool
	Err        error
}

// Success reports whether the booking was made
func (r RunResult) Success() bool {
	return r.Outcome == OutcomeSucceeded
}
