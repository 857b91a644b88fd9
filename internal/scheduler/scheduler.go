// Package scheduler triggers pending jobs at their scheduled time of day.
package scheduler

import (
	"sort"
	"time"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
)

// DueJobs returns the pending jobs scheduled for the wall-clock minute of
// now, earliest created first.
func DueJobs(jobs []domain.Job, now time.Time) []domain.Job {
	var due []domain.Job
	for i := range jobs {
		if jobs[i].DueAt(now) {
			due = append(due, jobs[i])
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	return due
}

// Upcoming is a pending job with its next trigger time
type Upcoming struct {
	Job  domain.Job
	Next time.Time
}

// UpcomingJobs lists pending scheduled jobs ordered by their next trigger
// after now.
func UpcomingJobs(jobs []domain.Job, now time.Time) []Upcoming {
	var out []Upcoming
	for _, j := range jobs {
		if next, ok := j.NextRun(now); ok {
			out = append(out, Upcoming{Job: j, Next: next})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Next.Before(out[j].Next)
	})
	return out
}
