package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/executor"
)

func at(hh, mm int) time.Time {
	return time.Date(2026, 3, 14, hh, mm, 7, 0, time.UTC)
}

func job(id, scheduled string, status domain.JobStatus, created int) domain.Job {
	return domain.Job{
		ID:            id,
		Status:        status,
		ScheduledTime: scheduled,
		Location:      "Central",
		Date:          "2026-03-20",
		Hour:          "18",
		CreatedAt:     time.Date(2026, 3, 1, 0, created, 0, 0, time.UTC),
	}
}

func TestDueJobs(t *testing.T) {
	jobs := []domain.Job{
		job("late", "09:00", domain.StatusPending, 5),
		job("other-minute", "09:01", domain.StatusPending, 0),
		job("done", "09:00", domain.StatusOK, 0),
		job("unscheduled", "", domain.StatusPending, 0),
		job("early", "09:00", domain.StatusPending, 1),
	}

	due := DueJobs(jobs, at(9, 0))
	if len(due) != 2 {
		t.Fatalf("due count = %d, want 2", len(due))
	}
	if due[0].ID != "early" || due[1].ID != "late" {
		t.Errorf("due order = %s,%s, want early,late", due[0].ID, due[1].ID)
	}
}

func TestDueJobs_NoneDue(t *testing.T) {
	jobs := []domain.Job{job("a", "09:00", domain.StatusPending, 0)}
	if due := DueJobs(jobs, at(8, 59)); len(due) != 0 {
		t.Errorf("due count = %d, want 0", len(due))
	}
}

func TestUpcomingJobs(t *testing.T) {
	jobs := []domain.Job{
		job("tomorrow", "08:00", domain.StatusPending, 0),
		job("today", "10:30", domain.StatusPending, 0),
		job("finished", "09:30", domain.StatusFailed, 0),
	}

	up := UpcomingJobs(jobs, at(9, 0))
	require.Len(t, up, 2)
	assert.Equal(t, "today", up[0].Job.ID)
	assert.Equal(t, 10, up[0].Next.Hour())
	assert.Equal(t, "tomorrow", up[1].Job.ID)
	assert.Equal(t, 15, up[1].Next.Day())
}

// fakeJobs is an in-memory job list
type fakeJobs struct {
	mu   sync.Mutex
	jobs []domain.Job
	err  error
}

func (f *fakeJobs) List() ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Job, len(f.jobs))
	copy(out, f.jobs)
	return out, nil
}

func (f *fakeJobs) setStatus(id string, s domain.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.jobs {
		if f.jobs[i].ID == id {
			f.jobs[i].Status = s
		}
	}
}

// fakeExec records requests. When jobs is set it persists the outcome the
// way the real executor does.
type fakeExec struct {
	mu      sync.Mutex
	reqs    []executor.Request
	jobs    *fakeJobs
	panicOn string
	fail    map[string]bool
}

func (f *fakeExec) Execute(ctx context.Context, req executor.Request) domain.RunResult {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if req.JobID == f.panicOn {
		panic("worker exploded")
	}
	outcome := domain.OutcomeSucceeded
	if f.fail[req.JobID] {
		outcome = domain.OutcomeFailed
	}
	if f.jobs != nil {
		f.jobs.setStatus(req.JobID, outcome.JobStatus())
	}
	return domain.RunResult{RunID: req.RunID, JobID: req.JobID, Outcome: outcome}
}

func (f *fakeExec) requests() []executor.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]executor.Request, len(f.reqs))
	copy(out, f.reqs)
	return out
}

func newTestTicker(jobs JobLister, exec RunExecutor) *Ticker {
	cfg := DefaultTickerConfig()
	cfg.Location = time.UTC
	tk := NewTicker(jobs, exec, cfg, nil)
	n := 0
	tk.newRunID = func() string {
		n++
		return fmt.Sprintf("sched-%d", n)
	}
	return tk
}

func TestTicker_TriggersDueJobOnce(t *testing.T) {
	jobs := &fakeJobs{jobs: []domain.Job{job("j1", "09:00", domain.StatusPending, 0)}}
	exec := &fakeExec{jobs: jobs}
	tk := newTestTicker(jobs, exec)

	assert.Equal(t, 1, tk.Tick(at(9, 0)))
	assert.Equal(t, 0, tk.Tick(at(9, 0).Add(5*time.Second)))

	reqs := exec.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "j1", reqs[0].JobID)
	assert.Equal(t, "sched-1", reqs[0].RunID)
	assert.Equal(t, domain.OriginScheduler, reqs[0].Origin)
	assert.False(t, reqs[0].Cancellable)

	stats := tk.Stats()
	assert.EqualValues(t, 2, stats.TicksSinceStart)
	assert.EqualValues(t, 1, stats.Triggered)
}

func TestTicker_SkipsOtherMinutesAndStatuses(t *testing.T) {
	jobs := &fakeJobs{jobs: []domain.Job{
		job("later", "09:01", domain.StatusPending, 0),
		job("started", "09:00", domain.StatusStarted, 0),
		job("ok", "09:00", domain.StatusOK, 0),
	}}
	exec := &fakeExec{}
	tk := newTestTicker(jobs, exec)

	assert.Equal(t, 0, tk.Tick(at(9, 0)))
	assert.Empty(t, exec.requests())
}

func TestTicker_DoesNotRefireWhenStatusUnchanged(t *testing.T) {
	// the executor never manages to persist a new status
	jobs := &fakeJobs{jobs: []domain.Job{job("j1", "09:00", domain.StatusPending, 0)}}
	exec := &fakeExec{}
	tk := newTestTicker(jobs, exec)

	tk.Tick(at(9, 0))
	tk.Tick(at(9, 0).Add(10 * time.Second))
	tk.Tick(at(9, 0).Add(20 * time.Second))

	assert.Len(t, exec.requests(), 1)
}

func TestTicker_FiresAgainNextDay(t *testing.T) {
	jobs := &fakeJobs{jobs: []domain.Job{job("j1", "09:00", domain.StatusPending, 0)}}
	exec := &fakeExec{}
	tk := newTestTicker(jobs, exec)

	tk.Tick(at(9, 0))
	tk.Tick(at(9, 1))
	tk.Tick(at(9, 0).Add(24 * time.Hour))

	assert.Len(t, exec.requests(), 2)
}

func TestTicker_FailureDoesNotStopOtherJobs(t *testing.T) {
	jobs := &fakeJobs{jobs: []domain.Job{
		job("boom", "09:00", domain.StatusPending, 0),
		job("bad", "09:00", domain.StatusPending, 1),
		job("good", "09:00", domain.StatusPending, 2),
	}}
	exec := &fakeExec{jobs: jobs, panicOn: "boom", fail: map[string]bool{"bad": true}}
	tk := newTestTicker(jobs, exec)

	assert.Equal(t, 3, tk.Tick(at(9, 0)))

	reqs := exec.requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "good", reqs[2].JobID)
	assert.NotEqual(t, reqs[0].RunID, reqs[1].RunID)
}

func TestTicker_ListErrorIsSurvivable(t *testing.T) {
	jobs := &fakeJobs{err: errors.New("disk gone")}
	exec := &fakeExec{}
	tk := newTestTicker(jobs, exec)

	assert.Equal(t, 0, tk.Tick(at(9, 0)))

	jobs.mu.Lock()
	jobs.err = nil
	jobs.jobs = []domain.Job{job("j1", "09:00", domain.StatusPending, 0)}
	jobs.mu.Unlock()

	assert.Equal(t, 1, tk.Tick(at(9, 0)))
}

func TestTicker_UsesConfiguredLocation(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	jobs := &fakeJobs{jobs: []domain.Job{job("j1", "10:00", domain.StatusPending, 0)}}
	exec := &fakeExec{}
	tk := NewTicker(jobs, exec, TickerConfig{Interval: time.Second, Location: berlin}, nil)

	// 09:00 UTC is 10:00 in the configured zone
	assert.Equal(t, 1, tk.Tick(at(9, 0)))
}

func TestTicker_StartStop(t *testing.T) {
	jobs := &fakeJobs{}
	exec := &fakeExec{}
	tk := NewTicker(jobs, exec, TickerConfig{Interval: 10 * time.Millisecond, RunOnStart: true}, nil)

	tk.Start()
	require.Eventually(t, func() bool {
		return tk.Stats().TicksSinceStart >= 2
	}, time.Second, 5*time.Millisecond)
	tk.Stop()

	after := tk.Stats().TicksSinceStart
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, tk.Stats().TicksSinceStart)
}
