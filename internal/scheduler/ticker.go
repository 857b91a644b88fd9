package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/executor"
)

// JobLister reads the current jobs
type JobLister interface {
	List() ([]domain.Job, error)
}

// RunExecutor runs a job to completion
type RunExecutor interface {
	Execute(ctx context.Context, req executor.Request) domain.RunResult
}

// Ticker periodically triggers pending jobs whose scheduled time matches
// the current minute. Jobs run one after another on the ticker goroutine.
type Ticker struct {
	jobs       JobLister
	exec       RunExecutor
	interval   time.Duration
	runOnStart bool
	loc        *time.Location
	now        func() time.Time
	newRunID   func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	triggered       int64
	// fired remembers which jobs ran in the current minute, so a job whose
	// status write failed is not started again on the next tick.
	fired map[string]string
}

// TickerConfig contains configuration for the ticker
type TickerConfig struct {
	Interval   time.Duration
	RunOnStart bool
	// Location is the time zone scheduled times are read in
	Location *time.Location
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval:   5 * time.Second,
		RunOnStart: true,
		Location:   time.Local,
	}
}

// Stats is a snapshot of ticker activity
type Stats struct {
	LastTickAt      time.Time `json:"lastTickAt"`
	TicksSinceStart int64     `json:"ticksSinceStart"`
	Triggered       int64     `json:"triggered"`
	Interval        string    `json:"interval"`
}

// NewTicker creates a ticker
func NewTicker(jobs JobLister, exec RunExecutor, cfg TickerConfig, logger *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), jobs, exec, cfg, logger)
}

// NewTickerWithContext creates a ticker with a parent context. Cancelling
// it stops the ticker and terminates a scheduled run in progress.
func NewTickerWithContext(ctx context.Context, jobs JobLister, exec RunExecutor, cfg TickerConfig, logger *zap.SugaredLogger) *Ticker {
	tickerCtx, cancel := context.WithCancel(ctx)
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Ticker{
		jobs:       jobs,
		exec:       exec,
		interval:   cfg.Interval,
		runOnStart: cfg.RunOnStart,
		loc:        cfg.Location,
		now:        time.Now,
		newRunID:   func() string { return "sched-" + uuid.NewString() },
		ctx:        tickerCtx,
		cancel:     cancel,
		logger:     logger,
		fired:      make(map[string]string),
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("scheduler ticker started", "interval", t.interval, "timezone", t.loc.String())
}

// Stop stops the ticker and waits for a run in progress to wind down
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("scheduler ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	if t.runOnStart {
		t.Tick(t.now())
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.Tick(t.now())
		}
	}
}

// Tick evaluates the jobs once at the given instant and returns how many
// runs it started.
func (t *Ticker) Tick(now time.Time) int {
	now = now.In(t.loc)

	t.mu.Lock()
	t.lastTickAt = now
	t.ticksSinceStart++
	tick := t.ticksSinceStart
	t.mu.Unlock()

	jobs, err := t.jobs.List()
	if err != nil {
		t.logger.Warnw("scheduler tick skipped, cannot list jobs", "error", err, "tick", tick)
		return 0
	}

	minute := now.Format("2006-01-02T15:04")
	due := DueJobs(jobs, now)
	if len(due) == 0 {
		t.logger.Debugw("no jobs due", "minute", now.Format("15:04"), "tick", tick)
		return 0
	}

	started := 0
	for _, job := range due {
		if t.ctx.Err() != nil {
			break
		}
		if !t.claim(job.ID, minute) {
			continue
		}
		t.runJob(job)
		started++
	}
	return started
}

// claim records that jobID fires in minute. It returns false if it
// already did.
func (t *Ticker) claim(jobID, minute string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, m := range t.fired {
		if m != minute {
			delete(t.fired, id)
		}
	}
	if t.fired[jobID] == minute {
		return false
	}
	t.fired[jobID] = minute
	t.triggered++
	return true
}

func (t *Ticker) runJob(job domain.Job) {
	runID := t.newRunID()
	log := t.logger.With("job_id", job.ID, "run_id", runID)

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("scheduled run panicked", "panic", r)
		}
	}()

	log.Infow("triggering scheduled job", "scheduled_time", job.ScheduledTime, "summary", job.Summary())
	res := t.exec.Execute(t.ctx, executor.RequestForJob(job, runID, domain.OriginScheduler))
	if !res.Success() {
		log.Warnw("scheduled job did not book", "outcome", res.Outcome, "exit_code", res.ExitCode)
	}
}

// Stats returns a snapshot of ticker activity
func (t *Ticker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		LastTickAt:      t.lastTickAt,
		TicksSinceStart: t.ticksSinceStart,
		Triggered:       t.triggered,
		Interval:        t.interval.String(),
	}
}
