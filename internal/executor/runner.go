// Package executor launches booking workers and turns their output into a
// run outcome.
package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/errors"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/notify"
)

const stderrTailBytes = 4096

// JobStore is the part of the job store the executor writes to
type JobStore interface {
	Update(id string, mutate func(*domain.Job) error) (domain.Job, error)
}

// RunRecorder keeps run history
type RunRecorder interface {
	RecordStart(run domain.Run) error
	RecordFinish(res domain.RunResult, finishedAt time.Time) error
}

// Publisher delivers live run events
type Publisher interface {
	Publish(runID string, ev domain.Event) bool
	Unsubscribe(runID string)
}

// Request describes one run
type Request struct {
	RunID   string
	JobID   string
	Summary string
	Payload domain.WorkerPayload
	Origin  domain.RunOrigin
	// Cancellable runs are registered so clients can cancel them.
	Cancellable bool
}

// RequestForJob builds the request for running a stored job
func RequestForJob(job domain.Job, runID string, origin domain.RunOrigin) Request {
	return Request{
		RunID:       runID,
		JobID:       job.ID,
		Summary:     job.Summary(),
		Payload:     job.Payload(),
		Origin:      origin,
		Cancellable: origin != domain.OriginScheduler,
	}
}

// Options holds the optional collaborators of an Executor
type Options struct {
	SuccessMarker string
	Runs          RunRecorder
	Notifier      notify.Notifier
	Logger        *zap.SugaredLogger
	// OnStart and OnFinish are called for every run, e.g. to update dashboards.
	OnStart  func(Request)
	OnFinish func(Request, domain.RunResult)
}

// Executor runs booking workers end to end
type Executor struct {
	launcher Launcher
	registry *Registry
	events   Publisher
	jobs     JobStore
	opts     Options
	logger   *zap.SugaredLogger
	now      func() time.Time

	inflight map[string]*flight
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// New creates an Executor
func New(launcher Launcher, registry *Registry, events Publisher, jobs JobStore, opts Options) *Executor {
	if opts.SuccessMarker == "" {
		opts.SuccessMarker = "RESERVATION SUCCESS"
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NoopNotifier{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{
		launcher: launcher,
		registry: registry,
		events:   events,
		jobs:     jobs,
		opts:     opts,
		logger:   log,
		now:      time.Now,
		inflight: make(map[string]*flight),
	}
}

// Registry returns the registry of cancellable runs
func (e *Executor) Registry() *Registry {
	return e.registry
}

// flight tracks a run accepted by Start
type flight struct {
	cancellable bool
	launched    bool
	cancelled   bool
}

// Cancel terminates an in-flight run. A run accepted by Start whose worker
// is still starting is terminated as soon as it is up. It returns false if
// no such run can be cancelled, including when it already was.
func (e *Executor) Cancel(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	f := e.inflight[runID]
	if f != nil && f.cancelled {
		return false
	}
	if e.registry.Cancel(runID) {
		if f != nil {
			f.cancelled = true
		}
		e.logger.Infow("run cancellation requested", "run_id", runID)
		return true
	}
	if f != nil && f.cancellable && !f.launched {
		f.cancelled = true
		e.logger.Infow("run cancellation requested before the worker started", "run_id", runID)
		return true
	}
	return false
}

// launched records that the worker of runID is up, or failed to start when
// h is nil, and registers it for cancellation. It returns false when the
// run was cancelled while starting.
func (e *Executor) launched(runID string, h Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	f := e.inflight[runID]
	if f != nil {
		f.launched = true
		if f.cancelled {
			return false
		}
	}
	if h != nil {
		e.registry.Register(runID, h)
	}
	return true
}

// Start runs req in the background and returns once it is accepted. The
// context bounds the run, so pass one that outlives the caller's request.
func (e *Executor) Start(ctx context.Context, req Request) error {
	if req.RunID == "" {
		return errors.NewValidationError("run id is required")
	}

	e.mu.Lock()
	if _, busy := e.inflight[req.RunID]; busy {
		e.mu.Unlock()
		return errors.NewConflictError("run %q is already in flight", req.RunID)
	}
	e.inflight[req.RunID] = &flight{cancellable: req.Cancellable}
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.inflight, req.RunID)
			e.mu.Unlock()
		}()
		e.Execute(ctx, req)
	}()
	return nil
}

// InFlight reports whether a run started with Start has not finished yet
func (e *Executor) InFlight(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[runID]
	return ok
}

// Wait blocks until every run started with Start has finished
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Execute runs req to completion and returns its result. Run failures are
// reported in the result, never as a panic or error to the caller.
func (e *Executor) Execute(ctx context.Context, req Request) (res domain.RunResult) {
	log := e.logger.With("run_id", req.RunID, "job_id", req.JobID, "origin", req.Origin)
	res = domain.RunResult{RunID: req.RunID, JobID: req.JobID, Outcome: domain.OutcomeFailed, ExitCode: -1}

	var handle Handle
	finished := false
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("run panicked", "panic", r)
			if handle != nil {
				handle.Terminate()
			}
			res.Outcome = domain.OutcomeFailed
			res.Detail = fmt.Sprintf("internal error: %v", r)
			res.Err = errors.Newf("run panicked: %v", r)
			if !finished {
				e.finish(req, res, log)
			}
		}
		if handle != nil && req.Cancellable {
			e.registry.Unregister(req.RunID, handle)
		}
	}()

	e.setStatus(req.JobID, domain.StatusStarted, log)
	if e.opts.Runs != nil {
		err := e.opts.Runs.RecordStart(domain.Run{
			ID: req.RunID, JobID: req.JobID, Origin: req.Origin, StartedAt: e.now(),
		})
		if err != nil {
			log.Warnw("recording run start failed", "error", err)
		}
	}
	if e.opts.OnStart != nil {
		e.opts.OnStart(req)
	}
	log.Infow("run started", "summary", req.Summary)

	h, err := e.launcher.Launch(ctx, req.RunID, req.Payload)
	if err != nil {
		if req.Cancellable {
			e.launched(req.RunID, nil)
		}
		log.Errorw("worker launch failed", "error", err)
		res.Detail = err.Error()
		res.Err = err
		finished = true
		e.finish(req, res, log)
		return res
	}
	handle = h
	if req.Cancellable && !e.launched(req.RunID, handle) {
		log.Infow("run cancelled while the worker was starting")
		handle.Terminate()
	}
	e.events.Publish(req.RunID, domain.NoticeEvent("worker started"))

	var markerSeen atomic.Bool
	tail := &tailBuffer{max: stderrTailBytes}

	g := new(errgroup.Group)
	g.Go(func() (err error) {
		defer recoverDrain(handle, handle.Stdout(), &err)
		return drainLines(handle.Stdout(), func(line string) {
			if strings.Contains(line, e.opts.SuccessMarker) {
				markerSeen.Store(true)
			}
			e.events.Publish(req.RunID, domain.LogEvent(domain.StreamStdout, line))
		})
	})
	g.Go(func() (err error) {
		defer recoverDrain(handle, handle.Stderr(), &err)
		return drainLines(handle.Stderr(), func(line string) {
			tail.WriteLine(line)
			e.events.Publish(req.RunID, domain.LogEvent(domain.StreamStderr, line))
		})
	})
	drainErr := g.Wait()
	if drainErr != nil {
		log.Warnw("reading worker output failed", "error", drainErr)
	}

	code, waitErr := handle.Wait()
	cancelled := handle.Terminated()
	if req.Cancellable {
		e.registry.Unregister(req.RunID, handle)
	}

	res.ExitCode = code
	res.MarkerSeen = markerSeen.Load()
	switch {
	case errors.Is(drainErr, errOutputPanic):
		res.Outcome = domain.OutcomeFailed
		res.Detail = fmt.Sprintf("internal error: %v", drainErr)
		res.Err = drainErr
	case cancelled:
		res.Outcome = domain.OutcomeCancelled
		res.Detail = "run cancelled"
	case code == 0 && res.MarkerSeen:
		res.Outcome = domain.OutcomeSucceeded
	default:
		res.Outcome = domain.OutcomeFailed
		res.Detail = failureDetail(code, res.MarkerSeen, waitErr, tail.String())
		res.Err = errors.Mark(errors.Newf("worker exited with code %d", code), errors.ErrWorkerFailure)
	}

	finished = true
	e.finish(req, res, log)
	return res
}

// finish persists the outcome and closes the run's stream. It runs exactly
// once per run.
func (e *Executor) finish(req Request, res domain.RunResult, log *zap.SugaredLogger) {
	e.setStatus(req.JobID, res.Outcome.JobStatus(), log)

	if e.opts.Runs != nil {
		if err := e.opts.Runs.RecordFinish(res, e.now()); err != nil {
			log.Warnw("recording run finish failed", "error", err)
		}
	}

	e.events.Publish(req.RunID, domain.ResultEvent(res))
	e.events.Publish(req.RunID, domain.EndEvent())
	e.events.Unsubscribe(req.RunID)

	log.Infow("run finished",
		"outcome", res.Outcome,
		"exit_code", res.ExitCode,
		"marker_seen", res.MarkerSeen,
	)

	if e.opts.OnFinish != nil {
		e.opts.OnFinish(req, res)
	}

	n := notify.ForRun(res, req.Summary)
	go func() {
		if err := e.opts.Notifier.Send(n); err != nil {
			log.Warnw("sending notification failed", "error", err)
		}
	}()
}

// setStatus records a status change on the job. Failures are logged and
// never abort the run. Changes that are not valid transitions are skipped.
func (e *Executor) setStatus(jobID string, status domain.JobStatus, log *zap.SugaredLogger) {
	if jobID == "" || e.jobs == nil {
		return
	}
	_, err := e.jobs.Update(jobID, func(j *domain.Job) error {
		if !j.Status.CanTransitionTo(status) {
			return errors.NewValidationError("job status %s cannot change to %s", j.Status, status)
		}
		j.Status = status
		return nil
	})
	switch {
	case err == nil:
	case errors.IsValidation(err):
		log.Warnw("job status change skipped", "status", status, "reason", err)
	case errors.IsNotFound(err):
		log.Debugw("job not in store, status not recorded", "status", status)
	default:
		log.Errorw("job status write failed", "status", status, "error", err)
	}
}

var errOutputPanic = errors.New("worker output handler panicked")

// recoverDrain turns a panic while handling worker output into an error.
// The worker is stopped and the rest of r is discarded so it can exit.
func recoverDrain(h Handle, r io.Reader, errp *error) {
	p := recover()
	if p == nil {
		return
	}
	*errp = errors.Mark(errors.Newf("handling worker output: %v", p), errOutputPanic)
	h.Terminate()
	_, _ = io.Copy(io.Discard, r)
}

// drainLines calls fn for each line of r. The reader is always consumed to
// EOF so the worker never blocks on a full pipe.
func drainLines(r io.Reader, fn func(line string)) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		fn(strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

func failureDetail(code int, markerSeen bool, waitErr error, stderrTail string) string {
	var b strings.Builder
	switch {
	case waitErr != nil:
		fmt.Fprintf(&b, "waiting for worker: %v", waitErr)
	case code == 0 && !markerSeen:
		b.WriteString("worker exited cleanly without reporting a reservation")
	default:
		fmt.Fprintf(&b, "worker exited with code %d", code)
	}
	if stderrTail = strings.TrimSpace(stderrTail); stderrTail != "" {
		b.WriteString("\n")
		b.WriteString(stderrTail)
	}
	return b.String()
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) WriteLine(line string) {
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
