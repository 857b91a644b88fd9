package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/broadcast"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/executor"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/jobstore"
)

const marker = "RESERVATION SUCCESS"

type testEnv struct {
	server   *Server
	http     *httptest.Server
	jobs     *jobstore.Store
	events   *broadcast.Broadcaster
	exec     *executor.Executor
	launcher *pipeLauncher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		jobs:     jobstore.New(filepath.Join(t.TempDir(), "reservations.json")),
		events:   broadcast.New(),
		launcher: &pipeLauncher{handles: make(map[string]*pipeHandle)},
	}
	env.exec = executor.New(env.launcher, executor.NewRegistry(), env.events, env.jobs, executor.Options{
		SuccessMarker: marker,
	})
	env.server = NewServer(context.Background(), Options{
		Jobs:     env.jobs,
		Executor: env.exec,
		Events:   env.events,
	})
	env.http = httptest.NewServer(env.server.Handler())

	t.Cleanup(func() {
		env.launcher.finishAll()
		env.exec.Wait()
		env.http.Close()
		env.server.Close()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.http.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func validJob() map[string]any {
	return map[string]any{
		"location":  "Suzanne Lenglen",
		"date":      "2026-05-02",
		"hour":      "18",
		"priceType": "Tarif plein",
		"courtType": "Couvert",
		"players":   []map[string]string{{"firstName": "Ada", "lastName": "Lovelace"}},
	}
}

func TestCreateJob(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/jobs", validJob())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[JobResponse](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Nil(t, created.NextRun)

	list := decode[[]JobResponse](t, env.do(t, http.MethodGet, "/jobs", nil))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
}

func TestCreateJob_UniqueIDs(t *testing.T) {
	env := newTestEnv(t)

	a := decode[JobResponse](t, env.do(t, http.MethodPost, "/jobs", validJob()))
	b := decode[JobResponse](t, env.do(t, http.MethodPost, "/jobs", validJob()))
	assert.NotEqual(t, a.ID, b.ID)
}

func TestCreateJob_ScheduledHasNextRun(t *testing.T) {
	env := newTestEnv(t)

	body := validJob()
	body["scheduledTime"] = "09:00"
	created := decode[JobResponse](t, env.do(t, http.MethodPost, "/jobs", body))
	require.NotNil(t, created.NextRun)
	assert.Equal(t, 9, created.NextRun.Hour())
	assert.Equal(t, 0, created.NextRun.Minute())
}

func TestCreateJob_MissingFields(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/jobs", map[string]any{"location": "Niox"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	assert.Contains(t, body.Error, "missing required reservation fields")
	assert.ElementsMatch(t, []string{"date", "hour", "priceType", "courtType", "players"}, body.Details)
}

func TestCreateJob_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.http.URL+"/jobs", "application/json", bytes.NewBufferString("{nope"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJob_NotFound(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/jobs/missing", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/jobs/missing", map[string]any{"hour": "10"}).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/jobs/missing", nil).StatusCode)
}

func TestUpdateJob_Merges(t *testing.T) {
	env := newTestEnv(t)
	created := decode[JobResponse](t, env.do(t, http.MethodPost, "/jobs", validJob()))

	resp := env.do(t, http.MethodPut, "/jobs/"+created.ID, map[string]any{"id": "hijack", "hour": "20"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[JobResponse](t, resp)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "20", updated.Hour)
	assert.Equal(t, "Suzanne Lenglen", updated.Location)

	fetched := decode[JobResponse](t, env.do(t, http.MethodGet, "/jobs/"+created.ID, nil))
	assert.Equal(t, "20", fetched.Hour)
}

func TestUpdateJob_RejectsInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	created := decode[JobResponse](t, env.do(t, http.MethodPost, "/jobs", validJob()))

	resp := env.do(t, http.MethodPut, "/jobs/"+created.ID, map[string]any{"status": "ok"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	fetched := decode[JobResponse](t, env.do(t, http.MethodGet, "/jobs/"+created.ID, nil))
	assert.Equal(t, domain.StatusPending, fetched.Status)
}

func TestDeleteJob(t *testing.T) {
	env := newTestEnv(t)
	created := decode[JobResponse](t, env.do(t, http.MethodPost, "/jobs", validJob()))

	resp := env.do(t, http.MethodDelete, "/jobs/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Message     string     `json:"message"`
		Reservation domain.Job `json:"reservation"`
	}](t, resp)
	assert.Equal(t, "Reservation deleted.", body.Message)
	assert.Equal(t, created.ID, body.Reservation.ID)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/jobs/"+created.ID, nil).StatusCode)
}

func TestRun_MissingID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/run", map[string]any{"date": "2026-05-02"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, env.launcher.count())
}

func TestRun_Conflict(t *testing.T) {
	env := newTestEnv(t)

	first := env.do(t, http.MethodPost, "/run", map[string]any{"reservationId": "r1"})
	require.Equal(t, http.StatusAccepted, first.StatusCode)

	second := env.do(t, http.MethodPost, "/run", map[string]any{"reservationId": "r1"})
	assert.Equal(t, http.StatusConflict, second.StatusCode)
}

func TestCancelRun_Unknown(t *testing.T) {
	env := newTestEnv(t)
	created := decode[JobResponse](t, env.do(t, http.MethodPost, "/jobs", validJob()))

	resp := env.do(t, http.MethodPost, "/cancel-run/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	fetched := decode[JobResponse](t, env.do(t, http.MethodGet, "/jobs/"+created.ID, nil))
	assert.Equal(t, created.UpdatedAt, fetched.UpdatedAt)
	assert.Equal(t, domain.StatusPending, fetched.Status)
}

func TestLocationsAndHealth(t *testing.T) {
	env := newTestEnv(t)

	form := decode[domain.FormDefaults](t, env.do(t, http.MethodGet, "/locations", nil))
	assert.Contains(t, form.Locations, "Suzanne Lenglen")

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).StatusCode)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/jobs", validJob())
	env.do(t, http.MethodPost, "/jobs", validJob())

	status := decode[StatusResponse](t, env.do(t, http.MethodGet, "/api/status", nil))
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 2, status.Jobs[domain.StatusPending])
	assert.Empty(t, status.ActiveRuns)
	assert.Nil(t, status.Scheduler)
}

// pipeLauncher hands out workers whose output the test writes by hand
type pipeLauncher struct {
	mu      sync.Mutex
	handles map[string]*pipeHandle
	n       int
}

func (l *pipeLauncher) Launch(ctx context.Context, runID string, payload domain.WorkerPayload) (executor.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := newPipeHandle()
	h.payload = payload
	l.handles[runID] = h
	l.n++
	return h, nil
}

func (l *pipeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

func (l *pipeLauncher) handle(t *testing.T, runID string) *pipeHandle {
	t.Helper()
	var h *pipeHandle
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		h = l.handles[runID]
		return h != nil
	}, 2*time.Second, 5*time.Millisecond)
	return h
}

func (l *pipeLauncher) finishAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, h := range l.handles {
		h.finish(1)
	}
}

type pipeHandle struct {
	outR, errR *io.PipeReader
	outW, errW *io.PipeWriter
	payload    domain.WorkerPayload
	code       atomic.Int64
	once       sync.Once
	terminated atomic.Bool
}

func newPipeHandle() *pipeHandle {
	h := &pipeHandle{}
	h.outR, h.outW = io.Pipe()
	h.errR, h.errW = io.Pipe()
	return h
}

func (h *pipeHandle) Stdout() io.Reader { return h.outR }
func (h *pipeHandle) Stderr() io.Reader { return h.errR }
func (h *pipeHandle) Terminated() bool  { return h.terminated.Load() }

func (h *pipeHandle) println(line string) {
	io.WriteString(h.outW, line+"\n")
}

// finish closes both streams; the worker then exits with code
func (h *pipeHandle) finish(code int) {
	h.once.Do(func() {
		h.code.Store(int64(code))
		h.outW.Close()
		h.errW.Close()
	})
}

func (h *pipeHandle) Terminate() {
	h.terminated.Store(true)
	h.finish(-1)
}

func (h *pipeHandle) Wait() (int, error) {
	return int(h.code.Load()), nil
}
