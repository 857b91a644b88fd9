// Package api is the HTTP control plane: job CRUD, run triggering,
// live run streams and cancellation.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/broadcast"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/errors"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/executor"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/runstore"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/scheduler"
)

// JobStore is the job persistence the API works against
type JobStore interface {
	List() ([]domain.Job, error)
	Get(id string) (domain.Job, error)
	Insert(job domain.Job) (domain.Job, error)
	Update(id string, mutate func(*domain.Job) error) (domain.Job, error)
	Delete(id string) (domain.Job, error)
}

// RunHistory serves recorded runs
type RunHistory interface {
	Get(runID string) (domain.Run, error)
	List(opts runstore.ListOptions) ([]domain.Run, error)
}

// TickerStats exposes scheduler activity
type TickerStats interface {
	Stats() scheduler.Stats
}

// Options configures a Server
type Options struct {
	Jobs     JobStore
	Executor *executor.Executor
	Events   *broadcast.Broadcaster
	// History and Ticker are optional.
	History   RunHistory
	Ticker    TickerStats
	StaticDir string
	Logger    *zap.SugaredLogger
}

// Server is the HTTP API server
type Server struct {
	jobs      JobStore
	exec      *executor.Executor
	events    *broadcast.Broadcaster
	history   RunHistory
	ticker    TickerStats
	staticDir string
	logger    *zap.SugaredLogger

	// ctx bounds runs started over HTTP; they outlive the request.
	ctx    context.Context
	cancel context.CancelFunc
	mux    *http.ServeMux
	sseHub *SSEHub
	now    func() time.Time
}

// NewServer creates a server. Cancelling ctx stops the event hub and
// terminates runs started through the API.
func NewServer(ctx context.Context, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Server{
		jobs:      opts.Jobs,
		exec:      opts.Executor,
		events:    opts.Events,
		history:   opts.History,
		ticker:    opts.Ticker,
		staticDir: opts.StaticDir,
		logger:    log,
		ctx:       sctx,
		cancel:    cancel,
		mux:       http.NewServeMux(),
		sseHub:    NewSSEHub(),
		now:       time.Now,
	}
	go s.sseHub.Run(sctx)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /jobs", s.listJobsHandler())
	s.mux.HandleFunc("POST /jobs", s.createJobHandler())
	s.mux.HandleFunc("GET /jobs/{id}", s.getJobHandler())
	s.mux.HandleFunc("PUT /jobs/{id}", s.updateJobHandler())
	s.mux.HandleFunc("DELETE /jobs/{id}", s.deleteJobHandler())

	s.mux.HandleFunc("POST /run", s.runHandler())
	s.mux.HandleFunc("GET /run-stream/{runId}", s.runStreamHandler())
	s.mux.HandleFunc("GET /ws/run/{runId}", s.runSocketHandler())
	s.mux.HandleFunc("POST /cancel-run/{id}", s.cancelRunHandler())

	s.mux.HandleFunc("GET /runs", s.listRunsHandler())
	s.mux.HandleFunc("GET /runs/{runId}", s.getRunHandler())
	s.mux.HandleFunc("GET /locations", s.locationsHandler())

	s.mux.HandleFunc("GET /api/status", s.statusHandler())
	s.mux.HandleFunc("GET /api/events", s.sseHandler())
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.staticDir != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(s.staticDir)))
	}
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Broadcast sends an event to all dashboard clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

// RunStarted announces a run on the dashboard. Use it as executor.Options.OnStart.
func (s *Server) RunStarted(req executor.Request) {
	s.Broadcast(SSEEvent{Type: "run_started", Data: map[string]any{
		"runId": req.RunID, "jobId": req.JobID, "origin": req.Origin,
	}})
}

// RunFinished announces a run's outcome. Use it as executor.Options.OnFinish.
func (s *Server) RunFinished(req executor.Request, res domain.RunResult) {
	s.Broadcast(SSEEvent{Type: "run_finished", Data: map[string]any{
		"runId": res.RunID, "jobId": res.JobID, "outcome": res.Outcome, "exitCode": res.ExitCode,
	}})
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.cancel()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	// streams only end once their context goes away
	s.cancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}

// Close stops the hub and cancels runs started over HTTP
func (s *Server) Close() {
	s.cancel()
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, code int, message string, details ...string) {
	writeJSON(w, code, ErrorResponse{Error: message, Details: details})
}

// writeErr maps err onto a status code using the error taxonomy
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error(), errors.GetAllDetails(err)...)
	case errors.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Errorw("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
