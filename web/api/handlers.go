package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/errors"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/executor"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/runstore"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/scheduler"
)

const defaultRunsLimit = 50

// JobResponse is a job plus its next scheduled trigger
type JobResponse struct {
	domain.Job
	NextRun *time.Time `json:"nextRun,omitempty"`
}

// StatusResponse is the API response for overall status
type StatusResponse struct {
	Total      int                      `json:"total"`
	Jobs       map[domain.JobStatus]int `json:"jobs"`
	ActiveRuns []string                 `json:"activeRuns"`
	Scheduler  *scheduler.Stats         `json:"scheduler,omitempty"`
}

// RunAccepted is returned when a run has been started
type RunAccepted struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

func (s *Server) jobToResponse(j domain.Job) JobResponse {
	resp := JobResponse{Job: j}
	if next, ok := j.NextRun(s.now()); ok {
		resp.NextRun = &next
	}
	return resp
}

func (s *Server) listJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := s.jobs.List()
		if err != nil {
			s.writeErr(w, err)
			return
		}

		resp := make([]JobResponse, len(jobs))
		for i, j := range jobs {
			resp[i] = s.jobToResponse(j)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) getJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.jobs.Get(r.PathValue("id"))
		if err != nil {
			s.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.jobToResponse(job))
	}
}

func (s *Server) createJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var job domain.Job
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
			return
		}
		if err := job.Validate(); err != nil {
			s.writeErr(w, err)
			return
		}

		created, err := s.jobs.Insert(job)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		s.logger.Infow("job created", "job_id", created.ID, "scheduled_time", created.ScheduledTime)

		resp := s.jobToResponse(created)
		s.Broadcast(SSEEvent{Type: "job_created", Data: resp})
		writeJSON(w, http.StatusCreated, resp)
	}
}

func (s *Server) updateJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
			return
		}

		updated, err := s.jobs.Update(r.PathValue("id"), func(j *domain.Job) error {
			merged, err := j.Merge(patch)
			if err != nil {
				return err
			}
			if !j.Status.CanTransitionTo(merged.Status) {
				return errors.NewValidationError("status cannot change from %s to %s", j.Status, merged.Status)
			}
			if err := merged.Validate(); err != nil {
				return err
			}
			*j = merged
			return nil
		})
		if err != nil {
			s.writeErr(w, err)
			return
		}

		resp := s.jobToResponse(updated)
		s.Broadcast(SSEEvent{Type: "job_updated", Data: resp})
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) deleteJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := s.jobs.Delete(r.PathValue("id"))
		if err != nil {
			s.writeErr(w, err)
			return
		}
		s.logger.Infow("job deleted", "job_id", deleted.ID)

		s.Broadcast(SSEEvent{Type: "job_deleted", Data: map[string]string{"id": deleted.ID}})
		writeJSON(w, http.StatusOK, map[string]any{
			"message":     "Reservation deleted.",
			"reservation": deleted,
		})
	}
}

func (s *Server) runHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
			return
		}

		req, err := s.runRequest(body)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		if err := s.exec.Start(s.ctx, req); err != nil {
			s.writeErr(w, err)
			return
		}

		s.logger.Infow("run accepted", "run_id", req.RunID, "job_id", req.JobID)
		writeJSON(w, http.StatusAccepted, RunAccepted{RunID: req.RunID, Status: "accepted"})
	}
}

// runRequest accepts either a worker payload carrying reservationId or a
// job carrying id. A stored job with that id is used as the base and the
// body fields are laid over it.
func (s *Server) runRequest(body map[string]json.RawMessage) (executor.Request, error) {
	raw, _ := json.Marshal(body)

	if _, ok := body["reservationId"]; ok {
		var p domain.WorkerPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return executor.Request{}, errors.NewValidationError("invalid run payload: %v", err)
		}
		if strings.TrimSpace(p.ReservationID) != "" {
			return executor.Request{
				RunID:       p.ReservationID,
				JobID:       p.ReservationID,
				Summary:     payloadSummary(p),
				Payload:     p,
				Origin:      domain.OriginAPI,
				Cancellable: true,
			}, nil
		}
	}

	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return executor.Request{}, errors.NewValidationError("invalid run payload: %v", err)
	}
	if strings.TrimSpace(job.ID) == "" {
		return executor.Request{}, errors.NewValidationError("reservation id is required")
	}

	stored, err := s.jobs.Get(job.ID)
	switch {
	case err == nil:
		if job, err = stored.Merge(body); err != nil {
			return executor.Request{}, err
		}
	case !errors.IsNotFound(err):
		return executor.Request{}, err
	}
	return executor.RequestForJob(job, job.ID, domain.OriginAPI), nil
}

func payloadSummary(p domain.WorkerPayload) string {
	return fmt.Sprintf("%s %sh @ %s", p.Date, strings.Join(p.Hours, ","), strings.Join(p.Locations, ","))
}

func (s *Server) cancelRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := r.PathValue("id")
		if !s.exec.Cancel(runID) {
			writeError(w, http.StatusNotFound, "No active run found.")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Run cancelled.",
			"runId":   runID,
		})
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.history == nil {
			writeJSON(w, http.StatusOK, []domain.Run{})
			return
		}

		runs, err := s.history.List(runstore.ListOptions{
			JobID: r.URL.Query().Get("jobId"),
			Limit: queryInt(r, "limit", defaultRunsLimit),
		})
		if err != nil {
			s.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.history == nil {
			writeError(w, http.StatusNotFound, "run history not available")
			return
		}

		run, err := s.history.Get(r.PathValue("runId"))
		if err != nil {
			s.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func (s *Server) locationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, domain.DefaultForm())
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := s.jobs.List()
		if err != nil {
			s.writeErr(w, err)
			return
		}

		status := StatusResponse{
			Total:      len(jobs),
			Jobs:       make(map[domain.JobStatus]int),
			ActiveRuns: s.exec.Registry().IDs(),
		}
		for _, j := range jobs {
			status.Jobs[j.Status]++
		}
		if s.ticker != nil {
			stats := s.ticker.Stats()
			status.Scheduler = &stats
		}

		writeJSON(w, http.StatusOK, status)
	}
}
