// Package jobstore persists booking jobs as a single JSON document.
//
// Every operation reads the whole file, changes it in memory and replaces
// it with an atomic rename. Operations from one process are serialised,
// writers in other processes are not: the last write wins.
package jobstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/errors"
)

// Store provides file-backed job persistence
type Store struct {
	path string
	mu   sync.Mutex

	now   func() time.Time
	newID func() string
}

// New creates a Store for the given file. The file is created on first write.
func New(path string) *Store {
	return &Store{
		path:  path,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Path returns the location of the jobs file
func (s *Store) Path() string {
	return s.path
}

// List returns all jobs in file order
func (s *Store) List() ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Get returns the job with the given id
func (s *Store) Get(id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.read()
	if err != nil {
		return domain.Job{}, err
	}
	i := indexOf(jobs, id)
	if i < 0 {
		return domain.Job{}, errors.NewNotFoundError("job %q not found", id)
	}
	return jobs[i], nil
}

// Insert adds a job. An id is generated when absent and the status
// defaults to pending.
func (s *Store) Insert(job domain.Job) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.read()
	if err != nil {
		return domain.Job{}, err
	}

	if job.ID == "" {
		job.ID = s.newID()
	} else if indexOf(jobs, job.ID) >= 0 {
		return domain.Job{}, errors.NewConflictError("job %q already exists", job.ID)
	}
	if job.Status == "" {
		job.Status = domain.StatusPending
	}
	now := s.now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	jobs = append(jobs, job)
	if err := s.write(jobs); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// Update applies mutate to the stored job and writes the result. The id
// cannot be changed. If mutate returns an error nothing is written.
func (s *Store) Update(id string, mutate func(*domain.Job) error) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.read()
	if err != nil {
		return domain.Job{}, err
	}
	i := indexOf(jobs, id)
	if i < 0 {
		return domain.Job{}, errors.NewNotFoundError("job %q not found", id)
	}

	job := jobs[i]
	if err := mutate(&job); err != nil {
		return domain.Job{}, err
	}
	job.ID = jobs[i].ID
	job.CreatedAt = jobs[i].CreatedAt
	job.UpdatedAt = s.now().UTC()
	jobs[i] = job

	if err := s.write(jobs); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// Delete removes a job and returns it
func (s *Store) Delete(id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.read()
	if err != nil {
		return domain.Job{}, err
	}
	i := indexOf(jobs, id)
	if i < 0 {
		return domain.Job{}, errors.NewNotFoundError("job %q not found", id)
	}

	deleted := jobs[i]
	jobs = append(jobs[:i], jobs[i+1:]...)
	if err := s.write(jobs); err != nil {
		return domain.Job{}, err
	}
	return deleted, nil
}

func indexOf(jobs []domain.Job, id string) int {
	for i := range jobs {
		if jobs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) read() ([]domain.Job, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Job{}, nil
		}
		return nil, errors.MarkStore(err, "read jobs file")
	}
	if len(data) == 0 {
		return []domain.Job{}, nil
	}

	jobs := []domain.Job{}
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, errors.MarkStore(err, "parse jobs file "+s.path)
	}
	return jobs, nil
}

func (s *Store) write(jobs []domain.Job) error {
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return errors.MarkStore(err, "encode jobs")
	}
	data = append(data, '\n')
	return errors.MarkStore(writeFileAtomic(s.path, data), "write jobs file")
}

// writeFileAtomic replaces path with data so readers never see a partial file
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create parent for %s", path)
	}

	tmp, err := os.CreateTemp(dir, ".jobs-tmp-*")
	if err != nil {
		return errors.Wrapf(err, "create temp file for %s", path)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrapf(err, "write temp file for %s", path)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrapf(err, "chmod temp file for %s", path)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.Wrapf(err, "close temp file for %s", path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return errors.Wrapf(err, "rename into %s", path)
	}
	return nil
}
