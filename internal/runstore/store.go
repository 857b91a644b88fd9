// Package runstore keeps a history of worker runs in SQLite.
package runstore

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
	"github.com/hochfrequenz/court-booking-orchestrator/internal/errors"
)

// InterruptedDetail is recorded for runs the process never saw finish
const InterruptedDetail = "interrupted: orchestrator stopped before the run finished"

// Store provides SQLite-backed run history
type Store struct {
	db *sql.DB
}

// New opens the database at dbPath and applies the schema
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.MarkStore(err, "open run database")
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.MarkStore(err, "running migrations")
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordStart inserts a row for a run that has just begun
func (s *Store) RecordStart(run domain.Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, job_id, origin, started_at)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.JobID, string(run.Origin), run.StartedAt.UTC())
	return errors.MarkStore(err, "record run start")
}

// RecordFinish stores the outcome on the latest unfinished row for the run id
func (s *Store) RecordFinish(res domain.RunResult, finishedAt time.Time) error {
	result, err := s.db.Exec(`
		UPDATE runs SET outcome = ?, exit_code = ?, detail = ?, finished_at = ?
		WHERE seq = (SELECT MAX(seq) FROM runs WHERE run_id = ? AND finished_at IS NULL)
	`, string(res.Outcome), res.ExitCode, res.Detail, finishedAt.UTC(), res.RunID)
	if err != nil {
		return errors.MarkStore(err, "record run finish")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.MarkStore(err, "record run finish")
	}
	if n == 0 {
		return errors.NewNotFoundError("no unfinished run %q", res.RunID)
	}
	return nil
}

// Get returns the most recent run with the given id
func (s *Store) Get(runID string) (domain.Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, job_id, origin, outcome, exit_code, detail, started_at, finished_at
		FROM runs WHERE run_id = ? ORDER BY seq DESC LIMIT 1
	`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return domain.Run{}, errors.NewNotFoundError("run %q not found", runID)
	}
	if err != nil {
		return domain.Run{}, errors.MarkStore(err, "get run")
	}
	return run, nil
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	JobID string
	Limit int
}

// List returns runs, newest first
func (s *Store) List(opts ListOptions) ([]domain.Run, error) {
	query := `SELECT run_id, job_id, origin, outcome, exit_code, detail, started_at, finished_at FROM runs WHERE 1=1`
	var args []interface{}

	if opts.JobID != "" {
		query += " AND job_id = ?"
		args = append(args, opts.JobID)
	}
	query += " ORDER BY seq DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.MarkStore(err, "list runs")
	}
	defer rows.Close()

	runs := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.MarkStore(err, "scan run")
		}
		runs = append(runs, run)
	}
	return runs, errors.MarkStore(rows.Err(), "list runs")
}

// MarkInterrupted closes rows left open by a previous process. Runs do not
// survive a restart, so such rows can never finish.
func (s *Store) MarkInterrupted(now time.Time) (int64, error) {
	result, err := s.db.Exec(`
		UPDATE runs SET outcome = ?, exit_code = -1, detail = ?, finished_at = ?
		WHERE finished_at IS NULL
	`, string(domain.OutcomeFailed), InterruptedDetail, now.UTC())
	if err != nil {
		return 0, errors.MarkStore(err, "mark interrupted runs")
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (domain.Run, error) {
	var run domain.Run
	var jobID, outcome, detail sql.NullString
	var origin string
	var finishedAt sql.NullTime

	err := row.Scan(&run.ID, &jobID, &origin, &outcome, &run.ExitCode, &detail, &run.StartedAt, &finishedAt)
	if err != nil {
		return domain.Run{}, err
	}

	run.JobID = jobID.String
	run.Origin = domain.RunOrigin(origin)
	run.Outcome = domain.RunOutcome(outcome.String)
	run.Detail = detail.String
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return run, nil
}
