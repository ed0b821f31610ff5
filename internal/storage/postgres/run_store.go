package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RunStatus is the lifecycle state of one crawl run.
type RunStatus string

// Run status values persisted in crawl_runs.
const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// ErrRunNotFound is returned when a crawl run id has no row.
var ErrRunNotFound = errors.New("crawl run not found")

// CrawlRun is the accounting row kept for every invocation of the harvester.
type CrawlRun struct {
	ID               uuid.UUID  `json:"id"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Status           RunStatus  `json:"status"`
	Seeds            []string   `json:"seeds"`
	ThreadsPersisted int64      `json:"threads_persisted"`
	ThreadsFailed    int64      `json:"threads_failed"`
	ErrorText        string     `json:"error_text,omitempty"`
}

// RunStore records crawl-run lifecycle rows.
type RunStore struct {
	db DB
}

// NewRunStore constructs a RunStore.
func NewRunStore(db DB) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &RunStore{db: db}, nil
}

// StartRun inserts the run in its running state.
func (s *RunStore) StartRun(ctx context.Context, run CrawlRun) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO crawl_runs (id, started_at, status, seeds) VALUES ($1, $2, $3, $4)`,
		run.ID, run.StartedAt, RunRunning, run.Seeds,
	)
	if err != nil {
		return fmt.Errorf("start run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stamps the terminal status and counters onto the run.
func (s *RunStore) FinishRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status RunStatus,
	persisted, failed int64,
	errText string,
) error {
	_, err := s.db.Exec(ctx,
		`UPDATE crawl_runs
		SET finished_at = $1, status = $2, threads_persisted = $3, threads_failed = $4, error_text = $5
		WHERE id = $6`,
		finishedAt, status, persisted, failed, errText, id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return nil
}

// GetRun retrieves a single crawl run by id.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (CrawlRun, error) {
	var run CrawlRun
	err := s.db.QueryRow(ctx,
		`SELECT id, started_at, finished_at, status, seeds, threads_persisted, threads_failed, error_text
		FROM crawl_runs WHERE id = $1`,
		id,
	).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Seeds,
		&run.ThreadsPersisted,
		&run.ThreadsFailed,
		&run.ErrorText,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CrawlRun{}, ErrRunNotFound
		}
		return CrawlRun{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns recent crawl runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]CrawlRun, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, started_at, finished_at, status, seeds, threads_persisted, threads_failed, error_text
		FROM crawl_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []CrawlRun
	for rows.Next() {
		var run CrawlRun
		err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.Seeds,
			&run.ThreadsPersisted,
			&run.ThreadsFailed,
			&run.ErrorText,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}
