package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/postwing/postwing/internal/faults"
	"github.com/postwing/postwing/pkg/models"
)

// JobStore is the durable record of job lifecycle transitions. Both the
// server and the native host keep their own store so job history survives
// process restarts.
type JobStore struct {
	db *sql.DB
}

// NewJobStore wraps an opened database.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// Create inserts a new pending job from a validated request and returns it.
func (s *JobStore) Create(ctx context.Context, req models.CreateJobRequest) (*models.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:          uuid.New().String(),
		Platform:    req.Platform,
		Action:      req.Action,
		Content:     req.Content,
		TargetURL:   req.TargetURL,
		AccountID:   req.AccountID,
		Status:      models.StatusPending,
		ScheduledAt: req.ScheduledAt,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, platform, action, content, target_url, account_id, status, scheduled_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Platform, job.Action, job.Content, job.TargetURL,
		job.AccountID, job.Status, job.ScheduledAt, job.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert job")
	}
	return job, nil
}

// Get returns a job by ID.
func (s *JobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, platform, action, content, target_url, account_id, status,
		       post_url, error_code, error_message, scheduled_at, created_at,
		       completed_at, execution_ms
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// List returns jobs filtered by status (all statuses when empty), newest first.
func (s *JobStore) List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, platform, action, content, target_url, account_id, status,
		       post_url, error_code, error_message, scheduled_at, created_at,
		       completed_at, execution_ms
		FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query jobs")
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DuePending returns pending jobs whose scheduled time has arrived, oldest
// first. Jobs without a schedule are dispatched directly on creation and are
// not returned here.
func (s *JobStore) DuePending(ctx context.Context, now time.Time) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, platform, action, content, target_url, account_id, status,
		       post_url, error_code, error_message, scheduled_at, created_at,
		       completed_at, execution_ms
		FROM jobs
		WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		ORDER BY scheduled_at`, models.StatusPending, now)
	if err != nil {
		return nil, errors.Wrap(err, "query due jobs")
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkProcessing moves a pending job into processing. Returns ErrNotFound if
// the job does not exist or has already left the pending state.
func (s *JobStore) MarkProcessing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ? WHERE id = ? AND status = ?`,
		models.StatusProcessing, id, models.StatusPending)
	if err != nil {
		return errors.Wrap(err, "mark processing")
	}
	return requireRow(res, id)
}

// Complete records a successful outcome. A job that already reached a
// terminal state keeps it; the write becomes a no-op.
func (s *JobStore) Complete(ctx context.Context, id, postURL string, execution time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, post_url = ?, completed_at = ?, execution_ms = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.StatusCompleted, postURL, time.Now().UTC(), execution.Milliseconds(), id,
		models.StatusPending, models.StatusProcessing)
	if err != nil {
		return errors.Wrap(err, "complete job")
	}
	return nil
}

// Fail records a terminal failure with its error code and message. Like
// Complete, it never overwrites a terminal state.
func (s *JobStore) Fail(ctx context.Context, id, code, message string, execution time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_code = ?, error_message = ?, completed_at = ?, execution_ms = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.StatusFailed, code, message, time.Now().UTC(), execution.Milliseconds(), id,
		models.StatusPending, models.StatusProcessing)
	if err != nil {
		return errors.Wrap(err, "fail job")
	}
	return nil
}

// Cancel marks a job cancelled. Only not-yet-terminal jobs can be cancelled;
// a job that already finished keeps its outcome.
func (s *JobStore) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.StatusCancelled, time.Now().UTC(), id,
		models.StatusPending, models.StatusProcessing)
	if err != nil {
		return errors.Wrap(err, "cancel job")
	}
	return requireRow(res, id)
}

// Stats computes the operational counters used by the dashboard and the
// native host status report.
func (s *JobStore) Stats(ctx context.Context) (*models.JobStats, error) {
	stats := &models.JobStats{}
	startOfDay := time.Now().UTC().Truncate(24 * time.Hour)

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN status = ? THEN 1 END),
			COUNT(CASE WHEN status = ? THEN 1 END),
			COUNT(CASE WHEN created_at >= ? THEN 1 END),
			COUNT(CASE WHEN status = ? AND created_at >= ? THEN 1 END),
			COUNT(CASE WHEN status = ? AND created_at >= ? THEN 1 END)
		FROM jobs`,
		models.StatusPending, models.StatusProcessing, startOfDay,
		models.StatusCompleted, startOfDay, models.StatusFailed, startOfDay,
	).Scan(&stats.Pending, &stats.Processing, &stats.TotalToday, &stats.SuccessToday, &stats.FailedToday)
	if err != nil {
		return nil, errors.Wrap(err, "query stats")
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job         models.Job
		errCode     string
		errMessage  string
		scheduledAt sql.NullTime
		completedAt sql.NullTime
		executionMS int64
	)
	err := row.Scan(&job.ID, &job.Platform, &job.Action, &job.Content, &job.TargetURL,
		&job.AccountID, &job.Status, &job.PostURL, &errCode, &errMessage,
		&scheduledAt, &job.CreatedAt, &completedAt, &executionMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(faults.ErrNotFound, "job")
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan job")
	}
	if errCode != "" || errMessage != "" {
		job.Error = &models.JobError{Code: errCode, Message: errMessage}
	}
	if scheduledAt.Valid {
		job.ScheduledAt = &scheduledAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	job.ExecutionTime = time.Duration(executionMS) * time.Millisecond
	return &job, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(faults.ErrNotFound, "job %s (or already terminal)", id)
	}
	return nil
}
