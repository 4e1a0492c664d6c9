package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
)

const cronColumns = `id, user_id, workspace_id, report_type, recipients, interval_seconds, enabled,
	next_run_at, last_run_at, last_status, last_error, created_at, updated_at`

// GetCronJob loads one job.
func (s *SQLiteStore) GetCronJob(ctx context.Context, id string) (*models.CronJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cronColumns+` FROM cron_jobs WHERE id = ?`, id)
	job, err := scanCronJob(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get cron job", Err: err}
	}
	return job, nil
}

// SaveCronJob inserts or updates a job.
func (s *SQLiteStore) SaveCronJob(ctx context.Context, job *models.CronJob) error {
	recipients, err := json.Marshal(nonNil(job.Recipients))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.LastStatus == "" {
		job.LastStatus = models.JobStatusPending
	}
	job.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cron_jobs (`+cronColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			report_type = excluded.report_type,
			recipients = excluded.recipients,
			interval_seconds = excluded.interval_seconds,
			enabled = excluded.enabled,
			next_run_at = excluded.next_run_at,
			last_run_at = excluded.last_run_at,
			last_status = excluded.last_status,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, job.ID, job.UserID, job.WorkspaceID, string(job.ReportType), string(recipients),
		int64(job.Interval/time.Second), job.Enabled, job.NextRunAt.UTC(), nullTime(job.LastRunAt),
		string(job.LastStatus), job.LastError, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "save cron job", Err: err}
	}
	return nil
}

// ListDueCronJobs returns enabled jobs whose next_run_at is not after now.
func (s *SQLiteStore) ListDueCronJobs(ctx context.Context, now time.Time) ([]*models.CronJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cronColumns+` FROM cron_jobs
		WHERE enabled = 1 AND next_run_at <= ?
		ORDER BY next_run_at, id
	`, now.UTC())
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list due cron jobs", Err: err}
	}
	defer rows.Close()

	var out []*models.CronJob
	for rows.Next() {
		job, err := scanCronJob(rows)
		if err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan cron job", Err: err}
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanCronJob(row rowScanner) (*models.CronJob, error) {
	var (
		job        models.CronJob
		reportType string
		recipients string
		interval   int64
		lastRunAt  sql.NullTime
		status     string
	)
	err := row.Scan(&job.ID, &job.UserID, &job.WorkspaceID, &reportType, &recipients, &interval, &job.Enabled,
		&job.NextRunAt, &lastRunAt, &status, &job.LastError, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(recipients), &job.Recipients); err != nil {
		return nil, err
	}
	job.ReportType = models.ReportType(reportType)
	job.Interval = time.Duration(interval) * time.Second
	job.LastRunAt = timePtr(lastRunAt)
	job.LastStatus = models.JobStatus(status)
	job.NextRunAt = job.NextRunAt.UTC()
	return &job, nil
}
