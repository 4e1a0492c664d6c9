package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
)

const cronColumns = `id, user_id, workspace_id, report_type, recipients, interval_seconds, enabled, next_run_at, last_run_at, last_status, last_error, created_at, updated_at`

// GetCronJob selects one job.
func (s *Store) GetCronJob(ctx context.Context, id string) (*models.CronJob, error) {
	job, err := scanCronJob(s.Pool.QueryRow(ctx, `SELECT `+cronColumns+` FROM cron_jobs WHERE id=$1`, id))
	if isNoRows(err) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get cron job", Err: err}
	}
	return job, nil
}

// SaveCronJob upserts a job by ID.
func (s *Store) SaveCronJob(ctx context.Context, job *models.CronJob) error {
	recipients := job.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	rcpt, err := json.Marshal(recipients)
	if err != nil {
		return err
	}

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

	const q = `
INSERT INTO cron_jobs (` + cronColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
  workspace_id = EXCLUDED.workspace_id,
  report_type = EXCLUDED.report_type,
  recipients = EXCLUDED.recipients,
  interval_seconds = EXCLUDED.interval_seconds,
  enabled = EXCLUDED.enabled,
  next_run_at = EXCLUDED.next_run_at,
  last_run_at = EXCLUDED.last_run_at,
  last_status = EXCLUDED.last_status,
  last_error = EXCLUDED.last_error,
  updated_at = EXCLUDED.updated_at`
	_, err = s.Pool.Exec(ctx, q, job.ID, job.UserID, job.WorkspaceID, string(job.ReportType), rcpt,
		int64(job.Interval/time.Second), job.Enabled, job.NextRunAt.UTC(), timestamptz(job.LastRunAt),
		string(job.LastStatus), job.LastError, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "save cron job", Err: err}
	}
	return nil
}

// ListDueCronJobs returns enabled jobs with next_run_at <= now.
func (s *Store) ListDueCronJobs(ctx context.Context, now time.Time) ([]*models.CronJob, error) {
	const q = `SELECT ` + cronColumns + ` FROM cron_jobs WHERE enabled AND next_run_at <= $1 ORDER BY next_run_at, id`
	rows, err := s.Pool.Query(ctx, q, now.UTC())
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

func scanCronJob(row scanner) (*models.CronJob, error) {
	var (
		job        models.CronJob
		reportType string
		recipients []byte
		interval   int64
		lastRunAt  pgtype.Timestamptz
		status     string
	)
	if err := row.Scan(&job.ID, &job.UserID, &job.WorkspaceID, &reportType, &recipients, &interval, &job.Enabled,
		&job.NextRunAt, &lastRunAt, &status, &job.LastError, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &job.Recipients); err != nil {
			return nil, err
		}
	}
	job.ReportType = models.ReportType(reportType)
	job.Interval = time.Duration(interval) * time.Second
	job.LastRunAt = timePtr(lastRunAt)
	job.LastStatus = models.JobStatus(status)
	job.NextRunAt = job.NextRunAt.UTC()
	return &job, nil
}
