package models

import (
	"fmt"
	"net/mail"
	"time"
)

// ReportType selects what a cron job sends.
type ReportType string

const (
	ReportInvoiceSummary ReportType = "invoice_summary"
	ReportSearchConsole  ReportType = "search_console"
)

// Valid reports whether the type is known.
func (t ReportType) Valid() bool {
	return t == ReportInvoiceSummary || t == ReportSearchConsole
}

// JobStatus is the outcome of the last run.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
)

// CronJob is a scheduled report owned by a user.
type CronJob struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	WorkspaceID string        `json:"workspace_id"`
	ReportType  ReportType    `json:"report_type"`
	Recipients  []string      `json:"recipients"`
	Interval    time.Duration `json:"interval"`
	Enabled     bool          `json:"enabled"`
	NextRunAt   time.Time     `json:"next_run_at"`
	LastRunAt   *time.Time    `json:"last_run_at,omitempty"`
	LastStatus  JobStatus     `json:"last_status"`
	LastError   string        `json:"last_error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Validate checks a job before it is stored.
func (j *CronJob) Validate() error {
	if j.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if !j.ReportType.Valid() {
		return fmt.Errorf("unknown report_type %q", j.ReportType)
	}
	if len(j.Recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	for _, r := range j.Recipients {
		if _, err := mail.ParseAddress(r); err != nil {
			return fmt.Errorf("invalid recipient %q", r)
		}
	}
	if j.Interval < time.Hour {
		return fmt.Errorf("interval must be at least 1h")
	}
	return nil
}

// Due reports whether the job should run at now.
func (j *CronJob) Due(now time.Time) bool {
	return j.Enabled && !j.NextRunAt.After(now)
}

// Advance moves NextRunAt past now in whole intervals so a long outage
// does not cause a burst of catch-up runs.
func (j *CronJob) Advance(now time.Time) {
	if j.Interval <= 0 {
		j.NextRunAt = now.Add(24 * time.Hour)
		return
	}
	next := j.NextRunAt
	if next.IsZero() {
		next = now
	}
	for !next.After(now) {
		next = next.Add(j.Interval)
	}
	j.NextRunAt = next
}

// SearchAnalyticsRow is one row of a Search Console searchAnalytics.query response.
type SearchAnalyticsRow struct {
	Keys        []string `json:"keys,omitempty"`
	Clicks      float64  `json:"clicks"`
	Impressions float64  `json:"impressions"`
	CTR         float64  `json:"ctr"`
	Position    float64  `json:"position"`
}
