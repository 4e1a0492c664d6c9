// Package reports runs due cron report jobs and mails the results.
package reports

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/logging"
	"github.com/crmhub/crmhub/internal/metrics"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/store"
)

// AnalyticsSource returns Search Console rows for a user.
type AnalyticsSource interface {
	TopQueries(ctx context.Context, userID string, from, to time.Time, limit int) (site string, rows []models.SearchAnalyticsRow, err error)
}

// FailureNotifier is told about failed jobs.
type FailureNotifier interface {
	ReportFailed(ctx context.Context, job *models.CronJob, err error)
}

// JobResult is the outcome of one job in a run.
type JobResult struct {
	JobID      string            `json:"jobId"`
	ReportType models.ReportType `json:"reportType"`
	Status     models.JobStatus  `json:"status"`
	Recipients int               `json:"recipients"`
	Error      string            `json:"error,omitempty"`
	NextRunAt  time.Time         `json:"nextRunAt"`
}

// RunResult summarises one dispatch run.
type RunResult struct {
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	DryRun    bool        `json:"dryRun,omitempty"`
	Results   []JobResult `json:"results"`
}

// Dispatcher runs due jobs with bounded concurrency.
type Dispatcher struct {
	jobs      store.CronJobStore
	invoices  store.InvoiceStore
	analytics AnalyticsSource
	mailer    Mailer
	notifier  FailureNotifier
	cfg       config.ReportsConfig
	logger    *logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAnalytics enables search_console jobs.
func WithAnalytics(a AnalyticsSource) Option {
	return func(d *Dispatcher) { d.analytics = a }
}

// WithMailer sets the mailer. Without one, only dry runs succeed.
func WithMailer(m Mailer) Option {
	return func(d *Dispatcher) { d.mailer = m }
}

// WithNotifier sets the failure notifier.
func WithNotifier(n FailureNotifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(jobs store.CronJobStore, invoices store.InvoiceStore, cfg config.ReportsConfig, opts ...Option) *Dispatcher {
	// errgroup.SetLimit(0) blocks every Go call.
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = config.DefaultReportConcurrency
	}
	d := &Dispatcher{
		jobs:     jobs,
		invoices: invoices,
		cfg:      cfg,
		logger:   logging.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run processes every due job. Job failures are reported in the result and
// leave the job due; only failing to list jobs or missing mail settings
// return an error.
func (d *Dispatcher) Run(ctx context.Context) (*RunResult, error) {
	if !d.cfg.DryRun && d.mailer == nil {
		if err := d.cfg.RequireSMTP(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("reports: no mailer configured")
	}

	now := d.now()
	due, err := d.jobs.ListDueCronJobs(ctx, now)
	if err != nil {
		return nil, err
	}

	res := &RunResult{DryRun: d.cfg.DryRun, Results: make([]JobResult, len(due))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, job := range due {
		g.Go(func() error {
			res.Results[i] = d.runJob(gctx, job, now)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range res.Results {
		res.Processed++
		if r.Status == models.JobStatusSuccess {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	d.logger.InfoWithContext(ctx, "report run finished",
		"processed", res.Processed,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"dry_run", res.DryRun,
	)
	return res, nil
}

func (d *Dispatcher) runJob(ctx context.Context, job *models.CronJob, now time.Time) JobResult {
	result := JobResult{JobID: job.ID, ReportType: job.ReportType, Recipients: len(job.Recipients)}

	err := d.deliver(ctx, job, now)
	job.LastRunAt = &now
	if err != nil {
		job.LastStatus = models.JobStatusFailed
		job.LastError = err.Error()
		result.Error = err.Error()
		d.metrics.RecordReport(string(job.ReportType), "failed")
		d.logger.ErrorWithContext(ctx, "report job failed", "job_id", job.ID, "report_type", job.ReportType, "error", err)
		if d.notifier != nil {
			d.notifier.ReportFailed(ctx, job, err)
		}
	} else {
		job.LastStatus = models.JobStatusSuccess
		job.LastError = ""
		job.Advance(now)
		d.metrics.RecordReport(string(job.ReportType), "success")
	}
	result.Status = job.LastStatus
	result.NextRunAt = job.NextRunAt

	if err := d.jobs.SaveCronJob(ctx, job); err != nil {
		d.logger.ErrorWithContext(ctx, "report job state not saved", "job_id", job.ID, "error", err)
		if result.Status == models.JobStatusSuccess {
			result.Error = "state not saved: " + err.Error()
		}
	}
	return result
}

func (d *Dispatcher) deliver(ctx context.Context, job *models.CronJob, now time.Time) error {
	msg, err := d.build(ctx, job, now)
	if err != nil {
		return err
	}
	if d.cfg.DryRun {
		d.logger.InfoWithContext(ctx, "report dry run",
			"job_id", job.ID,
			"to", msg.To,
			"subject", msg.Subject,
		)
		return nil
	}
	return d.mailer.Send(ctx, msg)
}

func (d *Dispatcher) build(ctx context.Context, job *models.CronJob, now time.Time) (Message, error) {
	if err := job.Validate(); err != nil {
		return Message{}, err
	}
	switch job.ReportType {
	case models.ReportInvoiceSummary:
		workspace := job.WorkspaceID
		if workspace == "" {
			workspace = job.UserID
		}
		invoices, err := d.invoices.ListInvoices(ctx, workspace)
		if err != nil {
			return Message{}, err
		}
		return renderInvoiceSummary(job, SummarizeInvoices(invoices, now), now), nil

	case models.ReportSearchConsole:
		if d.analytics == nil {
			return Message{}, fmt.Errorf("search console is not configured")
		}
		to := truncateDay(now).AddDate(0, 0, -1)
		from := to.AddDate(0, 0, -27)
		site, rows, err := d.analytics.TopQueries(ctx, job.UserID, from, to, 10)
		if err != nil {
			return Message{}, err
		}
		return renderSearchConsole(job, site, from, to, rows), nil
	}
	return Message{}, fmt.Errorf("unknown report type %q", job.ReportType)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
