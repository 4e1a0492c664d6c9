package store

import (
	"context"
	"time"

	"github.com/crmhub/crmhub/internal/models"
)

// CredentialStore persists one CredentialRecord per (user, service).
// GetCredential returns errors.ErrNotFound when no record exists.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string, service models.Service) (*models.CredentialRecord, error)
	SaveCredential(ctx context.Context, rec *models.CredentialRecord) error
	DeleteCredential(ctx context.Context, userID string, service models.Service) error
	// ListCredentials returns every record, or only those of service when it is non-empty.
	ListCredentials(ctx context.Context, service models.Service) ([]*models.CredentialRecord, error)
}

// CustomerStore holds the local customer mirror.
type CustomerStore interface {
	FindCustomerByNumber(ctx context.Context, workspaceID, customerNumber string) (*models.Customer, error)
	// FindUnnumberedCustomerByName matches exactly on name among rows without a customer number.
	FindUnnumberedCustomerByName(ctx context.Context, workspaceID, name string) (*models.Customer, error)
	// SaveCustomer inserts when ID is empty, otherwise updates the row with that ID.
	SaveCustomer(ctx context.Context, c *models.Customer) error
	ListCustomers(ctx context.Context, workspaceID string) ([]*models.Customer, error)
}

// InvoiceStore holds the local invoice mirror.
type InvoiceStore interface {
	// UpsertInvoices inserts or updates by (document_number, workspace_id) and returns the rows written.
	UpsertInvoices(ctx context.Context, invoices []*models.Invoice) (int, error)
	ListInvoices(ctx context.Context, workspaceID string) ([]*models.Invoice, error)
}

// ContentStore holds generated_content rows and their blog projection.
type ContentStore interface {
	GetContent(ctx context.Context, id string) (*models.GeneratedContent, error)
	SaveContent(ctx context.Context, c *models.GeneratedContent) error
	ListPublishedContent(ctx context.Context, limit int) ([]*models.GeneratedContent, error)
	// FindPublishedBySlug matches published rows whose blog_post_url ends in "/"+slug.
	FindPublishedBySlug(ctx context.Context, slug string) (*models.GeneratedContent, error)
	// DeleteTestPosts removes the user's rows flagged as test posts or titled "Test Post...".
	DeleteTestPosts(ctx context.Context, userID string) ([]models.DeletedPost, error)
}

// CronJobStore holds scheduled report jobs.
type CronJobStore interface {
	GetCronJob(ctx context.Context, id string) (*models.CronJob, error)
	SaveCronJob(ctx context.Context, job *models.CronJob) error
	ListDueCronJobs(ctx context.Context, now time.Time) ([]*models.CronJob, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	CredentialStore
	CustomerStore
	InvoiceStore
	ContentStore
	CronJobStore
	Ping(ctx context.Context) error
	Close() error
}
