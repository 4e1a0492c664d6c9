package syncer

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/crmhub/crmhub/internal/authfetch"
	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/fortnox"
	"github.com/crmhub/crmhub/internal/logging"
	"github.com/crmhub/crmhub/internal/metrics"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/pagination"
	"github.com/crmhub/crmhub/internal/store"
)

// CustomerSource is satisfied by *fortnox.Client.
type CustomerSource interface {
	AllCustomers(ctx context.Context) pagination.Result[fortnox.Customer]
	Customer(ctx context.Context, number string) (*fortnox.Customer, error)
	Pause(ctx context.Context) error
}

// InvoiceSource is satisfied by *fortnox.Client.
type InvoiceSource interface {
	AllInvoices(ctx context.Context, from, to time.Time) pagination.Result[fortnox.Invoice]
}

// ProgressFunc is told how many records have been processed.
type ProgressFunc func(done, total int)

// CustomerOptions tune a customer sync.
type CustomerOptions struct {
	// FetchDetails loads the full record for list entries without a valid email.
	FetchDetails bool
	Progress     ProgressFunc
}

// CustomerReport is the outcome of a customer sync.
type CustomerReport struct {
	Fetched   int      `json:"fetched"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Failed    int      `json:"failed"`
	Details   int      `json:"detailsFetched"`
	Partial   bool     `json:"partial"`
	Errors    []string `json:"errors,omitempty"`
}

// YearResult is the outcome of one calendar year of an invoice sync.
type YearResult struct {
	Year    int    `json:"year"`
	Fetched int    `json:"fetched"`
	Pages   int    `json:"pages"`
	Error   string `json:"error,omitempty"`
}

// InvoiceReport is the outcome of an invoice sync.
type InvoiceReport struct {
	Years    []YearResult `json:"years"`
	Fetched  int          `json:"fetched"`
	Unique   int          `json:"unique"`
	Upserted int          `json:"upserted"`
	Partial  bool         `json:"partial"`
}

// Syncer orchestrates provider fetches and local upserts.
type Syncer struct {
	customers  store.CustomerStore
	invoices   store.InvoiceStore
	reconciler *Reconciler
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

// New creates a Syncer. logger and m may be nil.
func New(customers store.CustomerStore, invoices store.InvoiceStore, logger *logging.Logger, m *metrics.Metrics) *Syncer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Syncer{
		customers:  customers,
		invoices:   invoices,
		reconciler: NewReconciler(customers),
		logger:     logger,
		metrics:    m,
	}
}

// fatal reports errors that end the user action: every later call would fail
// the same way.
func fatal(err error) bool {
	var reconnect *authfetch.ReconnectRequiredError
	var limited *errors.RateLimitError
	return stderrors.As(err, &reconnect) || stderrors.As(err, &limited)
}

// SyncCustomers imports every provider customer into workspaceID. A page error
// keeps what was fetched; the error is returned only when it is fatal or when
// nothing could be fetched.
func (s *Syncer) SyncCustomers(ctx context.Context, src CustomerSource, workspaceID, userID string, opts CustomerOptions) (*CustomerReport, error) {
	res := src.AllCustomers(ctx)
	report := &CustomerReport{Fetched: len(res.Items)}
	if res.Err != nil {
		if len(res.Items) == 0 || fatal(res.Err) {
			return report, res.Err
		}
		report.Partial = true
		report.Errors = append(report.Errors, res.Err.Error())
		s.logger.WarnWithContext(ctx, "customer list incomplete", "workspace_id", workspaceID,
			"fetched", len(res.Items), "error", res.Err)
	}
	if res.Truncated {
		report.Partial = true
		report.Errors = append(report.Errors, fmt.Sprintf("stopped after %d pages", res.Pages))
	}

	var stopErr error
	detailsAllowed := opts.FetchDetails
	for i, fc := range res.Items {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if detailsAllowed && fc.CustomerNumber != "" && !ValidEmail(fc.Email) {
			if err := src.Pause(ctx); err != nil {
				return report, err
			}
			detail, err := src.Customer(ctx, fc.CustomerNumber)
			switch {
			case err == nil:
				fc = *detail
				report.Details++
			case fatal(err):
				stopErr = err
				detailsAllowed = false
				report.Partial = true
				report.Errors = append(report.Errors, err.Error())
			default:
				s.logger.WarnWithContext(ctx, "customer detail fetch failed",
					"customer_number", fc.CustomerNumber, "error", err)
			}
		}

		action, _, err := s.reconciler.Reconcile(ctx, toCustomer(fc, workspaceID, userID))
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("customer %s: %v", fc.CustomerNumber, err))
			s.logger.ErrorWithContext(ctx, "customer upsert failed",
				"customer_number", fc.CustomerNumber, "error", err)
		} else {
			switch action {
			case ActionCreated:
				report.Created++
			case ActionUpdated:
				report.Updated++
			default:
				report.Unchanged++
			}
		}
		if opts.Progress != nil {
			opts.Progress(i+1, len(res.Items))
		}
	}

	s.metrics.RecordSync("customer", string(ActionCreated), report.Created)
	s.metrics.RecordSync("customer", string(ActionUpdated), report.Updated)
	s.metrics.RecordSync("customer", "failed", report.Failed)
	s.logger.InfoWithContext(ctx, "customer sync finished", "workspace_id", workspaceID,
		"fetched", report.Fetched, "created", report.Created, "updated", report.Updated,
		"unchanged", report.Unchanged, "failed", report.Failed)

	return report, stopErr
}

// SyncInvoices fetches each calendar year in [fromYear, toYear] separately so
// a failing year keeps the others, dedups by DocumentNumber and upserts.
func (s *Syncer) SyncInvoices(ctx context.Context, src InvoiceSource, workspaceID, userID string, fromYear, toYear int) (*InvoiceReport, error) {
	if fromYear > toYear {
		return nil, &errors.ErrValidation{Field: "years", Message: fmt.Sprintf("from %d is after to %d", fromYear, toYear)}
	}

	report := &InvoiceReport{}
	var all []fortnox.Invoice
	var stopErr, lastErr error
	for year := fromYear; year <= toYear; year++ {
		from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)

		res := src.AllInvoices(ctx, from, to)
		yr := YearResult{Year: year, Fetched: len(res.Items), Pages: res.Pages}
		all = append(all, res.Items...)
		if res.Err != nil {
			yr.Error = res.Err.Error()
			report.Partial = true
			lastErr = res.Err
			s.logger.WarnWithContext(ctx, "invoice year incomplete", "year", year,
				"fetched", len(res.Items), "error", res.Err)
		}
		report.Years = append(report.Years, yr)
		if res.Err != nil && fatal(res.Err) {
			stopErr = res.Err
			break
		}
	}
	report.Fetched = len(all)

	if len(all) == 0 && lastErr != nil {
		return report, lastErr
	}

	unique := Dedup(all)
	report.Unique = len(unique)

	rows := make([]*models.Invoice, 0, len(unique))
	for _, inv := range unique {
		rows = append(rows, toInvoice(inv, workspaceID, userID))
	}
	n, err := s.invoices.UpsertInvoices(ctx, rows)
	if err != nil {
		return report, err
	}
	report.Upserted = n
	s.metrics.RecordSync("invoice", "upserted", n)
	s.logger.InfoWithContext(ctx, "invoice sync finished", "workspace_id", workspaceID,
		"fetched", report.Fetched, "unique", report.Unique, "upserted", n)

	return report, stopErr
}

// Dedup keeps the last occurrence of each DocumentNumber, ordered by number.
// Entries without a DocumentNumber are dropped.
func Dedup(invoices []fortnox.Invoice) []fortnox.Invoice {
	byNumber := make(map[string]fortnox.Invoice, len(invoices))
	for _, inv := range invoices {
		if inv.DocumentNumber == "" {
			continue
		}
		byNumber[inv.DocumentNumber] = inv
	}
	out := make([]fortnox.Invoice, 0, len(byNumber))
	for _, inv := range byNumber {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].DocumentNumber, out[j].DocumentNumber
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return out
}

func toCustomer(fc fortnox.Customer, workspaceID, userID string) models.Customer {
	return models.Customer{
		WorkspaceID:    workspaceID,
		UserID:         userID,
		CustomerNumber: fc.CustomerNumber,
		Name:           fc.Name,
		Email:          fc.Email,
		Phone:          fc.PhoneNumber(),
		OrgNumber:      fc.OrganisationNumber,
		Address:        fc.Address1,
		ZipCode:        fc.ZipCode,
		City:           fc.City,
		Country:        fc.CountryName(),
	}
}

func toInvoice(fi fortnox.Invoice, workspaceID, userID string) *models.Invoice {
	return &models.Invoice{
		WorkspaceID:    workspaceID,
		UserID:         userID,
		DocumentNumber: fi.DocumentNumber,
		CustomerNumber: fi.CustomerNumber,
		CustomerName:   fi.CustomerName,
		InvoiceDate:    fi.InvoiceDate,
		DueDate:        fi.DueDate,
		Total:          fi.Total,
		Balance:        fi.Balance,
		Currency:       fi.Currency,
		Cancelled:      fi.Cancelled,
		Sent:           fi.Sent,
	}
}
