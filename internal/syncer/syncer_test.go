package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmhub/crmhub/internal/authfetch"
	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/fortnox"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/pagination"
	"github.com/crmhub/crmhub/internal/store"
)

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sync.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestValidEmail(t *testing.T) {
	valid := []string{"a@b.se", "first.last@sub.example.com", "x+tag@d.io"}
	invalid := []string{"", "1", "a@b", "@b.se", "a b@c.se", "a@b .se", "a@@b.se"}
	for _, e := range valid {
		assert.True(t, ValidEmail(e), e)
	}
	for _, e := range invalid {
		assert.False(t, ValidEmail(e), e)
	}
}

func TestMergeCustomer_EmailPolicy(t *testing.T) {
	tests := []struct {
		name     string
		local    string
		incoming string
		want     string
	}{
		{"blank keeps valid local", "fixed@acme.se", "", "fixed@acme.se"},
		{"placeholder keeps valid local", "fixed@acme.se", "1", "fixed@acme.se"},
		{"valid incoming wins", "old@acme.se", "new@acme.se", "new@acme.se"},
		{"valid incoming replaces invalid local", "1", "new@acme.se", "new@acme.se"},
		{"invalid both clears", "1", "2", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := &models.Customer{Name: "Acme", Email: tt.local, City: "Lund"}
			MergeCustomer(local, models.Customer{Name: "Acme AB", Email: tt.incoming, City: "Malmö"})
			assert.Equal(t, tt.want, local.Email)
			assert.Equal(t, "Acme AB", local.Name, "other fields are provider-wins")
			assert.Equal(t, "Malmö", local.City)
		})
	}
}

func TestReconciler_MatchesByNumberThenName(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	r := NewReconciler(s)

	manual := &models.Customer{WorkspaceID: "w1", UserID: "u1", Name: "Local First AB", Email: "ok@local.se"}
	require.NoError(t, s.SaveCustomer(ctx, manual))

	action, c, err := r.Reconcile(ctx, models.Customer{WorkspaceID: "w1", CustomerNumber: "7", Name: "Local First AB", Email: "1"})
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, action)
	assert.Equal(t, manual.ID, c.ID, "name fallback adopts the local row")
	assert.Equal(t, "7", c.CustomerNumber)
	assert.Equal(t, "ok@local.se", c.Email)

	action, _, err = r.Reconcile(ctx, models.Customer{WorkspaceID: "w1", CustomerNumber: "7", Name: "Local First AB", Email: ""})
	require.NoError(t, err)
	assert.Equal(t, ActionUnchanged, action)

	action, c, err = r.Reconcile(ctx, models.Customer{WorkspaceID: "w1", CustomerNumber: "8", Name: "New AB", Email: "1"})
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, action)
	assert.Empty(t, c.Email, "placeholder email is not stored")

	all, err := s.ListCustomers(ctx, "w1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, _, err = r.Reconcile(ctx, models.Customer{WorkspaceID: "w1"})
	var verr *errors.ErrValidation
	assert.ErrorAs(t, err, &verr)
}

type fakeCustomers struct {
	list    []fortnox.Customer
	listErr error
	details map[string]fortnox.Customer
	detErr  error
	pauses  int
	lookups int
}

func (f *fakeCustomers) AllCustomers(ctx context.Context) pagination.Result[fortnox.Customer] {
	return pagination.Result[fortnox.Customer]{Items: f.list, Pages: 1, Err: f.listErr}
}

func (f *fakeCustomers) Customer(ctx context.Context, number string) (*fortnox.Customer, error) {
	f.lookups++
	if f.detErr != nil {
		return nil, f.detErr
	}
	c, ok := f.details[number]
	if !ok {
		return nil, &errors.ErrUpstream{Service: "fortnox", StatusCode: 404}
	}
	return &c, nil
}

func (f *fakeCustomers) Pause(ctx context.Context) error {
	f.pauses++
	return nil
}

func TestSyncCustomers_IdempotentAndKeepsLocalEmail(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	sy := New(s, s, nil, nil)

	src := &fakeCustomers{
		list: []fortnox.Customer{
			{CustomerNumber: "1", Name: "Acme", Email: "a@acme.se"},
			{CustomerNumber: "2", Name: "Beta", Email: "1"},
		},
		details: map[string]fortnox.Customer{
			"2": {CustomerNumber: "2", Name: "Beta", Email: "info@beta.se", City: "Umeå"},
		},
	}

	var progress []int
	report, err := sy.SyncCustomers(ctx, src, "w1", "u1", CustomerOptions{
		FetchDetails: true,
		Progress:     func(done, total int) { progress = append(progress, done) },
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Details)
	assert.Equal(t, 1, src.pauses)
	assert.Equal(t, []int{1, 2}, progress)

	beta, err := s.FindCustomerByNumber(ctx, "w1", "2")
	require.NoError(t, err)
	assert.Equal(t, "info@beta.se", beta.Email)
	assert.Equal(t, "Umeå", beta.City)

	// Provider regresses to a placeholder and detail lookups are off.
	src.list[1] = fortnox.Customer{CustomerNumber: "2", Name: "Beta", Email: "1", City: "Umeå"}
	report, err = sy.SyncCustomers(ctx, src, "w1", "u1", CustomerOptions{})
	require.NoError(t, err)
	assert.Zero(t, report.Created)
	assert.Equal(t, 2, report.Unchanged)

	beta, err = s.FindCustomerByNumber(ctx, "w1", "2")
	require.NoError(t, err)
	assert.Equal(t, "info@beta.se", beta.Email)

	all, err := s.ListCustomers(ctx, "w1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSyncCustomers_PartialAndFatal(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	sy := New(s, s, nil, nil)

	src := &fakeCustomers{
		list:    []fortnox.Customer{{CustomerNumber: "1", Name: "Acme", Email: "a@acme.se"}},
		listErr: &errors.ErrUpstream{Service: "fortnox", StatusCode: 502},
	}
	report, err := sy.SyncCustomers(ctx, src, "w1", "u1", CustomerOptions{})
	require.NoError(t, err)
	assert.True(t, report.Partial)
	assert.Equal(t, 1, report.Created)

	src = &fakeCustomers{listErr: &authfetch.ReconnectRequiredError{Service: models.ServiceFortnox, Status: models.TokenStatusRefreshFailed}}
	_, err = sy.SyncCustomers(ctx, src, "w1", "u1", CustomerOptions{})
	var reconnect *authfetch.ReconnectRequiredError
	assert.ErrorAs(t, err, &reconnect)

	src = &fakeCustomers{
		list: []fortnox.Customer{
			{CustomerNumber: "5", Name: "E", Email: ""},
			{CustomerNumber: "6", Name: "F", Email: ""},
		},
		detErr: &errors.RateLimitError{Service: "fortnox", RetryAfter: time.Second},
	}
	report, err = sy.SyncCustomers(ctx, src, "w1", "u1", CustomerOptions{FetchDetails: true})
	var limited *errors.RateLimitError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 1, src.lookups, "detail lookups stop after a rate limit")
	assert.Equal(t, 2, report.Created, "list data is still imported")
}

type fakeInvoices struct {
	perYear map[int][]fortnox.Invoice
	errYear map[int]error
}

func (f *fakeInvoices) AllInvoices(ctx context.Context, from, to time.Time) pagination.Result[fortnox.Invoice] {
	items := f.perYear[from.Year()]
	return pagination.Result[fortnox.Invoice]{Items: items, Pages: (len(items) + 1) / 2, Err: f.errYear[from.Year()]}
}

func invoicesFor(year, n, start int) []fortnox.Invoice {
	out := make([]fortnox.Invoice, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fortnox.Invoice{
			DocumentNumber: fmt.Sprintf("%d", start+i),
			CustomerNumber: "1",
			InvoiceDate:    fmt.Sprintf("%d-03-01", year),
			Total:          100,
			Balance:        100,
		})
	}
	return out
}

func TestSyncInvoices_ThreeYearWindow(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	sy := New(s, s, nil, nil)

	src := &fakeInvoices{perYear: map[int][]fortnox.Invoice{
		2024: invoicesFor(2024, 3, 1),
		2025: invoicesFor(2025, 4, 4),
		2026: invoicesFor(2026, 2, 8),
	}}

	report, err := sy.SyncInvoices(ctx, src, "w1", "u1", 2024, 2026)
	require.NoError(t, err)
	assert.Equal(t, 9, report.Fetched, "sum of each year's records")
	assert.Equal(t, 9, report.Unique)
	assert.Equal(t, 9, report.Upserted)
	require.Len(t, report.Years, 3)
	assert.False(t, report.Partial)

	stored, err := s.ListInvoices(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, stored, 9)
	seen := map[string]bool{}
	for _, inv := range stored {
		assert.False(t, seen[inv.DocumentNumber], "duplicate %s", inv.DocumentNumber)
		seen[inv.DocumentNumber] = true
	}

	// Re-running the same window writes no new rows.
	_, err = sy.SyncInvoices(ctx, src, "w1", "u1", 2024, 2026)
	require.NoError(t, err)
	stored, err = s.ListInvoices(ctx, "w1")
	require.NoError(t, err)
	assert.Len(t, stored, 9)
}

func TestSyncInvoices_FailingYearKeepsOthers(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	sy := New(s, s, nil, nil)

	src := &fakeInvoices{
		perYear: map[int][]fortnox.Invoice{
			2025: invoicesFor(2025, 3, 1),
			2026: invoicesFor(2026, 1, 4),
		},
		errYear: map[int]error{2026: &errors.ErrUpstream{Service: "fortnox", StatusCode: 503}},
	}

	report, err := sy.SyncInvoices(ctx, src, "w1", "u1", 2025, 2026)
	require.NoError(t, err)
	assert.True(t, report.Partial)
	assert.Equal(t, 4, report.Upserted)
	assert.NotEmpty(t, report.Years[1].Error)

	_, err = sy.SyncInvoices(ctx, &fakeInvoices{errYear: map[int]error{2025: &errors.ErrUpstream{StatusCode: 500}}}, "w1", "u1", 2025, 2025)
	assert.Error(t, err, "nothing fetched surfaces the error")

	_, err = sy.SyncInvoices(ctx, src, "w1", "u1", 2026, 2025)
	var verr *errors.ErrValidation
	assert.ErrorAs(t, err, &verr)
}

func TestDedup(t *testing.T) {
	in := []fortnox.Invoice{
		{DocumentNumber: "10", Total: 1},
		{DocumentNumber: "9", Total: 1},
		{DocumentNumber: "10", Total: 2},
		{DocumentNumber: ""},
	}
	out := Dedup(in)
	require.Len(t, out, 2)
	assert.Equal(t, "9", out[0].DocumentNumber)
	assert.Equal(t, "10", out[1].DocumentNumber)
	assert.Equal(t, 2.0, out[1].Total, "last occurrence wins")
}
