package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_Migrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	require.NoError(t, s.Close())

	// Reopening must not re-run migrations.
	s, err = NewSQLiteStore(path, nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(context.Background()))
}

func TestSQLiteStore_Credentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetCredential(ctx, "u1", models.ServiceFortnox)
	require.ErrorIs(t, err, errors.ErrNotFound)

	exp := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := &models.CredentialRecord{
		UserID:       "u1",
		Service:      models.ServiceFortnox,
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    &exp,
		Settings:     &models.CredentialBlob{RefreshToken: "old-refresh"},
	}
	require.NoError(t, s.SaveCredential(ctx, rec))

	got, err := s.GetCredential(ctx, "u1", models.ServiceFortnox)
	require.NoError(t, err)
	assert.Equal(t, "access", got.AccessToken)
	assert.Equal(t, "refresh", got.RefreshToken)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, exp.Equal(*got.ExpiresAt))
	require.NotNil(t, got.Settings)
	assert.Equal(t, "old-refresh", got.Settings.RefreshToken)

	// Upsert keeps one row per (user, service) and clears the blob when nil.
	got.AccessToken = "access-2"
	got.Settings = nil
	require.NoError(t, s.SaveCredential(ctx, got))
	require.NoError(t, s.SaveCredential(ctx, &models.CredentialRecord{UserID: "u2", Service: models.ServiceGoogle, RefreshToken: "g"}))

	all, err := s.ListCredentials(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "access-2", all[0].AccessToken)
	assert.Nil(t, all[0].Settings)
	assert.Nil(t, all[1].ExpiresAt)

	google, err := s.ListCredentials(ctx, models.ServiceGoogle)
	require.NoError(t, err)
	require.Len(t, google, 1)

	require.NoError(t, s.DeleteCredential(ctx, "u1", models.ServiceFortnox))
	require.ErrorIs(t, s.DeleteCredential(ctx, "u1", models.ServiceFortnox), errors.ErrNotFound)
}

func TestSQLiteStore_Customers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	local := &models.Customer{WorkspaceID: "w1", UserID: "u1", Name: "Acme AB", Email: "billing@acme.se"}
	require.NoError(t, s.SaveCustomer(ctx, local))
	require.NotEmpty(t, local.ID)

	found, err := s.FindUnnumberedCustomerByName(ctx, "w1", "Acme AB")
	require.NoError(t, err)
	assert.Equal(t, local.ID, found.ID)

	_, err = s.FindUnnumberedCustomerByName(ctx, "w1", "acme ab")
	require.ErrorIs(t, err, errors.ErrNotFound)
	_, err = s.FindCustomerByNumber(ctx, "w1", "")
	require.ErrorIs(t, err, errors.ErrNotFound)

	found.CustomerNumber = "1001"
	require.NoError(t, s.SaveCustomer(ctx, found))

	byNumber, err := s.FindCustomerByNumber(ctx, "w1", "1001")
	require.NoError(t, err)
	assert.Equal(t, "billing@acme.se", byNumber.Email)

	_, err = s.FindUnnumberedCustomerByName(ctx, "w1", "Acme AB")
	require.ErrorIs(t, err, errors.ErrNotFound)

	// Customer numbers are unique within a workspace.
	dup := &models.Customer{WorkspaceID: "w1", UserID: "u1", CustomerNumber: "1001", Name: "Other"}
	require.Error(t, s.SaveCustomer(ctx, dup))
	assert.Empty(t, dup.ID)

	other := &models.Customer{WorkspaceID: "w2", UserID: "u1", CustomerNumber: "1001", Name: "Other"}
	require.NoError(t, s.SaveCustomer(ctx, other))

	list, err := s.ListCustomers(ctx, "w1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.ErrorIs(t, s.SaveCustomer(ctx, &models.Customer{ID: "missing", Name: "x"}), errors.ErrNotFound)
}

func TestSQLiteStore_UpsertInvoicesIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := func(total float64) []*models.Invoice {
		return []*models.Invoice{
			{WorkspaceID: "w1", UserID: "u1", DocumentNumber: "1", Total: total, InvoiceDate: "2025-01-10"},
			{WorkspaceID: "w1", UserID: "u1", DocumentNumber: "2", Total: total, InvoiceDate: "2025-02-10"},
		}
	}

	n, err := s.UpsertInvoices(ctx, batch(100))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.UpsertInvoices(ctx, batch(250))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := s.ListInvoices(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2", list[0].DocumentNumber)
	assert.Equal(t, 250.0, list[0].Total)

	n, err = s.UpsertInvoices(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_ContentSlugAndTestPosts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	published := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	rows := []*models.GeneratedContent{
		{UserID: "u1", Title: "Test Post 1", BlogPostURL: "/blog/test-post-1", PublishedToBlog: true, PublishedAt: &published},
		{UserID: "u1", Title: "Real Post", BlogPostURL: "https://example.com/blog/my-post", PublishedToBlog: true, PublishedAt: &published, Keywords: []string{"crm"}},
		{UserID: "u1", Title: "Draft", BlogPostURL: "/blog/draft"},
		{UserID: "u2", Title: "test post from someone else"},
	}
	for _, r := range rows {
		require.NoError(t, s.SaveContent(ctx, r))
	}

	post, err := s.FindPublishedBySlug(ctx, "my-post")
	require.NoError(t, err)
	assert.Equal(t, "Real Post", post.Title)
	assert.Equal(t, []string{"crm"}, post.Keywords)

	_, err = s.FindPublishedBySlug(ctx, "draft")
	require.ErrorIs(t, err, errors.ErrNotFound)
	_, err = s.FindPublishedBySlug(ctx, "post")
	require.ErrorIs(t, err, errors.ErrNotFound)

	list, err := s.ListPublishedContent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	deleted, err := s.DeleteTestPosts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "Test Post 1", deleted[0].Title)

	_, err = s.GetContent(ctx, rows[1].ID)
	require.NoError(t, err)
	_, err = s.GetContent(ctx, rows[0].ID)
	require.ErrorIs(t, err, errors.ErrNotFound)
	_, err = s.GetContent(ctx, rows[3].ID)
	require.NoError(t, err)

	require.Error(t, s.SaveContent(ctx, &models.GeneratedContent{UserID: "u1"}))
}

func TestSQLiteStore_DeleteTestPostsKeepsLookalikeTitles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []*models.GeneratedContent{
		{UserID: "u1", Title: "Test Post"},
		{UserID: "u1", Title: "test post 2"},
		{UserID: "u1", Title: "Launch notes", IsTestPost: true},
		{UserID: "u1", Title: "Test Postmortem: March outage"},
		{UserID: "u1", Title: "Test Posting Guide"},
	}
	var want []string
	for _, r := range rows {
		require.NoError(t, s.SaveContent(ctx, r))
		if r.LooksLikeTestPost() {
			want = append(want, r.Title)
		}
	}
	require.Len(t, want, 3)

	deleted, err := s.DeleteTestPosts(ctx, "u1")
	require.NoError(t, err)
	var got []string
	for _, d := range deleted {
		got = append(got, d.Title)
	}
	assert.ElementsMatch(t, want, got)

	_, err = s.GetContent(ctx, rows[3].ID)
	require.NoError(t, err, "a real post must survive cleanup")
	_, err = s.GetContent(ctx, rows[4].ID)
	require.NoError(t, err)
}

func TestSQLiteStore_CronJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	due := &models.CronJob{UserID: "u1", ReportType: models.ReportInvoiceSummary, Recipients: []string{"a@example.com"},
		Interval: 24 * time.Hour, Enabled: true, NextRunAt: now.Add(-time.Minute)}
	later := &models.CronJob{UserID: "u1", ReportType: models.ReportSearchConsole, Recipients: []string{"a@example.com"},
		Interval: 24 * time.Hour, Enabled: true, NextRunAt: now.Add(time.Hour)}
	disabled := &models.CronJob{UserID: "u1", ReportType: models.ReportInvoiceSummary, Recipients: []string{"a@example.com"},
		Interval: 24 * time.Hour, Enabled: false, NextRunAt: now.Add(-time.Hour)}
	for _, j := range []*models.CronJob{due, later, disabled} {
		require.NoError(t, s.SaveCronJob(ctx, j))
	}

	jobs, err := s.ListDueCronJobs(ctx, now)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, due.ID, jobs[0].ID)
	assert.Equal(t, []string{"a@example.com"}, jobs[0].Recipients)
	assert.Equal(t, 24*time.Hour, jobs[0].Interval)
	assert.Equal(t, models.JobStatusPending, jobs[0].LastStatus)

	ran := now
	jobs[0].LastRunAt = &ran
	jobs[0].LastStatus = models.JobStatusSuccess
	jobs[0].Advance(now)
	require.NoError(t, s.SaveCronJob(ctx, jobs[0]))

	jobs, err = s.ListDueCronJobs(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	got, err := s.GetCronJob(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, got.LastStatus)
	require.NotNil(t, got.LastRunAt)

	_, err = s.GetCronJob(ctx, "nope")
	require.ErrorIs(t, err, errors.ErrNotFound)
}
