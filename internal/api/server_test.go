package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmhub/crmhub/internal/authfetch"
	"github.com/crmhub/crmhub/internal/blog"
	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/credentials"
	"github.com/crmhub/crmhub/internal/metrics"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/reports"
	"github.com/crmhub/crmhub/internal/store"
	"github.com/crmhub/crmhub/internal/syncer"
)

const (
	testJWTSecret  = "test-jwt-secret"
	testAudience   = "authenticated"
	testCronSecret = "cron-secret"
)

type testEnv struct {
	server  *Server
	store   *store.SQLiteStore
	fortnox *fakeFortnox
	audit   *recordingSink
}

// fakeFortnox serves the token endpoint and a small API. Requests with the
// "stale" access token get 401 until a refresh has happened.
type fakeFortnox struct {
	srv         *httptest.Server
	refreshes   atomic.Int32
	codeGrants  atomic.Int32
	detailCalls atomic.Int32
}

func newFakeFortnox(t *testing.T) *fakeFortnox {
	f := &fakeFortnox{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth-v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		switch r.Form.Get("grant_type") {
		case "refresh_token":
			f.refreshes.Add(1)
		case "authorization_code":
			f.codeGrants.Add(1)
			if r.Form.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"invalid_grant"}`)
				return
			}
		}
		fmt.Fprint(w, `{"access_token":"fresh","refresh_token":"r2","expires_in":3600,"token_type":"Bearer"}`)
	})
	mux.HandleFunc("/3/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"ErrorInformation":{"error":1,"message":"Invalid token","code":2000310}}`)
			return
		}
		switch {
		case r.URL.Path == "/3/customers":
			fmt.Fprint(w, `{"MetaInformation":{"@TotalPages":1,"@CurrentPage":1},"Customers":[
				{"CustomerNumber":"1","Name":"Acme AB","Email":"info@acme.se"},
				{"CustomerNumber":"2","Name":"Beta AB","Email":"1"}]}`)
		case r.URL.Path == "/3/customers/2":
			f.detailCalls.Add(1)
			fmt.Fprint(w, `{"Customer":{"CustomerNumber":"2","Name":"Beta AB","Email":"billing@beta.se","Phone1":"08-123"}}`)
		case r.URL.Path == "/3/invoices":
			year := r.URL.Query().Get("fromdate")[:4]
			fmt.Fprintf(w, `{"MetaInformation":{"@TotalPages":1},"Invoices":[
				{"DocumentNumber":"%s1","CustomerNumber":"1","Total":100,"Balance":0,"DueDate":"%s-02-01"},
				{"DocumentNumber":"%s2","CustomerNumber":"2","Total":50,"Balance":50,"DueDate":"%s-03-01"}]}`,
				year, year, year, year)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fx := newFakeFortnox(t)
	cfg := &config.Config{
		API: config.APIConfig{
			Auth:      config.AuthConfig{JWTSecret: testJWTSecret, Audience: testAudience},
			RateLimit: config.RateLimitConfig{RequestsPerMinute: 6000, Burst: 1000},
		},
		Integrations: config.IntegrationsConfig{
			Fortnox: config.ProviderConfig{
				ClientID:     "client",
				ClientSecret: "secret",
				RedirectURI:  "https://app.example/api/integrations/fortnox/callback",
				AuthURL:      fx.srv.URL + "/oauth-v1/auth",
				TokenURL:     fx.srv.URL + "/oauth-v1/token",
				APIBaseURL:   fx.srv.URL + "/3",
				PageSize:     100,
			},
			StateSecret: "state-secret",
		},
		Reports: config.ReportsConfig{CronSecret: testCronSecret, DryRun: true},
	}
	require.NoError(t, cfg.Blog.Validate())
	require.NoError(t, cfg.Reports.Validate())

	m := metrics.NewMetrics("test")
	oauth := credentials.NewOAuthClient(models.ServiceFortnox, cfg.Integrations.Fortnox, fx.srv.Client())
	refresher := credentials.NewRefresher(oauth, st, credentials.WithMetrics(m))
	sessions := authfetch.NewFactory(credentials.NewLoader(st),
		map[models.Service]authfetch.TokenRefresher{models.ServiceFortnox: refresher},
		authfetch.WithHTTPClient(fx.srv.Client()),
		authfetch.WithMetrics(m),
	)

	audit := &recordingSink{}
	srv := NewServer(cfg, Deps{
		Store:        st,
		Blog:         blog.NewService(st, cfg.Blog),
		Sessions:     sessions,
		Syncer:       syncer.New(st, st, nil, m),
		Reports:      reports.NewDispatcher(st, st, cfg.Reports),
		Integrations: map[models.Service]Integration{models.ServiceFortnox: {Client: oauth, Refresher: refresher}},
		State:        credentials.NewStateSigner(cfg.Integrations.StateSecret, 0),
		Metrics:      m,
		Audit:        audit,
	})
	return &testEnv{server: srv, store: st, fortnox: fx, audit: audit}
}

func sessionToken(t *testing.T, sub string, expires time.Time, audience string) string {
	t.Helper()
	return workspaceToken(t, sub, expires, audience)
}

// workspaceToken is sessionToken with app_metadata workspace memberships.
func workspaceToken(t *testing.T, sub string, expires time.Time, audience string, workspaces ...string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		Email:       sub + "@example.com",
		AppMetadata: AppMetadata{Workspaces: workspaces},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	raw, err := tok.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return raw
}

func (e *testEnv) do(t *testing.T, method, target, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+sessionToken(t, user, time.Now().Add(time.Hour), testAudience))
	}
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *testEnv) connectFortnox(t *testing.T, user string) {
	t.Helper()
	future := time.Now().Add(time.Hour)
	require.NoError(t, e.store.SaveCredential(context.Background(), &models.CredentialRecord{
		UserID: user, Service: models.ServiceFortnox,
		AccessToken: "stale", RefreshToken: "r1", ExpiresAt: &future,
	}))
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}

func TestBlogPostBySlug(t *testing.T) {
	env := newTestEnv(t)
	published := time.Now().UTC()
	require.NoError(t, env.store.SaveContent(context.Background(), &models.GeneratedContent{
		UserID:          "u1",
		Title:           "My Post",
		Body:            "## Intro\n\nA **short** post about invoicing.",
		BlogPostURL:     "/blog/my-post",
		PublishedToBlog: true,
		PublishedAt:     &published,
	}))

	w := env.do(t, http.MethodGet, "/api/blog/posts?slug=my-post", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	post := decode(t, w)["post"].(map[string]any)
	assert.NotEmpty(t, post["excerpt"])
	assert.Regexp(t, `^\d+ min read$`, post["readTime"])
	assert.Equal(t, "my-post", post["slug"])

	w = env.do(t, http.MethodGet, "/api/blog/posts?slug=missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not found", decode(t, w)["error"])

	w = env.do(t, http.MethodGet, "/api/blog/posts?slug=Bad_Slug", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/blog/posts", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])
}

func TestDeleteTestPosts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.SaveContent(ctx, &models.GeneratedContent{UserID: "u1", Title: "Test Post 1", Body: "x"}))
	require.NoError(t, env.store.SaveContent(ctx, &models.GeneratedContent{UserID: "u1", Title: "Real Post", Body: "x"}))

	w := env.do(t, http.MethodDelete, "/api/debug-generation/delete-test-posts?isTestPost=true", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodDelete, "/api/debug-generation/delete-test-posts", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, "/api/debug-generation/delete-test-posts?isTestPost=true", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	deleted := decode(t, w)["deleted"].([]any)
	require.Len(t, deleted, 1)
	assert.Equal(t, "Test Post 1", deleted[0].(map[string]any)["title"])
}

func TestPublish(t *testing.T) {
	env := newTestEnv(t)
	row := &models.GeneratedContent{UserID: "u1", Title: "Launch Notes", Body: "Body text"}
	require.NoError(t, env.store.SaveContent(context.Background(), row))

	w := env.do(t, http.MethodPost, "/api/blog/publish", "u1", PublishRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/blog/publish", "u2", PublishRequest{ContentID: row.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/blog/publish", "u1", PublishRequest{ContentID: row.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "/blog/launch-notes", decode(t, w)["post"].(map[string]any)["url"])
}

func TestSyncCustomers_RefreshesOnceAndReconciles(t *testing.T) {
	env := newTestEnv(t)
	env.connectFortnox(t, "u1")

	w := env.do(t, http.MethodPost, "/api/fortnox/sync/customers", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode(t, w)["report"].(map[string]any)
	assert.EqualValues(t, 2, report["fetched"])
	assert.EqualValues(t, 2, report["created"])
	assert.EqualValues(t, 1, report["detailsFetched"])
	assert.EqualValues(t, 1, env.fortnox.refreshes.Load())

	customers, err := env.store.ListCustomers(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, customers, 2)
	emails := []string{customers[0].Email, customers[1].Email}
	assert.ElementsMatch(t, []string{"info@acme.se", "billing@beta.se"}, emails)

	rec, err := env.store.GetCredential(context.Background(), "u1", models.ServiceFortnox)
	require.NoError(t, err)
	assert.Equal(t, "fresh", rec.AccessToken)
	assert.Equal(t, "r2", rec.RefreshToken)

	// Second run with a working token: nothing new.
	w = env.do(t, http.MethodPost, "/api/fortnox/sync/customers", "u1", SyncCustomersRequest{FetchDetails: new(bool)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report = decode(t, w)["report"].(map[string]any)
	assert.EqualValues(t, 0, report["created"])
	assert.EqualValues(t, 1, env.fortnox.refreshes.Load())
}

func TestSyncInvoices_MultiYearWindow(t *testing.T) {
	env := newTestEnv(t)
	env.connectFortnox(t, "u1")

	req := httptest.NewRequest(http.MethodPost, "/api/fortnox/sync/invoices",
		strings.NewReader(`{"fromYear":2023,"toYear":2025}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+workspaceToken(t, "u1", time.Now().Add(time.Hour), testAudience, "ws-1"))
	req.Header.Set(WorkspaceHeader, "ws-1")
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	report := decode(t, w)["report"].(map[string]any)
	assert.Len(t, report["years"], 3)
	assert.EqualValues(t, 6, report["unique"])
	assert.Equal(t, false, report["partial"])

	invoices, err := env.store.ListInvoices(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Len(t, invoices, 6)

	w = env.do(t, http.MethodPost, "/api/fortnox/sync/invoices", "u1", SyncInvoicesRequest{FromYear: 2010, ToYear: 2025})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncInvoices_ForeignWorkspaceRejected(t *testing.T) {
	env := newTestEnv(t)
	env.connectFortnox(t, "intruder")
	ctx := context.Background()
	before := env.fortnox.refreshes.Load()

	_, err := env.store.UpsertInvoices(ctx, []*models.Invoice{{
		WorkspaceID: "ws-owner", UserID: "owner", DocumentNumber: "20251", Total: 999,
	}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/fortnox/sync/invoices",
		strings.NewReader(`{"fromYear":2025,"toYear":2025}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+workspaceToken(t, "intruder", time.Now().Add(time.Hour), testAudience, "ws-other"))
	req.Header.Set(WorkspaceHeader, "ws-owner")
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	assert.Equal(t, before, env.fortnox.refreshes.Load(), "no provider call for a rejected workspace")

	invoices, err := env.store.ListInvoices(ctx, "ws-owner")
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "owner", invoices[0].UserID)
	assert.Equal(t, 999.0, invoices[0].Total)
}

func TestSync_NotConnected(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/fortnox/sync/invoices", "nobody", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
	assert.Equal(t, "missing", decode(t, w)["tokenStatus"])
}

func TestSync_RefreshRejectedNeedsReconnect(t *testing.T) {
	env := newTestEnv(t)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, env.store.SaveCredential(context.Background(), &models.CredentialRecord{
		UserID: "u1", Service: models.ServiceFortnox, AccessToken: "stale", ExpiresAt: &past,
	}))

	w := env.do(t, http.MethodPost, "/api/fortnox/sync/customers", "u1", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
	assert.NotEmpty(t, decode(t, w)["tokenStatus"])
}

func TestCronSendReports(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/cron/send-reports", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/cron/send-reports?secret=wrong", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	require.NoError(t, env.store.SaveCronJob(context.Background(), &models.CronJob{
		UserID: "u1", WorkspaceID: "u1", ReportType: models.ReportInvoiceSummary,
		Recipients: []string{"owner@example.com"}, Interval: 24 * time.Hour, Enabled: true,
		NextRunAt: time.Now().Add(-time.Minute),
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/cron/send-reports", nil)
	req.Header.Set(CronSecretHeader, testCronSecret)
	w = httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.EqualValues(t, 1, body["processed"])
	assert.EqualValues(t, 1, body["succeeded"])
}

func TestIntegrationLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/integrations/fortnox/status", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "missing", decode(t, w)["tokenStatus"])

	w = env.do(t, http.MethodGet, "/api/integrations/fortnox/connect", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	authURL, err := url.Parse(decode(t, w)["url"].(string))
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	w = env.do(t, http.MethodGet, "/api/integrations/fortnox/callback?code=good-code&state=forged", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/integrations/fortnox/callback?code=good-code&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["connected"])

	w = env.do(t, http.MethodGet, "/api/integrations/fortnox/status", "u1", nil)
	assert.Equal(t, "valid", decode(t, w)["tokenStatus"])

	w = env.do(t, http.MethodDelete, "/api/integrations/fortnox", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/integrations/fortnox/status", "u1", nil)
	assert.Equal(t, "missing", decode(t, w)["tokenStatus"])

	w = env.do(t, http.MethodGet, "/api/integrations/slack/status", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/integrations/google/connect", "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIntegrationCallback_RedirectsToApp(t *testing.T) {
	env := newTestEnv(t)
	env.server.cfg.Integrations.SuccessURL = "https://app.example/settings?tab=integrations"

	state, err := env.server.deps.State.Sign("u1", models.ServiceFortnox)
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/api/integrations/fortnox/callback?code=bad-code&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "error", loc.Query().Get("status"))
	assert.Equal(t, "integrations", loc.Query().Get("tab"))

	w = env.do(t, http.MethodGet, "/api/integrations/fortnox/callback?code=good-code&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusFound, w.Code)
	loc, err = url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "connected", loc.Query().Get("status"))
}
