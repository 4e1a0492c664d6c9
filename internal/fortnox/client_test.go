package fortnox

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmhub/crmhub/internal/authfetch"
	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/credentials"
	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
)

type staticLoader struct{}

func (staticLoader) Load(ctx context.Context, userID string, service models.Service) (*credentials.Token, error) {
	return &credentials.Token{AccessToken: "tok", RefreshToken: "r"}, nil
}

type noRefresh struct{}

func (noRefresh) Refresh(ctx context.Context, userID, refreshToken string) (*credentials.Token, error) {
	return nil, fmt.Errorf("unexpected refresh")
}

func newClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	session := authfetch.NewSession("u1", models.ServiceFortnox, staticLoader{}, noRefresh{}, authfetch.WithHTTPClient(srv.Client()))
	cfg := config.ProviderConfig{APIBaseURL: srv.URL + "/3", PageSize: 2, MaxPages: 10, PageDelay: time.Second, DetailDelay: time.Second}
	return New(session, cfg, WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))
}

func TestClient_AllCustomers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/3/customers", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `{"MetaInformation":{"@TotalPages":2,"@CurrentPage":1},"Customers":[
				{"CustomerNumber":"1","Name":"Acme","Email":"a@acme.se"},
				{"CustomerNumber":"2","Name":"Beta","Email":"1"}]}`)
		default:
			fmt.Fprint(w, `{"MetaInformation":{"@TotalPages":2,"@CurrentPage":2},"Customers":[
				{"CustomerNumber":"3","Name":"Gamma","Phone1":"070-1"}]}`)
		}
	})
	c := newClient(t, mux)

	res := c.AllCustomers(context.Background())
	require.NoError(t, res.Err)
	require.Len(t, res.Items, 3)
	assert.Equal(t, "1", res.Items[1].Email)
	assert.Equal(t, "070-1", res.Items[2].PhoneNumber())
}

func TestClient_CustomerDetailAndInvoices(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/3/customers/10", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Customer":{"CustomerNumber":"10","Name":"Delta","Email":"d@delta.se","CountryCode":"SE"}}`)
	})
	mux.HandleFunc("/3/invoices", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2025-01-01", r.URL.Query().Get("fromdate"))
		assert.Equal(t, "2025-12-31", r.URL.Query().Get("todate"))
		fmt.Fprint(w, `{"MetaInformation":{"@TotalPages":1},"Invoices":[
			{"DocumentNumber":"100","CustomerNumber":"10","InvoiceDate":"2025-02-01","DueDate":"2025-03-01","Total":1250.5,"Balance":0,"Currency":"SEK"}]}`)
	})
	c := newClient(t, mux)

	cust, err := c.Customer(context.Background(), "10")
	require.NoError(t, err)
	assert.Equal(t, "SE", cust.CountryName())

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	res := c.AllInvoices(context.Background(), from, to)
	require.NoError(t, res.Err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, 1250.5, res.Items[0].Total)
	assert.NoError(t, c.Pause(context.Background()))
}

func TestClient_UpstreamError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/3/customers/404", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"ErrorInformation":{"error":1,"message":"Kan inte hitta kunden.","code":2000433}}`)
	})
	c := newClient(t, mux)

	_, err := c.Customer(context.Background(), "404")
	var upstream *errors.ErrUpstream
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusNotFound, upstream.StatusCode)
}
