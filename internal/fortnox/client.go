// Package fortnox is a typed client for the Fortnox REST API endpoints the
// sync uses. All calls go through an authfetch.Session.
package fortnox

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/crmhub/crmhub/internal/authfetch"
	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/metrics"
	"github.com/crmhub/crmhub/internal/pagination"
)

// Client calls Fortnox on behalf of one session.
type Client struct {
	session *authfetch.Session
	cfg     config.ProviderConfig
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records pagination metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithSleep replaces the inter-request wait, for tests.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if f != nil {
			c.sleep = f
		}
	}
}

// New creates a Client. cfg supplies the base URL, page size and delays.
func New(session *authfetch.Session, cfg config.ProviderConfig, opts ...Option) *Client {
	c := &Client{session: session, cfg: cfg, sleep: sleepCtx}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CustomersPage fetches one page of the customer register.
func (c *Client) CustomersPage(ctx context.Context, page, limit int) (pagination.Page[Customer], error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var body customerList
	if err := c.get(ctx, "/customers", q, &body); err != nil {
		return pagination.Page[Customer]{}, err
	}
	return pagination.Page[Customer]{Items: body.Customers, TotalPages: body.MetaInformation.TotalPages}, nil
}

// Customer fetches the full record for one customer number.
func (c *Client) Customer(ctx context.Context, number string) (*Customer, error) {
	var body customerDetail
	if err := c.get(ctx, "/customers/"+url.PathEscape(number), nil, &body); err != nil {
		return nil, err
	}
	return &body.Customer, nil
}

// InvoicesPage fetches one page of invoices dated within [from, to].
func (c *Client) InvoicesPage(ctx context.Context, from, to time.Time, page, limit int) (pagination.Page[Invoice], error) {
	q := url.Values{}
	q.Set("fromdate", from.Format("2006-01-02"))
	q.Set("todate", to.Format("2006-01-02"))
	q.Set("sortby", "documentnumber")
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var body invoiceList
	if err := c.get(ctx, "/invoices", q, &body); err != nil {
		return pagination.Page[Invoice]{}, err
	}
	return pagination.Page[Invoice]{Items: body.Invoices, TotalPages: body.MetaInformation.TotalPages}, nil
}

// AllCustomers walks every customer page.
func (c *Client) AllCustomers(ctx context.Context) pagination.Result[Customer] {
	return pagination.Aggregate(ctx, c.CustomersPage, c.pageOptions("customers")...)
}

// AllInvoices walks every invoice page dated within [from, to].
func (c *Client) AllInvoices(ctx context.Context, from, to time.Time) pagination.Result[Invoice] {
	fetch := func(ctx context.Context, page, limit int) (pagination.Page[Invoice], error) {
		return c.InvoicesPage(ctx, from, to, page, limit)
	}
	return pagination.Aggregate(ctx, fetch, c.pageOptions("invoices")...)
}

// Pause waits the configured per-customer detail delay.
func (c *Client) Pause(ctx context.Context) error {
	if c.cfg.DetailDelay <= 0 {
		return nil
	}
	return c.sleep(ctx, c.cfg.DetailDelay)
}

func (c *Client) pageOptions(source string) []pagination.Option {
	return []pagination.Option{
		pagination.WithPageSize(c.cfg.PageSize),
		pagination.WithMaxPages(c.cfg.MaxPages),
		pagination.WithDelay(c.cfg.PageDelay),
		pagination.WithMetrics(c.metrics, "fortnox_"+source),
		pagination.WithSleep(c.sleep),
	}
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	endpoint := c.cfg.APIBaseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	err := c.session.DoJSON(ctx, func(ctx context.Context, accessToken string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
	if err != nil {
		return fmt.Errorf("fortnox GET %s: %w", path, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
