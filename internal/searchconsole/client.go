// Package searchconsole queries Google Search Console search analytics.
package searchconsole

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/crmhub/crmhub/internal/authfetch"
	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/metrics"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/pagination"
)

const dateLayout = "2006-01-02"

var allowedDimensions = map[string]bool{
	"query": true, "page": true, "country": true, "device": true, "date": true, "searchAppearance": true,
}

// Query is a searchAnalytics.query request.
type Query struct {
	SiteURL    string
	StartDate  time.Time
	EndDate    time.Time
	Dimensions []string
	// RowLimit is the page size; the walk continues until a short page.
	RowLimit int
	// MaxRows caps the total rows returned. Zero means one page.
	MaxRows int
}

// Validate checks the query and fills defaults.
func (q *Query) Validate(defaultRowLimit int) error {
	if q.SiteURL == "" {
		return &errors.ErrValidation{Field: "siteUrl", Message: "is required"}
	}
	if q.StartDate.IsZero() || q.EndDate.IsZero() {
		return &errors.ErrValidation{Field: "startDate", Message: "startDate and endDate are required"}
	}
	if q.EndDate.Before(q.StartDate) {
		return &errors.ErrValidation{Field: "endDate", Message: "must not be before startDate"}
	}
	for _, d := range q.Dimensions {
		if !allowedDimensions[d] {
			return &errors.ErrValidation{Field: "dimensions", Message: fmt.Sprintf("unknown dimension %q", d)}
		}
	}
	if q.RowLimit <= 0 {
		q.RowLimit = defaultRowLimit
	}
	if q.RowLimit > 25000 {
		q.RowLimit = 25000
	}
	if q.MaxRows <= 0 {
		q.MaxRows = q.RowLimit
	}
	return nil
}

type queryBody struct {
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	Dimensions []string `json:"dimensions,omitempty"`
	RowLimit   int      `json:"rowLimit"`
	StartRow   int      `json:"startRow"`
}

type queryResponse struct {
	Rows                    []models.SearchAnalyticsRow `json:"rows"`
	ResponseAggregationType string                      `json:"responseAggregationType"`
}

// Client calls the Search Console API for one session.
type Client struct {
	session *authfetch.Session
	cfg     config.ProviderConfig
	sc      config.SearchConsole
	metrics *metrics.Metrics
}

// New creates a Client.
func New(session *authfetch.Session, cfg config.ProviderConfig, sc config.SearchConsole, m *metrics.Metrics) *Client {
	return &Client{session: session, cfg: cfg, sc: sc, metrics: m}
}

// DefaultSite returns the configured site URL, if any.
func (c *Client) DefaultSite() string {
	return c.sc.SiteURL
}

// QueryPage fetches rows [startRow, startRow+rowLimit).
func (c *Client) QueryPage(ctx context.Context, q Query, startRow int) ([]models.SearchAnalyticsRow, error) {
	body, err := json.Marshal(queryBody{
		StartDate:  q.StartDate.Format(dateLayout),
		EndDate:    q.EndDate.Format(dateLayout),
		Dimensions: q.Dimensions,
		RowLimit:   q.RowLimit,
		StartRow:   startRow,
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/sites/%s/searchAnalytics/query", c.cfg.APIBaseURL, url.QueryEscape(q.SiteURL))
	var resp queryResponse
	err = c.session.DoJSON(ctx, func(ctx context.Context, accessToken string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("search analytics query: %w", err)
	}
	return resp.Rows, nil
}

// Query walks pages of rows until a short page or MaxRows. Reaching MaxRows
// answers the query in full and is not reported as truncated.
func (c *Client) Query(ctx context.Context, q Query) (pagination.Result[models.SearchAnalyticsRow], error) {
	if q.SiteURL == "" {
		q.SiteURL = c.sc.SiteURL
	}
	if err := q.Validate(c.sc.RowLimit); err != nil {
		return pagination.Result[models.SearchAnalyticsRow]{}, err
	}

	maxPages := (q.MaxRows + q.RowLimit - 1) / q.RowLimit
	fetch := func(ctx context.Context, page, size int) (pagination.Page[models.SearchAnalyticsRow], error) {
		rows, err := c.QueryPage(ctx, q, (page-1)*size)
		return pagination.Page[models.SearchAnalyticsRow]{Items: rows}, err
	}
	res := pagination.Aggregate(ctx, fetch,
		pagination.WithPageSize(q.RowLimit),
		pagination.WithMaxPages(maxPages),
		pagination.WithMetrics(c.metrics, "search_console"),
	)
	if len(res.Items) >= q.MaxRows {
		res.Items = res.Items[:q.MaxRows]
		res.Truncated = false
	}
	return res, nil
}

// Totals sums clicks and impressions and averages CTR and position over rows.
func Totals(rows []models.SearchAnalyticsRow) models.SearchAnalyticsRow {
	var t models.SearchAnalyticsRow
	if len(rows) == 0 {
		return t
	}
	var weightedPos float64
	for _, r := range rows {
		t.Clicks += r.Clicks
		t.Impressions += r.Impressions
		weightedPos += r.Position * r.Impressions
	}
	if t.Impressions > 0 {
		t.CTR = t.Clicks / t.Impressions
		t.Position = weightedPos / t.Impressions
	}
	return t
}
