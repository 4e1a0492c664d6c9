// Package unsplash looks up cover images. Lookups never fail the caller: any
// problem yields no image.
package unsplash

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/logging"
	"github.com/crmhub/crmhub/internal/metrics"
)

// Image is a chosen cover photo with its attribution.
type Image struct {
	URL    string
	Credit string
}

type searchResponse struct {
	Results []struct {
		URLs struct {
			Regular string `json:"regular"`
		} `json:"urls"`
		User struct {
			Name  string `json:"name"`
			Links struct {
				HTML string `json:"html"`
			} `json:"links"`
		} `json:"user"`
	} `json:"results"`
}

// Client searches Unsplash.
type Client struct {
	cfg     config.UnsplashConfig
	http    *http.Client
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New creates a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg config.UnsplashConfig, httpClient *http.Client, logger *logging.Logger, m *metrics.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger, metrics: m}
}

// Enabled reports whether an access key is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.AccessKey != ""
}

// Search returns the first landscape photo for query, or nil.
func (c *Client) Search(ctx context.Context, query string) *Image {
	query = strings.TrimSpace(query)
	if !c.Enabled() || query == "" {
		return nil
	}
	img, err := c.search(ctx, query)
	if err != nil {
		c.logger.WarnWithContext(ctx, "unsplash lookup failed", "query", query, "error", err)
		return nil
	}
	return img
}

func (c *Client) search(ctx context.Context, query string) (*Image, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("per_page", "1")
	q.Set("orientation", "landscape")
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/search/photos?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Client-ID "+c.cfg.AccessKey)
	req.Header.Set("Accept-Version", "v1")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordUpstream("unsplash", 0, 0)
		return nil, err
	}
	defer resp.Body.Close()
	c.metrics.RecordUpstream("unsplash", resp.StatusCode, 0)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Results) == 0 || body.Results[0].URLs.Regular == "" {
		return nil, nil
	}
	r := body.Results[0]
	credit := r.User.Name
	if r.User.Links.HTML != "" {
		credit = fmt.Sprintf("Photo by %s (%s) on Unsplash", r.User.Name, r.User.Links.HTML)
	} else if credit != "" {
		credit = "Photo by " + credit + " on Unsplash"
	}
	return &Image{URL: r.URLs.Regular, Credit: credit}, nil
}
