package reports

import (
	"context"
	"time"

	"github.com/crmhub/crmhub/internal/authfetch"
	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/metrics"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/searchconsole"
)

// SearchConsoleSource reads analytics through a fresh session per job.
type SearchConsoleSource struct {
	sessions *authfetch.Factory
	cfg      config.ProviderConfig
	sc       config.SearchConsole
	metrics  *metrics.Metrics
}

// NewSearchConsoleSource creates a SearchConsoleSource.
func NewSearchConsoleSource(sessions *authfetch.Factory, cfg config.ProviderConfig, sc config.SearchConsole, m *metrics.Metrics) *SearchConsoleSource {
	return &SearchConsoleSource{sessions: sessions, cfg: cfg, sc: sc, metrics: m}
}

// TopQueries returns the user's top queries on the configured site.
func (s *SearchConsoleSource) TopQueries(ctx context.Context, userID string, from, to time.Time, limit int) (string, []models.SearchAnalyticsRow, error) {
	session, err := s.sessions.Session(userID, models.ServiceGoogle)
	if err != nil {
		return "", nil, err
	}
	client := searchconsole.New(session, s.cfg, s.sc, s.metrics)
	res, err := client.Query(ctx, searchconsole.Query{
		StartDate:  from,
		EndDate:    to,
		Dimensions: []string{"query"},
		RowLimit:   limit,
		MaxRows:    limit,
	})
	if err != nil {
		return "", nil, err
	}
	if res.Err != nil {
		return "", nil, res.Err
	}
	return client.DefaultSite(), res.Items, nil
}

var _ AnalyticsSource = (*SearchConsoleSource)(nil)
