package credentials

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/logging"
	"github.com/crmhub/crmhub/internal/metrics"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/store"
)

// Refresher exchanges refresh tokens and persists the result.
type Refresher struct {
	exchanger TokenExchanger
	store     store.CredentialStore
	logger    *logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) RefresherOption {
	return func(r *Refresher) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) RefresherOption {
	return func(r *Refresher) { r.metrics = m }
}

// NewRefresher creates a Refresher for the exchanger's service.
func NewRefresher(exchanger TokenExchanger, s store.CredentialStore, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		exchanger: exchanger,
		store:     s,
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Service returns the integration this refresher serves.
func (r *Refresher) Service() models.Service {
	return r.exchanger.Service()
}

// Refresh exchanges refreshToken once. On a provider rejection it logs and
// returns a nil token with *RefreshRejectedError; it never retries.
func (r *Refresher) Refresh(ctx context.Context, userID, refreshToken string) (*Token, error) {
	service := r.exchanger.Service()

	grant, err := r.exchanger.RefreshGrant(ctx, refreshToken)
	if err != nil {
		var rejected *RefreshRejectedError
		var limited *errors.RateLimitError
		var upstream *errors.ErrUpstream
		switch {
		case stderrors.As(err, &rejected):
			r.metrics.RecordTokenRefresh(string(service), "rejected")
			r.logger.WarnWithContext(ctx, "token refresh rejected",
				"user_id", userID, "service", string(service),
				"status", rejected.StatusCode, "code", rejected.Code)
		case stderrors.As(err, &limited):
			r.metrics.RecordTokenRefresh(string(service), "rate_limited")
			r.logger.WarnWithContext(ctx, "token refresh rate limited",
				"user_id", userID, "service", string(service), "retry_after", limited.RetryAfter.String())
		case stderrors.As(err, &upstream):
			r.metrics.RecordTokenRefresh(string(service), "unavailable")
			r.logger.WarnWithContext(ctx, "token endpoint unavailable",
				"user_id", userID, "service", string(service), "status", upstream.StatusCode)
		default:
			r.metrics.RecordTokenRefresh(string(service), "error")
			r.logger.ErrorWithContext(ctx, "token refresh failed",
				"user_id", userID, "service", string(service), "error", err)
		}
		return nil, err
	}

	tok := &Token{
		Service:      service,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    grant.ExpiresAt(r.now()),
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	if err := r.persist(ctx, userID, tok); err != nil {
		r.metrics.RecordTokenRefresh(string(service), "error")
		return nil, err
	}

	r.metrics.RecordTokenRefresh(string(service), "success")
	r.logger.InfoWithContext(ctx, "token refreshed", "user_id", userID, "service", string(service))
	return tok, nil
}

// persist writes the flat columns and mirrors into the legacy blob only when
// the record already has one.
func (r *Refresher) persist(ctx context.Context, userID string, tok *Token) error {
	rec, err := r.store.GetCredential(ctx, userID, tok.Service)
	if stderrors.Is(err, errors.ErrNotFound) {
		rec = &models.CredentialRecord{UserID: userID, Service: tok.Service}
	} else if err != nil {
		return fmt.Errorf("load credential for refresh: %w", err)
	}

	rec.AccessToken = tok.AccessToken
	rec.RefreshToken = tok.RefreshToken
	rec.ExpiresAt = tok.ExpiresAt
	if rec.Settings != nil {
		rec.Settings.AccessToken = tok.AccessToken
		rec.Settings.RefreshToken = tok.RefreshToken
		rec.Settings.ExpiresAt = tok.ExpiresAt
	}

	if err := r.store.SaveCredential(ctx, rec); err != nil {
		return fmt.Errorf("save refreshed credential: %w", err)
	}
	return nil
}

// Connect exchanges an authorization code and stores a fresh record with flat
// columns only. A previous record for the pair is replaced.
func (r *Refresher) Connect(ctx context.Context, userID, code string) (*Token, error) {
	service := r.exchanger.Service()

	grant, err := r.exchanger.CodeGrant(ctx, code)
	if err != nil {
		r.logger.WarnWithContext(ctx, "authorization code exchange failed",
			"user_id", userID, "service", string(service), "error", err)
		return nil, err
	}

	rec := &models.CredentialRecord{
		UserID:       userID,
		Service:      service,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    grant.ExpiresAt(r.now()),
	}
	if existing, err := r.store.GetCredential(ctx, userID, service); err == nil {
		rec.CreatedAt = existing.CreatedAt
		if rec.RefreshToken == "" {
			rec.RefreshToken = Merge(existing).RefreshToken
		}
	} else if !stderrors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	if err := r.store.SaveCredential(ctx, rec); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}

	r.logger.InfoWithContext(ctx, "integration connected", "user_id", userID, "service", string(service))
	return &Token{
		Service:      service,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}
