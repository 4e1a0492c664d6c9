// Package credentials loads, refreshes and migrates per-user OAuth tokens for
// the Fortnox and Google integrations.
package credentials

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/store"
)

// Token is the merged, usable view of a CredentialRecord.
type Token struct {
	Service      models.Service
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// Usable reports whether the access token can be sent without refreshing first.
func (t *Token) Usable(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.ExpiresAt == nil || t.ExpiresAt.After(now)
}

// CanRefresh reports whether a refresh grant can be attempted.
func (t *Token) CanRefresh() bool {
	return t != nil && t.RefreshToken != ""
}

// Merge combines flat columns and the legacy blob field by field.
// A non-empty flat column always wins; the blob only fills gaps.
func Merge(rec *models.CredentialRecord) *Token {
	if rec == nil {
		return nil
	}
	tok := &Token{
		Service:      rec.Service,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt,
	}
	if blob := rec.Settings; blob != nil {
		if tok.AccessToken == "" {
			tok.AccessToken = blob.AccessToken
		}
		if tok.RefreshToken == "" {
			tok.RefreshToken = blob.RefreshToken
		}
		if tok.ExpiresAt == nil {
			tok.ExpiresAt = blob.ExpiresAt
		}
	}
	return tok
}

// Loader reads the freshest known token for a (user, service) pair.
type Loader struct {
	store store.CredentialStore
	now   func() time.Time
}

// NewLoader creates a Loader over the credential store.
func NewLoader(s store.CredentialStore) *Loader {
	return &Loader{store: s, now: time.Now}
}

// Load returns the merged token. It returns (nil, nil) when the user has no
// record or the record carries nothing usable, and a refresh-only token when
// the access token is absent or past expires_at.
func (l *Loader) Load(ctx context.Context, userID string, service models.Service) (*Token, error) {
	rec, err := l.store.GetCredential(ctx, userID, service)
	if stderrors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tok := Merge(rec)
	if tok.AccessToken != "" && tok.ExpiresAt != nil && !tok.ExpiresAt.After(l.now()) {
		tok.AccessToken = ""
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, nil
	}
	return tok, nil
}
