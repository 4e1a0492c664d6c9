package credentials

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
)

// Grant is a successful token endpoint response.
type Grant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// ExpiresAt converts expires_in into an absolute UTC timestamp.
func (g *Grant) ExpiresAt(now time.Time) *time.Time {
	if g == nil || g.ExpiresIn <= 0 {
		return nil
	}
	t := now.Add(time.Duration(g.ExpiresIn) * time.Second).UTC()
	return &t
}

// RefreshRejectedError is a non-200 answer from the provider's token endpoint.
type RefreshRejectedError struct {
	Service     models.Service
	StatusCode  int
	Code        string
	Description string
}

func (e *RefreshRejectedError) Error() string {
	msg := fmt.Sprintf("%s token endpoint returned %d", e.Service, e.StatusCode)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

// TokenExchanger talks to one provider's OAuth endpoints.
type TokenExchanger interface {
	Service() models.Service
	RefreshGrant(ctx context.Context, refreshToken string) (*Grant, error)
	CodeGrant(ctx context.Context, code string) (*Grant, error)
}

// OAuthClient implements TokenExchanger for Fortnox and Google on top of
// golang.org/x/oauth2.
type OAuthClient struct {
	service models.Service
	cfg     config.ProviderConfig
	oauth   *oauth2.Config
	client  *http.Client
	now     func() time.Time
}

// NewOAuthClient creates a client. A nil httpClient gets one with cfg.Timeout.
func NewOAuthClient(service models.Service, cfg config.ProviderConfig, httpClient *http.Client) *OAuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	// Fortnox wants HTTP Basic client auth; Google takes the client in the form.
	style := oauth2.AuthStyleInParams
	if service == models.ServiceFortnox {
		style = oauth2.AuthStyleInHeader
	}
	return &OAuthClient{
		service: service,
		cfg:     cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: style,
			},
		},
		client: httpClient,
		now:    time.Now,
	}
}

func (c *OAuthClient) Service() models.Service { return c.service }

// AuthorizeURL builds the consent screen URL carrying state.
func (c *OAuthClient) AuthorizeURL(state string) (string, error) {
	if err := c.cfg.Require(string(c.service)); err != nil {
		return "", err
	}
	if _, err := url.Parse(c.cfg.AuthURL); err != nil {
		return "", &errors.ErrConfigValidation{Err: fmt.Errorf("%s auth_url: %w", c.service, err)}
	}

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if c.service == models.ServiceGoogle {
		opts = append(opts, oauth2.ApprovalForce, oauth2.SetAuthURLParam("include_granted_scopes", "true"))
	}
	return c.oauth.AuthCodeURL(state, opts...), nil
}

// RefreshGrant exchanges a refresh token. Google omits refresh_token in the
// response; the old one is carried over in that case.
func (c *OAuthClient) RefreshGrant(ctx context.Context, refreshToken string) (*Grant, error) {
	if refreshToken == "" {
		return nil, &errors.ErrValidation{Field: "refresh_token", Message: "is empty"}
	}
	if err := c.cfg.Require(string(c.service)); err != nil {
		return nil, err
	}
	tok, err := c.oauth.TokenSource(c.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, c.mapError(err)
	}
	return c.grant(tok), nil
}

// CodeGrant exchanges an authorization code from the callback.
func (c *OAuthClient) CodeGrant(ctx context.Context, code string) (*Grant, error) {
	if code == "" {
		return nil, &errors.ErrValidation{Field: "code", Message: "is required"}
	}
	if err := c.cfg.Require(string(c.service)); err != nil {
		return nil, err
	}
	tok, err := c.oauth.Exchange(c.httpContext(ctx), code)
	if err != nil {
		return nil, c.mapError(err)
	}
	return c.grant(tok), nil
}

func (c *OAuthClient) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.client)
}

func (c *OAuthClient) grant(tok *oauth2.Token) *Grant {
	g := &Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		g.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second) / time.Second)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		g.Scope = scope
	}
	return g
}

func (c *OAuthClient) mapError(err error) error {
	var re *oauth2.RetrieveError
	if !stderrors.As(err, &re) || re.Response == nil {
		return fmt.Errorf("%s token endpoint: %w", c.service, err)
	}
	if re.Response.StatusCode == http.StatusTooManyRequests {
		return errors.RateLimitFromHeaders(string(c.service), re.Response.Header, c.now())
	}
	// A provider outage says nothing about the refresh token itself.
	if re.Response.StatusCode >= http.StatusInternalServerError {
		return &errors.ErrUpstream{
			Service:    string(c.service),
			StatusCode: re.Response.StatusCode,
			Body:       snippet(re.Body),
		}
	}
	rej := rejected(c.service, re.Response.StatusCode, re.Body)
	if re.ErrorCode != "" {
		rej.Code = re.ErrorCode
	}
	if re.ErrorDescription != "" {
		rej.Description = re.ErrorDescription
	}
	return rej
}

func rejected(service models.Service, status int, body []byte) *RefreshRejectedError {
	e := &RefreshRejectedError{Service: service, StatusCode: status}
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Code = payload.Error
		e.Description = payload.ErrorDescription
	}
	return e
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

var _ TokenExchanger = (*OAuthClient)(nil)
