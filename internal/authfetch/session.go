// Package authfetch issues third-party API calls on a user's behalf, refreshing
// the OAuth token at most once per session.
package authfetch

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crmhub/crmhub/internal/credentials"
	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/logging"
	"github.com/crmhub/crmhub/internal/metrics"
	"github.com/crmhub/crmhub/internal/models"
)

const maxBodyBytes = 10 << 20

var errNoRefreshToken = stderrors.New("no refresh token stored")

// State is the session's position in its lifecycle.
type State int

const (
	// Authorized holds a token that has not been refused yet.
	Authorized State = iota
	// Refreshing is the in-flight refresh exchange.
	Refreshing
	// Failed is terminal for the session.
	Failed
)

func (s State) String() string {
	switch s {
	case Authorized:
		return "authorized"
	case Refreshing:
		return "refreshing"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// TokenLoader is satisfied by *credentials.Loader.
type TokenLoader interface {
	Load(ctx context.Context, userID string, service models.Service) (*credentials.Token, error)
}

// TokenRefresher is satisfied by *credentials.Refresher.
type TokenRefresher interface {
	Refresh(ctx context.Context, userID, refreshToken string) (*credentials.Token, error)
}

// RequestFunc builds a fresh request for the given access token. It is called
// again for the retry, so request bodies must be rebuilt each time.
type RequestFunc func(ctx context.Context, accessToken string) (*http.Request, error)

// FailureHook is told when a session ends in Failed and the user must reconnect.
type FailureHook func(ctx context.Context, userID string, service models.Service, err error)

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Session is one user action against one integration.
type Session struct {
	userID       string
	service      models.Service
	loader       TokenLoader
	refresher    TokenRefresher
	client       *http.Client
	unauthorized UnauthorizedFunc
	logger       *logging.Logger
	metrics      *metrics.Metrics
	onFailed     FailureHook
	now          func() time.Time

	loaded    bool
	token     *credentials.Token
	state     State
	refreshed bool
	failure   error
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithHTTPClient sets the client used for API calls.
func WithHTTPClient(c *http.Client) SessionOption {
	return func(s *Session) {
		if c != nil {
			s.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithFailureHook sets the hook run when the session fails.
func WithFailureHook(h FailureHook) SessionOption {
	return func(s *Session) { s.onFailed = h }
}

// WithUnauthorized overrides the unauthorized detector.
func WithUnauthorized(f UnauthorizedFunc) SessionOption {
	return func(s *Session) {
		if f != nil {
			s.unauthorized = f
		}
	}
}

// NewSession creates a session. The token is loaded lazily on the first call.
func NewSession(userID string, service models.Service, loader TokenLoader, refresher TokenRefresher, opts ...SessionOption) *Session {
	s := &Session{
		userID:       userID,
		service:      service,
		loader:       loader,
		refresher:    refresher,
		client:       &http.Client{Timeout: 30 * time.Second},
		unauthorized: UnauthorizedFor(service),
		logger:       logging.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Service returns the integration this session talks to.
func (s *Session) Service() models.Service { return s.service }

// Do sends the request built by build. An unauthorized answer triggers one
// refresh and one retry for the whole session. 429 is returned as
// *errors.RateLimitError without retrying. Other statuses are returned as-is.
func (s *Session) Do(ctx context.Context, build RequestFunc) (*Response, error) {
	if s.state == Failed {
		return nil, s.failure
	}
	if err := s.ensureToken(ctx); err != nil {
		return nil, err
	}

	resp, err := s.send(ctx, build)
	if err != nil {
		return nil, err
	}

	if s.unauthorized(resp.StatusCode, resp.Body) {
		if s.refreshed {
			return nil, s.fail(ctx, &ReconnectRequiredError{
				Service: s.service,
				Status:  models.TokenStatusRefreshFailed,
				Err:     fmt.Errorf("%s refused the refreshed token", s.service),
			})
		}
		s.logger.InfoWithContext(ctx, "access token refused, refreshing",
			"user_id", s.userID, "service", string(s.service), "status", resp.StatusCode)
		if err := s.refresh(ctx); err != nil {
			return nil, err
		}
		resp, err = s.send(ctx, build)
		if err != nil {
			return nil, err
		}
		if s.unauthorized(resp.StatusCode, resp.Body) {
			return nil, s.fail(ctx, &ReconnectRequiredError{
				Service: s.service,
				Status:  models.TokenStatusRefreshFailed,
				Err:     fmt.Errorf("%s refused the refreshed token", s.service),
			})
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.RateLimitFromHeaders(string(s.service), resp.Header, s.now())
	}
	return resp, nil
}

// DoJSON calls Do and decodes a 2xx body into out. Non-2xx answers become
// *errors.ErrUpstream.
func (s *Session) DoJSON(ctx context.Context, build RequestFunc, out any) error {
	resp, err := s.Do(ctx, build)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &errors.ErrUpstream{Service: string(s.service), StatusCode: resp.StatusCode, Body: snippet(resp.Body)}
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", s.service, err)
	}
	return nil
}

func (s *Session) ensureToken(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	tok, err := s.loader.Load(ctx, s.userID, s.service)
	if err != nil {
		return err
	}
	s.loaded = true
	s.token = tok
	if tok == nil {
		return s.fail(ctx, &ReconnectRequiredError{
			Service: s.service,
			Status:  models.TokenStatusMissing,
			Err:     errors.ErrNotConnected,
		})
	}
	if tok.Usable(s.now()) {
		s.state = Authorized
		return nil
	}
	return s.refresh(ctx)
}

func (s *Session) refresh(ctx context.Context) error {
	s.state = Refreshing
	s.refreshed = true

	if !s.token.CanRefresh() {
		return s.fail(ctx, &ReconnectRequiredError{
			Service: s.service,
			Status:  models.TokenStatusRefreshFailed,
			Err:     errNoRefreshToken,
		})
	}

	tok, err := s.refresher.Refresh(ctx, s.userID, s.token.RefreshToken)
	if err != nil {
		var rejected *credentials.RefreshRejectedError
		if stderrors.As(err, &rejected) {
			return s.fail(ctx, &ReconnectRequiredError{
				Service: s.service,
				Status:  models.TokenStatusRefreshFailed,
				Err:     err,
			})
		}
		return s.fail(ctx, err)
	}
	s.token = tok
	s.state = Authorized
	return nil
}

func (s *Session) fail(ctx context.Context, err error) error {
	s.state = Failed
	s.failure = err
	s.logger.WarnWithContext(ctx, "integration session failed",
		"user_id", s.userID, "service", string(s.service), "error", err)
	var reconnect *ReconnectRequiredError
	if s.onFailed != nil && stderrors.As(err, &reconnect) {
		s.onFailed(ctx, s.userID, s.service, err)
	}
	return err
}

func (s *Session) send(ctx context.Context, build RequestFunc) (*Response, error) {
	req, err := build(ctx, s.token.AccessToken)
	if err != nil {
		return nil, err
	}
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+s.token.AccessToken)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if cid := logging.GetCorrelationID(ctx); cid != "" {
		req.Header.Set("X-Correlation-ID", cid)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.RecordUpstream(string(s.service), 0, time.Since(start).Seconds())
		return nil, fmt.Errorf("%s request: %w", s.service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	s.metrics.RecordUpstream(string(s.service), resp.StatusCode, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", s.service, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}
