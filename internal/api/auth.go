package api

import (
	"crypto/subtle"
	stderrors "errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/logging"
)

const (
	ctxUserID      = "user_id"
	ctxWorkspaceID = "workspace_id"

	// WorkspaceHeader selects the workspace for sync endpoints.
	WorkspaceHeader = "X-Workspace-ID"
	// CronSecretHeader carries the shared cron secret.
	CronSecretHeader = "X-Cron-Secret"
)

// SessionClaims are the fields read from the auth provider's access token.
type SessionClaims struct {
	Email       string      `json:"email,omitempty"`
	Role        string      `json:"role,omitempty"`
	AppMetadata AppMetadata `json:"app_metadata,omitempty"`
	jwt.RegisteredClaims
}

// AppMetadata is the server-controlled part of the token. Users cannot edit it.
type AppMetadata struct {
	Workspaces []string `json:"workspaces,omitempty"`
}

// MemberOf reports whether the session may act in workspace. Every user owns
// the workspace named after their own ID.
func (c *SessionClaims) MemberOf(workspace string) bool {
	if workspace == c.Subject {
		return true
	}
	for _, ws := range c.AppMetadata.Workspaces {
		if ws == workspace {
			return true
		}
	}
	return false
}

// SessionVerifier checks HS256 session tokens issued by the auth provider.
type SessionVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewSessionVerifier creates a verifier. Audience and issuer are checked when set.
func NewSessionVerifier(cfg config.AuthConfig) *SessionVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &SessionVerifier{secret: []byte(cfg.JWTSecret), parser: jwt.NewParser(opts...)}
}

// Verify parses raw and returns its claims.
func (v *SessionVerifier) Verify(raw string) (*SessionClaims, error) {
	if len(v.secret) == 0 {
		return nil, &errors.ErrMissingEnv{Names: []string{"api.auth.jwt_secret"}}
	}
	claims := &SessionClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// SessionAuth rejects requests without a valid bearer session token and
// stores the user and workspace IDs in the context. A workspace header is
// honoured only for workspaces listed in the token's app_metadata.
func SessionAuth(v *SessionVerifier, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			writeError(c, logger, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, err := v.Verify(raw)
		if err != nil {
			var missing *errors.ErrMissingEnv
			if stderrors.As(err, &missing) {
				writeError(c, logger, err)
			} else {
				logger.WarnWithContext(c.Request.Context(), "session token rejected",
					"client_ip", c.ClientIP(),
					"path", c.Request.URL.Path,
					"error", err,
				)
				writeError(c, logger, errors.ErrUnauthorized)
			}
			c.Abort()
			return
		}

		workspace := strings.TrimSpace(c.GetHeader(WorkspaceHeader))
		if workspace == "" {
			workspace = claims.Subject
		}
		if !claims.MemberOf(workspace) {
			logger.WarnWithContext(c.Request.Context(), "workspace access denied",
				"user_id", claims.Subject,
				"workspace_id", workspace,
				"client_ip", c.ClientIP(),
			)
			writeError(c, logger, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxWorkspaceID, workspace)
		c.Request = c.Request.WithContext(logging.WithUserID(c.Request.Context(), claims.Subject))
		c.Next()
	}
}

// CronAuth accepts the shared secret from the X-Cron-Secret header, a bearer
// token or the "secret" query parameter.
func CronAuth(cfg config.ReportsConfig, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := cfg.RequireCron(); err != nil {
			writeError(c, logger, err)
			c.Abort()
			return
		}
		got := c.GetHeader(CronSecretHeader)
		if got == "" {
			got, _ = bearerToken(c.GetHeader("Authorization"))
		}
		if got == "" {
			got = c.Query("secret")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(cfg.CronSecret)) != 1 {
			logger.WarnWithContext(c.Request.Context(), "cron secret rejected", "client_ip", c.ClientIP())
			writeError(c, logger, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func userID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func workspaceID(c *gin.Context) string {
	return c.GetString(ctxWorkspaceID)
}
