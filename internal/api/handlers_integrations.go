package api

import (
	stderrors "errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
)

func (s *Server) integration(c *gin.Context) (models.Service, Integration, bool) {
	service, err := models.ParseService(c.Param("service"))
	if err != nil {
		writeError(c, s.logger, &errors.ErrValidation{Field: "service", Message: err.Error()})
		return "", Integration{}, false
	}
	in, ok := s.deps.Integrations[service]
	if !ok || in.Client == nil || in.Refresher == nil {
		writeError(c, s.logger, errors.ErrNotFound)
		return "", Integration{}, false
	}
	return service, in, true
}

func (s *Server) handleIntegrationConnect(c *gin.Context) {
	service, in, ok := s.integration(c)
	if !ok || !s.requireDep(c, s.deps.State != nil, "oauth state") {
		return
	}
	state, err := s.deps.State.Sign(userID(c), service)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	authURL, err := in.Client.AuthorizeURL(state)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	if c.Query("redirect") == "true" {
		c.Redirect(http.StatusFound, authURL)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": authURL})
}

func (s *Server) handleIntegrationCallback(c *gin.Context) {
	service, in, ok := s.integration(c)
	if !ok || !s.requireDep(c, s.deps.State != nil, "oauth state") {
		return
	}
	ctx := c.Request.Context()

	if providerErr := c.Query("error"); providerErr != "" {
		s.logger.WarnWithContext(ctx, "oauth authorization denied", "service", service, "error", providerErr)
		s.finishCallback(c, service, "denied", &errors.ErrValidation{Field: "error", Message: providerErr})
		return
	}
	code := c.Query("code")
	if code == "" {
		s.finishCallback(c, service, "error", &errors.ErrValidation{Field: "code", Message: "is required"})
		return
	}
	user, err := s.deps.State.Verify(c.Query("state"), service)
	if err != nil {
		s.finishCallback(c, service, "error", err)
		return
	}
	c.Set(ctxAuditUser, user)
	if _, err := in.Refresher.Connect(ctx, user, code); err != nil {
		s.finishCallback(c, service, "error", err)
		return
	}
	s.logger.InfoWithContext(ctx, "integration connected", "service", service, "user_id", user)
	s.finishCallback(c, service, "connected", nil)
}

// finishCallback redirects back to the app when a success URL is configured,
// otherwise it answers with JSON.
func (s *Server) finishCallback(c *gin.Context, service models.Service, status string, err error) {
	setAuditResource(c, string(service))
	auditFailure(c, err)
	target := s.cfg.Integrations.SuccessURL
	if target == "" {
		if err != nil {
			writeError(c, s.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"connected": true, "service": service, "tokenStatus": models.TokenStatusValid})
		return
	}
	if err != nil {
		s.logger.WarnWithContext(c.Request.Context(), "oauth callback failed", "service", service, "error", err)
	}
	u, perr := url.Parse(target)
	if perr != nil {
		writeError(c, s.logger, perr)
		return
	}
	q := u.Query()
	q.Set("integration", string(service))
	q.Set("status", status)
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}

func (s *Server) handleIntegrationStatus(c *gin.Context) {
	service, err := models.ParseService(c.Param("service"))
	if err != nil {
		writeError(c, s.logger, &errors.ErrValidation{Field: "service", Message: err.Error()})
		return
	}
	rec, err := s.deps.Store.GetCredential(c.Request.Context(), userID(c), service)
	if err != nil && !stderrors.Is(err, errors.ErrNotFound) {
		writeError(c, s.logger, err)
		return
	}
	status := rec.Status(s.now())
	body := gin.H{
		"service":     service,
		"tokenStatus": status,
		"connected":   status != models.TokenStatusMissing,
	}
	if rec != nil {
		body["expiresAt"] = rec.ExpiresAt
		body["legacySettings"] = rec.HasBlob()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleIntegrationDisconnect(c *gin.Context) {
	service, err := models.ParseService(c.Param("service"))
	if err != nil {
		writeError(c, s.logger, &errors.ErrValidation{Field: "service", Message: err.Error()})
		return
	}
	setAuditResource(c, string(service))
	err = s.deps.Store.DeleteCredential(c.Request.Context(), userID(c), service)
	if err != nil && !stderrors.Is(err, errors.ErrNotFound) {
		writeError(c, s.logger, err)
		return
	}
	s.logger.InfoWithContext(c.Request.Context(), "integration disconnected", "service", service, "user_id", userID(c))
	c.JSON(http.StatusOK, gin.H{"disconnected": true, "service": service})
}
