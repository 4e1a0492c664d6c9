package api

import (
	stderrors "errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/crmhub/crmhub/internal/authfetch"
	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/logging"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error       string `json:"error"`
	Details     any    `json:"details,omitempty"`
	TokenStatus string `json:"tokenStatus,omitempty"`
	RetryAfter  int    `json:"retryAfter,omitempty"`
}

// writeError maps err onto a status code and writes the envelope.
func writeError(c *gin.Context, logger *logging.Logger, err error) {
	writeErrorDetails(c, logger, err, nil)
}

// writeErrorDetails is writeError with a partial result attached.
func writeErrorDetails(c *gin.Context, logger *logging.Logger, err error, details any) {
	status, body := classify(err)
	if details != nil {
		if own, ok := body.Details.(gin.H); ok {
			own["partial"] = details
		} else if body.Details == nil {
			body.Details = details
		}
	}
	if status == http.StatusTooManyRequests && body.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(body.RetryAfter))
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		if logger != nil {
			logger.ErrorWithContext(c.Request.Context(), "request failed",
				"path", c.FullPath(),
				"error", err,
			)
		}
	}
	c.JSON(status, body)
}

func classify(err error) (int, ErrorResponse) {
	var (
		validation *errors.ErrValidation
		reconnect  *authfetch.ReconnectRequiredError
		rateLimit  *errors.RateLimitError
		missing    *errors.ErrMissingEnv
		upstream   *errors.ErrUpstream
	)
	switch {
	case stderrors.As(err, &validation):
		resp := ErrorResponse{Error: validation.Error()}
		if validation.Field != "" {
			resp.Details = gin.H{"field": validation.Field}
		}
		return http.StatusBadRequest, resp

	case stderrors.As(err, &reconnect):
		return http.StatusUnauthorized, ErrorResponse{
			Error:       "please reconnect to the integration",
			Details:     gin.H{"service": reconnect.Service},
			TokenStatus: string(reconnect.Status),
		}

	case stderrors.Is(err, errors.ErrNotConnected):
		return http.StatusUnauthorized, ErrorResponse{Error: err.Error(), TokenStatus: "missing"}

	case stderrors.Is(err, errors.ErrUnauthorized):
		return http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"}

	case stderrors.Is(err, errors.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Error: "forbidden"}

	case stderrors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not found"}

	case stderrors.As(err, &rateLimit):
		return http.StatusTooManyRequests, ErrorResponse{
			Error:      rateLimit.Error(),
			RetryAfter: int(math.Ceil(rateLimit.RetryAfter.Seconds())),
		}

	case stderrors.As(err, &missing):
		return http.StatusInternalServerError, ErrorResponse{
			Error:   "server is not configured",
			Details: gin.H{"missing": missing.Names},
		}

	case stderrors.As(err, &upstream):
		details := gin.H{"service": upstream.Service, "status": upstream.StatusCode}
		if upstream.Transient() {
			details["transient"] = true
			return http.StatusBadGateway, ErrorResponse{Error: "upstream temporarily unavailable", Details: details}
		}
		return http.StatusInternalServerError, ErrorResponse{Error: "upstream request failed", Details: details}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal server error"}
}
