package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crmhub/crmhub/internal/logging"
)

const (
	ctxAuditUser     = "audit_user"
	ctxAuditResource = "audit_resource"
	ctxAuditDetails  = "audit_details"
	ctxAuditError    = "audit_error"
)

// auditAction records one audit event per request once the handler is done.
// Handlers enrich it through setAuditResource, addAuditDetail and auditFailure.
func auditAction(sink logging.AuditSink, eventType logging.AuditEventType, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if sink == nil {
			return
		}

		status := c.Writer.Status()
		event := logging.NewAuditEvent(eventType, action, logging.StatusSuccess).
			WithIPAddress(c.ClientIP()).
			WithDetails(map[string]interface{}{"http_status": status})

		if user := c.GetString(ctxUserID); user != "" {
			event.WithUserID(user)
		} else if user := c.GetString(ctxAuditUser); user != "" {
			event.WithUserID(user)
		}
		if resource := c.GetString(ctxAuditResource); resource != "" {
			event.WithResource(resource)
		}
		if v, ok := c.Get(ctxAuditDetails); ok {
			if details, ok := v.(map[string]interface{}); ok {
				event.WithDetails(details)
			}
		}

		switch {
		case c.GetString(ctxAuditError) != "":
			event.WithError(c.GetString(ctxAuditError))
		case status >= http.StatusBadRequest:
			msg := http.StatusText(status)
			if last := c.Errors.Last(); last != nil {
				msg = last.Error()
			}
			event.WithError(msg)
		}
		if status >= http.StatusInternalServerError {
			event.Severity = logging.SeverityError
		}

		sink.Record(c.Request.Context(), event)
	}
}

func setAuditResource(c *gin.Context, resource string) {
	c.Set(ctxAuditResource, resource)
}

func addAuditDetail(c *gin.Context, key string, value interface{}) {
	details, _ := c.Get(ctxAuditDetails)
	m, ok := details.(map[string]interface{})
	if !ok {
		m = make(map[string]interface{})
		c.Set(ctxAuditDetails, m)
	}
	m[key] = value
}

// auditFailure marks the event failed when the response status cannot tell,
// as with OAuth callbacks that redirect on error.
func auditFailure(c *gin.Context, err error) {
	if err != nil {
		c.Set(ctxAuditError, err.Error())
	}
}
