package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/fortnox"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/syncer"
)

const maxInvoiceYears = 10

// SyncCustomersRequest is the optional body of POST /api/fortnox/sync/customers.
type SyncCustomersRequest struct {
	FetchDetails *bool `json:"fetchDetails,omitempty"`
}

// SyncInvoicesRequest is the optional body of POST /api/fortnox/sync/invoices.
// Without years the current year is synced.
type SyncInvoicesRequest struct {
	FromYear int `json:"fromYear,omitempty"`
	ToYear   int `json:"toYear,omitempty"`
}

func (s *Server) fortnoxClient(c *gin.Context) (*fortnox.Client, bool) {
	if !s.requireDep(c, s.deps.Sessions != nil && s.deps.Syncer != nil, "fortnox sync") {
		return nil, false
	}
	session, err := s.deps.Sessions.Session(userID(c), models.ServiceFortnox)
	if err != nil {
		writeError(c, s.logger, err)
		return nil, false
	}
	return fortnox.New(session, s.cfg.Integrations.Fortnox, fortnox.WithMetrics(s.metrics)), true
}

func (s *Server) handleSyncCustomers(c *gin.Context) {
	var req SyncCustomersRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, s.logger, &errors.ErrValidation{Field: "body", Message: err.Error()})
			return
		}
	}
	client, ok := s.fortnoxClient(c)
	if !ok {
		return
	}
	opts := syncer.CustomerOptions{FetchDetails: true}
	if req.FetchDetails != nil {
		opts.FetchDetails = *req.FetchDetails
	}

	setAuditResource(c, "customers")
	report, err := s.deps.Syncer.SyncCustomers(c.Request.Context(), client, workspaceID(c), userID(c), opts)
	if report != nil {
		addAuditDetail(c, "created", report.Created)
		addAuditDetail(c, "updated", report.Updated)
	}
	if err != nil {
		writeErrorDetails(c, s.logger, err, report)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

func (s *Server) handleSyncInvoices(c *gin.Context) {
	var req SyncInvoicesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, s.logger, &errors.ErrValidation{Field: "body", Message: err.Error()})
			return
		}
	}
	year := s.now().Year()
	if req.ToYear == 0 {
		req.ToYear = year
	}
	if req.FromYear == 0 {
		req.FromYear = req.ToYear
	}
	if req.ToYear > year+1 || req.FromYear < 2000 {
		writeError(c, s.logger, &errors.ErrValidation{Field: "years", Message: "years must be between 2000 and next year"})
		return
	}
	if req.ToYear-req.FromYear >= maxInvoiceYears {
		writeError(c, s.logger, &errors.ErrValidation{Field: "years", Message: "at most 10 years per sync"})
		return
	}

	client, ok := s.fortnoxClient(c)
	if !ok {
		return
	}
	setAuditResource(c, "invoices")
	report, err := s.deps.Syncer.SyncInvoices(c.Request.Context(), client, workspaceID(c), userID(c), req.FromYear, req.ToYear)
	if report != nil {
		addAuditDetail(c, "upserted", report.Upserted)
	}
	if err != nil {
		writeErrorDetails(c, s.logger, err, report)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report, "syncedAt": s.now().Format(time.RFC3339)})
}
