package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleSendReports(c *gin.Context) {
	if !s.requireDep(c, s.deps.Reports != nil, "reports") {
		return
	}
	res, err := s.deps.Reports.Run(c.Request.Context())
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	addAuditDetail(c, "processed", res.Processed)
	addAuditDetail(c, "failed", res.Failed)
	c.JSON(http.StatusOK, res)
}
