package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/searchconsole"
)

const dateLayout = "2006-01-02"

func (s *Server) handleAnalytics(c *gin.Context) {
	if !s.requireDep(c, s.deps.Sessions != nil, "search console") {
		return
	}
	q, err := s.analyticsQuery(c)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}

	session, err := s.deps.Sessions.Session(userID(c), models.ServiceGoogle)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	client := searchconsole.New(session, s.cfg.Integrations.Google, s.cfg.Integrations.SearchConsole, s.metrics)

	res, err := client.Query(c.Request.Context(), q)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	if res.Err != nil && len(res.Items) == 0 {
		writeError(c, s.logger, res.Err)
		return
	}

	body := gin.H{
		"rows":      nonNilRows(res.Items),
		"totals":    searchconsole.Totals(res.Items),
		"pages":     res.Pages,
		"partial":   !res.Complete(),
		"startDate": q.StartDate.Format(dateLayout),
		"endDate":   q.EndDate.Format(dateLayout),
	}
	if res.Err != nil {
		body["error"] = res.Err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) analyticsQuery(c *gin.Context) (searchconsole.Query, error) {
	q := searchconsole.Query{SiteURL: strings.TrimSpace(c.Query("siteUrl"))}

	end := s.now().AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -27)
	var err error
	if raw := c.Query("startDate"); raw != "" {
		if start, err = time.Parse(dateLayout, raw); err != nil {
			return q, &errors.ErrValidation{Field: "startDate", Message: "must be YYYY-MM-DD"}
		}
	}
	if raw := c.Query("endDate"); raw != "" {
		if end, err = time.Parse(dateLayout, raw); err != nil {
			return q, &errors.ErrValidation{Field: "endDate", Message: "must be YYYY-MM-DD"}
		}
	}
	q.StartDate, q.EndDate = start, end

	if raw := c.Query("dimensions"); raw != "" {
		for _, d := range strings.Split(raw, ",") {
			if d = strings.TrimSpace(d); d != "" {
				q.Dimensions = append(q.Dimensions, d)
			}
		}
	}
	if q.RowLimit, err = intQuery(c, "rowLimit"); err != nil {
		return q, err
	}
	if q.MaxRows, err = intQuery(c, "maxRows"); err != nil {
		return q, err
	}
	return q, nil
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &errors.ErrValidation{Field: name, Message: "must be a non-negative integer"}
	}
	return n, nil
}

func nonNilRows(rows []models.SearchAnalyticsRow) []models.SearchAnalyticsRow {
	if rows == nil {
		return []models.SearchAnalyticsRow{}
	}
	return rows
}
