package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/crmhub/crmhub/internal/errors"
)

// PublishRequest is the body of POST /api/blog/publish.
type PublishRequest struct {
	ContentID string `json:"contentId"`
}

func (s *Server) handleListPosts(c *gin.Context) {
	if !s.requireDep(c, s.deps.Blog != nil, "blog") {
		return
	}
	ctx := c.Request.Context()

	if slug := strings.TrimSpace(c.Query("slug")); slug != "" {
		post, err := s.deps.Blog.BySlug(ctx, slug)
		if err != nil {
			writeError(c, s.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"post": post})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, s.logger, &errors.ErrValidation{Field: "limit", Message: "must be a non-negative integer"})
			return
		}
		limit = n
	}
	posts, err := s.deps.Blog.List(ctx, limit)
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts, "count": len(posts)})
}

func (s *Server) handlePublish(c *gin.Context) {
	if !s.requireDep(c, s.deps.Blog != nil, "blog") {
		return
	}
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.logger, &errors.ErrValidation{Field: "body", Message: err.Error()})
		return
	}
	setAuditResource(c, strings.TrimSpace(req.ContentID))
	post, err := s.deps.Blog.Publish(c.Request.Context(), userID(c), strings.TrimSpace(req.ContentID))
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "post": post})
}

func (s *Server) handleDeleteTestPosts(c *gin.Context) {
	if !s.requireDep(c, s.deps.Blog != nil, "blog") {
		return
	}
	if c.Query("isTestPost") != "true" {
		writeError(c, s.logger, &errors.ErrValidation{Field: "isTestPost", Message: "must be true"})
		return
	}
	deleted, err := s.deps.Blog.DeleteTestPosts(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, s.logger, err)
		return
	}
	addAuditDetail(c, "deleted", len(deleted))
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted, "count": len(deleted)})
}
