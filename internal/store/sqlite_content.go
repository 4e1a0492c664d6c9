package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"

	"github.com/google/uuid"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
)

const contentColumns = `id, user_id, title, content, meta_description, keywords, image_url, image_credit,
	blog_post_url, published_to_blog, is_test_post, published_at, created_at, updated_at`

// GetContent loads one generated_content row.
func (s *SQLiteStore) GetContent(ctx context.Context, id string) (*models.GeneratedContent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM generated_content WHERE id = ?`, id)
	c, err := scanContent(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get content", Err: err}
	}
	return c, nil
}

// SaveContent inserts or updates a generated_content row.
func (s *SQLiteStore) SaveContent(ctx context.Context, c *models.GeneratedContent) error {
	if err := c.Validate(); err != nil {
		return &errors.ErrValidation{Message: err.Error()}
	}
	keywords, err := json.Marshal(nonNil(c.Keywords))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generated_content (`+contentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			meta_description = excluded.meta_description,
			keywords = excluded.keywords,
			image_url = excluded.image_url,
			image_credit = excluded.image_credit,
			blog_post_url = excluded.blog_post_url,
			published_to_blog = excluded.published_to_blog,
			is_test_post = excluded.is_test_post,
			published_at = excluded.published_at,
			updated_at = excluded.updated_at
	`, c.ID, c.UserID, c.Title, c.Body, c.MetaDescription, string(keywords), c.ImageURL, c.ImageCredit,
		c.BlogPostURL, c.PublishedToBlog, c.IsTestPost, nullTime(c.PublishedAt), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "save content", Err: err}
	}
	return nil
}

// ListPublishedContent returns published rows, newest first. limit <= 0 means no limit.
func (s *SQLiteStore) ListPublishedContent(ctx context.Context, limit int) ([]*models.GeneratedContent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contentColumns+` FROM generated_content
		WHERE published_to_blog = 1
		ORDER BY COALESCE(published_at, created_at) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list published content", Err: err}
	}
	defer rows.Close()

	var out []*models.GeneratedContent
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan content", Err: err}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FindPublishedBySlug returns the newest published row whose URL ends in "/"+slug.
// Callers must pass a slug without LIKE wildcards.
func (s *SQLiteStore) FindPublishedBySlug(ctx context.Context, slug string) (*models.GeneratedContent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+contentColumns+` FROM generated_content
		WHERE published_to_blog = 1 AND (blog_post_url = ? OR blog_post_url LIKE '%/' || ?)
		ORDER BY COALESCE(published_at, created_at) DESC
		LIMIT 1
	`, slug, slug)
	c, err := scanContent(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "find content by slug", Err: err}
	}
	return c, nil
}

// DeleteTestPosts removes the user's test rows and returns what was deleted.
// The title test mirrors models.GeneratedContent.LooksLikeTestPost.
func (s *SQLiteStore) DeleteTestPosts(ctx context.Context, userID string) ([]models.DeletedPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM generated_content
		WHERE user_id = ? AND (is_test_post = 1 OR lower(trim(title)) = 'test post' OR lower(trim(title)) LIKE 'test post %')
		RETURNING id, title
	`, userID)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "delete test posts", Err: err}
	}
	defer rows.Close()

	deleted := []models.DeletedPost{}
	for rows.Next() {
		var d models.DeletedPost
		if err := rows.Scan(&d.ID, &d.Title); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan deleted post", Err: err}
		}
		deleted = append(deleted, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "delete test posts", Err: err}
	}
	return deleted, nil
}

func scanContent(row rowScanner) (*models.GeneratedContent, error) {
	var (
		c           models.GeneratedContent
		keywords    string
		publishedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Body, &c.MetaDescription, &keywords, &c.ImageURL, &c.ImageCredit,
		&c.BlogPostURL, &c.PublishedToBlog, &c.IsTestPost, &publishedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if keywords != "" {
		if err := json.Unmarshal([]byte(keywords), &c.Keywords); err != nil {
			return nil, err
		}
	}
	c.PublishedAt = timePtr(publishedAt)
	return &c, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
