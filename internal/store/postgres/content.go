package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
)

const contentColumns = `id, user_id, title, content, meta_description, keywords, image_url, image_credit, blog_post_url, published_to_blog, is_test_post, published_at, created_at, updated_at`

// GetContent selects one generated_content row.
func (s *Store) GetContent(ctx context.Context, id string) (*models.GeneratedContent, error) {
	c, err := scanContent(s.Pool.QueryRow(ctx, `SELECT `+contentColumns+` FROM generated_content WHERE id=$1`, id))
	if isNoRows(err) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get content", Err: err}
	}
	return c, nil
}

// SaveContent upserts a generated_content row by ID.
func (s *Store) SaveContent(ctx context.Context, c *models.GeneratedContent) error {
	if err := c.Validate(); err != nil {
		return &errors.ErrValidation{Message: err.Error()}
	}
	keywords := c.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	kw, err := json.Marshal(keywords)
	if err != nil {
		return err
	}

	now := s.now()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	const q = `
INSERT INTO generated_content (` + contentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
  title = EXCLUDED.title,
  content = EXCLUDED.content,
  meta_description = EXCLUDED.meta_description,
  keywords = EXCLUDED.keywords,
  image_url = EXCLUDED.image_url,
  image_credit = EXCLUDED.image_credit,
  blog_post_url = EXCLUDED.blog_post_url,
  published_to_blog = EXCLUDED.published_to_blog,
  is_test_post = EXCLUDED.is_test_post,
  published_at = EXCLUDED.published_at,
  updated_at = EXCLUDED.updated_at`
	_, err = s.Pool.Exec(ctx, q, c.ID, c.UserID, c.Title, c.Body, c.MetaDescription, kw, c.ImageURL, c.ImageCredit,
		c.BlogPostURL, c.PublishedToBlog, c.IsTestPost, timestamptz(c.PublishedAt), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "save content", Err: err}
	}
	return nil
}

// ListPublishedContent returns published rows, newest first. limit <= 0 means all.
func (s *Store) ListPublishedContent(ctx context.Context, limit int) ([]*models.GeneratedContent, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	const q = `
SELECT ` + contentColumns + ` FROM generated_content
WHERE published_to_blog
ORDER BY COALESCE(published_at, created_at) DESC
LIMIT $1`
	rows, err := s.Pool.Query(ctx, q, lim)
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

// FindPublishedBySlug matches blog_post_url by exact value or "/"+slug suffix.
func (s *Store) FindPublishedBySlug(ctx context.Context, slug string) (*models.GeneratedContent, error) {
	const q = `
SELECT ` + contentColumns + ` FROM generated_content
WHERE published_to_blog AND (blog_post_url = $1 OR blog_post_url LIKE '%/' || $1)
ORDER BY COALESCE(published_at, created_at) DESC
LIMIT 1`
	c, err := scanContent(s.Pool.QueryRow(ctx, q, slug))
	if isNoRows(err) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "find content by slug", Err: err}
	}
	return c, nil
}

// DeleteTestPosts deletes the user's test rows and returns them.
func (s *Store) DeleteTestPosts(ctx context.Context, userID string) ([]models.DeletedPost, error) {
	const q = `
DELETE FROM generated_content
WHERE user_id=$1 AND (is_test_post OR lower(btrim(title)) = 'test post' OR lower(btrim(title)) LIKE 'test post %')
RETURNING id, title`
	rows, err := s.Pool.Query(ctx, q, userID)
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

func scanContent(row scanner) (*models.GeneratedContent, error) {
	var (
		c           models.GeneratedContent
		keywords    []byte
		publishedAt pgtype.Timestamptz
		createdAt   time.Time
		updatedAt   time.Time
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Body, &c.MetaDescription, &keywords, &c.ImageURL, &c.ImageCredit,
		&c.BlogPostURL, &c.PublishedToBlog, &c.IsTestPost, &publishedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if len(keywords) > 0 {
		if err := json.Unmarshal(keywords, &c.Keywords); err != nil {
			return nil, err
		}
	}
	c.PublishedAt = timePtr(publishedAt)
	c.CreatedAt = createdAt.UTC()
	c.UpdatedAt = updatedAt.UTC()
	return &c, nil
}
