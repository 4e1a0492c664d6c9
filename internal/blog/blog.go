// Package blog serves published generated content as blog posts and handles
// publishing and test-post cleanup.
package blog

import (
	"context"
	stderrors "errors"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/logging"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/store"
	"github.com/crmhub/crmhub/internal/unsplash"
)

const formatConcurrency = 8

// ImageFinder returns a cover image for a query, or nil.
type ImageFinder interface {
	Search(ctx context.Context, query string) *unsplash.Image
}

// Service implements the blog operations.
type Service struct {
	store  store.ContentStore
	images ImageFinder
	cfg    config.BlogConfig
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithImages sets the cover image finder used on publish.
func WithImages(f ImageFinder) Option {
	return func(s *Service) { s.images = f }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a blog Service.
func NewService(st store.ContentStore, cfg config.BlogConfig, opts ...Option) *Service {
	s := &Service{
		store:  st,
		cfg:    cfg,
		logger: logging.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns published posts, newest first, without their bodies.
func (s *Service) List(ctx context.Context, limit int) ([]models.BlogPost, error) {
	rows, err := s.store.ListPublishedContent(ctx, limit)
	if err != nil {
		return nil, err
	}

	posts := make([]models.BlogPost, len(rows))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(formatConcurrency)
	for i, row := range rows {
		g.Go(func() error {
			p := s.format(row)
			p.Content = ""
			posts[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return posts, nil
}

// BySlug returns one published post with its body.
func (s *Service) BySlug(ctx context.Context, slug string) (*models.BlogPost, error) {
	if !ValidSlug(slug) {
		return nil, &errors.ErrValidation{Field: "slug", Message: "must contain only a-z, 0-9 and hyphens"}
	}
	row, err := s.store.FindPublishedBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	p := s.format(row)
	return &p, nil
}

// Publish marks the user's content row as published and returns the post.
// Publishing an already published row returns it unchanged.
func (s *Service) Publish(ctx context.Context, userID, contentID string) (*models.BlogPost, error) {
	if contentID == "" {
		return nil, &errors.ErrValidation{Field: "contentId", Message: "is required"}
	}
	row, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if row.UserID != userID {
		return nil, errors.ErrNotFound
	}
	if err := row.Validate(); err != nil {
		return nil, &errors.ErrValidation{Field: "content", Message: err.Error()}
	}
	if row.PublishedToBlog && row.BlogPostURL != "" {
		p := s.format(row)
		return &p, nil
	}

	slug, err := s.uniqueSlug(ctx, row)
	if err != nil {
		return nil, err
	}

	if row.ImageURL == "" && s.images != nil {
		query := row.Title
		if len(row.Keywords) > 0 {
			query = strings.Join(row.Keywords, " ")
		}
		if img := s.images.Search(ctx, query); img != nil {
			row.ImageURL = img.URL
			row.ImageCredit = img.Credit
		}
	}

	now := s.now()
	row.PublishedToBlog = true
	row.BlogPostURL = s.cfg.PathPrefix + slug
	row.PublishedAt = &now
	row.UpdatedAt = now
	if s.cfg.TestMode() {
		row.IsTestPost = true
	}
	if err := s.store.SaveContent(ctx, row); err != nil {
		return nil, err
	}

	s.logger.InfoWithContext(ctx, "content published",
		"content_id", row.ID,
		"url", row.BlogPostURL,
		"test_post", row.IsTestPost,
		"has_image", row.ImageURL != "",
	)
	p := s.format(row)
	return &p, nil
}

// DeleteTestPosts removes the user's test posts.
func (s *Service) DeleteTestPosts(ctx context.Context, userID string) ([]models.DeletedPost, error) {
	if userID == "" {
		return nil, errors.ErrUnauthorized
	}
	deleted, err := s.store.DeleteTestPosts(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.logger.InfoWithContext(ctx, "test posts deleted", "user_id", userID, "count", len(deleted))
	return deleted, nil
}

func (s *Service) uniqueSlug(ctx context.Context, row *models.GeneratedContent) (string, error) {
	slug := Slugify(row.Title)
	if slug == "" {
		slug = "post"
	}
	existing, err := s.store.FindPublishedBySlug(ctx, slug)
	switch {
	case stderrors.Is(err, errors.ErrNotFound):
		return slug, nil
	case err != nil:
		return "", err
	case existing.ID == row.ID:
		return slug, nil
	}
	suffix := strings.ReplaceAll(row.ID, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return slug + "-" + strings.ToLower(suffix), nil
}

func (s *Service) format(row *models.GeneratedContent) models.BlogPost {
	excerpt := Excerpt(row.MetaDescription, s.cfg.ExcerptLen)
	if excerpt == "" {
		excerpt = Excerpt(row.Body, s.cfg.ExcerptLen)
	}
	if excerpt == "" {
		excerpt = row.Title
	}
	return models.BlogPost{
		ID:          row.ID,
		Slug:        path.Base(row.BlogPostURL),
		Title:       row.Title,
		Excerpt:     excerpt,
		Content:     row.Body,
		ImageURL:    row.ImageURL,
		ImageCredit: row.ImageCredit,
		URL:         row.BlogPostURL,
		ReadTime:    ReadTime(row.Body),
		PublishedAt: row.PublishedAt,
	}
}
