package models

import (
	"fmt"
	"strings"
	"time"
)

// GeneratedContent is a row of the generated_content table.
type GeneratedContent struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Title           string     `json:"title"`
	Body            string     `json:"content"`
	MetaDescription string     `json:"meta_description,omitempty"`
	Keywords        []string   `json:"keywords,omitempty"`
	ImageURL        string     `json:"image_url,omitempty"`
	ImageCredit     string     `json:"image_credit,omitempty"`
	BlogPostURL     string     `json:"blog_post_url,omitempty"`
	PublishedToBlog bool       `json:"published_to_blog"`
	IsTestPost      bool       `json:"is_test_post"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Validate checks the fields required before a row can be stored or published.
func (c *GeneratedContent) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// LooksLikeTestPost reports whether the row is a test post by flag or by
// title: "Test Post" alone or followed by a space, so "Test Postmortem" is kept.
func (c *GeneratedContent) LooksLikeTestPost() bool {
	title := strings.ToLower(strings.TrimSpace(c.Title))
	return c.IsTestPost || title == "test post" || strings.HasPrefix(title, "test post ")
}

// BlogPost is the public projection of a published content row.
type BlogPost struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	Title       string     `json:"title"`
	Excerpt     string     `json:"excerpt"`
	Content     string     `json:"content,omitempty"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	ImageCredit string     `json:"imageCredit,omitempty"`
	URL         string     `json:"url"`
	ReadTime    string     `json:"readTime"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// DeletedPost identifies a removed test post in cleanup responses.
type DeletedPost struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}
