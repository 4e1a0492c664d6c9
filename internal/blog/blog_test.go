package blog

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/store"
	"github.com/crmhub/crmhub/internal/unsplash"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubImages struct {
	img     *unsplash.Image
	queries []string
}

func (s *stubImages) Search(ctx context.Context, query string) *unsplash.Image {
	s.queries = append(s.queries, query)
	return s.img
}

func newService(t *testing.T, mode string, opts ...Option) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "blog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.BlogConfig{PublishMode: mode}
	require.NoError(t, cfg.Validate())
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewService(st, cfg, opts...), st
}

func TestExcerpt(t *testing.T) {
	body := "# Heading\n\nThis is **bold** and a [link](https://x.y) with <em>html</em>.\n\n- item one\n- item two"
	assert.Equal(t, "Heading This is bold and a link with html . item one item two", PlainText(body))

	ex := Excerpt(body, 20)
	assert.True(t, strings.HasSuffix(ex, "..."), ex)
	assert.LessOrEqual(t, len([]rune(strings.TrimSuffix(ex, "..."))), 20)
	assert.Equal(t, "Heading This is bold...", ex)

	assert.Equal(t, "short", Excerpt("short", 20))
	assert.Equal(t, "", Excerpt("<p></p>", 20))
}

func TestReadTime(t *testing.T) {
	assert.Equal(t, "1 min read", ReadTime(""))
	assert.Equal(t, "1 min read", ReadTime(strings.Repeat("word ", 200)))
	assert.Equal(t, "2 min read", ReadTime(strings.Repeat("word ", 201)))
	assert.Equal(t, "3 min read", ReadTime(strings.Repeat("<b>word</b> ", 450)))
}

func TestSlugs(t *testing.T) {
	assert.Equal(t, "fem-tips-for-battre-fakturering", Slugify("Fem tips för bättre fakturering!"))
	assert.Equal(t, "", Slugify("  ???  "))

	assert.True(t, ValidSlug("my-post"))
	assert.True(t, ValidSlug("post2"))
	for _, s := range []string{"", "My-Post", "my--post", "-post", "my_post", "a%b"} {
		assert.False(t, ValidSlug(s), s)
	}
}

func TestService_BySlug(t *testing.T) {
	svc, st := newService(t, "live")
	ctx := context.Background()
	published := fixedNow.Add(-time.Hour)
	require.NoError(t, st.SaveContent(ctx, &models.GeneratedContent{
		UserID:          "u1",
		Title:           "My Post",
		Body:            "Some **markdown** body text that is long enough to read.",
		BlogPostURL:     "/blog/my-post",
		PublishedToBlog: true,
		PublishedAt:     &published,
	}))

	post, err := svc.BySlug(ctx, "my-post")
	require.NoError(t, err)
	assert.Equal(t, "my-post", post.Slug)
	assert.NotEmpty(t, post.Excerpt)
	assert.Regexp(t, `^\d+ min read$`, post.ReadTime)
	assert.NotEmpty(t, post.Content)

	_, err = svc.BySlug(ctx, "other-post")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	var verr *errors.ErrValidation
	_, err = svc.BySlug(ctx, "%")
	assert.ErrorAs(t, err, &verr)
}

func TestService_ListOmitsBodiesAndUnpublished(t *testing.T) {
	svc, st := newService(t, "live")
	ctx := context.Background()
	for i, title := range []string{"First", "Second", "Third"} {
		at := fixedNow.Add(time.Duration(i) * time.Hour)
		require.NoError(t, st.SaveContent(ctx, &models.GeneratedContent{
			UserID: "u1", Title: title, Body: "Body of " + title,
			BlogPostURL: "/blog/" + strings.ToLower(title), PublishedToBlog: true, PublishedAt: &at,
		}))
	}
	require.NoError(t, st.SaveContent(ctx, &models.GeneratedContent{UserID: "u1", Title: "Draft", Body: "x"}))

	posts, err := svc.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, "Third", posts[0].Title)
	for _, p := range posts {
		assert.Empty(t, p.Content)
		assert.NotEmpty(t, p.Excerpt)
	}
}

func TestService_Publish(t *testing.T) {
	images := &stubImages{img: &unsplash.Image{URL: "https://img/1.jpg", Credit: "Photo by Ana on Unsplash"}}
	svc, st := newService(t, "test", WithImages(images))
	ctx := context.Background()

	row := &models.GeneratedContent{UserID: "u1", Title: "Hello World", Body: "Body", Keywords: []string{"crm", "sales"}}
	require.NoError(t, st.SaveContent(ctx, row))

	post, err := svc.Publish(ctx, "u1", row.ID)
	require.NoError(t, err)
	assert.Equal(t, "/blog/hello-world", post.URL)
	assert.Equal(t, "https://img/1.jpg", post.ImageURL)
	assert.Equal(t, []string{"crm sales"}, images.queries)

	stored, err := st.GetContent(ctx, row.ID)
	require.NoError(t, err)
	assert.True(t, stored.PublishedToBlog)
	assert.True(t, stored.IsTestPost)
	require.NotNil(t, stored.PublishedAt)
	assert.True(t, stored.PublishedAt.Equal(fixedNow))

	// Republishing is a no-op.
	again, err := svc.Publish(ctx, "u1", row.ID)
	require.NoError(t, err)
	assert.Equal(t, post.URL, again.URL)
	assert.Len(t, images.queries, 1)

	// Same title from another row gets a suffixed slug.
	other := &models.GeneratedContent{UserID: "u1", Title: "Hello World", Body: "Other"}
	require.NoError(t, st.SaveContent(ctx, other))
	otherPost, err := svc.Publish(ctx, "u1", other.ID)
	require.NoError(t, err)
	assert.NotEqual(t, post.URL, otherPost.URL)
	assert.True(t, strings.HasPrefix(otherPost.URL, "/blog/hello-world-"))
}

func TestService_PublishWithoutImageOrOwnership(t *testing.T) {
	svc, st := newService(t, "live", WithImages(&stubImages{}))
	ctx := context.Background()

	row := &models.GeneratedContent{UserID: "u1", Title: "No Image", Body: "Body"}
	require.NoError(t, st.SaveContent(ctx, row))

	_, err := svc.Publish(ctx, "u2", row.ID)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	post, err := svc.Publish(ctx, "u1", row.ID)
	require.NoError(t, err)
	assert.Empty(t, post.ImageURL)

	stored, err := st.GetContent(ctx, row.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsTestPost)
}

func TestService_DeleteTestPosts(t *testing.T) {
	svc, st := newService(t, "live")
	ctx := context.Background()
	require.NoError(t, st.SaveContent(ctx, &models.GeneratedContent{UserID: "u1", Title: "Test Post 1", Body: "x"}))
	require.NoError(t, st.SaveContent(ctx, &models.GeneratedContent{UserID: "u1", Title: "Real Post", Body: "x"}))

	deleted, err := svc.DeleteTestPosts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "Test Post 1", deleted[0].Title)

	_, err = svc.DeleteTestPosts(ctx, "")
	assert.ErrorIs(t, err, errors.ErrUnauthorized)
}
