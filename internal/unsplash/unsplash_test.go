package unsplash

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmhub/crmhub/internal/config"
)

func TestClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/photos", r.URL.Path)
		assert.Equal(t, "Client-ID key", r.Header.Get("Authorization"))
		assert.Equal(t, "crm tips", r.URL.Query().Get("query"))
		fmt.Fprint(w, `{"results":[{"urls":{"regular":"https://images.example/1.jpg"},
			"user":{"name":"Ana","links":{"html":"https://unsplash.com/@ana"}}}]}`)
	}))
	defer srv.Close()

	c := New(config.UnsplashConfig{AccessKey: "key", BaseURL: srv.URL, Timeout: time.Second}, srv.Client(), nil, nil)
	img := c.Search(context.Background(), "crm tips")
	require.NotNil(t, img)
	assert.Equal(t, "https://images.example/1.jpg", img.URL)
	assert.Contains(t, img.Credit, "Ana")
}

func TestClient_SearchFailuresYieldNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") == "empty" {
			fmt.Fprint(w, `{"results":[]}`)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(config.UnsplashConfig{AccessKey: "key", BaseURL: srv.URL}, srv.Client(), nil, nil)
	assert.Nil(t, c.Search(context.Background(), "denied"))
	assert.Nil(t, c.Search(context.Background(), "empty"))
	assert.Nil(t, c.Search(context.Background(), "  "))

	disabled := New(config.UnsplashConfig{BaseURL: srv.URL}, nil, nil, nil)
	assert.False(t, disabled.Enabled())
	assert.Nil(t, disabled.Search(context.Background(), "crm"))
}
