package liveview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAPIClient_RejectsScheme(t *testing.T) {
	_, err := NewAPIClient("ftp://example.com", nil)
	assert.Error(t, err)
}

func TestAPIClient_WebsocketURL(t *testing.T) {
	c, err := NewAPIClient("http://localhost:4000", nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:4000/ws", c.WebsocketURL())

	c, err = NewAPIClient("https://example.com/app", nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/app/ws", c.WebsocketURL())
}

func TestAPIClient_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Post not found"}`))
	}))
	defer srv.Close()

	c, err := NewAPIClient(srv.URL, nil)
	require.NoError(t, err)

	err = c.Delete(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Post not found", apiErr.Message)
}

func TestAPIClient_ListEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/posts", r.URL.Path)
		_, _ = w.Write([]byte(`null`))
	}))
	defer srv.Close()

	c, err := NewAPIClient(srv.URL, nil)
	require.NoError(t, err)
	posts, err := c.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, posts)
	assert.Empty(t, posts)
}
