package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/d60-Lab/livepost/internal/model"
	"github.com/d60-Lab/livepost/internal/service"
)

func init() { gin.SetMode(gin.TestMode) }

// brokenService 所有调用都返回存储错误
type brokenService struct{}

func (brokenService) Create(context.Context, string, string) (*model.Post, error) {
	return nil, fmt.Errorf("%w: %w", service.ErrPersistence, errors.New("disk full"))
}

func (brokenService) List(context.Context) ([]*model.Post, error) {
	return nil, fmt.Errorf("%w: %w", service.ErrPersistence, errors.New("disk full"))
}

func (brokenService) Update(context.Context, int64, string, string) (*model.Post, error) {
	return nil, fmt.Errorf("%w: %w", service.ErrPersistence, errors.New("disk full"))
}

func (brokenService) Delete(context.Context, int64) (int64, error) {
	return 0, fmt.Errorf("%w: %w", service.ErrPersistence, errors.New("disk full"))
}

func TestHandler_PersistenceErrorsAre500(t *testing.T) {
	h := NewHandler(brokenService{}, nil, "*")
	r := gin.New()
	r.POST("/posts", h.CreatePost)
	r.GET("/posts", h.ListPosts)
	r.PUT("/posts/:id", h.UpdatePost)
	r.DELETE("/posts/:id", h.DeletePost)

	cases := []struct {
		method, path, body, want string
	}{
		{http.MethodPost, "/posts", `{"title":"x","content":"y"}`, "Failed to create post"},
		{http.MethodGet, "/posts", ``, "Failed to fetch posts"},
		{http.MethodPut, "/posts/1", `{"title":"x","content":"y"}`, "Failed to update post"},
		{http.MethodDelete, "/posts/1", ``, "Failed to delete post"},
	}
	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusInternalServerError, w.Code)
			assert.JSONEq(t, `{"error":"`+tc.want+`"}`, w.Body.String())
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(brokenService{}, nil, "http://app.local")

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, h.upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "http://app.local")
	assert.True(t, h.upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "http://evil.local")
	assert.False(t, h.upgrader.CheckOrigin(req))
}
