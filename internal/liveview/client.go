// Package liveview keeps a local, ordered copy of the post collection in sync
// with the server: one snapshot over HTTP, then incremental events over the
// websocket channel.
package liveview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/d60-Lab/livepost/internal/model"
)

// APIError 非 2xx 响应
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// APIClient talks to the posts endpoints.
type APIClient struct {
	base *url.URL
	http *http.Client
}

// NewAPIClient baseURL 形如 http://localhost:4000
func NewAPIClient(baseURL string, httpClient *http.Client) (*APIClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIClient{base: u, http: httpClient}, nil
}

// WebsocketURL 事件通道地址
func (c *APIClient) WebsocketURL() string {
	u := c.base.JoinPath("ws")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String()
}

func (c *APIClient) List(ctx context.Context) ([]model.Post, error) {
	var posts []model.Post
	if err := c.do(ctx, http.MethodGet, "posts", nil, &posts); err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []model.Post{}
	}
	return posts, nil
}

func (c *APIClient) Create(ctx context.Context, title, content string) (model.Post, error) {
	var p model.Post
	err := c.do(ctx, http.MethodPost, "posts", postBody{Title: title, Content: content}, &p)
	return p, err
}

func (c *APIClient) Update(ctx context.Context, id int64, title, content string) (model.Post, error) {
	var p model.Post
	err := c.do(ctx, http.MethodPut, "posts/"+strconv.FormatInt(id, 10), postBody{Title: title, Content: content}, &p)
	return p, err
}

func (c *APIClient) Delete(ctx context.Context, id int64) error {
	var res struct {
		Success bool  `json:"success"`
		ID      int64 `json:"id"`
	}
	return c.do(ctx, http.MethodDelete, "posts/"+strconv.FormatInt(id, 10), nil, &res)
}

type postBody struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s /%s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &eb) == nil {
			apiErr.Message = eb.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
