// Package client talks to a kanban server: REST calls for tasks and comments
// and a WebSocket subscription to the change feed.
package client

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
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/dashboard"
	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/schema"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized)
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Health is the body of GET /health.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Clients int    `json:"clients"`
}

// Config configures a Client.
type Config struct {
	// BaseURL of the server, e.g. http://localhost:8080
	BaseURL string

	// Token is sent as a bearer token on every request
	Token string

	// Version of this client, checked against the server by CheckVersion
	Version string

	// HTTPClient overrides the default client (timeout 30s)
	HTTPClient *http.Client

	Logger *zap.Logger
}

// Client is safe for concurrent use.
type Client struct {
	base    *url.URL
	token   string
	version string
	http    *http.Client
	logger  *zap.Logger
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}

	c := &Client{
		base:    base,
		token:   cfg.Token,
		version: cfg.Version,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Health fetches the server's health report. It needs no token.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ListTasks returns the caller's tasks, newest first.
func (c *Client) ListTasks(ctx context.Context, filter db.ListTasksFilter) ([]schema.Task, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Priority != "" {
		q.Set("priority", string(filter.Priority))
	}
	if filter.Tag != "" {
		q.Set("tag", filter.Tag)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}

	var tasks []schema.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks", q, nil, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []schema.Task{}
	}
	return tasks, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*schema.Task, error) {
	var task schema.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) CreateTask(ctx context.Context, in schema.TaskInsert) (*schema.Task, error) {
	var task schema.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", nil, in, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask sends only the fields set in patch.
func (c *Client) UpdateTask(ctx context.Context, id string, patch schema.TaskUpdate) (*schema.Task, error) {
	var task schema.Task
	if err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), nil, patch, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) MoveTask(ctx context.Context, id string, status schema.Status) (*schema.Task, error) {
	var task schema.Task
	body := dashboard.MoveRequest{Status: string(status)}
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/move", nil, body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil, nil)
}

// ListComments returns a task's comments, oldest first.
func (c *Client) ListComments(ctx context.Context, taskID string) ([]schema.Comment, error) {
	var comments []schema.Comment
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(taskID)+"/comments", nil, nil, &comments); err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []schema.Comment{}
	}
	return comments, nil
}

func (c *Client) AddComment(ctx context.Context, taskID, content string) (*schema.Comment, error) {
	var comment schema.Comment
	body := dashboard.CommentRequest{Content: content}
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/comments", nil, body, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

func (c *Client) DeleteComment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/comments/"+url.PathEscape(id), nil, nil, nil)
}

// Stats returns the caller's task counts per status.
func (c *Client) Stats(ctx context.Context) (*dashboard.StatsData, error) {
	var stats dashboard.StatsData
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Me returns the user the client's token belongs to.
func (c *Client) Me(ctx context.Context) (string, error) {
	var session dashboard.SessionData
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, nil, &session); err != nil {
		return "", err
	}
	return session.UserID, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	// path segments arrive escaped
	u := *c.base
	raw := strings.TrimRight(u.EscapedPath(), "/") + path
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		return fmt.Errorf("invalid request path %q: %w", path, err)
	}
	u.Path, u.RawPath = unescaped, raw
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e dashboard.ErrorResponse
		if data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
			if json.Unmarshal(data, &e) == nil {
				apiErr.Message = e.Error
			}
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
