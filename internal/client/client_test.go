package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskboard/kanban/internal/dashboard"
	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/feed"
	"github.com/taskboard/kanban/internal/schema"
	"github.com/taskboard/kanban/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// startServer runs a real API server on a free port and returns its URL.
func startServer(t *testing.T) string {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "kanban.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	hub := feed.NewHub(feed.HubConfig{})
	t.Cleanup(func() { hub.Close() })

	server := dashboard.NewServer(&dashboard.Config{
		Addr:    "127.0.0.1:0",
		Version: "1.4.2",
		Board:   service.New(service.Config{Store: store, Broker: hub}),
		Tokens:  map[string]string{"alice-token": "alice", "bob-token": "bob"},
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return "http://" + server.GetAddr()
}

func newClient(t *testing.T, baseURL, token string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: baseURL, Token: token, Version: "1.0.0"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"http", "http://localhost:8080", false},
		{"https with path", "https://board.example.com/kanban/", false},
		{"empty", "", true},
		{"no scheme", "localhost:8080", true},
		{"websocket scheme", "ws://localhost:8080", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{BaseURL: tt.baseURL})
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%q) error = %v, wantErr %v", tt.baseURL, err, tt.wantErr)
			}
		})
	}
}

func TestTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, startServer(t), "alice-token")

	desc := "Draft the outline"
	created, err := c.CreateTask(ctx, schema.TaskInsert{Title: "Write guide", Description: &desc, Tags: []string{"docs"}})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	if created.UserID != "alice" || created.Status != schema.StatusTodo {
		t.Errorf("created = %+v", created)
	}

	tasks, err := c.ListTasks(ctx, db.ListTasksFilter{Tag: "docs"})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != created.ID {
		t.Errorf("ListTasks() = %+v", tasks)
	}

	title := "Write the guide"
	updated, err := c.UpdateTask(ctx, created.ID, schema.TaskUpdate{Title: &title, Description: schema.Null[string]()})
	if err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if updated.Title != title || updated.Description != nil {
		t.Errorf("updated = %+v", updated)
	}

	moved, err := c.MoveTask(ctx, created.ID, schema.StatusDone)
	if err != nil {
		t.Fatalf("MoveTask() failed: %v", err)
	}
	if moved.Status != schema.StatusDone {
		t.Errorf("Status = %q, want done", moved.Status)
	}

	got, err := c.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if got.Status != schema.StatusDone {
		t.Errorf("GetTask().Status = %q", got.Status)
	}

	if err := c.DeleteTask(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTask() failed: %v", err)
	}
	if _, err := c.GetTask(ctx, created.ID); !IsNotFound(err) {
		t.Errorf("GetTask() after delete = %v, want not found", err)
	}
	if err := c.DeleteTask(ctx, created.ID); !IsNotFound(err) {
		t.Errorf("second DeleteTask() = %v, want not found", err)
	}

	tasks, err = c.ListTasks(ctx, db.ListTasksFilter{})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Errorf("ListTasks() = %#v, want empty non-nil", tasks)
	}
}

func TestAPIErrors(t *testing.T) {
	ctx := context.Background()
	url := startServer(t)

	anon := newClient(t, url, "")
	if _, err := anon.ListTasks(ctx, db.ListTasksFilter{}); !IsUnauthorized(err) {
		t.Errorf("ListTasks() without token = %v, want 401", err)
	}

	c := newClient(t, url, "alice-token")
	_, err := c.CreateTask(ctx, schema.TaskInsert{Title: "  "})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("CreateTask() error = %T %v, want *APIError", err, err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Message == "" {
		t.Errorf("APIError = %+v, want 400 with a message", apiErr)
	}

	// bob cannot see alice's task
	task, err := c.CreateTask(ctx, schema.TaskInsert{Title: "Private"})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	bob := newClient(t, url, "bob-token")
	if _, err := bob.GetTask(ctx, task.ID); !IsNotFound(err) {
		t.Errorf("bob GetTask() = %v, want not found", err)
	}
}

func TestComments(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, startServer(t), "alice-token")

	task, err := c.CreateTask(ctx, schema.TaskInsert{Title: "Discuss"})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	first, err := c.AddComment(ctx, task.ID, "first")
	if err != nil {
		t.Fatalf("AddComment() failed: %v", err)
	}
	if _, err := c.AddComment(ctx, task.ID, "second"); err != nil {
		t.Fatalf("AddComment() failed: %v", err)
	}

	comments, err := c.ListComments(ctx, task.ID)
	if err != nil {
		t.Fatalf("ListComments() failed: %v", err)
	}
	if len(comments) != 2 || comments[0].Content != "first" {
		t.Errorf("ListComments() = %+v, want first then second", comments)
	}

	if err := c.DeleteComment(ctx, first.ID); err != nil {
		t.Fatalf("DeleteComment() failed: %v", err)
	}
	if _, err := c.AddComment(ctx, "missing", "hello"); !IsNotFound(err) {
		t.Errorf("AddComment(missing task) = %v, want not found", err)
	}
}

func TestMe(t *testing.T) {
	ctx := context.Background()
	base := startServer(t)

	user, err := newClient(t, base, "alice-token").Me(ctx)
	if err != nil {
		t.Fatalf("Me() failed: %v", err)
	}
	if user != "alice" {
		t.Errorf("Me() = %q, want alice", user)
	}
	if _, err := newClient(t, base, "wrong").Me(ctx); !IsUnauthorized(err) {
		t.Errorf("Me() with a bad token = %v, want unauthorized", err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, startServer(t), "alice-token")

	for _, status := range []schema.Status{schema.StatusTodo, schema.StatusTodo, schema.StatusDone} {
		if _, err := c.CreateTask(ctx, schema.TaskInsert{Title: "t", Status: status}); err != nil {
			t.Fatalf("CreateTask() failed: %v", err)
		}
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Total != 3 || stats.ByStatus["todo"] != 2 || stats.ByStatus["done"] != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := newClient(t, startServer(t), "alice-token")

	ch, err := c.Subscribe(ctx, feed.Filter{Table: feed.TableTasks})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	if ch.Name() != "tasks:alice" {
		t.Errorf("Name() = %q, want tasks:alice", ch.Name())
	}

	task, err := c.CreateTask(ctx, schema.TaskInsert{Title: "Live"})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	select {
	case ev := <-ch.Events():
		if ev.Type != feed.EventInsert || ev.RecordID != task.ID {
			t.Errorf("event = %+v, want INSERT of %s", ev, task.ID)
		}
		got, err := ev.NewTask()
		if err != nil || got.Title != "Live" {
			t.Errorf("NewTask() = %+v, %v", got, err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for the change event")
	}

	select {
	case stats := <-ch.Stats():
		if stats.Total != 1 {
			t.Errorf("stats.Total = %d, want 1", stats.Total)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for stats")
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if _, ok := <-ch.Events(); ok {
		t.Error("Events() still open after Close")
	}
	if err := ch.Err(); err != nil {
		t.Errorf("Err() after Close = %v, want nil", err)
	}
}

func TestSubscribe_CommentsForOneTask(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := newClient(t, startServer(t), "alice-token")

	watched, err := c.CreateTask(ctx, schema.TaskInsert{Title: "Watched"})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	other, err := c.CreateTask(ctx, schema.TaskInsert{Title: "Other"})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}

	ch, err := c.Subscribe(ctx, feed.Filter{Table: feed.TableComments, TaskID: watched.ID})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer ch.Close()

	if _, err := c.AddComment(ctx, other.ID, "not for you"); err != nil {
		t.Fatalf("AddComment() failed: %v", err)
	}
	comment, err := c.AddComment(ctx, watched.ID, "for you")
	if err != nil {
		t.Fatalf("AddComment() failed: %v", err)
	}

	select {
	case ev := <-ch.Events():
		if ev.RecordID != comment.ID {
			t.Errorf("event for %s, want %s", ev.RecordID, comment.ID)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for the comment event")
	}
}

func TestSubscribe_Rejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := newClient(t, startServer(t), "wrong-token")

	if _, err := c.Subscribe(ctx, feed.Filter{}); !IsUnauthorized(err) {
		t.Errorf("Subscribe() = %v, want 401", err)
	}
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		client, server string
		want           bool
	}{
		{"1.0.0", "1.4.2", true},
		{"v1.2.0", "1.0.0", true},
		{"1.0.0", "2.0.0", false},
		{"0.9.0", "1.0.0", false},
		{"dev", "1.0.0", true},
		{"1.0.0", "", true},
	}
	for _, tt := range tests {
		if got := Compatible(tt.client, tt.server); got != tt.want {
			t.Errorf("Compatible(%q, %q) = %v, want %v", tt.client, tt.server, got, tt.want)
		}
	}
}

func TestCheckVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(Health{Status: "ok", Version: "2.1.0"})
	}))
	defer srv.Close()

	ctx := context.Background()
	old, err := New(Config{BaseURL: srv.URL, Version: "1.9.0"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if v, err := old.CheckVersion(ctx); err == nil || v != "2.1.0" {
		t.Errorf("CheckVersion() = %q, %v, want 2.1.0 and an error", v, err)
	}

	current, err := New(Config{BaseURL: srv.URL, Version: "2.0.0"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if _, err := current.CheckVersion(ctx); err != nil {
		t.Errorf("CheckVersion() failed: %v", err)
	}
}
