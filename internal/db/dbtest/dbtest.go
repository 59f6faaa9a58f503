// Package dbtest holds the behaviour tests every db.Store backend must pass.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/schema"
)

// Base is the creation time used by NewTask; tasks created with a larger
// offset sort first.
var Base = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

// NewTask returns a valid task for userID created offset after Base.
func NewTask(id, userID, title string, offset time.Duration) *schema.Task {
	created := Base.Add(offset)
	return &schema.Task{
		ID:        id,
		UserID:    userID,
		Title:     title,
		Status:    schema.StatusTodo,
		Priority:  schema.PriorityMedium,
		Tags:      []string{},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// Run exercises store. open must return a store with an initialized, empty
// schema; it is called once per subtest.
func Run(t *testing.T, open func(t *testing.T) db.Store) {
	t.Run("CreateGet", func(t *testing.T) { testCreateGet(t, open(t)) })
	t.Run("CreateConflict", func(t *testing.T) { testCreateConflict(t, open(t)) })
	t.Run("ListOrderAndFilter", func(t *testing.T) { testList(t, open(t)) })
	t.Run("UserIsolation", func(t *testing.T) { testIsolation(t, open(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, open(t)) })
	t.Run("Upsert", func(t *testing.T) { testUpsert(t, open(t)) })
	t.Run("DeleteCascadesComments", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("Comments", func(t *testing.T) { testComments(t, open(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, open(t)) })
}

func mustCreate(t *testing.T, store db.Store, tasks ...*schema.Task) {
	t.Helper()
	for _, task := range tasks {
		if err := store.CreateTask(context.Background(), task); err != nil {
			t.Fatalf("CreateTask(%s) failed: %v", task.ID, err)
		}
	}
}

func testCreateGet(t *testing.T, store db.Store) {
	ctx := context.Background()
	task := NewTask("t1", "alice", "Write docs", 0)
	desc := "Cover the **board**"
	due := Base.Add(72 * time.Hour)
	task.Description = &desc
	task.DueDate = &due
	task.Priority = schema.PriorityHigh
	task.Tags = []string{"docs", "release"}

	mustCreate(t, store, task)

	got, err := store.GetTask(ctx, "alice", "t1")
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if diff := cmp.Diff(*task, *got); diff != "" {
		t.Errorf("GetTask() mismatch (-want +got):\n%s", diff)
	}

	if _, err := store.GetTask(ctx, "alice", "missing"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("GetTask(missing) = %v, want ErrNotFound", err)
	}

	invalid := NewTask("t2", "alice", "", 0)
	if err := store.CreateTask(ctx, invalid); !errors.Is(err, db.ErrInvalid) {
		t.Errorf("CreateTask(blank title) = %v, want ErrInvalid", err)
	}
}

func testCreateConflict(t *testing.T, store db.Store) {
	mustCreate(t, store, NewTask("t1", "alice", "First", 0))
	err := store.CreateTask(context.Background(), NewTask("t1", "alice", "Again", 0))
	if !errors.Is(err, db.ErrConflict) {
		t.Errorf("CreateTask(duplicate) = %v, want ErrConflict", err)
	}
}

func testList(t *testing.T, store db.Store) {
	ctx := context.Background()
	old := NewTask("old", "alice", "Old", 0)
	mid := NewTask("mid", "alice", "Mid", time.Minute)
	mid.Status = schema.StatusInProgress
	mid.Tags = []string{"backend"}
	newest := NewTask("new", "alice", "New", 2*time.Minute)
	newest.Priority = schema.PriorityHigh
	mustCreate(t, store, old, mid, newest)

	tasks, err := store.ListTasks(ctx, "alice", db.ListTasksFilter{})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if got := ids(tasks); !cmp.Equal(got, []string{"new", "mid", "old"}) {
		t.Errorf("ListTasks() order = %v, want newest first", got)
	}

	filters := []struct {
		name   string
		filter db.ListTasksFilter
		want   []string
	}{
		{"status", db.ListTasksFilter{Status: schema.StatusInProgress}, []string{"mid"}},
		{"priority", db.ListTasksFilter{Priority: schema.PriorityHigh}, []string{"new"}},
		{"tag", db.ListTasksFilter{Tag: "backend"}, []string{"mid"}},
		{"limit", db.ListTasksFilter{Limit: 2}, []string{"new", "mid"}},
		{"offset", db.ListTasksFilter{Limit: 2, Offset: 2}, []string{"old"}},
		{"offset only", db.ListTasksFilter{Offset: 1}, []string{"mid", "old"}},
	}
	for _, f := range filters {
		tasks, err := store.ListTasks(ctx, "alice", f.filter)
		if err != nil {
			t.Fatalf("ListTasks(%s) failed: %v", f.name, err)
		}
		if got := ids(tasks); !cmp.Equal(got, f.want) {
			t.Errorf("ListTasks(%s) = %v, want %v", f.name, got, f.want)
		}
	}

	empty, err := store.ListTasks(ctx, "nobody", db.ListTasksFilter{})
	if err != nil {
		t.Fatalf("ListTasks(nobody) failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("ListTasks(nobody) = %#v, want empty non-nil slice", empty)
	}
}

func testIsolation(t *testing.T, store db.Store) {
	ctx := context.Background()
	mustCreate(t, store, NewTask("t1", "alice", "Alice's", 0))

	if _, err := store.GetTask(ctx, "bob", "t1"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("GetTask(bob) = %v, want ErrNotFound", err)
	}
	title := "hijacked"
	if _, err := store.UpdateTask(ctx, "bob", "t1", schema.TaskUpdate{Title: &title}, Base); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("UpdateTask(bob) = %v, want ErrNotFound", err)
	}
	if _, err := store.DeleteTask(ctx, "bob", "t1"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("DeleteTask(bob) = %v, want ErrNotFound", err)
	}
	err := store.AddComment(ctx, &schema.Comment{ID: "c1", TaskID: "t1", UserID: "bob", Content: "hi", CreatedAt: Base})
	if !errors.Is(err, db.ErrNotFound) {
		t.Errorf("AddComment(bob) = %v, want ErrNotFound", err)
	}
	if err := store.UpsertTask(ctx, NewTask("t1", "bob", "Mine now", 0)); !errors.Is(err, db.ErrConflict) {
		t.Errorf("UpsertTask(bob) = %v, want ErrConflict", err)
	}

	got, err := store.GetTask(ctx, "alice", "t1")
	if err != nil {
		t.Fatalf("GetTask(alice) failed: %v", err)
	}
	if got.Title != "Alice's" {
		t.Errorf("Title = %q, another user's write leaked through", got.Title)
	}
}

func testUpdate(t *testing.T, store db.Store) {
	ctx := context.Background()
	task := NewTask("t1", "alice", "Draft", 0)
	desc := "to remove"
	task.Description = &desc
	mustCreate(t, store, task)

	now := Base.Add(time.Hour)
	status := schema.StatusDone
	tags := []string{"shipped"}
	updated, err := store.UpdateTask(ctx, "alice", "t1", schema.TaskUpdate{
		Status:      &status,
		Description: schema.Null[string](),
		Tags:        &tags,
	}, now)
	if err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if updated.Status != schema.StatusDone || updated.Description != nil || !updated.UpdatedAt.Equal(now) {
		t.Errorf("UpdateTask() = %+v", updated)
	}
	if updated.Title != "Draft" {
		t.Errorf("Title = %q, untouched fields must survive", updated.Title)
	}

	got, err := store.GetTask(ctx, "alice", "t1")
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if diff := cmp.Diff(*updated, *got); diff != "" {
		t.Errorf("stored task differs from returned (-want +got):\n%s", diff)
	}

	bad := schema.Status("blocked")
	if _, err := store.UpdateTask(ctx, "alice", "t1", schema.TaskUpdate{Status: &bad}, now); !errors.Is(err, db.ErrInvalid) {
		t.Errorf("UpdateTask(bad status) = %v, want ErrInvalid", err)
	}
}

func testUpsert(t *testing.T, store db.Store) {
	ctx := context.Background()
	task := NewTask("t1", "alice", "From inbox", 0)
	if err := store.UpsertTask(ctx, task); err != nil {
		t.Fatalf("UpsertTask(insert) failed: %v", err)
	}

	task.Title = "Edited in inbox"
	task.Status = schema.StatusInProgress
	task.UpdatedAt = Base.Add(time.Minute)
	if err := store.UpsertTask(ctx, task); err != nil {
		t.Fatalf("UpsertTask(update) failed: %v", err)
	}

	got, err := store.GetTask(ctx, "alice", "t1")
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if diff := cmp.Diff(*task, *got); diff != "" {
		t.Errorf("UpsertTask() mismatch (-want +got):\n%s", diff)
	}
}

func testDelete(t *testing.T, store db.Store) {
	ctx := context.Background()
	mustCreate(t, store, NewTask("t1", "alice", "Doomed", 0))
	if err := store.AddComment(ctx, &schema.Comment{ID: "c1", TaskID: "t1", UserID: "alice", Content: "bye", CreatedAt: Base}); err != nil {
		t.Fatalf("AddComment() failed: %v", err)
	}

	deleted, err := store.DeleteTask(ctx, "alice", "t1")
	if err != nil {
		t.Fatalf("DeleteTask() failed: %v", err)
	}
	if deleted.ID != "t1" {
		t.Errorf("DeleteTask() returned %s, want t1", deleted.ID)
	}

	if _, err := store.GetTask(ctx, "alice", "t1"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("GetTask() after delete = %v, want ErrNotFound", err)
	}
	if _, err := store.GetComment(ctx, "alice", "c1"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("GetComment() after task delete = %v, want ErrNotFound", err)
	}
	if _, err := store.DeleteTask(ctx, "alice", "t1"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("second DeleteTask() = %v, want ErrNotFound", err)
	}
}

func testComments(t *testing.T, store db.Store) {
	ctx := context.Background()
	mustCreate(t, store, NewTask("t1", "alice", "Discuss", 0))

	for i := 3; i >= 1; i-- {
		// Insert out of order; listing sorts by created_at.
		c := &schema.Comment{
			ID:        fmt.Sprintf("c%d", i),
			TaskID:    "t1",
			UserID:    "alice",
			Content:   fmt.Sprintf("comment %d", i),
			CreatedAt: Base.Add(time.Duration(i) * time.Second),
		}
		if err := store.AddComment(ctx, c); err != nil {
			t.Fatalf("AddComment(%s) failed: %v", c.ID, err)
		}
	}

	comments, err := store.ListComments(ctx, "alice", "t1")
	if err != nil {
		t.Fatalf("ListComments() failed: %v", err)
	}
	var got []string
	for _, c := range comments {
		got = append(got, c.ID)
	}
	if !cmp.Equal(got, []string{"c1", "c2", "c3"}) {
		t.Errorf("ListComments() order = %v, want oldest first", got)
	}

	blank := &schema.Comment{ID: "c9", TaskID: "t1", UserID: "alice", Content: "  ", CreatedAt: Base}
	if err := store.AddComment(ctx, blank); !errors.Is(err, db.ErrInvalid) {
		t.Errorf("AddComment(blank) = %v, want ErrInvalid", err)
	}
	orphan := &schema.Comment{ID: "c8", TaskID: "missing", UserID: "alice", Content: "x", CreatedAt: Base}
	if err := store.AddComment(ctx, orphan); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("AddComment(missing task) = %v, want ErrNotFound", err)
	}

	deleted, err := store.DeleteComment(ctx, "alice", "c2")
	if err != nil {
		t.Fatalf("DeleteComment() failed: %v", err)
	}
	if deleted.TaskID != "t1" {
		t.Errorf("DeleteComment() task = %s, want t1", deleted.TaskID)
	}
	comments, err = store.ListComments(ctx, "alice", "t1")
	if err != nil {
		t.Fatalf("ListComments() failed: %v", err)
	}
	if len(comments) != 2 {
		t.Errorf("len(comments) = %d after delete, want 2", len(comments))
	}

	if _, err := store.ListComments(ctx, "bob", "t1"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("ListComments(bob) = %v, want ErrNotFound", err)
	}
}

func testStats(t *testing.T, store db.Store) {
	ctx := context.Background()
	a := NewTask("a", "alice", "A", 0)
	b := NewTask("b", "alice", "B", time.Second)
	b.Status = schema.StatusDone
	c := NewTask("c", "alice", "C", 2*time.Second)
	c.Status = schema.StatusDone
	mustCreate(t, store, a, b, c, NewTask("x", "bob", "X", 0))

	stats, err := store.TaskStats(ctx, "alice")
	if err != nil {
		t.Fatalf("TaskStats() failed: %v", err)
	}
	want := map[schema.Status]int{
		schema.StatusTodo:       1,
		schema.StatusInProgress: 0,
		schema.StatusDone:       2,
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("TaskStats() mismatch (-want +got):\n%s", diff)
	}
}

func ids(tasks []schema.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.ID)
	}
	return out
}
