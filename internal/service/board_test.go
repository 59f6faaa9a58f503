package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskboard/kanban/internal/ctxutil"
	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/feed"
	"github.com/taskboard/kanban/internal/schema"
)

var fixedNow = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

type failingStore struct {
	db.Store
}

func (failingStore) CreateTask(context.Context, *schema.Task) error {
	return errors.New("disk full")
}

func newTestBoard(t *testing.T) (*Board, *feed.Hub) {
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

	return New(Config{Store: store, Broker: hub, Now: func() time.Time { return fixedNow }}), hub
}

func subscribe(t *testing.T, board *Board, ctx context.Context, f feed.Filter) *feed.Subscription {
	t.Helper()
	sub, err := board.Subscribe(ctx, f)
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	t.Cleanup(func() { sub.Close() })
	return sub
}

func next(t *testing.T, sub *feed.Subscription) feed.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed event")
		return feed.Event{}
	}
}

func TestBoard_RequiresUser(t *testing.T) {
	board, _ := newTestBoard(t)
	_, err := board.ListTasks(context.Background(), db.ListTasksFilter{})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("ListTasks() without user = %v, want ErrUnauthenticated", err)
	}
}

func TestBoard_CreateDefaultsAndPublishes(t *testing.T) {
	board, _ := newTestBoard(t)
	ctx := ctxutil.WithUserID(context.Background(), "alice")
	sub := subscribe(t, board, ctx, feed.Filter{Table: feed.TableTasks})

	task, err := board.CreateTask(ctx, schema.TaskInsert{UserID: "mallory", Title: "Plan sprint"})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	if task.UserID != "alice" {
		t.Errorf("UserID = %q, want the context user", task.UserID)
	}
	if task.Status != schema.StatusTodo || task.Priority != schema.PriorityMedium {
		t.Errorf("defaults not applied: %+v", task)
	}
	if !task.CreatedAt.Equal(fixedNow) {
		t.Errorf("CreatedAt = %v, want %v", task.CreatedAt, fixedNow)
	}

	ev := next(t, sub)
	if ev.Type != feed.EventInsert || ev.RecordID != task.ID || ev.UserID != "alice" {
		t.Errorf("event = %+v", ev)
	}
}

func TestBoard_InvalidCreateDoesNotPublish(t *testing.T) {
	board, _ := newTestBoard(t)
	ctx := ctxutil.WithUserID(context.Background(), "alice")
	sub := subscribe(t, board, ctx, feed.Filter{})

	if _, err := board.CreateTask(ctx, schema.TaskInsert{Title: "  "}); !errors.Is(err, db.ErrInvalid) {
		t.Fatalf("CreateTask(blank) = %v, want ErrInvalid", err)
	}
	select {
	case ev := <-sub.Events():
		t.Errorf("unexpected event after failed create: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBoard_StoreFailureDoesNotPublish(t *testing.T) {
	board, hub := newTestBoard(t)
	board.store = failingStore{Store: board.store}
	ctx := ctxutil.WithUserID(context.Background(), "alice")

	sub, err := hub.Subscribe(ctx, feed.Filter{})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Close()

	if _, err := board.CreateTask(ctx, schema.TaskInsert{Title: "x"}); err == nil {
		t.Fatal("CreateTask() should surface the store error")
	}
	select {
	case ev := <-sub.Events():
		t.Errorf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBoard_MoveAndDelete(t *testing.T) {
	board, _ := newTestBoard(t)
	ctx := ctxutil.WithUserID(context.Background(), "alice")

	task, err := board.CreateTask(ctx, schema.TaskInsert{Title: "Ship it"})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	sub := subscribe(t, board, ctx, feed.Filter{Table: feed.TableTasks})

	moved, err := board.MoveTask(ctx, task.ID, schema.StatusInProgress)
	if err != nil {
		t.Fatalf("MoveTask() failed: %v", err)
	}
	if moved.Status != schema.StatusInProgress {
		t.Errorf("Status = %q, want in-progress", moved.Status)
	}
	ev := next(t, sub)
	old, err := ev.OldTask()
	if err != nil {
		t.Fatalf("OldTask() failed: %v", err)
	}
	if ev.Type != feed.EventUpdate || old.Status != schema.StatusTodo {
		t.Errorf("update event = %+v, old status %q", ev, old.Status)
	}

	if _, err := board.MoveTask(ctx, task.ID, "archived"); !errors.Is(err, db.ErrInvalid) {
		t.Errorf("MoveTask(archived) = %v, want ErrInvalid", err)
	}

	if _, err := board.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask() failed: %v", err)
	}
	if ev := next(t, sub); ev.Type != feed.EventDelete || ev.RecordID != task.ID {
		t.Errorf("delete event = %+v", ev)
	}
}

func TestBoard_OtherUsersEventsAreInvisible(t *testing.T) {
	board, _ := newTestBoard(t)
	alice := ctxutil.WithUserID(context.Background(), "alice")
	bob := ctxutil.WithUserID(context.Background(), "bob")

	// Bob asks for alice's feed; the user filter is forced to bob.
	sub := subscribe(t, board, bob, feed.Filter{UserID: "alice"})

	if _, err := board.CreateTask(alice, schema.TaskInsert{Title: "secret"}); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	select {
	case ev := <-sub.Events():
		t.Errorf("bob received alice's event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBoard_Comments(t *testing.T) {
	board, _ := newTestBoard(t)
	ctx := ctxutil.WithUserID(context.Background(), "alice")

	task, err := board.CreateTask(ctx, schema.TaskInsert{Title: "Discuss"})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	sub := subscribe(t, board, ctx, feed.Filter{Table: feed.TableComments, TaskID: task.ID})

	c, err := board.AddComment(ctx, task.ID, "first!")
	if err != nil {
		t.Fatalf("AddComment() failed: %v", err)
	}
	if ev := next(t, sub); ev.Type != feed.EventInsert || ev.RecordID != c.ID {
		t.Errorf("comment event = %+v", ev)
	}

	if _, err := board.AddComment(ctx, task.ID, ""); !errors.Is(err, db.ErrInvalid) {
		t.Errorf("AddComment(empty) = %v, want ErrInvalid", err)
	}

	comments, err := board.ListComments(ctx, task.ID)
	if err != nil {
		t.Fatalf("ListComments() failed: %v", err)
	}
	if len(comments) != 1 || comments[0].Content != "first!" {
		t.Errorf("ListComments() = %+v", comments)
	}

	if _, err := board.DeleteComment(ctx, c.ID); err != nil {
		t.Fatalf("DeleteComment() failed: %v", err)
	}
	ev := next(t, sub)
	old, err := ev.OldComment()
	if err != nil || ev.Type != feed.EventDelete || old.ID != c.ID {
		t.Errorf("delete event = %+v (%v)", ev, err)
	}
}

func TestBoard_UpsertReportsCreated(t *testing.T) {
	board, _ := newTestBoard(t)
	ctx := ctxutil.WithUserID(context.Background(), "alice")

	task := &schema.Task{ID: "inbox-1", Title: "From a file"}
	created, err := board.UpsertTask(ctx, task)
	if err != nil {
		t.Fatalf("UpsertTask() failed: %v", err)
	}
	if !created {
		t.Error("first UpsertTask() should report created")
	}

	again := &schema.Task{ID: "inbox-1", Title: "Edited", Status: schema.StatusDone}
	created, err = board.UpsertTask(ctx, again)
	if err != nil {
		t.Fatalf("second UpsertTask() failed: %v", err)
	}
	if created {
		t.Error("second UpsertTask() should report an update")
	}

	got, err := board.GetTask(ctx, "inbox-1")
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if got.Title != "Edited" || got.Status != schema.StatusDone {
		t.Errorf("GetTask() = %+v", got)
	}
	if !got.CreatedAt.Equal(task.CreatedAt) {
		t.Errorf("CreatedAt changed on update: %v -> %v", task.CreatedAt, got.CreatedAt)
	}
}

func TestBoard_Stats(t *testing.T) {
	board, _ := newTestBoard(t)
	ctx := ctxutil.WithUserID(context.Background(), "alice")
	for _, st := range []schema.Status{schema.StatusTodo, schema.StatusDone, schema.StatusDone} {
		if _, err := board.CreateTask(ctx, schema.TaskInsert{Title: "t", Status: st}); err != nil {
			t.Fatalf("CreateTask() failed: %v", err)
		}
	}
	stats, err := board.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats[schema.StatusDone] != 2 || stats[schema.StatusTodo] != 1 || stats[schema.StatusInProgress] != 0 {
		t.Errorf("Stats() = %v", stats)
	}
}
