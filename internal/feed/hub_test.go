package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/taskboard/kanban/internal/schema"
)

func testTask(id, user string) *schema.Task {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	return &schema.Task{
		ID: id, UserID: user, Title: "Task " + id,
		Status: schema.StatusTodo, Priority: schema.PriorityMedium,
		Tags: []string{}, CreatedAt: now, UpdatedAt: now,
	}
}

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_FilterByUserAndTable(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(HubConfig{})
	defer hub.Close()
	ctx := context.Background()

	alice, err := hub.Subscribe(ctx, Filter{Table: TableTasks, UserID: "alice"})
	require.NoError(t, err)
	bob, err := hub.Subscribe(ctx, Filter{Table: TableTasks, UserID: "bob"})
	require.NoError(t, err)

	ev, err := TaskEvent(EventInsert, testTask("t1", "alice"), nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, hub.Publish(ctx, ev))

	got := recv(t, alice)
	assert.Equal(t, EventInsert, got.Type)
	assert.Equal(t, "t1", got.RecordID)
	task, err := got.NewTask()
	require.NoError(t, err)
	assert.Equal(t, "Task t1", task.Title)

	assertNoEvent(t, bob)
}

func TestHub_TaskIDFilter(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(HubConfig{})
	defer hub.Close()
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, Filter{Table: TableComments, UserID: "alice", TaskID: "t1"})
	require.NoError(t, err)

	other, _ := CommentEvent(EventInsert, &schema.Comment{ID: "c0", TaskID: "t2", UserID: "alice", Content: "x"}, time.Now())
	mine, _ := CommentEvent(EventInsert, &schema.Comment{ID: "c1", TaskID: "t1", UserID: "alice", Content: "y"}, time.Now())
	require.NoError(t, hub.Publish(ctx, other))
	require.NoError(t, hub.Publish(ctx, mine))

	got := recv(t, sub)
	assert.Equal(t, "c1", got.RecordID)
	c, err := got.NewComment()
	require.NoError(t, err)
	assert.Equal(t, "y", c.Content)
	assertNoEvent(t, sub)
}

// TestHub_LaggingSubscriberGetsInvalidate checks that an overflowing
// subscriber is told to refetch without waiting for another publish.
func TestHub_LaggingSubscriberGetsInvalidate(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(HubConfig{BufferSize: 2})
	defer hub.Close()
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, Filter{UserID: "alice"})
	require.NoError(t, err)

	publish := func(id string) {
		ev, err := TaskEvent(EventUpdate, testTask(id, "alice"), nil, time.Now())
		require.NoError(t, err)
		require.NoError(t, hub.Publish(ctx, ev))
	}

	publish("a")
	publish("b")
	publish("c") // a is evicted, the invalidate queued behind b

	assert.Equal(t, "b", recv(t, sub).RecordID)
	inv := recv(t, sub)
	assert.Equal(t, EventInvalidate, inv.Type)
	assert.Equal(t, "alice", inv.UserID)
	assertNoEvent(t, sub)

	// Caught up: events flow untouched again
	publish("d")
	assert.Equal(t, "d", recv(t, sub).RecordID)
}

func TestHub_LaggingSubscriberWithoutFollowUp(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(HubConfig{BufferSize: 1})
	defer hub.Close()
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, Filter{Table: TableTasks, UserID: "alice"})
	require.NoError(t, err)

	for _, id := range []string{"e1", "e2"} {
		ev, err := TaskEvent(EventInsert, testTask(id, "alice"), nil, time.Now())
		require.NoError(t, err)
		require.NoError(t, hub.Publish(ctx, ev))
	}

	// Nothing else is published; the subscriber still finds out
	got := recv(t, sub)
	assert.Equal(t, EventInvalidate, got.Type)
	assert.Equal(t, TableTasks, got.Table)
	assertNoEvent(t, sub)
}

func TestHub_ContextCancelEndsSubscription(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(HubConfig{})
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Len())

	cancel()
	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "expected closed channel")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	assert.Equal(t, 0, hub.Len())

	// Close after cancel is a no-op.
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestHub_Close(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(HubConfig{})
	sub, err := hub.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)

	require.NoError(t, hub.Close())
	_, ok := <-sub.Events()
	assert.False(t, ok)
	require.NoError(t, sub.Close())

	assert.ErrorIs(t, hub.Publish(context.Background(), Event{}), ErrClosed)
	_, err = hub.Subscribe(context.Background(), Filter{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFilter_String(t *testing.T) {
	assert.Equal(t, "comments:alice:task_id=eq.42", Filter{Table: TableComments, UserID: "alice", TaskID: "42"}.String())
	assert.Equal(t, "*:bob", Filter{UserID: "bob"}.String())
}

func TestTaskEvent_DeleteCarriesOld(t *testing.T) {
	ev, err := TaskEvent(EventDelete, nil, testTask("t9", "alice"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "alice", ev.UserID)
	assert.Equal(t, "t9", ev.TaskID)
	assert.Empty(t, ev.New)

	old, err := ev.OldTask()
	require.NoError(t, err)
	assert.Equal(t, "t9", old.ID)

	_, err = ev.NewTask()
	assert.Error(t, err)
}
