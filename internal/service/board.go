// Package service implements board operations on top of a db.Store and
// announces every successful change on the feed.
//
// The acting user always comes from the context (see ctxutil). Payload user
// IDs are overwritten, so a caller can never write into another user's board.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/ctxutil"
	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/feed"
	"github.com/taskboard/kanban/internal/schema"
)

// ErrUnauthenticated is returned when the context carries no user.
var ErrUnauthenticated = errors.New("not authenticated")

// Config configures a Board.
type Config struct {
	Store db.Store
	// Broker receives change events; nil disables publishing.
	Broker feed.Broker
	Logger *zap.Logger
	// Now is the clock (default time.Now).
	Now func() time.Time
}

// Board is the task board service.
type Board struct {
	store  db.Store
	broker feed.Broker
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Board.
func New(cfg Config) *Board {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Board{
		store:  cfg.Store,
		broker: cfg.Broker,
		logger: cfg.Logger,
		now:    func() time.Time { return cfg.Now().UTC() },
	}
}

// Store returns the underlying store.
func (b *Board) Store() db.Store {
	return b.store
}

func userFrom(ctx context.Context) (string, error) {
	user := ctxutil.UserIDFromContext(ctx)
	if user == "" {
		return "", ErrUnauthenticated
	}
	return user, nil
}

// ListTasks returns the user's tasks, newest first.
func (b *Board) ListTasks(ctx context.Context, filter db.ListTasksFilter) ([]schema.Task, error) {
	user, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", db.ErrInvalid, filter.Status)
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return nil, fmt.Errorf("%w: invalid priority %q", db.ErrInvalid, filter.Priority)
	}
	return b.store.ListTasks(ctx, user, filter)
}

// GetTask returns one task.
func (b *Board) GetTask(ctx context.Context, id string) (*schema.Task, error) {
	user, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	return b.store.GetTask(ctx, user, id)
}

// CreateTask stores a new task owned by the context user.
func (b *Board) CreateTask(ctx context.Context, in schema.TaskInsert) (*schema.Task, error) {
	user, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	in.UserID = user
	in.SetDefaults()
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", db.ErrInvalid, err)
	}

	task := in.NewTask(uuid.NewString(), b.now())
	if err := b.store.CreateTask(ctx, &task); err != nil {
		return nil, err
	}

	b.logger.Debug("task created", zap.String("user", user), zap.String("task", task.ID))
	b.publishTask(ctx, feed.EventInsert, &task, nil)
	return &task, nil
}

// UpdateTask applies a partial update.
func (b *Board) UpdateTask(ctx context.Context, id string, patch schema.TaskUpdate) (*schema.Task, error) {
	user, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, fmt.Errorf("%w: empty update", db.ErrInvalid)
	}

	old, err := b.store.GetTask(ctx, user, id)
	if err != nil {
		return nil, err
	}
	task, err := b.store.UpdateTask(ctx, user, id, patch, b.now())
	if err != nil {
		return nil, err
	}

	b.logger.Debug("task updated", zap.String("user", user), zap.String("task", id))
	b.publishTask(ctx, feed.EventUpdate, task, old)
	return task, nil
}

// MoveTask changes a task's column.
func (b *Board) MoveTask(ctx context.Context, id string, status schema.Status) (*schema.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", db.ErrInvalid, status)
	}
	return b.UpdateTask(ctx, id, schema.StatusUpdate(status))
}

// DeleteTask removes a task and its comments.
func (b *Board) DeleteTask(ctx context.Context, id string) (*schema.Task, error) {
	user, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	task, err := b.store.DeleteTask(ctx, user, id)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("task deleted", zap.String("user", user), zap.String("task", id))
	b.publishTask(ctx, feed.EventDelete, nil, task)
	return task, nil
}

// UpsertTask writes a complete task, as read from a task file or an export.
// It reports whether the task was new.
func (b *Board) UpsertTask(ctx context.Context, task *schema.Task) (created bool, err error) {
	user, err := userFrom(ctx)
	if err != nil {
		return false, err
	}
	task.UserID = user
	task.SetDefaults()
	if err := task.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", db.ErrInvalid, err)
	}

	old, err := b.store.GetTask(ctx, user, task.ID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		old = nil
	case err != nil:
		return false, err
	}

	if old != nil {
		task.CreatedAt = old.CreatedAt
		task.UpdatedAt = b.now()
	}
	if err := b.store.UpsertTask(ctx, task); err != nil {
		return false, err
	}

	if old == nil {
		b.publishTask(ctx, feed.EventInsert, task, nil)
		return true, nil
	}
	b.publishTask(ctx, feed.EventUpdate, task, old)
	return false, nil
}

// Stats counts the user's tasks per status.
func (b *Board) Stats(ctx context.Context) (map[schema.Status]int, error) {
	user, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	return b.store.TaskStats(ctx, user)
}

// ListComments returns a task's thread, oldest first.
func (b *Board) ListComments(ctx context.Context, taskID string) ([]schema.Comment, error) {
	user, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	return b.store.ListComments(ctx, user, taskID)
}

// AddComment appends a comment to one of the user's tasks.
func (b *Board) AddComment(ctx context.Context, taskID, content string) (*schema.Comment, error) {
	user, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	in := schema.CommentInsert{TaskID: taskID, UserID: user, Content: content}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", db.ErrInvalid, err)
	}

	c := &schema.Comment{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		UserID:    user,
		Content:   content,
		CreatedAt: b.now(),
	}
	if err := b.store.AddComment(ctx, c); err != nil {
		return nil, err
	}
	b.publishComment(ctx, feed.EventInsert, c)
	return c, nil
}

// DeleteComment removes a comment.
func (b *Board) DeleteComment(ctx context.Context, id string) (*schema.Comment, error) {
	user, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	c, err := b.store.DeleteComment(ctx, user, id)
	if err != nil {
		return nil, err
	}
	b.publishComment(ctx, feed.EventDelete, c)
	return c, nil
}

// Subscribe opens a feed subscription scoped to the context user.
func (b *Board) Subscribe(ctx context.Context, filter feed.Filter) (*feed.Subscription, error) {
	user, err := userFrom(ctx)
	if err != nil {
		return nil, err
	}
	if b.broker == nil {
		return nil, fmt.Errorf("change feed is not configured")
	}
	if filter.Table != "" && !filter.Table.Valid() {
		return nil, fmt.Errorf("%w: unknown table %q", db.ErrInvalid, filter.Table)
	}
	filter.UserID = user
	return b.broker.Subscribe(ctx, filter)
}

// Publishing never fails the mutation: the row is already committed.
func (b *Board) publishTask(ctx context.Context, typ feed.EventType, newTask, oldTask *schema.Task) {
	if b.broker == nil {
		return
	}
	ev, err := feed.TaskEvent(typ, newTask, oldTask, b.now())
	if err != nil {
		b.logger.Warn("failed to build task event", zap.Error(err))
		return
	}
	b.publish(ctx, ev)
}

func (b *Board) publishComment(ctx context.Context, typ feed.EventType, c *schema.Comment) {
	if b.broker == nil {
		return
	}
	ev, err := feed.CommentEvent(typ, c, b.now())
	if err != nil {
		b.logger.Warn("failed to build comment event", zap.Error(err))
		return
	}
	b.publish(ctx, ev)
}

func (b *Board) publish(ctx context.Context, ev feed.Event) {
	if err := b.broker.Publish(context.WithoutCancel(ctx), ev); err != nil {
		b.logger.Warn("failed to publish change event",
			zap.String("table", string(ev.Table)),
			zap.String("type", string(ev.Type)),
			zap.String("record", ev.RecordID),
			zap.Error(err))
	}
}
