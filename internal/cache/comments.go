package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/feed"
	"github.com/taskboard/kanban/internal/schema"
)

// ErrEmptyComment is returned by Add for blank content; nothing is sent.
var ErrEmptyComment = errors.New("comment is empty")

// CommentBackend is the server side of a CommentCache. *client.Client
// implements it.
type CommentBackend interface {
	ListComments(ctx context.Context, taskID string) ([]schema.Comment, error)
	AddComment(ctx context.Context, taskID, content string) (*schema.Comment, error)
	DeleteComment(ctx context.Context, id string) error
}

// CommentConfig configures a CommentCache.
type CommentConfig struct {
	Backend CommentBackend
	Notify  Notifier
	Logger  *zap.Logger
}

// CommentCache holds one task's comments, oldest first. A cache for an empty
// task ID is disabled: it never fetches and ignores events.
type CommentCache struct {
	taskID  string
	backend CommentBackend
	notify  Notifier
	logger  *zap.Logger

	mu       sync.Mutex
	comments []schema.Comment
	loaded   bool
	fetching int
	version  uint64

	obs observers[schema.Comment]
}

// NewCommentCache returns an empty cache for taskID.
func NewCommentCache(taskID string, cfg CommentConfig) *CommentCache {
	c := &CommentCache{
		taskID:   taskID,
		backend:  cfg.Backend,
		notify:   cfg.Notify,
		logger:   cfg.Logger,
		comments: []schema.Comment{},
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.obs.clone = slices.Clone[[]schema.Comment]
	return c
}

// TaskID is the task the cache is scoped to.
func (c *CommentCache) TaskID() string { return c.taskID }

// Enabled reports whether the cache has a task to follow.
func (c *CommentCache) Enabled() bool { return c.taskID != "" }

// Filter is the change-feed subscription the cache wants.
func (c *CommentCache) Filter() feed.Filter {
	return feed.Filter{Table: feed.TableComments, TaskID: c.taskID}
}

// Comments returns a copy of the cached comments.
func (c *CommentCache) Comments() []schema.Comment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.comments)
}

// Loading reports whether the first fetch is still in flight.
func (c *CommentCache) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.loaded && c.fetching > 0
}

// Subscribe registers fn to receive a copy of every new snapshot.
func (c *CommentCache) Subscribe(fn func([]schema.Comment)) func() {
	return c.obs.add(fn)
}

// Load fetches the task's comments. It does nothing when disabled.
func (c *CommentCache) Load(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	c.mu.Lock()
	c.fetching++
	c.mu.Unlock()

	comments, err := c.backend.ListComments(ctx, c.taskID)

	c.mu.Lock()
	c.fetching--
	if err == nil {
		c.loaded = true
	}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to fetch comments: %w", err)
	}

	c.update(func([]schema.Comment) []schema.Comment { return comments })
	return nil
}

// HandleEvent merges a comment insert or delete for this task. An
// invalidate means the feed dropped events, so the thread is refetched.
func (c *CommentCache) HandleEvent(ctx context.Context, ev feed.Event) {
	if !c.Enabled() {
		return
	}
	if ev.Type == feed.EventInvalidate {
		if (ev.Table == "" || ev.Table == feed.TableComments) && (ev.TaskID == "" || ev.TaskID == c.taskID) {
			if err := c.Load(ctx); err != nil {
				c.logger.Warn("refetch after invalidate failed", zap.String("task", c.taskID), zap.Error(err))
			}
		}
		return
	}
	if ev.Table != feed.TableComments || ev.TaskID != c.taskID {
		return
	}
	switch ev.Type {
	case feed.EventInsert:
		comment, err := ev.NewComment()
		if err != nil {
			c.logger.Warn("skipping comment event", zap.String("event", ev.ID), zap.Error(err))
			return
		}
		c.update(appendIfAbsent(*comment))
	case feed.EventDelete:
		id := ev.RecordID
		if old, err := ev.OldComment(); err == nil {
			id = old.ID
		}
		c.update(without(id))
	}
}

// Watch applies events until the channel closes or ctx ends.
func (c *CommentCache) Watch(ctx context.Context, events <-chan feed.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.HandleEvent(ctx, ev)
		}
	}
}

// Add posts a comment and appends the stored row once the server confirms.
func (c *CommentCache) Add(ctx context.Context, content string) (*schema.Comment, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("comment cache has no task")
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyComment
	}

	comment, err := c.backend.AddComment(ctx, c.taskID, content)
	if err != nil {
		c.notify.error("Failed to add comment: " + err.Error())
		return nil, err
	}
	c.update(appendIfAbsent(*comment))
	return comment, nil
}

// Delete removes a comment on the server, then locally.
func (c *CommentCache) Delete(ctx context.Context, id string) error {
	if err := c.backend.DeleteComment(ctx, id); err != nil {
		c.notify.error("Failed to delete comment: " + err.Error())
		return err
	}
	c.update(without(id))
	c.notify.success("Comment deleted")
	return nil
}

// update replaces the comment list with fn's result and notifies observers.
func (c *CommentCache) update(fn func([]schema.Comment) []schema.Comment) {
	c.mu.Lock()
	next := fn(c.comments)
	if next == nil {
		next = []schema.Comment{}
	}
	c.comments = next
	c.version++
	version := c.version
	c.mu.Unlock()

	c.obs.emit(version, next)
}

func appendIfAbsent(comment schema.Comment) func([]schema.Comment) []schema.Comment {
	return func(comments []schema.Comment) []schema.Comment {
		if slices.ContainsFunc(comments, func(x schema.Comment) bool { return x.ID == comment.ID }) {
			return comments
		}
		return append(slices.Clone(comments), comment)
	}
}

func without(id string) func([]schema.Comment) []schema.Comment {
	return func(comments []schema.Comment) []schema.Comment {
		return slices.DeleteFunc(slices.Clone(comments), func(x schema.Comment) bool { return x.ID == id })
	}
}
