package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/feed"
	"github.com/taskboard/kanban/internal/schema"
)

// ErrStale is returned by Load when a newer mutation or invalidation started
// while the fetch was in flight; its result was discarded.
var ErrStale = errors.New("fetch superseded by a newer change")

// TaskBackend is the server side of a TaskCache. *client.Client implements it.
type TaskBackend interface {
	ListTasks(ctx context.Context, filter db.ListTasksFilter) ([]schema.Task, error)
	CreateTask(ctx context.Context, in schema.TaskInsert) (*schema.Task, error)
	UpdateTask(ctx context.Context, id string, patch schema.TaskUpdate) (*schema.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// TaskConfig configures a TaskCache.
type TaskConfig struct {
	Backend TaskBackend
	Notify  Notifier
	Logger  *zap.Logger
	// Now stamps optimistic tasks (default: time.Now)
	Now func() time.Time
}

// TaskCache holds all of the user's tasks, newest first.
type TaskCache struct {
	backend TaskBackend
	notify  Notifier
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	tasks    []schema.Task
	loaded   bool
	fetching int
	err      error
	// gen is bumped whenever in-flight fetches must be ignored
	gen     uint64
	version uint64

	obs observers[schema.Task]
}

// NewTaskCache returns an empty cache. Call Load to fill it.
func NewTaskCache(cfg TaskConfig) *TaskCache {
	c := &TaskCache{
		backend: cfg.Backend,
		notify:  cfg.Notify,
		logger:  cfg.Logger,
		now:     cfg.Now,
		tasks:   []schema.Task{},
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.obs.clone = cloneTasks
	return c
}

// Tasks returns a copy of the cached tasks.
func (c *TaskCache) Tasks() []schema.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneTasks(c.tasks)
}

// Task returns one cached task.
func (c *TaskCache) Task(id string) (schema.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tasks {
		if t.ID == id {
			return t.Clone(), true
		}
	}
	return schema.Task{}, false
}

// Loading reports whether the first fetch is still in flight.
func (c *TaskCache) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.loaded && c.fetching > 0
}

// Err returns the error of the last fetch, if it failed.
func (c *TaskCache) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Subscribe registers fn to receive a copy of every new snapshot. The
// returned function unregisters it.
func (c *TaskCache) Subscribe(fn func([]schema.Task)) func() {
	return c.obs.add(fn)
}

// Load fetches every task. The result is dropped (ErrStale) if a mutation or
// invalidation started after the fetch did.
func (c *TaskCache) Load(ctx context.Context) error {
	c.mu.Lock()
	gen := c.gen
	c.fetching++
	c.mu.Unlock()

	tasks, err := c.backend.ListTasks(ctx, db.ListTasksFilter{})

	c.mu.Lock()
	c.fetching--
	if gen != c.gen {
		c.mu.Unlock()
		c.logger.Debug("discarding stale task fetch")
		return ErrStale
	}
	if err != nil {
		c.err = err
		c.mu.Unlock()
		return fmt.Errorf("failed to fetch tasks: %w", err)
	}
	c.err = nil
	c.loaded = true
	version, snapshot := c.setLocked(tasks)
	c.mu.Unlock()

	c.obs.emit(version, snapshot)
	return nil
}

// Invalidate cancels in-flight fetches and refetches.
func (c *TaskCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
	return c.Load(ctx)
}

// HandleEvent invalidates the cache for any task change.
func (c *TaskCache) HandleEvent(ctx context.Context, ev feed.Event) {
	if ev.Type != feed.EventInvalidate && ev.Table != feed.TableTasks {
		return
	}
	if err := c.Invalidate(ctx); err != nil && !errors.Is(err, ErrStale) {
		c.logger.Warn("refetch after change event failed", zap.String("event", ev.ID), zap.Error(err))
	}
}

// Watch applies events until the channel closes or ctx ends.
func (c *TaskCache) Watch(ctx context.Context, events <-chan feed.Event) {
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

// Create prepends an optimistic copy of in, then creates it on the server.
func (c *TaskCache) Create(ctx context.Context, in schema.TaskInsert) (*schema.Task, error) {
	in.SetDefaults()
	optimistic := in.NewTask(uuid.NewString(), c.now().UTC())

	prev := c.mutate(func(tasks []schema.Task) []schema.Task {
		return append([]schema.Task{optimistic}, tasks...)
	})

	task, err := c.backend.CreateTask(ctx, in)
	if err != nil {
		c.rollback(prev)
		c.notify.error("Failed to create task")
		c.settle(ctx)
		return nil, err
	}
	c.notify.success("Task created")
	c.settle(ctx)
	return task, nil
}

// Update applies patch locally, then on the server.
func (c *TaskCache) Update(ctx context.Context, id string, patch schema.TaskUpdate) (*schema.Task, error) {
	prev := c.mutate(func(tasks []schema.Task) []schema.Task {
		out := make([]schema.Task, len(tasks))
		for i, t := range tasks {
			if t.ID == id {
				t = schema.Apply(t, patch)
			}
			out[i] = t
		}
		return out
	})

	task, err := c.backend.UpdateTask(ctx, id, patch)
	if err != nil {
		c.rollback(prev)
		c.notify.error("Failed to update task")
		c.settle(ctx)
		return nil, err
	}
	c.settle(ctx)
	return task, nil
}

// Move is Update with only a status change.
func (c *TaskCache) Move(ctx context.Context, id string, status schema.Status) (*schema.Task, error) {
	return c.Update(ctx, id, schema.StatusUpdate(status))
}

// Delete removes the task locally, then on the server.
func (c *TaskCache) Delete(ctx context.Context, id string) error {
	prev := c.mutate(func(tasks []schema.Task) []schema.Task {
		return slices.DeleteFunc(slices.Clone(tasks), func(t schema.Task) bool { return t.ID == id })
	})

	if err := c.backend.DeleteTask(ctx, id); err != nil {
		c.rollback(prev)
		c.notify.error("Failed to delete task")
		c.settle(ctx)
		return err
	}
	c.notify.success("Task deleted")
	c.settle(ctx)
	return nil
}

// mutate cancels in-flight fetches, snapshots the cache and applies fn.
func (c *TaskCache) mutate(fn func([]schema.Task) []schema.Task) []schema.Task {
	c.mu.Lock()
	c.gen++
	prev := c.tasks
	version, snapshot := c.setLocked(fn(prev))
	c.mu.Unlock()

	c.obs.emit(version, snapshot)
	return prev
}

func (c *TaskCache) rollback(prev []schema.Task) {
	c.mu.Lock()
	version, snapshot := c.setLocked(prev)
	c.mu.Unlock()
	c.obs.emit(version, snapshot)
}

// settle refetches after a mutation, whatever its outcome.
func (c *TaskCache) settle(ctx context.Context) {
	if err := c.Invalidate(ctx); err != nil && !errors.Is(err, ErrStale) {
		c.logger.Warn("refetch after mutation failed", zap.Error(err))
	}
}

// setLocked replaces the task list. The slice is never modified in place
// afterwards, so it doubles as a rollback snapshot.
func (c *TaskCache) setLocked(tasks []schema.Task) (uint64, []schema.Task) {
	if tasks == nil {
		tasks = []schema.Task{}
	}
	c.tasks = tasks
	c.version++
	return c.version, tasks
}

func cloneTasks(tasks []schema.Task) []schema.Task {
	out := make([]schema.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}
