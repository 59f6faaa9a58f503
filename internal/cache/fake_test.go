package cache

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/schema"
)

var errBoom = errors.New("boom")

var t0 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func task(id, title string, status schema.Status, age time.Duration) schema.Task {
	created := t0.Add(-age)
	return schema.Task{
		ID:        id,
		UserID:    "alice",
		Title:     title,
		Status:    status,
		Priority:  schema.PriorityMedium,
		Tags:      []string{},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// fakeTasks is an in-memory TaskBackend. gate, when set, blocks the next
// ListTasks call until it is closed; started is closed once that call began.
type fakeTasks struct {
	mu        sync.Mutex
	tasks     []schema.Task
	listCalls int
	fail      error
	gate      chan struct{}
	started   chan struct{}
	// release, when set, blocks mutations until closed
	release chan struct{}
}

func newFakeTasks(tasks ...schema.Task) *fakeTasks {
	return &fakeTasks{tasks: tasks}
}

func (f *fakeTasks) ListTasks(ctx context.Context, _ db.ListTasksFilter) ([]schema.Task, error) {
	f.mu.Lock()
	f.listCalls++
	snapshot := slices.Clone(f.tasks)
	gate, started := f.gate, f.started
	f.gate, f.started = nil, nil
	f.mu.Unlock()

	if gate != nil {
		close(started)
		<-gate
	}
	if snapshot == nil {
		snapshot = []schema.Task{}
	}
	return snapshot, nil
}

func (f *fakeTasks) wait() error {
	f.mu.Lock()
	release, fail := f.release, f.fail
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return fail
}

func (f *fakeTasks) CreateTask(ctx context.Context, in schema.TaskInsert) (*schema.Task, error) {
	if err := f.wait(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	created := in.NewTask(uuid.NewString(), t0)
	created.UserID = "alice"
	f.tasks = append([]schema.Task{created}, f.tasks...)
	return &created, nil
}

func (f *fakeTasks) UpdateTask(ctx context.Context, id string, patch schema.TaskUpdate) (*schema.Task, error) {
	if err := f.wait(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.tasks {
		if t.ID == id {
			f.tasks[i] = schema.Apply(t, patch)
			updated := f.tasks[i]
			return &updated, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeTasks) DeleteTask(ctx context.Context, id string) error {
	if err := f.wait(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.tasks)
	f.tasks = slices.DeleteFunc(f.tasks, func(t schema.Task) bool { return t.ID == id })
	if len(f.tasks) == n {
		return db.ErrNotFound
	}
	return nil
}

func (f *fakeTasks) set(tasks ...schema.Task) {
	f.mu.Lock()
	f.tasks = tasks
	f.mu.Unlock()
}

func (f *fakeTasks) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// fakeComments is an in-memory CommentBackend for one user.
type fakeComments struct {
	mu        sync.Mutex
	comments  []schema.Comment
	listCalls int
	addCalls  int
	fail      error
	next      int
}

func (f *fakeComments) ListComments(ctx context.Context, taskID string) ([]schema.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var out []schema.Comment
	for _, c := range f.comments {
		if c.TaskID == taskID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeComments) AddComment(ctx context.Context, taskID, content string) (*schema.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	if f.fail != nil {
		return nil, f.fail
	}
	f.next++
	c := schema.Comment{
		ID:        "c" + string(rune('0'+f.next)),
		TaskID:    taskID,
		UserID:    "alice",
		Content:   content,
		CreatedAt: t0.Add(time.Duration(f.next) * time.Minute),
	}
	f.comments = append(f.comments, c)
	return &c, nil
}

func (f *fakeComments) DeleteComment(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.comments = slices.DeleteFunc(f.comments, func(c schema.Comment) bool { return c.ID == id })
	return nil
}

// recorder collects notices.
type recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recorder) notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *recorder) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.notices)
}
