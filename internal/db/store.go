package db

import (
	"context"
	"errors"
	"time"

	"github.com/taskboard/kanban/internal/schema"
)

var (
	// ErrNotFound is returned when a row does not exist or belongs to another user.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert collides with an existing row.
	ErrConflict = errors.New("conflict")
	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("invalid")
)

// Store is the relational backend behind the board. Every call is scoped to a
// user: rows owned by someone else behave as if they did not exist.
type Store interface {
	// ListTasks returns the user's tasks, newest first.
	ListTasks(ctx context.Context, userID string, filter ListTasksFilter) ([]schema.Task, error)
	GetTask(ctx context.Context, userID, id string) (*schema.Task, error)
	// CreateTask inserts a fully formed task. ErrConflict if the ID exists.
	CreateTask(ctx context.Context, task *schema.Task) error
	// UpsertTask inserts or replaces a task owned by task.UserID.
	UpsertTask(ctx context.Context, task *schema.Task) error
	// UpdateTask applies patch and returns the stored result.
	UpdateTask(ctx context.Context, userID, id string, patch schema.TaskUpdate, now time.Time) (*schema.Task, error)
	// DeleteTask removes the task and its comments, returning the deleted row.
	DeleteTask(ctx context.Context, userID, id string) (*schema.Task, error)
	// TaskStats counts the user's tasks per status.
	TaskStats(ctx context.Context, userID string) (map[schema.Status]int, error)

	// ListComments returns a task's comments, oldest first.
	ListComments(ctx context.Context, userID, taskID string) ([]schema.Comment, error)
	GetComment(ctx context.Context, userID, id string) (*schema.Comment, error)
	// AddComment inserts a comment. ErrNotFound if the task is not the user's.
	AddComment(ctx context.Context, comment *schema.Comment) error
	// DeleteComment removes a comment, returning the deleted row.
	DeleteComment(ctx context.Context, userID, id string) (*schema.Comment, error)

	InitSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// ListTasksFilter narrows ListTasks.
type ListTasksFilter struct {
	// Status filters by column (empty = all)
	Status schema.Status
	// Priority filters by priority (empty = all)
	Priority schema.Priority
	// Tag filters to tasks carrying the tag (empty = all)
	Tag string
	// Limit restricts the number of results (0 = no limit)
	Limit int
	// Offset skips the first N results
	Offset int
}
