package schema

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxTitleLength bounds task titles.
const MaxTitleLength = 500

// Status is the board column a task sits in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Statuses lists every status in board order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

// Valid reports whether s is one of the three board statuses.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// ParseStatus accepts the wire values plus a few spellings people type on the
// command line ("in_progress", "doing", "completed").
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "todo", "to-do", "to_do":
		return StatusTodo, nil
	case "in-progress", "in_progress", "inprogress", "doing":
		return StatusInProgress, nil
	case "done", "completed", "complete":
		return StatusDone, nil
	}
	return "", fmt.Errorf("unknown status %q (want todo, in-progress or done)", s)
}

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Priorities lists every priority from lowest to highest.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return slices.Contains(Priorities, p)
}

// Rank orders priorities for sorting: high=0, medium=1, low=2.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// ParsePriority parses a priority name case-insensitively.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q (want low, medium or high)", s)
	}
	return p, nil
}

// Task is a card on the board.
type Task struct {
	ID          string     `json:"id" yaml:"id,omitempty" toml:"id,omitempty"`
	UserID      string     `json:"user_id" yaml:"user_id,omitempty" toml:"user_id,omitempty"`
	Title       string     `json:"title" yaml:"title" toml:"title"`
	Description *string    `json:"description" yaml:"description,omitempty" toml:"description,omitempty"`
	Status      Status     `json:"status" yaml:"status,omitempty" toml:"status,omitempty"`
	Priority    Priority   `json:"priority" yaml:"priority,omitempty" toml:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date" yaml:"due_date,omitempty" toml:"due_date,omitempty"`
	Tags        []string   `json:"tags" yaml:"tags,omitempty" toml:"tags,omitempty"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at,omitempty" toml:"created_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at,omitempty" toml:"updated_at,omitempty"`
}

// Validate checks a stored task.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if err := validateTitle(t.Title); err != nil {
		return err
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", t.Priority)
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// SetDefaults fills the optional fields a task file or import may omit.
func (t *Task) SetDefaults() {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
}

// DescriptionText returns the description or "" when it is null.
func (t *Task) DescriptionText() string {
	if t.Description == nil {
		return ""
	}
	return *t.Description
}

// Overdue reports whether the task has a due date before now and is not done.
func (t *Task) Overdue(now time.Time) bool {
	return t.DueDate != nil && t.Status != StatusDone && t.DueDate.Before(now)
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	if t.Description != nil {
		d := *t.Description
		t.Description = &d
	}
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	t.Tags = slices.Clone(t.Tags)
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return t
}

// TaskInsert is the payload for creating a task. The server assigns the ID
// and timestamps.
type TaskInsert struct {
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
	Tags        []string   `json:"tags"`
}

// SetDefaults fills status, priority and tags when omitted.
func (in *TaskInsert) SetDefaults() {
	if in.Status == "" {
		in.Status = StatusTodo
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if in.Tags == nil {
		in.Tags = []string{}
	}
}

// Validate checks a create payload.
func (in *TaskInsert) Validate() error {
	if err := validateTitle(in.Title); err != nil {
		return err
	}
	if !in.Status.Valid() {
		return fmt.Errorf("invalid status %q", in.Status)
	}
	if !in.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", in.Priority)
	}
	return nil
}

// NewTask materialises an insert into a task with the given ID and creation
// time.
func (in TaskInsert) NewTask(id string, now time.Time) Task {
	t := Task{
		ID:          id,
		UserID:      in.UserID,
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
		Tags:        in.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return t.Clone()
}

// TaskUpdate is a partial update. Nil pointers and unset Nullable fields are
// left untouched.
type TaskUpdate struct {
	Title       *string             `json:"title,omitempty"`
	Description Nullable[string]    `json:"description,omitzero"`
	Status      *Status             `json:"status,omitempty"`
	Priority    *Priority           `json:"priority,omitempty"`
	DueDate     Nullable[time.Time] `json:"due_date,omitzero"`
	Tags        *[]string           `json:"tags,omitempty"`
}

// StatusUpdate is the patch a board drop produces.
func StatusUpdate(s Status) TaskUpdate {
	return TaskUpdate{Status: &s}
}

// Empty reports whether the patch changes nothing.
func (u TaskUpdate) Empty() bool {
	return u.Title == nil && !u.Description.Set && u.Status == nil &&
		u.Priority == nil && !u.DueDate.Set && u.Tags == nil
}

// Validate checks the fields the patch sets.
func (u *TaskUpdate) Validate() error {
	if u.Title != nil {
		if err := validateTitle(*u.Title); err != nil {
			return err
		}
	}
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("invalid status %q", *u.Status)
	}
	if u.Priority != nil && !u.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", *u.Priority)
	}
	return nil
}

// Apply merges u into t and returns the result. t is not modified.
func Apply(t Task, u TaskUpdate) Task {
	out := t.Clone()
	if u.Title != nil {
		out.Title = *u.Title
	}
	if u.Description.Set {
		out.Description = u.Description.Ptr()
	}
	if u.Status != nil {
		out.Status = *u.Status
	}
	if u.Priority != nil {
		out.Priority = *u.Priority
	}
	if u.DueDate.Set {
		out.DueDate = u.DueDate.Ptr()
	}
	if u.Tags != nil {
		out.Tags = slices.Clone(*u.Tags)
		if out.Tags == nil {
			out.Tags = []string{}
		}
	}
	return out
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title is required")
	}
	if n := utf8.RuneCountInString(title); n > MaxTitleLength {
		return fmt.Errorf("title must be %d characters or less (got %d)", MaxTitleLength, n)
	}
	return nil
}
