// Package dialog is the create/edit task form: its values and defaults,
// validation, conversion to API payloads, and submission through the task
// cache.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/cache"
	"github.com/taskboard/kanban/internal/schema"
)

// ErrNotEditing is returned by Delete on a create dialog.
var ErrNotEditing = errors.New("only an existing task can be deleted")

// ValidationError names the field that failed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Values are the form fields.
type Values struct {
	Title       string
	Description string
	Priority    schema.Priority
	Status      schema.Status
	DueDate     *time.Time
}

// Defaults are the values of a new task opened from the status column.
func Defaults(status schema.Status) Values {
	if status == "" {
		status = schema.StatusTodo
	}
	return Values{Priority: schema.PriorityMedium, Status: status}
}

// FromTask loads the form from an existing task.
func FromTask(t schema.Task) Values {
	v := Values{
		Title:       t.Title,
		Description: t.DescriptionText(),
		Priority:    t.Priority,
		Status:      t.Status,
	}
	if t.DueDate != nil {
		due := *t.DueDate
		v.DueDate = &due
	}
	return v
}

// Validate checks the form.
func (v Values) Validate() error {
	if strings.TrimSpace(v.Title) == "" {
		return &ValidationError{Field: "title", Message: "Title is required"}
	}
	if utf8.RuneCountInString(v.Title) > schema.MaxTitleLength {
		return &ValidationError{Field: "title", Message: fmt.Sprintf("Title must be %d characters or less", schema.MaxTitleLength)}
	}
	if !v.Priority.Valid() {
		return &ValidationError{Field: "priority", Message: "Select a priority"}
	}
	if v.Status == "" {
		return &ValidationError{Field: "status", Message: "Select a status"}
	}
	return nil
}

func (v Values) description() *string {
	if v.Description == "" {
		return nil
	}
	d := v.Description
	return &d
}

func (v Values) dueDate() *time.Time {
	if v.DueDate == nil {
		return nil
	}
	d := v.DueDate.UTC()
	return &d
}

// ToUpdate sets every form field: an empty description and a missing due
// date are sent as null.
func (v Values) ToUpdate() schema.TaskUpdate {
	title, priority, status := v.Title, v.Priority, v.Status
	u := schema.TaskUpdate{
		Title:    &title,
		Priority: &priority,
		Status:   &status,
	}
	if d := v.description(); d != nil {
		u.Description = schema.Some(*d)
	} else {
		u.Description = schema.Null[string]()
	}
	if due := v.dueDate(); due != nil {
		u.DueDate = schema.Some(*due)
	} else {
		u.DueDate = schema.Null[time.Time]()
	}
	return u
}

// ToInsert builds the create payload.
func (v Values) ToInsert(userID string, tags []string) schema.TaskInsert {
	if tags == nil {
		tags = []string{}
	}
	return schema.TaskInsert{
		UserID:      userID,
		Title:       v.Title,
		Description: v.description(),
		Priority:    v.Priority,
		Status:      v.Status,
		DueDate:     v.dueDate(),
		Tags:        tags,
	}
}

// Tasks performs the mutations. *cache.TaskCache implements it.
type Tasks interface {
	Create(ctx context.Context, in schema.TaskInsert) (*schema.Task, error)
	Update(ctx context.Context, id string, patch schema.TaskUpdate) (*schema.Task, error)
	Delete(ctx context.Context, id string) error
}

// Suggester proposes tags for a new task.
type Suggester interface {
	SuggestTags(ctx context.Context, title, description string) ([]string, error)
}

// Config configures a Dialog.
type Config struct {
	Tasks Tasks
	// UserID is the signed-in user; without one Submit does nothing
	UserID string
	// Task is the task being edited, nil to create one
	Task *schema.Task
	// DefaultStatus is the column a new task is opened from (default todo)
	DefaultStatus schema.Status
	// Suggester fills the tags of new tasks (optional)
	Suggester Suggester
	// Comments backs the comment thread of an edited task (optional)
	Comments cache.CommentBackend
	Notify   cache.Notifier
	Logger   *zap.Logger
	Now      func() time.Time
}

// Dialog is one open task dialog.
type Dialog struct {
	Values Values

	tasks     Tasks
	userID    string
	task      *schema.Task
	suggester Suggester
	backend   cache.CommentBackend
	notify    cache.Notifier
	comments  *cache.CommentCache
	logger    *zap.Logger
	now       func() time.Time

	// form state
	dueText   string
	confirmed bool

	saved *schema.Task
}

// New opens a dialog for cfg.Task, or a create dialog when it is nil.
func New(cfg Config) *Dialog {
	d := &Dialog{
		tasks:     cfg.Tasks,
		userID:    cfg.UserID,
		suggester: cfg.Suggester,
		backend:   cfg.Comments,
		notify:    cfg.Notify,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.Reset(cfg.Task, cfg.DefaultStatus)
	return d
}

// Reset points the dialog at another task (or a new one) and reloads the
// form.
func (d *Dialog) Reset(task *schema.Task, defaultStatus schema.Status) {
	d.comments = nil
	d.saved = nil
	if task == nil {
		d.task = nil
		d.Values = Defaults(defaultStatus)
		return
	}
	t := task.Clone()
	d.task = &t
	d.Values = FromTask(t)
	if d.backend != nil {
		d.comments = cache.NewCommentCache(t.ID, cache.CommentConfig{
			Backend: d.backend,
			Notify:  d.notify,
			Logger:  d.logger,
		})
	}
}

// Editing reports whether the dialog edits an existing task.
func (d *Dialog) Editing() bool { return d.task != nil }

// Task returns the edited task, or nil.
func (d *Dialog) Task() *schema.Task { return d.task }

// Heading is the dialog title.
func (d *Dialog) Heading() string {
	if d.Editing() {
		return "Edit Task"
	}
	return "Create Task"
}

// SubmitLabel is the text of the submit button.
func (d *Dialog) SubmitLabel() string {
	if d.Editing() {
		return "Save Changes"
	}
	return "Create Task"
}

// CanDelete reports whether the delete action is offered.
func (d *Dialog) CanDelete() bool { return d.Editing() }

// Comments is the thread of the edited task, or nil when creating.
func (d *Dialog) Comments() *cache.CommentCache { return d.comments }

// Submit validates the form and creates or updates the task. Without a
// signed-in user it does nothing and reports false.
func (d *Dialog) Submit(ctx context.Context) (bool, error) {
	if d.userID == "" {
		return false, nil
	}
	if err := d.Values.Validate(); err != nil {
		return false, err
	}

	if d.task != nil {
		updated, err := d.tasks.Update(ctx, d.task.ID, d.Values.ToUpdate())
		if err != nil {
			return false, err
		}
		d.task = updated
		d.saved = updated
		return true, nil
	}

	tags := d.suggestTags(ctx)
	created, err := d.tasks.Create(ctx, d.Values.ToInsert(d.userID, tags))
	if err != nil {
		return false, err
	}
	d.saved = created
	return true, nil
}

// Saved is the task returned by the last successful Submit, or nil.
func (d *Dialog) Saved() *schema.Task { return d.saved }

func (d *Dialog) suggestTags(ctx context.Context) []string {
	if d.suggester == nil {
		return []string{}
	}
	tags, err := d.suggester.SuggestTags(ctx, d.Values.Title, d.Values.Description)
	if err != nil {
		d.logger.Warn("tag suggestion failed", zap.Error(err))
		return []string{}
	}
	return tags
}

// Delete deletes the edited task.
func (d *Dialog) Delete(ctx context.Context) error {
	if d.task == nil {
		return ErrNotEditing
	}
	return d.tasks.Delete(ctx, d.task.ID)
}
