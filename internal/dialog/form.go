package dialog

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/taskboard/kanban/internal/board"
	"github.com/taskboard/kanban/internal/schema"
)

const dueLayout = "2006-01-02"

// Form builds the interactive form bound to d.Values. The due date is edited
// as text; call Complete once the form has finished.
func (d *Dialog) Form() *huh.Form {
	d.dueText = ""
	if d.Values.DueDate != nil {
		d.dueText = d.Values.DueDate.Format(dueLayout)
	}
	d.confirmed = true

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("title").
				Title("Title").
				Placeholder("Task title").
				Value(&d.Values.Title).
				Validate(validateTitle),
			huh.NewText().
				Key("description").
				Title("Description").
				Placeholder("Add a description...").
				Value(&d.Values.Description),
			huh.NewSelect[schema.Priority]().
				Key("priority").
				Title("Priority").
				Options(priorityOptions()...).
				Value(&d.Values.Priority),
			huh.NewSelect[schema.Status]().
				Key("status").
				Title("Status").
				Options(statusOptions()...).
				Value(&d.Values.Status),
			huh.NewInput().
				Key("due").
				Title("Due date").
				Description(`2006-01-02, "next friday", or empty for none`).
				Value(&d.dueText).
				Validate(d.validateDue),
			huh.NewConfirm().
				Key("submit").
				Title(d.Heading()).
				Affirmative(d.SubmitLabel()).
				Negative("Cancel").
				Value(&d.confirmed),
		),
	).WithShowHelp(true)
}

// Complete applies the text fields of a finished form and submits it unless
// it was cancelled.
func (d *Dialog) Complete(ctx context.Context) (bool, error) {
	if !d.confirmed {
		return false, nil
	}
	due, err := schema.ParseDueDate(d.dueText, d.now())
	if err != nil {
		return false, &ValidationError{Field: "due_date", Message: err.Error()}
	}
	d.Values.DueDate = due
	return d.Submit(ctx)
}

// Run shows the form on the terminal and submits it.
func (d *Dialog) Run(ctx context.Context) (bool, error) {
	if err := d.Form().RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("failed to run task form: %w", err)
	}
	return d.Complete(ctx)
}

func validateTitle(s string) error {
	return Values{Title: s, Priority: schema.PriorityMedium, Status: schema.StatusTodo}.Validate()
}

func (d *Dialog) validateDue(s string) error {
	_, err := schema.ParseDueDate(s, d.now())
	return err
}

func priorityOptions() []huh.Option[schema.Priority] {
	opts := make([]huh.Option[schema.Priority], 0, len(schema.Priorities))
	for _, p := range schema.Priorities {
		opts = append(opts, huh.NewOption(board.PriorityLabel(p), p))
	}
	return opts
}

func statusOptions() []huh.Option[schema.Status] {
	opts := make([]huh.Option[schema.Status], 0, len(board.Columns))
	for _, c := range board.Columns {
		opts = append(opts, huh.NewOption(c.Title, c.Status))
	}
	return opts
}
