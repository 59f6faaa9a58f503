package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/taskboard/kanban/internal/board"
	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/dialog"
	"github.com/taskboard/kanban/internal/printer"
	"github.com/taskboard/kanban/internal/schema"
	"github.com/taskboard/kanban/internal/tui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "board",
	Short:   "List, show, create, edit, move and delete tasks",
	Long: `Manage tasks on the board.

Task IDs may be abbreviated to any unique prefix, as shown by 'kanban task list'.`,
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		filter, err := listFilter(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		tasks, err := c.ListTasks(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(tasks)
		}
		if len(tasks) == 0 {
			printer.Info(out, "No tasks")
			return nil
		}
		return printer.Tasks(out, tasks, time.Now())
	},
}

func listFilter(cmd *cobra.Command) (db.ListTasksFilter, error) {
	var filter db.ListTasksFilter
	if s, _ := cmd.Flags().GetString("status"); s != "" {
		status, err := schema.ParseStatus(s)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}
	if p, _ := cmd.Flags().GetString("priority"); p != "" {
		priority, err := schema.ParsePriority(p)
		if err != nil {
			return filter, err
		}
		filter.Priority = priority
	}
	filter.Tag, _ = cmd.Flags().GetString("tag")
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	return filter, nil
}

var taskShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a task and its comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := connect(ctx)
		if err != nil {
			return err
		}
		t, err := s.resolveTask(ctx, args[0])
		if err != nil {
			return err
		}
		comments, err := s.client.ListComments(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("failed to list comments: %w", err)
		}

		out := cmd.OutOrStdout()
		now := time.Now()
		desc := t.DescriptionText()
		shown := *t
		shown.Description = nil
		printer.Task(out, &shown, now)
		if desc != "" {
			style := "notty"
			if isTerminal() {
				_, style = tui.NewRenderer(os.Stdout)
			}
			fmt.Fprintf(out, "\n%s\n", tui.RenderMarkdown(desc, 80, style))
		}
		fmt.Fprintf(out, "\nComments (%d)\n", len(comments))
		printer.Comments(out, comments, now)
		return nil
	},
}

var taskCreateCmd = &cobra.Command{
	Use:   "create [TITLE]",
	Short: "Create a task",
	Long: `Create a task from flags, or fill in the task form with --interactive.

Due dates accept 2006-01-02, RFC 3339 or plain English ("next friday",
"in 3 days"). Without --tags, tags are suggested from the title when
suggest.api_key is configured.

Examples:
  kanban task create "Write release notes" --priority high --due "next friday"
  kanban task create --interactive --status in-progress`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := connect(ctx)
		if err != nil {
			return err
		}
		out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
		notify := printNotices(out, errOut)

		status := schema.StatusTodo
		if v, _ := cmd.Flags().GetString("status"); v != "" {
			if status, err = schema.ParseStatus(v); err != nil {
				return err
			}
		}
		d := s.dialog(nil, status, notify)
		if len(args) == 1 {
			d.Values.Title = args[0]
		}
		if err := applyTaskFlags(cmd, &d.Values); err != nil {
			return err
		}

		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			if _, err := d.Run(ctx); err != nil {
				return err
			}
		} else if cmd.Flags().Changed("tags") {
			if err := d.Values.Validate(); err != nil {
				return err
			}
			tags, _ := cmd.Flags().GetStringSlice("tags")
			t, err := s.tasks(notify).Create(ctx, d.Values.ToInsert(s.userID, cleanTags(tags)))
			if err != nil {
				return err
			}
			printer.Info(out, "ID: %s", t.ID)
			return nil
		} else if _, err := d.Submit(ctx); err != nil {
			return err
		}
		if t := d.Saved(); t != nil {
			printer.Info(out, "ID: %s", t.ID)
		}
		return nil
	},
}

var taskEditCmd = &cobra.Command{
	Use:   "edit ID",
	Short: "Edit a task",
	Long: `Edit a task. Only the fields given as flags change; --interactive opens the
task form prefilled with the current values.

Examples:
  kanban task edit 3f2a --title "Write better release notes"
  kanban task edit 3f2a --no-due --description ""
  kanban task edit 3f2a --interactive`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := connect(ctx)
		if err != nil {
			return err
		}
		t, err := s.resolveTask(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		notify := printNotices(out, cmd.ErrOrStderr())
		d := s.dialog(t, "", notify)

		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			ok, err := d.Run(ctx)
			if err != nil {
				return err
			}
			if ok {
				printer.Success(out, "Task updated")
			}
			return nil
		}

		if err := applyTaskFlags(cmd, &d.Values); err != nil {
			return err
		}
		if cmd.Flags().Changed("status") {
			v, _ := cmd.Flags().GetString("status")
			if d.Values.Status, err = schema.ParseStatus(v); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("tags") {
			if err := d.Values.Validate(); err != nil {
				return err
			}
			tags, _ := cmd.Flags().GetStringSlice("tags")
			patch := d.Values.ToUpdate()
			cleaned := cleanTags(tags)
			patch.Tags = &cleaned
			if _, err := s.tasks(notify).Update(ctx, t.ID, patch); err != nil {
				return err
			}
		} else if _, err := d.Submit(ctx); err != nil {
			return err
		}
		printer.Success(out, "Task updated")
		return nil
	},
}

// applyTaskFlags copies the task flags that were set into values.
func applyTaskFlags(cmd *cobra.Command, values *dialog.Values) error {
	flags := cmd.Flags()
	if flags.Changed("title") {
		values.Title, _ = flags.GetString("title")
	}
	if flags.Changed("description") {
		values.Description, _ = flags.GetString("description")
	}
	if flags.Changed("priority") {
		v, _ := flags.GetString("priority")
		p, err := schema.ParsePriority(v)
		if err != nil {
			return err
		}
		values.Priority = p
	}
	if flags.Changed("due") {
		v, _ := flags.GetString("due")
		due, err := schema.ParseDueDate(v, time.Now())
		if err != nil {
			return err
		}
		values.DueDate = due
	}
	if noDue, _ := flags.GetBool("no-due"); noDue {
		values.DueDate = nil
	}
	return nil
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

var taskMoveCmd = &cobra.Command{
	Use:   "move ID STATUS",
	Short: "Move a task to another column (todo, in-progress, done)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		status, err := schema.ParseStatus(args[1])
		if err != nil {
			return err
		}
		s, err := connect(ctx)
		if err != nil {
			return err
		}
		t, err := s.resolveTask(ctx, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		col, _ := board.ColumnByID(string(status))
		if t.Status == status {
			printer.Info(out, "%q is already in %s", t.Title, col.Title)
			return nil
		}
		if _, err := s.tasks(printNotices(out, cmd.ErrOrStderr())).Move(ctx, t.ID, status); err != nil {
			return err
		}
		printer.Success(out, "Moved %q to %s", t.Title, col.Title)
		return nil
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:     "delete ID",
	Aliases: []string{"rm"},
	Short:   "Delete a task and its comments",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := connect(ctx)
		if err != nil {
			return err
		}
		t, err := s.resolveTask(ctx, args[0])
		if err != nil {
			return err
		}

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			if !isTerminal() {
				return errors.New("refusing to delete without --yes when not running in a terminal")
			}
			confirmed := false
			err := huh.NewForm(huh.NewGroup(huh.NewConfirm().
				Title(fmt.Sprintf("Delete %q?", t.Title)).
				Affirmative("Delete").
				Negative("Cancel").
				Value(&confirmed))).
				WithShowHelp(false).
				RunWithContext(ctx)
			if err != nil && !errors.Is(err, huh.ErrUserAborted) {
				return err
			}
			if !confirmed {
				return nil
			}
		}

		d := s.dialog(t, "", printNotices(cmd.OutOrStdout(), cmd.ErrOrStderr()))
		return d.Delete(ctx)
	},
}

func init() {
	taskListCmd.Flags().String("status", "", "only tasks in this column (todo, in-progress, done)")
	taskListCmd.Flags().String("priority", "", "only tasks with this priority (low, medium, high)")
	taskListCmd.Flags().String("tag", "", "only tasks carrying this tag")
	taskListCmd.Flags().Int("limit", 0, "maximum number of tasks (0 = all)")
	taskListCmd.Flags().Bool("json", false, "print JSON")

	for _, c := range []*cobra.Command{taskCreateCmd, taskEditCmd} {
		c.Flags().String("title", "", "task title")
		c.Flags().StringP("description", "d", "", "description (markdown)")
		c.Flags().StringP("priority", "p", "", "priority: low, medium or high")
		c.Flags().StringP("status", "s", "", "column: todo, in-progress or done")
		c.Flags().String("due", "", `due date ("2026-11-02", "next friday")`)
		c.Flags().StringSlice("tags", nil, "comma separated tags")
		c.Flags().BoolP("interactive", "i", false, "fill in the task form")
	}
	taskEditCmd.Flags().Bool("no-due", false, "clear the due date")
	taskDeleteCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	taskCmd.AddCommand(taskListCmd, taskShowCmd, taskCreateCmd, taskEditCmd, taskMoveCmd, taskDeleteCmd)
	rootCmd.AddCommand(taskCmd)
}
