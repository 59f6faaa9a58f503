// Package printer writes the CLI's human output: status lines and task
// tables.
package printer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/taskboard/kanban/internal/board"
	"github.com/taskboard/kanban/internal/schema"
)

func init() {
	if os.Getenv("NO_COLOR") != "" || !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Success prints a green line with a checkmark.
func Success(w io.Writer, format string, a ...any) {
	green.Fprintf(w, "✓ %s\n", fmt.Sprintf(format, a...))
}

// Warning prints a yellow line.
func Warning(w io.Writer, format string, a ...any) {
	yellow.Fprintf(w, "⚠ %s\n", fmt.Sprintf(format, a...))
}

// Error prints a red line.
func Error(w io.Writer, format string, a ...any) {
	red.Fprintf(w, "✗ %s\n", fmt.Sprintf(format, a...))
}

// Info prints a plain line.
func Info(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, format+"\n", a...)
}

// PriorityColor returns the color of a priority badge.
func PriorityColor(p schema.Priority) *color.Color {
	switch p {
	case schema.PriorityHigh:
		return red
	case schema.PriorityLow:
		return faint
	}
	return yellow
}

// Due renders a due date relative to now ("in 3 days", "2 days ago") and
// marks it when the task is overdue.
func Due(t *schema.Task, now time.Time) string {
	if t.DueDate == nil {
		return ""
	}
	rel := humanize.RelTime(*t.DueDate, now, "ago", "from now")
	if t.Overdue(now) {
		return red.Sprint(rel + " (overdue)")
	}
	return rel
}

// Tasks prints a table of tasks.
func Tasks(w io.Writer, tasks []schema.Task, now time.Time) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Title", "Status", "Priority", "Due", "Tags")
	for _, t := range tasks {
		status := string(t.Status)
		if c, ok := board.ColumnByID(status); ok {
			status = c.Title
		}
		if err := table.Append(
			shortID(t.ID),
			t.Title,
			status,
			PriorityColor(t.Priority).Sprint(board.PriorityLabel(t.Priority)),
			Due(&t, now),
			strings.Join(t.Tags, ", "),
		); err != nil {
			return fmt.Errorf("failed to render task %s: %w", t.ID, err)
		}
	}
	return table.Render()
}

// Task prints one task in detail.
func Task(w io.Writer, t *schema.Task, now time.Time) {
	cyan.Fprintf(w, "%s\n", t.Title)
	fmt.Fprintf(w, "  ID:       %s\n", t.ID)
	status := string(t.Status)
	if c, ok := board.ColumnByID(status); ok {
		status = c.Icon + " " + c.Title
	}
	fmt.Fprintf(w, "  Status:   %s\n", status)
	fmt.Fprintf(w, "  Priority: %s\n", PriorityColor(t.Priority).Sprint(board.PriorityLabel(t.Priority)))
	if t.DueDate != nil {
		fmt.Fprintf(w, "  Due:      %s (%s)\n", t.DueDate.Format("Mon Jan 2 2006"), Due(t, now))
	}
	if len(t.Tags) > 0 {
		fmt.Fprintf(w, "  Tags:     %s\n", strings.Join(t.Tags, ", "))
	}
	fmt.Fprintf(w, "  Created:  %s\n", humanize.RelTime(t.CreatedAt, now, "ago", "from now"))
	if d := t.DescriptionText(); d != "" {
		fmt.Fprintf(w, "\n%s\n", d)
	}
}

// Comments prints a comment thread, oldest first.
func Comments(w io.Writer, comments []schema.Comment, now time.Time) {
	if len(comments) == 0 {
		faint.Fprintln(w, "No comments yet")
		return
	}
	for _, c := range comments {
		faint.Fprintf(w, "%s · %s\n", shortID(c.ID), humanize.RelTime(c.CreatedAt, now, "ago", "from now"))
		fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(c.Content, "\n", "\n  "))
	}
}

// Stats prints the per-column counts.
func Stats(w io.Writer, s board.Stats) {
	for _, c := range board.Columns {
		fmt.Fprintf(w, "%s %-12s %3d  %s\n", c.Icon, c.Title, s.Count(c.Status), faint.Sprint(c.Caption))
	}
	fmt.Fprintf(w, "  %-12s %3d\n", "Total", s.Total())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
