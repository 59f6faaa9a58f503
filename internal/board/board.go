// Package board holds the rules of the kanban board that do not depend on how
// it is drawn: the three columns, grouping and counting tasks, card labels,
// and drag-and-drop (activation sensor, collision detection, drop
// resolution).
package board

import (
	"time"

	"github.com/taskboard/kanban/internal/schema"
)

// Column is one board column. Its ID is the status it holds.
type Column struct {
	Status  schema.Status
	Title   string
	Icon    string
	Caption string
}

// ID is the droppable ID of the column.
func (c Column) ID() string { return string(c.Status) }

// Columns in board order.
var Columns = []Column{
	{Status: schema.StatusTodo, Title: "To Do", Icon: "○", Caption: "Tasks waiting to start"},
	{Status: schema.StatusInProgress, Title: "In Progress", Icon: "◔", Caption: "Tasks being worked on"},
	{Status: schema.StatusDone, Title: "Completed", Icon: "●", Caption: "Tasks finished"},
}

// ColumnByID finds a column by its droppable ID.
func ColumnByID(id string) (Column, bool) {
	for _, c := range Columns {
		if c.ID() == id {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnIndex returns the position of status in Columns, or -1.
func ColumnIndex(status schema.Status) int {
	for i, c := range Columns {
		if c.Status == status {
			return i
		}
	}
	return -1
}

// GroupByColumn splits tasks by status, keeping their order. Every column has
// an entry; tasks with any other status are left out.
func GroupByColumn(tasks []schema.Task) map[schema.Status][]schema.Task {
	groups := make(map[schema.Status][]schema.Task, len(Columns))
	for _, c := range Columns {
		groups[c.Status] = []schema.Task{}
	}
	for _, t := range tasks {
		if list, ok := groups[t.Status]; ok {
			groups[t.Status] = append(list, t)
		}
	}
	return groups
}

// Stats counts tasks per column.
type Stats struct {
	Todo       int
	InProgress int
	Done       int
}

// Total is the number of tasks on the board.
func (s Stats) Total() int { return s.Todo + s.InProgress + s.Done }

// Count returns the count for one status.
func (s Stats) Count(status schema.Status) int {
	switch status {
	case schema.StatusTodo:
		return s.Todo
	case schema.StatusInProgress:
		return s.InProgress
	case schema.StatusDone:
		return s.Done
	}
	return 0
}

// Count tallies tasks per column.
func Count(tasks []schema.Task) Stats {
	var s Stats
	for _, t := range tasks {
		switch t.Status {
		case schema.StatusTodo:
			s.Todo++
		case schema.StatusInProgress:
			s.InProgress++
		case schema.StatusDone:
			s.Done++
		}
	}
	return s
}

// MaxCardTags is how many tags a card shows before "+N".
const MaxCardTags = 3

// PriorityLabel is the badge text for p. Unknown priorities show as Medium.
func PriorityLabel(p schema.Priority) string {
	switch p {
	case schema.PriorityHigh:
		return "High"
	case schema.PriorityLow:
		return "Low"
	}
	return "Medium"
}

// CardTags returns the tags a card shows and how many are hidden.
func CardTags(tags []string) (shown []string, hidden int) {
	if len(tags) <= MaxCardTags {
		return tags, 0
	}
	return tags[:MaxCardTags], len(tags) - MaxCardTags
}

// DueLabel formats a due date the way cards show it ("Nov 2"), or "".
func DueLabel(due *time.Time) string {
	if due == nil {
		return ""
	}
	return due.Format("Jan 2")
}
