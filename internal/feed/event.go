// Package feed carries row-change notifications from the API to subscribed
// clients.
//
// An Event mirrors a postgres_changes payload: the table, the kind of change,
// and the new and old row images as JSON. Brokers fan events out to
// Subscriptions whose Filter matches. Two brokers exist:
//
//   - Hub: in-process, one buffered channel per subscriber
//   - RedisBroker: Redis Pub/Sub between server instances, feeding a local Hub
//
// Delivery is at-most-once. A subscriber that falls behind gets an
// EventInvalidate and is expected to refetch.
package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskboard/kanban/internal/schema"
)

// Table names a change-feed channel.
type Table string

const (
	TableTasks    Table = "tasks"
	TableComments Table = "comments"
)

// Valid reports whether t is a known table.
func (t Table) Valid() bool {
	return t == TableTasks || t == TableComments
}

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	// EventInvalidate tells a subscriber it missed events.
	EventInvalidate EventType = "INVALIDATE"
)

// Event is one row change.
type Event struct {
	ID              string          `json:"id"`
	Table           Table           `json:"table"`
	Type            EventType       `json:"type"`
	UserID          string          `json:"user_id"`
	TaskID          string          `json:"task_id,omitempty"`
	RecordID        string          `json:"record_id,omitempty"`
	New             json.RawMessage `json:"new,omitempty"`
	Old             json.RawMessage `json:"old,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// TaskEvent builds an event for a task change. newTask is nil for deletes,
// oldTask is nil for inserts.
func TaskEvent(typ EventType, newTask, oldTask *schema.Task, now time.Time) (Event, error) {
	ev := Event{
		ID:              uuid.NewString(),
		Table:           TableTasks,
		Type:            typ,
		CommitTimestamp: now.UTC(),
	}
	for _, t := range []*schema.Task{newTask, oldTask} {
		if t != nil {
			ev.UserID = t.UserID
			ev.TaskID = t.ID
			ev.RecordID = t.ID
			break
		}
	}
	var err error
	if ev.New, err = marshalRecord(newTask); err != nil {
		return Event{}, err
	}
	if ev.Old, err = marshalRecord(oldTask); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// CommentEvent builds an event for a comment insert or delete.
func CommentEvent(typ EventType, c *schema.Comment, now time.Time) (Event, error) {
	ev := Event{
		ID:              uuid.NewString(),
		Table:           TableComments,
		Type:            typ,
		UserID:          c.UserID,
		TaskID:          c.TaskID,
		RecordID:        c.ID,
		CommitTimestamp: now.UTC(),
	}
	data, err := json.Marshal(c)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal comment: %w", err)
	}
	if typ == EventDelete {
		ev.Old = data
	} else {
		ev.New = data
	}
	return ev, nil
}

func invalidateEvent(f Filter) Event {
	return Event{
		ID:              uuid.NewString(),
		Table:           f.Table,
		Type:            EventInvalidate,
		UserID:          f.UserID,
		TaskID:          f.TaskID,
		CommitTimestamp: time.Now().UTC(),
	}
}

func marshalRecord(t *schema.Task) (json.RawMessage, error) {
	if t == nil {
		return nil, nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}
	return data, nil
}

// NewTask decodes the new row image of a task event.
func (e Event) NewTask() (*schema.Task, error) {
	return decode[schema.Task](e.New)
}

// OldTask decodes the old row image of a task event.
func (e Event) OldTask() (*schema.Task, error) {
	return decode[schema.Task](e.Old)
}

// NewComment decodes the new row image of a comment event.
func (e Event) NewComment() (*schema.Comment, error) {
	return decode[schema.Comment](e.New)
}

// OldComment decodes the old row image of a comment event.
func (e Event) OldComment() (*schema.Comment, error) {
	return decode[schema.Comment](e.Old)
}

func decode[T any](raw json.RawMessage) (*T, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("event has no record")
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &v, nil
}

// Filter selects events for a subscription. Empty fields match anything
// except UserID, which a server-side subscription always sets.
type Filter struct {
	Table  Table
	UserID string
	// TaskID narrows to one task (task_id=eq.<id>).
	TaskID string
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev Event) bool {
	if f.Table != "" && ev.Table != f.Table {
		return false
	}
	if f.UserID != "" && ev.UserID != f.UserID {
		return false
	}
	if f.TaskID != "" && ev.TaskID != f.TaskID {
		return false
	}
	return true
}

// String renders the filter as a channel name, e.g. "comments:alice:task_id=eq.42".
func (f Filter) String() string {
	s := string(f.Table)
	if s == "" {
		s = "*"
	}
	s += ":" + f.UserID
	if f.TaskID != "" {
		s += ":task_id=eq." + f.TaskID
	}
	return s
}
