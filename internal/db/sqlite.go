// Package db provides the relational store behind the kanban API.
//
// The default backend is an embedded SQLite database (ncruces/go-sqlite3, a
// WebAssembly build of SQLite that needs no cgo) running in WAL mode so the
// API and the CLI admin commands can share the file. The same code path also
// serves hosted libSQL/Turso databases through tursodatabase/go-libsql when
// the DSN is a libsql:// or https:// URL. PostgreSQL lives in the postgres
// subpackage.
//
// Schema:
//   - tasks:    one row per card, tags stored as a JSON array
//   - comments: one row per comment, cascading on task delete
//
// Every statement filters on user_id; a row owned by another user is reported
// as ErrNotFound.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/taskboard/kanban/internal/schema"
)

// timeFormat is fixed width so text timestamps sort chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// DB is the SQLite/libSQL implementation of Store.
type DB struct {
	conn   *sql.DB
	path   string
	remote bool
}

var _ Store = (*DB)(nil)

// IsRemoteDSN reports whether dsn points at a hosted libSQL server.
func IsRemoteDSN(dsn string) bool {
	for _, prefix := range []string{"libsql://", "https://", "http://", "wss://", "ws://"} {
		if strings.HasPrefix(dsn, prefix) {
			return true
		}
	}
	return false
}

// Open connects to the database named by dsn.
//
// A plain path (optionally prefixed with file: or sqlite://) opens an embedded
// database, creating the parent directory if needed. A libsql:// or https://
// URL connects to a hosted libSQL server; pass the auth token as the authToken
// query parameter.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := db.Open(".kanban/kanban.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(dsn string) (*DB, error) {
	if IsRemoteDSN(dsn) {
		return openRemote(dsn)
	}
	return openEmbedded(dsn)
}

func openEmbedded(dsn string) (*DB, error) {
	path := strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite://"), "file:")
	if path == "" {
		return nil, fmt.Errorf("database path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection, not just the first.
	connStr := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

func openRemote(dsn string) (*DB, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid libsql url: %w", err)
	}

	conn, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping libsql database %s: %w", u.Host, err)
	}

	return &DB{conn: conn, path: u.Host, remote: true}, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path, or the host for remote databases.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection, checkpointing the WAL first for
// embedded databases.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if !db.remote {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'todo',
		priority TEXT NOT NULL DEFAULT 'medium',
		due_date TEXT,
		tags TEXT NOT NULL DEFAULT '[]',  -- JSON array
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_task ON comments(task_id, created_at)`,
}

// InitSchema creates the tables and indexes. Idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

const taskColumns = `t.id, t.user_id, t.title, t.description, t.status, t.priority,
	t.due_date, t.tags, t.created_at, t.updated_at`

// ListTasks retrieves the user's tasks matching filter, newest first.
func (db *DB) ListTasks(ctx context.Context, userID string, filter ListTasksFilter) ([]schema.Task, error) {
	conditions := []string{"t.user_id = ?"}
	args := []any{userID}

	if filter.Status != "" {
		conditions = append(conditions, "t.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		conditions = append(conditions, "t.priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.Tag != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(t.tags) WHERE json_each.value = ?)")
		args = append(args, filter.Tag)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks t
	WHERE ` + strings.Join(conditions, " AND ") + `
	ORDER BY t.created_at DESC, t.rowid DESC`

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// GetTask retrieves a single task.
func (db *DB) GetTask(ctx context.Context, userID, id string) (*schema.Task, error) {
	return getTask(ctx, db.conn, userID, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTask(ctx context.Context, q queryer, userID, id string) (*schema.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = ? AND t.user_id = ?`, id, userID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return task, nil
}

// CreateTask inserts a new task.
func (db *DB) CreateTask(ctx context.Context, task *schema.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	args, err := taskArgs(task)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx, `
	INSERT INTO tasks (id, user_id, title, description, status, priority, due_date, tags, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task %s: %w", task.ID, ErrConflict)
		}
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// UpsertTask inserts or replaces a task. A task ID owned by another user is
// a conflict, never an overwrite.
func (db *DB) UpsertTask(ctx context.Context, task *schema.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	args, err := taskArgs(task)
	if err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx, `
	INSERT INTO tasks (id, user_id, title, description, status, priority, due_date, tags, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		status = excluded.status,
		priority = excluded.priority,
		due_date = excluded.due_date,
		tags = excluded.tags,
		updated_at = excluded.updated_at
	WHERE tasks.user_id = excluded.user_id`, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("task %s: %w", task.ID, ErrConflict)
	}
	return nil
}

// UpdateTask reads the task, applies the patch and writes it back in one
// transaction.
func (db *DB) UpdateTask(ctx context.Context, userID, id string, patch schema.TaskUpdate, now time.Time) (*schema.Task, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := getTask(ctx, tx, userID, id)
	if err != nil {
		return nil, err
	}

	updated := schema.Apply(*current, patch)
	updated.UpdatedAt = now.UTC()

	args, err := taskArgs(&updated)
	if err != nil {
		return nil, err
	}
	// id, user_id lead the arg list; reorder for the UPDATE statement
	_, err = tx.ExecContext(ctx, `
	UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?,
		due_date = ?, tags = ?, updated_at = ?
	WHERE id = ? AND user_id = ?`,
		args[2], args[3], args[4], args[5], args[6], args[7], args[9], args[0], args[1])
	if err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &updated, nil
}

// DeleteTask removes a task and its comments.
func (db *DB) DeleteTask(ctx context.Context, userID, id string) (*schema.Task, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	task, err := getTask(ctx, tx, userID, id)
	if err != nil {
		return nil, err
	}

	// Remote libSQL connections may not enforce foreign keys, so cascade by hand.
	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE task_id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete comments of task %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return nil, fmt.Errorf("failed to delete task %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return task, nil
}

// TaskStats counts tasks per status. Every board status is present in the
// result, zero or not.
func (db *DB) TaskStats(ctx context.Context, userID string) (map[schema.Status]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE user_id = ? GROUP BY status`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	stats := make(map[schema.Status]int, len(schema.Statuses))
	for _, s := range schema.Statuses {
		stats[s] = 0
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		stats[schema.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task counts: %w", err)
	}
	return stats, nil
}

// ListComments returns a task's comments, oldest first.
func (db *DB) ListComments(ctx context.Context, userID, taskID string) ([]schema.Comment, error) {
	if _, err := db.GetTask(ctx, userID, taskID); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, task_id, user_id, content, created_at
	FROM comments
	WHERE task_id = ? AND user_id = ?
	ORDER BY created_at ASC, rowid ASC`, taskID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	comments := []schema.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comments: %w", err)
	}
	return comments, nil
}

// GetComment retrieves a single comment.
func (db *DB) GetComment(ctx context.Context, userID, id string) (*schema.Comment, error) {
	return getComment(ctx, db.conn, userID, id)
}

func getComment(ctx context.Context, q queryer, userID, id string) (*schema.Comment, error) {
	row := q.QueryRowContext(ctx, `
	SELECT id, task_id, user_id, content, created_at
	FROM comments WHERE id = ? AND user_id = ?`, id, userID)
	c, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get comment %s: %w", id, err)
	}
	return c, nil
}

// AddComment inserts a comment on one of the user's tasks.
func (db *DB) AddComment(ctx context.Context, c *schema.Comment) error {
	in := schema.CommentInsert{TaskID: c.TaskID, UserID: c.UserID, Content: c.Content}
	if err := in.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	res, err := db.conn.ExecContext(ctx, `
	INSERT INTO comments (id, task_id, user_id, content, created_at)
	SELECT ?, ?, ?, ?, ?
	WHERE EXISTS (SELECT 1 FROM tasks WHERE id = ? AND user_id = ?)`,
		c.ID, c.TaskID, c.UserID, c.Content, formatTime(c.CreatedAt), c.TaskID, c.UserID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("comment %s: %w", c.ID, ErrConflict)
		}
		return fmt.Errorf("failed to add comment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", c.TaskID, ErrNotFound)
	}
	return nil
}

// DeleteComment removes a comment.
func (db *DB) DeleteComment(ctx context.Context, userID, id string) (*schema.Comment, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	c, err := getComment(ctx, tx, userID, id)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return nil, fmt.Errorf("failed to delete comment %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return c, nil
}

// taskArgs returns the insert arguments in column order:
// id, user_id, title, description, status, priority, due_date, tags, created_at, updated_at
func taskArgs(task *schema.Task) ([]any, error) {
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	var description sql.NullString
	if task.Description != nil {
		description = sql.NullString{String: *task.Description, Valid: true}
	}

	updatedAt := task.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = task.CreatedAt
	}

	return []any{
		task.ID,
		task.UserID,
		task.Title,
		description,
		string(task.Status),
		string(task.Priority),
		timeToNullString(task.DueDate),
		string(tagsJSON),
		formatTime(task.CreatedAt),
		formatTime(updatedAt),
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanTasks is a helper function to scan multiple tasks from query results.
func scanTasks(rows *sql.Rows) ([]schema.Task, error) {
	tasks := []schema.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(row scanner) (*schema.Task, error) {
	var task schema.Task
	var description, dueDate sql.NullString
	var status, priority, tagsJSON, createdAt, updatedAt string

	err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Title,
		&description,
		&status,
		&priority,
		&dueDate,
		&tagsJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = schema.Status(status)
	task.Priority = schema.Priority(priority)
	if description.Valid {
		d := description.String
		task.Description = &d
	}
	task.DueDate = nullStringToTime(dueDate)
	task.CreatedAt = parseTime(createdAt)
	task.UpdatedAt = parseTime(updatedAt)

	task.Tags = []string{}
	if tagsJSON != "" && tagsJSON != "null" {
		if err := json.Unmarshal([]byte(tagsJSON), &task.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return &task, nil
}

func scanComment(row scanner) (*schema.Comment, error) {
	var c schema.Comment
	var createdAt string
	if err := row.Scan(&c.ID, &c.TaskID, &c.UserID, &c.Content, &createdAt); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY")
}
