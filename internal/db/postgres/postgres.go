// Package postgres implements db.Store on PostgreSQL using a pgx connection
// pool. Tags are a native text[] column and timestamps are timestamptz.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/schema"
)

// Store is a PostgreSQL-backed db.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ db.Store = (*Store)(nil)

// IsPostgresDSN reports whether dsn is a postgres:// or postgresql:// URL.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to databaseURL and pings it.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'todo' CHECK (status IN ('todo', 'in-progress', 'done')),
		priority TEXT NOT NULL DEFAULT 'medium' CHECK (priority IN ('low', 'medium', 'high')),
		due_date TIMESTAMPTZ,
		tags TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks(user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_task ON comments(task_id, created_at)`,
}

// InitSchema creates tables and indexes. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

const taskColumns = `id, user_id, title, description, status, priority, due_date, tags, created_at, updated_at`

// ListTasks returns the user's tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, userID string, filter db.ListTasksFilter) ([]schema.Task, error) {
	conditions := []string{"user_id = $1"}
	args := []any{userID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		conditions = append(conditions, "status = "+next(string(filter.Status)))
	}
	if filter.Priority != "" {
		conditions = append(conditions, "priority = "+next(string(filter.Priority)))
	}
	if filter.Tag != "" {
		conditions = append(conditions, next(filter.Tag)+" = ANY(tags)")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += " LIMIT " + next(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + next(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

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

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetTask retrieves one task.
func (s *Store) GetTask(ctx context.Context, userID, id string) (*schema.Task, error) {
	return getTask(ctx, s.pool, userID, id, false)
}

func getTask(ctx context.Context, q querier, userID, id string, forUpdate bool) (*schema.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND user_id = $2`
	if forUpdate {
		query += " FOR UPDATE"
	}
	task, err := scanTask(q.QueryRow(ctx, query, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return task, nil
}

// CreateTask inserts a new task.
func (s *Store) CreateTask(ctx context.Context, task *schema.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", db.ErrInvalid, err)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, taskArgs(task)...)
	if err != nil {
		return mapPgErr(fmt.Sprintf("task %s", task.ID), err)
	}
	return nil
}

// UpsertTask inserts or replaces a task owned by task.UserID.
func (s *Store) UpsertTask(ctx context.Context, task *schema.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", db.ErrInvalid, err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			due_date = EXCLUDED.due_date,
			tags = EXCLUDED.tags,
			updated_at = EXCLUDED.updated_at
		WHERE tasks.user_id = EXCLUDED.user_id`, taskArgs(task)...)
	if err != nil {
		return mapPgErr(fmt.Sprintf("task %s", task.ID), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", task.ID, db.ErrConflict)
	}
	return nil
}

// UpdateTask locks the row, applies the patch and writes it back.
func (s *Store) UpdateTask(ctx context.Context, userID, id string, patch schema.TaskUpdate, now time.Time) (*schema.Task, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", db.ErrInvalid, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := getTask(ctx, tx, userID, id, true)
	if err != nil {
		return nil, err
	}
	updated := schema.Apply(*current, patch)
	updated.UpdatedAt = now.UTC()

	_, err = tx.Exec(ctx, `
		UPDATE tasks SET title = $3, description = $4, status = $5, priority = $6,
			due_date = $7, tags = $8, updated_at = $9
		WHERE id = $1 AND user_id = $2`,
		id, userID, updated.Title, updated.Description, string(updated.Status),
		string(updated.Priority), updated.DueDate, updated.Tags, updated.UpdatedAt)
	if err != nil {
		return nil, mapPgErr(fmt.Sprintf("task %s", id), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &updated, nil
}

// DeleteTask removes a task; comments go with it through the foreign key.
func (s *Store) DeleteTask(ctx context.Context, userID, id string) (*schema.Task, error) {
	row := s.pool.QueryRow(ctx,
		`DELETE FROM tasks WHERE id = $1 AND user_id = $2 RETURNING `+taskColumns, id, userID)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return task, nil
}

// TaskStats counts tasks per status.
func (s *Store) TaskStats(ctx context.Context, userID string) (map[schema.Status]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE user_id = $1 GROUP BY status`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	stats := make(map[schema.Status]int, len(schema.Statuses))
	for _, st := range schema.Statuses {
		stats[st] = 0
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		stats[schema.Status(status)] = int(count)
	}
	return stats, rows.Err()
}

// ListComments returns a task's comments, oldest first.
func (s *Store) ListComments(ctx context.Context, userID, taskID string) ([]schema.Comment, error) {
	if _, err := s.GetTask(ctx, userID, taskID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, user_id, content, created_at FROM comments
		WHERE task_id = $1 AND user_id = $2
		ORDER BY created_at ASC, id ASC`, taskID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	comments := []schema.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comments: %w", err)
	}
	return comments, nil
}

// GetComment retrieves one comment.
func (s *Store) GetComment(ctx context.Context, userID, id string) (*schema.Comment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, task_id, user_id, content, created_at FROM comments
		WHERE id = $1 AND user_id = $2`, id, userID)
	c, err := scanComment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("comment %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get comment %s: %w", id, err)
	}
	return c, nil
}

// AddComment inserts a comment on one of the user's tasks.
func (s *Store) AddComment(ctx context.Context, c *schema.Comment) error {
	in := schema.CommentInsert{TaskID: c.TaskID, UserID: c.UserID, Content: c.Content}
	if err := in.Validate(); err != nil {
		return fmt.Errorf("%w: %v", db.ErrInvalid, err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO comments (id, task_id, user_id, content, created_at)
		SELECT $1, $2, $3, $4, $5
		WHERE EXISTS (SELECT 1 FROM tasks WHERE id = $2 AND user_id = $3)`,
		c.ID, c.TaskID, c.UserID, c.Content, c.CreatedAt.UTC())
	if err != nil {
		return mapPgErr(fmt.Sprintf("comment %s", c.ID), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", c.TaskID, db.ErrNotFound)
	}
	return nil
}

// DeleteComment removes a comment.
func (s *Store) DeleteComment(ctx context.Context, userID, id string) (*schema.Comment, error) {
	row := s.pool.QueryRow(ctx, `
		DELETE FROM comments WHERE id = $1 AND user_id = $2
		RETURNING id, task_id, user_id, content, created_at`, id, userID)
	c, err := scanComment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("comment %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete comment %s: %w", id, err)
	}
	return c, nil
}

func taskArgs(task *schema.Task) []any {
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	updatedAt := task.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = task.CreatedAt
	}
	return []any{
		task.ID, task.UserID, task.Title, task.Description,
		string(task.Status), string(task.Priority), task.DueDate, tags,
		task.CreatedAt.UTC(), updatedAt.UTC(),
	}
}

func scanTask(row pgx.Row) (*schema.Task, error) {
	var task schema.Task
	var status, priority string
	err := row.Scan(&task.ID, &task.UserID, &task.Title, &task.Description,
		&status, &priority, &task.DueDate, &task.Tags, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	task.Status = schema.Status(status)
	task.Priority = schema.Priority(priority)
	if task.Tags == nil {
		task.Tags = []string{}
	}
	if task.DueDate != nil {
		d := task.DueDate.UTC()
		task.DueDate = &d
	}
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	return &task, nil
}

func scanComment(row pgx.Row) (*schema.Comment, error) {
	var c schema.Comment
	if err := row.Scan(&c.ID, &c.TaskID, &c.UserID, &c.Content, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// mapPgErr translates constraint violations into db sentinels.
func mapPgErr(what string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", what, db.ErrConflict)
		case "23503":
			return fmt.Errorf("%s: %w", what, db.ErrNotFound)
		case "23514", "22001":
			return fmt.Errorf("%s: %w: %s", what, db.ErrInvalid, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
