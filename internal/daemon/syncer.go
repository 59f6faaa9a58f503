package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/ctxutil"
	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/schema"
	"github.com/taskboard/kanban/internal/service"
)

// inboxNamespace seeds name-based task IDs for files without an id.
var inboxNamespace = uuid.MustParse("6f1c3a52-8d4e-4b7a-9c0f-2e5d7b1a4c93")

// Syncer keeps the board in sync with the inbox directory.
//
// The syncer is resilient: individual file failures are logged and counted,
// never fatal to a full sync.
type Syncer interface {
	// SyncFile reads a task file and upserts it.
	SyncFile(ctx context.Context, path string) (*schema.Task, error)

	// RemoveFile deletes the task a removed file was synced to.
	// Returns nil if the task no longer exists (idempotent).
	RemoveFile(ctx context.Context, path string) error

	// FullSync syncs every task file in dir.
	FullSync(ctx context.Context, dir string) (SyncStats, error)
}

// SyncStats summarises a full sync.
type SyncStats struct {
	Created int
	Updated int
	Failed  int
}

type syncer struct {
	board  *service.Board
	user   string
	logger *zap.Logger
	// known maps file paths to the task IDs they produced.
	known map[string]string
}

// NewSyncer creates a Syncer that writes as user.
func NewSyncer(board *service.Board, user string, logger *zap.Logger) Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &syncer{
		board:  board,
		user:   user,
		logger: logger,
		known:  make(map[string]string),
	}
}

// TaskIDForFile returns the ID a file without an explicit id maps to.
func TaskIDForFile(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if _, err := uuid.Parse(stem); err == nil {
		return stem
	}
	return uuid.NewSHA1(inboxNamespace, []byte(stem)).String()
}

func (s *syncer) ctx(ctx context.Context) context.Context {
	return ctxutil.WithUserID(ctx, s.user)
}

func (s *syncer) SyncFile(ctx context.Context, path string) (*schema.Task, error) {
	task, _, err := s.syncFile(ctx, path)
	return task, err
}

func (s *syncer) syncFile(ctx context.Context, path string) (*schema.Task, bool, error) {
	task, err := schema.ReadTaskFile(path)
	if err != nil {
		return nil, false, err
	}
	if task.ID == "" {
		task.ID = TaskIDForFile(path)
	}

	created, err := s.board.UpsertTask(s.ctx(ctx), task)
	if err != nil {
		return nil, false, fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	s.known[path] = task.ID

	s.logger.Info("inbox task synced",
		zap.String("file", filepath.Base(path)),
		zap.String("task", task.ID),
		zap.Bool("created", created))
	return task, created, nil
}

func (s *syncer) RemoveFile(ctx context.Context, path string) error {
	id, ok := s.known[path]
	if !ok {
		id = TaskIDForFile(path)
	}
	delete(s.known, path)

	if _, err := s.board.DeleteTask(s.ctx(ctx), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	s.logger.Info("inbox task deleted", zap.String("file", filepath.Base(path)), zap.String("task", id))
	return nil
}

func (s *syncer) FullSync(ctx context.Context, dir string) (SyncStats, error) {
	var stats SyncStats

	files, skipped, err := schema.ReadAllTaskFiles(dir)
	if err != nil {
		return stats, err
	}
	for path, err := range skipped {
		stats.Failed++
		s.logger.Warn("skipping unreadable task file", zap.String("file", path), zap.Error(err))
	}

	for path := range files {
		_, created, err := s.syncFile(ctx, path)
		switch {
		case err != nil:
			stats.Failed++
			s.logger.Warn("failed to sync task file", zap.String("file", path), zap.Error(err))
		case created:
			stats.Created++
		default:
			stats.Updated++
		}
	}
	return stats, nil
}
