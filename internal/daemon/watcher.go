package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/schema"
)

// inbox reports task files in one directory that were written, created,
// renamed or removed. It only says which path changed; the daemon looks at
// the file afterwards to decide between an upsert and a delete.
type inbox struct {
	dir    string
	fs     *fsnotify.Watcher
	paths  chan string
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *zap.Logger
}

// watchInbox starts watching dir. Paths is closed once ctx ends or Close is
// called.
func watchInbox(ctx context.Context, dir string, logger *zap.Logger) (*inbox, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fs.Add(abs); err != nil {
		fs.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", abs, err)
	}

	in := &inbox{
		dir:    abs,
		fs:     fs,
		paths:  make(chan string, 100),
		done:   make(chan struct{}),
		logger: logger,
	}
	in.wg.Add(1)
	go in.loop(ctx)
	return in, nil
}

// Paths delivers changed task file paths, absolute.
func (in *inbox) Paths() <-chan string {
	return in.paths
}

// Close stops the watcher and waits for its goroutine. Safe to call twice.
func (in *inbox) Close() error {
	var err error
	in.once.Do(func() {
		close(in.done)
		err = in.fs.Close()
		in.wg.Wait()
	})
	return err
}

func (in *inbox) loop(ctx context.Context) {
	defer in.wg.Done()
	defer close(in.paths)

	for {
		select {
		case <-ctx.Done():
			return
		case <-in.done:
			return

		case ev, ok := <-in.fs.Events:
			if !ok {
				return
			}
			path, ok := in.relevant(ev)
			if !ok {
				continue
			}
			in.logger.Debug("inbox change", zap.String("op", ev.Op.String()), zap.String("path", path))
			select {
			case in.paths <- path:
			case <-ctx.Done():
				return
			case <-in.done:
				return
			}

		case err, ok := <-in.fs.Errors:
			if !ok {
				return
			}
			in.logger.Warn("inbox watcher error", zap.Error(err))
		}
	}
}

// relevant filters out chmod-only events, hidden and editor files, anything
// that is not a task file, and anything outside the inbox itself.
func (in *inbox) relevant(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return "", false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || !schema.IsTaskFile(base) {
		return "", false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil || filepath.Dir(abs) != in.dir {
		return "", false
	}
	return abs, true
}
