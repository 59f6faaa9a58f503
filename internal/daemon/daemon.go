package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/service"
)

// Config holds configuration for the daemon.
type Config struct {
	// Dir is the inbox directory
	Dir string

	// User owns every task created from the inbox
	User string

	// DebounceInterval is how long a path must be quiet before it is synced
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           zap.NewNop(),
	}
}

// Daemon syncs the inbox directory into the board.
type Daemon struct {
	config *Config
	syncer Syncer

	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	// synced receives one value per processed batch; tests wait on it.
	synced chan struct{}

	wg sync.WaitGroup
}

// New creates a daemon writing through board.
func New(board *service.Board, config *Config) (*Daemon, error) {
	if board == nil {
		return nil, fmt.Errorf("board cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("inbox directory cannot be empty")
	}
	if config.User == "" {
		return nil, fmt.Errorf("inbox user cannot be empty")
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}

	return &Daemon{
		config:      config,
		syncer:      NewSyncer(board, config.User, config.Logger),
		changeQueue: make(map[string]time.Time),
		synced:      make(chan struct{}, 1),
	}, nil
}

// Run performs a full sync, then watches for changes until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	log := d.config.Logger
	log.Info("starting inbox daemon", zap.String("dir", d.config.Dir), zap.String("user", d.config.User))

	in, err := watchInbox(ctx, d.config.Dir, log)
	if err != nil {
		return err
	}
	defer in.Close()

	stats, err := d.syncer.FullSync(ctx, d.config.Dir)
	if err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}
	log.Info("initial inbox sync complete",
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("failed", stats.Failed))

	d.wg.Add(2)
	go d.queueChanges(ctx, in.Paths())
	go d.processChangeQueue(ctx)

	<-ctx.Done()
	d.wg.Wait()
	log.Info("inbox daemon stopped")
	return nil
}

// queueChanges feeds changed paths into the debounce queue.
func (d *Daemon) queueChanges(ctx context.Context, paths <-chan string) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-paths:
			if !ok {
				return
			}
			d.queueChange(path)
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

func (d *Daemon) processChangeQueue(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if d.processPendingChanges(ctx) > 0 {
				select {
				case d.synced <- struct{}{}:
				default:
				}
			}
		}
	}
}

// processPendingChanges syncs paths that have been quiet long enough and
// returns how many it handled. The current file state decides the action,
// so a create followed by a delete within the window is just a delete.
func (d *Daemon) processPendingChanges(ctx context.Context) int {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	processed := 0
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		delete(d.changeQueue, path)
		processed++

		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := d.syncer.RemoveFile(ctx, path); err != nil {
				d.config.Logger.Warn("failed to remove inbox task", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		if _, err := d.syncer.SyncFile(ctx, path); err != nil {
			d.config.Logger.Warn("failed to sync inbox file", zap.String("path", path), zap.Error(err))
		}
	}
	return processed
}
