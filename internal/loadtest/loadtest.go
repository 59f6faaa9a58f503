// Package loadtest measures how a board store holds up under concurrent
// clients: readers loading the board and writers dragging cards between
// columns.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/schema"
)

// Config describes one run.
type Config struct {
	// UserID owns the seeded tasks (default "loadtest")
	UserID string
	// Tasks to seed before the run
	Tasks int
	// Readers each call ListTasks and TaskStats in a loop
	Readers int
	// Writers each move random tasks to random columns
	Writers int
	// Duration of the run
	Duration time.Duration
	// Seed for the task generator and writers (0 = 42)
	Seed int64
}

// DefaultConfig returns a small run suitable for a laptop.
func DefaultConfig() Config {
	return Config{
		UserID:   "loadtest",
		Tasks:    500,
		Readers:  8,
		Writers:  2,
		Duration: 5 * time.Second,
		Seed:     42,
	}
}

// LatencyStats summarises the latency of one kind of operation.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	Operations int
	Errors     int
}

// Report is the outcome of a run.
type Report struct {
	Seeded  int
	Elapsed time.Duration
	Reads   *LatencyStats
	Writes  *LatencyStats
	// Final counts per status after the run
	Counts map[schema.Status]int
}

// Seed inserts n generated tasks for userID and returns their IDs.
func Seed(ctx context.Context, store db.Store, userID string, n int, seed int64) ([]string, error) {
	ids := make([]string, 0, n)
	for _, task := range generateTasks(userID, n, seed) {
		if err := store.CreateTask(ctx, &task); err != nil {
			return ids, fmt.Errorf("failed to seed task %d: %w", len(ids), err)
		}
		ids = append(ids, task.ID)
	}
	return ids, nil
}

// Run seeds the store and hammers it for cfg.Duration. The seeded tasks stay
// behind; point it at a scratch database.
func Run(ctx context.Context, store db.Store, cfg Config) (*Report, error) {
	if cfg.UserID == "" {
		cfg.UserID = "loadtest"
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	if cfg.Tasks <= 0 {
		return nil, fmt.Errorf("tasks must be positive")
	}
	if cfg.Readers+cfg.Writers <= 0 {
		return nil, fmt.Errorf("need at least one reader or writer")
	}

	ids, err := Seed(ctx, store, cfg.UserID, cfg.Tasks, cfg.Seed)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var (
		wg                sync.WaitGroup
		mu                sync.Mutex
		reads, writes     []time.Duration
		readErr, writeErr int
	)
	record := func(d time.Duration, err error, write bool) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil && runCtx.Err() != nil:
			// cut off by the deadline
		case write && err != nil:
			writeErr++
		case write:
			writes = append(writes, d)
		case err != nil:
			readErr++
		default:
			reads = append(reads, d)
		}
	}

	start := time.Now()
	for i := 0; i < cfg.Readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for runCtx.Err() == nil {
				t := time.Now()
				_, err := store.ListTasks(runCtx, cfg.UserID, db.ListTasksFilter{})
				if err == nil {
					_, err = store.TaskStats(runCtx, cfg.UserID)
				}
				record(time.Since(t), err, false)
			}
		}()
	}
	for i := 0; i < cfg.Writers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(cfg.Seed + int64(worker)))
			for runCtx.Err() == nil {
				id := ids[rng.Intn(len(ids))]
				status := schema.Statuses[rng.Intn(len(schema.Statuses))]
				t := time.Now()
				_, err := store.UpdateTask(runCtx, cfg.UserID, id, schema.StatusUpdate(status), time.Now().UTC())
				record(time.Since(t), err, true)
			}
		}(i)
	}
	wg.Wait()

	report := &Report{
		Seeded:  len(ids),
		Elapsed: time.Since(start),
		Reads:   computeLatencyStats(reads),
		Writes:  computeLatencyStats(writes),
	}
	report.Reads.Errors = readErr
	report.Writes.Errors = writeErr

	if report.Counts, err = store.TaskStats(ctx, cfg.UserID); err != nil {
		return report, fmt.Errorf("failed to count tasks: %w", err)
	}
	return report, nil
}

// generateTasks builds n tasks spread over the columns, weighted toward
// medium priority.
func generateTasks(userID string, n int, seed int64) []schema.Task {
	rng := rand.New(rand.NewSource(seed))
	priorities := []schema.Priority{
		schema.PriorityLow,
		schema.PriorityMedium, schema.PriorityMedium, schema.PriorityMedium,
		schema.PriorityHigh,
	}
	base := time.Now().UTC().Add(-30 * 24 * time.Hour)

	tasks := make([]schema.Task, n)
	for i := range tasks {
		created := base.Add(time.Duration(i) * time.Minute)
		in := schema.TaskInsert{
			UserID:   userID,
			Title:    fmt.Sprintf("Load test task %d", i),
			Status:   schema.Statuses[rng.Intn(len(schema.Statuses))],
			Priority: priorities[rng.Intn(len(priorities))],
			Tags:     []string{"loadtest", fmt.Sprintf("batch-%d", i/100)},
		}
		if i%4 == 0 {
			due := created.Add(time.Duration(rng.Intn(60)) * 24 * time.Hour)
			in.DueDate = &due
		}
		tasks[i] = in.NewTask(uuid.NewString(), created)
	}
	return tasks
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(sorted)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		Operations: len(sorted),
	}
}

// Print writes the latency table for label.
func (s *LatencyStats) Print(w io.Writer, label string) {
	fmt.Fprintf(w, "%s:\n", label)
	fmt.Fprintf(w, "  Operations:   %d\n", s.Operations)
	fmt.Fprintf(w, "  Errors:       %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:          %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median): %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:         %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:          %v\n", s.P95)
	fmt.Fprintf(w, "  P99:          %v\n", s.P99)
	fmt.Fprintf(w, "  Max:          %v\n", s.Max)
}
