// Package daemon turns a directory of task files into board writes.
//
// Dropping `fix-login.yaml` into the inbox directory creates (or updates) a
// task for the configured inbox user; deleting the file deletes the task.
// Files may be JSON, YAML or TOML and only need a title:
//
//	title: Fix login redirect
//	priority: high
//	due_date: 2026-11-02T00:00:00Z
//
// # Architecture
//
//   - inbox watcher: fsnotify wrapper that reports which task files in the
//     directory changed, skipping hidden and editor backup files
//   - Syncer: reads a file and upserts it through service.Board, so every
//     inbox change reaches change-feed subscribers
//   - Daemon: initial full sync, then debounced incremental sync
//
// # Task IDs
//
// A file that carries an id keeps it. A file without one gets a stable ID
// derived from its file name (a name-based UUID), so editing the file
// updates the same task instead of creating a new one.
//
// # Debouncing
//
// Editors often write a file several times in quick succession. Changes are
// queued per path and processed once the path has been quiet for the
// debounce interval (default 100ms).
package daemon
