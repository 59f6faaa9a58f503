package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

func TestWatchInbox_CloseEndsPaths(t *testing.T) {
	in, err := watchInbox(context.Background(), t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("watchInbox() failed: %v", err)
	}
	if err := in.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if _, ok := <-in.Paths(); ok {
		t.Error("Paths() not closed after Close")
	}
	if err := in.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestWatchInbox_ContextEndsPaths(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in, err := watchInbox(ctx, t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("watchInbox() failed: %v", err)
	}
	defer in.Close()

	cancel()
	select {
	case _, ok := <-in.Paths():
		if ok {
			t.Error("unexpected path after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Paths() not closed after cancel")
	}
}

func TestWatchInbox_MissingDir(t *testing.T) {
	if _, err := watchInbox(context.Background(), filepath.Join(t.TempDir(), "missing"), zap.NewNop()); err == nil {
		t.Error("watchInbox() on a missing directory should fail")
	}
}

func TestInbox_Relevant(t *testing.T) {
	dir := t.TempDir()
	in := &inbox{dir: dir}

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"create yaml", fsnotify.Event{Name: filepath.Join(dir, "a.yaml"), Op: fsnotify.Create}, true},
		{"write toml", fsnotify.Event{Name: filepath.Join(dir, "a.toml"), Op: fsnotify.Write}, true},
		{"remove json", fsnotify.Event{Name: filepath.Join(dir, "a.json"), Op: fsnotify.Remove}, true},
		{"rename", fsnotify.Event{Name: filepath.Join(dir, "a.yml"), Op: fsnotify.Rename}, true},
		{"chmod ignored", fsnotify.Event{Name: filepath.Join(dir, "a.json"), Op: fsnotify.Chmod}, false},
		{"editor swap file", fsnotify.Event{Name: filepath.Join(dir, ".a.json.swp"), Op: fsnotify.Create}, false},
		{"hidden task file", fsnotify.Event{Name: filepath.Join(dir, ".draft.json"), Op: fsnotify.Create}, false},
		{"backup file", fsnotify.Event{Name: filepath.Join(dir, "a.yaml~"), Op: fsnotify.Write}, false},
		{"notes", fsnotify.Event{Name: filepath.Join(dir, "notes.md"), Op: fsnotify.Create}, false},
		{"subdirectory", fsnotify.Event{Name: filepath.Join(dir, "sub", "a.json"), Op: fsnotify.Create}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, ok := in.relevant(tt.event)
			if ok != tt.want {
				t.Fatalf("relevant() = %v, want %v", ok, tt.want)
			}
			if ok && path != tt.event.Name {
				t.Errorf("path = %s, want %s", path, tt.event.Name)
			}
		})
	}
}

func TestWatchInbox_DetectsWrites(t *testing.T) {
	dir := t.TempDir()
	in, err := watchInbox(context.Background(), dir, zap.NewNop())
	if err != nil {
		t.Fatalf("watchInbox() failed: %v", err)
	}
	defer in.Close()

	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	path := filepath.Join(dir, "card.yaml")
	if err := os.WriteFile(path, []byte("title: x\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	select {
	case got := <-in.Paths():
		if got != path {
			t.Errorf("path = %s, want %s", got, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event for new task file")
	}
}
