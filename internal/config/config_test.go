package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Redis.Namespace != "default" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Inbox.Debounce != 100*time.Millisecond {
		t.Errorf("Inbox.Debounce = %v, want 100ms", cfg.Inbox.Debounce)
	}
	if cfg.DB.DSN == "" {
		t.Error("DB.DSN has no default")
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kanban.yaml")
	content := `
server:
  addr: ":9090"
db:
  dsn: /tmp/board.db
auth:
  tokens:
    - Alice-Token=alice
inbox:
  debounce: 250ms
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	t.Setenv("KANBAN_DB_DSN", "/srv/kanban.db")
	t.Setenv("KANBAN_SUGGEST_API_KEY", "sk-test")

	v := New()
	if err := ReadFile(v, path); err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.DB.DSN != "/srv/kanban.db" {
		t.Errorf("DB.DSN = %q, want the environment to win", cfg.DB.DSN)
	}
	if cfg.Suggest.APIKey != "sk-test" {
		t.Errorf("Suggest.APIKey = %q", cfg.Suggest.APIKey)
	}
	if cfg.Inbox.Debounce != 250*time.Millisecond || cfg.Log.Level != "debug" {
		t.Errorf("Inbox/Log = %+v / %+v", cfg.Inbox, cfg.Log)
	}

	tokens, err := cfg.Auth.TokenMap()
	if err != nil {
		t.Fatalf("TokenMap() failed: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"Alice-Token": "alice"}, tokens); diff != "" {
		t.Errorf("TokenMap() mismatch (-want +got):\n%s", diff)
	}
}

func TestReadFile_Missing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := ReadFile(New(), ""); err != nil {
		t.Errorf("ReadFile(\"\") without a config file failed: %v", err)
	}
	if err := ReadFile(New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("ReadFile() with a missing explicit path should fail")
	}
}

func TestTokenMap(t *testing.T) {
	tests := []struct {
		name    string
		tokens  []string
		want    map[string]string
		wantErr bool
	}{
		{"empty", nil, map[string]string{}, false},
		{"list", []string{"a=alice", "b=bob"}, map[string]string{"a": "alice", "b": "bob"}, false},
		{"comma separated", []string{"a=alice, b=bob"}, map[string]string{"a": "alice", "b": "bob"}, false},
		{"missing user", []string{"a="}, nil, true},
		{"no separator", []string{"alice"}, nil, true},
		{"token reused", []string{"a=alice", "a=bob"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AuthConfig{Tokens: tt.tokens}.TokenMap()
			if (err != nil) != tt.wantErr {
				t.Fatalf("TokenMap() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("TokenMap() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
