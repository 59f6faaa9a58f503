package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNew_Levels(t *testing.T) {
	logger, err := New(Options{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Error("default logger has debug enabled")
	}

	logger, err = New(Options{Level: "warn", Verbose: true})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Error("Verbose should enable debug")
	}

	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("New() accepted an unknown level")
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "kanban.log")
	logger, err := New(Options{Level: "info", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	logger.Info("task created", zap.String("id", "t1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"task created"`) || !strings.Contains(string(data), `"id":"t1"`) {
		t.Errorf("log file = %s", data)
	}
}
