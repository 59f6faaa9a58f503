package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is a task file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the encoding from a file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".toml":
		return FormatTOML, true
	}
	return "", false
}

// IsTaskFile reports whether path has a task file extension.
func IsTaskFile(path string) bool {
	_, ok := FormatFromPath(path)
	return ok
}

// DecodeTask parses one task in the given format.
func DecodeTask(data []byte, format Format) (*Task, error) {
	var task Task
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &task)
	case FormatYAML:
		err = yaml.Unmarshal(data, &task)
	case FormatTOML:
		err = toml.Unmarshal(data, &task)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// EncodeTask renders one task in the given format.
func EncodeTask(task *Task, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(task, "", "  ")
	case FormatYAML:
		return yaml.Marshal(task)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(task); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

// ReadTaskFile reads and parses a task file. Defaults are not applied; the
// caller decides which fields a file may omit.
func ReadTaskFile(path string) (*Task, error) {
	format, ok := FormatFromPath(path)
	if !ok {
		return nil, fmt.Errorf("unsupported task file extension: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file %s: %w", path, err)
	}

	task, err := DecodeTask(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse task file %s: %w", path, err)
	}
	return task, nil
}

// WriteTaskFile writes task to dir/{id}.{format}.
func WriteTaskFile(dir string, task *Task, format Format) (string, error) {
	if err := task.Validate(); err != nil {
		return "", fmt.Errorf("cannot write invalid task: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := EncodeTask(task, format)
	if err != nil {
		return "", fmt.Errorf("failed to encode task %s: %w", task.ID, err)
	}

	path := filepath.Join(dir, task.ID+"."+string(format))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write task file %s: %w", path, err)
	}
	return path, nil
}

// ReadAllTaskFiles reads every task file in dir, keyed by path. Files that
// fail to parse are returned in skipped rather than aborting the scan.
func ReadAllTaskFiles(dir string) (tasks map[string]*Task, skipped map[string]error, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Task{}, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	tasks = make(map[string]*Task)
	for _, entry := range entries {
		if entry.IsDir() || !IsTaskFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		task, err := ReadTaskFile(path)
		if err != nil {
			if skipped == nil {
				skipped = make(map[string]error)
			}
			skipped[path] = err
			continue
		}
		tasks[path] = task
	}
	return tasks, skipped, nil
}
