// Package migrate moves a user's board in and out of the store as a single
// document (json, jsonl, yaml or toml).
package migrate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/schema"
)

// BundleVersion is written into every exported document.
const BundleVersion = 1

// Format is an export encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
	FormatTOML  Format = "toml"
)

// ParseFormat accepts a format name as typed on the command line.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unknown format %q (want json, jsonl, yaml or toml)", s)
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, bool) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", false
	}
	f, err := ParseFormat(ext)
	return f, err == nil
}

// Bundle is the exported document. JSONL carries tasks only, one per line.
type Bundle struct {
	Version    int              `json:"version" yaml:"version" toml:"version"`
	ExportedAt time.Time        `json:"exported_at" yaml:"exported_at" toml:"exported_at"`
	Tasks      []schema.Task    `json:"tasks" yaml:"tasks" toml:"tasks"`
	Comments   []schema.Comment `json:"comments,omitempty" yaml:"comments,omitempty" toml:"comments,omitempty"`
}

// ImportOptions controls Import.
type ImportOptions struct {
	// User owns every imported row, whatever the document says.
	User   string
	DryRun bool
	Now    func() time.Time
}

// ImportResult contains statistics about an import
type ImportResult struct {
	TasksCreated    int
	TasksUpdated    int
	CommentsAdded   int
	CommentsSkipped int
	Errors          []string
}

// Failed reports whether any record was rejected.
func (r *ImportResult) Failed() bool {
	return len(r.Errors) > 0
}

// ExportResult contains statistics about an export
type ExportResult struct {
	Tasks    int
	Comments int
}

// Export writes every task of user (and their comments, except for jsonl) to w.
func Export(ctx context.Context, store db.Store, user string, w io.Writer, format Format) (*ExportResult, error) {
	tasks, err := store.ListTasks(ctx, user, db.ListTasksFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	bundle := &Bundle{
		Version:    BundleVersion,
		ExportedAt: time.Now().UTC(),
		Tasks:      tasks,
	}
	if format != FormatJSONL {
		for _, task := range tasks {
			comments, err := store.ListComments(ctx, user, task.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to list comments for %s: %w", task.ID, err)
			}
			bundle.Comments = append(bundle.Comments, comments...)
		}
	}

	if err := WriteBundle(w, bundle, format); err != nil {
		return nil, err
	}
	return &ExportResult{Tasks: len(bundle.Tasks), Comments: len(bundle.Comments)}, nil
}

// ExportFile exports to path, replacing it atomically.
func ExportFile(ctx context.Context, store db.Store, user, path string, format Format) (*ExportResult, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var buf bytes.Buffer
	result, err := Export(ctx, store, user, &buf, format)
	if err != nil {
		return nil, err
	}

	// Write atomically via temp file
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0600); err != nil {
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return result, nil
}

// WriteBundle encodes b in format.
func WriteBundle(w io.Writer, b *Bundle, format Format) error {
	var err error
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(b)
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for i := range b.Tasks {
			if err = enc.Encode(&b.Tasks[i]); err != nil {
				break
			}
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err = enc.Encode(b); err == nil {
			err = enc.Close()
		}
	case FormatTOML:
		err = toml.NewEncoder(w).Encode(b)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return nil
}

// ReadBundle decodes a document. A JSON document may also be a bare array of
// tasks.
func ReadBundle(r io.Reader, format Format) (*Bundle, error) {
	if format == FormatJSONL {
		return readJSONL(r)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	var b Bundle
	switch format {
	case FormatJSON:
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			err = json.Unmarshal(trimmed, &b.Tasks)
		} else {
			err = json.Unmarshal(trimmed, &b)
		}
	case FormatYAML:
		err = yaml.Unmarshal(data, &b)
	case FormatTOML:
		err = toml.Unmarshal(data, &b)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", format, err)
	}
	return &b, nil
}

func readJSONL(r io.Reader) (*Bundle, error) {
	var b Bundle
	decoder := json.NewDecoder(bufio.NewReader(r))
	lineNum := 0

	for {
		var task schema.Task
		if err := decoder.Decode(&task); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++
		b.Tasks = append(b.Tasks, task)
	}
	return &b, nil
}

// ImportFile reads path (format from its extension) and imports it.
func ImportFile(ctx context.Context, store db.Store, path string, opts ImportOptions) (*ImportResult, error) {
	format, ok := FormatFromPath(path)
	if !ok {
		return nil, fmt.Errorf("cannot tell the format of %s (want .json, .jsonl, .yaml or .toml)", path)
	}

	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	bundle, err := ReadBundle(file, format)
	if err != nil {
		return nil, err
	}
	return Import(ctx, store, bundle, opts)
}

// Import upserts the bundle's tasks for opts.User and adds comments that are
// not already stored. Bad records are collected in the result rather than
// aborting the import; store failures abort it.
func Import(ctx context.Context, store db.Store, b *Bundle, opts ImportOptions) (*ImportResult, error) {
	if opts.User == "" {
		return nil, fmt.Errorf("import requires a user")
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	result := &ImportResult{}

	imported := make(map[string]bool, len(b.Tasks))
	for i := range b.Tasks {
		task := b.Tasks[i].Clone()
		task.UserID = opts.User
		if task.CreatedAt.IsZero() {
			task.CreatedAt = now()
		}
		task.SetDefaults()
		if err := task.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("task %d (%s): %v", i+1, task.Title, err))
			continue
		}

		existing, err := store.GetTask(ctx, opts.User, task.ID)
		switch {
		case errors.Is(err, db.ErrNotFound):
			existing = nil
		case err != nil:
			return result, fmt.Errorf("failed to look up task %s: %w", task.ID, err)
		}

		if !opts.DryRun {
			if err := store.UpsertTask(ctx, &task); err != nil {
				if errors.Is(err, db.ErrConflict) || errors.Is(err, db.ErrInvalid) {
					result.Errors = append(result.Errors, fmt.Sprintf("task %s: %v", task.ID, err))
					continue
				}
				return result, fmt.Errorf("failed to import task %s: %w", task.ID, err)
			}
		}
		imported[task.ID] = true
		if existing == nil {
			result.TasksCreated++
		} else {
			result.TasksUpdated++
		}
	}

	for i := range b.Comments {
		c := b.Comments[i]
		c.UserID = opts.User
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now()
		}
		in := schema.CommentInsert{TaskID: c.TaskID, UserID: c.UserID, Content: c.Content}
		if c.ID == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("comment %d: id is required", i+1))
			continue
		}
		if err := in.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("comment %s: %v", c.ID, err))
			continue
		}
		if opts.DryRun {
			if imported[c.TaskID] {
				result.CommentsAdded++
			} else {
				result.CommentsSkipped++
			}
			continue
		}

		err := store.AddComment(ctx, &c)
		switch {
		case err == nil:
			result.CommentsAdded++
		case errors.Is(err, db.ErrConflict):
			result.CommentsSkipped++
		case errors.Is(err, db.ErrNotFound), errors.Is(err, db.ErrInvalid):
			result.Errors = append(result.Errors, fmt.Sprintf("comment %s: %v", c.ID, err))
		default:
			return result, fmt.Errorf("failed to import comment %s: %w", c.ID, err)
		}
	}

	return result, nil
}
