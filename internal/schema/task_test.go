package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func validTask() Task {
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	return Task{
		ID:        "9c2b9d0e-5a0f-4f0e-8d36-1f0d2a8b7c11",
		UserID:    "alice",
		Title:     "Write release notes",
		Status:    StatusTodo,
		Priority:  PriorityMedium,
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TestTask_Validate covers required fields and enum checks
func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr string
	}{
		{"valid", func(*Task) {}, ""},
		{"missing id", func(t *Task) { t.ID = "" }, "id is required"},
		{"missing user", func(t *Task) { t.UserID = "" }, "user_id is required"},
		{"blank title", func(t *Task) { t.Title = "   " }, "title is required"},
		{"long title", func(t *Task) { t.Title = strings.Repeat("x", MaxTitleLength+1) }, "500 characters or less"},
		{"multibyte title at limit", func(t *Task) { t.Title = strings.Repeat("é", MaxTitleLength) }, ""},
		{"multibyte title over limit", func(t *Task) { t.Title = strings.Repeat("é", MaxTitleLength+1) }, "(got 501)"},
		{"bad status", func(t *Task) { t.Status = "blocked" }, "invalid status"},
		{"bad priority", func(t *Task) { t.Priority = "urgent" }, "invalid priority"},
		{"zero created_at", func(t *Task) { t.CreatedAt = time.Time{} }, "created_at is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := validTask()
			tt.mutate(&task)
			err := task.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestTask_SetDefaults(t *testing.T) {
	task := Task{Title: "Inbox item"}
	task.SetDefaults()

	if task.ID == "" {
		t.Error("ID not assigned")
	}
	if task.Status != StatusTodo {
		t.Errorf("Status = %q, want %q", task.Status, StatusTodo)
	}
	if task.Priority != PriorityMedium {
		t.Errorf("Priority = %q, want %q", task.Priority, PriorityMedium)
	}
	if task.Tags == nil || len(task.Tags) != 0 {
		t.Errorf("Tags = %#v, want empty non-nil slice", task.Tags)
	}
	if task.CreatedAt.IsZero() || !task.UpdatedAt.Equal(task.CreatedAt) {
		t.Errorf("timestamps not defaulted: created=%v updated=%v", task.CreatedAt, task.UpdatedAt)
	}
}

func TestParseStatus(t *testing.T) {
	tests := map[string]Status{
		"todo":        StatusTodo,
		"To-Do":       StatusTodo,
		"in_progress": StatusInProgress,
		"doing":       StatusInProgress,
		"in-progress": StatusInProgress,
		"completed":   StatusDone,
		"done":        StatusDone,
	}
	for in, want := range tests {
		got, err := ParseStatus(in)
		if err != nil {
			t.Errorf("ParseStatus(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseStatus(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := ParseStatus("blocked"); err == nil {
		t.Error("ParseStatus(blocked) should fail")
	}
}

func TestApply(t *testing.T) {
	base := validTask()
	desc := "old"
	base.Description = &desc

	title := "New title"
	status := StatusDone
	tags := []string{"release"}
	due := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	got := Apply(base, TaskUpdate{
		Title:       &title,
		Description: Null[string](),
		Status:      &status,
		DueDate:     Some(due),
		Tags:        &tags,
	})

	want := base.Clone()
	want.Title = title
	want.Description = nil
	want.Status = status
	want.DueDate = &due
	want.Tags = []string{"release"}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply() mismatch (-want +got):\n%s", diff)
	}

	// Source task is untouched
	if base.Description == nil || *base.Description != "old" {
		t.Errorf("Apply() modified the source task: %+v", base)
	}

	// Mutating the patch afterwards must not leak into the result
	tags[0] = "changed"
	if got.Tags[0] != "release" {
		t.Errorf("Apply() aliased the tags slice: %v", got.Tags)
	}
}

func TestApply_EmptyPatch(t *testing.T) {
	base := validTask()
	if !(TaskUpdate{}).Empty() {
		t.Fatal("zero TaskUpdate should be empty")
	}
	if diff := cmp.Diff(base, Apply(base, TaskUpdate{})); diff != "" {
		t.Errorf("empty patch changed the task (-want +got):\n%s", diff)
	}
}

// TestTaskUpdate_JSON checks absent vs null handling on the wire
func TestTaskUpdate_JSON(t *testing.T) {
	var u TaskUpdate
	if err := json.Unmarshal([]byte(`{"description": null, "status": "done"}`), &u); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !u.Description.Set || u.Description.Value != nil {
		t.Errorf("description = %+v, want set null", u.Description)
	}
	if u.DueDate.Set {
		t.Errorf("due_date = %+v, want unset", u.DueDate)
	}
	if u.Status == nil || *u.Status != StatusDone {
		t.Errorf("status = %v, want done", u.Status)
	}

	out, err := json.Marshal(StatusUpdate(StatusInProgress))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != `{"status":"in-progress"}` {
		t.Errorf("Marshal = %s, want only status", out)
	}

	out, err = json.Marshal(TaskUpdate{Description: Null[string]()})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != `{"description":null}` {
		t.Errorf("Marshal = %s, want explicit null description", out)
	}
}

func TestTaskInsert_Validate(t *testing.T) {
	in := TaskInsert{Title: "x"}
	if err := in.Validate(); err == nil {
		t.Error("Validate() should fail before defaults are applied")
	}
	in.SetDefaults()
	if err := in.Validate(); err != nil {
		t.Errorf("Validate() after SetDefaults failed: %v", err)
	}

	empty := TaskInsert{}
	empty.SetDefaults()
	if err := empty.Validate(); err == nil || err.Error() != "title is required" {
		t.Errorf("Validate() = %v, want title is required", err)
	}
}

func TestCommentInsert_Validate(t *testing.T) {
	tests := []struct {
		name string
		in   CommentInsert
		ok   bool
	}{
		{"valid", CommentInsert{TaskID: "t1", Content: "looks good"}, true},
		{"no task", CommentInsert{Content: "x"}, false},
		{"blank", CommentInsert{TaskID: "t1", Content: "  \n"}, false},
		{"too long", CommentInsert{TaskID: "t1", Content: strings.Repeat("a", MaxCommentLength+1)}, false},
		{"multibyte within limit", CommentInsert{TaskID: "t1", Content: strings.Repeat("日", 4000)}, true},
		{"multibyte at limit", CommentInsert{TaskID: "t1", Content: strings.Repeat("日", MaxCommentLength)}, true},
		{"multibyte over limit", CommentInsert{TaskID: "t1", Content: strings.Repeat("日", MaxCommentLength+1)}, false},
	}
	for _, tt := range tests {
		err := tt.in.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("%s: Validate() = %v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

func TestTaskFile_RoundTripFormats(t *testing.T) {
	dir := t.TempDir()
	task := validTask()
	desc := "Cover the new board"
	due := time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)
	task.Description = &desc
	task.DueDate = &due
	task.Tags = []string{"docs"}

	for _, format := range []Format{FormatJSON, FormatYAML, FormatTOML} {
		t.Run(string(format), func(t *testing.T) {
			path, err := WriteTaskFile(dir, &task, format)
			if err != nil {
				t.Fatalf("WriteTaskFile() failed: %v", err)
			}
			if filepath.Ext(path) != "."+string(format) {
				t.Errorf("path = %s, want .%s extension", path, format)
			}

			got, err := ReadTaskFile(path)
			if err != nil {
				t.Fatalf("ReadTaskFile() failed: %v", err)
			}
			if diff := cmp.Diff(task, *got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadTaskFile_MinimalYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fix-login.yml")
	if err := os.WriteFile(path, []byte("title: Fix login\npriority: high\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	task, err := ReadTaskFile(path)
	if err != nil {
		t.Fatalf("ReadTaskFile() failed: %v", err)
	}
	if task.Title != "Fix login" || task.Priority != PriorityHigh {
		t.Errorf("task = %+v", task)
	}
	if task.Status != "" {
		t.Errorf("Status = %q, want empty before SetDefaults", task.Status)
	}
}

func TestReadAllTaskFiles_SkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	good := validTask()
	if _, err := WriteTaskFile(dir, &good, FormatJSON); err != nil {
		t.Fatalf("WriteTaskFile() failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	tasks, skipped, err := ReadAllTaskFiles(dir)
	if err != nil {
		t.Fatalf("ReadAllTaskFiles() failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("len(tasks) = %d, want 1", len(tasks))
	}
	if len(skipped) != 1 {
		t.Errorf("len(skipped) = %d, want 1", len(skipped))
	}

	tasks, _, err = ReadAllTaskFiles(filepath.Join(dir, "missing"))
	if err != nil || len(tasks) != 0 {
		t.Errorf("missing dir: tasks=%v err=%v, want empty and nil", tasks, err)
	}
}

func TestParseDueDate(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) // a Monday

	got, err := ParseDueDate("2026-11-02", now)
	if err != nil || got == nil || !got.Equal(time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date-only = %v, %v", got, err)
	}

	got, err = ParseDueDate("2026-11-02T15:04:05+02:00", now)
	if err != nil || got == nil || got.Hour() != 13 {
		t.Errorf("rfc3339 = %v, %v", got, err)
	}

	got, err = ParseDueDate("", now)
	if err != nil || got != nil {
		t.Errorf("empty = %v, %v, want nil nil", got, err)
	}

	got, err = ParseDueDate("in 3 days", now)
	if err != nil {
		t.Fatalf("ParseDueDate(in 3 days) failed: %v", err)
	}
	if got == nil || got.YearDay() != now.AddDate(0, 0, 3).YearDay() {
		t.Errorf("in 3 days = %v", got)
	}

	if _, err := ParseDueDate("whenever you feel like it", now); err == nil {
		t.Error("nonsense phrase should fail")
	}
}
