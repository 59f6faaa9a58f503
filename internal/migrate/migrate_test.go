package migrate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/db/dbtest"
	"github.com/taskboard/kanban/internal/schema"
)

func openStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "kanban.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return store
}

func seed(t *testing.T, store db.Store) {
	t.Helper()
	ctx := context.Background()
	first := dbtest.NewTask("t1", "alice", "Draft plan", 0)
	desc := "Outline the **milestones**"
	due := dbtest.Base.Add(48 * time.Hour)
	first.Description = &desc
	first.DueDate = &due
	first.Tags = []string{"planning"}
	second := dbtest.NewTask("t2", "alice", "Ship it", time.Minute)
	second.Status = schema.StatusInProgress
	second.Priority = schema.PriorityHigh

	for _, task := range []*schema.Task{first, second} {
		if err := store.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask() failed: %v", err)
		}
	}
	comment := &schema.Comment{ID: "c1", TaskID: "t1", UserID: "alice", Content: "Looks right", CreatedAt: dbtest.Base.Add(time.Hour)}
	if err := store.AddComment(ctx, comment); err != nil {
		t.Fatalf("AddComment() failed: %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"json":   FormatJSON,
		"JSONL":  FormatJSONL,
		"ndjson": FormatJSONL,
		"yml":    FormatYAML,
		"toml":   FormatTOML,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v, want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("csv"); err == nil {
		t.Error("ParseFormat(csv) should fail")
	}
	if _, ok := FormatFromPath("board"); ok {
		t.Error("FormatFromPath without extension should fail")
	}
}

// TestRoundTrip exports alice's board and imports it into an empty store as bob
func TestRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatJSONL, FormatYAML, FormatTOML} {
		t.Run(string(format), func(t *testing.T) {
			ctx := context.Background()
			src := openStore(t)
			seed(t, src)

			path := filepath.Join(t.TempDir(), "out", "board."+string(format))
			exported, err := ExportFile(ctx, src, "alice", path, format)
			if err != nil {
				t.Fatalf("ExportFile() failed: %v", err)
			}
			if exported.Tasks != 2 {
				t.Errorf("exported %d tasks, want 2", exported.Tasks)
			}
			if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
				t.Errorf("temp file left behind: %v", err)
			}

			dst := openStore(t)
			result, err := ImportFile(ctx, dst, path, ImportOptions{User: "bob"})
			if err != nil {
				t.Fatalf("ImportFile() failed: %v", err)
			}
			if result.Failed() {
				t.Fatalf("ImportFile() errors: %v", result.Errors)
			}
			if result.TasksCreated != 2 || result.TasksUpdated != 0 {
				t.Errorf("result = %+v, want 2 created", result)
			}

			want, err := src.ListTasks(ctx, "alice", db.ListTasksFilter{})
			if err != nil {
				t.Fatalf("ListTasks() failed: %v", err)
			}
			for i := range want {
				want[i].UserID = "bob"
			}
			got, err := dst.ListTasks(ctx, "bob", db.ListTasksFilter{})
			if err != nil {
				t.Fatalf("ListTasks() failed: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("imported tasks mismatch (-want +got):\n%s", diff)
			}

			comments, err := dst.ListComments(ctx, "bob", "t1")
			if err != nil {
				t.Fatalf("ListComments() failed: %v", err)
			}
			wantComments := 1
			if format == FormatJSONL {
				wantComments = 0
			}
			if len(comments) != wantComments {
				t.Errorf("len(comments) = %d, want %d", len(comments), wantComments)
			}
		})
	}
}

func TestImport_UpdatesAndSkipsExisting(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	seed(t, store)

	var buf bytes.Buffer
	if _, err := Export(ctx, store, "alice", &buf, FormatJSON); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	bundle, err := ReadBundle(&buf, FormatJSON)
	if err != nil {
		t.Fatalf("ReadBundle() failed: %v", err)
	}
	bundle.Tasks[0].Title = "Renamed on import"

	result, err := Import(ctx, store, bundle, ImportOptions{User: "alice"})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.TasksUpdated != 2 || result.TasksCreated != 0 {
		t.Errorf("result = %+v, want 2 updated", result)
	}
	if result.CommentsSkipped != 1 || result.CommentsAdded != 0 {
		t.Errorf("result = %+v, want the existing comment skipped", result)
	}

	got, err := store.GetTask(ctx, "alice", bundle.Tasks[0].ID)
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if got.Title != "Renamed on import" {
		t.Errorf("Title = %q, want the imported title", got.Title)
	}
}

func TestImport_CollectsBadRecords(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	seed(t, store)

	input := strings.Join([]string{
		`{"title": "Minimal task"}`,
		`{"id": "bad", "title": "   "}`,
		`{"id": "t9", "title": "Wrong status", "status": "blocked"}`,
	}, "\n")
	bundle, err := ReadBundle(strings.NewReader(input), FormatJSONL)
	if err != nil {
		t.Fatalf("ReadBundle() failed: %v", err)
	}
	bundle.Comments = []schema.Comment{
		{ID: "c9", TaskID: "missing", Content: "orphan"},
		{TaskID: "t1", Content: "no id"},
	}

	// bob cannot take over alice's t1 either
	bundle.Tasks = append(bundle.Tasks, schema.Task{ID: "t1", Title: "Hijack"})

	result, err := Import(ctx, store, bundle, ImportOptions{User: "bob"})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.TasksCreated != 1 {
		t.Errorf("TasksCreated = %d, want 1", result.TasksCreated)
	}
	if len(result.Errors) != 5 {
		t.Errorf("Errors = %v, want 5 entries", result.Errors)
	}

	alice, err := store.GetTask(ctx, "alice", "t1")
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if alice.Title != "Draft plan" {
		t.Errorf("alice's task was overwritten: %q", alice.Title)
	}

	tasks, err := store.ListTasks(ctx, "bob", db.ListTasksFilter{})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Status != schema.StatusTodo || tasks[0].Priority != schema.PriorityMedium {
		t.Errorf("tasks = %+v, want one defaulted task", tasks)
	}
}

func TestImport_DryRun(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	bundle := &Bundle{
		Tasks:    []schema.Task{{ID: "t1", Title: "Preview only"}},
		Comments: []schema.Comment{{ID: "c1", TaskID: "t1", Content: "hi"}},
	}
	result, err := Import(ctx, store, bundle, ImportOptions{User: "alice", DryRun: true})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.TasksCreated != 1 || result.CommentsAdded != 1 {
		t.Errorf("result = %+v, want 1 task and 1 comment counted", result)
	}

	tasks, err := store.ListTasks(ctx, "alice", db.ListTasksFilter{})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("dry run wrote %d tasks", len(tasks))
	}
}

func TestImport_RequiresUser(t *testing.T) {
	if _, err := Import(context.Background(), openStore(t), &Bundle{}, ImportOptions{}); err == nil {
		t.Error("Import() without a user should fail")
	}
}

func TestReadBundle_JSONArray(t *testing.T) {
	bundle, err := ReadBundle(strings.NewReader(` [{"title": "a"}, {"title": "b"}]`), FormatJSON)
	if err != nil {
		t.Fatalf("ReadBundle() failed: %v", err)
	}
	if len(bundle.Tasks) != 2 {
		t.Errorf("len(Tasks) = %d, want 2", len(bundle.Tasks))
	}
}

func TestReadBundle_InvalidJSONL(t *testing.T) {
	_, err := ReadBundle(strings.NewReader("{\"title\": \"ok\"}\n{broken"), FormatJSONL)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("ReadBundle() = %v, want error at line 2", err)
	}
}

func TestImportFile_UnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.csv")
	if err := os.WriteFile(path, []byte("title\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := ImportFile(context.Background(), openStore(t), path, ImportOptions{User: "alice"}); err == nil {
		t.Error("ImportFile(.csv) should fail")
	}
}
