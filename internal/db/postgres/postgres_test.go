package postgres_test

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/db/dbtest"
	"github.com/taskboard/kanban/internal/db/postgres"
)

// dockerAvailable probes for a daemon up front; testcontainers panics
// without one.
func dockerAvailable() bool {
	return exec.Command("docker", "info").Run() == nil
}

var (
	containerOnce sync.Once
	container     *tcpostgres.PostgresContainer
	containerURL  string
	containerErr  error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if container != nil {
		_ = testcontainers.TerminateContainer(container)
	}
	os.Exit(code)
}

// sharedURL starts one container for the package and returns its URL.
func sharedURL(t *testing.T) string {
	t.Helper()
	if !dockerAvailable() {
		t.Skip("Docker not available, skipping PostgreSQL integration tests")
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		c, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("kanban"),
			tcpostgres.WithUsername("kanban"),
			tcpostgres.WithPassword("kanban"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			containerErr = err
			return
		}
		container = c
		containerURL, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Skipf("failed to start PostgreSQL container: %v", containerErr)
	}
	return containerURL
}

func openStore(t *testing.T) db.Store {
	t.Helper()
	url := sharedURL(t)
	ctx := context.Background()

	// Each subtest starts from empty tables.
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("pgxpool.New() failed: %v", err)
	}
	_, _ = pool.Exec(ctx, `DROP TABLE IF EXISTS comments; DROP TABLE IF EXISTS tasks`)
	pool.Close()

	store, err := postgres.Open(ctx, url)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return store
}

func TestPostgresStore(t *testing.T) {
	dbtest.Run(t, openStore)
}

func TestIsPostgresDSN(t *testing.T) {
	if !postgres.IsPostgresDSN("postgres://kanban@localhost/kanban") {
		t.Error("postgres:// should be recognised")
	}
	if postgres.IsPostgresDSN("libsql://board.turso.io") {
		t.Error("libsql:// is not postgres")
	}
}
