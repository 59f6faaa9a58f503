package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskboard/kanban/internal/board"
	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/db/postgres"
	"github.com/taskboard/kanban/internal/loadtest"
	"github.com/taskboard/kanban/internal/migrate"
	"github.com/taskboard/kanban/internal/printer"
	"github.com/taskboard/kanban/internal/schema"
)

var dbCmd = &cobra.Command{
	Use:     "db",
	GroupID: "admin",
	Short:   "Database management",
	Long: `Manage the board database directly, without a running server.

The database is chosen by db.dsn (--dsn, KANBAN_DB_DSN):
  - a file path: embedded SQLite (default ~/.config/kanban/kanban.db)
  - libsql:// or https://: hosted libSQL, token as ?authToken=...
  - postgres://: PostgreSQL`,
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context(), cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		printer.Success(cmd.OutOrStdout(), "Database ready: %s", redactDSN(cfg.DB.DSN))
		return nil
	},
}

var dbExportCmd = &cobra.Command{
	Use:   "export [FILE]",
	Short: "Export a user's tasks and comments",
	Long: `Export every task of a user, with comments, to FILE or stdout.

Formats: json (default), jsonl (tasks only, one per line), yaml, toml. With
FILE the format follows the extension unless --format is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		user, err := dbUser(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer store.Close()

		format := migrate.FormatJSON
		if len(args) == 1 {
			if f, ok := migrate.FormatFromPath(args[0]); ok {
				format = f
			}
		}
		if cmd.Flags().Changed("format") {
			name, _ := cmd.Flags().GetString("format")
			if format, err = migrate.ParseFormat(name); err != nil {
				return err
			}
		}

		if len(args) == 0 {
			_, err := migrate.Export(ctx, store, user, cmd.OutOrStdout(), format)
			return err
		}
		res, err := migrate.ExportFile(ctx, store, user, args[0], format)
		if err != nil {
			return err
		}
		printer.Success(cmd.OutOrStdout(), "Exported %d tasks and %d comments to %s", res.Tasks, res.Comments, args[0])
		return nil
	},
}

var dbImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import tasks and comments for a user",
	Long: `Import an export file (json, jsonl, yaml or toml, chosen by extension).

Tasks are upserted by ID and owned by --user whatever the file says; missing
fields get their defaults. Invalid records are reported and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		user, err := dbUser(cmd)
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		store, err := openStore(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer store.Close()

		start := time.Now()
		res, err := migrate.ImportFile(ctx, store, args[0], migrate.ImportOptions{User: user, DryRun: dryRun})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		printer.Success(out, "%s %s in %v", verb, args[0], time.Since(start).Round(time.Millisecond))
		fmt.Fprintf(out, "   Tasks created: %d\n", res.TasksCreated)
		fmt.Fprintf(out, "   Tasks updated: %d\n", res.TasksUpdated)
		fmt.Fprintf(out, "   Comments: %d added, %d skipped\n", res.CommentsAdded, res.CommentsSkipped)
		for _, e := range res.Errors {
			printer.Warning(cmd.ErrOrStderr(), "%s", e)
		}
		if res.Failed() {
			return fmt.Errorf("%d records failed to import", len(res.Errors))
		}
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database location, size and task counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		user, err := dbUser(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		dsn := cfg.DB.DSN

		local := !postgres.IsPostgresDSN(dsn) && !db.IsRemoteDSN(dsn)
		var info os.FileInfo
		if local {
			path := strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite://"), "file:")
			info, err = os.Stat(path)
			if os.IsNotExist(err) {
				printer.Warning(out, "Database not initialized")
				fmt.Fprintf(out, "   Run 'kanban db init' to create %s\n", path)
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to stat database: %w", err)
			}
		}

		store, err := openStore(ctx, dsn)
		if err != nil {
			return err
		}
		defer store.Close()

		counts, err := store.TaskStats(ctx, user)
		if err != nil {
			return fmt.Errorf("failed to count tasks: %w", err)
		}

		fmt.Fprintf(out, "Location: %s\n", redactDSN(dsn))
		if info != nil {
			fmt.Fprintf(out, "Size: %s\n", formatSize(info.Size()))
			fmt.Fprintf(out, "Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(out, "User: %s\n\n", user)
		printer.Stats(out, board.Stats{
			Todo:       counts[schema.StatusTodo],
			InProgress: counts[schema.StatusInProgress],
			Done:       counts[schema.StatusDone],
		})
		return nil
	},
}

var dbBenchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Load test the database with concurrent board clients",
	Long: `Seed tasks for --user and run concurrent readers (board loads) and
writers (card moves) against the database, then print latency statistics.

The seeded tasks are left behind, so point --dsn at a scratch database.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		bc := loadtest.DefaultConfig()
		if cmd.Flags().Changed("user") {
			bc.UserID, _ = cmd.Flags().GetString("user")
		}
		bc.Tasks, _ = cmd.Flags().GetInt("tasks")
		bc.Readers, _ = cmd.Flags().GetInt("readers")
		bc.Writers, _ = cmd.Flags().GetInt("writers")
		bc.Duration, _ = cmd.Flags().GetDuration("duration")

		store, err := openStore(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Seeding %d tasks for %s, then %d readers and %d writers for %v...\n",
			bc.Tasks, bc.UserID, bc.Readers, bc.Writers, bc.Duration)
		report, err := loadtest.Run(ctx, store, bc)
		if err != nil {
			return fmt.Errorf("load test failed: %w", err)
		}

		fmt.Fprintln(out)
		report.Reads.Print(out, "Board loads")
		report.Writes.Print(out, "Card moves")
		ops := report.Reads.Operations + report.Writes.Operations
		fmt.Fprintf(out, "\nThroughput: %.1f ops/s over %v\n\n", float64(ops)/report.Elapsed.Seconds(), report.Elapsed.Round(time.Millisecond))
		printer.Stats(out, board.Stats{
			Todo:       report.Counts[schema.StatusTodo],
			InProgress: report.Counts[schema.StatusInProgress],
			Done:       report.Counts[schema.StatusDone],
		})
		return nil
	},
}

// dbUser is --user, falling back to inbox.user.
func dbUser(cmd *cobra.Command) (string, error) {
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		user = cfg.Inbox.User
	}
	if user == "" {
		return "", fmt.Errorf("--user is required (or set inbox.user)")
	}
	return user, nil
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	}
	return fmt.Sprintf("%d bytes", size)
}

// redactDSN hides credentials in URLs.
func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "authToken="); i >= 0 {
		return dsn[:i] + "authToken=***"
	}
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return dsn
}

func init() {
	for _, c := range []*cobra.Command{dbExportCmd, dbImportCmd, dbStatsCmd} {
		c.Flags().StringP("user", "u", "", "board owner (default inbox.user)")
	}
	dbExportCmd.Flags().StringP("format", "f", "json", "json, jsonl, yaml or toml")
	dbImportCmd.Flags().Bool("dry-run", false, "validate without writing")

	dbBenchCmd.Flags().StringP("user", "u", "loadtest", "owner of the seeded tasks")
	dbBenchCmd.Flags().Int("tasks", 500, "tasks to seed")
	dbBenchCmd.Flags().Int("readers", 8, "concurrent board loaders")
	dbBenchCmd.Flags().Int("writers", 2, "concurrent card movers")
	dbBenchCmd.Flags().Duration("duration", 5*time.Second, "how long to run")

	dbCmd.AddCommand(dbInitCmd, dbExportCmd, dbImportCmd, dbStatsCmd, dbBenchCmd)
	rootCmd.AddCommand(dbCmd)
}
