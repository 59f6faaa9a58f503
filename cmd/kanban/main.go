// Command kanban runs the board server and talks to it from the terminal.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/config"
	"github.com/taskboard/kanban/internal/logging"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "0.3.0"

var (
	cfgFile string
	verbose bool

	v      = config.New()
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "kanban",
	Short: "Personal kanban board with live updates",
	Long: `kanban is a single-user task board with three columns: To Do, In Progress and
Completed.

Run 'kanban serve' once to host the board, then use the other commands (or
'kanban board --interactive') from any terminal. Every change is pushed to
open boards over the realtime feed.

Settings come from kanban.yaml (or .toml/.json) in the working directory or
~/.config/kanban, then KANBAN_* environment variables, then flags:
  KANBAN_CLIENT_URL=http://localhost:8080 KANBAN_CLIENT_TOKEN=... kanban task list`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ReadFile(v, cfgFile); err != nil {
			return err
		}
		loaded, err := config.Load(v)
		if err != nil {
			return err
		}
		l, err := logging.New(logging.Options{
			Level:      loaded.Log.Level,
			Dev:        loaded.Log.Dev,
			Verbose:    verbose,
			File:       loaded.Log.File,
			MaxSizeMB:  loaded.Log.MaxSizeMB,
			MaxBackups: loaded.Log.MaxBackups,
			MaxAgeDays: loaded.Log.MaxAgeDays,
		})
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "board", Title: "Board Commands:"},
		&cobra.Group{ID: "admin", Title: "Server Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: search . and ~/.config/kanban)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.String("server", "", "board server URL (client.url)")
	flags.String("token", "", "API token (client.token)")
	flags.String("dsn", "", "database DSN for server and db commands (db.dsn)")
	_ = v.BindPFlag("client.url", flags.Lookup("server"))
	_ = v.BindPFlag("client.token", flags.Lookup("token"))
	_ = v.BindPFlag("db.dsn", flags.Lookup("dsn"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
