package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taskboard/kanban/internal/daemon"
	"github.com/taskboard/kanban/internal/dashboard"
	"github.com/taskboard/kanban/internal/service"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "admin",
	Short:   "Start the board server (REST API and realtime feed)",
	Long: `Start the board server.

The server owns the database and exposes:
- REST API under /api (tasks, comments, stats), bearer-token authenticated
- /realtime: WebSocket change feed; clients subscribe per table and task
- /health: status and version, no token needed

Tokens map to users through auth.tokens ("token=user" entries, or
KANBAN_AUTH_TOKENS=tok1=alice,tok2=bob).

When redis.url is set, changes are fanned out through Redis so several
server instances can share one database. When inbox.dir is set, task files
(.json, .yaml, .toml) dropped into that directory are imported for inbox.user.

Example usage:
  kanban serve                          # listen on :8080, embedded database
  kanban serve --addr :9000
  kanban serve --dsn postgres://localhost/kanban
  kanban serve --inbox ~/kanban-inbox --inbox-user alice`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens, err := cfg.Auth.TokenMap()
		if err != nil {
			return err
		}
		if len(tokens) == 0 {
			logger.Warn("no auth tokens configured; every API request will be rejected")
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		store, err := openStore(ctx, cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()

		broker, closeBroker, err := openBroker(ctx)
		if err != nil {
			return err
		}
		defer closeBroker()

		board := service.New(service.Config{
			Store:  store,
			Broker: broker,
			Logger: logger.Named("board"),
		})

		version := cfg.Server.Version
		if version == "" {
			version = Version
		}
		server := dashboard.NewServer(&dashboard.Config{
			Addr:    cfg.Server.Addr,
			Version: version,
			Board:   board,
			Tokens:  tokens,
			Logger:  logger.Named("api"),
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}

		out := cmd.OutOrStdout()
		addr := server.GetAddr()
		fmt.Fprintf(out, "Board server started on http://%s\n", addr)
		fmt.Fprintf(out, "Realtime endpoint: ws://%s/realtime\n", addr)
		fmt.Fprintf(out, "Health check: http://%s/health\n", addr)
		fmt.Fprintln(out, "\nPress Ctrl+C to stop...")

		g, gctx := errgroup.WithContext(ctx)
		if cfg.Inbox.Dir != "" {
			d, err := daemon.New(board, &daemon.Config{
				Dir:              cfg.Inbox.Dir,
				User:             cfg.Inbox.User,
				DebounceInterval: cfg.Inbox.Debounce,
				Logger:           logger.Named("inbox"),
			})
			if err != nil {
				_ = server.Stop()
				return err
			}
			g.Go(func() error { return d.Run(gctx) })
		}
		g.Go(func() error {
			<-gctx.Done()
			fmt.Fprintln(out, "\nShutting down board server...")
			return server.Stop()
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server exited with error", zap.Error(err))
			return err
		}
		fmt.Fprintln(out, "Board server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "address to listen on (server.addr)")
	serveCmd.Flags().String("inbox", "", "directory watched for task files (inbox.dir)")
	serveCmd.Flags().String("inbox-user", "", "owner of inbox tasks (inbox.user)")
	_ = v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("inbox.dir", serveCmd.Flags().Lookup("inbox"))
	_ = v.BindPFlag("inbox.user", serveCmd.Flags().Lookup("inbox-user"))

	rootCmd.AddCommand(serveCmd)
}
