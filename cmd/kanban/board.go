package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/taskboard/kanban/internal/board"
	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/feed"
	"github.com/taskboard/kanban/internal/printer"
	"github.com/taskboard/kanban/internal/schema"
	"github.com/taskboard/kanban/internal/tui"
)

var boardCmd = &cobra.Command{
	Use:     "board",
	GroupID: "board",
	Short:   "Show the board",
	Long: `Show the three board columns.

Without flags the board is printed once. With --interactive it stays open and
follows every change made elsewhere:

  ←/→ h/l   move between columns       space    pick up / drop a card
  ↑/↓ k/j   move between cards         enter    open the task form
  n         new task in this column    c        comments
  d         delete                     q        quit

Cards can also be dragged between columns with the mouse; a short click opens
the task form.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		interactive, _ := cmd.Flags().GetBool("interactive")
		if !interactive {
			return printBoard(cmd)
		}

		s, err := connect(ctx)
		if err != nil {
			return err
		}
		if _, err := s.client.CheckVersion(ctx); err != nil {
			return err
		}

		notify, notices := tui.Notices(8)
		tasks := s.tasks(notify)

		ch, err := s.client.Subscribe(ctx, feed.Filter{Table: feed.TableTasks})
		if err != nil {
			// without the feed the board only sees its own changes
			logger.Warn("realtime feed unavailable", zap.Error(err))
		} else {
			defer ch.Close()
			go tasks.Watch(ctx, ch.Events())
		}

		renderer, style := tui.NewRenderer(os.Stdout)
		return tui.Run(ctx, tui.Options{
			Tasks:    tasks,
			Comments: s.client,
			Subscribe: func(ctx context.Context, filter feed.Filter) (<-chan feed.Event, func() error, error) {
				sub, err := s.client.Subscribe(ctx, filter)
				if err != nil {
					return nil, nil, err
				}
				return sub.Events(), sub.Close, nil
			},
			UserID:        s.userID,
			Suggester:     newSuggester(),
			Notify:        notify,
			Notices:       notices,
			Renderer:      renderer,
			MarkdownStyle: style,
			Logger:        logger.Named("tui"),
		})
	},
}

// printBoard renders the board once to stdout.
func printBoard(cmd *cobra.Command) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	tasks, err := c.ListTasks(cmd.Context(), db.ListTasksFilter{})
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	width, _ := cmd.Flags().GetInt("width")
	if width <= 0 {
		width = 120
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
			width = w
		}
	}
	renderer, _ := tui.NewRenderer(os.Stdout)
	fmt.Fprint(cmd.OutOrStdout(), tui.RenderBoard(renderer, tasks, tui.StaticOptions{Width: width, Now: time.Now()}))
	return nil
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "board",
	Short:   "Count tasks per column",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		data, err := c.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch stats: %w", err)
		}
		stats := board.Stats{
			Todo:       data.ByStatus[string(schema.StatusTodo)],
			InProgress: data.ByStatus[string(schema.StatusInProgress)],
			Done:       data.ByStatus[string(schema.StatusDone)],
		}
		out := cmd.OutOrStdout()
		printer.Stats(out, stats)
		printer.Info(out, "%d tasks", stats.Total())
		return nil
	},
}

func init() {
	boardCmd.Flags().BoolP("interactive", "i", false, "open the live board")
	boardCmd.Flags().Int("width", 0, "width of the printed board (default: terminal width)")

	rootCmd.AddCommand(boardCmd, statsCmd)
}
