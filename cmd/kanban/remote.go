package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/taskboard/kanban/internal/cache"
	"github.com/taskboard/kanban/internal/client"
	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/dialog"
	"github.com/taskboard/kanban/internal/printer"
	"github.com/taskboard/kanban/internal/schema"
	"github.com/taskboard/kanban/internal/suggest"
)

func newClient() (*client.Client, error) {
	c, err := client.New(client.Config{
		BaseURL: cfg.Client.URL,
		Token:   cfg.Client.Token,
		Version: Version,
		Logger:  logger.Named("client"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

// session is a signed-in connection to the board server.
type session struct {
	client *client.Client
	userID string
}

// connect creates a client and resolves the user behind the configured
// token.
func connect(ctx context.Context) (*session, error) {
	c, err := newClient()
	if err != nil {
		return nil, err
	}
	user, err := c.Me(ctx)
	if err != nil {
		if client.IsUnauthorized(err) {
			return nil, fmt.Errorf("not signed in: set client.token (KANBAN_CLIENT_TOKEN) to a token from auth.tokens")
		}
		return nil, fmt.Errorf("failed to reach %s: %w", cfg.Client.URL, err)
	}
	logger.Debug("connected", zap.String("server", cfg.Client.URL), zap.String("user", user))
	return &session{client: c, userID: user}, nil
}

// printNotices writes cache notices as status lines: successes to out,
// errors to errOut.
func printNotices(out, errOut io.Writer) cache.Notifier {
	return func(n cache.Notice) {
		if n.Level == cache.LevelError {
			printer.Error(errOut, "%s", n.Message)
			return
		}
		printer.Success(out, "%s", n.Message)
	}
}

func (s *session) tasks(notify cache.Notifier) *cache.TaskCache {
	return cache.NewTaskCache(cache.TaskConfig{
		Backend: s.client,
		Notify:  notify,
		Logger:  logger.Named("cache"),
	})
}

// dialog opens the task dialog for task (nil creates) backed by a task cache
// on this session.
func (s *session) dialog(task *schema.Task, status schema.Status, notify cache.Notifier) *dialog.Dialog {
	return dialog.New(dialog.Config{
		Tasks:         s.tasks(notify),
		UserID:        s.userID,
		Task:          task,
		DefaultStatus: status,
		Suggester:     newSuggester(),
		Comments:      s.client,
		Notify:        notify,
		Logger:        logger.Named("dialog"),
	})
}

// newSuggester returns the tag suggester when an API key is configured.
func newSuggester() dialog.Suggester {
	if cfg.Suggest.APIKey == "" {
		return nil
	}
	sg, err := suggest.New(suggest.Config{
		APIKey: cfg.Suggest.APIKey,
		Model:  cfg.Suggest.Model,
		Logger: logger.Named("suggest"),
	})
	if err != nil {
		logger.Warn("tag suggestions disabled", zap.Error(err))
		return nil
	}
	return sg
}

// resolveTask finds a task by ID, by a unique ID prefix, or by its exact
// title (case-insensitive).
func (s *session) resolveTask(ctx context.Context, ref string) (*schema.Task, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("task ID is required")
	}
	t, err := s.client.GetTask(ctx, ref)
	if err == nil {
		return t, nil
	}
	if !client.IsNotFound(err) {
		return nil, err
	}

	all, err := s.client.ListTasks(ctx, db.ListTasksFilter{})
	if err != nil {
		return nil, err
	}
	var matches []schema.Task
	for _, t := range all {
		if strings.HasPrefix(t.ID, ref) {
			matches = append(matches, t)
		}
	}
	if len(matches) == 0 {
		for _, t := range all {
			if strings.EqualFold(t.Title, ref) {
				matches = append(matches, t)
			}
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no task matches %q", ref)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("task ID %q is ambiguous (%d matches)", ref, len(matches))
	}
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
