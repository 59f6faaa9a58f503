package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/board"
	"github.com/taskboard/kanban/internal/cache"
	"github.com/taskboard/kanban/internal/schema"
)

// thread is the comment view of one task.
type thread struct {
	task     schema.Task
	comments *cache.CommentCache
	list     []schema.Comment
	selected int

	updates chan []schema.Comment
	unsub   func()
	cancel  context.CancelFunc
	ctx     context.Context

	input textinput.Model
	keys  threadKeys
	help  help.Model
}

type commentsMsg struct {
	thread   *thread
	comments []schema.Comment
}

func (m *Model) openThread(t schema.Task) tea.Cmd {
	d := m.newDialog(&t, "")
	cc := d.Comments()
	if cc == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(m.ctx)
	input := textinput.New()
	input.Placeholder = "Add a comment..."
	input.CharLimit = schema.MaxCommentLength
	input.Width = max(20, min(m.width, 100)-4)
	input.Focus()

	th := &thread{
		task:     t,
		comments: cc,
		list:     cc.Comments(),
		updates:  make(chan []schema.Comment, 1),
		cancel:   cancel,
		ctx:      ctx,
		input:    input,
		keys:     defaultThreadKeys(),
		help:     help.New(),
	}
	th.unsub = cc.Subscribe(func(cs []schema.Comment) { latest(th.updates, cs) })
	m.thread = th

	return tea.Batch(textinput.Blink, th.wait(), m.startThread(th))
}

// startThread subscribes to the task's comment feed, then loads the thread.
func (m *Model) startThread(th *thread) tea.Cmd {
	return func() tea.Msg {
		if m.opts.Subscribe != nil {
			events, closeFeed, err := m.opts.Subscribe(th.ctx, th.comments.Filter())
			if err != nil {
				m.logger.Warn("comment feed unavailable", zap.String("task", th.task.ID), zap.Error(err))
			} else {
				go func() {
					<-th.ctx.Done()
					_ = closeFeed()
				}()
				go th.comments.Watch(th.ctx, events)
			}
		}
		return opDoneMsg{action: "load comments", err: th.comments.Load(th.ctx)}
	}
}

func (th *thread) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case cs := <-th.updates:
			return commentsMsg{thread: th, comments: cs}
		case <-th.ctx.Done():
			return nil
		}
	}
}

func (th *thread) close() {
	th.cancel()
	th.unsub()
}

func (m *Model) updateThread(msg tea.Msg) tea.Cmd {
	th := m.thread
	if km, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(km, th.keys.Close):
			th.close()
			m.thread = nil
			return nil
		case key.Matches(km, th.keys.Send):
			content := th.input.Value()
			th.input.Reset()
			return func() tea.Msg {
				_, err := th.comments.Add(th.ctx, content)
				if errors.Is(err, cache.ErrEmptyComment) {
					err = nil
				}
				return opDoneMsg{action: "add comment", err: err}
			}
		case key.Matches(km, th.keys.Up):
			th.selected = max(0, th.selected-1)
			return nil
		case key.Matches(km, th.keys.Down):
			th.selected = min(len(th.list)-1, th.selected+1)
			return nil
		case key.Matches(km, th.keys.Delete):
			if th.selected < 0 || th.selected >= len(th.list) {
				return nil
			}
			id := th.list[th.selected].ID
			return func() tea.Msg {
				return opDoneMsg{action: "delete comment", err: th.comments.Delete(th.ctx, id)}
			}
		}
	}

	var cmd tea.Cmd
	th.input, cmd = th.input.Update(msg)
	return cmd
}

func (th *thread) setComments(cs []schema.Comment) {
	th.list = cs
	th.selected = max(0, min(th.selected, len(cs)-1))
}

func (th *thread) view(m *Model) string {
	width := max(20, min(m.width, 100))
	var b strings.Builder

	b.WriteString(m.styles.Title.Render(th.task.Title))
	b.WriteString("\n")
	status := string(th.task.Status)
	if c, ok := board.ColumnByID(status); ok {
		status = c.Icon + " " + c.Title
	}
	meta := fmt.Sprintf("%s · %s", status, m.styles.priority(th.task.Priority).Render(board.PriorityLabel(th.task.Priority)))
	if th.task.DueDate != nil {
		meta += " · due " + humanize.RelTime(*th.task.DueDate, m.now(), "ago", "from now")
	}
	b.WriteString(m.styles.Subtle.Render(meta))
	b.WriteString("\n\n")

	if desc := RenderMarkdown(th.task.DescriptionText(), width, m.opts.MarkdownStyle); desc != "" {
		b.WriteString(desc)
		b.WriteString("\n\n")
	}

	b.WriteString(m.commentList(th.list, len(th.list), th.selected, th.comments.Loading()))
	b.WriteString("\n")
	b.WriteString(th.input.View())
	b.WriteString("\n")
	if line := m.statusLine(); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(th.help.View(th.keys))
	return b.String()
}

// commentList renders list under a "Comments (total)" header. selected < 0
// draws no cursor.
func (m *Model) commentList(list []schema.Comment, total, selected int, loading bool) string {
	var b strings.Builder
	b.WriteString(m.styles.ColumnHeader.Render(fmt.Sprintf("Comments (%d)", total)))
	b.WriteString("\n")
	if loading && len(list) == 0 {
		b.WriteString(m.styles.Subtle.Render("Loading comments..."))
		b.WriteString("\n")
	} else if len(list) == 0 {
		b.WriteString(m.styles.Subtle.Render("No comments yet"))
		b.WriteString("\n")
	}
	for i, c := range list {
		cursor := "  "
		if i == selected {
			cursor = m.styles.Tag.Render("› ")
		}
		b.WriteString(cursor)
		b.WriteString(m.styles.Subtle.Render(humanize.RelTime(c.CreatedAt, m.now(), "ago", "from now")))
		b.WriteString("\n  ")
		b.WriteString(strings.ReplaceAll(c.Content, "\n", "\n  "))
		b.WriteString("\n")
	}
	return b.String()
}

// formThreadSize is how many recent comments the edit form shows.
const formThreadSize = 5

// formThread is the read-only thread under the edit form.
func (m *Model) formThread(cc *cache.CommentCache) string {
	all := cc.Comments()
	list := all
	var more string
	if hidden := len(all) - formThreadSize; hidden > 0 {
		list = all[hidden:]
		more = m.styles.Subtle.Render(fmt.Sprintf("%d earlier comments, press c on the board to see all", hidden)) + "\n"
	}
	return more + m.commentList(list, len(all), -1, cc.Loading())
}

// loadFormThread follows the edited task's comments until the form closes.
func (m *Model) loadFormThread(ctx context.Context, cc *cache.CommentCache) tea.Cmd {
	return func() tea.Msg {
		if m.opts.Subscribe != nil {
			events, closeFeed, err := m.opts.Subscribe(ctx, cc.Filter())
			if err != nil {
				m.logger.Warn("comment feed unavailable", zap.String("task", cc.TaskID()), zap.Error(err))
			} else {
				go func() {
					<-ctx.Done()
					_ = closeFeed()
				}()
				go cc.Watch(ctx, events)
			}
		}
		return opDoneMsg{action: "load comments", err: cc.Load(ctx)}
	}
}
