// Package tui is the interactive terminal board: three columns fed by the
// task cache, mouse drag-and-drop and keyboard moves, the task dialog and
// per-task comment threads.
package tui

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/board"
	"github.com/taskboard/kanban/internal/cache"
	"github.com/taskboard/kanban/internal/dialog"
	"github.com/taskboard/kanban/internal/feed"
	"github.com/taskboard/kanban/internal/schema"
)

// DefaultDragDistance is the activation distance in terminal cells.
const DefaultDragDistance = 1

const (
	// boardTop is the title line and the notice line.
	boardTop    = 2
	footerLines = 1
	noticeTTL   = 4 * time.Second
)

// SubscribeFunc opens a change feed for filter. The returned func closes it.
type SubscribeFunc func(ctx context.Context, filter feed.Filter) (<-chan feed.Event, func() error, error)

// Options configure the board.
type Options struct {
	Tasks *cache.TaskCache
	// Comments backs comment threads; nil hides them
	Comments cache.CommentBackend
	// Subscribe keeps open comment threads live (optional)
	Subscribe SubscribeFunc
	UserID    string
	Suggester dialog.Suggester
	// Notify is given to the caches the board creates; pair it with Notices
	Notify  cache.Notifier
	Notices <-chan cache.Notice
	// DragDistance is the pointer travel that starts a drag, in cells
	DragDistance  float64
	Renderer      *lipgloss.Renderer
	MarkdownStyle string
	Logger        *zap.Logger
	Now           func() time.Time
}

type (
	tasksMsg  []schema.Task
	noticeMsg cache.Notice
	loadedMsg struct{ err error }
	opDoneMsg struct {
		action string
		err    error
	}
	clearNoticeMsg struct{ seq int }
)

// Model is the bubbletea model of the board.
type Model struct {
	ctx    context.Context
	opts   Options
	keys   keyMap
	help   help.Model
	spin   spinner.Model
	styles Styles
	logger *zap.Logger
	now    func() time.Time

	width, height int

	tasks   []schema.Task
	loaded  bool
	updates chan []schema.Task
	unsub   func()

	focusCol int
	focusRow []int
	offsets  []int

	sensor *board.Sensor
	overID string

	pickedID   string
	pickTarget int

	confirmDelete string

	dialog     *dialog.Dialog
	form       *huh.Form
	formCancel context.CancelFunc
	thread     *thread

	notice    *cache.Notice
	noticeSeq int
}

// New builds the board model. Close releases its cache subscription.
func New(ctx context.Context, opts Options) *Model {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DragDistance <= 0 {
		opts.DragDistance = DefaultDragDistance
	}
	if opts.Renderer == nil {
		opts.Renderer = lipgloss.DefaultRenderer()
	}

	m := &Model{
		ctx:      ctx,
		opts:     opts,
		keys:     defaultKeys(),
		help:     help.New(),
		spin:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		styles:   NewStyles(opts.Renderer),
		logger:   opts.Logger,
		now:      opts.Now,
		width:    100,
		height:   30,
		tasks:    opts.Tasks.Tasks(),
		updates:  make(chan []schema.Task, 1),
		focusRow: make([]int, len(board.Columns)),
		offsets:  make([]int, len(board.Columns)),
		sensor:   board.NewSensor(opts.DragDistance),
	}
	m.unsub = opts.Tasks.Subscribe(func(tasks []schema.Task) {
		latest(m.updates, tasks)
	})
	return m
}

// Close stops listening to the cache and closes an open thread.
func (m *Model) Close() {
	if m.formCancel != nil {
		m.formCancel()
	}
	if m.thread != nil {
		m.thread.close()
	}
	if m.unsub != nil {
		m.unsub()
	}
}

// Run shows the board until the user quits or ctx ends.
func Run(ctx context.Context, opts Options) error {
	m := New(ctx, opts)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to run board: %w", err)
	}
	return nil
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.load(), m.waitTasks(), m.waitNotice())
}

func (m *Model) load() tea.Cmd {
	return func() tea.Msg {
		return loadedMsg{err: m.opts.Tasks.Load(m.ctx)}
	}
}

func (m *Model) waitTasks() tea.Cmd {
	return func() tea.Msg {
		select {
		case tasks := <-m.updates:
			return tasksMsg(tasks)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) waitNotice() tea.Cmd {
	if m.opts.Notices == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case n := <-m.opts.Notices:
			return noticeMsg(n)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		if m.form != nil {
			m.form = m.form.WithWidth(min(msg.Width, 80))
		}
		m.clampFocus()
		return m, nil

	case tasksMsg:
		m.tasks = msg
		m.clampFocus()
		return m, m.waitTasks()

	case noticeMsg:
		n := cache.Notice(msg)
		return m, tea.Batch(m.showNotice(n), m.waitNotice())

	case clearNoticeMsg:
		if msg.seq == m.noticeSeq {
			m.notice = nil
		}
		return m, nil

	case loadedMsg:
		m.loaded = true
		if msg.err != nil && !errors.Is(msg.err, cache.ErrStale) {
			return m, m.showNotice(cache.Notice{Level: cache.LevelError, Message: "Failed to load tasks: " + msg.err.Error()})
		}
		return m, nil

	case opDoneMsg:
		var verr *dialog.ValidationError
		if errors.As(msg.err, &verr) {
			return m, m.showNotice(cache.Notice{Level: cache.LevelError, Message: verr.Message})
		}
		if msg.err != nil {
			m.logger.Debug("board action failed", zap.String("action", msg.action), zap.Error(msg.err))
		}
		return m, nil

	case commentsMsg:
		if m.thread == nil || msg.thread != m.thread {
			return m, nil
		}
		m.thread.setComments(msg.comments)
		return m, m.thread.wait()

	case spinner.TickMsg:
		if m.loaded {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	if m.form != nil {
		return m, m.updateForm(msg)
	}
	if m.thread != nil {
		return m, m.updateThread(msg)
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	case tea.MouseMsg:
		return m, m.handleMouse(msg)
	}
	return m, nil
}

func (m *Model) showNotice(n cache.Notice) tea.Cmd {
	m.noticeSeq++
	m.notice = &n
	seq := m.noticeSeq
	return tea.Tick(noticeTTL, func(time.Time) tea.Msg { return clearNoticeMsg{seq: seq} })
}

func (m *Model) groups() map[schema.Status][]schema.Task {
	return board.GroupByColumn(m.tasks)
}

func (m *Model) geometry() geometry {
	return layout(m.groups(), boardTop, m.width, m.height-boardTop-footerLines, m.offsets)
}

func (m *Model) focused() (schema.Task, bool) {
	list := m.groups()[board.Columns[m.focusCol].Status]
	row := m.focusRow[m.focusCol]
	if row < 0 || row >= len(list) {
		return schema.Task{}, false
	}
	return list[row], true
}

// clampFocus keeps the focused row inside its column and scrolled into view.
func (m *Model) clampFocus() {
	groups := m.groups()
	visible := layout(groups, boardTop, m.width, m.height-boardTop-footerLines, nil).visible
	for i, c := range board.Columns {
		n := len(groups[c.Status])
		m.focusRow[i] = max(0, min(m.focusRow[i], n-1))
		if m.focusRow[i] < m.offsets[i] {
			m.offsets[i] = m.focusRow[i]
		}
		if visible > 0 && m.focusRow[i] >= m.offsets[i]+visible {
			m.offsets[i] = m.focusRow[i] - visible + 1
		}
		m.offsets[i] = max(0, min(m.offsets[i], max(0, n-visible)))
	}
}

func (m *Model) focusTask(id string) {
	for i, c := range board.Columns {
		if j := slices.IndexFunc(m.groups()[c.Status], func(t schema.Task) bool { return t.ID == id }); j >= 0 {
			m.focusCol, m.focusRow[i] = i, j
			m.clampFocus()
			return
		}
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if m.confirmDelete != "" {
		id := m.confirmDelete
		m.confirmDelete = ""
		if msg.String() == "y" {
			return m.deleteTask(id)
		}
		return nil
	}

	if m.pickedID != "" {
		switch {
		case key.Matches(msg, m.keys.Left):
			m.pickTarget = max(0, m.pickTarget-1)
		case key.Matches(msg, m.keys.Right):
			m.pickTarget = min(len(board.Columns)-1, m.pickTarget+1)
		case key.Matches(msg, m.keys.Pick), key.Matches(msg, m.keys.Open):
			id, target := m.pickedID, board.Columns[m.pickTarget]
			m.pickedID = ""
			m.focusCol = m.pickTarget
			return m.drop(id, target.ID())
		case key.Matches(msg, m.keys.Cancel):
			m.pickedID = ""
		case key.Matches(msg, m.keys.Quit):
			return tea.Quit
		}
		return nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.Left):
		m.focusCol = max(0, m.focusCol-1)
	case key.Matches(msg, m.keys.Right):
		m.focusCol = min(len(board.Columns)-1, m.focusCol+1)
	case key.Matches(msg, m.keys.Up):
		m.focusRow[m.focusCol]--
		m.clampFocus()
	case key.Matches(msg, m.keys.Down):
		m.focusRow[m.focusCol]++
		m.clampFocus()
	case key.Matches(msg, m.keys.Pick):
		if t, ok := m.focused(); ok {
			m.pickedID, m.pickTarget = t.ID, m.focusCol
		}
	case key.Matches(msg, m.keys.Open):
		if t, ok := m.focused(); ok {
			return m.openDialog(&t, "")
		}
	case key.Matches(msg, m.keys.New):
		return m.openDialog(nil, board.Columns[m.focusCol].Status)
	case key.Matches(msg, m.keys.Delete):
		if t, ok := m.focused(); ok {
			m.confirmDelete = t.ID
		}
	case key.Matches(msg, m.keys.Thread):
		if t, ok := m.focused(); ok && m.opts.Comments != nil {
			return m.openThread(t)
		}
	case key.Matches(msg, m.keys.Refresh):
		return func() tea.Msg { return loadedMsg{err: m.opts.Tasks.Invalidate(m.ctx)} }
	}
	return nil
}

func (m *Model) handleMouse(msg tea.MouseMsg) tea.Cmd {
	p := board.Point{X: float64(msg.X), Y: float64(msg.Y)}
	g := m.geometry()

	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft {
			return nil
		}
		if slot, ok := g.cardAt(p); ok {
			m.sensor.Press(slot.Task.ID, p)
			m.focusTask(slot.Task.ID)
		}
	case tea.MouseActionMotion:
		if m.sensor.ActiveID() == "" {
			return nil
		}
		m.sensor.Move(p)
		if m.sensor.Dragging() {
			m.overID = g.over(m.sensor.ActiveID(), m.sensor.Delta())
		}
	case tea.MouseActionRelease:
		gesture := m.sensor.Release(p)
		m.overID = ""
		switch gesture.Kind {
		case board.GestureClick:
			if t, ok := m.task(gesture.ActiveID); ok {
				return m.openDialog(&t, "")
			}
		case board.GestureDrop:
			return m.drop(gesture.ActiveID, g.over(gesture.ActiveID, gesture.Delta))
		}
	}
	return nil
}

func (m *Model) task(id string) (schema.Task, bool) {
	i := slices.IndexFunc(m.tasks, func(t schema.Task) bool { return t.ID == id })
	if i < 0 {
		return schema.Task{}, false
	}
	return m.tasks[i], true
}

// drop moves activeID to the status under overID when it changes.
func (m *Model) drop(activeID, overID string) tea.Cmd {
	status, ok := board.ResolveDrop(m.tasks, activeID, overID)
	if !ok {
		return nil
	}
	return func() tea.Msg {
		_, err := m.opts.Tasks.Move(m.ctx, activeID, status)
		return opDoneMsg{action: "move", err: err}
	}
}

func (m *Model) newDialog(task *schema.Task, status schema.Status) *dialog.Dialog {
	return dialog.New(dialog.Config{
		Tasks:         m.opts.Tasks,
		UserID:        m.opts.UserID,
		Task:          task,
		DefaultStatus: status,
		Suggester:     m.opts.Suggester,
		Comments:      m.opts.Comments,
		Notify:        m.opts.Notify,
		Logger:        m.logger,
		Now:           m.now,
	})
}

func (m *Model) deleteTask(id string) tea.Cmd {
	t, ok := m.task(id)
	if !ok {
		return nil
	}
	return func() tea.Msg {
		return opDoneMsg{action: "delete", err: m.opts.Tasks.Delete(m.ctx, t.ID)}
	}
}

func (m *Model) openDialog(task *schema.Task, status schema.Status) tea.Cmd {
	m.dialog = m.newDialog(task, status)
	m.form = m.dialog.Form().WithWidth(min(m.width, 80))
	m.form.SubmitCmd = nil
	m.form.CancelCmd = nil
	cc := m.dialog.Comments()
	if cc == nil {
		return m.form.Init()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.formCancel = cancel
	return tea.Batch(m.form.Init(), m.loadFormThread(ctx, cc))
}

func (m *Model) closeForm() {
	if m.formCancel != nil {
		m.formCancel()
		m.formCancel = nil
	}
	m.form, m.dialog = nil, nil
}

func (m *Model) updateForm(msg tea.Msg) tea.Cmd {
	model, cmd := m.form.Update(msg)
	if f, ok := model.(*huh.Form); ok {
		m.form = f
	}
	switch m.form.State {
	case huh.StateCompleted:
		d := m.dialog
		m.closeForm()
		return tea.Batch(cmd, func() tea.Msg {
			_, err := d.Complete(m.ctx)
			return opDoneMsg{action: "save", err: err}
		})
	case huh.StateAborted:
		m.closeForm()
	}
	return cmd
}

func (m *Model) View() string {
	if m.form != nil {
		v := m.styles.Title.Render(m.dialog.Heading()) + "\n\n" + m.form.View()
		if cc := m.dialog.Comments(); cc != nil {
			v += "\n\n" + m.formThread(cc)
		}
		return v
	}
	if m.thread != nil {
		return m.thread.view(m)
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")

	g := m.geometry()
	r := renderer{styles: m.styles, now: m.now()}
	b.WriteString(r.board(g, m.groups(), m.boardState(g)))
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) header() string {
	stats := board.Count(m.tasks)
	parts := make([]string, 0, len(board.Columns))
	for _, c := range board.Columns {
		parts = append(parts, fmt.Sprintf("%s %d", c.Icon, stats.Count(c.Status)))
	}
	title := m.styles.Title.Render("Kanban")
	if m.opts.UserID != "" {
		title += m.styles.Subtle.Render(" · " + m.opts.UserID)
	}
	return title + m.styles.Subtle.Render(fmt.Sprintf("  %d tasks  %s", stats.Total(), strings.Join(parts, "  ")))
}

func (m *Model) statusLine() string {
	switch {
	case !m.loaded && len(m.tasks) == 0:
		return m.spin.View() + " Loading tasks..."
	case m.confirmDelete != "":
		t, _ := m.task(m.confirmDelete)
		return m.styles.Error.Render(fmt.Sprintf("Delete %q? (y/N)", truncate(t.Title, 40)))
	case m.pickedID != "":
		return m.styles.Subtle.Render(fmt.Sprintf("Moving to %s: ←/→ choose column, space/enter drop, esc cancel",
			board.Columns[m.pickTarget].Title))
	case m.notice != nil:
		if m.notice.Level == cache.LevelError {
			return m.styles.Error.Render("✗ " + m.notice.Message)
		}
		return m.styles.Success.Render("✓ " + m.notice.Message)
	}
	return ""
}

func (m *Model) boardState(g geometry) boardState {
	st := noState()
	st.focusCol = m.focusCol
	if t, ok := m.focused(); ok {
		st.focusID = t.ID
	}
	if m.pickedID != "" {
		st.pickedID = m.pickedID
		st.pickTarget = m.pickTarget
		st.overCol = m.pickTarget
	}
	if m.sensor.Dragging() {
		st.dragID = m.sensor.ActiveID()
		st.overCol = -1
		if status, ok := board.ResolveDrop(m.tasks, st.dragID, m.overID); ok {
			st.overCol = board.ColumnIndex(status)
		}
	}
	return st
}
