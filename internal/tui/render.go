package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/taskboard/kanban/internal/board"
	"github.com/taskboard/kanban/internal/schema"
)

const (
	// cardHeight is a card's border, title line, meta line and border.
	cardHeight = 4
	// columnChrome is the lines above the first card: border, header, blank.
	columnChrome   = 3
	columnGap      = 1
	minColumnWidth = 18
)

// cardSlot is a card as laid out on screen.
type cardSlot struct {
	Task schema.Task
	Col  int
	Row  int
	Rect board.Rect
}

// geometry places columns and the visible cards in terminal cells. Rendering
// and mouse hit-testing both use it.
type geometry struct {
	top       int
	colWidth  int
	colHeight int
	visible   int
	columns   []board.Droppable
	cards     []cardSlot
}

func minColumnHeight() int { return columnChrome + cardHeight + 1 }

func layout(groups map[schema.Status][]schema.Task, top, width, colHeight int, offsets []int) geometry {
	n := len(board.Columns)
	colWidth := (width - (n-1)*columnGap) / n
	if colWidth < minColumnWidth {
		colWidth = minColumnWidth
	}
	if colHeight < minColumnHeight() {
		colHeight = minColumnHeight()
	}
	g := geometry{
		top:       top,
		colWidth:  colWidth,
		colHeight: colHeight,
		visible:   (colHeight - columnChrome - 1) / cardHeight,
	}

	for i, c := range board.Columns {
		x := i * (colWidth + columnGap)
		g.columns = append(g.columns, board.Droppable{
			ID:   c.ID(),
			Rect: board.Rect{Left: float64(x), Top: float64(top), Width: float64(colWidth), Height: float64(colHeight)},
		})

		offset := 0
		if i < len(offsets) {
			offset = offsets[i]
		}
		tasks := groups[c.Status]
		for row := offset; row < len(tasks) && row < offset+g.visible; row++ {
			y := top + columnChrome + (row-offset)*cardHeight
			g.cards = append(g.cards, cardSlot{
				Task: tasks[row],
				Col:  i,
				Row:  row,
				Rect: board.Rect{Left: float64(x + 1), Top: float64(y), Width: float64(colWidth - 2), Height: cardHeight},
			})
		}
	}
	return g
}

// cardAt returns the card under p. Cells are half-open: a card of width w
// covers columns Left..Left+w-1.
func (g geometry) cardAt(p board.Point) (cardSlot, bool) {
	for _, c := range g.cards {
		r := c.Rect
		if p.X >= r.Left && p.X < r.Left+r.Width && p.Y >= r.Top && p.Y < r.Top+r.Height {
			return c, true
		}
	}
	return cardSlot{}, false
}

func (g geometry) card(id string) (cardSlot, bool) {
	for _, c := range g.cards {
		if c.Task.ID == id {
			return c, true
		}
	}
	return cardSlot{}, false
}

// droppables are the columns and every visible card except the dragged one.
func (g geometry) droppables(activeID string) []board.Droppable {
	out := make([]board.Droppable, 0, len(g.columns)+len(g.cards))
	out = append(out, g.columns...)
	for _, c := range g.cards {
		if c.Task.ID != activeID {
			out = append(out, board.Droppable{ID: c.Task.ID, Rect: c.Rect})
		}
	}
	return out
}

// over runs collision detection for the card activeID moved by delta.
func (g geometry) over(activeID string, delta board.Point) string {
	slot, ok := g.card(activeID)
	if !ok {
		return ""
	}
	return board.Over(slot.Rect.Translate(delta), g.droppables(activeID))
}

// boardState is what the board highlights.
type boardState struct {
	focusCol   int
	focusID    string
	pickedID   string
	pickTarget int
	dragID     string
	// overCol is the column a drag or pick would land in, -1 for none
	overCol int
}

func noState() boardState { return boardState{focusCol: -1, pickTarget: -1, overCol: -1} }

type renderer struct {
	styles Styles
	now    time.Time
	// humanDue shows due dates relative to now instead of "Jan 2"
	humanDue bool
}

func (r renderer) board(g geometry, groups map[schema.Status][]schema.Task, st boardState) string {
	cols := make([]string, 0, len(board.Columns))
	for i, c := range board.Columns {
		cols = append(cols, r.column(g, i, c, len(groups[c.Status]), st))
		if i < len(board.Columns)-1 {
			cols = append(cols, strings.Repeat(" ", columnGap))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}

func (r renderer) column(g geometry, i int, c board.Column, count int, st boardState) string {
	inner := g.colWidth - 2
	header := r.styles.ColumnHeader.Render(truncate(fmt.Sprintf("%s %s", c.Icon, c.Title), inner-4)) +
		r.styles.Subtle.Render(fmt.Sprintf(" %d", count))

	lines := []string{header, ""}
	for _, slot := range g.cards {
		if slot.Col == i {
			lines = append(lines, r.card(slot.Task, inner, st))
		}
	}
	if count == 0 {
		lines = append(lines, r.styles.Subtle.Render(truncate("No tasks", inner)))
	}

	style := r.styles.Column
	if st.overCol == i || (st.overCol < 0 && st.focusCol == i && st.pickedID == "" && st.dragID == "") {
		style = r.styles.ColumnActive
	}
	return style.Width(inner).Height(g.colHeight - 2).Render(strings.Join(lines, "\n"))
}

func (r renderer) card(t schema.Task, width int, st boardState) string {
	style := r.styles.Card
	switch t.ID {
	case st.dragID:
		style = r.styles.CardDragging
	case st.pickedID:
		style = r.styles.CardPicked
	case st.focusID:
		style = r.styles.CardFocused
	}
	inner := width - 2
	title := truncate(t.Title, inner)
	return style.Width(inner).Render(title + "\n" + r.meta(t, inner))
}

// meta is the second card line: priority, due date and tags, cut to width.
func (r renderer) meta(t schema.Task, width int) string {
	label := board.PriorityLabel(t.Priority)
	parts := []string{r.styles.priority(t.Priority).Render(label)}
	used := len(label)

	if t.DueDate != nil {
		due := board.DueLabel(t.DueDate)
		if r.humanDue {
			due = humanize.RelTime(*t.DueDate, r.now, "ago", "from now")
		}
		due = "· " + due
		if used+1+len([]rune(due)) <= width {
			style := r.styles.Subtle
			if t.Overdue(r.now) {
				style = r.styles.Overdue
			}
			parts = append(parts, style.Render(due))
			used += 1 + len([]rune(due))
		}
	}

	shown, hidden := board.CardTags(t.Tags)
	for _, tag := range shown {
		text := "#" + tag
		if used+1+len([]rune(text)) > width {
			hidden++
			continue
		}
		parts = append(parts, r.styles.Tag.Render(text))
		used += 1 + len([]rune(text))
	}
	if hidden > 0 {
		more := fmt.Sprintf("+%d", hidden)
		if used+1+len(more) <= width {
			parts = append(parts, r.styles.Subtle.Render(more))
		}
	}
	return strings.Join(parts, " ")
}

func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(runes[:width-1]) + "…"
}

// StaticOptions configure RenderBoard.
type StaticOptions struct {
	Width int
	Now   time.Time
}

// RenderBoard draws the whole board once, sized to fit every task, for
// non-interactive output.
func RenderBoard(r *lipgloss.Renderer, tasks []schema.Task, opts StaticOptions) string {
	if opts.Width <= 0 {
		opts.Width = 120
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	groups := board.GroupByColumn(tasks)
	most := 1
	for _, ts := range groups {
		most = max(most, len(ts))
	}
	g := layout(groups, 0, opts.Width, columnChrome+most*cardHeight+1, nil)

	rr := renderer{styles: NewStyles(r), now: opts.Now, humanDue: true}
	stats := board.Count(tasks)
	summary := make([]string, 0, len(board.Columns))
	for _, c := range board.Columns {
		summary = append(summary, fmt.Sprintf("%s %d %s", c.Icon, stats.Count(c.Status), c.Title))
	}
	head := rr.styles.Title.Render("Kanban") + rr.styles.Subtle.Render(
		fmt.Sprintf("  %d tasks · %s", stats.Total(), strings.Join(summary, " · ")))
	return head + "\n\n" + rr.board(g, groups, noState()) + "\n"
}
