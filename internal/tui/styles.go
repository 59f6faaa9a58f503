package tui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/taskboard/kanban/internal/schema"
)

// Styles are the lipgloss styles of the board.
type Styles struct {
	Title        lipgloss.Style
	Subtle       lipgloss.Style
	Success      lipgloss.Style
	Error        lipgloss.Style
	Column       lipgloss.Style
	ColumnActive lipgloss.Style
	ColumnHeader lipgloss.Style
	Card         lipgloss.Style
	CardFocused  lipgloss.Style
	CardPicked   lipgloss.Style
	CardDragging lipgloss.Style
	Tag          lipgloss.Style
	Overdue      lipgloss.Style
	Priority     map[schema.Priority]lipgloss.Style
}

var (
	accent = lipgloss.AdaptiveColor{Light: "#5A4FCF", Dark: "#9D8CFF"}
	muted  = lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6C6C6C"}
	green  = lipgloss.AdaptiveColor{Light: "#1F883D", Dark: "#3FB950"}
	red    = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	amber  = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
)

// NewStyles builds the styles for r, so the color profile follows the
// renderer's output.
func NewStyles(r *lipgloss.Renderer) Styles {
	card := r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted)
	column := r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted)
	return Styles{
		Title:        r.NewStyle().Bold(true).Foreground(accent),
		Subtle:       r.NewStyle().Foreground(muted),
		Success:      r.NewStyle().Foreground(green),
		Error:        r.NewStyle().Foreground(red).Bold(true),
		Column:       column,
		ColumnActive: column.BorderForeground(accent),
		ColumnHeader: r.NewStyle().Bold(true),
		Card:         card,
		CardFocused:  card.BorderForeground(accent),
		CardPicked:   card.BorderForeground(amber).BorderStyle(lipgloss.DoubleBorder()),
		CardDragging: card.BorderForeground(muted).Faint(true),
		Tag:          r.NewStyle().Foreground(accent),
		Overdue:      r.NewStyle().Foreground(red),
		Priority: map[schema.Priority]lipgloss.Style{
			schema.PriorityHigh:   r.NewStyle().Foreground(red).Bold(true),
			schema.PriorityMedium: r.NewStyle().Foreground(amber),
			schema.PriorityLow:    r.NewStyle().Foreground(muted),
		},
	}
}

func (s Styles) priority(p schema.Priority) lipgloss.Style {
	if st, ok := s.Priority[p]; ok {
		return st
	}
	return s.Priority[schema.PriorityMedium]
}

// Terminal describes how output to f should be styled: its color profile
// and the glamour style for markdown.
func Terminal(f *os.File) (termenv.Profile, string) {
	if os.Getenv("NO_COLOR") != "" || !term.IsTerminal(int(f.Fd())) {
		return termenv.Ascii, "notty"
	}
	out := termenv.NewOutput(f)
	if out.HasDarkBackground() {
		return out.EnvColorProfile(), "dark"
	}
	return out.EnvColorProfile(), "light"
}

// NewRenderer returns a lipgloss renderer for f with the profile Terminal
// picks.
func NewRenderer(f *os.File) (*lipgloss.Renderer, string) {
	profile, markdownStyle := Terminal(f)
	r := lipgloss.NewRenderer(f)
	r.SetColorProfile(profile)
	return r, markdownStyle
}
