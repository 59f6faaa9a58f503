package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Left    key.Binding
	Right   key.Binding
	Up      key.Binding
	Down    key.Binding
	Pick    key.Binding
	Open    key.Binding
	New     key.Binding
	Delete  key.Binding
	Thread  key.Binding
	Refresh key.Binding
	Cancel  key.Binding
	Quit    key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Left:    key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "column")),
		Right:   key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "column")),
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Pick:    key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "pick up/drop")),
		Open:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
		New:     key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "new task")),
		Delete:  key.NewBinding(key.WithKeys("d", "delete"), key.WithHelp("d", "delete")),
		Thread:  key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "comments")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Cancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Left, k.Up, k.Pick, k.Open, k.New, k.Thread, k.Delete, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Left, k.Right, k.Up, k.Down},
		{k.Pick, k.Open, k.New, k.Delete},
		{k.Thread, k.Refresh, k.Cancel, k.Quit},
	}
}

type threadKeys struct {
	Send   key.Binding
	Up     key.Binding
	Down   key.Binding
	Delete key.Binding
	Close  key.Binding
}

func defaultThreadKeys() threadKeys {
	return threadKeys{
		Send:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "post")),
		Up:     key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "select")),
		Down:   key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "select")),
		Delete: key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "delete comment")),
		Close:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
	}
}

func (k threadKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Up, k.Delete, k.Close}
}

func (k threadKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
