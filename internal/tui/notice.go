package tui

import "github.com/taskboard/kanban/internal/cache"

// Notices returns a Notifier for the caches and the channel the board reads
// toasts from. When the board falls behind, new notices are dropped.
func Notices(buffer int) (cache.Notifier, <-chan cache.Notice) {
	ch := make(chan cache.Notice, buffer)
	notify := func(n cache.Notice) {
		select {
		case ch <- n:
		default:
		}
	}
	return notify, ch
}

// latest replaces whatever is waiting in ch with v.
func latest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
