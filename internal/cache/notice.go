// Package cache keeps a client-side copy of the board in step with the
// server. Mutations are applied locally before the network call returns and
// rolled back if it fails; the change feed and a refetch after every mutation
// reconcile the copy with server truth.
package cache

import (
	"sync"
)

// Level is the severity of a Notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is a short user-facing message (a toast).
type Notice struct {
	Level   Level
	Message string
}

// Notifier receives notices. It is called synchronously and must not block.
type Notifier func(Notice)

func (n Notifier) success(msg string) {
	if n != nil {
		n(Notice{Level: LevelSuccess, Message: msg})
	}
}

func (n Notifier) error(msg string) {
	if n != nil {
		n(Notice{Level: LevelError, Message: msg})
	}
}

// observers fans snapshots out to subscribers in version order. A snapshot
// older than one already delivered is dropped.
type observers[T any] struct {
	mu        sync.Mutex
	next      int
	fns       map[int]func([]T)
	delivered uint64
	clone     func([]T) []T
}

func (o *observers[T]) add(fn func([]T)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func([]T))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

func (o *observers[T]) emit(version uint64, snapshot []T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if version <= o.delivered {
		return
	}
	o.delivered = version
	for _, fn := range o.fns {
		fn(o.clone(snapshot))
	}
}
