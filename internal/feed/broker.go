package feed

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a broker after Close.
var ErrClosed = errors.New("feed: broker closed")

// Broker fans events out to subscribers.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers a subscription. It ends when ctx is cancelled,
	// when Close is called on it, or when the broker closes.
	Subscribe(ctx context.Context, filter Filter) (*Subscription, error)
	Close() error
}

// Subscription is an active feed subscription.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	filter Filter
	events <-chan Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Filter returns the filter the subscription was opened with.
func (s *Subscription) Filter() Filter {
	return s.filter
}

// Events returns the channel of matching events.
// The channel is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Errors returns non-fatal delivery errors. It is closed with Events.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}
