package feed

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 64

// HubConfig configures a Hub.
type HubConfig struct {
	// BufferSize is the per-subscriber channel capacity.
	BufferSize int
	Logger     *zap.Logger
}

// Hub is an in-process Broker.
//
// Publish never blocks. When an event does not fit in a subscriber's buffer,
// the oldest buffered event is evicted and an EventInvalidate is queued in
// its place, so a lagging subscriber always learns it must refetch even if
// nothing else is published.
type Hub struct {
	mu     sync.Mutex
	subs   map[*hubSub]struct{}
	closed bool
	buffer int
	logger *zap.Logger
}

type hubSub struct {
	filter Filter
	events chan Event
	errors chan error
	stop   func() bool
}

var _ Broker = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[*hubSub]struct{}),
		buffer: cfg.BufferSize,
		logger: cfg.Logger,
	}
}

// Publish delivers ev to every matching subscriber.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}

	for sub := range h.subs {
		if !sub.filter.Match(ev) {
			continue
		}
		select {
		case sub.events <- ev:
			continue
		default:
		}

		// Only the hub sends and it holds mu, so after evicting one event
		// the invalidate fits.
		select {
		case <-sub.events:
		default:
		}
		select {
		case sub.events <- invalidateEvent(sub.filter):
		default:
		}
		h.logger.Warn("feed subscriber lagging, events dropped",
			zap.String("filter", sub.filter.String()),
			zap.String("event_id", ev.ID))
	}
	return nil
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	sub := &hubSub{
		filter: filter,
		events: make(chan Event, h.buffer),
		errors: make(chan error, 1),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() { h.remove(sub) }
	sub.stop = context.AfterFunc(ctx, cancel)

	return &Subscription{
		filter: filter,
		events: sub.events,
		errors: sub.errors,
		cancel: func() {
			sub.stop()
			cancel()
		},
	}, nil
}

func (h *Hub) remove(sub *hubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.events)
	close(sub.errors)
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Further Publish and Subscribe calls fail.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for sub := range h.subs {
		sub.stop()
		delete(h.subs, sub)
		close(sub.events)
		close(sub.errors)
	}
	return nil
}
