package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/dashboard"
	"github.com/taskboard/kanban/internal/feed"
)

// Channel is an open change-feed subscription. Events are delivered in order
// until the context passed to Subscribe ends, Close is called or the server
// goes away; then Events is closed and Err reports why.
type Channel struct {
	name   string
	conn   *websocket.Conn
	events chan feed.Event
	stats  chan dashboard.StatsData
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Name is the server's name for the subscription, e.g. "tasks:alice".
func (ch *Channel) Name() string { return ch.name }

// Events delivers change and invalidate events.
func (ch *Channel) Events() <-chan feed.Event { return ch.events }

// Stats delivers the latest task counts after each task change. Older values
// are dropped when the reader falls behind.
func (ch *Channel) Stats() <-chan dashboard.StatsData { return ch.stats }

// Err returns the reason the channel ended, or nil after a clean Close.
func (ch *Channel) Err() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.err
}

// Close removes the channel and waits for its reader to exit.
func (ch *Channel) Close() error {
	ch.cancel()
	<-ch.done
	return nil
}

// Subscribe opens a feed subscription for filter. The user is always the
// token's user; filter.UserID is ignored.
func (c *Client) Subscribe(ctx context.Context, filter feed.Filter) (*Channel, error) {
	if filter.Table == "" {
		filter.Table = feed.TableTasks
	}

	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/realtime"
	q := url.Values{}
	q.Set("table", string(filter.Table))
	if filter.TaskID != "" {
		q.Set("task_id", filter.TaskID)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	ctx, cancel := context.WithCancel(ctx)
	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		cancel()
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &APIError{Status: resp.StatusCode, Message: "subscribe rejected"}
		}
		return nil, fmt.Errorf("failed to connect to feed: %w", err)
	}

	msg, err := readMessage(ctx, conn)
	if err != nil {
		cancel()
		conn.CloseNow()
		return nil, fmt.Errorf("failed to read subscription confirmation: %w", err)
	}
	if msg.Type != dashboard.MessageTypeSubscribed {
		cancel()
		conn.CloseNow()
		return nil, fmt.Errorf("unexpected first message %q", msg.Type)
	}
	var sub dashboard.SubscribedData
	if err := json.Unmarshal(msg.Data, &sub); err != nil {
		cancel()
		conn.CloseNow()
		return nil, fmt.Errorf("invalid subscription confirmation: %w", err)
	}

	ch := &Channel{
		name:   sub.Channel,
		conn:   conn,
		events: make(chan feed.Event, 64),
		stats:  make(chan dashboard.StatsData, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go ch.read(ctx, c.logger)

	c.logger.Debug("subscribed", zap.String("channel", ch.name))
	return ch, nil
}

func (ch *Channel) read(ctx context.Context, logger *zap.Logger) {
	defer close(ch.done)
	defer close(ch.events)
	defer ch.conn.Close(websocket.StatusNormalClosure, "")

	for {
		msg, err := readMessage(ctx, ch.conn)
		if err != nil {
			if ctx.Err() == nil {
				ch.setErr(err)
			}
			return
		}

		switch msg.Type {
		case dashboard.MessageTypeChange, dashboard.MessageTypeInvalidate:
			var ev feed.Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				logger.Warn("skipping malformed feed event", zap.Error(err))
				continue
			}
			select {
			case ch.events <- ev:
			case <-ctx.Done():
				return
			}
		case dashboard.MessageTypeStats:
			var stats dashboard.StatsData
			if err := json.Unmarshal(msg.Data, &stats); err != nil {
				continue
			}
			select {
			case <-ch.stats:
			default:
			}
			ch.stats <- stats
		}
	}
}

func (ch *Channel) setErr(err error) {
	ch.mu.Lock()
	ch.err = err
	ch.mu.Unlock()
}

func readMessage(ctx context.Context, conn *websocket.Conn) (dashboard.Message, error) {
	var msg dashboard.Message
	_, data, err := conn.Read(ctx)
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("invalid feed message: %w", err)
	}
	return msg, nil
}
