package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultNamespace scopes the Redis channel when none is configured.
const DefaultNamespace = "default"

// ChannelName returns the Redis Pub/Sub channel for a namespace.
func ChannelName(namespace string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return fmt.Sprintf("kanban:%s:changes", namespace)
}

// RedisConfig configures a RedisBroker.
type RedisConfig struct {
	// Namespace separates boards sharing one Redis.
	Namespace  string
	BufferSize int
	Logger     *zap.Logger
}

// RedisBroker publishes events to Redis and serves local subscribers from a
// Hub fed by one Redis subscription, so every server instance sees every
// change.
type RedisBroker struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	logger  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker subscribes to the namespace channel and starts relaying.
// The subscription is confirmed before it returns, so events published after
// NewRedisBroker are not missed.
func NewRedisBroker(ctx context.Context, rdb *redis.Client, cfg RedisConfig) (*RedisBroker, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	channel := ChannelName(cfg.Namespace)

	pubsub := rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	relayCtx, cancel := context.WithCancel(context.Background())
	b := &RedisBroker{
		rdb:     rdb,
		channel: channel,
		hub:     NewHub(HubConfig{BufferSize: cfg.BufferSize, Logger: cfg.Logger}),
		logger:  cfg.Logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go b.relay(relayCtx, pubsub)
	return b, nil
}

func (b *RedisBroker) relay(ctx context.Context, pubsub *redis.PubSub) {
	defer close(b.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("failed to unmarshal feed event", zap.Error(err))
				continue
			}
			if err := b.hub.Publish(ctx, ev); err != nil {
				return
			}
		}
	}
}

// Publish sends ev to every instance, including this one.
func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe registers a local subscriber.
func (b *RedisBroker) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	return b.hub.Subscribe(ctx, filter)
}

// Close stops relaying and ends local subscriptions. The Redis client is
// owned by the caller.
func (b *RedisBroker) Close() error {
	b.once.Do(func() {
		b.cancel()
		<-b.done
		_ = b.hub.Close()
	})
	return nil
}
