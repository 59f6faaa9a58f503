package feed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedis starts a miniredis instance and returns a client connected to it
func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, mr
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "kanban:default:changes", ChannelName(""))
	assert.Equal(t, "kanban:team:changes", ChannelName("team"))
}

// TestRedisBroker_FanOutAcrossInstances simulates two API servers sharing Redis
func TestRedisBroker_FanOutAcrossInstances(t *testing.T) {
	rdb, _ := setupRedis(t)
	ctx := context.Background()

	server1, err := NewRedisBroker(ctx, rdb, RedisConfig{Namespace: "test"})
	require.NoError(t, err)
	defer server1.Close()
	server2, err := NewRedisBroker(ctx, rdb, RedisConfig{Namespace: "test"})
	require.NoError(t, err)
	defer server2.Close()

	sub, err := server2.Subscribe(ctx, Filter{Table: TableTasks, UserID: "alice"})
	require.NoError(t, err)
	defer sub.Close()

	ev, err := TaskEvent(EventInsert, testTask("t1", "alice"), nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, server1.Publish(ctx, ev))

	got := recv(t, sub)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, EventInsert, got.Type)
	task, err := got.NewTask()
	require.NoError(t, err)
	assert.Equal(t, "alice", task.UserID)
}

func TestRedisBroker_NamespacesAreIsolated(t *testing.T) {
	rdb, _ := setupRedis(t)
	ctx := context.Background()

	a, err := NewRedisBroker(ctx, rdb, RedisConfig{Namespace: "a"})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisBroker(ctx, rdb, RedisConfig{Namespace: "b"})
	require.NoError(t, err)
	defer b.Close()

	sub, err := b.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	ev, _ := TaskEvent(EventInsert, testTask("t1", "alice"), nil, time.Now())
	require.NoError(t, a.Publish(ctx, ev))
	assertNoEvent(t, sub)
}

func TestRedisBroker_SkipsMalformedPayload(t *testing.T) {
	rdb, mr := setupRedis(t)
	ctx := context.Background()

	broker, err := NewRedisBroker(ctx, rdb, RedisConfig{})
	require.NoError(t, err)
	defer broker.Close()

	sub, err := broker.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	mr.Publish(ChannelName(""), "{not json")
	ev, _ := TaskEvent(EventDelete, nil, testTask("t2", "alice"), time.Now())
	require.NoError(t, broker.Publish(ctx, ev))

	assert.Equal(t, "t2", recv(t, sub).RecordID)
}

func TestRedisBroker_CloseEndsSubscriptions(t *testing.T) {
	rdb, _ := setupRedis(t)
	broker, err := NewRedisBroker(context.Background(), rdb, RedisConfig{})
	require.NoError(t, err)

	sub, err := broker.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)

	require.NoError(t, broker.Close())
	require.NoError(t, broker.Close())

	_, ok := <-sub.Events()
	assert.False(t, ok)
}
