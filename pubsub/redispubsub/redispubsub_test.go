package redispubsub_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hotmeshio/durable-go/pubsub/redispubsub"
)

func TestPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	bus := redispubsub.New(rdb)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "wf-1.execute")
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })

	require.NoError(t, bus.Publish(ctx, "wf-1.execute", []byte("payload")))

	select {
	case msg := <-sub.Messages():
		require.Equal(t, "wf-1.execute", msg.Topic)
		require.Equal(t, []byte("payload"), msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestSubscriptionCloseDrainsChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	bus := redispubsub.New(rdb)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "wf-1.signal")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Messages():
		require.False(t, ok, "channel should be closed after Close")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
