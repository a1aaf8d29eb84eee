// Package redispubsub implements pubsub.PubSub atop Redis PUBLISH/SUBSCRIBE,
// the bus named in spec §6.3 for emit/trace/signal fire-and-forget
// publishes and the scheduler's execute/signal topics (§6.2).
package redispubsub

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hotmeshio/durable-go/pubsub"
)

// Bus is a Redis-backed pubsub.PubSub.
type Bus struct {
	rdb *redis.Client
}

// New wraps an existing *redis.Client.
func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

func (b *Bus) Publish(ctx context.Context, topic string, message []byte) error {
	if err := b.rdb.Publish(ctx, topic, message).Err(); err != nil {
		return errors.Wrap(err, "redispubsub: publish")
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (pubsub.Subscription, error) {
	sub := b.rdb.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, errors.Wrap(err, "redispubsub: subscribe")
	}
	out := make(chan pubsub.Message, 64)
	redisCh := sub.Channel()
	go func() {
		defer close(out)
		for msg := range redisCh {
			out <- pubsub.Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}
		}
	}()
	return &subscription{sub: sub, out: out}, nil
}

type subscription struct {
	sub *redis.PubSub
	out chan pubsub.Message
}

func (s *subscription) Messages() <-chan pubsub.Message {
	return s.out
}

func (s *subscription) Close() error {
	return s.sub.Close()
}

var _ pubsub.PubSub = (*Bus)(nil)
