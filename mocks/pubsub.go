package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/hotmeshio/durable-go/pubsub"
)

// PubSub is a testify/mock double for pubsub.PubSub, the bus-side
// analog of Store above.
type PubSub struct {
	mock.Mock
}

var _ pubsub.PubSub = (*PubSub)(nil)

func (m *PubSub) Publish(ctx context.Context, topic string, message []byte) error {
	args := m.Called(ctx, topic, message)
	return args.Error(0)
}

func (m *PubSub) Subscribe(ctx context.Context, topic string) (pubsub.Subscription, error) {
	args := m.Called(ctx, topic)
	sub, _ := args.Get(0).(pubsub.Subscription)
	return sub, args.Error(1)
}
