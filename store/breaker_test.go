package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/hotmeshio/durable-go/mocks"
	"github.com/hotmeshio/durable-go/store"
)

func TestBreakerPassesThroughOnSuccess(t *testing.T) {
	inner := &mocks.Store{}
	inner.On("SetFields", context.Background(), "wf-1", map[string][]byte{"status": []byte("running")}).
		Return(1, nil).Once()

	b := store.NewBreaker(inner, "test", time.Second)
	n, err := b.SetFields(context.Background(), "wf-1", map[string][]byte{"status": []byte("running")})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	inner.AssertExpectations(t)
}

// TestBreakerTripsAfterConsecutiveFailures drives 5 consecutive failures
// (NewBreaker's ReadyToTrip threshold) and asserts the breaker then
// fails fast with gobreaker.ErrOpenState instead of reaching inner.
func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	inner := &mocks.Store{}
	boom := errors.New("boom")
	inner.On("GetField", context.Background(), "wf-1", "status").Return([]byte(nil), boom)

	b := store.NewBreaker(inner, "test", time.Minute)
	for i := 0; i < 5; i++ {
		_, err := b.GetField(context.Background(), "wf-1", "status")
		require.ErrorIs(t, err, boom)
	}

	_, err := b.GetField(context.Background(), "wf-1", "status")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	inner.AssertNumberOfCalls(t, "GetField", 5)
}
