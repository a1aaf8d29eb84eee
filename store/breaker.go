package store

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker wraps a Store so a flapping backend fails fast instead of
// hanging executor invocations — the scheduler-side resilience layer
// spec §5 assumes exists but leaves as an external collaborator.
type Breaker struct {
	inner Store
	cb    *gobreaker.CircuitBreaker
}

// NewBreaker wraps inner with a circuit breaker named for logs/metrics.
// It trips after 5 consecutive failures and allows one trial request
// after openTimeout.
func NewBreaker(inner Store, name string, openTimeout time.Duration) *Breaker {
	if openTimeout <= 0 {
		openTimeout = 15 * time.Second
	}
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func run[T any](b *Breaker, fn func() (T, error)) (T, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

func (b *Breaker) CreateJob(ctx context.Context, jobID string, fields map[string][]byte) error {
	_, err := run(b, func() (struct{}, error) {
		return struct{}{}, b.inner.CreateJob(ctx, jobID, fields)
	})
	return err
}

func (b *Breaker) FindJobFields(ctx context.Context, jobID string, pattern string, maxFields, maxBytes int) (string, map[string][]byte, error) {
	type pair struct {
		cursor string
		fields map[string][]byte
	}
	p, err := run(b, func() (pair, error) {
		cursor, fields, err := b.inner.FindJobFields(ctx, jobID, pattern, maxFields, maxBytes)
		return pair{cursor, fields}, err
	})
	return p.cursor, p.fields, err
}

func (b *Breaker) SetFields(ctx context.Context, jobID string, fields map[string][]byte) (int, error) {
	return run(b, func() (int, error) {
		return b.inner.SetFields(ctx, jobID, fields)
	})
}

func (b *Breaker) SetFieldsWithMarker(ctx context.Context, jobID string, fields map[string][]byte, marker string, markerValue []byte) (int, error) {
	return run(b, func() (int, error) {
		return b.inner.SetFieldsWithMarker(ctx, jobID, fields, marker, markerValue)
	})
}

func (b *Breaker) GetField(ctx context.Context, jobID, name string) ([]byte, error) {
	return run(b, func() ([]byte, error) {
		return b.inner.GetField(ctx, jobID, name)
	})
}

func (b *Breaker) GetFields(ctx context.Context, jobID string, names []string) (map[string][]byte, error) {
	return run(b, func() (map[string][]byte, error) {
		return b.inner.GetFields(ctx, jobID, names)
	})
}

func (b *Breaker) DeleteFields(ctx context.Context, jobID string, names []string) (int, error) {
	return run(b, func() (int, error) {
		return b.inner.DeleteFields(ctx, jobID, names)
	})
}

func (b *Breaker) IncrementFieldByFloat(ctx context.Context, jobID, name string, delta float64) (float64, error) {
	return run(b, func() (float64, error) {
		return b.inner.IncrementFieldByFloat(ctx, jobID, name, delta)
	})
}

func (b *Breaker) IncrementFieldByFloatWithMarker(ctx context.Context, jobID, name string, delta float64, marker string) (float64, error) {
	return run(b, func() (float64, error) {
		return b.inner.IncrementFieldByFloatWithMarker(ctx, jobID, name, delta, marker)
	})
}

func (b *Breaker) MutateContext(ctx context.Context, jobID string, mutation ContextMutation) ([]byte, error) {
	return run(b, func() ([]byte, error) {
		return b.inner.MutateContext(ctx, jobID, mutation)
	})
}

func (b *Breaker) Expire(ctx context.Context, jobID string, ttlSeconds int64) error {
	_, err := run(b, func() (struct{}, error) {
		return struct{}{}, b.inner.Expire(ctx, jobID, ttlSeconds)
	})
	return err
}

func (b *Breaker) Delete(ctx context.Context, jobID string) error {
	_, err := run(b, func() (struct{}, error) {
		return struct{}{}, b.inner.Delete(ctx, jobID)
	})
	return err
}

var _ Store = (*Breaker)(nil)
