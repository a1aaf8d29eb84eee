package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hotmeshio/durable-go/internal"
	"github.com/hotmeshio/durable-go/internal/config"
	"github.com/hotmeshio/durable-go/mocks"
	"github.com/hotmeshio/durable-go/pubsub"
)

// fakeBus is a minimal in-memory pubsub.PubSub that records every
// published message, grounded on the teacher's in-process test doubles
// for its host/client transport layer.
type fakeBus struct {
	mu        sync.Mutex
	published []published
}

type published struct {
	topic   string
	payload []byte
}

func (b *fakeBus) Publish(ctx context.Context, topic string, message []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{topic: topic, payload: append([]byte(nil), message...)})
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, topic string) (pubsub.Subscription, error) {
	return &fakeSubscription{ch: make(chan pubsub.Message)}, nil
}

func (b *fakeBus) snapshot() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

type fakeSubscription struct {
	ch chan pubsub.Message
}

func (s *fakeSubscription) Messages() <-chan pubsub.Message { return s.ch }
func (s *fakeSubscription) Close() error                    { close(s.ch); return nil }

func newTestWorker(t *testing.T, st *mocks.Store, bus *fakeBus) *WorkflowWorker {
	t.Helper()
	conn := NewConnection(st, bus, config.Defaults(), zap.NewNop())
	return &WorkflowWorker{conn: conn, taskQueue: "default", namespace: conn.Config.Namespace}
}

func TestCommitSuccessWritesTerminal(t *testing.T) {
	st := &mocks.Store{}
	bus := &fakeBus{}
	w := newTestWorker(t, st, bus)

	st.On("SetFields", mock.Anything, "wf-1", mock.MatchedBy(func(fields map[string][]byte) bool {
		return fields["status"] != nil && string(fields["response"]) == `"done"`
	})).Return(1, nil).Once()

	env := &internal.Envelope{WorkflowID: "wf-1", Namespace: "default"}
	out := &internal.Outcome{Code: internal.CodeSuccess, Response: []byte(`"done"`)}
	w.commit(context.Background(), env, out)

	st.AssertExpectations(t)
}

func TestCommitProxyPublishesActivityTask(t *testing.T) {
	st := &mocks.Store{}
	bus := &fakeBus{}
	w := newTestWorker(t, st, bus)

	env := &internal.Envelope{WorkflowID: "wf-1", Namespace: "default"}
	out := &internal.Outcome{
		Code:      internal.CodeProxy,
		Dimension: ",0",
		Index:     1,
		Data:      internal.ProxyPayload{ActivityName: "echo", TaskQueue: "activities"},
	}
	w.commit(context.Background(), env, out)

	msgs := bus.snapshot()
	require.Len(t, msgs, 1)
	require.Equal(t, "activities", msgs[0].topic)

	var task internal.ActivityTask
	require.NoError(t, json.Unmarshal(msgs[0].payload, &task))
	require.Equal(t, "echo", task.Payload.ActivityName)
	require.Equal(t, ",0", task.Dimension)
	require.Equal(t, 1, task.Index)
}

func TestCommitSleepCommitsSlotAndRepublishesAfterDelay(t *testing.T) {
	st := &mocks.Store{}
	bus := &fakeBus{}
	w := newTestWorker(t, st, bus)

	st.On("SetFields", mock.Anything, "wf-1", map[string][]byte{"-sleep,0-2-": []byte("0.01")}).
		Return(1, nil).Once()

	env := &internal.Envelope{WorkflowID: "wf-1", Namespace: "default"}
	out := &internal.Outcome{
		Code:      internal.CodeSleep,
		Dimension: ",0",
		Index:     2,
		Data:      internal.SleepPayload{Duration: 10 * time.Millisecond},
	}
	w.commit(context.Background(), env, out)

	require.Eventually(t, func() bool {
		return len(bus.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	st.AssertExpectations(t)
	msgs := bus.snapshot()
	require.Equal(t, "default.execute", msgs[0].topic)
}

func TestCommitChildWithoutAwaitCommitsSlotImmediately(t *testing.T) {
	st := &mocks.Store{}
	bus := &fakeBus{}
	w := newTestWorker(t, st, bus)

	st.On("CreateJob", mock.Anything, "child-1", map[string][]byte{}).Return(nil).Once()
	st.On("SetFields", mock.Anything, "wf-1", map[string][]byte{"-child,0-0-": []byte("1")}).
		Return(1, nil).Once()

	env := &internal.Envelope{WorkflowID: "wf-1", Namespace: "default"}
	out := &internal.Outcome{
		Code:      internal.CodeChild,
		Dimension: ",0",
		Index:     0,
		Data:      internal.ChildPayload{WorkflowID: "child-1", WorkflowName: "child", Await: false},
	}
	w.commit(context.Background(), env, out)

	msgs := bus.snapshot()
	require.Len(t, msgs, 2, "expect one child execute publish and one parent republish")
	st.AssertExpectations(t)
}

func TestCommitCollatedFansOutEachItem(t *testing.T) {
	st := &mocks.Store{}
	bus := &fakeBus{}
	w := newTestWorker(t, st, bus)

	st.On("SetFields", mock.Anything, "wf-1", mock.Anything).Return(1, nil).Twice()

	env := &internal.Envelope{WorkflowID: "wf-1", Namespace: "default"}
	out := &internal.Outcome{
		Code: internal.CodeCollated,
		Data: []internal.InterruptionItem{
			{Code: internal.CodeSuccess, Dimension: ",0", Index: 0},
			{Code: internal.CodeFatal, Dimension: ",1", Index: 0},
		},
	}
	w.commit(context.Background(), env, out)

	st.AssertExpectations(t)
}
