package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hotmeshio/durable-go/mocks"
)

func TestClientStartPublishesExecuteEnvelope(t *testing.T) {
	st := &mocks.Store{}
	ps := &mocks.PubSub{}
	ctx := context.Background()

	st.On("CreateJob", ctx, "wf-1", mock.Anything).Return(nil).Once()
	ps.On("Publish", ctx, "default.execute", mock.Anything).Return(nil).Once()

	c := NewClient(st, ps, "default", nil)
	handle, err := c.Start(ctx, StartOptions{
		WorkflowID:   "wf-1",
		WorkflowName: "greet",
		TaskQueue:    "workflows",
		Args:         []interface{}{"world"},
	})
	require.NoError(t, err)
	require.Equal(t, "wf-1", handle.GetID())

	st.AssertExpectations(t)
	ps.AssertExpectations(t)
}

func TestClientStartPendingSkipsPublish(t *testing.T) {
	st := &mocks.Store{}
	ps := &mocks.PubSub{}
	ctx := context.Background()

	st.On("CreateJob", ctx, "wf-1", mock.Anything).Return(nil).Once()

	c := NewClient(st, ps, "default", nil)
	_, err := c.Start(ctx, StartOptions{WorkflowID: "wf-1", Pending: true})
	require.NoError(t, err)

	st.AssertExpectations(t)
	ps.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestClientSignalPublishesToSignalTopic(t *testing.T) {
	st := &mocks.Store{}
	ps := &mocks.PubSub{}
	ctx := context.Background()

	ps.On("Publish", ctx, "default"+topicSignalSuffix, mock.Anything).Return(nil).Once()

	c := NewClient(st, ps, "default", nil)
	require.NoError(t, c.Signal(ctx, "approval", "yes", ""))
	ps.AssertExpectations(t)
}

func TestHandleStatusDecodesField(t *testing.T) {
	st := &mocks.Store{}
	ps := &mocks.PubSub{}
	ctx := context.Background()

	c := NewClient(st, ps, "default", nil)
	encoded := mustEncodeValue(c.dataConverter, StatusComplete)
	st.On("GetField", ctx, "wf-1", fieldStatus).Return(encoded, nil).Once()

	h := c.GetHandle("workflows", "greet", "wf-1", "")
	status, err := h.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, status)
	st.AssertExpectations(t)
}

func TestHandleResultReturnsResponse(t *testing.T) {
	st := &mocks.Store{}
	ps := &mocks.PubSub{}
	ctx := context.Background()

	c := NewClient(st, ps, "default", nil)
	response, err := c.dataConverter.ToData("hello")
	require.NoError(t, err)

	st.On("GetFields", ctx, "wf-1", []string{fieldStatus, fieldResponse, fieldError}).
		Return(map[string][]byte{
			fieldStatus:   mustEncodeValue(c.dataConverter, StatusComplete),
			fieldResponse: response,
		}, nil).Once()

	h := c.GetHandle("workflows", "greet", "wf-1", "")
	var out string
	require.NoError(t, h.Result(ctx, ResultOptions{ThrowOnError: true}, &out))
	require.Equal(t, "hello", out)
	st.AssertExpectations(t)
}

func TestHandleResultPropagatesInterrupted(t *testing.T) {
	st := &mocks.Store{}
	ps := &mocks.PubSub{}
	ctx := context.Background()

	c := NewClient(st, ps, "default", nil)
	st.On("GetFields", ctx, "wf-1", []string{fieldStatus, fieldResponse, fieldError}).
		Return(map[string][]byte{
			fieldStatus: mustEncodeValue(c.dataConverter, StatusInterrupted),
		}, nil).Once()

	h := c.GetHandle("workflows", "greet", "wf-1", "")
	err := h.Result(ctx, ResultOptions{ThrowOnError: true}, nil)
	require.Error(t, err)
	var interruptErr *InterruptError
	require.ErrorAs(t, err, &interruptErr)
}

func TestHandleInterruptMarksJob(t *testing.T) {
	st := &mocks.Store{}
	ps := &mocks.PubSub{}
	ctx := context.Background()

	st.On("SetFields", ctx, "wf-1", mock.Anything).Return(1, nil).Once()

	c := NewClient(st, ps, "default", nil)
	h := c.GetHandle("workflows", "greet", "wf-1", "")
	require.NoError(t, h.Interrupt(ctx, InterruptOptions{}))
	st.AssertExpectations(t)
}
