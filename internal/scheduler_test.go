package internal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hotmeshio/durable-go/internal"
	"github.com/hotmeshio/durable-go/internal/config"
	"github.com/hotmeshio/durable-go/mocks"
)

func TestCommitReplaySlot(t *testing.T) {
	st := &mocks.Store{}
	ctx := context.Background()
	st.On("SetFields", ctx, "wf-1", map[string][]byte{"-proxy,0,1-3-": []byte("result")}).
		Return(1, nil).Once()

	err := internal.CommitReplaySlot(ctx, st, "wf-1", internal.OpProxy, ",0,1", 3, []byte("result"))
	require.NoError(t, err)
	st.AssertExpectations(t)
}

func TestCommitTerminalSuccess(t *testing.T) {
	st := &mocks.Store{}
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	st.On("SetFields", ctx, "wf-1", mock.MatchedBy(func(fields map[string][]byte) bool {
		return string(fields["response"]) != "" && len(fields["updatedAt"]) > 0
	})).Return(2, nil).Once()

	out := &internal.Outcome{Code: internal.CodeSuccess, Response: []byte(`"ok"`)}
	require.NoError(t, internal.CommitTerminal(ctx, st, "wf-1", out, now))
	st.AssertExpectations(t)
}

func TestCommitTerminalFailure(t *testing.T) {
	st := &mocks.Store{}
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	st.On("SetFields", ctx, "wf-1", mock.MatchedBy(func(fields map[string][]byte) bool {
		_, hasErr := fields["$error"]
		return hasErr
	})).Return(2, nil).Once()

	out := &internal.Outcome{
		Code:  internal.CodeFatal,
		Error: &internal.Failure{Source: "durable-go", Message: "boom", Kind: "FATAL"},
	}
	require.NoError(t, internal.CommitTerminal(ctx, st, "wf-1", out, now))
	st.AssertExpectations(t)
}

func TestMarkInterrupted(t *testing.T) {
	st := &mocks.Store{}
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	st.On("SetFields", ctx, "wf-1", mock.Anything).Return(2, nil).Once()
	require.NoError(t, internal.MarkInterrupted(ctx, st, "wf-1", now))
	st.AssertExpectations(t)
}

func TestNextEnvelope(t *testing.T) {
	prev := &internal.Envelope{WorkflowID: "wf-1", Attempt: 2}

	same := internal.NextEnvelope(prev, false)
	require.Equal(t, 2, same.Attempt)

	bumped := internal.NextEnvelope(prev, true)
	require.Equal(t, 3, bumped.Attempt)
	require.Equal(t, 2, prev.Attempt, "NextEnvelope must not mutate its input")
}

func TestRunActivitySuccessAndFailure(t *testing.T) {
	reg := internal.NewRegistry()
	reg.RegisterActivity(func(msg string) (string, error) {
		return "echo: " + msg, nil
	}, "echo")

	exec := internal.NewExecutor(nil, nil, reg, internal.NewInterceptors(), config.Defaults(), nil)

	args, err := internal.DefaultDataConverter.ToData("hi")
	require.NoError(t, err)

	ok := exec.RunActivity(internal.ActivityTask{
		Payload: internal.ProxyPayload{ActivityName: "echo", Args: args},
	})
	require.False(t, internal.SlotRecordFailed(ok))

	missing := exec.RunActivity(internal.ActivityTask{
		Payload: internal.ProxyPayload{ActivityName: "does-not-exist", Args: args},
	})
	require.True(t, internal.SlotRecordFailed(missing))
}
