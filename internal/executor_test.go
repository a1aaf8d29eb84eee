package internal

import (
	"context"
	"testing"

	"github.com/hotmeshio/durable-go/internal/config"
	"github.com/hotmeshio/durable-go/mocks"
)

func greetWorkflow(ctx Context, name string) (string, error) {
	var result string
	err := ProxyActivity(ctx, "greet", ProxyActivityOptions{TaskQueue: "activities"}, name).Get(&result)
	return result, err
}

func sleepyWorkflow(ctx Context, name string) (string, error) {
	SleepFor(ctx, 0)
	var result string
	err := ProxyActivity(ctx, "greet", ProxyActivityOptions{TaskQueue: "activities"}, name).Get(&result)
	return result, err
}

func newTestExecutor(t *testing.T, st *mocks.Store) *Executor {
	t.Helper()
	reg := newRegistry()
	reg.RegisterWorkflow(greetWorkflow, "greet-workflow")
	reg.RegisterWorkflow(sleepyWorkflow, "sleepy-workflow")
	return NewExecutor(st, nil, reg, newInterceptors(), config.Defaults(), nil)
}

func TestInvokeProxyCacheMissSuspends(t *testing.T) {
	st := &mocks.Store{}
	st.On("FindJobFields", context.Background(), "wf-1", replaySlotPattern(""), config.Defaults().MaxReplayFields, config.Defaults().MaxReplayBytes).
		Return("", map[string][]byte{}, nil).Once()

	exec := newTestExecutor(t, st)
	args, err := DefaultDataConverter.ToData("world")
	if err != nil {
		t.Fatal(err)
	}
	env := &Envelope{WorkflowID: "wf-1", WorkflowName: "greet-workflow", Arguments: args}

	out, err := exec.Invoke(context.Background(), env)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out.Code != CodeProxy {
		t.Fatalf("Invoke() code = %v, want CodeProxy", out.Code)
	}
	payload, ok := out.Data.(ProxyPayload)
	if !ok {
		t.Fatalf("Invoke() data = %T, want ProxyPayload", out.Data)
	}
	if payload.ActivityName != "greet" {
		t.Fatalf("ActivityName = %q, want greet", payload.ActivityName)
	}
	st.AssertExpectations(t)
}

func TestInvokeProxyCacheHitCompletes(t *testing.T) {
	st := &mocks.Store{}

	response, err := DefaultDataConverter.ToData("echo: world")
	if err != nil {
		t.Fatal(err)
	}
	cached := encodeSlotRecord(&slotRecord{Data: response})
	slot := replaySlotName(opProxy, "", 1)

	st.On("FindJobFields", context.Background(), "wf-1", replaySlotPattern(""), config.Defaults().MaxReplayFields, config.Defaults().MaxReplayBytes).
		Return("", map[string][]byte{slot: cached}, nil).Once()

	exec := newTestExecutor(t, st)
	args, err := DefaultDataConverter.ToData("world")
	if err != nil {
		t.Fatal(err)
	}
	env := &Envelope{WorkflowID: "wf-1", WorkflowName: "greet-workflow", Arguments: args}

	out, err := exec.Invoke(context.Background(), env)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out.Code != CodeSuccess {
		t.Fatalf("Invoke() code = %v, want CodeSuccess", out.Code)
	}
	var result string
	if err := DefaultDataConverter.FromData(out.Response, &result); err != nil {
		t.Fatal(err)
	}
	if result != "echo: world" {
		t.Fatalf("result = %q, want %q", result, "echo: world")
	}
}

func TestInvokeSleepCacheMissSuspends(t *testing.T) {
	st := &mocks.Store{}
	st.On("FindJobFields", context.Background(), "wf-1", replaySlotPattern(""), config.Defaults().MaxReplayFields, config.Defaults().MaxReplayBytes).
		Return("", map[string][]byte{}, nil).Once()

	exec := newTestExecutor(t, st)
	args, err := DefaultDataConverter.ToData("world")
	if err != nil {
		t.Fatal(err)
	}
	env := &Envelope{WorkflowID: "wf-1", WorkflowName: "sleepy-workflow", Arguments: args}

	out, err := exec.Invoke(context.Background(), env)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out.Code != CodeSleep {
		t.Fatalf("Invoke() code = %v, want CodeSleep", out.Code)
	}
	st.AssertExpectations(t)
}

func TestInvokeUnregisteredWorkflowIsFatal(t *testing.T) {
	st := &mocks.Store{}
	exec := newTestExecutor(t, st)
	env := &Envelope{WorkflowID: "wf-1", WorkflowName: "does-not-exist"}

	out, err := exec.Invoke(context.Background(), env)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out.Code != CodeFatal {
		t.Fatalf("Invoke() code = %v, want CodeFatal", out.Code)
	}
}
