// Package internal: scheduler-side commit logic.
//
// spec.md treats the Scheduler as an external tier (§2 "Component
// design") that "persists state, performs retries and child-spawns,
// delivers signals" in response to the executor's interruption
// envelopes. This engine has no separate scheduler process — the Worker
// (worker/worker.go) plays that role directly over the store+pubsub
// substrate, so the logic that turns an Outcome into job-record writes
// and follow-up dispatch lives here, next to the slot-naming and
// envelope types it depends on, and Worker calls it rather than
// re-implementing it.
package internal

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/hotmeshio/durable-go/store"
)

// Job record status semaphore (spec §3.1 "Status/metadata": "a job
// status semaphore (≤0 ⇒ terminal)").
const (
	StatusRunning     = 1
	StatusComplete    = 0
	StatusFailed      = -1
	StatusInterrupted = -2

	fieldStatus    = "status"
	fieldResponse  = "response"
	fieldError     = "$error"
	fieldUpdatedAt = "updatedAt"
)

// ActivityTask is the message a workflow-side Worker publishes to an
// activity pool's task queue when proxyActivity interrupts with
// CodeProxy (spec §4.2.1, §6.2 "execute topic"). Reentry carries
// everything needed to republish the workflow's execute envelope once
// the activity result is known.
type ActivityTask struct {
	Reentry   Envelope    `json:"reentry"`
	Dimension string      `json:"dimension"`
	Index     int         `json:"index"`
	Payload   ProxyPayload `json:"payload"`
}

// ChildTask is the message published when execChild/startChild
// interrupts with CodeChild (spec §4.2.5); it both creates the child
// job record and, if Await, mirrors ActivityTask's reentry bookkeeping.
type ChildTask struct {
	Reentry   Envelope     `json:"reentry"`
	Dimension string       `json:"dimension"`
	Index     int          `json:"index"`
	Payload   ChildPayload `json:"payload"`
}

// activityContext is the minimal Context activities run under. Durable
// primitives are a workflow-function concern (spec §4.2); an activity
// that calls one will hit getInvocationContext's deliberate panic,
// which is the correct behavior — activities are plain side-effecting
// functions, not replayed call sites.
type activityContext struct{}

func (activityContext) Value(key interface{}) interface{} { return nil }
func (activityContext) disableDeadlockDetection()          {}

func activityTakesContext(fnType reflect.Type) bool {
	return fnType.NumIn() > 0 && fnType.In(0) == contextType
}

// RunActivity looks up, decodes, and invokes the activity named in
// task.Payload, through the registered activity interceptor chain
// (spec §4.3), and returns the encoded slotRecord the caller should
// persist verbatim at (opProxy, task.Dimension, task.Index). It never
// returns a Go error itself — failures are captured inside the
// returned record so the caller always has exactly one replay slot to
// write (spec §3.1 Invariant), and the record's encoding stays private
// to this package.
func (e *Executor) RunActivity(task ActivityTask) []byte {
	fnValue, ok := e.registry.GetActivity(task.Payload.ActivityName)
	if !ok {
		return encodeSlotRecord(&slotRecord{Error: convertErrorToFailure(
			NewFatalError(fmt.Errorf("durable: activity %q is not registered", task.Payload.ActivityName)),
			e.dataConverter,
		)})
	}

	skipCtx := activityTakesContext(fnValue.Type())
	args, err := decodeArgsInto(e.dataConverter, task.Payload.Args, fnValue.Type(), skipCtx)
	if err != nil {
		return encodeSlotRecord(&slotRecord{Error: convertErrorToFailure(NewFatalError(err), e.dataConverter)})
	}
	argIfaces := make([]interface{}, len(args))
	for i, v := range args {
		argIfaces[i] = v.Interface()
	}

	innermost := func(ctx Context, callArgs []interface{}) (interface{}, error) {
		in := make([]reflect.Value, 0, len(callArgs)+1)
		if skipCtx {
			in = append(in, reflect.ValueOf(ctx))
		}
		for _, a := range callArgs {
			in = append(in, reflect.ValueOf(a))
		}
		out := fnValue.Call(in)
		return callResult(out)
	}
	chain := e.interceptors.buildActivityChain(innermost)

	result, callErr := e.invokeActivity(chain, argIfaces)
	if callErr != nil {
		return encodeSlotRecord(&slotRecord{Error: convertErrorToFailure(callErr, e.dataConverter)})
	}
	data, encErr := e.dataConverter.ToData(result)
	if encErr != nil {
		return encodeSlotRecord(&slotRecord{Error: convertErrorToFailure(NewFatalError(encErr), e.dataConverter)})
	}
	return encodeSlotRecord(&slotRecord{Data: data})
}

// SlotRecordFailed reports whether an encoded slot record (as returned
// by RunActivity) carries an Error rather than a Data payload, so a
// Worker can decide whether to retry an activity without decoding the
// record itself.
func SlotRecordFailed(encoded []byte) bool {
	rec, err := decodeSlotRecord(encoded)
	if err != nil {
		return true
	}
	return rec.Error != nil
}

func (e *Executor) invokeActivity(chain ActivityInvoker, args []interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r, string(debug.Stack()))
		}
	}()
	return chain(activityContext{}, args)
}

// CommitReplaySlot persists the one replay slot a completed interrupt
// (sleep elapsed, activity/child finished, signal delivered) produces,
// matching spec §3.1's invariant that every successful primitive call
// writes exactly one replay slot before the next invocation begins.
func CommitReplaySlot(ctx context.Context, st store.Store, workflowID string, o op, dimension string, index int, value []byte) error {
	slot := replaySlotName(o, dimension, index)
	_, err := st.SetFields(ctx, workflowID, map[string][]byte{slot: value})
	return err
}

// CommitTerminal persists a Completed or Errored Outcome onto the job
// record: status semaphore, response or $error, and the updated-at
// timestamp (spec §3.1 "Status/metadata").
func CommitTerminal(ctx context.Context, st store.Store, workflowID string, out *Outcome, now time.Time) error {
	fields := map[string][]byte{
		fieldUpdatedAt: mustEncodeValue(getDefaultDataConverter(), now.Unix()),
	}
	switch out.Code {
	case CodeSuccess:
		fields[fieldStatus] = mustEncodeValue(getDefaultDataConverter(), StatusComplete)
		if out.Response != nil {
			fields[fieldResponse] = out.Response
		}
	default:
		fields[fieldStatus] = mustEncodeValue(getDefaultDataConverter(), StatusFailed)
		if out.Error != nil {
			errJSON, err := MarshalFailureJSON(out.Error)
			if err != nil {
				return err
			}
			fields[fieldError] = errJSON
		}
	}
	_, err := st.SetFields(ctx, workflowID, fields)
	return err
}

// MarkInterrupted persists the Interrupted terminal state spec §4.1's
// state machine table describes, used by Client.Handle.Interrupt. It
// marks only the given job; child jobs are left as they are.
func MarkInterrupted(ctx context.Context, st store.Store, workflowID string, now time.Time) error {
	_, err := st.SetFields(ctx, workflowID, map[string][]byte{
		fieldStatus:    mustEncodeValue(getDefaultDataConverter(), StatusInterrupted),
		fieldUpdatedAt: mustEncodeValue(getDefaultDataConverter(), now.Unix()),
	})
	return err
}

// NextEnvelope derives the re-entry envelope for a follow-up invocation
// on the same dimensional thread, optionally bumping the retry attempt
// (spec §4.1 "Failure semantics": "Attempt counter lives on the
// scheduler side").
func NextEnvelope(prev *Envelope, bumpAttempt bool) *Envelope {
	next := *prev
	if bumpAttempt {
		next.Attempt++
	}
	return &next
}
