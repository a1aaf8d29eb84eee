// The MIT License
//
// Copyright (c) 2020 Temporal Technologies Inc.  All rights reserved.
//
// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package internal

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// slotRecord is the JSON shape written into a replay slot for
// primitives whose cache entry may represent either a successful
// result or a typed failure (proxyActivity, execChild) — spec §4.2.1
// "cached $error present".
type slotRecord struct {
	Data  []byte   `json:"data,omitempty"`
	Error *Failure `json:"error,omitempty"`
}

func decodeSlotRecord(raw []byte) (*slotRecord, error) {
	var rec slotRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func encodeSlotRecord(rec *slotRecord) []byte {
	data, err := json.Marshal(rec)
	if err != nil {
		panic(fmt.Sprintf("durable: marshal slot record: %v", err))
	}
	return data
}

// ProxyActivityOptions configures proxyActivity (spec §4.2.1).
type ProxyActivityOptions struct {
	TaskQueue   string
	RetryPolicy RetryPolicy
	Expire      time.Duration
}

// ProxyActivity executes a named activity exactly once per (workflowId,
// dimension, index) across replays (spec §4.2.1). On cache miss it
// builds a PROXY envelope and suspends; on cache hit it decodes the
// stored result or, if the cached slot holds an error, throws the
// reconstructed typed error when ThrowOnError is true and otherwise
// returns the cached *Failure as the value.
func ProxyActivity(ctx Context, activityName string, options ProxyActivityOptions, args ...interface{}) Value {
	ic := getInvocationContext(ctx)
	index := ic.nextIndex()
	slot := replaySlotName(opProxy, ic.workflowDimension, index)

	if raw, ok := ic.replayValue(slot); ok {
		rec, err := decodeSlotRecord(raw)
		if err != nil {
			panic(newWorkflowPanicError(fmt.Sprintf("durable: corrupt proxy slot %s: %v", slot, err), ""))
		}
		if rec.Error != nil {
			typedErr := convertFailureToError(rec.Error, ic.dataConverter)
			if !options.RetryPolicy.ThrowOnError {
				return newEncodedValue(mustEncodeValue(ic.dataConverter, rec.Error), ic.dataConverter)
			}
			panic(newWorkflowPanicError(typedErr, ""))
		}
		return newEncodedValue(rec.Data, ic.dataConverter)
	}

	taskQueue := options.TaskQueue
	if taskQueue == "" {
		taskQueue = ic.workflowTopic + "-activity"
	}
	encodedArgs, err := encodeArgs(ic.dataConverter, args)
	if err != nil {
		panic(newWorkflowPanicError(fmt.Sprintf("durable: encode activity args: %v", err), ""))
	}

	throwInterrupt(ic, interruptionItem{
		Code:      CodeProxy,
		Index:     index,
		Dimension: ic.workflowDimension,
		Payload: ProxyPayload{
			ActivityName: activityName,
			TaskQueue:    taskQueue,
			Args:         encodedArgs,
			RetryPolicy:  options.RetryPolicy,
			Expire:       options.Expire,
		},
	})
	panic("unreachable")
}

func mustEncodeValue(dc DataConverter, v interface{}) []byte {
	data, err := dc.ToData(v)
	if err != nil {
		panic(fmt.Sprintf("durable: encode value: %v", err))
	}
	return data
}

// SleepFor durably suspends the workflow for duration, returning the
// cached duration (seconds) on replay (spec §4.2.2).
func SleepFor(ctx Context, duration time.Duration) time.Duration {
	ic := getInvocationContext(ctx)
	index := ic.nextIndex()
	slot := replaySlotName(opSleep, ic.workflowDimension, index)

	if raw, ok := ic.replayValue(slot); ok {
		var seconds float64
		if err := json.Unmarshal(raw, &seconds); err != nil {
			panic(newWorkflowPanicError(fmt.Sprintf("durable: corrupt sleep slot %s: %v", slot, err), ""))
		}
		return time.Duration(seconds * float64(time.Second))
	}

	throwInterrupt(ic, interruptionItem{
		Code:      CodeSleep,
		Index:     index,
		Dimension: ic.workflowDimension,
		Payload:   SleepPayload{Duration: duration},
	})
	panic("unreachable")
}

// WaitFor durably blocks until signalId is delivered, returning the
// signal payload on replay (spec §4.2.3). Waits are always collated
// (spec §4.1 step 4): even a lone waitFor forces the executor to emit
// a COLLATED envelope rather than a bare WAIT, so concurrent waits
// inside all() become one scheduler round trip.
func WaitFor(ctx Context, signalID string) Value {
	ic := getInvocationContext(ctx)
	index := ic.nextIndex()
	slot := replaySlotName(opWait, ic.workflowDimension, index)

	if raw, ok := ic.replayValue(slot); ok {
		return newEncodedValue(raw, ic.dataConverter)
	}

	throwInterrupt(ic, interruptionItem{
		Code:      CodeWait,
		Index:     index,
		Dimension: ic.workflowDimension,
		Payload:   WaitPayload{SignalID: signalID},
	})
	panic("unreachable")
}

// Signal publishes a one-shot signal (spec §4.2.4). It is gated by a
// replay marker, not a suspension: on replay, if the marker slot is
// already present, the publish is skipped (idempotent fire-and-forget).
func Signal(ctx Context, signalID string, data interface{}) error {
	ic := getInvocationContext(ctx)
	index := ic.nextIndex()
	slot := replaySlotName(opSignal, ic.workflowDimension, index)

	if _, ok := ic.replayValue(slot); ok {
		return nil
	}

	encoded, err := ic.dataConverter.ToData(data)
	if err != nil {
		return err
	}
	topic := ic.namespace + topicSignalSuffix
	msg, err := json.Marshal(struct {
		SignalID string `json:"signalId"`
		Data     []byte `json:"data"`
	}{SignalID: signalID, Data: encoded})
	if err != nil {
		return err
	}
	if err := ic.pubsub.Publish(backgroundCtx(), topic, msg); err != nil {
		return err
	}
	_, err = ic.store.SetFields(backgroundCtx(), ic.workflowID, map[string][]byte{slot: []byte("1")})
	return err
}

// ExecChildOptions configures execChild/startChild (spec §4.2.5).
type ExecChildOptions struct {
	WorkflowID   string
	WorkflowName string
	Entity       string
	TaskQueue    string
	RetryPolicy  RetryPolicy
	Expire       time.Duration
	Await        bool
	SignalIn     string
}

// childWorkflowID composes the deterministic child job ID when the
// caller does not supply one explicitly (spec §4.2.5): "entity |
// workflowName | guid | dimension | index".
func childWorkflowID(opts ExecChildOptions, ic *invocationContext, index int) string {
	if opts.WorkflowID != "" {
		return opts.WorkflowID
	}
	guid := deterministicGUID(ic, index)
	return fmt.Sprintf("%s|%s|%s|%s|%d", opts.Entity, opts.WorkflowName, guid, ic.workflowDimension, index)
}

func deterministicGUID(ic *invocationContext, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", ic.workflowID, ic.workflowDimension, index)))
	return fmt.Sprintf("%x", sum[:8])
}

// ExecChild starts a child workflow and awaits its result, replaying
// the return value (or typed error) on a cached CHILD slot (spec
// §4.2.5). StartChild is sugar for ExecChild with Await=false.
func ExecChild(ctx Context, opts ExecChildOptions, args ...interface{}) Value {
	ic := getInvocationContext(ctx)
	index := ic.nextIndex()
	slot := replaySlotName(opChild, ic.workflowDimension, index)

	if raw, ok := ic.replayValue(slot); ok {
		rec, err := decodeSlotRecord(raw)
		if err != nil {
			panic(newWorkflowPanicError(fmt.Sprintf("durable: corrupt child slot %s: %v", slot, err), ""))
		}
		if rec.Error != nil {
			panic(newWorkflowPanicError(convertFailureToError(rec.Error, ic.dataConverter), ""))
		}
		return newEncodedValue(rec.Data, ic.dataConverter)
	}

	wfID := childWorkflowID(opts, ic, index)
	encodedArgs, err := encodeArgs(ic.dataConverter, args)
	if err != nil {
		panic(newWorkflowPanicError(fmt.Sprintf("durable: encode child args: %v", err), ""))
	}

	throwInterrupt(ic, interruptionItem{
		Code:      CodeChild,
		Index:     index,
		Dimension: ic.workflowDimension,
		Payload: ChildPayload{
			WorkflowID:    wfID,
			WorkflowName:  opts.WorkflowName,
			WorkflowTopic: opts.WorkflowName,
			TaskQueue:     opts.TaskQueue,
			Args:          encodedArgs,
			RetryPolicy:   opts.RetryPolicy,
			Expire:        opts.Expire,
			Await:         opts.Await,
			SignalIn:      opts.SignalIn,
			ParentID:      ic.workflowID,
		},
	})
	panic("unreachable")
}

// StartChild is ExecChild with Await forced false — it returns the
// child's job ID without waiting (spec §4.2.5).
func StartChild(ctx Context, opts ExecChildOptions, args ...interface{}) Value {
	opts.Await = false
	return ExecChild(ctx, opts, args...)
}

// HookOptions configures hook()/execHook() (spec §4.2.6).
type HookOptions struct {
	WorkflowID   string
	WorkflowName string
	TaskQueue    string
	Entity       string
}

// Hook spawns a new dimensional thread on a workflow and returns
// immediately (spec §4.2.6). It rejects a recursive call into the
// current workflow topic unless the caller supplies an explicit Entity
// or TaskQueue override — the infinite-loop guard spec §4.2.6 requires.
func Hook(ctx Context, opts HookOptions, args ...interface{}) error {
	ic := getInvocationContext(ctx)
	if opts.WorkflowName == ic.workflowName && opts.Entity == "" && opts.TaskQueue == "" {
		return NewFatalError(fmt.Errorf("durable: hook into %q would recurse without an entity or taskQueue override", opts.WorkflowName))
	}

	index := ic.nextIndex()
	slot := replaySlotName(opHook, ic.workflowDimension, index)
	if _, ok := ic.replayValue(slot); ok {
		return nil
	}

	encodedArgs, err := encodeArgs(ic.dataConverter, args)
	if err != nil {
		return err
	}
	wfID := opts.WorkflowID
	if wfID == "" {
		wfID = ic.workflowID
	}
	msg, err := json.Marshal(HookPayload{
		WorkflowID:   wfID,
		WorkflowName: opts.WorkflowName,
		TaskQueue:    opts.TaskQueue,
		Entity:       opts.Entity,
		Args:         encodedArgs,
	})
	if err != nil {
		return err
	}
	topic := ic.namespace + topicFlowSignalSuffix
	return ic.pubsub.Publish(backgroundCtx(), topic, msg)
}

// ExecHook is Hook plus a synthesized signalId injected into args,
// followed by a WaitFor on that signal (spec §4.2.6).
func ExecHook(ctx Context, opts HookOptions, args ...interface{}) Value {
	ic := getInvocationContext(ctx)
	signalID := fmt.Sprintf("%s:%s:hook", ic.workflowID, ic.workflowDimension)
	hookArgs := append(append([]interface{}{}, args...), signalID)
	if err := Hook(ctx, opts, hookArgs...); err != nil {
		panic(newWorkflowPanicError(err, ""))
	}
	return WaitFor(ctx, signalID)
}

// Emit publishes each topic→payload pair to the pub/sub bus, optionally
// idempotent via the replay-marker mechanism (spec §4.2.8).
func Emit(ctx Context, events map[string]interface{}, once bool) error {
	ic := getInvocationContext(ctx)
	index := ic.nextIndex()
	slot := replaySlotName(opEmit, ic.workflowDimension, index)
	if once {
		if _, ok := ic.replayValue(slot); ok {
			return nil
		}
	}
	for topic, payload := range events {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if err := ic.pubsub.Publish(backgroundCtx(), topic, data); err != nil {
			return err
		}
	}
	if once {
		_, err := ic.store.SetFields(backgroundCtx(), ic.workflowID, map[string][]byte{slot: []byte("1")})
		return err
	}
	return nil
}

// Trace publishes a span to the telemetry sink, idempotent via the
// replay-marker mechanism (spec §4.2.8).
func Trace(ctx Context, span interface{}) error {
	ic := getInvocationContext(ctx)
	index := ic.nextIndex()
	slot := replaySlotName(opTrace, ic.workflowDimension, index)
	if _, ok := ic.replayValue(slot); ok {
		return nil
	}
	data, err := json.Marshal(span)
	if err != nil {
		return err
	}
	if err := ic.pubsub.Publish(backgroundCtx(), ic.namespace+".trace", data); err != nil {
		return err
	}
	_, err = ic.store.SetFields(backgroundCtx(), ic.workflowID, map[string][]byte{slot: []byte("1")})
	return err
}

// Enrich is sugar for search.set(fields) (spec §4.2.8).
func Enrich(ctx Context, fields map[string]interface{}) error {
	h := Search(ctx)
	return h.Set(fields)
}

// Random returns a deterministic pseudo-random float64 in [0,1),
// seeded by a stateless hash of (jobId, counter) so every replay of a
// given job yields the same sequence (spec §4.2.9, §9 "PRNG").
func Random(ctx Context) float64 {
	ic := getInvocationContext(ctx)
	index := ic.nextIndex()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", ic.workflowID, ic.workflowDimension, index)))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	src := rand.NewSource(seed)
	return rand.New(src).Float64()
}

// All calls each thunk in turn on the calling goroutine, in call order,
// recovering each one's durable interrupt locally so
// every thunk gets a chance to push into the registry (spec §4.2.10)
// before this function lets the representative interrupt propagate.
// Go evaluates arguments eagerly, so unlike the source's Promise.all,
// callers pass deferred thunks rather than already-started operations —
// the idiomatic adaptation spec §9 sanctions ("a fiber or generator per
// invocation is an equivalent implementation").
func All(ctx Context, thunks ...func() (interface{}, error)) ([]interface{}, error) {
	ic := getInvocationContext(ctx)
	results := make([]interface{}, len(thunks))
	errs := make([]error, len(thunks))
	var representative interface{}

	for i, thunk := range thunks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					if didInterrupt(r) {
						if representative == nil {
							representative = r
						}
						return
					}
					panic(r)
				}
			}()
			results[i], errs[i] = thunk()
		}()
	}

	if representative != nil {
		_ = ic // registry already carries every pushed item
		panic(representative)
	}

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Interrupt publishes an interruption directive for a running job to
// the <namespace>.interrupt topic (spec §4.2.11), carrying the descend
// flag in the message. No component of this module subscribes to that
// topic, so neither the job nor its child jobs are interrupted by it.
func Interrupt(ctx Context, workflowID string, descend bool, expire time.Duration) error {
	ic := getInvocationContext(ctx)
	msg, err := json.Marshal(struct {
		WorkflowID string        `json:"workflowId"`
		Descend    bool          `json:"descend"`
		Expire     time.Duration `json:"expire"`
	}{WorkflowID: workflowID, Descend: descend, Expire: expire})
	if err != nil {
		return err
	}
	return ic.pubsub.Publish(backgroundCtx(), ic.namespace+".interrupt", msg)
}

// clampBackoff implements the retry ladder's delay formula (spec
// §4.1 "Failure semantics"): delay = min(backoffCoefficient^attempt,
// maximumInterval).
func clampBackoff(attempt int, coefficient float64, maximum time.Duration) time.Duration {
	delay := time.Duration(math.Pow(coefficient, float64(attempt))) * time.Second
	if maximum > 0 && delay > maximum {
		return maximum
	}
	return delay
}
