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
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/hotmeshio/durable-go/internal/config"
	"github.com/hotmeshio/durable-go/pubsub"
	"github.com/hotmeshio/durable-go/store"
)

// Executor runs registered workflow functions under the deterministic
// re-entrant protocol spec §4.1 describes. One Executor backs one
// Worker (spec §6.4); it is safe for concurrent use across invocations
// since all invocation-scoped state lives on *invocationContext.
type Executor struct {
	registry      *registry
	interceptors  *interceptors
	store         store.Store
	pubsub        pubsub.PubSub
	dataConverter DataConverter
	logger        *zap.Logger
	cfg           config.Engine
}

// NewExecutor builds an Executor bound to a store/pubsub pair and the
// registry+interceptors a Worker owns.
func NewExecutor(st store.Store, ps pubsub.PubSub, reg *registry, ic *interceptors, cfg config.Engine, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		registry:      reg,
		interceptors:  ic,
		store:         st,
		pubsub:        ps,
		dataConverter: getDefaultDataConverter(),
		logger:        logger,
		cfg:           cfg,
	}
}

// Invoke executes spec §4.1's algorithm for one scheduler re-entry.
func (e *Executor) Invoke(goCtx context.Context, env *Envelope) (out *Outcome, err error) {
	fnValue, ok := e.registry.GetWorkflow(env.WorkflowName)
	if !ok {
		return &Outcome{
			Code:  CodeFatal,
			Error: convertErrorToFailure(NewFatalError(fmt.Errorf("durable: workflow %q is not registered", env.WorkflowName)), e.dataConverter),
		}, nil
	}

	// Step 1: load the replay log for this dimensional thread.
	pattern := replaySlotPattern(env.WorkflowDimension)
	cursor, fields, loadErr := e.store.FindJobFields(goCtx, env.WorkflowID, pattern, e.cfg.MaxReplayFields, e.cfg.MaxReplayBytes)
	if loadErr != nil {
		return nil, loadErr
	}

	// Step 2: establish the per-invocation context.
	registryItems := make([]interruptionItem, 0, 4)
	ic := &invocationContext{
		workflowID:        env.WorkflowID,
		workflowTopic:     env.WorkflowTopic,
		workflowName:      env.WorkflowName,
		namespace:         env.Namespace,
		originJobID:       env.OriginJobID,
		parentWorkflowID:  env.ParentWorkflowID,
		expire:            env.Expire,
		workflowDimension: env.WorkflowDimension,
		counter:           &counter{},
		sessionCounter:    &counter{},
		replay:            fields,
		cursor:            cursor,
		registry:          &registryItems,
		attempt:           env.Attempt,
		maxAttempts:       env.MaxAttempts,
		canRetry:          env.MaxAttempts <= 0 || env.Attempt < env.MaxAttempts,
		dataConverter:     e.dataConverter,
		store:             e.store,
		pubsub:            e.pubsub,
		logger:            e.logger,
		raw:               env,
	}
	rootCtx := newRootContext(ic)

	args, decodeErr := decodeArgsInto(e.dataConverter, env.Arguments, fnValue.Type(), true)
	if decodeErr != nil {
		return nil, decodeErr
	}
	argIfaces := make([]interface{}, len(args))
	for i, v := range args {
		argIfaces[i] = v.Interface()
	}

	innermost := func(ctx Context, callArgs []interface{}) (result interface{}, callErr error) {
		in := make([]reflect.Value, 0, len(callArgs)+1)
		in = append(in, reflect.ValueOf(ctx))
		for _, a := range callArgs {
			in = append(in, reflect.ValueOf(a))
		}
		out := fnValue.Call(in)
		return callResult(out)
	}
	chain := e.interceptors.buildWorkflowChain(innermost)

	// Steps 3-4: invoke the onion, catching exactly one outcome.
	return e.runOnce(rootCtx, ic, func() (interface{}, error) {
		return chain(rootCtx, argIfaces)
	}), nil
}

func (e *Executor) runOnce(ctx Context, ic *invocationContext, invoke func() (interface{}, error)) (out *Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = e.classifyPanic(ic, r)
		}
	}()

	result, err := invoke()
	if err != nil {
		return e.classifyError(ic, err)
	}

	data, encErr := ic.dataConverter.ToData(result)
	if encErr != nil {
		return &Outcome{Code: CodeFatal, Error: convertErrorToFailure(NewFatalError(encErr), ic.dataConverter)}
	}
	return &Outcome{Code: CodeSuccess, Done: true, Response: data}
}

// classifyPanic implements spec §4.1 step 4: a recovered durable
// interrupt becomes a COLLATED/SLEEP/WAIT/CHILD/PROXY envelope; a
// workflow panic unwraps to its cause and is classified like a
// returned error; anything else is an unrecoverable workflow panic,
// surfaced as FATAL (engine invariant broken) rather than silently
// retried forever.
func (e *Executor) classifyPanic(ic *invocationContext, r interface{}) *Outcome {
	if di, ok := asDurableInterrupt(r); ok {
		if ic.registryLen() > 1 || di.item.Code == CodeWait {
			return &Outcome{Code: CodeCollated, Data: *ic.registry}
		}
		return &Outcome{Code: di.item.Code, Data: di.item.Payload, Dimension: di.item.Dimension, Index: di.item.Index}
	}

	if wp, ok := r.(*workflowPanicError); ok {
		if causeErr, ok := wp.value.(error); ok {
			return e.classifyError(ic, causeErr)
		}
		return &Outcome{
			Code:  CodeFatal,
			Error: convertErrorToFailure(NewFatalError(fmt.Errorf("%v", wp.value)), ic.dataConverter),
		}
	}

	stack := string(debug.Stack())
	return &Outcome{
		Code:  CodeFatal,
		Error: convertErrorToFailure(newPanicError(r, stack), ic.dataConverter),
	}
}

// classifyError maps a returned workflow error onto the terminal wire
// codes spec §7's taxonomy table defines.
func (e *Executor) classifyError(ic *invocationContext, err error) *Outcome {
	failure := convertErrorToFailure(err, ic.dataConverter)
	var fatalErr *FatalError
	var maxedErr *MaxedError
	var timeoutErr *TimeoutError

	code := CodeRetry
	switch {
	case errors.As(err, &fatalErr):
		code = CodeFatal
	case errors.As(err, &maxedErr):
		code = CodeMaxed
	case errors.As(err, &timeoutErr):
		code = CodeTimeout
	case !IsRetryable(err, nil):
		code = CodeFatal
	}
	return &Outcome{Code: code, Error: failure}
}
