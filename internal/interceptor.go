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

// WorkflowInterceptor wraps an entire workflow invocation (spec §4.3).
// Implementations that call durable primitives participate in the
// replay protocol and MUST re-throw any recovered value for which
// didInterrupt(v) is true — swallowing a control signal corrupts the
// workflow (spec §7 "Propagation policy").
type WorkflowInterceptor func(ctx Context, args []interface{}, next WorkflowInvoker) (interface{}, error)

// WorkflowInvoker is the continuation a WorkflowInterceptor calls to
// reach the next interceptor or, innermost, the user function.
type WorkflowInvoker func(ctx Context, args []interface{}) (interface{}, error)

// ActivityInterceptor wraps one proxied activity call (spec §4.3).
type ActivityInterceptor func(activityCtx Context, workflowCtx Context, args []interface{}, next ActivityInvoker) (interface{}, error)

// ActivityInvoker is the continuation an ActivityInterceptor calls to
// reach the next interceptor or, innermost, the activity function.
type ActivityInvoker func(activityCtx Context, args []interface{}) (interface{}, error)

// interceptors is the process-global, immutable-during-execution
// registry (spec §5 "Shared-resource policy": "Interceptor registries
// are process-global immutable during workflow execution").
type interceptors struct {
	workflow []WorkflowInterceptor
	activity []ActivityInterceptor
}

func newInterceptors() *interceptors {
	return &interceptors{}
}

func (r *interceptors) register(i WorkflowInterceptor) {
	r.workflow = append(r.workflow, i)
}

func (r *interceptors) registerActivity(i ActivityInterceptor) {
	r.activity = append(r.activity, i)
}

func (r *interceptors) clear() {
	r.workflow = nil
	r.activity = nil
}

// Interceptors is the exported name for interceptors, so the worker
// package can hold and populate one (spec §6.4 "registerInterceptor,
// registerActivityInterceptor, clearInterceptors").
type Interceptors = interceptors

// NewInterceptors builds an empty interceptor chain for a Worker.
func NewInterceptors() *Interceptors {
	return newInterceptors()
}

// RegisterWorkflowInterceptor appends a workflow interceptor, outermost
// registration first (spec §4.3 "Composition").
func (r *interceptors) RegisterWorkflowInterceptor(i WorkflowInterceptor) {
	r.register(i)
}

// RegisterActivityInterceptor appends an activity interceptor.
func (r *interceptors) RegisterActivityInterceptor(i ActivityInterceptor) {
	r.registerActivity(i)
}

// Clear drops every registered interceptor (spec §6.4 "clearInterceptors").
func (r *interceptors) Clear() {
	r.clear()
}

// buildWorkflowChain folds the registered interceptors right-to-left
// so the first registered ends up outermost (spec §4.3 "Composition"),
// built eagerly once per invocation per spec §9 "Interceptor onion":
// "build the composition eagerly as a closure chain at invocation
// start; do not walk the list per call."
func (r *interceptors) buildWorkflowChain(innermost WorkflowInvoker) WorkflowInvoker {
	chain := innermost
	for i := len(r.workflow) - 1; i >= 0; i-- {
		interceptor := r.workflow[i]
		next := chain
		chain = func(ctx Context, args []interface{}) (interface{}, error) {
			return interceptor(ctx, args, next)
		}
	}
	return chain
}

// buildActivityChain is the activity-side analog of buildWorkflowChain.
func (r *interceptors) buildActivityChain(innermost ActivityInvoker) ActivityInvoker {
	chain := innermost
	for i := len(r.activity) - 1; i >= 0; i-- {
		interceptor := r.activity[i]
		next := chain
		chain = func(activityCtx Context, args []interface{}) (interface{}, error) {
			return interceptor(activityCtx, nil, args, next)
		}
	}
	return chain
}
