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

import "runtime"

// durableInterrupt is the typed value every durable primitive panics
// with on a cache miss (spec §4.2 protocol step 8, §9 "Throw-based
// suspension": implementation languages without exception-based
// coroutines model this as a sum type — here, a panic value the
// executor's recover() pattern-matches on, which is Go's nearest
// equivalent to a single-shot generator yield).
type durableInterrupt struct {
	item interruptionItem
}

// throwInterrupt performs protocol steps 6-8: push the item onto the
// invocation's registry, yield once so sibling primitives dispatched
// by all() get a chance to push their own items before this panic
// unwinds the goroutine, then panic.
//
// runtime.Gosched() stands in for the source's microtask yield (spec
// §4.2 "yield-to-microtask"): it does not guarantee sibling goroutines
// run to completion, only that the scheduler gets a chance to run them.
// all() does not rely on it: it calls its thunks one after another on
// the calling goroutine and recovers each one's interrupt before calling
// the next, so every thunk contributes its push to the registry
// regardless of Gosched timing.
func throwInterrupt(ic *invocationContext, item interruptionItem) {
	ic.pushInterruption(item)
	runtime.Gosched()
	panic(&durableInterrupt{item: item})
}

// didInterrupt reports whether v (a recovered panic value) is a
// durable control signal that user code must never swallow (spec §7
// "Propagation policy"). Interceptor and workflow code that wraps a
// primitive call in recover() must re-throw when this is true.
func didInterrupt(v interface{}) bool {
	_, ok := v.(*durableInterrupt)
	return ok
}

// asDurableInterrupt type-asserts a recovered panic value, returning
// ok=false for anything else; Executor.classifyPanic then classifies a
// workflowPanicError by its cause and any other panic value as FATAL.
func asDurableInterrupt(v interface{}) (*durableInterrupt, bool) {
	di, ok := v.(*durableInterrupt)
	return di, ok
}
