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
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hotmeshio/durable-go/pubsub"
	"github.com/hotmeshio/durable-go/store"
)

// Context is the ambient, stack-scoped handle every durable primitive
// takes as its first argument (spec §3.2, §9 "Ambient context" — an
// explicit parameter, not async-local/global state). It is deliberately
// not a context.Context: blocking a workflow goroutine on a channel
// from outside the cached-or-interrupt protocol would defeat replay.
type Context interface {
	// Value returns a value previously attached with WithValue, or nil.
	Value(key interface{}) interface{}

	disableDeadlockDetection()
}

// valueCtx is the WithValue link in the context chain, mirroring the
// teacher's propagation style for workflow.Context.
type valueCtx struct {
	Context
	key, val interface{}
}

func (v *valueCtx) Value(key interface{}) interface{} {
	if v.key == key {
		return v.val
	}
	return v.Context.Value(key)
}

// WithValue returns a Context that carries key/val in addition to
// everything parent carries.
func WithValue(parent Context, key, val interface{}) Context {
	return &valueCtx{Context: parent, key: key, val: val}
}

// interruptionItem is one entry appended to the invocation's registry
// by the Cached-Or-Interrupt Protocol (spec §4.2) step 6. When more
// than one accumulates before the first throw escapes, the executor
// collates them into a single COLLATED envelope (spec §4.1 step 4).
type interruptionItem struct {
	Code      Code        `json:"code"`
	Index     int         `json:"index"`
	Dimension string      `json:"dimension"`
	Payload   interface{} `json:"payload"`
}

// InterruptionItem is the exported name for interruptionItem, so a
// Worker can type-assert Outcome.Data for a CodeCollated outcome
// (spec §4.1 step 4 "collation") without reaching into an unexported
// internal type.
type InterruptionItem = interruptionItem

// counter is the shared, per-dimensional-thread monotonic integer
// spec §3.2 describes: every primitive increments it before deriving
// its execution index, so the index is stable across replays provided
// the workflow function stays deterministic.
type counter struct {
	n int
}

func (c *counter) next() int {
	c.n++
	return c.n
}

// invocationContext is the concrete backing store for Context: one per
// executor invocation, discarded when the invocation returns or
// suspends (spec §3.2 "Lifetime").
type invocationContext struct {
	workflowID       string
	workflowTopic    string
	workflowName     string
	namespace        string
	originJobID      string
	parentWorkflowID string
	expire           time.Duration

	workflowDimension string

	counter *counter

	replay map[string][]byte
	cursor string

	registry *[]interruptionItem

	attempt    int
	maxAttempts int
	canRetry   bool

	dataConverter DataConverter
	store         store.Store
	pubsub        pubsub.PubSub
	logger        *zap.Logger

	raw *Envelope

	// sessionCounter hands out unique search-session GUID suffixes for
	// entity()/search() handles (spec §4.2.7).
	sessionCounter *counter

	// rndSeed is not read: Random derives each seed itself from a
	// stateless hash of (jobId, dimension, counter) (spec §4.2.9).
	rndSeed string
}

func (c *invocationContext) Value(key interface{}) interface{} {
	if key == invocationContextKey {
		return c
	}
	return nil
}

func (c *invocationContext) disableDeadlockDetection() {}

type invocationContextKeyType struct{}

var invocationContextKey = invocationContextKeyType{}

// getInvocationContext unwraps the invocationContext backing ctx. It
// panics if ctx was not created by newInvocationContext — a workflow
// primitive invoked outside an executor invocation is a programming
// error, not a recoverable one.
func getInvocationContext(ctx Context) *invocationContext {
	ic, ok := ctx.Value(invocationContextKey).(*invocationContext)
	if !ok {
		panic("durable: primitive called outside a workflow invocation context")
	}
	return ic
}

// newRootContext builds the root Context for one executor invocation
// (spec §4.1 step 2 "Establish context").
func newRootContext(ic *invocationContext) Context {
	return ic
}

// nextIndex increments the shared counter and returns the new index —
// step 2 of the Cached-Or-Interrupt Protocol (spec §4.2).
func (ic *invocationContext) nextIndex() int {
	return ic.counter.next()
}

// replayValue looks up a replay slot, reporting whether it was present
// (spec §4.2 step 4 / invariant 3 "Cache precedence").
func (ic *invocationContext) replayValue(slot string) ([]byte, bool) {
	v, ok := ic.replay[slot]
	return v, ok
}

// pushInterruption appends an interruption descriptor to the registry
// (protocol step 6) and returns its position for diagnostics.
func (ic *invocationContext) pushInterruption(item interruptionItem) int {
	*ic.registry = append(*ic.registry, item)
	return len(*ic.registry)
}

// registryLen reports the current interruption registry length, used
// by the executor to decide whether to collate (spec invariant 4).
func (ic *invocationContext) registryLen() int {
	return len(*ic.registry)
}

// nextSessionGUID derives a new search-session GUID for entity()/
// search() handles (spec §4.2.7), rooted at the invocation's dimension
// so concurrent hook threads never collide.
func (ic *invocationContext) nextSessionGUID() string {
	n := ic.sessionCounter.next()
	return ic.workflowDimension + ":" + strconv.Itoa(n)
}
