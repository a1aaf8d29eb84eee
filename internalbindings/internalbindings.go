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

// Package internalbindings contains low level APIs for hosts that drive
// the executor directly off the wire protocol (spec §6.2) instead of
// going through package worker's poll loop — e.g. a bridge process
// written in another language that only exchanges envelopes/outcomes
// over the store+pubsub substrate.
//
// ATTENTION!
// The APIs found in this package should never be referenced from normal
// application code. There is no compatibility guarantee between releases.
package internalbindings

import "github.com/hotmeshio/durable-go/internal"

type (
	// Envelope is the scheduler-to-executor invocation input (spec §6.2).
	Envelope = internal.Envelope
	// Outcome is the result of one executor invocation (spec §4.1).
	Outcome = internal.Outcome
	// Code is the wire discriminator carried on Outcome.Code (spec §6.2).
	Code = internal.Code
	// Op names which durable primitive produced a replay slot (spec §3.1).
	Op = internal.Op
	// InterruptionItem is one entry of a Collated outcome's registry
	// (spec §4.1 step 4 "collation").
	InterruptionItem = internal.InterruptionItem
	// ProxyPayload is the PROXY envelope body (spec §4.2.1).
	ProxyPayload = internal.ProxyPayload
	// SleepPayload is the SLEEP envelope body (spec §4.2.2).
	SleepPayload = internal.SleepPayload
	// WaitPayload is the WAIT envelope body (spec §4.2.3).
	WaitPayload = internal.WaitPayload
	// ChildPayload is the CHILD envelope body (spec §4.2.5).
	ChildPayload = internal.ChildPayload
	// HookPayload is the hook()/execHook() dispatch body (spec §4.2.6).
	HookPayload = internal.HookPayload
	// RetryPolicy bounds an activity or child workflow's retry ladder.
	RetryPolicy = internal.RetryPolicy
	// ActivityTask is the message published to an activity pool's task
	// queue when an activity interrupt fires.
	ActivityTask = internal.ActivityTask
	// ChildTask is the message published when a child-workflow interrupt
	// fires.
	ChildTask = internal.ChildTask
	// Registry holds registered workflow/activity functions (spec §6.4).
	Registry = internal.Registry
	// Interceptors holds registered workflow/activity interceptors
	// (spec §4.3).
	Interceptors = internal.Interceptors
)

// Wire codes (spec §6.2), re-exported bit-exact.
const (
	CodeSuccess  = internal.CodeSuccess
	CodeSleep    = internal.CodeSleep
	CodeCollated = internal.CodeCollated
	CodeChild    = internal.CodeChild
	CodeProxy    = internal.CodeProxy
	CodeWait     = internal.CodeWait
	CodeTimeout  = internal.CodeTimeout
	CodeMaxed    = internal.CodeMaxed
	CodeFatal    = internal.CodeFatal
	CodeRetry    = internal.CodeRetry

	OpProxy = internal.OpProxy
	OpChild = internal.OpChild
	OpSleep = internal.OpSleep
	OpWait  = internal.OpWait
	OpHook  = internal.OpHook
)

// NewExecutor exposes internal.NewExecutor so a host that drives the
// wire protocol directly can build an executor without a second copy of
// the constructor logic.
var NewExecutor = internal.NewExecutor

// NewRegistry and NewInterceptors expose the Registry/Interceptors
// constructors for the same reason.
var (
	NewRegistry     = internal.NewRegistry
	NewInterceptors = internal.NewInterceptors
)

// CommitReplaySlot, CommitTerminal, MarkInterrupted and NextEnvelope
// expose the scheduler-side commit helpers (internal/scheduler.go) so a
// host implementing its own poller loop, rather than using package
// worker, still commits outcomes using this engine's exact slot-naming
// and status-semaphore conventions (spec §3.1 Invariant 2).
var (
	CommitReplaySlot = internal.CommitReplaySlot
	CommitTerminal   = internal.CommitTerminal
	MarkInterrupted  = internal.MarkInterrupted
	NextEnvelope     = internal.NextEnvelope
	SlotRecordFailed = internal.SlotRecordFailed
)
