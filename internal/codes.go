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

// Code is the wire discriminator the executor returns to the scheduler.
// These values are part of the wire protocol (spec §6.2) and MUST stay
// bit-exact across releases.
type Code int

const (
	// CodeSuccess marks a completed invocation.
	CodeSuccess Code = 200
	// CodeSleep requests the scheduler start a durable timer.
	CodeSleep Code = 588
	// CodeCollated bundles two or more interruption items from one invocation.
	CodeCollated Code = 589
	// CodeChild requests a child workflow spawn.
	CodeChild Code = 590
	// CodeProxy requests an activity dispatch.
	CodeProxy Code = 591
	// CodeWait requests a signal await.
	CodeWait Code = 595
	// CodeTimeout is a terminal timeout failure.
	CodeTimeout Code = 596
	// CodeMaxed is a terminal retry-exhausted failure.
	CodeMaxed Code = 597
	// CodeFatal is a terminal unrecoverable failure.
	CodeFatal Code = 598
	// CodeRetry is a non-terminal failure eligible for backoff retry.
	CodeRetry Code = 599
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "SUCCESS"
	case CodeSleep:
		return "SLEEP"
	case CodeCollated:
		return "COLLATED"
	case CodeChild:
		return "CHILD"
	case CodeProxy:
		return "PROXY"
	case CodeWait:
		return "WAIT"
	case CodeTimeout:
		return "TIMEOUT"
	case CodeMaxed:
		return "MAXED"
	case CodeFatal:
		return "FATAL"
	case CodeRetry:
		return "RETRY"
	default:
		return "UNKNOWN"
	}
}

// op identifies which durable primitive produced a replay slot. The
// single letter/word is embedded verbatim in the slot name (spec §3.1)
// so it must never change once shipped.
type op string

const (
	opProxy   op = "proxy"
	opChild   op = "child"
	opStart   op = "start"
	opSleep   op = "sleep"
	opWait    op = "wait"
	opHook    op = "hook"
	opEntity  op = "entity"
	opSearch  op = "search"
	opTrace   op = "trace"
	opEmit    op = "emit"
	opPublish op = "publish"
	opSignal  op = "signal"
	opRandom  op = "random"
)

// Op is the exported name for op, and OpProxy/OpSleep/OpChild/OpWait
// are exported aliases of the corresponding op constants, so a Worker
// can name the replay slot it is committing (spec §3.1 Invariant 2)
// without reaching into this package's unexported op type.
type Op = op

const (
	OpProxy Op = opProxy
	OpChild Op = opChild
	OpSleep Op = opSleep
	OpWait  Op = opWait
	OpHook  Op = opHook
)

// Publish topic suffixes, spec §6.2.
const (
	topicSignalSuffix     = ".wfs.signal"
	topicFlowSignalSuffix = ".flow.signal"
	topicExecuteSuffix    = ".execute"
)
