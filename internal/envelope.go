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

import "time"

// Envelope is the scheduler-to-executor invocation input (spec §6.2):
// one message dequeued off a workflow topic, naming the job to re-enter
// and carrying everything the executor needs to rebuild its context.
type Envelope struct {
	WorkflowID        string        `json:"workflowId"`
	WorkflowTopic     string        `json:"workflowTopic"`
	WorkflowName      string        `json:"workflowName"`
	Namespace         string        `json:"namespace"`
	Arguments         []byte        `json:"arguments"`
	OriginJobID       string        `json:"originJobId"`
	ParentWorkflowID  string        `json:"parentWorkflowId"`
	WorkflowDimension string        `json:"workflowDimension"`
	Expire            time.Duration `json:"expire"`
	Attempt           int           `json:"attempt"`
	MaxAttempts       int           `json:"maxAttempts"`
	Persistent        bool          `json:"persistent"`
	SignalIn          string        `json:"signalIn,omitempty"`
}

// RetryPolicy bounds an activity or child workflow's retry ladder
// (spec §4.2.1, §7). BackoffCoefficient/MaximumInterval feed the
// scheduler-side exponential backoff formula (spec §4.1 "Failure
// semantics"): delay = min(backoffCoefficient^attempt, maximumInterval).
type RetryPolicy struct {
	MaximumAttempts     int           `json:"maximumAttempts"`
	BackoffCoefficient  float64       `json:"backoffCoefficient"`
	MaximumInterval     time.Duration `json:"maximumInterval"`
	ThrowOnError        bool          `json:"throwOnError"`
}

// ProxyPayload is the PROXY envelope body (spec §4.2.1).
type ProxyPayload struct {
	ActivityName string      `json:"activityName"`
	TaskQueue    string      `json:"taskQueue"`
	Args         []byte      `json:"args"`
	RetryPolicy  RetryPolicy `json:"retryPolicy"`
	Expire       time.Duration `json:"expire"`
}

// SleepPayload is the SLEEP envelope body (spec §4.2.2).
type SleepPayload struct {
	Duration time.Duration `json:"duration"`
}

// WaitPayload is the WAIT envelope body (spec §4.2.3).
type WaitPayload struct {
	SignalID string `json:"signalId"`
}

// ChildPayload is the CHILD envelope body (spec §4.2.5).
type ChildPayload struct {
	WorkflowID    string        `json:"workflowId"`
	WorkflowName  string        `json:"workflowName"`
	WorkflowTopic string        `json:"workflowTopic"`
	TaskQueue     string        `json:"taskQueue"`
	Args          []byte        `json:"args"`
	RetryPolicy   RetryPolicy   `json:"retryPolicy"`
	Expire        time.Duration `json:"expire"`
	Await         bool          `json:"await"`
	SignalIn      string        `json:"signalIn,omitempty"`
	ParentID      string        `json:"parentId"`
}

// HookPayload is the payload behind a hook()/execHook() dispatch
// (spec §4.2.6). It shares the CHILD wire shape but targets a new
// dimensional thread on a workflow, not a new job.
type HookPayload struct {
	WorkflowID   string `json:"workflowId"`
	WorkflowName string `json:"workflowName"`
	TaskQueue    string `json:"taskQueue,omitempty"`
	Entity       string `json:"entity,omitempty"`
	Args         []byte `json:"args"`
	SignalID     string `json:"signalId,omitempty"`
}

// Outcome is the result of one executor invocation (spec §4.1 "Public
// contract"): exactly one of Completed, Interrupted, or Errored.
type Outcome struct {
	Code      Code        `json:"code"`
	Response  []byte      `json:"response,omitempty"`
	Done      bool        `json:"done,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     *Failure    `json:"error,omitempty"`
	Dimension string      `json:"dimension,omitempty"`
	Index     int         `json:"index,omitempty"`
}
