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
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hotmeshio/durable-go/pubsub"
	"github.com/hotmeshio/durable-go/store"
)

// StartOptions is the argument to Client.Start (spec §6.5 "start(options)").
type StartOptions struct {
	Args          []interface{}
	TaskQueue     string
	WorkflowName  string
	WorkflowID    string
	Namespace     string
	Expire        time.Duration
	Search        map[string]interface{}
	Marker        string
	Pending       bool
	SignalIn      string
	Persistent    bool
	RetryPolicy   *RetryPolicy
	DataConverter DataConverter
}

// HookOptionsExternal is the scheduler-side equivalent of the
// worker-side Hook primitive (spec §6.5 "hook(options) — scheduler-side
// equivalent of the worker-side hook primitive"). It attaches a new
// dimensional thread to an already-running job without going through a
// workflow call site.
type HookOptionsExternal struct {
	WorkflowID   string
	WorkflowName string
	TaskQueue    string
	Entity       string
	Args         []interface{}
}

// ResultOptions controls Handle.Result (spec §6.5 "result({state,
// throwOnError})").
type ResultOptions struct {
	// State, if non-empty, selects which search field to read back
	// alongside the job's response (e.g. a running aggregate).
	State string
	// ThrowOnError, when true, rethrows the job's $error as a typed
	// error (spec §7 "Propagation policy"). When false, which is the
	// zero value, Result returns the error as the decoded value instead.
	ThrowOnError bool
}

// ExportOptions controls Handle.Export: which job-record fields to
// project out, beyond status/response/$error.
type ExportOptions struct {
	Fields []string
}

// InterruptOptions controls Handle.Interrupt (spec §4.1 "Failure
// semantics": external cancellation is itself an interrupt delivered
// through the same envelope wire protocol as a control signal).
type InterruptOptions struct {
	// Descend, if true, cascades the interrupt to child workflows
	// spawned via execChild (mirrors InterruptError.Descend).
	Descend bool
}

// Client is the durable-go client surface (spec §6.5): starting jobs,
// signaling them, attaching hooks, and obtaining handles to query or
// cancel a running or finished job. One Client is bound to one store +
// pubsub pair, same as a Worker's Executor.
type Client struct {
	store         store.Store
	pubsub        pubsub.PubSub
	dataConverter DataConverter
	logger        *zap.Logger
	namespace     string
}

// NewClient builds a Client bound to st/ps. namespace is the default
// used when a call omits its own.
func NewClient(st store.Store, ps pubsub.PubSub, namespace string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		store:         st,
		pubsub:        ps,
		dataConverter: getDefaultDataConverter(),
		logger:        logger,
		namespace:     namespace,
	}
}

func (c *Client) ns(override string) string {
	if override != "" {
		return override
	}
	return c.namespace
}

func (c *Client) dc(override DataConverter) DataConverter {
	if override != nil {
		return override
	}
	return c.dataConverter
}

// Start creates a job record and publishes its initial execute
// envelope, returning a Handle to it (spec §6.5 "start(options) →
// handle"). If options.Pending is true, the record is created but no
// envelope is published — the caller (or a later Signal/Hook) is
// expected to kick off the first invocation.
func (c *Client) Start(ctx context.Context, options StartOptions) (*Handle, error) {
	dc := c.dc(options.DataConverter)
	namespace := c.ns(options.Namespace)

	args, err := dc.ToData(options.Args...)
	if err != nil {
		return nil, fmt.Errorf("durable: encode start args: %w", err)
	}

	fields := map[string][]byte{
		fieldStatus: mustEncodeValue(dc, StatusRunning),
	}
	for k, v := range options.Search {
		data, encErr := dc.ToData(v)
		if encErr != nil {
			return nil, fmt.Errorf("durable: encode search field %q: %w", k, encErr)
		}
		fields[searchFieldName(k)] = data
	}
	if options.Marker != "" {
		fields[contextMarkerName(options.Marker)] = []byte("1")
	}

	if err := c.store.CreateJob(ctx, options.WorkflowID, fields); err != nil {
		return nil, err
	}

	handle := &Handle{
		client:       c,
		workflowID:   options.WorkflowID,
		workflowName: options.WorkflowName,
		taskQueue:    options.TaskQueue,
		namespace:    namespace,
	}

	if options.Pending {
		return handle, nil
	}

	envelope := Envelope{
		WorkflowID:        options.WorkflowID,
		WorkflowTopic:     options.TaskQueue,
		WorkflowName:      options.WorkflowName,
		Namespace:         namespace,
		Arguments:         args,
		WorkflowDimension: "",
		Expire:            options.Expire,
		Attempt:           0,
		Persistent:        options.Persistent,
		SignalIn:          options.SignalIn,
	}
	if options.RetryPolicy != nil {
		envelope.MaxAttempts = options.RetryPolicy.MaximumAttempts
	}
	if err := c.publishExecute(ctx, namespace, &envelope); err != nil {
		return nil, err
	}
	return handle, nil
}

func (c *Client) publishExecute(ctx context.Context, namespace string, envelope *Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("durable: encode execute envelope: %w", err)
	}
	return c.pubsub.Publish(ctx, namespace+topicExecuteSuffix, data)
}

// Signal delivers data to signalId on the given namespace (falling
// back to the client's default), matching the wire shape WaitFor
// expects to find cached at its replay slot (spec §6.5
// "signal(signalId, data, namespace?)").
func (c *Client) Signal(ctx context.Context, signalID string, data interface{}, namespace string) error {
	encoded, err := c.dataConverter.ToData(data)
	if err != nil {
		return fmt.Errorf("durable: encode signal %q: %w", signalID, err)
	}
	payload := struct {
		SignalID string `json:"signalId"`
		Data     []byte `json:"data"`
	}{SignalID: signalID, Data: encoded}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.pubsub.Publish(ctx, c.ns(namespace)+topicSignalSuffix, body)
}

// Hook attaches a new dimensional thread to a running job from outside
// a workflow call site (spec §6.5 "hook(options) — scheduler-side
// equivalent of the worker-side hook primitive"), mirroring the wire
// shape the worker-side Hook primitive publishes (spec §4.2.6).
func (c *Client) Hook(ctx context.Context, options HookOptionsExternal) error {
	args, err := c.dataConverter.ToData(options.Args...)
	if err != nil {
		return fmt.Errorf("durable: encode hook args: %w", err)
	}
	payload := HookPayload{
		WorkflowID:   options.WorkflowID,
		WorkflowName: options.WorkflowName,
		TaskQueue:    options.TaskQueue,
		Entity:       options.Entity,
		Args:         args,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.pubsub.Publish(ctx, c.ns("")+topicFlowSignalSuffix, body)
}

// GetHandle returns a Handle bound to an existing job record without
// starting anything new (spec §6.5 "getHandle(taskQueue, workflowName,
// workflowId, namespace?) → handle").
func (c *Client) GetHandle(taskQueue, workflowName, workflowID, namespace string) *Handle {
	return &Handle{
		client:       c,
		workflowID:   workflowID,
		workflowName: workflowName,
		taskQueue:    taskQueue,
		namespace:    c.ns(namespace),
	}
}

// Handle refers to one job record, started or not (spec §6.5 "Handle").
type Handle struct {
	client       *Client
	workflowID   string
	workflowName string
	taskQueue    string
	namespace    string
}

// GetID returns the job record's workflow ID.
func (h *Handle) GetID() string { return h.workflowID }

// Result reads the job's current terminal state and returns the
// decoded response, or rethrows its $error unless options.ThrowOnError
// is false (spec §6.5 "result({state, throwOnError})", §7 "User-visible
// failure behavior"). There is no separate polling loop — the store is
// the source of truth, not an event history, so a finished job's
// result is always available on the next read.
func (h *Handle) Result(ctx context.Context, options ResultOptions, valuePtr interface{}) error {
	names := []string{fieldStatus, fieldResponse, fieldError}
	if options.State != "" {
		names = append(names, searchFieldName(options.State))
	}
	fields, err := h.client.store.GetFields(ctx, h.workflowID, names)
	if err != nil {
		return err
	}

	status, err := decodeStatus(h.client.dataConverter, fields[fieldStatus])
	if err != nil {
		return err
	}
	if status == StatusInterrupted {
		return NewInterruptError(h.workflowID, false)
	}
	if status == StatusFailed {
		if errJSON, ok := fields[fieldError]; ok && len(errJSON) > 0 {
			failure, parseErr := UnmarshalFailureJSON(errJSON)
			if parseErr != nil {
				return parseErr
			}
			if options.ThrowOnError {
				return convertFailureToError(failure, h.client.dataConverter)
			}
			if valuePtr == nil {
				return nil
			}
			return json.Unmarshal(errJSON, valuePtr)
		}
	}
	if status != StatusComplete {
		return fmt.Errorf("durable: job %s has not completed (status %d)", h.workflowID, status)
	}
	if valuePtr == nil {
		return nil
	}
	response, ok := fields[fieldResponse]
	if !ok || len(response) == 0 {
		return nil
	}
	return h.client.dataConverter.FromData(response, valuePtr)
}

func decodeStatus(dc DataConverter, raw []byte) (int, error) {
	if len(raw) == 0 {
		return StatusRunning, nil
	}
	var status int
	if err := dc.FromData(raw, &status); err != nil {
		return 0, err
	}
	return status, nil
}

// State reads back one or more search fields by name (spec §6.5
// "state(metadata)").
func (h *Handle) State(ctx context.Context, keys ...string) (map[string][]byte, error) {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = searchFieldName(k)
	}
	raw, err := h.client.store.GetFields(ctx, h.workflowID, names)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for i, k := range keys {
		out[k] = raw[names[i]]
	}
	return out, nil
}

// QueryState reads back arbitrary fields by their raw, unprefixed
// field names (spec §6.5 "queryState(fields)"), for callers that need
// reserved fields (status, a replay slot) rather than search fields.
func (h *Handle) QueryState(ctx context.Context, fields ...string) (map[string][]byte, error) {
	return h.client.store.GetFields(ctx, h.workflowID, fields)
}

// Status returns the job's raw status semaphore (spec §6.5 "status()").
func (h *Handle) Status(ctx context.Context) (int, error) {
	raw, err := h.client.store.GetField(ctx, h.workflowID, fieldStatus)
	if err != nil {
		return 0, err
	}
	return decodeStatus(h.client.dataConverter, raw)
}

// Interrupt cancels the job externally (spec §6.5 "interrupt(options)",
// §7 taxonomy "INTERRUPT | External cancellation"). It marks the job
// record Interrupted directly rather than round-tripping through a
// control-signal envelope, since an interrupt is not itself a durable
// primitive call site. options is not read: Descend has no effect, and
// no child job is interrupted by this call.
func (h *Handle) Interrupt(ctx context.Context, options InterruptOptions) error {
	return MarkInterrupted(ctx, h.client.store, h.workflowID, time.Now())
}

// Export projects out the requested job-record fields verbatim (spec
// §6.5 "export(options)"), for callers building their own read model.
func (h *Handle) Export(ctx context.Context, options ExportOptions) (map[string][]byte, error) {
	fields := options.Fields
	if len(fields) == 0 {
		fields = []string{fieldStatus, fieldResponse, fieldError, fieldUpdatedAt}
	}
	return h.client.store.GetFields(ctx, h.workflowID, fields)
}

// Signal delivers data to signalId scoped to this handle's job and
// namespace (spec §6.5 "Handle: ... signal(signalId, data)").
func (h *Handle) Signal(ctx context.Context, signalID string, data interface{}) error {
	return h.client.Signal(ctx, signalID, data, h.namespace)
}
