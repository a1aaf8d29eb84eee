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

// Package worker hosts the two pool types spec §6.4 exposes: an
// activity-pool worker that executes proxied activities off a task
// queue topic, and a workflow-pool worker that re-enters durable
// workflow functions off the namespace's execute topic. Since this
// engine has no separate scheduler process, the worker also plays the
// scheduler role spec §2 assigns externally: it interprets the
// Outcome an Executor.Invoke call returns, commits the one replay slot
// the completed primitive earned, and republishes the execute envelope
// for re-entry (spec §3.1 Invariant 2).
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/hotmeshio/durable-go/internal"
	"github.com/hotmeshio/durable-go/internal/common/backoff"
	"github.com/hotmeshio/durable-go/internal/config"
	"github.com/hotmeshio/durable-go/pubsub"
	"github.com/hotmeshio/durable-go/store"
)

// Worker represents an object that can be started and stopped, the
// shape both ActivityWorker and WorkflowWorker satisfy.
type Worker interface {
	Start() error
	Run() error
	Stop()
}

// Options configures a workflow-pool worker (spec §6.4
// "createWorker({connection, taskQueue, workflow, options})").
type Options struct {
	// Concurrency is not read by CreateWorker: every execute message
	// is handled on its own goroutine, with no bound.
	Concurrency int
	// RetryPolicy is not read by CreateWorker: scheduleRetry takes its
	// backoff from the Connection's Config and its attempt bound from
	// the envelope.
	RetryPolicy internal.RetryPolicy
}

// Connection bundles the store/pubsub/config a Worker and Client need,
// plus the process-global registry and interceptor chain builders
// spec §5 requires stay "immutable during workflow execution" once a
// worker starts (spec §6.4 "registerInterceptor/registerActivityInterceptor").
type Connection struct {
	Store        store.Store
	PubSub       pubsub.PubSub
	Config       config.Engine
	Logger       *zap.Logger
	Registry     *internal.Registry
	Interceptors *internal.Interceptors
}

// NewConnection builds a Connection with a fresh registry and
// interceptor chain.
func NewConnection(st store.Store, ps pubsub.PubSub, cfg config.Engine, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{
		Store:        st,
		PubSub:       ps,
		Config:       cfg,
		Logger:       logger,
		Registry:     internal.NewRegistry(),
		Interceptors: internal.NewInterceptors(),
	}
}

// RegisterInterceptor appends a workflow interceptor shared by every
// worker built on this Connection (spec §6.4 "registerInterceptor").
func RegisterInterceptor(conn *Connection, i internal.WorkflowInterceptor) {
	conn.Interceptors.RegisterWorkflowInterceptor(i)
}

// RegisterActivityInterceptor appends an activity interceptor shared
// by every worker built on this Connection (spec §6.4
// "registerActivityInterceptor").
func RegisterActivityInterceptor(conn *Connection, i internal.ActivityInterceptor) {
	conn.Interceptors.RegisterActivityInterceptor(i)
}

// ClearInterceptors drops every registered interceptor (spec §6.4
// "clearInterceptors").
func ClearInterceptors(conn *Connection) {
	conn.Interceptors.Clear()
}

// ActivityWorker runs registered activities dequeued off one task
// queue topic (spec §6.4 "registerActivityWorker").
type ActivityWorker struct {
	conn      *Connection
	taskQueue string
	executor  *internal.Executor
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RegisterActivityWorker registers activities (keyed by name) and
// returns a worker that will execute them off taskQueue (spec §6.4
// "registerActivityWorker(connection, taskQueue, activities)").
func RegisterActivityWorker(conn *Connection, taskQueue string, activities map[string]interface{}) (*ActivityWorker, error) {
	if taskQueue == "" {
		return nil, fmt.Errorf("durable: activity worker requires a task queue")
	}
	for name, fn := range activities {
		conn.Registry.RegisterActivity(fn, name)
	}
	return &ActivityWorker{
		conn:      conn,
		taskQueue: taskQueue,
		executor:  internal.NewExecutor(conn.Store, conn.PubSub, conn.Registry, conn.Interceptors, conn.Config, conn.Logger),
	}, nil
}

// Start begins polling the activity worker's task queue in the
// background and returns immediately.
func (w *ActivityWorker) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	sub, err := w.conn.PubSub.Subscribe(ctx, w.taskQueue)
	if err != nil {
		cancel()
		return err
	}
	w.wg.Add(1)
	go w.poll(ctx, sub)
	return nil
}

// Run starts the worker and blocks until Stop is called.
func (w *ActivityWorker) Run() error {
	if err := w.Start(); err != nil {
		return err
	}
	w.wg.Wait()
	return nil
}

// Stop cancels the subscription and waits for the poll loop to exit.
func (w *ActivityWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *ActivityWorker) poll(ctx context.Context, sub pubsub.Subscription) {
	defer w.wg.Done()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			go w.handle(ctx, msg)
		}
	}
}

func (w *ActivityWorker) handle(ctx context.Context, msg pubsub.Message) {
	var task internal.ActivityTask
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		w.conn.Logger.Error("durable: decode activity task", zap.Error(err))
		return
	}

	policy := backoff.Policy{
		MaximumAttempts:    task.Payload.RetryPolicy.MaximumAttempts,
		BackoffCoefficient: task.Payload.RetryPolicy.BackoffCoefficient,
		MaximumInterval:    task.Payload.RetryPolicy.MaximumInterval,
	}
	var record []byte
	_ = backoff.Retry(ctx, clock.New(), func() error {
		record = w.executor.RunActivity(task)
		if internal.SlotRecordFailed(record) {
			return fmt.Errorf("durable: activity %q failed", task.Payload.ActivityName)
		}
		return nil
	}, policy, nil)

	reentry := reentryMessage{Envelope: task.Reentry, Op: opTagProxy, Dimension: task.Dimension, Index: task.Index, Record: record}
	body, err := json.Marshal(reentry)
	if err != nil {
		w.conn.Logger.Error("durable: encode reentry", zap.Error(err))
		return
	}
	if err := w.conn.PubSub.Publish(ctx, reentryTopic(task.Reentry.Namespace), body); err != nil {
		w.conn.Logger.Error("durable: publish reentry", zap.Error(err))
	}
}

// WorkflowWorker re-enters durable workflow functions off the
// namespace's execute topic and its own reentry topic (spec §6.4
// "createWorker").
type WorkflowWorker struct {
	conn      *Connection
	taskQueue string
	namespace string
	executor  *internal.Executor
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// CreateWorker registers workflow (by its function name, unless
// overridden through conn.Registry beforehand) and returns a worker
// bound to taskQueue (spec §6.4 "createWorker({connection, taskQueue,
// workflow, options})").
func CreateWorker(conn *Connection, taskQueue string, workflow interface{}, options Options) (*WorkflowWorker, error) {
	if taskQueue == "" {
		return nil, fmt.Errorf("durable: workflow worker requires a task queue")
	}
	conn.Registry.RegisterWorkflow(workflow, "")
	return &WorkflowWorker{
		conn:      conn,
		taskQueue: taskQueue,
		namespace: conn.Config.Namespace,
		executor:  internal.NewExecutor(conn.Store, conn.PubSub, conn.Registry, conn.Interceptors, conn.Config, conn.Logger),
	}, nil
}

// RegisterWorkflow adds another workflow function to this worker's
// shared registry before Start is called.
func (w *WorkflowWorker) RegisterWorkflow(fn interface{}, name string) {
	w.conn.Registry.RegisterWorkflow(fn, name)
}

// Start subscribes to the execute and reentry topics and begins
// processing in the background.
func (w *WorkflowWorker) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	executeSub, err := w.conn.PubSub.Subscribe(ctx, w.namespace+executeSuffix)
	if err != nil {
		cancel()
		return err
	}
	reentrySub, err := w.conn.PubSub.Subscribe(ctx, reentryTopic(w.namespace))
	if err != nil {
		executeSub.Close()
		cancel()
		return err
	}
	signalSub, err := w.conn.PubSub.Subscribe(ctx, w.namespace+signalSuffix)
	if err != nil {
		executeSub.Close()
		reentrySub.Close()
		cancel()
		return err
	}

	w.wg.Add(3)
	go w.pollExecute(ctx, executeSub)
	go w.pollReentry(ctx, reentrySub)
	go w.pollSignals(ctx, signalSub)
	return nil
}

// Run starts the worker and blocks until Stop is called.
func (w *WorkflowWorker) Run() error {
	if err := w.Start(); err != nil {
		return err
	}
	w.wg.Wait()
	return nil
}

// Stop cancels every subscription and waits for the poll loops to exit.
func (w *WorkflowWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *WorkflowWorker) pollExecute(ctx context.Context, sub pubsub.Subscription) {
	defer w.wg.Done()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			go w.invoke(ctx, msg.Payload)
		}
	}
}

func (w *WorkflowWorker) invoke(ctx context.Context, envelopeJSON []byte) {
	var env internal.Envelope
	if err := json.Unmarshal(envelopeJSON, &env); err != nil {
		w.conn.Logger.Error("durable: decode execute envelope", zap.Error(err))
		return
	}
	out, err := w.executor.Invoke(ctx, &env)
	if err != nil {
		w.conn.Logger.Error("durable: invoke workflow", zap.Error(err), zap.String("workflowId", env.WorkflowID))
		return
	}
	w.commit(ctx, &env, out)
}

// commit implements spec §3.1's invariant that a successful primitive
// writes its replay slot "on re-entry, not by the worker itself" at
// the primitive call site: the slot is written here, right before the
// follow-up dispatch or republish, never inside the workflow function.
func (w *WorkflowWorker) commit(ctx context.Context, env *internal.Envelope, out *internal.Outcome) {
	switch out.Code {
	case internal.CodeSuccess:
		if err := internal.CommitTerminal(ctx, w.conn.Store, env.WorkflowID, out, time.Now()); err != nil {
			w.conn.Logger.Error("durable: commit terminal", zap.Error(err))
		}
	case internal.CodeFatal, internal.CodeMaxed, internal.CodeTimeout:
		if err := internal.CommitTerminal(ctx, w.conn.Store, env.WorkflowID, out, time.Now()); err != nil {
			w.conn.Logger.Error("durable: commit terminal", zap.Error(err))
		}
	case internal.CodeRetry:
		w.scheduleRetry(ctx, env, out)
	case internal.CodeSleep:
		w.dispatchSleep(ctx, env, out)
	case internal.CodeWait:
		// Nothing is done here, and pollSignals does not match delivered
		// signals to pending waits, so this worker never commits a WAIT
		// slot.
	case internal.CodeProxy:
		w.dispatchProxy(ctx, env, out)
	case internal.CodeChild:
		w.dispatchChild(ctx, env, out)
	case internal.CodeCollated:
		items, _ := out.Data.([]internal.InterruptionItem)
		for _, item := range items {
			w.commit(ctx, env, &internal.Outcome{Code: item.Code, Data: item.Payload, Dimension: item.Dimension, Index: item.Index})
		}
	}
}

func (w *WorkflowWorker) scheduleRetry(ctx context.Context, env *internal.Envelope, out *internal.Outcome) {
	policy := backoff.Policy{
		MaximumAttempts:    env.MaxAttempts,
		BackoffCoefficient: w.conn.Config.DefaultBackoffCoefficient,
		MaximumInterval:    w.conn.Config.DefaultMaximumInterval,
	}
	delay := backoff.Delay(env.Attempt+1, policy)
	next := internal.NextEnvelope(env, true)
	time.AfterFunc(delay, func() {
		w.republish(context.Background(), next)
	})
}

func (w *WorkflowWorker) dispatchSleep(ctx context.Context, env *internal.Envelope, out *internal.Outcome) {
	payload, _ := out.Data.(internal.SleepPayload)
	dimension, index := out.Dimension, out.Index
	time.AfterFunc(payload.Duration, func() {
		bg := context.Background()
		seconds := []byte(strconv.FormatFloat(payload.Duration.Seconds(), 'f', -1, 64))
		if err := internal.CommitReplaySlot(bg, w.conn.Store, env.WorkflowID, internal.OpSleep, dimension, index, seconds); err != nil {
			w.conn.Logger.Error("durable: commit sleep slot", zap.Error(err))
			return
		}
		w.republish(bg, env)
	})
}

func (w *WorkflowWorker) dispatchProxy(ctx context.Context, env *internal.Envelope, out *internal.Outcome) {
	payload, _ := out.Data.(internal.ProxyPayload)
	task := internal.ActivityTask{Reentry: *env, Dimension: out.Dimension, Index: out.Index, Payload: payload}
	body, err := json.Marshal(task)
	if err != nil {
		w.conn.Logger.Error("durable: encode activity task", zap.Error(err))
		return
	}
	if err := w.conn.PubSub.Publish(ctx, payload.TaskQueue, body); err != nil {
		w.conn.Logger.Error("durable: publish activity task", zap.Error(err))
	}
}

func (w *WorkflowWorker) dispatchChild(ctx context.Context, env *internal.Envelope, out *internal.Outcome) {
	payload, _ := out.Data.(internal.ChildPayload)
	dimension, index := out.Dimension, out.Index

	// CreateJob fails if the child already exists, which is expected on
	// a redispatched CHILD interrupt (e.g. a retried parent re-entry);
	// the error is logged at debug level rather than treated as fatal.
	if err := w.conn.Store.CreateJob(ctx, payload.WorkflowID, map[string][]byte{}); err != nil {
		w.conn.Logger.Debug("durable: create child job", zap.Error(err))
	}
	childEnv := internal.Envelope{
		WorkflowID:    payload.WorkflowID,
		WorkflowTopic: payload.WorkflowTopic,
		WorkflowName:  payload.WorkflowName,
		Namespace:     env.Namespace,
		Arguments:     payload.Args,
		OriginJobID:   env.OriginJobID,
		ParentWorkflowID: payload.ParentID,
		Expire:        payload.Expire,
		MaxAttempts:   payload.RetryPolicy.MaximumAttempts,
		SignalIn:      payload.SignalIn,
	}
	body, err := json.Marshal(childEnv)
	if err != nil {
		w.conn.Logger.Error("durable: encode child envelope", zap.Error(err))
		return
	}
	if err := w.conn.PubSub.Publish(ctx, env.Namespace+executeSuffix, body); err != nil {
		w.conn.Logger.Error("durable: publish child execute", zap.Error(err))
		return
	}
	if !payload.Await {
		if err := internal.CommitReplaySlot(ctx, w.conn.Store, env.WorkflowID, internal.OpChild, dimension, index, []byte("1")); err != nil {
			w.conn.Logger.Error("durable: commit child slot", zap.Error(err))
			return
		}
		w.republish(ctx, env)
	}
	// If Await, no slot is committed here, and nothing in this worker
	// commits the parent's CHILD slot when the child completes.
}

func (w *WorkflowWorker) pollReentry(ctx context.Context, sub pubsub.Subscription) {
	defer w.wg.Done()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			go w.handleReentry(ctx, msg.Payload)
		}
	}
}

func (w *WorkflowWorker) handleReentry(ctx context.Context, body []byte) {
	var reentry reentryMessage
	if err := json.Unmarshal(body, &reentry); err != nil {
		w.conn.Logger.Error("durable: decode reentry", zap.Error(err))
		return
	}
	if err := internal.CommitReplaySlot(ctx, w.conn.Store, reentry.Envelope.WorkflowID, reentry.Op.op(), reentry.Dimension, reentry.Index, reentry.Record); err != nil {
		w.conn.Logger.Error("durable: commit reentry slot", zap.Error(err))
		return
	}
	w.republish(ctx, &reentry.Envelope)
}

func (w *WorkflowWorker) pollSignals(ctx context.Context, sub pubsub.Subscription) {
	defer w.wg.Done()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.Messages():
			if !ok {
				return
			}
			// The message is discarded: no signal is matched to a
			// pending WaitFor and no replay slot is written. The loop
			// only keeps this subscription drained.
		}
	}
}

func (w *WorkflowWorker) republish(ctx context.Context, env *internal.Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		w.conn.Logger.Error("durable: encode execute envelope", zap.Error(err))
		return
	}
	if err := w.conn.PubSub.Publish(ctx, env.Namespace+executeSuffix, body); err != nil {
		w.conn.Logger.Error("durable: republish execute envelope", zap.Error(err))
	}
}

const (
	executeSuffix = ".execute"
	signalSuffix  = ".wfs.signal"
)

func reentryTopic(namespace string) string { return namespace + ".reentry" }

// reentryMessage is the wire shape an activity (or future child)
// completion publishes back to a WorkflowWorker's reentry topic.
type reentryMessage struct {
	Envelope  internal.Envelope `json:"envelope"`
	Op        opTag             `json:"op"`
	Dimension string            `json:"dimension"`
	Index     int               `json:"index"`
	Record    []byte            `json:"record"`
}

type opTag string

const opTagProxy opTag = "proxy"

func (t opTag) op() internal.Op {
	switch t {
	case opTagProxy:
		return internal.OpProxy
	default:
		return internal.OpProxy
	}
}
