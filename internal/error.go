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
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

/*
If an activity or child workflow fails, the durable primitive that
invoked it rebuilds a typed error from the cached $error on replay.
ExecChild, and ProxyActivity with RetryPolicy.ThrowOnError set, panic
with that error; the executor recovers the panic and classifies the
error by kind. ProxyActivity without ThrowOnError returns the cached
*Failure as its value instead. The error taxonomy (spec §7) maps each
kind onto exactly one wire code:

	ApplicationError / generic errors -> RETRY  (599), unless NonRetryable -> FATAL (598)
	*TimeoutError                      -> TIMEOUT (596)
	*MaxedError                        -> MAXED   (597)
	*FatalError                        -> FATAL   (598)
	*CanceledError, *TerminatedError    -> terminal, never retried
	*InterruptError                    -> external cancellation, reserved code
*/

type (
	// Failure is the JSON-serialized shape of $error stored on the job
	// record (spec §3.1). It is the wire analog of the teacher's
	// protobuf failurepb.Failure, expressed without a proto dependency
	// since this engine's job record is a plain JSON/JSONB document.
	Failure struct {
		Source     string   `json:"source"`
		Message    string   `json:"message"`
		StackTrace string   `json:"stackTrace,omitempty"`
		Kind       string   `json:"kind"`
		Details    []byte   `json:"details,omitempty"`
		Cause      *Failure `json:"cause,omitempty"`

		// Kind-specific fields, set only for the matching Kind.
		NonRetryable bool   `json:"nonRetryable,omitempty"`
		TimeoutType  string `json:"timeoutType,omitempty"`
		Attempts     int    `json:"attempts,omitempty"`
	}

	// ApplicationError is returned from activity implementations with a
	// message and optional details. The most common error kind.
	ApplicationError struct {
		engineError
		message      string
		originalType string
		nonRetryable bool
		cause        error
		details      Values
	}

	// TimeoutError returned when an activity or child workflow timed out.
	TimeoutError struct {
		engineError
		timeoutType          string
		lastHeartbeatDetails Values
		cause                error
	}

	// MaxedError returned when an activity/workflow retry ladder is exhausted.
	MaxedError struct {
		engineError
		attempts int
		cause    error
	}

	// FatalError returned for user-marked-unrecoverable errors or a
	// broken engine invariant (e.g. a replay-slot op mismatch).
	FatalError struct {
		engineError
		cause error
	}

	// CanceledError returned when an operation was canceled.
	CanceledError struct {
		engineError
		details Values
	}

	// TerminatedError returned when a workflow was terminated.
	TerminatedError struct {
		engineError
	}

	// InterruptError returned from handle.Result() when the job was
	// interrupted externally (spec §7 "Interrupted job").
	InterruptError struct {
		engineError
		WorkflowID string
		Descend    bool
	}

	// PanicError contains information about a panicked workflow/activity.
	PanicError struct {
		engineError
		value      interface{}
		stackTrace string
	}

	// workflowPanicError distinguishes a go panic in workflow code from a
	// *PanicError deliberately returned by a workflow function.
	workflowPanicError struct {
		value      interface{}
		stackTrace string
	}

	// ContinueAsNewError, if returned from the workflow function, atomically
	// completes the current job record and starts a fresh replay log under
	// the same workflowId (spec §12 supplemented feature).
	ContinueAsNewError struct {
		WorkflowName string
		Args         []interface{}
	}

	// ActivityError is returned from a workflow when an activity returned
	// an error. Unwrap to get the actual cause.
	ActivityError struct {
		engineError
		activityName string
		taskQueue    string
		cause        error
	}

	// ChildWorkflowExecutionError is returned from a workflow when a child
	// workflow returned an error. Unwrap to get the actual cause.
	ChildWorkflowExecutionError struct {
		engineError
		childWorkflowID string
		workflowName    string
		cause           error
	}

	engineError struct {
		originalFailure *Failure
	}

	failureHolder interface {
		setFailure(*Failure)
		failure() *Failure
	}
)

// ErrNoData is returned when trying to extract strong typed data with none available.
var ErrNoData = errors.New("no data available")

// ErrTooManyArg is returned when trying to extract more arguments than available.
var ErrTooManyArg = errors.New("too many arguments")

// NewApplicationError creates a new *ApplicationError.
func NewApplicationError(message string, nonRetryable bool, cause error, details ...interface{}) *ApplicationError {
	err := &ApplicationError{
		message:      message,
		originalType: getErrorType(&ApplicationError{}),
		nonRetryable: nonRetryable,
		cause:        cause,
	}
	if len(details) == 1 {
		if d, ok := details[0].(*EncodedValues); ok {
			err.details = d
			return err
		}
	}
	err.details = ErrorDetailsValues(details)
	return err
}

// NewTimeoutError creates a *TimeoutError.
func NewTimeoutError(timeoutType string, cause error, lastHeartbeatDetails ...interface{}) *TimeoutError {
	err := &TimeoutError{timeoutType: timeoutType, cause: cause}
	if len(lastHeartbeatDetails) == 1 {
		if d, ok := lastHeartbeatDetails[0].(*EncodedValues); ok {
			err.lastHeartbeatDetails = d
			return err
		}
	}
	err.lastHeartbeatDetails = ErrorDetailsValues(lastHeartbeatDetails)
	return err
}

// NewMaxedError creates a *MaxedError.
func NewMaxedError(attempts int, cause error) *MaxedError {
	return &MaxedError{attempts: attempts, cause: cause}
}

// NewFatalError creates a *FatalError.
func NewFatalError(cause error) *FatalError {
	return &FatalError{cause: cause}
}

// NewCanceledError creates a *CanceledError.
func NewCanceledError(details ...interface{}) *CanceledError {
	if len(details) == 1 {
		if d, ok := details[0].(*EncodedValues); ok {
			return &CanceledError{details: d}
		}
	}
	return &CanceledError{details: ErrorDetailsValues(details)}
}

func newTerminatedError() *TerminatedError { return &TerminatedError{} }

// NewInterruptError creates an *InterruptError.
func NewInterruptError(workflowID string, descend bool) *InterruptError {
	return &InterruptError{WorkflowID: workflowID, Descend: descend}
}

func newPanicError(value interface{}, stackTrace string) *PanicError {
	return &PanicError{value: value, stackTrace: stackTrace}
}

func newWorkflowPanicError(value interface{}, stackTrace string) *workflowPanicError {
	return &workflowPanicError{value: value, stackTrace: stackTrace}
}

func (e *engineError) setFailure(f *Failure) { e.originalFailure = f }
func (e *engineError) failure() *Failure     { return e.originalFailure }

// IsCanceledError reports whether err is (or wraps) a *CanceledError.
func IsCanceledError(err error) bool {
	var canceledErr *CanceledError
	return errors.As(err, &canceledErr)
}

// Error interface implementations.

func (e *ApplicationError) Error() string        { return e.message }
func (e *ApplicationError) OriginalType() string { return e.originalType }
func (e *ApplicationError) HasDetails() bool     { return e.details != nil && e.details.HasValues() }
func (e *ApplicationError) Details(d ...interface{}) error {
	if !e.HasDetails() {
		return ErrNoData
	}
	return e.details.Get(d...)
}
func (e *ApplicationError) NonRetryable() bool { return e.nonRetryable }
func (e *ApplicationError) Unwrap() error      { return e.cause }

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("TimeoutType: %v, Cause: %v", e.timeoutType, e.cause)
}
func (e *TimeoutError) Unwrap() error       { return e.cause }
func (e *TimeoutError) TimeoutType() string { return e.timeoutType }
func (e *TimeoutError) HasLastHeartbeatDetails() bool {
	return e.lastHeartbeatDetails != nil && e.lastHeartbeatDetails.HasValues()
}
func (e *TimeoutError) LastHeartbeatDetails(d ...interface{}) error {
	if !e.HasLastHeartbeatDetails() {
		return ErrNoData
	}
	return e.lastHeartbeatDetails.Get(d...)
}

func (e *MaxedError) Error() string {
	return fmt.Sprintf("retry attempts exhausted after %d attempts: %v", e.attempts, e.cause)
}
func (e *MaxedError) Unwrap() error { return e.cause }
func (e *MaxedError) Attempts() int { return e.attempts }

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.cause) }
func (e *FatalError) Unwrap() error { return e.cause }

func (e *CanceledError) Error() string    { return "Canceled" }
func (e *CanceledError) HasDetails() bool { return e.details != nil && e.details.HasValues() }
func (e *CanceledError) Details(d ...interface{}) error {
	if !e.HasDetails() {
		return ErrNoData
	}
	return e.details.Get(d...)
}

func (e *TerminatedError) Error() string { return "Terminated" }

func (e *InterruptError) Error() string {
	return fmt.Sprintf("workflow %s was interrupted (descend=%v)", e.WorkflowID, e.Descend)
}

func (e *PanicError) Error() string              { return fmt.Sprintf("%v", e.value) }
func (e *PanicError) StackTrace() string         { return e.stackTrace }
func (e *workflowPanicError) Error() string      { return fmt.Sprintf("%v", e.value) }
func (e *workflowPanicError) StackTrace() string { return e.stackTrace }

func (e *ContinueAsNewError) Error() string { return "ContinueAsNew" }

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %q (taskQueue %q) error: %v", e.activityName, e.taskQueue, e.cause)
}
func (e *ActivityError) Unwrap() error { return e.cause }

func (e *ChildWorkflowExecutionError) Error() string {
	return fmt.Sprintf("child workflow %q (workflowId %s) error: %v", e.workflowName, e.childWorkflowID, e.cause)
}
func (e *ChildWorkflowExecutionError) Unwrap() error { return e.cause }

func convertErrDetailsToPayloads(details Values, dc DataConverter) []byte {
	switch d := details.(type) {
	case ErrorDetailsValues:
		data, err := encodeArgs(dc, d)
		if err != nil {
			panic(err)
		}
		return data
	case *EncodedValues:
		return d.data
	default:
		panic(fmt.Sprintf("unknown error details type %T", details))
	}
}

// IsRetryable reports whether err should be retried given a list of
// non-retryable original-type names.
func IsRetryable(err error, nonRetryableTypes []string) bool {
	if err == nil {
		return false
	}

	var terminatedErr *TerminatedError
	var canceledErr *CanceledError
	var workflowPanicErr *workflowPanicError
	var fatalErr *FatalError
	var maxedErr *MaxedError
	if errors.As(err, &terminatedErr) || errors.As(err, &canceledErr) ||
		errors.As(err, &workflowPanicErr) || errors.As(err, &fatalErr) || errors.As(err, &maxedErr) {
		return false
	}

	var applicationErr *ApplicationError
	var applicationErrOriginalType string
	if errors.As(err, &applicationErr) {
		if applicationErr.nonRetryable {
			return false
		}
		applicationErrOriginalType = applicationErr.originalType
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		if timeoutErr.timeoutType != "StartToClose" && timeoutErr.timeoutType != "Heartbeat" {
			return false
		}
	}

	for {
		causeErr := errors.Unwrap(err)
		if causeErr == nil {
			break
		}
		err = causeErr
	}
	errType := getErrorType(err)
	for _, nonRetryableType := range nonRetryableTypes {
		if nonRetryableType == errType || nonRetryableType == applicationErrOriginalType {
			return false
		}
	}
	return true
}

func getErrorType(err error) string {
	var t reflect.Type
	for t = reflect.TypeOf(err); t.Kind() == reflect.Ptr; t = t.Elem() {
	}
	return t.Name()
}

// convertErrorToFailure converts an error into its JSON-serializable Failure form.
func convertErrorToFailure(err error, dc DataConverter) *Failure {
	if err == nil {
		return nil
	}

	if fh, ok := err.(failureHolder); ok {
		if fh.failure() != nil {
			return fh.failure()
		}
	}

	failure := &Failure{Source: "durable-go", Message: err.Error(), Kind: getErrorType(err)}

	switch typed := err.(type) {
	case *ApplicationError:
		failure.NonRetryable = typed.nonRetryable
		failure.Details = convertErrDetailsToPayloads(typed.details, dc)
	case *CanceledError:
		failure.Details = convertErrDetailsToPayloads(typed.details, dc)
	case *PanicError:
		failure.StackTrace = typed.StackTrace()
	case *workflowPanicError:
		failure.Kind = getErrorType(&PanicError{})
		failure.NonRetryable = true
		failure.StackTrace = typed.StackTrace()
	case *TimeoutError:
		failure.TimeoutType = typed.timeoutType
		failure.Details = convertErrDetailsToPayloads(typed.lastHeartbeatDetails, dc)
	case *MaxedError:
		failure.Attempts = typed.attempts
	case *TerminatedError, *FatalError:
		// no kind-specific fields
	}

	failure.Cause = convertErrorToFailure(errors.Unwrap(err), dc)
	return failure
}

// convertFailureToError converts a stored Failure back into a typed error.
func convertFailureToError(failure *Failure, dc DataConverter) error {
	if failure == nil {
		return nil
	}

	cause := convertFailureToError(failure.Cause, dc)
	details := newEncodedValues(failure.Details, dc)

	var err error
	switch failure.Kind {
	case getErrorType(&ApplicationError{}):
		err = NewApplicationError(failure.Message, failure.NonRetryable, cause, details)
	case getErrorType(&PanicError{}):
		err = newPanicError(failure.Message, failure.StackTrace)
	case getErrorType(&CanceledError{}):
		err = NewCanceledError(details)
	case getErrorType(&TimeoutError{}):
		err = NewTimeoutError(failure.TimeoutType, cause, details)
	case getErrorType(&MaxedError{}):
		err = NewMaxedError(failure.Attempts, cause)
	case getErrorType(&FatalError{}):
		err = NewFatalError(cause)
	case getErrorType(&TerminatedError{}):
		err = newTerminatedError()
	default:
		applicationErr := NewApplicationError(failure.Message, false, cause)
		applicationErr.originalType = failure.Kind
		err = applicationErr
	}

	if fh, ok := err.(failureHolder); ok {
		fh.setFailure(failure)
	}
	return err
}

// MarshalFailureJSON serializes a Failure for storage in the $error job field.
func MarshalFailureJSON(f *Failure) ([]byte, error) {
	return json.Marshal(f)
}

// UnmarshalFailureJSON deserializes a stored $error job field.
func UnmarshalFailureJSON(data []byte) (*Failure, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var f Failure
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
