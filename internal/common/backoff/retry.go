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

// Package backoff implements the scheduler-side exponential backoff
// ladder spec.md §4.1 "Failure semantics" describes:
//
//	delay = min(backoffCoefficient^attempt, maximumInterval)
//
// The teacher's retry.go built this on top of a Retrier/RetryPolicy pair
// and a package-level SystemClock that were never present anywhere in
// this retrieval (confirmed against the pack: no other file in
// internal/common/backoff defines them), so that file never compiled in
// the source snapshot either. This rewrite keeps the teacher's
// Operation/IsRetryable/Retry shape but grounds the clock on
// facebookgo/clock (the domain dependency SPEC_FULL.md §11 names for
// worker-side backoff scheduling) so the retry ladder is deterministically
// testable with clock.NewMock instead of real sleeps.
package backoff

import (
	"context"
	"math"
	"time"

	"github.com/facebookgo/clock"
)

type (
	// Policy bounds a retry ladder (spec §4.1, §7): same shape as
	// RetryPolicy but scoped to this package to avoid an import cycle
	// with internal.
	Policy struct {
		MaximumAttempts    int
		BackoffCoefficient float64
		MaximumInterval    time.Duration
	}

	// Operation is the unit of work Retry repeats until it succeeds,
	// exhausts its attempts, or isRetryable rejects the error.
	Operation func() error

	// IsRetryable reports whether err should trigger another attempt.
	IsRetryable func(error) bool
)

// Delay implements the spec's formula for one attempt: exponential
// growth in the backoff coefficient, clamped at maximumInterval.
// Attempt is 1-based (the first retry after the initial failure).
func Delay(attempt int, policy Policy) time.Duration {
	coefficient := policy.BackoffCoefficient
	if coefficient <= 0 {
		coefficient = 2.0
	}
	delay := time.Duration(math.Pow(coefficient, float64(attempt))) * time.Second
	if policy.MaximumInterval > 0 && delay > policy.MaximumInterval {
		return policy.MaximumInterval
	}
	return delay
}

// Retry repeats operation on clk's notion of time until it succeeds,
// ctx is canceled, isRetryable rejects the error, or policy.MaximumAttempts
// is exhausted (<=0 means unbounded). Grounded on the teacher's Retry
// loop shape; clk is injected so worker tests can drive it with
// clock.NewMock instead of sleeping in real time.
func Retry(ctx context.Context, clk clock.Clock, operation Operation, policy Policy, isRetryable IsRetryable) error {
	var lastErr error
	attempt := 0
	for {
		if err := operation(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		attempt++

		if policy.MaximumAttempts > 0 && attempt >= policy.MaximumAttempts {
			return lastErr
		}
		if isRetryable != nil && !isRetryable(lastErr) {
			return lastErr
		}

		next := Delay(attempt, policy)
		timer := clk.Timer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
}

// IgnoreErrors builds an IsRetryable that rejects retrying any error
// matching (by value equality) one in errorsToExclude.
func IgnoreErrors(errorsToExclude []error) IsRetryable {
	return func(err error) bool {
		for _, excluded := range errorsToExclude {
			if err == excluded {
				return false
			}
		}
		return true
	}
}
