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

// Package mocks provides testify/mock doubles for this engine's
// consumed contracts, grounded on the teacher's mocks package (which
// mocked client.Client/WorkflowRun with testify/mock). store.Store is
// the analogous seam here: the executor and worker never talk to Redis
// or Postgres directly, only through this interface, so a test can
// substitute Store and drive the scheduler-side commit logic
// (internal/scheduler.go) without a live backend.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/hotmeshio/durable-go/store"
)

// Store is a testify/mock double for store.Store.
type Store struct {
	mock.Mock
}

var _ store.Store = (*Store)(nil)

// CreateJob implements store.Store.
func (m *Store) CreateJob(ctx context.Context, jobID string, fields map[string][]byte) error {
	args := m.Called(ctx, jobID, fields)
	return args.Error(0)
}

// FindJobFields implements store.Store.
func (m *Store) FindJobFields(ctx context.Context, jobID, pattern string, maxFields, maxBytes int) (string, map[string][]byte, error) {
	args := m.Called(ctx, jobID, pattern, maxFields, maxBytes)
	fields, _ := args.Get(1).(map[string][]byte)
	return args.String(0), fields, args.Error(2)
}

// SetFields implements store.Store.
func (m *Store) SetFields(ctx context.Context, jobID string, fields map[string][]byte) (int, error) {
	args := m.Called(ctx, jobID, fields)
	return args.Int(0), args.Error(1)
}

// SetFieldsWithMarker implements store.Store.
func (m *Store) SetFieldsWithMarker(ctx context.Context, jobID string, fields map[string][]byte, marker string, markerValue []byte) (int, error) {
	args := m.Called(ctx, jobID, fields, marker, markerValue)
	return args.Int(0), args.Error(1)
}

// GetField implements store.Store.
func (m *Store) GetField(ctx context.Context, jobID, name string) ([]byte, error) {
	args := m.Called(ctx, jobID, name)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// GetFields implements store.Store.
func (m *Store) GetFields(ctx context.Context, jobID string, names []string) (map[string][]byte, error) {
	args := m.Called(ctx, jobID, names)
	fields, _ := args.Get(0).(map[string][]byte)
	return fields, args.Error(1)
}

// DeleteFields implements store.Store.
func (m *Store) DeleteFields(ctx context.Context, jobID string, names []string) (int, error) {
	args := m.Called(ctx, jobID, names)
	return args.Int(0), args.Error(1)
}

// IncrementFieldByFloat implements store.Store.
func (m *Store) IncrementFieldByFloat(ctx context.Context, jobID, name string, delta float64) (float64, error) {
	args := m.Called(ctx, jobID, name, delta)
	f, _ := args.Get(0).(float64)
	return f, args.Error(1)
}

// IncrementFieldByFloatWithMarker implements store.Store.
func (m *Store) IncrementFieldByFloatWithMarker(ctx context.Context, jobID, name string, delta float64, marker string) (float64, error) {
	args := m.Called(ctx, jobID, name, delta, marker)
	f, _ := args.Get(0).(float64)
	return f, args.Error(1)
}

// MutateContext implements store.Store.
func (m *Store) MutateContext(ctx context.Context, jobID string, mutation store.ContextMutation) ([]byte, error) {
	args := m.Called(ctx, jobID, mutation)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// Expire implements store.Store.
func (m *Store) Expire(ctx context.Context, jobID string, ttlSeconds int64) error {
	args := m.Called(ctx, jobID, ttlSeconds)
	return args.Error(0)
}

// Delete implements store.Store.
func (m *Store) Delete(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}
