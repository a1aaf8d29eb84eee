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

package mocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hotmeshio/durable-go/store"
)

func Test_MockStore(t *testing.T) {
	ctx := context.Background()
	m := &Store{}
	var s store.Store = m

	m.On("CreateJob", ctx, "wf-1", mock.Anything).Return(nil).Once()
	require.NoError(t, s.CreateJob(ctx, "wf-1", map[string][]byte{"status": []byte("1")}))

	m.On("SetFields", ctx, "wf-1", mock.Anything).Return(1, nil).Once()
	n, err := s.SetFields(ctx, "wf-1", map[string][]byte{"status": []byte("0")})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	m.On("IncrementFieldByFloatWithMarker", ctx, "wf-1", "_total", 2.5, "marker-a").
		Return(2.5, nil).Once()
	total, err := s.IncrementFieldByFloatWithMarker(ctx, "wf-1", "_total", 2.5, "marker-a")
	require.NoError(t, err)
	require.Equal(t, 2.5, total)

	m.On("Delete", ctx, "wf-1").Return(nil).Once()
	require.NoError(t, s.Delete(ctx, "wf-1"))

	m.AssertExpectations(t)
}
