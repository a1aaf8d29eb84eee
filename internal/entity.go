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
	"math"
	"strconv"
	"strings"

	"github.com/hotmeshio/durable-go/store"
)

func backgroundCtx() context.Context { return context.Background() }

// EntityHandle is the session-scoped document (JSONB `context`) handle
// spec §4.2.7 returns from entity(). Each mutating method consumes a
// unique search-session GUID that the scheduler treats as a single-
// transaction replay marker, so a mutation and its idempotency record
// commit atomically (spec §9 "Entity JSONB ops").
type EntityHandle struct {
	ctx   Context
	ic    *invocationContext
	cache map[string][]byte
}

// Entity returns the document handle bound to the current invocation.
func Entity(ctx Context) *EntityHandle {
	ic := getInvocationContext(ctx)
	return &EntityHandle{ctx: ctx, ic: ic, cache: make(map[string][]byte)}
}

func (h *EntityHandle) apply(op store.ContextOp, path string, value interface{}) error {
	guid := h.ic.nextSessionGUID()
	marker := contextMarkerName(guid)
	if _, ok := h.ic.replayValue(marker); ok {
		delete(h.cache, path)
		return nil
	}
	var encoded []byte
	if value != nil {
		var err error
		encoded, err = json.Marshal(value)
		if err != nil {
			return err
		}
	}
	_, err := h.ic.store.MutateContext(backgroundCtx(), h.ic.workflowID, store.ContextMutation{
		Op:           op,
		Path:         path,
		Value:        encoded,
		ReplayMarker: marker,
	})
	delete(h.cache, path)
	return err
}

// Set replaces the document (or the value at path, "" for root).
func (h *EntityHandle) Set(path string, value interface{}) error {
	return h.apply(store.OpSet, path, value)
}

// Merge deep-merges fields into the document at path.
func (h *EntityHandle) Merge(path string, fields map[string]interface{}) error {
	return h.apply(store.OpMerge, path, fields)
}

// Get reads a value at path, read-through cached within this
// invocation (spec §4.2.7 "read-through"); mutations invalidate it.
func (h *EntityHandle) Get(path string, out interface{}) error {
	if cached, ok := h.cache[path]; ok {
		return json.Unmarshal(cached, out)
	}
	data, err := h.ic.store.GetField(backgroundCtx(), h.ic.workflowID, "context")
	if err != nil {
		return err
	}
	if trimmed := strings.Trim(path, "/"); trimmed != "" {
		var doc interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		for _, part := range strings.Split(trimmed, "/") {
			m, _ := doc.(map[string]interface{})
			doc = m[part]
		}
		if data, err = json.Marshal(doc); err != nil {
			return err
		}
	}
	h.cache[path] = data
	return json.Unmarshal(data, out)
}

// Delete removes the value at path.
func (h *EntityHandle) Delete(path string) error {
	return h.apply(store.OpDelete, path, nil)
}

// Append appends value to the array at path.
func (h *EntityHandle) Append(path string, value interface{}) error {
	return h.apply(store.OpAppend, path, value)
}

// Prepend prepends value to the array at path.
func (h *EntityHandle) Prepend(path string, value interface{}) error {
	return h.apply(store.OpPrepend, path, value)
}

// Increment applies a floating-point increment at path.
func (h *EntityHandle) Increment(path string, delta float64) error {
	return h.apply(store.OpIncrement, path, delta)
}

// Toggle flips a boolean value at path.
func (h *EntityHandle) Toggle(path string) error {
	return h.apply(store.OpToggle, path, nil)
}

// SetIfNotExists sets path only if it is currently absent.
func (h *EntityHandle) SetIfNotExists(path string, value interface{}) error {
	return h.apply(store.OpSetIfNotExists, path, value)
}

// SearchHandle is the flat-field (`_<key>`) handle spec §4.2.7 returns
// from search(). Keys are prefixed with "_" unless quoted ("raw") to
// avoid colliding with reserved job-record fields.
type SearchHandle struct {
	ic    *invocationContext
	cache map[string][]byte
}

// Search returns the flat-field handle bound to the current invocation.
func Search(ctx Context) *SearchHandle {
	ic := getInvocationContext(ctx)
	return &SearchHandle{ic: ic, cache: make(map[string][]byte)}
}

// Set writes one or more flat fields, each keyed through
// searchFieldName so user keys never collide with reserved fields.
// Gated behind a replay marker like EntityHandle.apply: a replayed call
// to the same (workflowId, dimension, index) is a no-op, not a second
// write (spec Invariant 2).
func (s *SearchHandle) Set(fields map[string]interface{}) error {
	marker := contextMarkerName(s.ic.nextSessionGUID())
	if _, ok := s.ic.replayValue(marker); ok {
		for k := range fields {
			delete(s.cache, searchFieldName(k))
		}
		return nil
	}
	encoded := make(map[string][]byte, len(fields))
	for k, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		encoded[searchFieldName(k)] = data
	}
	_, err := s.ic.store.SetFieldsWithMarker(backgroundCtx(), s.ic.workflowID, encoded, marker, []byte("1"))
	for k := range fields {
		delete(s.cache, searchFieldName(k))
	}
	return err
}

// Get reads one flat field, read-through cached for this invocation.
func (s *SearchHandle) Get(key string, out interface{}) error {
	name := searchFieldName(key)
	if cached, ok := s.cache[name]; ok {
		return json.Unmarshal(cached, out)
	}
	data, err := s.ic.store.GetField(backgroundCtx(), s.ic.workflowID, name)
	if err != nil {
		return err
	}
	s.cache[name] = data
	return json.Unmarshal(data, out)
}

// Incr applies a floating-point increment to a flat field (spec
// §4.2.7 "incr performs floating-point increment"). The resulting total
// is recorded under the call's replay marker in the same round trip a
// replay of this (workflowId, dimension, index) returns the recorded
// total instead of incrementing again (spec Invariant 2, §8 round-trip law).
func (s *SearchHandle) Incr(key string, delta float64) (float64, error) {
	name := searchFieldName(key)
	marker := contextMarkerName(s.ic.nextSessionGUID())
	if cached, ok := s.ic.replayValue(marker); ok {
		delete(s.cache, name)
		return decodeMarkerFloat(cached)
	}
	v, err := s.ic.store.IncrementFieldByFloatWithMarker(backgroundCtx(), s.ic.workflowID, name, delta, marker)
	delete(s.cache, name)
	return v, err
}

// Mult performs log-domain accumulation (spec §4.2.7 "mult performs
// log-domain accumulation"): the field stores log(product) so that
// replays converge deterministically regardless of floating-point
// summation order, per spec §9's open-question resolution (DESIGN.md
// records the rationale for choosing the log-domain form). Gated by a
// replay marker the same way Incr is, so a replay does not re-apply the
// log-domain delta a second time.
func (s *SearchHandle) Mult(key string, factor float64) (float64, error) {
	name := searchFieldName(key) + ":log"
	marker := contextMarkerName(s.ic.nextSessionGUID())
	if cached, ok := s.ic.replayValue(marker); ok {
		delete(s.cache, name)
		logTotal, err := decodeMarkerFloat(cached)
		if err != nil {
			return 0, err
		}
		return math.Exp(logTotal), nil
	}
	logDelta := math.Log(factor)
	logTotal, err := s.ic.store.IncrementFieldByFloatWithMarker(backgroundCtx(), s.ic.workflowID, name, logDelta, marker)
	if err != nil {
		return 0, err
	}
	delete(s.cache, name)
	return math.Exp(logTotal), nil
}

// decodeMarkerFloat parses the numeric total a Redis HINCRBYFLOAT or a
// Postgres jsonb_set marker write recorded, either a bare decimal string
// or a JSON number, depending on backend.
func decodeMarkerFloat(raw []byte) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	return strconv.ParseFloat(string(raw), 64)
}

// Delete removes one or more flat fields.
func (s *SearchHandle) Delete(keys ...string) error {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = searchFieldName(k)
	}
	_, err := s.ic.store.DeleteFields(backgroundCtx(), s.ic.workflowID, names)
	for _, n := range names {
		delete(s.cache, n)
	}
	return err
}
