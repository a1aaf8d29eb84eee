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
	"fmt"
	"reflect"
	"sync"
)

var (
	contextType = reflect.TypeOf((*Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// registry holds workflow and activity functions by name, looked up by
// the executor (workflow side) and by the activity worker (activity
// side). One registry is built per Worker (spec §6.4).
type registry struct {
	mu         sync.RWMutex
	workflows  map[string]reflect.Value
	activities map[string]reflect.Value
}

func newRegistry() *registry {
	return &registry{
		workflows:  make(map[string]reflect.Value),
		activities: make(map[string]reflect.Value),
	}
}

// Registry is the exported name for registry, so the worker package
// (and internalbindings) can hold one without reaching into an
// unexported internal type (spec §6.4 "Worker registration surface").
type Registry = registry

// NewRegistry builds an empty workflow/activity registry for a Worker.
func NewRegistry() *Registry {
	return newRegistry()
}

func validateFnFormat(fnType reflect.Type, isWorkflow bool) error {
	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("expected a func, got %s", fnType.Kind())
	}
	if isWorkflow {
		if fnType.NumIn() < 1 || fnType.In(0) != contextType {
			return fmt.Errorf("workflow function first parameter must be internal.Context")
		}
	}
	numOut := fnType.NumOut()
	if numOut == 0 || numOut > 2 {
		return fmt.Errorf("function must return either (error) or (R, error)")
	}
	if !fnType.Out(numOut - 1).Implements(errorType) {
		return fmt.Errorf("function's last return value must be error")
	}
	return nil
}

func fnName(fn interface{}) string {
	v := reflect.ValueOf(fn)
	t := reflect.TypeOf(fn)
	if t.Kind() != reflect.Func {
		panic("durable: register target is not a function")
	}
	name := runtimeFuncName(v)
	return name
}

func (r *registry) RegisterWorkflow(fn interface{}, name string) {
	v := reflect.ValueOf(fn)
	if err := validateFnFormat(v.Type(), true); err != nil {
		panic(fmt.Sprintf("durable: RegisterWorkflow %q: %v", name, err))
	}
	if name == "" {
		name = fnName(fn)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[name] = v
}

func (r *registry) RegisterActivity(fn interface{}, name string) {
	v := reflect.ValueOf(fn)
	if err := validateFnFormat(v.Type(), false); err != nil {
		panic(fmt.Sprintf("durable: RegisterActivity %q: %v", name, err))
	}
	if name == "" {
		name = fnName(fn)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities[name] = v
}

func (r *registry) GetWorkflow(name string) (reflect.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.workflows[name]
	return v, ok
}

func (r *registry) GetActivity(name string) (reflect.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.activities[name]
	return v, ok
}

// decodeArgsInto decodes data (a DataConverter-encoded argument list)
// into freshly allocated values matching fn's parameter types, skipping
// the leading Context parameter when skipCtx is true.
func decodeArgsInto(dc DataConverter, data []byte, fnType reflect.Type, skipCtx bool) ([]reflect.Value, error) {
	start := 0
	if skipCtx {
		start = 1
	}
	n := fnType.NumIn() - start
	ptrs := make([]interface{}, n)
	vals := make([]reflect.Value, n)
	for i := 0; i < n; i++ {
		pt := fnType.In(start + i)
		vals[i] = reflect.New(pt)
		ptrs[i] = vals[i].Interface()
	}
	if n > 0 {
		if err := dc.FromData(data, ptrs...); err != nil {
			return nil, err
		}
	}
	out := make([]reflect.Value, n)
	for i := range vals {
		out[i] = vals[i].Elem()
	}
	return out, nil
}

// callResult splits a reflect.Call result into (result, error) assuming
// the function's last return value is always an error.
func callResult(out []reflect.Value) (interface{}, error) {
	var result interface{}
	n := len(out)
	errVal := out[n-1]
	var err error
	if !errVal.IsNil() {
		err = errVal.Interface().(error)
	}
	if n == 2 {
		result = out[0].Interface()
	}
	return result, err
}
