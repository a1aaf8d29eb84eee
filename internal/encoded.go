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

const (
	metadataEncoding     = "encoding"
	metadataEncodingRaw  = "raw"
	metadataEncodingJSON = "json"
)

type (
	// Value is used to encapsulate/extract an encoded value read back
	// from a replay slot, a signal payload, or an error's details.
	Value interface {
		// HasValue return whether there is value encoded.
		HasValue() bool
		// Get extract the encoded value into strong typed value pointer.
		Get(valuePtr interface{}) error
	}

	// Values is used to encapsulate/extract one or more encoded values,
	// e.g. the positional argument list passed to proxyActivity,
	// startChild, or signal.
	Values interface {
		// HasValues return whether there are values encoded.
		HasValues() bool
		// Get extract the encoded values into strong typed value pointers.
		Get(valuePtr ...interface{}) error
	}

	// DataConverter is used by the engine to serialize/deserialize the
	// input and output of activities/workflows/signals that are stored
	// in a job record's context document or passed over pubsub.
	// The default converter is JSON; a caller can swap in a different
	// one through client/worker Options without touching executor code.
	DataConverter interface {
		// ToData implements conversion of a list of values.
		ToData(value ...interface{}) ([]byte, error)
		// FromData implements conversion of an array of values of different types.
		// Useful for deserializing arguments of function invocations.
		FromData(input []byte, valuePtrs ...interface{}) error
	}

	// PayloadConverter converts a single value to/from its encoded form.
	PayloadConverter interface {
		// ToData single value to payload.
		ToData(value interface{}) (*payload, error)
		// FromData single value from payload.
		FromData(input *payload, valuePtr interface{}) error
	}

	// payload is the engine's in-process stand-in for a wire payload:
	// a metadata-tagged byte blob. It never leaves this file — callers
	// only see the encoded []byte the DataConverter produces.
	payload struct {
		Metadata map[string]string `json:"metadata"`
		Data     []byte            `json:"data"`
	}

	defaultPayloadConverter struct{}

	defaultDataConverter struct {
		payloadConverter PayloadConverter
	}
)

var (
	// DefaultPayloadConverter is default single value serializer.
	DefaultPayloadConverter = &defaultPayloadConverter{}

	// DefaultDataConverter is the default data converter used by the
	// engine when no Options override it.
	DefaultDataConverter = &defaultDataConverter{
		payloadConverter: DefaultPayloadConverter,
	}

	// ErrMetadataIsNotSet is returned when metadata is not set.
	ErrMetadataIsNotSet = errors.New("metadata is not set")
	// ErrEncodingIsNotSet is returned when payload encoding metadata is not set.
	ErrEncodingIsNotSet = errors.New("payload encoding metadata is not set")
	// ErrEncodingIsNotSupported is returned when payload encoding is not supported.
	ErrEncodingIsNotSupported = errors.New("payload encoding is not supported")
	// ErrUnableToEncodeJSON is returned when unable to encode to JSON.
	ErrUnableToEncodeJSON = errors.New("unable to encode to JSON")
	// ErrUnableToDecodeJSON is returned when unable to decode JSON.
	ErrUnableToDecodeJSON = errors.New("unable to decode JSON")
	// ErrUnableToSetBytes is returned when unable to set []byte value.
	ErrUnableToSetBytes = errors.New("unable to set []byte value")
)

// getDefaultDataConverter returns the default data converter used by
// the engine.
func getDefaultDataConverter() DataConverter {
	return DefaultDataConverter
}

func (dc *defaultDataConverter) ToData(values ...interface{}) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	payloads := make([]*payload, len(values))
	for i, value := range values {
		p, err := dc.payloadConverter.ToData(value)
		if err != nil {
			return nil, fmt.Errorf("values[%d]: %w", i, err)
		}
		payloads[i] = p
	}

	data, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnableToEncodeJSON, err)
	}
	return data, nil
}

func (dc *defaultDataConverter) FromData(input []byte, valuePtrs ...interface{}) error {
	if len(input) == 0 {
		return nil
	}

	var payloads []*payload
	if err := json.Unmarshal(input, &payloads); err != nil {
		return fmt.Errorf("%w: %v", ErrUnableToDecodeJSON, err)
	}

	for i, p := range payloads {
		if i >= len(valuePtrs) {
			break
		}
		if err := dc.payloadConverter.FromData(p, valuePtrs[i]); err != nil {
			return fmt.Errorf("payload item %d: %w", i, err)
		}
	}

	return nil
}

func (vs *defaultPayloadConverter) ToData(value interface{}) (*payload, error) {
	var p *payload
	if bytes, isByteSlice := value.([]byte); isByteSlice {
		p = &payload{
			Metadata: map[string]string{metadataEncoding: metadataEncodingRaw},
			Data:     bytes,
		}
	} else {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnableToEncodeJSON, err)
		}
		p = &payload{
			Metadata: map[string]string{metadataEncoding: metadataEncodingJSON},
			Data:     data,
		}
	}

	return p, nil
}

func (vs *defaultPayloadConverter) FromData(p *payload, valuePtr interface{}) error {
	if p == nil {
		return nil
	}

	if p.Metadata == nil {
		return ErrMetadataIsNotSet
	}

	encoding, ok := p.Metadata[metadataEncoding]
	if !ok {
		return ErrEncodingIsNotSet
	}

	switch encoding {
	case metadataEncodingRaw:
		valueBytes := reflect.ValueOf(valuePtr).Elem()
		if !valueBytes.CanSet() {
			return ErrUnableToSetBytes
		}
		valueBytes.SetBytes(p.Data)
	case metadataEncodingJSON:
		if err := json.Unmarshal(p.Data, valuePtr); err != nil {
			return fmt.Errorf("%w: %v", ErrUnableToDecodeJSON, err)
		}
	default:
		return fmt.Errorf("encoding %s: %w", encoding, ErrEncodingIsNotSupported)
	}

	return nil
}

// EncodedValue holds one value as already-encoded bytes, deferring
// decode until the caller knows the destination type.
type EncodedValue struct {
	value         []byte
	dataConverter DataConverter
}

func newEncodedValue(value []byte, dataConverter DataConverter) Value {
	if dataConverter == nil {
		dataConverter = getDefaultDataConverter()
	}
	return &EncodedValue{value: value, dataConverter: dataConverter}
}

// HasValue implements Value.
func (b *EncodedValue) HasValue() bool {
	return len(b.value) > 0
}

// Get implements Value.
func (b *EncodedValue) Get(valuePtr interface{}) error {
	if !b.HasValue() {
		return ErrNoData
	}
	return b.dataConverter.FromData(b.value, valuePtr)
}

// EncodedValues holds an undecoded argument/result list as raw encoded
// bytes — the shape every proxyActivity/startChild/signal payload
// takes before the caller's Get unmarshals it into concrete Go types.
type EncodedValues struct {
	data          []byte
	dataConverter DataConverter
}

func newEncodedValues(data []byte, dataConverter DataConverter) Values {
	if dataConverter == nil {
		dataConverter = getDefaultDataConverter()
	}
	return &EncodedValues{data: data, dataConverter: dataConverter}
}

// HasValues implements Values.
func (b *EncodedValues) HasValues() bool {
	return len(b.data) > 0
}

// Get implements Values.
func (b *EncodedValues) Get(valuePtrs ...interface{}) error {
	if !b.HasValues() {
		return ErrNoData
	}
	return b.dataConverter.FromData(b.data, valuePtrs...)
}

// encodeArgs encodes a Go argument list with dc, defaulting to the
// package DataConverter when dc is nil.
func encodeArgs(dc DataConverter, args []interface{}) ([]byte, error) {
	if dc == nil {
		dc = getDefaultDataConverter()
	}
	return dc.ToData(args...)
}

// ErrorDetailsValues implements Values over an already-decoded Go
// value list. It backs the details attached to an error constructed
// and consumed in the same process (e.g. a local activity failure
// surfaced to its own workflow during the same replay), where no
// encode round trip through the store is needed.
type ErrorDetailsValues []interface{}

// HasValues implements Values.
func (e ErrorDetailsValues) HasValues() bool {
	return len(e) > 0
}

// Get implements Values, copying e[i] into *valuePtrs[i] via a JSON
// round trip so behavior matches the wire-encoded path exactly.
func (e ErrorDetailsValues) Get(valuePtrs ...interface{}) error {
	if !e.HasValues() {
		return ErrNoData
	}
	if len(valuePtrs) > len(e) {
		return ErrTooManyArg
	}
	for i, ptr := range valuePtrs {
		data, err := json.Marshal(e[i])
		if err != nil {
			return fmt.Errorf("encoded: marshal detail %d: %w", i, err)
		}
		if err := json.Unmarshal(data, ptr); err != nil {
			return fmt.Errorf("encoded: unmarshal detail %d: %w", i, err)
		}
	}
	return nil
}
