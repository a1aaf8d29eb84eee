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

// Package converter re-exports the engine's internal data conversion
// types (internal/encoded.go) under a public, stable name so
// application code configuring client/worker Options never imports
// package internal directly. It also offers StatefulDataConverter, a
// composable converter for hosts that need per-namespace encoding
// (e.g. one tenant storing raw bytes, another JSON) without forking the
// default converter.
package converter

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/hotmeshio/durable-go/internal"
)

type (
	// DataConverter is used by the client/worker to serialize/deserialize
	// workflow/activity arguments, results, and signal payloads.
	DataConverter = internal.DataConverter
	// Value encapsulates one encoded value read back from a replay slot
	// or signal payload.
	Value = internal.Value
	// Values encapsulates a positional list of encoded values.
	Values = internal.Values
)

// GetDefaultDataConverter returns the JSON-based converter the engine
// uses when client/worker Options don't override it.
func GetDefaultDataConverter() DataConverter {
	return internal.DefaultDataConverter
}

// statefulPayload mirrors internal's private payload shape (metadata +
// data) so StatefulDataConverter can round-trip through the same wire
// format the default converter uses, without reaching into package
// internal's unexported payload type.
type statefulPayload struct {
	Metadata map[string]string `json:"metadata"`
	Data     []byte            `json:"data"`
}

const (
	metadataEncoding     = "encoding"
	metadataEncodingRaw  = "raw"
	metadataEncodingJSON = "json"
)

// StatefulDataConverter is a DataConverter whose only state is the
// preferRaw choice fixed at construction, so a caller hosting multiple
// namespaces with different serialization needs can swap converters
// without losing the raw/JSON distinction the default converter makes. Grounded
// on the teacher's stateful proto/JSON payload converter split
// (converter/proto_json_payload_converter.go), reworked around this
// engine's plain JSON payload instead of protobuf.
type StatefulDataConverter struct {
	preferRaw bool
}

// NewStatefulDataConverter builds a StatefulDataConverter. When
// preferRaw is true, []byte values are stored as raw bytes (matching
// the default converter); otherwise every value round-trips through
// JSON, even []byte (base64-encoded by encoding/json).
func NewStatefulDataConverter(preferRaw bool) *StatefulDataConverter {
	return &StatefulDataConverter{preferRaw: preferRaw}
}

// ToData implements DataConverter.
func (c *StatefulDataConverter) ToData(values ...interface{}) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	payloads := make([]*statefulPayload, len(values))
	for i, v := range values {
		p, err := c.toPayload(v)
		if err != nil {
			return nil, fmt.Errorf("values[%d]: %w", i, err)
		}
		payloads[i] = p
	}
	return json.Marshal(payloads)
}

// FromData implements DataConverter.
func (c *StatefulDataConverter) FromData(input []byte, valuePtrs ...interface{}) error {
	if len(input) == 0 {
		return nil
	}
	var payloads []*statefulPayload
	if err := json.Unmarshal(input, &payloads); err != nil {
		return fmt.Errorf("converter: decode: %w", err)
	}
	for i, p := range payloads {
		if i >= len(valuePtrs) {
			break
		}
		if err := c.fromPayload(p, valuePtrs[i]); err != nil {
			return fmt.Errorf("converter: item %d: %w", i, err)
		}
	}
	return nil
}

func (c *StatefulDataConverter) toPayload(value interface{}) (*statefulPayload, error) {
	if raw, ok := value.([]byte); ok && c.preferRaw {
		return &statefulPayload{Metadata: map[string]string{metadataEncoding: metadataEncodingRaw}, Data: raw}, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return &statefulPayload{Metadata: map[string]string{metadataEncoding: metadataEncodingJSON}, Data: data}, nil
}

func (c *StatefulDataConverter) fromPayload(p *statefulPayload, valuePtr interface{}) error {
	if p == nil {
		return nil
	}
	switch p.Metadata[metadataEncoding] {
	case metadataEncodingRaw:
		dst := reflect.ValueOf(valuePtr).Elem()
		if !dst.CanSet() {
			return fmt.Errorf("converter: cannot set %T", valuePtr)
		}
		dst.SetBytes(p.Data)
		return nil
	default:
		return json.Unmarshal(p.Data, valuePtr)
	}
}
