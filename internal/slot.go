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
	"strconv"
	"strings"
)

// replaySlotName composes the deterministic field name spec §3.1
// assigns to a replay slot: "-<op><dimension>-<index>-". The dimension
// coordinate (e.g. ",0,1") is opaque and must be embedded byte-for-byte
// per spec §9 "Dimensional naming".
func replaySlotName(o op, dimension string, index int) string {
	var b strings.Builder
	b.WriteByte('-')
	b.WriteString(string(o))
	b.WriteString(dimension)
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(index))
	b.WriteByte('-')
	return b.String()
}

// searchFieldName prefixes a user search key with "_" (spec §3.1) to
// keep it out of the reserved-field namespace, unless the caller
// explicitly quoted the key to bypass prefixing (spec §4.2.7 "raw").
func searchFieldName(key string) string {
	if isRawKey(key) {
		return unquoteRawKey(key)
	}
	return "_" + key
}

// isRawKey reports whether key was quoted by the caller to request the
// literal field name with no "_" prefix, e.g. `"raw"`.
func isRawKey(key string) bool {
	return len(key) >= 2 && key[0] == '"' && key[len(key)-1] == '"'
}

func unquoteRawKey(key string) string {
	return key[1 : len(key)-1]
}

// replaySlotPattern builds the prefix-match pattern the executor hands
// the store's FindJobFields for a given dimension (spec §4.1 step 1):
// every op keyed into that dimension's namespace.
func replaySlotPattern(dimension string) string {
	return "-*" + dimension + "-*-"
}

// contextMarkerName is the replay-marker field that makes an entity or
// search-session mutation idempotent across replays per spec §4.2.7.
// Signal, Emit and Trace use their own replay slot (replaySlotName)
// for the same purpose.
func contextMarkerName(sessionGUID string) string {
	return "-marker-" + sessionGUID + "-"
}
