// Package store defines the job-record storage contract consumed by the
// durable executor and its scheduler-side collaborators (spec §6.1).
//
// A Store is a HASH-shaped key/value+JSONB substrate: one record per
// workflowId, with flat fields for replay slots and status metadata
// plus a JSONB-ish "context" document for entity state. Two concrete
// backends are provided: redisstore (a literal Redis HASH) and pgstore
// (a Postgres row with JSONB columns). Both satisfy this interface so
// the executor never depends on either driver directly.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a job record does not exist.
var ErrNotFound = errors.New("store: job record not found")

// ContextOp is one JSONB-pointer directive applied to the job record's
// "context" document (spec §6.1, Design Note "Entity JSONB ops").
type ContextOp string

const (
	OpSet            ContextOp = "@context"
	OpMerge          ContextOp = "@context:merge"
	OpGet            ContextOp = "@context:get"
	OpDelete         ContextOp = "@context:delete"
	OpAppend         ContextOp = "@context:append"
	OpPrepend        ContextOp = "@context:prepend"
	OpRemove         ContextOp = "@context:remove"
	OpIncrement      ContextOp = "@context:increment"
	OpToggle         ContextOp = "@context:toggle"
	OpSetIfNotExists ContextOp = "@context:setIfNotExists"
)

// ContextMutation pairs a JSONB-pointer directive with the replay
// marker that must commit atomically alongside it, so the mutation and
// its idempotency record land in the same transaction.
type ContextMutation struct {
	Op           ContextOp
	Path         string
	Value        []byte
	ReplayMarker string
	ReplayValue  []byte
}

// Store is the persistence contract the executor's scheduler-side
// collaborators use to read and mutate one job record.
type Store interface {
	// CreateJob creates a new job record if one does not already exist.
	CreateJob(ctx context.Context, jobID string, fields map[string][]byte) error

	// FindJobFields does a prefix-match query over record fields,
	// returning a page of results and an opaque cursor for the rest.
	FindJobFields(ctx context.Context, jobID string, pattern string, maxFields, maxBytes int) (cursor string, fields map[string][]byte, err error)

	// SetFields atomically writes multiple fields and returns the count written.
	SetFields(ctx context.Context, jobID string, fields map[string][]byte) (int, error)

	// SetFieldsWithMarker atomically writes multiple fields plus a replay
	// marker field in the same round trip, so a search-field mutation and
	// its idempotency record commit together (spec Invariant 2).
	SetFieldsWithMarker(ctx context.Context, jobID string, fields map[string][]byte, marker string, markerValue []byte) (int, error)

	// GetField reads a single field.
	GetField(ctx context.Context, jobID, name string) ([]byte, error)

	// GetFields reads multiple fields in one round trip.
	GetFields(ctx context.Context, jobID string, names []string) (map[string][]byte, error)

	// DeleteFields removes fields and returns the count removed.
	DeleteFields(ctx context.Context, jobID string, names []string) (int, error)

	// IncrementFieldByFloat atomically adds delta to a numeric field.
	IncrementFieldByFloat(ctx context.Context, jobID, name string, delta float64) (float64, error)

	// IncrementFieldByFloatWithMarker atomically adds delta to a numeric
	// field and records the resulting total under marker in the same
	// round trip, so a replay of the same (workflowId, dimension, index)
	// mutation can return the recorded total instead of incrementing
	// again (spec Invariant 2, §8 "search.incr... replay yields same total").
	IncrementFieldByFloatWithMarker(ctx context.Context, jobID, name string, delta float64, marker string) (float64, error)

	// MutateContext performs a JSONB-pointer directive against the
	// "context" document and commits its replay marker atomically.
	MutateContext(ctx context.Context, jobID string, mutation ContextMutation) ([]byte, error)

	// Expire sets or clears the job record's TTL. ttlSeconds <= 0 clears it (persistent=true).
	Expire(ctx context.Context, jobID string, ttlSeconds int64) error

	// Delete removes the job record entirely.
	Delete(ctx context.Context, jobID string) error
}
