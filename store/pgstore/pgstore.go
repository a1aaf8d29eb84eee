// Package pgstore implements store.Store atop a relational table with
// a JSONB column, the alternative backend named in spec §6.1. Each job
// record is one row: flat replay-slot/status fields live in a JSONB
// "fields" map, the user document lives in a JSONB "context" column,
// and mutations use Postgres's jsonb_set/#>/|| operators so the
// mutation and its replay marker commit inside one transaction.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/hotmeshio/durable-go/store"
)

// Store is a Postgres-backed store.Store.
type Store struct {
	db    *sqlx.DB
	table string
}

// New wraps an existing *sqlx.DB. table must already exist with the shape:
//
//	CREATE TABLE <table> (
//	  job_id      TEXT PRIMARY KEY,
//	  context     JSONB NOT NULL DEFAULT '{}'::jsonb,
//	  fields      JSONB NOT NULL DEFAULT '{}'::jsonb,
//	  expire_at   TIMESTAMPTZ
//	);
func New(db *sqlx.DB, table string) *Store {
	return &Store{db: db, table: table}
}

func (s *Store) CreateJob(ctx context.Context, jobID string, fields map[string][]byte) error {
	fieldsJSON, err := encodeFields(fields)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (job_id, context, fields) VALUES ($1, '{}'::jsonb, $2)`, s.table)
	if _, err := s.db.ExecContext(ctx, q, jobID, fieldsJSON); err != nil {
		return errors.Wrap(err, "pgstore: create job")
	}
	return nil
}

func (s *Store) FindJobFields(ctx context.Context, jobID string, pattern string, maxFields, maxBytes int) (string, map[string][]byte, error) {
	all, err := s.loadFields(ctx, jobID)
	if err != nil {
		return "", nil, err
	}
	matched := make(map[string][]byte)
	totalBytes := 0
	prefix, suffix := splitStarPattern(pattern)
	for k, v := range all {
		if !matchesPattern(k, prefix, suffix) {
			continue
		}
		matched[k] = v
		totalBytes += len(v)
		if len(matched) >= maxFields || (maxBytes > 0 && totalBytes >= maxBytes) {
			return "more", matched, nil
		}
	}
	return "", matched, nil
}

func (s *Store) SetFields(ctx context.Context, jobID string, fields map[string][]byte) (int, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	patch, err := encodeFields(fields)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf(`UPDATE %s SET fields = fields || $2::jsonb WHERE job_id = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, q, jobID, patch); err != nil {
		return 0, errors.Wrap(err, "pgstore: set fields")
	}
	return len(fields), nil
}

// SetFieldsWithMarker writes fields and the replay marker in one UPDATE
// so both commit in a single statement.
func (s *Store) SetFieldsWithMarker(ctx context.Context, jobID string, fields map[string][]byte, marker string, markerValue []byte) (int, error) {
	if len(fields) == 0 && marker == "" {
		return 0, nil
	}
	all := make(map[string][]byte, len(fields)+1)
	for k, v := range fields {
		all[k] = v
	}
	if marker != "" {
		all[marker] = markerValue
	}
	patch, err := encodeFields(all)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf(`UPDATE %s SET fields = fields || $2::jsonb WHERE job_id = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, q, jobID, patch); err != nil {
		return 0, errors.Wrap(err, "pgstore: set fields with marker")
	}
	return len(fields), nil
}

func (s *Store) GetField(ctx context.Context, jobID, name string) ([]byte, error) {
	fields, err := s.GetFields(ctx, jobID, []string{name})
	if err != nil {
		return nil, err
	}
	v, ok := fields[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}

func (s *Store) GetFields(ctx context.Context, jobID string, names []string) (map[string][]byte, error) {
	all, err := s.loadFields(ctx, jobID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(names))
	for _, n := range names {
		if v, ok := all[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

func (s *Store) DeleteFields(ctx context.Context, jobID string, names []string) (int, error) {
	if len(names) == 0 {
		return 0, nil
	}
	q := fmt.Sprintf(`UPDATE %s SET fields = fields - $2::text[] WHERE job_id = $1`, s.table)
	pqArray := "{" + strings.Join(names, ",") + "}"
	if _, err := s.db.ExecContext(ctx, q, jobID, pqArray); err != nil {
		return 0, errors.Wrap(err, "pgstore: delete fields")
	}
	return len(names), nil
}

func (s *Store) IncrementFieldByFloat(ctx context.Context, jobID, name string, delta float64) (float64, error) {
	q := fmt.Sprintf(`
		UPDATE %s
		SET fields = jsonb_set(
			fields, ARRAY[$2],
			to_jsonb(COALESCE((fields->>$2)::float8, 0) + $3)
		)
		WHERE job_id = $1
		RETURNING (fields->>$2)::float8
	`, s.table)
	var result float64
	if err := s.db.GetContext(ctx, &result, q, jobID, name, delta); err != nil {
		return 0, errors.Wrap(err, "pgstore: increment field")
	}
	return result, nil
}

// IncrementFieldByFloatWithMarker increments name by delta and records
// the resulting total under marker in the same UPDATE/RETURNING round
// trip, both inside the statement's own implicit transaction.
func (s *Store) IncrementFieldByFloatWithMarker(ctx context.Context, jobID, name string, delta float64, marker string) (float64, error) {
	q := fmt.Sprintf(`
		UPDATE %s
		SET fields = jsonb_set(
			jsonb_set(
				fields, ARRAY[$2],
				to_jsonb(COALESCE((fields->>$2)::float8, 0) + $3)
			),
			ARRAY[$4],
			to_jsonb(COALESCE((fields->>$2)::float8, 0) + $3)
		)
		WHERE job_id = $1
		RETURNING (fields->>$2)::float8
	`, s.table)
	var result float64
	if err := s.db.GetContext(ctx, &result, q, jobID, name, delta, marker); err != nil {
		return 0, errors.Wrap(err, "pgstore: increment field with marker")
	}
	return result, nil
}

func (s *Store) MutateContext(ctx context.Context, jobID string, mutation store.ContextMutation) ([]byte, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "pgstore: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	pathArray := jsonbPathArray(mutation.Path)
	var updateSQL string
	switch mutation.Op {
	case store.OpSet:
		if mutation.Path == "" {
			updateSQL = fmt.Sprintf(`UPDATE %s SET context = $2::jsonb WHERE job_id = $1`, s.table)
		} else {
			updateSQL = fmt.Sprintf(`UPDATE %s SET context = jsonb_set(context, %s, $2::jsonb, true) WHERE job_id = $1`, s.table, pathArray)
		}
	case store.OpMerge:
		if mutation.Path == "" {
			updateSQL = fmt.Sprintf(`UPDATE %s SET context = context || $2::jsonb WHERE job_id = $1`, s.table)
		} else {
			updateSQL = fmt.Sprintf(`UPDATE %s SET context = jsonb_set(context, %s, COALESCE(context #> %s, '{}'::jsonb) || $2::jsonb, true) WHERE job_id = $1`, s.table, pathArray, pathArray)
		}
	case store.OpDelete, store.OpRemove:
		updateSQL = fmt.Sprintf(`UPDATE %s SET context = context #- %s WHERE job_id = $1`, s.table, pathArray)
	case store.OpAppend:
		updateSQL = fmt.Sprintf(`UPDATE %s SET context = jsonb_set(context, %s, COALESCE(context #> %s, '[]'::jsonb) || jsonb_build_array($2::jsonb), true) WHERE job_id = $1`, s.table, pathArray, pathArray)
	case store.OpPrepend:
		updateSQL = fmt.Sprintf(`UPDATE %s SET context = jsonb_set(context, %s, jsonb_build_array($2::jsonb) || COALESCE(context #> %s, '[]'::jsonb), true) WHERE job_id = $1`, s.table, pathArray, pathArray)
	case store.OpIncrement:
		updateSQL = fmt.Sprintf(`UPDATE %s SET context = jsonb_set(context, %s, to_jsonb(COALESCE((context #>> %s)::numeric, 0) + ($2::jsonb)::numeric), true) WHERE job_id = $1`, s.table, pathArray, pathArray)
	case store.OpToggle:
		updateSQL = fmt.Sprintf(`UPDATE %s SET context = jsonb_set(context, %s, to_jsonb(NOT COALESCE((context #>> %s)::boolean, false)), true) WHERE job_id = $1`, s.table, pathArray, pathArray)
	case store.OpSetIfNotExists:
		updateSQL = fmt.Sprintf(`UPDATE %s SET context = jsonb_set(context, %s, $2::jsonb, true) WHERE job_id = $1 AND context #> %s IS NULL`, s.table, pathArray, pathArray)
	default:
		return nil, errors.Errorf("pgstore: unsupported context op %q", mutation.Op)
	}

	valueJSON := mutation.Value
	if valueJSON == nil {
		valueJSON = []byte("null")
	}
	if _, err := tx.ExecContext(ctx, updateSQL, jobID, string(valueJSON)); err != nil {
		return nil, errors.Wrap(err, "pgstore: mutate context")
	}
	if mutation.ReplayMarker != "" {
		markerSQL := fmt.Sprintf(`UPDATE %s SET fields = jsonb_set(fields, ARRAY[$2], $3::jsonb, true) WHERE job_id = $1`, s.table)
		if _, err := tx.ExecContext(ctx, markerSQL, jobID, mutation.ReplayMarker, string(mustJSON(mutation.ReplayValue))); err != nil {
			return nil, errors.Wrap(err, "pgstore: mutate context marker")
		}
	}

	var result []byte
	if err := tx.GetContext(ctx, &result, fmt.Sprintf(`SELECT context FROM %s WHERE job_id = $1`, s.table), jobID); err != nil {
		return nil, errors.Wrap(err, "pgstore: read mutated context")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "pgstore: commit mutate context")
	}
	return result, nil
}

func (s *Store) Expire(ctx context.Context, jobID string, ttlSeconds int64) error {
	q := fmt.Sprintf(`UPDATE %s SET expire_at = CASE WHEN $2::bigint <= 0 THEN NULL ELSE now() + make_interval(secs => $2) END WHERE job_id = $1`, s.table)
	_, err := s.db.ExecContext(ctx, q, jobID, ttlSeconds)
	return errors.Wrap(err, "pgstore: expire")
}

func (s *Store) Delete(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job_id = $1`, s.table), jobID)
	return errors.Wrap(err, "pgstore: delete")
}

func (s *Store) loadFields(ctx context.Context, jobID string) (map[string][]byte, error) {
	var raw []byte
	q := fmt.Sprintf(`SELECT fields FROM %s WHERE job_id = $1`, s.table)
	if err := s.db.GetContext(ctx, &raw, q, jobID); err != nil {
		return nil, errors.Wrap(err, "pgstore: load fields")
	}
	var asStrings map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asStrings); err != nil {
		return nil, errors.Wrap(err, "pgstore: decode fields")
	}
	out := make(map[string][]byte, len(asStrings))
	for k, v := range asStrings {
		var s string
		if json.Unmarshal(v, &s) == nil {
			out[k] = []byte(s)
		} else {
			out[k] = v
		}
	}
	return out, nil
}

func encodeFields(fields map[string][]byte) ([]byte, error) {
	m := make(map[string]string, len(fields))
	for k, v := range fields {
		m[k] = string(v)
	}
	return json.Marshal(m)
}

func mustJSON(b []byte) []byte {
	if b == nil {
		return []byte("null")
	}
	if json.Valid(b) {
		return b
	}
	out, _ := json.Marshal(string(b))
	return out
}

// jsonbPathArray renders a "/"-delimited pointer path as a Postgres
// TEXT[] literal suitable for jsonb_set/#>/#- operators.
func jsonbPathArray(path string) string {
	if path == "" {
		return `'{}'`
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	return "ARRAY[" + strings.Join(quoteAll(parts), ",") + "]"
}

func quoteAll(parts []string) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = "'" + strings.ReplaceAll(p, "'", "''") + "'"
	}
	return out
}

func splitStarPattern(pattern string) (prefix, suffix string) {
	idx := strings.Index(pattern, "*")
	if idx < 0 {
		return pattern, ""
	}
	return pattern[:idx], pattern[idx+1:]
}

func matchesPattern(key, prefix, suffix string) bool {
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	rest := key[len(prefix):]
	idx := strings.Index(suffix, "*")
	if idx < 0 {
		return strings.HasSuffix(rest, suffix)
	}
	// suffix holds a further "*": try every split point for it.
	for i := 0; i <= len(rest); i++ {
		if matchesPattern(rest[i:], suffix[:idx], suffix[idx+1:]) {
			return true
		}
	}
	return false
}
