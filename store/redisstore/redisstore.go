// Package redisstore implements store.Store as a literal Redis HASH per
// job record, grounded on the key-value substrate named in spec §6.1.
// Replay slots, status metadata and user search fields are flat HASH
// fields; the "context" document lives in its own field as a JSON blob
// mutated through a Lua script so each mutation commits atomically with
// its replay marker.
package redisstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hotmeshio/durable-go/store"
)

func parseRedisFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	default:
		return 0, errors.Errorf("redisstore: unexpected numeric result type %T", v)
	}
}

const contextField = "context"

// Store is a Redis-backed store.Store.
type Store struct {
	rdb    *redis.Client
	prefix string

	mutateScript    *redis.Script
	setMarkerScript *redis.Script
	incrMarkerScript *redis.Script
}

// New wraps an existing *redis.Client. keyPrefix namespaces job keys,
// e.g. "durable:" so multiple engines can share one Redis instance.
func New(rdb *redis.Client, keyPrefix string) *Store {
	return &Store{
		rdb:              rdb,
		prefix:           keyPrefix,
		mutateScript:     redis.NewScript(mutateContextLua),
		setMarkerScript:  redis.NewScript(setFieldsWithMarkerLua),
		incrMarkerScript: redis.NewScript(incrFieldWithMarkerLua),
	}
}

func (s *Store) key(jobID string) string {
	return s.prefix + jobID
}

// CreateJob creates the HASH if it does not already exist: an EXISTS check
// followed by one HSET of all fields. The check and the write are two
// separate commands, not one atomic step. With no fields, nothing is written.
func (s *Store) CreateJob(ctx context.Context, jobID string, fields map[string][]byte) error {
	key := s.key(jobID)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return errors.Wrap(err, "redisstore: create job exists check")
	}
	if exists > 0 {
		return errors.Errorf("redisstore: job %s already exists", jobID)
	}
	if len(fields) == 0 {
		return nil
	}
	flat := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		flat[k] = v
	}
	if err := s.rdb.HSet(ctx, key, flat).Err(); err != nil {
		return errors.Wrap(err, "redisstore: create job hset")
	}
	return nil
}

// FindJobFields does a best-effort prefix match using HSCAN MATCH, which
// is itself a cursor-based, non-atomic scan over the hash — callers must
// already tolerate partial pages per spec §4.1 step 1.
func (s *Store) FindJobFields(ctx context.Context, jobID string, pattern string, maxFields, maxBytes int) (string, map[string][]byte, error) {
	key := s.key(jobID)
	result := make(map[string][]byte)
	var cursor uint64
	totalBytes := 0
	for {
		var keys []string
		var nextCursor uint64
		var err error
		keys, nextCursor, err = s.rdb.HScan(ctx, key, cursor, pattern, int64(maxFields)).Result()
		if err != nil {
			return "", nil, errors.Wrap(err, "redisstore: hscan")
		}
		for i := 0; i+1 < len(keys); i += 2 {
			fieldName, fieldVal := keys[i], keys[i+1]
			result[fieldName] = []byte(fieldVal)
			totalBytes += len(fieldVal)
			if len(result) >= maxFields || (maxBytes > 0 && totalBytes >= maxBytes) {
				return fmt.Sprintf("%d", nextCursor), result, nil
			}
		}
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return "", result, nil
}

func (s *Store) SetFields(ctx context.Context, jobID string, fields map[string][]byte) (int, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	flat := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		flat[k] = v
	}
	if err := s.rdb.HSet(ctx, s.key(jobID), flat).Err(); err != nil {
		return 0, errors.Wrap(err, "redisstore: set fields")
	}
	return len(fields), nil
}

// setFieldsWithMarkerLua writes every field and the replay marker in a
// single HSET, so both land atomically in one Redis command.
// KEYS[1] = hash key, ARGV = flattened [field, value, ...] pairs
// followed by the marker field/value as the final pair.
const setFieldsWithMarkerLua = `
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`

// SetFieldsWithMarker writes fields and marker in one HSET call.
func (s *Store) SetFieldsWithMarker(ctx context.Context, jobID string, fields map[string][]byte, marker string, markerValue []byte) (int, error) {
	if len(fields) == 0 && marker == "" {
		return 0, nil
	}
	argv := make([]interface{}, 0, len(fields)*2+2)
	for k, v := range fields {
		argv = append(argv, k, v)
	}
	if marker != "" {
		argv = append(argv, marker, markerValue)
	}
	if err := s.setMarkerScript.Run(ctx, s.rdb, []string{s.key(jobID)}, argv...).Err(); err != nil {
		return 0, errors.Wrap(err, "redisstore: set fields with marker")
	}
	return len(fields), nil
}

// incrFieldWithMarkerLua performs HINCRBYFLOAT and records the resulting
// total under the marker field in the same call, so a replay can read
// the recorded total back out instead of incrementing twice.
// KEYS[1] = hash key, ARGV[1] = field, ARGV[2] = delta, ARGV[3] = marker field.
const incrFieldWithMarkerLua = `
local total = redis.call('HINCRBYFLOAT', KEYS[1], ARGV[1], ARGV[2])
if ARGV[3] ~= '' then
  redis.call('HSET', KEYS[1], ARGV[3], total)
end
return total
`

// IncrementFieldByFloatWithMarker atomically increments name by delta
// and records the resulting total under marker.
func (s *Store) IncrementFieldByFloatWithMarker(ctx context.Context, jobID, name string, delta float64, marker string) (float64, error) {
	result, err := s.incrMarkerScript.Run(ctx, s.rdb, []string{s.key(jobID)}, name, delta, marker).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redisstore: incrbyfloat with marker")
	}
	return parseRedisFloat(result)
}

func (s *Store) GetField(ctx context.Context, jobID, name string) ([]byte, error) {
	v, err := s.rdb.HGet(ctx, s.key(jobID), name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "redisstore: get field")
	}
	return v, nil
}

func (s *Store) GetFields(ctx context.Context, jobID string, names []string) (map[string][]byte, error) {
	if len(names) == 0 {
		return nil, nil
	}
	values, err := s.rdb.HMGet(ctx, s.key(jobID), names...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redisstore: get fields")
	}
	out := make(map[string][]byte, len(names))
	for i, name := range names {
		if values[i] == nil {
			continue
		}
		if str, ok := values[i].(string); ok {
			out[name] = []byte(str)
		}
	}
	return out, nil
}

func (s *Store) DeleteFields(ctx context.Context, jobID string, names []string) (int, error) {
	if len(names) == 0 {
		return 0, nil
	}
	n, err := s.rdb.HDel(ctx, s.key(jobID), names...).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redisstore: delete fields")
	}
	return int(n), nil
}

func (s *Store) IncrementFieldByFloat(ctx context.Context, jobID, name string, delta float64) (float64, error) {
	v, err := s.rdb.HIncrByFloat(ctx, s.key(jobID), name, delta).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redisstore: incrbyfloat")
	}
	return v, nil
}

// mutateContextLua applies one JSONB-pointer-style directive to the
// context field and writes the replay marker in the same call,
// guaranteeing the pair commits atomically (Design Note "Entity JSONB ops").
// KEYS[1] = hash key, ARGV[1] = op, ARGV[2] = path, ARGV[3] = value json,
// ARGV[4] = replay marker field, ARGV[5] = replay marker value.
const mutateContextLua = `
local raw = redis.call('HGET', KEYS[1], 'context')
local doc
if raw then
  doc = cjson.decode(raw)
else
  doc = {}
end

local function navigate(d, path, create)
  if path == '' or path == '/' then
    return d, nil
  end
  local parts = {}
  for p in string.gmatch(path, '[^/]+') do
    table.insert(parts, p)
  end
  local cur = d
  for i = 1, #parts - 1 do
    if cur[parts[i]] == nil then
      if create then cur[parts[i]] = {} else return nil, nil end
    end
    cur = cur[parts[i]]
  end
  return cur, parts[#parts]
end

local op = ARGV[1]
local path = ARGV[2]
local value = ARGV[3]
local decoded
if value ~= '' then
  decoded = cjson.decode(value)
end

if op == '@context' then
  if path == '' then
    doc = decoded
  else
    local parent, leaf = navigate(doc, path, true)
    parent[leaf] = decoded
  end
elseif op == '@context:merge' then
  local parent, leaf = navigate(doc, path, true)
  local target = leaf and parent[leaf] or parent
  if type(target) ~= 'table' then target = {} end
  for k, v in pairs(decoded) do target[k] = v end
  if leaf then parent[leaf] = target else doc = target end
elseif op == '@context:delete' or op == '@context:remove' then
  local parent, leaf = navigate(doc, path, false)
  if parent and leaf then parent[leaf] = nil end
elseif op == '@context:append' then
  local parent, leaf = navigate(doc, path, true)
  local target = leaf and parent[leaf] or parent
  if type(target) ~= 'table' then target = {} end
  table.insert(target, decoded)
  if leaf then parent[leaf] = target else doc = target end
elseif op == '@context:prepend' then
  local parent, leaf = navigate(doc, path, true)
  local target = leaf and parent[leaf] or parent
  if type(target) ~= 'table' then target = {} end
  table.insert(target, 1, decoded)
  if leaf then parent[leaf] = target else doc = target end
elseif op == '@context:increment' then
  local parent, leaf = navigate(doc, path, true)
  local cur = (leaf and parent[leaf]) or 0
  if type(cur) ~= 'number' then cur = 0 end
  parent[leaf] = cur + decoded
elseif op == '@context:toggle' then
  local parent, leaf = navigate(doc, path, true)
  local cur = leaf and parent[leaf]
  parent[leaf] = not (cur == true)
elseif op == '@context:setIfNotExists' then
  local parent, leaf = navigate(doc, path, true)
  if parent[leaf] == nil then
    parent[leaf] = decoded
  end
end

redis.call('HSET', KEYS[1], 'context', cjson.encode(doc))
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[1], ARGV[4], ARGV[5])
end
return cjson.encode(doc)
`

func (s *Store) MutateContext(ctx context.Context, jobID string, mutation store.ContextMutation) ([]byte, error) {
	key := s.key(jobID)
	valueJSON := ""
	if mutation.Value != nil {
		valueJSON = string(mutation.Value)
	}
	result, err := s.mutateScript.Run(ctx, s.rdb, []string{key},
		string(mutation.Op), mutation.Path, valueJSON, mutation.ReplayMarker, string(mutation.ReplayValue),
	).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redisstore: mutate context")
	}
	str, ok := result.(string)
	if !ok {
		return nil, errors.New("redisstore: unexpected mutate result type")
	}
	return []byte(str), nil
}

func (s *Store) Expire(ctx context.Context, jobID string, ttlSeconds int64) error {
	key := s.key(jobID)
	if ttlSeconds <= 0 {
		return s.rdb.Persist(ctx, key).Err()
	}
	return s.rdb.Expire(ctx, key, secondsToDuration(ttlSeconds)).Err()
}

func (s *Store) Delete(ctx context.Context, jobID string) error {
	return s.rdb.Del(ctx, s.key(jobID)).Err()
}
