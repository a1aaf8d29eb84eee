package redisstore_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hotmeshio/durable-go/store"
	"github.com/hotmeshio/durable-go/store/redisstore"
)

// newTestStore spins up an in-memory miniredis server. The Lua-scripted
// methods (SetFieldsWithMarker, IncrementFieldByFloatWithMarker,
// MutateContext) use cjson and are not exercised here.
func newTestStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return redisstore.New(rdb, "durable:"), mr
}

func TestCreateJobAndGetFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.CreateJob(ctx, "wf-1", map[string][]byte{
		"status": []byte("running"),
		"_score": []byte("1"),
	})
	require.NoError(t, err)

	fields, err := s.GetFields(ctx, "wf-1", []string{"status", "_score", "missing"})
	require.NoError(t, err)
	require.Equal(t, []byte("running"), fields["status"])
	require.Equal(t, []byte("1"), fields["_score"])
	_, present := fields["missing"]
	require.False(t, present)
}

func TestCreateJobRejectsDuplicate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, "wf-1", map[string][]byte{"status": []byte("running")}))
	err := s.CreateJob(ctx, "wf-1", map[string][]byte{"status": []byte("running")})
	require.Error(t, err)
}

func TestSetFieldsAndGetField(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, "wf-1", nil))

	n, err := s.SetFields(ctx, "wf-1", map[string][]byte{"-proxy,0-1-": []byte("42")})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	v, err := s.GetField(ctx, "wf-1", "-proxy,0-1-")
	require.NoError(t, err)
	require.Equal(t, []byte("42"), v)

	_, err = s.GetField(ctx, "wf-1", "does-not-exist")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, "wf-1", map[string][]byte{"a": []byte("1"), "b": []byte("2")}))

	n, err := s.DeleteFields(ctx, "wf-1", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestIncrementFieldByFloat(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, "wf-1", nil))

	total, err := s.IncrementFieldByFloat(ctx, "wf-1", "counter", 2.5)
	require.NoError(t, err)
	require.Equal(t, 2.5, total)

	total, err = s.IncrementFieldByFloat(ctx, "wf-1", "counter", 1.5)
	require.NoError(t, err)
	require.Equal(t, 4.0, total)
}

func TestExpireAndDelete(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, "wf-1", map[string][]byte{"status": []byte("running")}))

	require.NoError(t, s.Expire(ctx, "wf-1", 60))
	require.True(t, mr.Exists("durable:wf-1"))
	ttl := mr.TTL("durable:wf-1")
	require.Greater(t, ttl.Seconds(), float64(0))

	require.NoError(t, s.Delete(ctx, "wf-1"))
	require.False(t, mr.Exists("durable:wf-1"))
}

func TestFindJobFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, "wf-1", map[string][]byte{
		"-proxy,0-1-": []byte("a"),
		"-proxy,0-2-": []byte("b"),
		"status":      []byte("running"),
	}))

	_, fields, err := s.FindJobFields(ctx, "wf-1", "-proxy,0-*-", 10, 0)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	require.Equal(t, []byte("a"), fields["-proxy,0-1-"])
	require.Equal(t, []byte("b"), fields["-proxy,0-2-"])
}
