package kv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the contract every backend must satisfy.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "profile:alice", []byte("v1")))
	got, err := s.Get(ctx, "profile:alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, s.Put(ctx, "profile:alice", []byte("v2")))
	got, err = s.Get(ctx, "profile:alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, s.Delete(ctx, "profile:alice"))
	_, err = s.Get(ctx, "profile:alice")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "never-existed"))
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	exerciseStore(t, m)

	// Stored values are isolated from caller mutation.
	buf := []byte("abc")
	require.NoError(t, m.Put(context.Background(), "k", buf))
	buf[0] = 'z'
	got, _ := m.Get(context.Background(), "k")
	assert.Equal(t, "abc", string(got))
	assert.Equal(t, 1, m.Len())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"), nil)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStore_ReopenKeepsDataAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	s, err := OpenSQLite(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "memory:bob", []byte(`{"entries":[]}`)))
	require.NoError(t, s.Put(ctx, "profile:bob", []byte(`{}`)))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "memory:bob")
	require.NoError(t, err)
	assert.JSONEq(t, `{"entries":[]}`, string(got))

	keys, err := s.Keys(ctx, "profile:")
	require.NoError(t, err)
	assert.Equal(t, []string{"profile:bob"}, keys)

	var applied int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 2, applied)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("KOTOBA_TEST_REDIS_URL")
	if url == "" {
		t.Skip("KOTOBA_TEST_REDIS_URL not set")
	}
	r, err := OpenRedis(context.Background(), url, "kotoba-test:")
	require.NoError(t, err)
	defer r.Close()
	exerciseStore(t, r)
}

func TestJSONHelpers(t *testing.T) {
	type snap struct {
		User  string  `json:"user"`
		Rates []int   `json:"rates"`
		Score float64 `json:"score"`
	}
	ctx := context.Background()
	m := NewMemory()
	in := snap{User: "carol", Rates: []int{1, 2}, Score: 0.25}
	require.NoError(t, PutJSON(ctx, m, Key("snap", "carol"), in))

	var out snap
	require.NoError(t, GetJSON(ctx, m, "snap:carol", &out))
	assert.Equal(t, in, out)

	require.ErrorIs(t, GetJSON(ctx, m, "snap:nobody", &out), ErrNotFound)

	require.NoError(t, m.Put(ctx, "snap:bad", []byte("{not json")))
	err := GetJSON(ctx, m, "snap:bad", &out)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
