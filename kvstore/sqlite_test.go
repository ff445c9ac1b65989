package kvstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "kv.db"), "games")
	require.NoError(t, err)
	defer s.Close()

	_, found, err := s.Get(ctx, "outbox")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Set(ctx, "outbox", []byte(`{"entries":[]}`)))
	v, found, err := s.Get(ctx, "outbox")
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `{"entries":[]}`, string(v))

	// Overwrite replaces the value in place
	require.NoError(t, s.Set(ctx, "outbox", []byte(`{"entries":[1]}`)))
	v, _, err = s.Get(ctx, "outbox")
	require.NoError(t, err)
	require.JSONEq(t, `{"entries":[1]}`, string(v))

	require.NoError(t, s.Delete(ctx, "outbox"))
	require.NoError(t, s.Delete(ctx, "outbox"), "delete is idempotent")
	_, found, err = s.Get(ctx, "outbox")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	s1, err := Open(path, "games")
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "query-cache", []byte("snapshot")))
	require.NoError(t, s1.Close())

	s2, err := Open(path, "games")
	require.NoError(t, err)
	defer s2.Close()
	v, found, err := s2.Get(ctx, "query-cache")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "snapshot", string(v))
}

func TestSQLiteStore_ClearIsNamespaceScoped(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	ours, err := Open(path, "overbox")
	require.NoError(t, err)
	defer ours.Close()
	theirs, err := New(ours.DB(), "settings")
	require.NoError(t, err)

	require.NoError(t, ours.Set(ctx, "outbox", []byte("a")))
	require.NoError(t, ours.Set(ctx, "query-cache", []byte("b")))
	require.NoError(t, theirs.Set(ctx, "theme", []byte("dark")))

	require.NoError(t, ours.Clear(ctx))

	_, found, err := ours.Get(ctx, "outbox")
	require.NoError(t, err)
	require.False(t, found)
	_, found, err = ours.Get(ctx, "query-cache")
	require.NoError(t, err)
	require.False(t, found)

	v, found, err := theirs.Get(ctx, "theme")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "dark", string(v))
}

func TestSQLiteStore_ClosedDatabaseIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "kv.db"), "")
	require.NoError(t, err)
	require.Equal(t, DefaultNamespace, s.Namespace())
	require.NoError(t, s.Close())

	err = s.Set(ctx, "k", []byte("v"))
	require.Error(t, err)
	require.True(t, IsUnavailable(err))
}
