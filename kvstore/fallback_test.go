package kvstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFallback_UsesPrimaryWhileHealthy(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore("games")
	f := NewFallback(primary, "", nil)

	require.NoError(t, f.Set(ctx, "k", []byte("v")))
	require.False(t, f.Degraded())
	require.Equal(t, 1, primary.Len())
	require.Equal(t, "games", f.Namespace())
}

func TestFallback_DegradesToMemoryOnUnavailableStorage(t *testing.T) {
	ctx := context.Background()
	primary, err := Open(filepath.Join(t.TempDir(), "kv.db"), "games")
	require.NoError(t, err)
	f := NewFallback(primary, "", nil)

	require.NoError(t, f.Set(ctx, "before", []byte("1")))
	require.NoError(t, primary.Close())

	// The write that hits the closed database succeeds against memory
	require.NoError(t, f.Set(ctx, "after", []byte("2")))
	require.True(t, f.Degraded())

	v, found, err := f.Get(ctx, "after")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2", string(v))

	require.NoError(t, f.Clear(ctx))
	_, found, err = f.Get(ctx, "after")
	require.NoError(t, err)
	require.False(t, found)
}

func TestOpenDurable_UnopenablePathIsMemoryOnly(t *testing.T) {
	ctx := context.Background()
	f := OpenDurable(filepath.Join(t.TempDir(), "missing-dir", "nested", "kv.db"), "games", nil)
	require.True(t, f.Degraded())

	require.NoError(t, f.Set(ctx, "k", []byte("v")))
	v, found, err := f.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", string(v))
	require.NoError(t, f.Close())
}
