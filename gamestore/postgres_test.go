package gamestore

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-overbox/remote"
)

func openTestPostgres(t *testing.T) *PostgresRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	repo, err := OpenPostgres(context.Background(), dbURL, logger)
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	return repo
}

func TestPostgresRepository_CRUD(t *testing.T) {
	repo := openTestPostgres(t)
	ctx := context.Background()
	owner := "user-" + uuid.NewString()

	first, err := repo.Create(ctx, owner, "games", remote.Record{"date": "2025-01-01", "opponent": "bob"})
	require.NoError(t, err)
	second, err := repo.Create(ctx, owner, "games", remote.Record{"date": "2025-01-02"})
	require.NoError(t, err)

	items, err := repo.List(ctx, owner, "games")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, first, items[0].ID())
	require.Equal(t, second, items[1].ID())

	require.NoError(t, repo.Update(ctx, owner, "games", first, remote.Record{"opponent": "carol", "moves": float64(42)}))
	items, err = repo.List(ctx, owner, "games")
	require.NoError(t, err)
	require.Equal(t, remote.Record{"id": first, "date": "2025-01-01", "opponent": "carol", "moves": float64(42)}, items[0])

	require.NoError(t, repo.Delete(ctx, owner, "games", first))
	require.ErrorIs(t, repo.Delete(ctx, owner, "games", first), ErrNotFound)
	require.ErrorIs(t, repo.Update(ctx, owner, "games", first, remote.Record{"date": "x"}), ErrNotFound)

	other, err := repo.List(ctx, "someone-else-"+owner, "games")
	require.NoError(t, err)
	require.Empty(t, other)
}
