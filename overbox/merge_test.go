package overbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func serverGames() []Record {
	return []Record{
		{"id": "g1", "date": "2025-01-01", "opponent": "alice"},
		{"id": "g2", "date": "2025-01-02", "opponent": "bob"},
		{"id": "g3", "date": "2025-01-03", "opponent": "carol"},
	}
}

func TestMerge_EmptyOutboxIsIdentity(t *testing.T) {
	server := serverGames()
	require.Equal(t, server, Merge(server, nil))
	require.Equal(t, []Record{}, Merge(nil, nil))
}

func TestMerge_DeleteExcludesEntity(t *testing.T) {
	server := serverGames()
	out := Merge(server, []Entry{{Collection: "games", EntityID: "g2", Kind: KindDelete}})

	require.Len(t, out, 2)
	for _, r := range out {
		require.NotEqual(t, "g2", r.ID())
	}
}

func TestMerge_UpdateOverlaysFields(t *testing.T) {
	server := serverGames()
	out := Merge(server, []Entry{
		{Collection: "games", EntityID: "g1", Kind: KindUpdate, Payload: Record{"opponent": "dave", "notes": "rematch"}},
		{Collection: "games", EntityID: "missing", Kind: KindUpdate, Payload: Record{"opponent": "eve"}},
	})

	require.Len(t, out, 3)
	require.Equal(t, Record{"id": "g1", "date": "2025-01-01", "opponent": "dave", "notes": "rematch"}, out[0])
	// Inputs are untouched
	require.Equal(t, "alice", server[0]["opponent"])
}

func TestMerge_PendingCreatesAppended(t *testing.T) {
	entries := []Entry{
		{Collection: "games", EntityID: "local-a", Kind: KindCreate, Payload: Record{"date": "2025-02-01"}},
		{Collection: "games", EntityID: "local-b", Kind: KindCreate, Payload: Record{"date": "2025-02-02"}},
	}

	out := Merge(serverGames(), entries)
	require.Len(t, out, 5)
	require.Equal(t, "g1", out[0].ID())
	require.Equal(t, Record{"id": "local-a", "date": "2025-02-01", "pending": true}, out[3])
	require.Equal(t, "local-b", out[4].ID())

	first := MergeWith(serverGames(), entries, MergeOptions{PendingFirst: true})
	require.Equal(t, "local-a", first[0].ID())
	require.Equal(t, "g3", first[4].ID())

	// The entry payload is not modified by the overlay
	require.NotContains(t, entries[0].Payload, "pending")
}

func TestMergeEntity(t *testing.T) {
	item := Record{"id": "g1", "date": "2025-01-01"}

	got, ok := MergeEntity(item, nil)
	require.True(t, ok)
	require.Equal(t, item, got)

	got, ok = MergeEntity(item, &Entry{EntityID: "g1", Kind: KindUpdate, Payload: Record{"date": "2025-01-05"}})
	require.True(t, ok)
	require.Equal(t, "2025-01-05", got["date"])

	_, ok = MergeEntity(item, &Entry{EntityID: "g1", Kind: KindDelete})
	require.False(t, ok)

	got, ok = MergeEntity(nil, &Entry{EntityID: "local-a", Kind: KindCreate, Payload: Record{"date": "x"}})
	require.True(t, ok)
	require.Equal(t, true, got[FieldPending])

	_, ok = MergeEntity(nil, nil)
	require.False(t, ok)
}
