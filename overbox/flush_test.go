package overbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-overbox/internal/testutil"
	"github.com/mobiletoly/go-overbox/remote"
)

type flushFixture struct {
	outbox  *Outbox
	remote  *testutil.FakeRemote
	clock   *testutil.FakeClock
	flusher *Flusher

	mu        sync.Mutex
	remaps    []Remap
	conflicts []Conflict
}

func newFlushFixture(t *testing.T) *flushFixture {
	t.Helper()
	f := &flushFixture{remote: testutil.NewFakeRemote()}
	f.outbox, _, f.clock = newTestOutbox(t)
	cfg := DefaultConfig()
	cfg.Clock = f.clock
	f.flusher = NewFlusher(f.outbox, f.remote, FlushHooks{
		Remapped: func(r Remap) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.remaps = append(f.remaps, r)
		},
		Conflict: func(c Conflict) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.conflicts = append(f.conflicts, c)
		},
	}, cfg)
	return f
}

func (f *flushFixture) append(t *testing.T, op Op) {
	t.Helper()
	_, err := f.outbox.Append(context.Background(), op)
	require.NoError(t, err)
}

func TestFlush_CreateEditedTwiceSendsOneCreate(t *testing.T) {
	ctx := context.Background()
	f := newFlushFixture(t)

	f.append(t, Op{Collection: "games", EntityID: "local-1", Kind: KindCreate, Payload: Record{"date": "2025-01-01", "opponent": "alice"}})
	f.append(t, Op{Collection: "games", EntityID: "local-1", Kind: KindUpdate, Payload: Record{"date": "2025-01-02"}})
	f.append(t, Op{Collection: "games", EntityID: "local-1", Kind: KindUpdate, Payload: Record{"date": "2025-01-03"}})
	f.append(t, Op{Collection: "moves", EntityID: "local-2", Kind: KindCreate, Payload: Record{"game_id": "local-1", "move": "e4"}})

	report, err := f.flusher.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 2)
	require.Equal(t, []string{"games", "moves"}, report.Collections)

	calls := f.remote.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "create", calls[0].Op)
	require.Equal(t, remote.Record{"date": "2025-01-03", "opponent": "alice"}, calls[0].Payload)
	// The dependent record was sent with the server id, not the LocalID
	require.Equal(t, remote.Record{"game_id": "srv-1", "move": "e4"}, calls[1].Payload)

	require.Equal(t, 0, f.outbox.Len())
	require.Equal(t, []Remap{
		{Collection: "games", LocalID: "local-1", ServerID: "srv-1"},
		{Collection: "moves", LocalID: "local-2", ServerID: "srv-2"},
	}, f.remaps)
}

func TestFlush_CreateThenDeleteMakesNoCalls(t *testing.T) {
	f := newFlushFixture(t)
	f.append(t, Op{Collection: "games", EntityID: "local-1", Kind: KindCreate, Payload: Record{"date": "x"}})
	f.append(t, Op{Collection: "games", EntityID: "local-1", Kind: KindDelete})

	report, err := f.flusher.Flush(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Attempted())
	require.Zero(t, f.remote.CallCount(""))
}

func TestFlush_DeleteOfAbsentEntityIsSuccess(t *testing.T) {
	f := newFlushFixture(t)
	f.append(t, Op{Collection: "games", EntityID: "g-b", Kind: KindDelete})

	report, err := f.flusher.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 1)
	require.Empty(t, report.Failed)
	require.Empty(t, report.Conflicts)
	require.Empty(t, f.conflicts)
	require.Equal(t, 0, f.outbox.Len())
}

func TestFlush_FailureIsolatedPerEntity(t *testing.T) {
	f := newFlushFixture(t)
	f.remote.Seed("games", remote.Record{"id": "c", "date": "1"}, remote.Record{"id": "d", "date": "1"})
	f.append(t, Op{Collection: "games", EntityID: "c", Kind: KindUpdate, Payload: Record{"date": "2"}})
	f.append(t, Op{Collection: "games", EntityID: "d", Kind: KindUpdate, Payload: Record{"date": "2"}})

	f.remote.FailNext("update", "games", "c", remote.Unreachable("update", "games", "c", errors.New("connection reset")))

	report, err := f.flusher.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 1)
	require.Len(t, report.Failed, 1)
	require.Equal(t, "c", report.Failed[0].EntityID)
	require.True(t, remote.IsNetworkUnreachable(report.Failed[0].Err))

	_, ok := f.outbox.Get("games", "d")
	require.False(t, ok)
	left, ok := f.outbox.Get("games", "c")
	require.True(t, ok)
	require.Empty(t, left.Conflict, "network failures are retried, not marked")

	d, _ := f.remote.Record("games", "d")
	require.Equal(t, "2", d["date"])

	// The next flush retries C
	_, err = f.flusher.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, f.outbox.Len())
}

func TestFlush_RejectedEntryMarkedAndSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFlushFixture(t)
	f.remote.Validate = func(_ string, payload remote.Record) error {
		if payload["date"] == "" {
			return errors.New("date is required")
		}
		return nil
	}
	f.append(t, Op{Collection: "games", EntityID: "local-1", Kind: KindCreate, Payload: Record{"date": ""}})

	report, err := f.flusher.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, report.Conflicts, 1)
	require.Equal(t, remote.CodeValidation, report.Conflicts[0].Reason)
	require.Equal(t, "date is required", report.Conflicts[0].Message)
	require.False(t, report.Conflicts[0].Dropped)

	e, ok := f.outbox.Get("games", "local-1")
	require.True(t, ok)
	require.Equal(t, remote.CodeValidation, e.Conflict)

	f.remote.ResetCalls()
	report, err = f.flusher.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Zero(t, f.remote.CallCount(""))

	// Fixing the record clears the mark and the next flush sends it
	f.append(t, Op{Collection: "games", EntityID: "local-1", Kind: KindUpdate, Payload: Record{"date": "2025-01-01"}})
	report, err = f.flusher.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 1)
	require.Equal(t, 0, f.outbox.Len())
}

func TestFlush_LocalPrefixedUserValueIsSent(t *testing.T) {
	ctx := context.Background()
	f := newFlushFixture(t)
	f.append(t, Op{Collection: "games", EntityID: "local-1", Kind: KindCreate, Payload: Record{"date": "2025-01-01", "mode": "local-multiplayer"}})

	report, err := f.flusher.Flush(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Deferred)
	require.Empty(t, report.Conflicts)
	require.Len(t, report.Succeeded, 1)
	require.Equal(t, 0, f.outbox.Len())

	rec, ok := f.remote.Record("games", report.Succeeded[0].ServerID)
	require.True(t, ok)
	require.Equal(t, "local-multiplayer", rec["mode"])
}

func TestFlush_ReferenceToCancelledCreateIsMarked(t *testing.T) {
	ctx := context.Background()
	f := newFlushFixture(t)
	f.remote.Seed("moves", remote.Record{"id": "m1", "game_id": "g0", "move": "e4"})

	game := NewLocalID()
	f.append(t, Op{Collection: "games", EntityID: game, Kind: KindCreate, Payload: Record{"date": "2025-01-01"}})
	f.append(t, Op{Collection: "moves", EntityID: "m1", Kind: KindUpdate, Payload: Record{"game_id": game}})
	f.append(t, Op{Collection: "games", EntityID: game, Kind: KindDelete})
	require.Equal(t, 1, f.outbox.Len())

	report, err := f.flusher.Flush(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Deferred)
	require.Zero(t, report.Attempted())
	require.Len(t, report.Conflicts, 1)
	c := report.Conflicts[0]
	require.Equal(t, ReasonDanglingReference, c.Reason)
	require.Equal(t, "m1", c.EntityID)
	require.False(t, c.Dropped)
	require.Contains(t, c.Message, game)
	require.Len(t, f.conflicts, 1)
	require.Zero(t, f.remote.CallCount(""))

	e, ok := f.outbox.Get("moves", "m1")
	require.True(t, ok)
	require.Equal(t, ReasonDanglingReference, e.Conflict)

	report, err = f.flusher.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)

	// Pointing the move at a real game clears the mark
	f.append(t, Op{Collection: "moves", EntityID: "m1", Kind: KindUpdate, Payload: Record{"game_id": "g1"}})
	report, err = f.flusher.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 1)
	require.Equal(t, 0, f.outbox.Len())
	rec, _ := f.remote.Record("moves", "m1")
	require.Equal(t, "g1", rec["game_id"])
}

func TestFlush_ReferenceToQueuedCreateWaits(t *testing.T) {
	ctx := context.Background()
	f := newFlushFixture(t)
	f.remote.Seed("moves", remote.Record{"id": "m1", "game_id": "g0"})

	game := NewLocalID()
	f.append(t, Op{Collection: "games", EntityID: game, Kind: KindCreate, Payload: Record{"date": "2025-01-01"}})
	f.append(t, Op{Collection: "moves", EntityID: "m1", Kind: KindUpdate, Payload: Record{"game_id": game}})
	f.remote.FailNext("create", "games", "", remote.Unreachable("create", "games", "", errors.New("offline")))

	report, err := f.flusher.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Deferred)
	require.Empty(t, report.Conflicts)
	require.Equal(t, 2, f.outbox.Len())

	report, err = f.flusher.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 2)
	rec, _ := f.remote.Record("moves", "m1")
	require.NotEqual(t, game, rec["game_id"])
	require.False(t, IsLocalID(rec["game_id"].(string)))
}

func TestFlush_StaleUpdateDroppedWithConflict(t *testing.T) {
	f := newFlushFixture(t)
	f.append(t, Op{Collection: "games", EntityID: "gone", Kind: KindUpdate, Payload: Record{"date": "2"}})

	report, err := f.flusher.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Conflicts, 1)
	require.Equal(t, ReasonStale, report.Conflicts[0].Reason)
	require.True(t, report.Conflicts[0].Dropped)
	require.Equal(t, 0, f.outbox.Len())
	require.Len(t, f.conflicts, 1)
}

func TestFlush_SecondFlushWhileRunningIsRefused(t *testing.T) {
	ctx := context.Background()
	f := newFlushFixture(t)
	f.remote.Seed("games", remote.Record{"id": "a"})
	f.append(t, Op{Collection: "games", EntityID: "a", Kind: KindUpdate, Payload: Record{"date": "2"}})

	entered := make(chan struct{})
	release := make(chan struct{})
	f.remote.Hook = func(ctx context.Context, call testutil.Call) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.flusher.Flush(ctx)
		done <- err
	}()

	<-entered
	require.True(t, f.flusher.Running())
	_, err := f.flusher.Flush(ctx)
	require.ErrorIs(t, err, ErrFlushInProgress)

	close(release)
	require.NoError(t, <-done)
	require.False(t, f.flusher.Running())
	require.Equal(t, 1, f.remote.CallCount("update"))
}

func TestFlush_EditDuringInFlightUpdateIsKept(t *testing.T) {
	ctx := context.Background()
	f := newFlushFixture(t)
	f.remote.Seed("games", remote.Record{"id": "a", "date": "1"})
	f.append(t, Op{Collection: "games", EntityID: "a", Kind: KindUpdate, Payload: Record{"date": "2"}})

	edited := false
	f.remote.Hook = func(ctx context.Context, call testutil.Call) error {
		if call.Op == "update" && !edited {
			edited = true
			_, err := f.outbox.Append(ctx, Op{Collection: "games", EntityID: "a", Kind: KindUpdate, Payload: Record{"notes": "late"}})
			require.NoError(t, err)
		}
		return nil
	}

	_, err := f.flusher.Flush(ctx)
	require.NoError(t, err)

	e, ok := f.outbox.Get("games", "a")
	require.True(t, ok, "the newer edit must survive the flush")
	require.Equal(t, Record{"date": "2", "notes": "late"}, e.Payload)

	_, err = f.flusher.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, f.outbox.Len())
	a, _ := f.remote.Record("games", "a")
	require.Equal(t, "late", a["notes"])
}

func TestFlush_DiscardDuringInFlightCreateDeletesServerCopy(t *testing.T) {
	ctx := context.Background()
	f := newFlushFixture(t)
	f.append(t, Op{Collection: "games", EntityID: "local-1", Kind: KindCreate, Payload: Record{"date": "1"}})

	f.remote.Hook = func(ctx context.Context, call testutil.Call) error {
		if call.Op == "create" {
			_, err := f.outbox.Discard(ctx, "games", "local-1")
			require.NoError(t, err)
		}
		return nil
	}

	_, err := f.flusher.Flush(ctx)
	require.NoError(t, err)
	del, ok := f.outbox.Get("games", "srv-1")
	require.True(t, ok)
	require.Equal(t, KindDelete, del.Kind)

	f.remote.Hook = nil
	_, err = f.flusher.Flush(ctx)
	require.NoError(t, err)
	require.Empty(t, f.remote.Records("games"))
}

func TestFlush_CancelledContextStopsPass(t *testing.T) {
	f := newFlushFixture(t)
	f.append(t, Op{Collection: "games", EntityID: "a", Kind: KindDelete})
	f.append(t, Op{Collection: "games", EntityID: "b", Kind: KindDelete})

	ctx, cancel := context.WithCancel(context.Background())
	f.remote.Hook = func(context.Context, testutil.Call) error {
		cancel()
		return nil
	}

	report, err := f.flusher.Flush(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, report.Attempted())
	require.Equal(t, 2, f.outbox.Len(), "the interrupted call failed and the rest were not attempted")
}

// After flushing everything, the plain server view equals what the overlay
// showed before the flush.
func TestFlush_ServerStateMatchesOverlay(t *testing.T) {
	ctx := context.Background()
	f := newFlushFixture(t)
	f.remote.Seed("games",
		remote.Record{"id": "g1", "date": "1", "opponent": "alice"},
		remote.Record{"id": "g2", "date": "1", "opponent": "bob"},
		remote.Record{"id": "g3", "date": "1", "opponent": "carol"},
	)
	f.append(t, Op{Collection: "games", EntityID: "g1", Kind: KindUpdate, Payload: Record{"date": "2"}})
	f.append(t, Op{Collection: "games", EntityID: "g2", Kind: KindDelete})
	f.clock.Advance(time.Second)
	f.append(t, Op{Collection: "games", EntityID: "local-1", Kind: KindCreate, Payload: Record{"date": "3", "opponent": "dave"}})

	before := Merge(f.remote.Records("games"), f.outbox.List("games"))

	_, err := f.flusher.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, f.outbox.Len())

	after := Merge(f.remote.Records("games"), nil)
	require.Len(t, after, len(before))
	for i := range before {
		want := before[i].Clone()
		if want[FieldPending] == true {
			delete(want, FieldPending)
			want[FieldID] = f.remaps[0].ServerID
		}
		require.Equal(t, want, after[i])
	}
}
