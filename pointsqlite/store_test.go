package pointsqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/mobiletoly/go-pointcard/pointsync"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesLatestSchema(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	v, err := SchemaVersion(ctx, st.DB())
	require.NoError(t, err)
	require.Equal(t, LatestSchemaVersion, v)
	require.NotEmpty(t, st.SourceID())

	expected := []string{
		"groups", "user_memberships", "user_cache", "gifts", "user_tickets", "rank_configs",
		"card_designs", "user_designs", "group_members", "transfer_rules", "transfer_codes",
		"transfer_logs", "pending_scans", "device_prefs",
	}
	for _, table := range expected {
		var count int
		err := st.DB().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 1, count, "Table %s should exist", table)
	}

	g, err := st.Groups.Get(ctx, pointsync.DefaultGroupID)
	require.NoError(t, err)
	require.Equal(t, "Default", g.Name)
}

func TestSourceIDSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := tempStorePath(t)

	st, err := Open(ctx, path, discardLogger)
	require.NoError(t, err)
	first := st.SourceID()
	require.NoError(t, st.Close())

	st, err = Open(ctx, path, discardLogger)
	require.NoError(t, err)
	defer st.Close()
	require.Equal(t, first, st.SourceID())

	var journalMode string
	require.NoError(t, st.DB().QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	require.Equal(t, "wal", journalMode)
}

func TestTablePutGetDelete(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	_, err := st.Memberships.Get(ctx, "alice", int64(1))
	require.ErrorIs(t, err, ErrNotFound)

	updated := time.UnixMilli(1_700_000_000_123)
	m := Membership{UserID: "alice", GroupID: 1, Points: 40, TotalPoints: 90, Rank: "GOLD", UpdatedAt: updated}
	require.NoError(t, st.Memberships.Put(ctx, m))

	got, err := st.Memberships.Get(ctx, "alice", int64(1))
	require.NoError(t, err)
	require.Equal(t, m.Points, got.Points)
	require.Equal(t, m.TotalPoints, got.TotalPoints)
	require.Equal(t, "GOLD", got.Rank)
	require.True(t, updated.Equal(got.UpdatedAt))

	// Put on an existing key replaces it.
	m.Points = 10
	require.NoError(t, st.Memberships.Put(ctx, m))
	got, err = st.Memberships.Get(ctx, "alice", int64(1))
	require.NoError(t, err)
	require.EqualValues(t, 10, got.Points)

	require.NoError(t, st.Memberships.Delete(ctx, "alice", int64(1)))
	require.NoError(t, st.Memberships.Delete(ctx, "alice", int64(1)), "deleting a missing record is not an error")
	_, err = st.Memberships.Get(ctx, "alice", int64(1))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = st.Memberships.Get(ctx, "alice")
	require.Error(t, err, "wrong key arity")
}

func TestTableBulkPutIsAtomic(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	good := Ticket{ID: "t1", UserID: "alice", GroupID: 1, GiftID: "g1", Status: pointsync.TicketUnused, AcquiredAt: time.Now()}
	bad := Ticket{ID: "t2", UserID: "alice", GroupID: 1, GiftID: "g1", Status: "LOST", AcquiredAt: time.Now()}

	err := st.Tickets.BulkPut(ctx, []Ticket{good, bad})
	require.Error(t, err)

	all, err := st.Tickets.All(ctx, "")
	require.NoError(t, err)
	require.Empty(t, all, "a failed bulk put writes nothing")

	require.NoError(t, st.Tickets.BulkPut(ctx, []Ticket{good}))
	all, err = st.Tickets.All(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Nil(t, all[0].UsedAt)
}

func TestTableQueryIsLazyAndRestartable(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.Gifts.BulkPut(ctx, []Gift{
		{ID: "a", GroupID: 1, Name: "Coffee", PointsCost: 10, Active: true},
		{ID: "b", GroupID: 1, Name: "Cake", PointsCost: 30, Active: true},
		{ID: "c", GroupID: 2, Name: "Tea", PointsCost: 5, Active: false},
	}))

	seq := st.Gifts.Query(ctx, "group_id = ? ORDER BY id", int64(1))

	// Inserted after the sequence was built, still visible when it is ranged.
	require.NoError(t, st.Gifts.Put(ctx, Gift{ID: "d", GroupID: 1, Name: "Cookie", PointsCost: 3, Active: true}))

	collect := func() []string {
		var ids []string
		for g, err := range seq {
			require.NoError(t, err)
			ids = append(ids, g.ID)
		}
		return ids
	}
	require.Equal(t, []string{"a", "b", "d"}, collect())
	require.Equal(t, []string{"a", "b", "d"}, collect())

	// Stopping early is fine.
	for g, err := range seq {
		require.NoError(t, err)
		require.Equal(t, "a", g.ID)
		break
	}

	n, err := st.Gifts.DeleteWhere(ctx, "group_id = ?", int64(1))
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	err := st.WithTx(ctx, func(tx *sql.Tx) error {
		require.NoError(t, st.Groups.In(tx).Put(ctx, Group{ID: 7, Name: "Bakery", CreatedAt: time.Now()}))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = st.Groups.Get(ctx, int64(7))
	require.ErrorIs(t, err, ErrNotFound)
}

var errBoom = errors.New("boom")
