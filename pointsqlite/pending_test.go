package pointsqlite

import (
	"context"
	"testing"

	"github.com/mobiletoly/go-pointcard/pointsync"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAssignsIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	log := NewPendingLog(st, discardLogger)

	a, err := log.Enqueue(ctx, PendingScan{UserID: "alice", GroupID: 1, Points: 10, Kind: "grant"})
	require.NoError(t, err)
	require.Equal(t, pointsync.KindGrant, a.Kind, "kind is normalized")
	require.False(t, a.CapturedAt.IsZero())

	b, err := log.Enqueue(ctx, PendingScan{UserID: "bob", GroupID: 2, Kind: pointsync.KindGrantDesign, DesignID: "d1"})
	require.NoError(t, err)
	require.Greater(t, b.ID, a.ID)

	// Removed ids are never handed out again.
	require.NoError(t, log.Remove(ctx, []int64{b.ID}))
	c, err := log.Enqueue(ctx, PendingScan{UserID: "bob", GroupID: 2, Points: 1, Kind: pointsync.KindGrant})
	require.NoError(t, err)
	require.Greater(t, c.ID, b.ID)

	all, err := log.ListUnsynced(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, a.ID, all[0].ID)

	g2, err := log.ListUnsynced(ctx, 2)
	require.NoError(t, err)
	require.Len(t, g2, 1)
	require.Equal(t, c.ID, g2[0].ID)

	n, err := log.CountUnsynced(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, st.SourceID(), log.SourceID())
}

func TestEnqueueRejectsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	log := NewPendingLog(newTestStore(t), discardLogger)

	tests := []struct {
		name string
		op   PendingScan
	}{
		{"no user", PendingScan{GroupID: 1, Points: 5, Kind: pointsync.KindGrant}},
		{"no group", PendingScan{UserID: "u", Points: 5, Kind: pointsync.KindGrant}},
		{"unknown kind", PendingScan{UserID: "u", GroupID: 1, Points: 5, Kind: "REFUND"}},
		{"zero grant", PendingScan{UserID: "u", GroupID: 1, Kind: pointsync.KindGrant}},
		{"zero spend without ticket", PendingScan{UserID: "u", GroupID: 1, Kind: pointsync.KindUseTicket}},
		{"positive ticket", PendingScan{UserID: "u", GroupID: 1, Points: 5, Kind: pointsync.KindUseTicket, TicketID: "t"}},
		{"design with points", PendingScan{UserID: "u", GroupID: 1, Points: 5, Kind: pointsync.KindGrantDesign, DesignID: "d"}},
		{"design without id", PendingScan{UserID: "u", GroupID: 1, Kind: pointsync.KindGrantDesign}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := log.Enqueue(ctx, tt.op)
			require.ErrorIs(t, err, ErrInvariantViolation)
		})
	}
	n, err := log.CountUnsynced(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEnqueueSpendWithoutTicket(t *testing.T) {
	ctx := context.Background()
	log := NewPendingLog(newTestStore(t), discardLogger)

	op, err := log.Enqueue(ctx, PendingScan{UserID: "alice", GroupID: 1, Points: -5, Kind: pointsync.KindUseTicket})
	require.NoError(t, err)
	require.Empty(t, op.TicketID)

	ops, err := log.ListUnsynced(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.EqualValues(t, -5, ops[0].Points)
}

func TestMarkSyncedAndPrune(t *testing.T) {
	ctx := context.Background()
	log := NewPendingLog(newTestStore(t), discardLogger)

	a, err := log.Enqueue(ctx, PendingScan{UserID: "alice", GroupID: 1, Points: 10, Kind: pointsync.KindGrant})
	require.NoError(t, err)
	b, err := log.Enqueue(ctx, PendingScan{UserID: "alice", GroupID: 1, Points: 20, Kind: pointsync.KindGrant})
	require.NoError(t, err)

	require.NoError(t, log.MarkSynced(ctx, []int64{a.ID}))
	require.NoError(t, log.MarkSynced(ctx, []int64{a.ID}), "marking twice is harmless")
	require.NoError(t, log.MarkSynced(ctx, nil))

	ops, err := log.ListForMembership(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, b.ID, ops[0].ID)

	pruned, err := log.PruneSynced(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, pruned)
	pruned, err = log.PruneSynced(ctx)
	require.NoError(t, err)
	require.Zero(t, pruned)
}

func TestPendingDelta(t *testing.T) {
	balance, lifetime := pendingDelta([]PendingScan{
		{Points: 50, Kind: pointsync.KindGrant},
		{Points: -30, Kind: pointsync.KindUseTicket},
		{Points: 0, Kind: pointsync.KindGrantDesign},
		{Points: 5, Kind: pointsync.KindGrant},
	})
	require.EqualValues(t, 25, balance)
	require.EqualValues(t, 55, lifetime)
}
