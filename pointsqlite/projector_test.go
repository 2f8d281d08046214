package pointsqlite

import (
	"context"
	"testing"

	"github.com/mobiletoly/go-pointcard/pointsync"
	"github.com/stretchr/testify/require"
)

func TestProjectorGrantAndSpend(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := NewProjector(st, discardLogger)

	m, err := p.ApplyGrant(ctx, "alice", 1, 100)
	require.NoError(t, err)
	require.EqualValues(t, 100, m.Points)
	require.EqualValues(t, 100, m.TotalPoints)
	require.Equal(t, pointsync.DefaultRank, m.Rank)

	m, err = p.ApplySpend(ctx, "alice", 1, 30)
	require.NoError(t, err)
	require.EqualValues(t, 70, m.Points)
	require.EqualValues(t, 100, m.TotalPoints, "spending never reduces lifetime points")

	m, err = p.ApplyGrant(ctx, "alice", 1, 5)
	require.NoError(t, err)
	require.EqualValues(t, 75, m.Points)
	require.EqualValues(t, 105, m.TotalPoints)

	stored := localMembership(t, st, "alice", 1)
	require.Equal(t, m.Points, stored.Points)

	// Other groups are independent.
	other, err := p.ApplyGrant(ctx, "alice", 2, 7)
	require.NoError(t, err)
	require.EqualValues(t, 7, other.Points)
	require.EqualValues(t, 75, localMembership(t, st, "alice", 1).Points)
}

func TestProjectorSpendWithoutMembership(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := NewProjector(st, discardLogger)

	_, err := p.ApplySpend(ctx, "nobody", 1, 10)
	require.ErrorIs(t, err, ErrInvariantViolation)

	_, err = st.Memberships.Get(ctx, "nobody", int64(1))
	require.ErrorIs(t, err, ErrNotFound, "nothing is created for a rejected spend")

	_, err = p.ApplySpend(ctx, "nobody", 1, -10)
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestProjectorReportsNegativeBalance(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := NewProjector(st, discardLogger)

	_, err := p.ApplyGrant(ctx, "alice", 1, 10)
	require.NoError(t, err)

	m, err := p.ApplySpend(ctx, "alice", 1, 25)
	require.ErrorIs(t, err, ErrNegativeBalance)
	require.ErrorIs(t, err, ErrInvariantViolation)
	require.EqualValues(t, -15, m.Points)
	require.EqualValues(t, -15, localMembership(t, st, "alice", 1).Points, "the delta is applied, not clamped")
}

func TestProjectorDesignGrantIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := NewProjector(st, discardLogger)

	require.NoError(t, p.ApplyDesignGrant(ctx, "alice", 1, "gold-card"))
	require.NoError(t, p.ApplyDesignGrant(ctx, "alice", 1, "gold-card"))

	designs, err := st.UserDesigns.All(ctx, "user_id = ?", "alice")
	require.NoError(t, err)
	require.Len(t, designs, 1)
	require.Equal(t, int64(1), designs[0].GroupID)

	_, err = st.Memberships.Get(ctx, "alice", int64(1))
	require.ErrorIs(t, err, ErrNotFound, "designs do not create memberships")
}

func TestRebaseKeepsPendingDeltas(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	log := NewPendingLog(st, discardLogger)
	p := NewProjector(st, discardLogger)

	require.NoError(t, st.Memberships.Put(ctx, Membership{UserID: "alice", GroupID: 1, Points: 0, Rank: "SILVER", SelectedDesignID: "blue"}))
	_, err := log.Enqueue(ctx, PendingScan{UserID: "alice", GroupID: 1, Points: 20, Kind: pointsync.KindGrant})
	require.NoError(t, err)
	_, err = log.Enqueue(ctx, PendingScan{UserID: "alice", GroupID: 1, Points: -5, Kind: pointsync.KindUseTicket, TicketID: "t1"})
	require.NoError(t, err)
	// Another membership's entries do not leak in.
	_, err = log.Enqueue(ctx, PendingScan{UserID: "alice", GroupID: 2, Points: 99, Kind: pointsync.KindGrant})
	require.NoError(t, err)

	m, err := p.Rebase(ctx, Membership{UserID: "alice", GroupID: 1, Points: 100, TotalPoints: 400})
	require.NoError(t, err)
	require.EqualValues(t, 115, m.Points)
	require.EqualValues(t, 420, m.TotalPoints)
	require.Equal(t, "SILVER", m.Rank, "local rank kept when the remote has none")
	require.Equal(t, "blue", m.SelectedDesignID)
	stored := localMembership(t, st, "alice", 1)
	require.Equal(t, m.Points, stored.Points)
	require.Equal(t, m.TotalPoints, stored.TotalPoints)
}

func TestProjectorTotalsAreIndependentOfOrder(t *testing.T) {
	grants := []int64{10, 25, 5}
	spends := []int64{7, 20}
	var ops []int64
	ops = append(ops, grants...)
	for _, s := range spends {
		ops = append(ops, -s)
	}

	for _, order := range permutations(ops) {
		ctx := context.Background()
		st := newTestStore(t)
		p := NewProjector(st, discardLogger)
		require.NoError(t, st.Memberships.Put(ctx, Membership{UserID: "alice", GroupID: 1, Rank: pointsync.DefaultRank}))

		for _, pts := range order {
			var err error
			if pts > 0 {
				_, err = p.ApplyGrant(ctx, "alice", 1, pts)
			} else {
				_, err = p.ApplySpend(ctx, "alice", 1, -pts)
			}
			if err != nil {
				require.ErrorIs(t, err, ErrNegativeBalance, "order %v", order)
			}
		}

		m := localMembership(t, st, "alice", 1)
		require.EqualValues(t, 40, m.TotalPoints, "order %v", order)
		require.EqualValues(t, 13, m.Points, "order %v", order)
	}
}

func permutations(in []int64) [][]int64 {
	if len(in) <= 1 {
		return [][]int64{append([]int64(nil), in...)}
	}
	var out [][]int64
	for i := range in {
		rest := make([]int64, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]int64{in[i]}, p...))
		}
	}
	return out
}
