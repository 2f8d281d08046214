package pointsqlite

import (
	"context"
	"testing"
	"time"

	"github.com/mobiletoly/go-pointcard/pointsync"
	"github.com/stretchr/testify/require"
)

func TestCatalogRefreshGroupsAndVisibility(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, offlineConfig())
	c := e.client

	bakery, err := c.Catalog.CreateGroup(ctx, pointsync.CreateGroupRequest{Name: "Bakery", ThemeColor: "#ffaa00"})
	require.NoError(t, err)
	require.NotZero(t, bakery.ID)
	_, err = c.Store.Groups.Get(ctx, bakery.ID)
	require.NoError(t, err, "created groups are mirrored immediately")

	// A group the ledger no longer lists disappears locally.
	require.NoError(t, c.Store.Groups.Put(ctx, Group{ID: 99, Name: "Gone", CreatedAt: time.Now()}))

	groups, err := c.Catalog.RefreshGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	_, err = c.Store.Groups.Get(ctx, int64(99))
	require.ErrorIs(t, err, ErrNotFound)

	now := time.Now()
	recent, old := now.Add(-24*time.Hour), now.Add(-31*24*time.Hour)
	require.NoError(t, c.Store.Groups.Put(ctx, Group{ID: 50, Name: "Closing", DeletedAt: &recent}))
	require.NoError(t, c.Store.Groups.Put(ctx, Group{ID: 51, Name: "Closed", DeletedAt: &old}))

	visible, err := c.Catalog.VisibleGroups(ctx)
	require.NoError(t, err)
	var ids []int64
	for _, g := range visible {
		ids = append(ids, g.ID)
	}
	require.Equal(t, []int64{1, bakery.ID, 50}, ids)
}

func TestCatalogRefreshGiftsTicketsMemberships(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, offlineConfig())
	c := e.client

	gift, err := e.ledger.CreateGift(ctx, pointsync.CreateGiftRequest{GroupID: 1, Name: "Coffee", PointsCost: 20})
	require.NoError(t, err)
	t1, err := e.ledger.IssueTicket(ctx, pointsync.IssueTicketRequest{UserID: "alice", GiftID: gift.ID})
	require.NoError(t, err)
	e.ledger.SeedMembership(pointsync.MembershipRow{UserID: "alice", GroupID: 1, Balance: 100, Lifetime: 150, Rank: "GOLD"})

	require.NoError(t, c.Store.Gifts.Put(ctx, Gift{ID: "stale", GroupID: 1, Name: "Old"}))
	gifts, err := c.Catalog.RefreshGifts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, gifts, 1)
	cached, err := c.Store.Gifts.All(ctx, "group_id = ?", int64(1))
	require.NoError(t, err)
	require.Len(t, cached, 1)
	require.Equal(t, gift.ID, cached[0].ID)

	tickets, err := c.Catalog.RefreshTickets(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.Equal(t, pointsync.TicketUnused, tickets[0].Status)

	memberships, err := c.Catalog.RefreshMemberships(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 100, memberships[0].Points)

	// Local grant not yet synced stays on top of the refreshed balance.
	_, err = c.Scanner.GrantPoints(ctx, "alice", 1, 5)
	require.NoError(t, err)
	// A ticket scanned offline stays used across a refresh.
	_, err = c.Scanner.UseTicket(ctx, t1.ID)
	require.NoError(t, err)

	tickets, err = c.Catalog.RefreshTickets(ctx, "alice", 1)
	require.NoError(t, err)
	require.Equal(t, pointsync.TicketUsed, tickets[0].Status)

	memberships, err = c.Catalog.RefreshMemberships(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	require.EqualValues(t, 85, memberships[0].Points)
	require.EqualValues(t, 155, memberships[0].TotalPoints)
	require.Equal(t, "GOLD", memberships[0].Rank)

	local, err := c.Catalog.Memberships(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, local, 1)
}

func TestCatalogLeaveGroup(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, offlineConfig())
	c := e.client
	e.seedMembership(t, c, "alice", 1, 10)

	_, err := c.Scanner.GrantPoints(ctx, "alice", 1, 5)
	require.NoError(t, err)
	err = c.Catalog.LeaveGroup(ctx, "alice", 1)
	require.ErrorIs(t, err, ErrPendingOperations)
	_, ok := e.ledger.Membership("alice", 1)
	require.True(t, ok)

	_, err = c.SyncNow(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Catalog.LeaveGroup(ctx, "alice", 1))

	_, ok = e.ledger.Membership("alice", 1)
	require.False(t, ok)
	_, err = c.Store.Memberships.Get(ctx, "alice", int64(1))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCatalogRequiresRemote(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, offlineConfig())
	c := e.client
	e.srv.Close()

	_, err := c.Catalog.RefreshGroups(ctx)
	require.ErrorIs(t, err, ErrUnreachable)
	_, err = c.Catalog.CreateGroup(ctx, pointsync.CreateGroupRequest{Name: "Bakery"})
	require.ErrorIs(t, err, ErrUnreachable)

	// Cached data stays readable.
	visible, err := c.Catalog.VisibleGroups(ctx)
	require.NoError(t, err)
	require.Len(t, visible, 1)
}
