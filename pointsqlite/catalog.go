// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mobiletoly/go-pointcard/pointsync"
)

// Catalog mirrors the read-mostly remote data (groups, gifts, tickets, memberships)
// into the local store. The mirrored tables are disposable: a refresh rebuilds them.
type Catalog struct {
	store     *Store
	remote    CatalogSource
	guard     *Guard
	projector *Projector
	pending   *PendingLog
	logger    *slog.Logger

	Retention time.Duration
	now       func() time.Time
}

// NewCatalog wires a catalog. guard may be nil, in which case remote calls are not gated.
func NewCatalog(store *Store, remote CatalogSource, guard *Guard, projector *Projector, pending *PendingLog, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		store:     store,
		remote:    remote,
		guard:     guard,
		projector: projector,
		pending:   pending,
		logger:    logger,
		Retention: pointsync.GroupRetention,
		now:       time.Now,
	}
}

func (c *Catalog) require(ctx context.Context, action string) error {
	if c.guard == nil {
		return nil
	}
	return c.guard.Require(ctx, action)
}

// RefreshGroups replaces the local group list with the remote one.
func (c *Catalog) RefreshGroups(ctx context.Context) ([]Group, error) {
	if err := c.require(ctx, "refresh groups"); err != nil {
		return nil, err
	}
	rows, err := c.remote.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	groups := make([]Group, len(rows))
	for i, r := range rows {
		groups[i] = groupFromRemote(r)
	}

	err = c.store.WithTx(ctx, func(tx *sql.Tx) error {
		table := c.store.Groups.In(tx)
		if err := table.BulkPut(ctx, groups); err != nil {
			return err
		}
		existing, err := table.All(ctx, "1 = 1")
		if err != nil {
			return err
		}
		for _, g := range existing {
			if g.ID == pointsync.DefaultGroupID {
				continue
			}
			if !slices.ContainsFunc(groups, func(r Group) bool { return r.ID == g.ID }) {
				if err := table.Delete(ctx, g.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store groups: %w", err)
	}
	c.logger.Debug("Groups refreshed", "count", len(groups))
	return groups, nil
}

// VisibleGroups returns the cached groups still within the soft-delete retention window.
func (c *Catalog) VisibleGroups(ctx context.Context) ([]Group, error) {
	now := c.now()
	var out []Group
	for g, err := range c.store.Groups.Query(ctx, "1 = 1 ORDER BY id") {
		if err != nil {
			return nil, err
		}
		if pointsync.IsVisible(g.DeletedAt, now, c.Retention) {
			out = append(out, g)
		}
	}
	return out, nil
}

// RefreshGifts replaces the cached gifts of groupID.
func (c *Catalog) RefreshGifts(ctx context.Context, groupID int64) ([]Gift, error) {
	if err := c.require(ctx, "refresh gifts"); err != nil {
		return nil, err
	}
	rows, err := c.remote.ListGifts(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list gifts: %w", err)
	}
	gifts := make([]Gift, len(rows))
	for i, r := range rows {
		gifts[i] = giftFromRemote(r)
	}
	err = c.store.WithTx(ctx, func(tx *sql.Tx) error {
		table := c.store.Gifts.In(tx)
		if _, err := table.DeleteWhere(ctx, "group_id = ?", groupID); err != nil {
			return err
		}
		return table.BulkPut(ctx, gifts)
	})
	if err != nil {
		return nil, fmt.Errorf("store gifts: %w", err)
	}
	return gifts, nil
}

// RefreshTickets replaces the cached tickets of userID in groupID.
// A ticket used locally but not yet confirmed stays USED.
func (c *Catalog) RefreshTickets(ctx context.Context, userID string, groupID int64) ([]Ticket, error) {
	if err := c.require(ctx, "refresh tickets"); err != nil {
		return nil, err
	}
	rows, err := c.remote.ListTickets(ctx, userID, groupID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	pending, err := c.pending.ListForMembership(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	usedLocally := map[string]time.Time{}
	for _, op := range pending {
		if op.Kind == pointsync.KindUseTicket && op.TicketID != "" {
			usedLocally[op.TicketID] = op.CapturedAt
		}
	}

	tickets := make([]Ticket, len(rows))
	for i, r := range rows {
		t := ticketFromRemote(r)
		if at, ok := usedLocally[t.ID]; ok && t.Status != pointsync.TicketUsed {
			t.Status, t.UsedAt = pointsync.TicketUsed, &at
		}
		tickets[i] = t
	}
	err = c.store.WithTx(ctx, func(tx *sql.Tx) error {
		table := c.store.Tickets.In(tx)
		if _, err := table.DeleteWhere(ctx, "user_id = ? AND group_id = ?", userID, groupID); err != nil {
			return err
		}
		return table.BulkPut(ctx, tickets)
	})
	if err != nil {
		return nil, fmt.Errorf("store tickets: %w", err)
	}
	return tickets, nil
}

// RefreshMemberships rebases every local membership of userID on the remote value,
// keeping unsynced local deltas applied on top.
func (c *Catalog) RefreshMemberships(ctx context.Context, userID string) ([]Membership, error) {
	if err := c.require(ctx, "refresh memberships"); err != nil {
		return nil, err
	}
	rows, err := c.remote.ListMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	out := make([]Membership, 0, len(rows))
	for _, r := range rows {
		m, err := c.projector.Rebase(ctx, membershipFromRemote(r))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Memberships returns the cached memberships of userID.
func (c *Catalog) Memberships(ctx context.Context, userID string) ([]Membership, error) {
	return c.store.Memberships.All(ctx, "user_id = ? ORDER BY group_id", userID)
}

// CreateGroup creates the group remotely and mirrors the result.
func (c *Catalog) CreateGroup(ctx context.Context, req pointsync.CreateGroupRequest) (Group, error) {
	if err := c.require(ctx, "create group"); err != nil {
		return Group{}, err
	}
	row, err := c.remote.CreateGroup(ctx, req)
	if err != nil {
		return Group{}, fmt.Errorf("create group: %w", err)
	}
	g := groupFromRemote(*row)
	if err := c.store.Groups.Put(ctx, g); err != nil {
		return Group{}, err
	}
	c.logger.Info("Group created", "group_id", g.ID, "name", g.Name)
	return g, nil
}

// LeaveGroup deletes userID's membership remotely, then its local remains.
// It refuses while unsynced entries for that membership exist.
func (c *Catalog) LeaveGroup(ctx context.Context, userID string, groupID int64) error {
	pending, err := c.pending.ListForMembership(ctx, userID, groupID)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: %d unsynced entries for %s in group %d", ErrPendingOperations, len(pending), userID, groupID)
	}
	if err := c.require(ctx, "leave group"); err != nil {
		return err
	}
	if err := c.remote.LeaveGroup(ctx, userID, groupID); err != nil {
		return fmt.Errorf("leave group: %w", err)
	}
	err = c.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := c.store.Memberships.In(tx).Delete(ctx, userID, groupID); err != nil {
			return err
		}
		if _, err := c.store.UserDesigns.In(tx).DeleteWhere(ctx, "user_id = ? AND group_id = ?", userID, groupID); err != nil {
			return err
		}
		_, err := c.store.Tickets.In(tx).DeleteWhere(ctx, "user_id = ? AND group_id = ?", userID, groupID)
		return err
	})
	if err != nil {
		return fmt.Errorf("remove local membership: %w", err)
	}
	c.logger.Info("Left group", "user_id", userID, "group_id", groupID)
	return nil
}
