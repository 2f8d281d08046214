// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mobiletoly/go-pointcard/pointsync"
)

// ScanResult describes a recorded scan.
type ScanResult struct {
	Entry      PendingScan
	Membership Membership
	Synced     bool  // the remote confirmed the entry during the scan
	SyncErr    error // why the immediate sync did not confirm it, if attempted
}

// Scanner records point grants, ticket uses and design grants presented at the counter.
// Recording never waits for the network: the entry and its local projection commit
// together, then an immediate sync is attempted when the remote is reachable.
type Scanner struct {
	store     *Store
	pending   *PendingLog
	projector *Projector
	sync      *Synchronizer // nil disables immediate sync
	guard     *Guard        // nil disables immediate sync
	logger    *slog.Logger
	now       func() time.Time
}

// NewScanner wires a scanner. sync and guard may be nil for offline-only use.
func NewScanner(store *Store, pending *PendingLog, projector *Projector, sync *Synchronizer, guard *Guard, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		store:     store,
		pending:   pending,
		projector: projector,
		sync:      sync,
		guard:     guard,
		logger:    logger,
		now:       time.Now,
	}
}

// GrantPoints awards points to a member.
func (s *Scanner) GrantPoints(ctx context.Context, userID string, groupID, points int64) (*ScanResult, error) {
	if points <= 0 {
		return nil, fmt.Errorf("%w: grant of %d points", ErrInvariantViolation, points)
	}
	return s.record(ctx, PendingScan{
		UserID:  userID,
		GroupID: groupID,
		Points:  points,
		Kind:    pointsync.KindGrant,
	}, nil)
}

// SpendPoints debits points without a ticket, e.g. an admin correction at the counter.
// Lifetime points are untouched.
func (s *Scanner) SpendPoints(ctx context.Context, userID string, groupID, points int64) (*ScanResult, error) {
	if points <= 0 {
		return nil, fmt.Errorf("%w: spend of %d points", ErrInvariantViolation, points)
	}
	entry := PendingScan{
		UserID:  userID,
		GroupID: groupID,
		Points:  -points,
		Kind:    pointsync.KindUseTicket,
	}
	return s.record(ctx, entry, func(ctx context.Context, tx *sql.Tx) error {
		return s.checkBalance(ctx, tx, userID, groupID, points)
	})
}

// UseTicket redeems a ticket, debiting its gift's cost from the holder's membership.
func (s *Scanner) UseTicket(ctx context.Context, ticketID string) (*ScanResult, error) {
	ticket, err := s.store.Tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status == pointsync.TicketUsed {
		return nil, fmt.Errorf("%w: %s", ErrTicketAlreadyUsed, ticketID)
	}
	var cost int64
	gift, err := s.store.Gifts.Get(ctx, ticket.GiftID)
	switch {
	case err == nil:
		cost = gift.PointsCost
	case errors.Is(err, ErrNotFound):
		s.logger.Warn("Gift for ticket not cached, using zero cost", "ticket_id", ticketID, "gift_id", ticket.GiftID)
	default:
		return nil, err
	}

	entry := PendingScan{
		UserID:   ticket.UserID,
		GroupID:  ticket.GroupID,
		Points:   -cost,
		Kind:     pointsync.KindUseTicket,
		TicketID: ticket.ID,
	}
	return s.record(ctx, entry, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.checkBalance(ctx, tx, ticket.UserID, ticket.GroupID, cost); err != nil {
			return err
		}
		usedAt := s.now()
		ticket.Status, ticket.UsedAt = pointsync.TicketUsed, &usedAt
		return s.store.Tickets.In(tx).Put(ctx, ticket)
	})
}

// GrantDesign gives a member a card design.
func (s *Scanner) GrantDesign(ctx context.Context, userID string, groupID int64, designID string) (*ScanResult, error) {
	return s.record(ctx, PendingScan{
		UserID:   userID,
		GroupID:  groupID,
		Kind:     pointsync.KindGrantDesign,
		DesignID: designID,
	}, nil)
}

func (s *Scanner) checkBalance(ctx context.Context, tx *sql.Tx, userID string, groupID, cost int64) error {
	if cost == 0 {
		return nil
	}
	m, err := s.store.Memberships.In(tx).Get(ctx, userID, groupID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s has no membership in group %d", ErrInsufficientBalance, userID, groupID)
	}
	if err != nil {
		return err
	}
	if m.Points < cost {
		return fmt.Errorf("%w: balance %d, cost %d", ErrInsufficientBalance, m.Points, cost)
	}
	return nil
}

// record appends entry and projects it in one transaction, then tries an immediate sync.
func (s *Scanner) record(ctx context.Context, entry PendingScan, precheck func(context.Context, *sql.Tx) error) (*ScanResult, error) {
	res := &ScanResult{}
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if precheck != nil {
			if err := precheck(ctx, tx); err != nil {
				return err
			}
		}
		queued, err := s.pending.enqueue(ctx, tx, entry)
		if err != nil {
			return err
		}
		m, negative, err := s.projector.applyTx(ctx, tx, queued)
		if err != nil {
			return err
		}
		if negative {
			return fmt.Errorf("%w: user %s group %d", ErrNegativeBalance, m.UserID, m.GroupID)
		}
		res.Entry, res.Membership = queued, m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.trySync(ctx, res)
	return res, nil
}

func (s *Scanner) trySync(ctx context.Context, res *ScanResult) {
	if s.sync == nil || s.guard == nil {
		return
	}
	if !s.guard.Reachable(ctx) {
		return
	}
	summary, err := s.sync.SyncEntries(ctx, []PendingScan{res.Entry})
	if err != nil {
		res.SyncErr = err
		s.logger.Warn("Immediate sync failed, entry stays queued", "entry_id", res.Entry.ID, "error", err)
		return
	}
	res.Synced = summary.Retired > 0 && summary.DuplicateTickets == 0
	if m, err := s.store.Memberships.Get(ctx, res.Entry.UserID, res.Entry.GroupID); err == nil {
		res.Membership = m
	}
}
