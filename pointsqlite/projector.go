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

// Projector applies point deltas to the local membership mirror so balances
// reflect scans before the remote ledger has seen them.
type Projector struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

// NewProjector returns a projector over store's memberships
func NewProjector(store *Store, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{store: store, logger: logger, now: time.Now}
}

// ApplyGrant adds points to both balance and lifetime, creating the membership when absent.
func (p *Projector) ApplyGrant(ctx context.Context, userID string, groupID, points int64) (Membership, error) {
	return p.Apply(ctx, PendingScan{UserID: userID, GroupID: groupID, Points: points, Kind: pointsync.KindGrant})
}

// ApplySpend removes points from the balance. Lifetime is never reduced.
// A spend that drives the balance negative is still applied, and ErrNegativeBalance is returned.
func (p *Projector) ApplySpend(ctx context.Context, userID string, groupID, points int64) (Membership, error) {
	if points < 0 {
		return Membership{}, fmt.Errorf("%w: spend amount %d is negative", ErrInvariantViolation, points)
	}
	return p.Apply(ctx, PendingScan{UserID: userID, GroupID: groupID, Points: -points, Kind: pointsync.KindUseTicket})
}

// ApplyDesignGrant records design ownership locally; it never touches balances.
func (p *Projector) ApplyDesignGrant(ctx context.Context, userID string, groupID int64, designID string) error {
	_, err := p.Apply(ctx, PendingScan{UserID: userID, GroupID: groupID, Kind: pointsync.KindGrantDesign, DesignID: designID})
	return err
}

// Apply projects one operation in its own transaction.
func (p *Projector) Apply(ctx context.Context, op PendingScan) (Membership, error) {
	var (
		m        Membership
		negative bool
	)
	err := p.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		m, negative, err = p.applyTx(ctx, tx, op)
		return err
	})
	if err != nil {
		return Membership{}, err
	}
	if negative {
		return m, fmt.Errorf("%w: user %s group %d balance %d", ErrNegativeBalance, m.UserID, m.GroupID, m.Points)
	}
	return m, nil
}

// applyTx projects op inside tx. negative reports a balance that ended below zero.
func (p *Projector) applyTx(ctx context.Context, tx *sql.Tx, op PendingScan) (Membership, bool, error) {
	memberships := p.store.Memberships.In(tx)
	now := p.now()

	switch op.Kind {
	case pointsync.KindGrantDesign:
		if op.DesignID == "" {
			return Membership{}, false, fmt.Errorf("%w: design grant without design", ErrInvariantViolation)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_designs (user_id, design_id, group_id, acquired_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, design_id) DO NOTHING`,
			op.UserID, op.DesignID, op.GroupID, toMillis(now))
		if err != nil {
			return Membership{}, false, fmt.Errorf("project design grant: %w", err)
		}
		m, err := memberships.Get(ctx, op.UserID, op.GroupID)
		if errors.Is(err, ErrNotFound) {
			return Membership{UserID: op.UserID, GroupID: op.GroupID}, false, nil
		}
		return m, false, err

	case pointsync.KindGrant:
		if op.Points <= 0 {
			return Membership{}, false, fmt.Errorf("%w: grant of %d points", ErrInvariantViolation, op.Points)
		}
		m, err := memberships.Get(ctx, op.UserID, op.GroupID)
		if errors.Is(err, ErrNotFound) {
			m = Membership{UserID: op.UserID, GroupID: op.GroupID, Rank: pointsync.DefaultRank}
		} else if err != nil {
			return Membership{}, false, err
		}
		m.Points += op.Points
		m.TotalPoints += op.Points
		m.UpdatedAt = now
		if err := memberships.Put(ctx, m); err != nil {
			return Membership{}, false, err
		}
		return m, false, nil

	case pointsync.KindUseTicket:
		if op.Points > 0 {
			return Membership{}, false, fmt.Errorf("%w: spend with positive delta %d", ErrInvariantViolation, op.Points)
		}
		m, err := memberships.Get(ctx, op.UserID, op.GroupID)
		if errors.Is(err, ErrNotFound) {
			return Membership{}, false, fmt.Errorf("%w: spend for %s in group %d without a membership", ErrInvariantViolation, op.UserID, op.GroupID)
		}
		if err != nil {
			return Membership{}, false, err
		}
		m.Points += op.Points
		m.UpdatedAt = now
		if err := memberships.Put(ctx, m); err != nil {
			return Membership{}, false, err
		}
		if m.Points < 0 {
			p.logger.Error("Local balance went negative", "user_id", m.UserID, "group_id", m.GroupID, "balance", m.Points)
			return m, true, nil
		}
		return m, false, nil

	default:
		return Membership{}, false, fmt.Errorf("%w: unknown kind %q", ErrInvariantViolation, op.Kind)
	}
}

// Rebase replaces the local membership with the remote one and re-applies
// every still-unsynced delta for it, so confirmed and pending effects both show.
func (p *Projector) Rebase(ctx context.Context, remote Membership) (Membership, error) {
	var out Membership
	err := p.store.WithTx(ctx, func(tx *sql.Tx) error {
		pending, err := p.store.PendingScans.In(tx).All(ctx,
			"synced = 0 AND user_id = ? AND group_id = ?", remote.UserID, remote.GroupID)
		if err != nil {
			return err
		}
		memberships := p.store.Memberships.In(tx)
		local, err := memberships.Get(ctx, remote.UserID, remote.GroupID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		balance, lifetime := pendingDelta(pending)
		out = remote
		out.Points += balance
		out.TotalPoints += lifetime
		if out.Rank == "" {
			out.Rank = local.Rank
		}
		if out.SelectedDesignID == "" {
			out.SelectedDesignID = local.SelectedDesignID
		}
		if out.UpdatedAt.IsZero() {
			out.UpdatedAt = p.now()
		}
		return memberships.Put(ctx, out)
	})
	if err != nil {
		return Membership{}, fmt.Errorf("rebase membership %s/%d: %w", remote.UserID, remote.GroupID, err)
	}
	return out, nil
}
