// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mobiletoly/go-pointcard/pointsync"
)

// PendingLog is the append-only queue of scans not yet confirmed by the remote ledger.
// An entry is identified remotely by (store source id, entry id).
type PendingLog struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

// NewPendingLog returns the pending log of store
func NewPendingLog(store *Store, logger *slog.Logger) *PendingLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingLog{store: store, logger: logger, now: time.Now}
}

// SourceID is the device half of every entry's remote operation key.
func (l *PendingLog) SourceID() string { return l.store.SourceID() }

// Enqueue validates and appends op as unsynced, returning it with ID and CapturedAt set.
func (l *PendingLog) Enqueue(ctx context.Context, op PendingScan) (PendingScan, error) {
	return l.enqueue(ctx, l.store.db, op)
}

func (l *PendingLog) enqueue(ctx context.Context, q querier, op PendingScan) (PendingScan, error) {
	op.Kind = strings.ToUpper(strings.TrimSpace(op.Kind))
	if err := validatePendingScan(op); err != nil {
		return PendingScan{}, err
	}
	if op.CapturedAt.IsZero() {
		op.CapturedAt = l.now()
	}
	op.Synced = false

	res, err := q.ExecContext(ctx, `
		INSERT INTO pending_scans (user_id, group_id, points, kind, ticket_id, design_id, captured_at, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		op.UserID, op.GroupID, op.Points, op.Kind, op.TicketID, op.DesignID, toMillis(op.CapturedAt))
	if err != nil {
		return PendingScan{}, fmt.Errorf("enqueue pending scan: %w", err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return PendingScan{}, fmt.Errorf("enqueue pending scan: %w", err)
	}
	l.logger.Debug("Pending scan enqueued", "id", op.ID, "kind", op.Kind, "user_id", op.UserID, "group_id", op.GroupID, "points", op.Points)
	return op, nil
}

func validatePendingScan(op PendingScan) error {
	switch {
	case op.UserID == "":
		return fmt.Errorf("%w: pending scan needs a user", ErrInvariantViolation)
	case op.GroupID <= 0:
		return fmt.Errorf("%w: pending scan needs a group", ErrInvariantViolation)
	case !pointsync.IsValidKind(op.Kind):
		return fmt.Errorf("%w: unknown kind %q", ErrInvariantViolation, op.Kind)
	}
	switch op.Kind {
	case pointsync.KindGrant:
		if op.Points <= 0 {
			return fmt.Errorf("%w: grant of %d points", ErrInvariantViolation, op.Points)
		}
	case pointsync.KindUseTicket:
		if op.Points > 0 {
			return fmt.Errorf("%w: spend with positive delta %d", ErrInvariantViolation, op.Points)
		}
		if op.TicketID == "" && op.Points == 0 {
			return fmt.Errorf("%w: spend without a ticket needs a negative delta", ErrInvariantViolation)
		}
	case pointsync.KindGrantDesign:
		if op.DesignID == "" || op.Points != 0 {
			return fmt.Errorf("%w: design grant needs a design and no points", ErrInvariantViolation)
		}
	}
	return nil
}

// ListUnsynced returns unsynced entries in capture (id) order.
// groupID 0 lists every group.
func (l *PendingLog) ListUnsynced(ctx context.Context, groupID int64) ([]PendingScan, error) {
	if groupID == 0 {
		return l.store.PendingScans.All(ctx, "synced = 0 ORDER BY id")
	}
	return l.store.PendingScans.All(ctx, "synced = 0 AND group_id = ? ORDER BY id", groupID)
}

// ListForMembership returns unsynced entries of one (user, group).
func (l *PendingLog) ListForMembership(ctx context.Context, userID string, groupID int64) ([]PendingScan, error) {
	return l.store.PendingScans.All(ctx, "synced = 0 AND user_id = ? AND group_id = ? ORDER BY id", userID, groupID)
}

// CountUnsynced returns how many entries still wait for the remote ledger.
func (l *PendingLog) CountUnsynced(ctx context.Context) (int, error) {
	var n int
	if err := l.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_scans WHERE synced = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending scans: %w", err)
	}
	return n, nil
}

// MarkSynced flags entries as confirmed without removing them.
func (l *PendingLog) MarkSynced(ctx context.Context, ids []int64) error {
	return l.updateIDs(ctx, `UPDATE pending_scans SET synced = 1 WHERE synced = 0 AND id IN (%s)`, ids)
}

// Remove deletes entries. Callers must only remove entries the remote has confirmed.
func (l *PendingLog) Remove(ctx context.Context, ids []int64) error {
	return l.updateIDs(ctx, `DELETE FROM pending_scans WHERE id IN (%s)`, ids)
}

// PruneSynced deletes entries already marked synced.
func (l *PendingLog) PruneSynced(ctx context.Context) (int64, error) {
	n, err := l.store.PendingScans.DeleteWhere(ctx, "synced = 1")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Info("Pruned synced pending scans", "count", n)
	}
	return n, nil
}

func (l *PendingLog) updateIDs(ctx context.Context, stmt string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	if _, err := l.store.db.ExecContext(ctx, fmt.Sprintf(stmt, placeholders), args...); err != nil {
		return fmt.Errorf("update pending scans: %w", err)
	}
	return nil
}

// pendingDelta sums the signed points and positive points of entries.
func pendingDelta(ops []PendingScan) (balance, lifetime int64) {
	for _, op := range ops {
		balance += op.Points
		if op.Points > 0 {
			lifetime += op.Points
		}
	}
	return balance, lifetime
}
