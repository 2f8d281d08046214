// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// InsertHistory appends history records. Records whose (source_id, source_op_id)
// is already present are skipped, so retrying a batch is safe.
func (s *LedgerService) InsertHistory(ctx context.Context, records []HistoryRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if s.config.MaxHistoryBatch > 0 && len(records) > s.config.MaxHistoryBatch {
		return 0, badRequestf("batch too large: records=%d limit=%d", len(records), s.config.MaxHistoryBatch)
	}
	for i := range records {
		if err := validateHistoryRecord(&records[i]); err != nil {
			return 0, err
		}
	}

	var inserted int64
	err := s.withTx(ctx, MetricsStageInsertHistory, func(tx pgx.Tx) error {
		inserted = 0
		batch := &pgx.Batch{}
		for _, r := range records {
			var metadata any
			if len(r.Metadata) > 0 {
				metadata = []byte(r.Metadata)
			}
			batch.Queue(`
				INSERT INTO ledger.point_history
					(user_id, group_id, points, kind, occurred_at, metadata, source_id, source_op_id)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (source_id, source_op_id) DO NOTHING`,
				r.UserID, r.GroupID, r.Points, r.Kind, r.OccurredAt, metadata, r.SourceID, r.SourceOpID)
		}
		br := tx.SendBatch(ctx, batch)
		for range records {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return fmt.Errorf("insert history: %w", err)
			}
			inserted += tag.RowsAffected()
		}
		return br.Close()
	})
	if err != nil {
		return 0, err
	}
	if skipped := int64(len(records)) - inserted; skipped > 0 {
		s.logger.Debug("Skipped replayed history records", "skipped", skipped)
	}
	return inserted, nil
}

// UpdateTicketIfUnused moves a ticket from UNUSED to USED and returns the rows affected.
// A replay by the operation that already consumed the ticket also reports 1.
func (s *LedgerService) UpdateTicketIfUnused(ctx context.Context, req TicketUseRequest) (int64, error) {
	if err := validateTicketUse(&req); err != nil {
		return 0, err
	}
	usedAt := req.UsedAt
	if usedAt.IsZero() {
		usedAt = s.now()
	}

	var affected int64
	err := s.withTx(ctx, MetricsStageTicketCAS, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE ledger.user_tickets
			SET status = 'USED',
			    used_at = COALESCE(used_at, @used_at),
			    used_by_source = @source_id,
			    used_by_op = @source_op_id
			WHERE id = @id
			  AND (status = 'UNUSED' OR (used_by_source = @source_id AND used_by_op = @source_op_id))`,
			pgx.NamedArgs{
				"id":           req.TicketID,
				"used_at":      usedAt,
				"source_id":    req.SourceID,
				"source_op_id": req.SourceOpID,
			})
		if err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// ReadMembership returns the membership of userID in groupID or ErrNotFound.
func (s *LedgerService) ReadMembership(ctx context.Context, userID string, groupID int64) (*MembershipRow, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	row, err := scanMembership(s.pool.QueryRow(ctx, `
		SELECT user_id, group_id, balance, lifetime, rank, selected_design_id, updated_at
		FROM ledger.user_memberships
		WHERE user_id = $1 AND group_id = $2`, userID, groupID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: membership %s/%d", ErrNotFound, userID, groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("read membership: %w", err)
	}
	return row, nil
}

// WriteMembership adds a delta to a membership, creating it when absent.
//
// With op refs the delta is recomputed from contributions not applied before, which makes
// the write idempotent per device operation. A write that would leave the balance
// negative fails with ErrNegativeBalance and changes nothing.
func (s *LedgerService) WriteMembership(ctx context.Context, req MembershipWriteRequest) (*MembershipWriteResponse, error) {
	if err := validateMembershipWrite(&req); err != nil {
		return nil, err
	}

	var out *MembershipWriteResponse
	err := s.withTx(ctx, MetricsStageWriteMembership, func(tx pgx.Tx) error {
		res := &MembershipWriteResponse{}
		balanceDelta, lifetimeDelta := req.BalanceDelta, req.LifetimeDelta
		if len(req.Ops) > 0 {
			balanceDelta, lifetimeDelta = 0, 0
			for _, op := range req.Ops {
				tag, err := tx.Exec(ctx, `
					INSERT INTO ledger.membership_applied_ops (source_id, source_op_id, user_id, group_id, points)
					VALUES ($1, $2, $3, $4, $5)
					ON CONFLICT (source_id, source_op_id) DO NOTHING`,
					op.SourceID, op.SourceOpID, req.UserID, req.GroupID, op.Points)
				if err != nil {
					return fmt.Errorf("record applied op: %w", err)
				}
				if tag.RowsAffected() == 0 {
					res.Replayed++
					continue
				}
				res.Applied++
				balanceDelta += op.Points
				if op.Points > 0 {
					lifetimeDelta += op.Points
				}
			}
		}

		if balanceDelta == 0 && lifetimeDelta == 0 {
			row, err := scanMembership(tx.QueryRow(ctx, `
				SELECT user_id, group_id, balance, lifetime, rank, selected_design_id, updated_at
				FROM ledger.user_memberships
				WHERE user_id = $1 AND group_id = $2`, req.UserID, req.GroupID))
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: membership %s/%d", ErrNotFound, req.UserID, req.GroupID)
			}
			if err != nil {
				return fmt.Errorf("read membership: %w", err)
			}
			res.Membership = *row
			out = res
			return nil
		}

		row, err := scanMembership(tx.QueryRow(ctx, `
			INSERT INTO ledger.user_memberships (user_id, group_id, balance, lifetime, rank, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (user_id, group_id) DO UPDATE
			SET balance = ledger.user_memberships.balance + EXCLUDED.balance,
			    lifetime = ledger.user_memberships.lifetime + EXCLUDED.lifetime,
			    updated_at = now()
			RETURNING user_id, group_id, balance, lifetime, rank, selected_design_id, updated_at`,
			req.UserID, req.GroupID, balanceDelta, lifetimeDelta, DefaultRank))
		if isCheckViolation(err) {
			return fmt.Errorf("%w: user %s group %d delta %d", ErrNegativeBalance, req.UserID, req.GroupID, balanceDelta)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: group %d", ErrNotFound, req.GroupID)
		}
		if err != nil {
			return fmt.Errorf("write membership: %w", err)
		}
		res.Membership = *row
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Replayed > 0 {
		s.logger.Info("Membership write contained replayed operations",
			"user_id", req.UserID, "group_id", req.GroupID, "replayed", out.Replayed, "applied", out.Applied)
	}
	return out, nil
}

// UpsertDesignOwnership records that a user owns a design; repeated calls are no-ops.
func (s *LedgerService) UpsertDesignOwnership(ctx context.Context, req DesignGrantRequest) error {
	if err := validateDesignGrant(&req); err != nil {
		return err
	}
	acquiredAt := req.AcquiredAt
	if acquiredAt.IsZero() {
		acquiredAt = s.now()
	}
	return s.withTx(ctx, "upsert_design", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger.user_designs (user_id, group_id, design_id, acquired_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, group_id, design_id) DO NOTHING`,
			req.UserID, req.GroupID, req.DesignID, acquiredAt)
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: group %d", ErrNotFound, req.GroupID)
		}
		return err
	})
}

// LeaveGroup deletes a user's membership and owned designs in a group.
func (s *LedgerService) LeaveGroup(ctx context.Context, userID string, groupID int64) error {
	return s.withTx(ctx, "leave_group", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM ledger.user_memberships WHERE user_id = $1 AND group_id = $2`, userID, groupID)
		if err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: membership %s/%d", ErrNotFound, userID, groupID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM ledger.user_designs WHERE user_id = $1 AND group_id = $2`, userID, groupID); err != nil {
			return fmt.Errorf("delete designs: %w", err)
		}
		s.logger.Info("User left group", "user_id", userID, "group_id", groupID)
		return nil
	})
}

func scanMembership(row pgx.Row) (*MembershipRow, error) {
	var m MembershipRow
	if err := row.Scan(&m.UserID, &m.GroupID, &m.Balance, &m.Lifetime, &m.Rank, &m.SelectedDesignID, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
