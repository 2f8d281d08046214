// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsync

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// IsVisible reports whether a group with the given soft-delete time is shown at now.
// Active groups (nil deletedAt) are always visible; deleted ones stay visible,
// read-only, for the retention window.
func IsVisible(deletedAt *time.Time, now time.Time, retention time.Duration) bool {
	if deletedAt == nil {
		return true
	}
	return now.Sub(*deletedAt) < retention
}

// SoftDeleteGroup marks a group deleted. Its data stays readable for the retention window.
func (s *LedgerService) SoftDeleteGroup(ctx context.Context, groupID int64) error {
	if groupID == DefaultGroupID {
		return badRequestf("the default group cannot be deleted")
	}
	return s.withTx(ctx, "soft_delete_group", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE ledger.groups SET deleted_at = $2
			WHERE id = $1 AND deleted_at IS NULL`, groupID, s.now())
		if err != nil {
			return fmt.Errorf("soft delete group: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: active group %d", ErrNotFound, groupID)
		}
		s.logger.Info("Group soft-deleted", "group_id", groupID)
		return nil
	})
}

// PurgeExpiredGroups permanently removes groups whose retention window has passed.
// Memberships, gifts, tickets and designs go with them; point history is kept.
func (s *LedgerService) PurgeExpiredGroups(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.config.GroupRetention)
	var purged int64
	start := s.stages.Start()
	err := s.withTx(ctx, MetricsStagePurgeGroups, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM ledger.groups
			WHERE deleted_at IS NOT NULL AND deleted_at <= $1`, cutoff)
		if err != nil {
			return fmt.Errorf("purge groups: %w", err)
		}
		purged = tag.RowsAffected()
		return nil
	})
	s.stages.Observe(ctx, MetricsOpLedger, MetricsStageTotal, start, int(purged), 1, err != nil)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Info("Purged expired groups", "count", purged, "cutoff", cutoff)
	}
	return purged, nil
}
