// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const groupColumns = `id, name, theme_color, logo_url, banner_url, transfer_enabled, deleted_at, created_at`

// CreateGroup inserts a group and returns it with its assigned id
func (s *LedgerService) CreateGroup(ctx context.Context, req CreateGroupRequest) (*GroupRow, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, badRequestf("group name is required")
	}
	var out *GroupRow
	err := s.withTx(ctx, "create_group", func(tx pgx.Tx) error {
		g, err := scanGroup(tx.QueryRow(ctx, `
			INSERT INTO ledger.groups (name, theme_color, logo_url, banner_url, transfer_enabled)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+groupColumns,
			req.Name, req.ThemeColor, req.LogoURL, req.BannerURL, req.TransferEnabled))
		if err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Group created", "group_id", out.ID, "name", out.Name)
	return out, nil
}

// ListGroups returns groups visible now: active ones and soft-deleted ones still in retention.
func (s *LedgerService) ListGroups(ctx context.Context) ([]GroupRow, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+groupColumns+` FROM ledger.groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	now := s.now()
	var out []GroupRow
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		if IsVisible(g.DeletedAt, now, s.config.GroupRetention) {
			out = append(out, *g)
		}
	}
	return out, rows.Err()
}

// CreateGift adds a gift to a group
func (s *LedgerService) CreateGift(ctx context.Context, req CreateGiftRequest) (*GiftRow, error) {
	req.Name = strings.TrimSpace(req.Name)
	switch {
	case req.Name == "":
		return nil, badRequestf("gift name is required")
	case req.GroupID <= 0:
		return nil, badRequestf("group_id must be positive")
	case req.PointsCost < 0:
		return nil, badRequestf("points_cost must not be negative")
	}
	gift := &GiftRow{
		ID:          uuid.NewString(),
		GroupID:     req.GroupID,
		Name:        req.Name,
		Description: req.Description,
		PointsCost:  req.PointsCost,
		ImageURL:    req.ImageURL,
		Active:      true,
	}
	err := s.withTx(ctx, "create_gift", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger.gifts (id, group_id, name, description, points_cost, image_url, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			gift.ID, gift.GroupID, gift.Name, gift.Description, gift.PointsCost, gift.ImageURL, gift.Active)
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: group %d", ErrNotFound, req.GroupID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return gift, nil
}

// ListGifts returns the gifts of a group
func (s *LedgerService) ListGifts(ctx context.Context, groupID int64) ([]GiftRow, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, group_id, name, description, points_cost, image_url, active
		FROM ledger.gifts WHERE group_id = $1 ORDER BY name`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list gifts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (GiftRow, error) {
		var g GiftRow
		err := row.Scan(&g.ID, &g.GroupID, &g.Name, &g.Description, &g.PointsCost, &g.ImageURL, &g.Active)
		return g, err
	})
}

// IssueTicket grants the user an UNUSED ticket for a gift
func (s *LedgerService) IssueTicket(ctx context.Context, req IssueTicketRequest) (*TicketRow, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.GiftID) == "" {
		return nil, badRequestf("user_id and gift_id are required")
	}
	var out *TicketRow
	err := s.withTx(ctx, "issue_ticket", func(tx pgx.Tx) error {
		var t TicketRow
		err := tx.QueryRow(ctx, `
			INSERT INTO ledger.user_tickets (id, user_id, group_id, gift_id, gift_name, status)
			SELECT $1, $2, g.group_id, g.id, g.name, 'UNUSED'
			FROM ledger.gifts g WHERE g.id = $3
			RETURNING id, user_id, group_id, gift_id, gift_name, status, acquired_at, used_at`,
			uuid.NewString(), req.UserID, req.GiftID).
			Scan(&t.ID, &t.UserID, &t.GroupID, &t.GiftID, &t.GiftName, &t.Status, &t.AcquiredAt, &t.UsedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: gift %s", ErrNotFound, req.GiftID)
		}
		if err != nil {
			return fmt.Errorf("issue ticket: %w", err)
		}
		out = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListTickets returns a user's tickets in a group
func (s *LedgerService) ListTickets(ctx context.Context, userID string, groupID int64) ([]TicketRow, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, group_id, gift_id, gift_name, status, acquired_at, used_at
		FROM ledger.user_tickets
		WHERE user_id = $1 AND group_id = $2
		ORDER BY acquired_at`, userID, groupID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TicketRow, error) {
		var t TicketRow
		err := row.Scan(&t.ID, &t.UserID, &t.GroupID, &t.GiftID, &t.GiftName, &t.Status, &t.AcquiredAt, &t.UsedAt)
		return t, err
	})
}

// ListMemberships returns all memberships of a user
func (s *LedgerService) ListMemberships(ctx context.Context, userID string) ([]MembershipRow, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, group_id, balance, lifetime, rank, selected_design_id, updated_at
		FROM ledger.user_memberships WHERE user_id = $1 ORDER BY group_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (MembershipRow, error) {
		m, err := scanMembership(row)
		if err != nil {
			return MembershipRow{}, err
		}
		return *m, nil
	})
}

func scanGroup(row pgx.Row) (*GroupRow, error) {
	var g GroupRow
	if err := row.Scan(&g.ID, &g.Name, &g.ThemeColor, &g.LogoURL, &g.BannerURL, &g.TransferEnabled, &g.DeletedAt, &g.CreatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}
