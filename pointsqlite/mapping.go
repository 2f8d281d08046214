// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"encoding/json"

	"github.com/mobiletoly/go-pointcard/pointsync"
)

// Translation between local records and the remote ledger's wire rows.
// Local optional strings are empty; remote optional fields are nil.

func groupFromRemote(r pointsync.GroupRow) Group {
	return Group{
		ID:              r.ID,
		Name:            r.Name,
		ThemeColor:      r.ThemeColor,
		LogoURL:         deref(r.LogoURL),
		BannerURL:       deref(r.BannerURL),
		TransferEnabled: r.TransferEnabled,
		DeletedAt:       r.DeletedAt,
		CreatedAt:       r.CreatedAt,
	}
}

func groupToRemote(g Group) pointsync.GroupRow {
	return pointsync.GroupRow{
		ID:              g.ID,
		Name:            g.Name,
		ThemeColor:      g.ThemeColor,
		LogoURL:         optional(g.LogoURL),
		BannerURL:       optional(g.BannerURL),
		TransferEnabled: g.TransferEnabled,
		DeletedAt:       g.DeletedAt,
		CreatedAt:       g.CreatedAt,
	}
}

func membershipFromRemote(r pointsync.MembershipRow) Membership {
	return Membership{
		UserID:           r.UserID,
		GroupID:          r.GroupID,
		Points:           r.Balance,
		TotalPoints:      r.Lifetime,
		Rank:             r.Rank,
		SelectedDesignID: r.SelectedDesignID,
		UpdatedAt:        r.UpdatedAt,
	}
}

func membershipToRemote(m Membership) pointsync.MembershipRow {
	return pointsync.MembershipRow{
		UserID:           m.UserID,
		GroupID:          m.GroupID,
		Balance:          m.Points,
		Lifetime:         m.TotalPoints,
		Rank:             m.Rank,
		SelectedDesignID: m.SelectedDesignID,
		UpdatedAt:        m.UpdatedAt,
	}
}

func giftFromRemote(r pointsync.GiftRow) Gift {
	return Gift{
		ID:          r.ID,
		GroupID:     r.GroupID,
		Name:        r.Name,
		Description: r.Description,
		PointsCost:  r.PointsCost,
		ImageURL:    deref(r.ImageURL),
		Active:      r.Active,
	}
}

func giftToRemote(g Gift) pointsync.GiftRow {
	return pointsync.GiftRow{
		ID:          g.ID,
		GroupID:     g.GroupID,
		Name:        g.Name,
		Description: g.Description,
		PointsCost:  g.PointsCost,
		ImageURL:    optional(g.ImageURL),
		Active:      g.Active,
	}
}

func ticketFromRemote(r pointsync.TicketRow) Ticket {
	return Ticket{
		ID:         r.ID,
		UserID:     r.UserID,
		GroupID:    r.GroupID,
		GiftID:     r.GiftID,
		GiftName:   r.GiftName,
		Status:     r.Status,
		AcquiredAt: r.AcquiredAt,
		UsedAt:     r.UsedAt,
	}
}

func ticketToRemote(t Ticket) pointsync.TicketRow {
	return pointsync.TicketRow{
		ID:         t.ID,
		UserID:     t.UserID,
		GroupID:    t.GroupID,
		GiftID:     t.GiftID,
		GiftName:   t.GiftName,
		Status:     t.Status,
		AcquiredAt: t.AcquiredAt,
		UsedAt:     t.UsedAt,
	}
}

type historyMetadata struct {
	TicketID string `json:"ticket_id,omitempty"`
	DesignID string `json:"design_id,omitempty"`
}

// historyFromPending builds the remote history record for an entry.
func historyFromPending(sourceID string, op PendingScan) pointsync.HistoryRecord {
	rec := pointsync.HistoryRecord{
		UserID:     op.UserID,
		GroupID:    op.GroupID,
		Points:     op.Points,
		Kind:       op.Kind,
		OccurredAt: op.CapturedAt,
		SourceID:   sourceID,
		SourceOpID: op.ID,
	}
	if op.TicketID != "" || op.DesignID != "" {
		if b, err := json.Marshal(historyMetadata{TicketID: op.TicketID, DesignID: op.DesignID}); err == nil {
			rec.Metadata = b
		}
	}
	return rec
}

func opRefFromPending(sourceID string, op PendingScan) pointsync.OpRef {
	return pointsync.OpRef{SourceID: sourceID, SourceOpID: op.ID, Points: op.Points}
}

func designGrantFromPending(op PendingScan) pointsync.DesignGrantRequest {
	return pointsync.DesignGrantRequest{
		UserID:     op.UserID,
		GroupID:    op.GroupID,
		DesignID:   op.DesignID,
		AcquiredAt: op.CapturedAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
