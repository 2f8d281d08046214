// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsync

import (
	"encoding/json"
	"time"
)

// REST/JSON models for the remote ledger API.
// Field names on the wire are snake_case; device-side types live in pointsqlite
// and are translated by its mapping functions.

// HistoryRecord is one append-only point history row.
// (SourceID, SourceOpID) identifies the device operation that produced it.
type HistoryRecord struct {
	UserID     string          `json:"user_id"`
	GroupID    int64           `json:"group_id"`
	Points     int64           `json:"points"` // signed: grants positive, spends negative
	Kind       string          `json:"kind"`
	OccurredAt time.Time       `json:"occurred_at"` // device capture time
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	SourceID   string          `json:"source_id"`
	SourceOpID int64           `json:"source_op_id"`
}

// InsertHistoryRequest is a batch of history records
type InsertHistoryRequest struct {
	Records []HistoryRecord `json:"records"`
}

// InsertHistoryResponse reports how many records were new (replays are skipped)
type InsertHistoryResponse struct {
	Inserted int64 `json:"inserted"`
}

// TicketUseRequest asks the ledger to move a ticket from UNUSED to USED
type TicketUseRequest struct {
	TicketID   string    `json:"ticket_id"`
	UsedAt     time.Time `json:"used_at"`
	SourceID   string    `json:"source_id"`
	SourceOpID int64     `json:"source_op_id"`
}

// TicketUseResponse carries the compare-and-swap outcome (0 or 1)
type TicketUseResponse struct {
	RowsAffected int64 `json:"rows_affected"`
}

// MembershipRow is the remote view of a user's membership in a group
type MembershipRow struct {
	UserID           string    `json:"user_id"`
	GroupID          int64     `json:"group_id"`
	Balance          int64     `json:"balance"`
	Lifetime         int64     `json:"lifetime"`
	Rank             string    `json:"rank,omitempty"`
	SelectedDesignID string    `json:"selected_design_id,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// OpRef identifies one device operation contributing to a membership write
type OpRef struct {
	SourceID   string `json:"source_id"`
	SourceOpID int64  `json:"source_op_id"`
	Points     int64  `json:"points"`
}

// MembershipWriteRequest applies an aggregated delta to one membership.
// When Ops is non-empty the ledger derives the delta from the contributions it has
// not seen before, so replaying a request never double-applies.
type MembershipWriteRequest struct {
	UserID        string  `json:"user_id"`
	GroupID       int64   `json:"group_id"`
	BalanceDelta  int64   `json:"balance_delta"`
	LifetimeDelta int64   `json:"lifetime_delta"`
	Ops           []OpRef `json:"ops,omitempty"`
}

// MembershipWriteResponse returns the membership after the write
type MembershipWriteResponse struct {
	Membership MembershipRow `json:"membership"`
	Applied    int           `json:"applied"`  // contributions applied by this request
	Replayed   int           `json:"replayed"` // contributions already applied earlier
}

// DesignGrantRequest records design ownership; idempotent on (user, group, design)
type DesignGrantRequest struct {
	UserID     string    `json:"user_id"`
	GroupID    int64     `json:"group_id"`
	DesignID   string    `json:"design_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// GroupRow is the remote representation of a fan-club group
type GroupRow struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	ThemeColor      string     `json:"theme_color"`
	LogoURL         *string    `json:"logo_url,omitempty"`
	BannerURL       *string    `json:"banner_url,omitempty"`
	TransferEnabled bool       `json:"transfer_enabled"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CreateGroupRequest creates a group; the ledger assigns the id
type CreateGroupRequest struct {
	Name            string  `json:"name"`
	ThemeColor      string  `json:"theme_color"`
	LogoURL         *string `json:"logo_url,omitempty"`
	BannerURL       *string `json:"banner_url,omitempty"`
	TransferEnabled bool    `json:"transfer_enabled"`
}

// GiftRow is a redeemable gift in a group
type GiftRow struct {
	ID          string  `json:"id"`
	GroupID     int64   `json:"group_id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	PointsCost  int64   `json:"points_cost"`
	ImageURL    *string `json:"image_url,omitempty"`
	Active      bool    `json:"active"`
}

// CreateGiftRequest adds a gift to a group
type CreateGiftRequest struct {
	GroupID     int64   `json:"group_id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	PointsCost  int64   `json:"points_cost"`
	ImageURL    *string `json:"image_url,omitempty"`
}

// TicketRow is a redemption voucher
type TicketRow struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	GroupID    int64      `json:"group_id"`
	GiftID     string     `json:"gift_id"`
	GiftName   string     `json:"gift_name"`
	Status     string     `json:"status"`
	AcquiredAt time.Time  `json:"acquired_at"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
}

// IssueTicketRequest grants a ticket for a gift to a user
type IssueTicketRequest struct {
	UserID string `json:"user_id"`
	GiftID string `json:"gift_id"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PingResponse is returned by the authenticated reachability probe
type PingResponse struct {
	Status  string `json:"status"`
	AppName string `json:"app_name"`
	UserID  string `json:"user_id"`
}
