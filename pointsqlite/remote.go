// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"context"

	"github.com/mobiletoly/go-pointcard/pointsync"
)

// RemoteLedger is the remote surface the synchronizer drains the pending log into.
// ReadMembership must return an error wrapping ErrMembershipNotFound when absent.
type RemoteLedger interface {
	InsertHistory(ctx context.Context, records []pointsync.HistoryRecord) (int64, error)
	UpdateTicketIfUnused(ctx context.Context, req pointsync.TicketUseRequest) (int64, error)
	ReadMembership(ctx context.Context, userID string, groupID int64) (*pointsync.MembershipRow, error)
	WriteMembership(ctx context.Context, req pointsync.MembershipWriteRequest) (*pointsync.MembershipWriteResponse, error)
	UpsertDesignOwnership(ctx context.Context, req pointsync.DesignGrantRequest) error
}

// CatalogSource serves the read-mostly catalog the device mirrors.
type CatalogSource interface {
	ListGroups(ctx context.Context) ([]pointsync.GroupRow, error)
	CreateGroup(ctx context.Context, req pointsync.CreateGroupRequest) (*pointsync.GroupRow, error)
	ListGifts(ctx context.Context, groupID int64) ([]pointsync.GiftRow, error)
	ListTickets(ctx context.Context, userID string, groupID int64) ([]pointsync.TicketRow, error)
	ListMemberships(ctx context.Context, userID string) ([]pointsync.MembershipRow, error)
	LeaveGroup(ctx context.Context, userID string, groupID int64) error
}

// Prober checks reachability and credentials of the remote.
// Errors wrap ErrUnreachable or ErrUnauthorized.
type Prober interface {
	Probe(ctx context.Context) error
}
