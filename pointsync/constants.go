// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsync

import "time"

// Operation kinds carried by pending scans and history records
const (
	KindGrant       = "GRANT"
	KindUseTicket   = "USE_TICKET"
	KindGrantDesign = "GRANT_DESIGN"
)

// Ticket status values
const (
	TicketUnused = "UNUSED"
	TicketUsed   = "USED"
)

// Error codes carried in ErrorResponse.Error
const (
	CodeInvalidRequest       = "invalid_request"
	CodeMethodNotAllowed     = "method_not_allowed"
	CodeAuthenticationFailed = "authentication_failed"
	CodeForbidden            = "forbidden"
	CodeNotFound             = "not_found"
	CodeMembershipNotFound   = "membership_not_found"
	CodeNegativeBalance      = "negative_balance"
	CodeInternalError        = "internal_error"
)

const (
	// DefaultGroupID is the synthetic group that pre-multi-group data is scoped to.
	DefaultGroupID int64 = 1

	// DefaultRank is the rank label given to a membership created by its first grant.
	DefaultRank = "REGULAR"

	// GroupRetention is how long a soft-deleted group stays visible (read-only).
	GroupRetention = 30 * 24 * time.Hour

	// RoleAdmin marks tokens allowed to act on other users' ledgers.
	RoleAdmin = "admin"
)

// IsValidKind reports whether kind is one of the known operation kinds.
func IsValidKind(kind string) bool {
	switch kind {
	case KindGrant, KindUseTicket, KindGrantDesign:
		return true
	default:
		return false
	}
}
