// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable means the local store could not be opened or upgraded.
	ErrStoreUnavailable = errors.New("local store unavailable")
	// ErrVersionConflict means the store was written by a newer schema than this build knows.
	ErrVersionConflict = errors.New("local store schema is newer than supported")
	// ErrNotFound is returned by keyed lookups that match no row.
	ErrNotFound = errors.New("not found")

	// ErrInvariantViolation marks a ledger rule broken by local or remote state.
	ErrInvariantViolation = errors.New("ledger invariant violation")
	// ErrNegativeBalance is an invariant violation: a debit drove a balance below zero.
	ErrNegativeBalance = fmt.Errorf("%w: negative balance", ErrInvariantViolation)

	// ErrInsufficientBalance rejects a spend before anything is recorded.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrTicketAlreadyUsed rejects scanning a ticket the local mirror already shows as used.
	ErrTicketAlreadyUsed = errors.New("ticket already used")
	// ErrPendingOperations blocks destructive actions while unsynced scans exist.
	ErrPendingOperations = errors.New("unsynced operations pending")

	// ErrUnreachable means the remote ledger could not be reached.
	ErrUnreachable = errors.New("remote ledger unreachable")
	// ErrUnauthorized means the remote ledger rejected the credentials.
	ErrUnauthorized = errors.New("remote ledger rejected credentials")
	// ErrMembershipNotFound is returned by the remote when no membership exists.
	ErrMembershipNotFound = errors.New("remote membership not found")
	// ErrSyncPaused is returned by Run while synchronization is paused.
	ErrSyncPaused = errors.New("sync paused")
)
