// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsync

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when a membership, group, gift or ticket does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBadRequest wraps request validation failures.
	ErrBadRequest = errors.New("bad request")
	// ErrNegativeBalance is returned when a membership write would leave a negative balance.
	ErrNegativeBalance = errors.New("membership balance would become negative")
	// ErrForbidden is returned when a caller acts on a ledger it does not own.
	ErrForbidden = errors.New("forbidden")
	// ErrServiceClosed is returned after Close.
	ErrServiceClosed = errors.New("ledger service is closed")
)

func badRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// statusForError maps ledger errors to an HTTP status and error code
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ErrNegativeBalance):
		return http.StatusConflict, CodeNegativeBalance
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}
