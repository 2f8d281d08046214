// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
)

// DefaultMaxStoreResets is how many times a failing store is deleted and recreated
// in one session before giving up.
const DefaultMaxStoreResets = 2

// RecoveryPhase is the state of store-open recovery
type RecoveryPhase int

const (
	PhaseIdle RecoveryPhase = iota
	PhaseRetrying
	PhaseFailed
)

func (p RecoveryPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRetrying:
		return "retrying"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// RecoveryState reports where store-open recovery stands.
type RecoveryState struct {
	Phase   RecoveryPhase
	Resets  int
	LastErr error
}

// Opener opens the local store, deleting and recreating it when it cannot be opened.
// Resets are bounded per session; once exhausted the opener stays failed until Reset.
type Opener struct {
	Path      string
	MaxResets int

	// OnUnavailable is called once when recovery gives up.
	OnUnavailable func(err error)

	// Injectable for tests; default to Open and removing the SQLite files.
	OpenFunc   func(ctx context.Context, path string) (*Store, error)
	RemoveFunc func(path string) error

	logger *slog.Logger
	mu     sync.Mutex
	state  RecoveryState
}

// NewOpener returns an opener for the store at path
func NewOpener(path string, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Opener{
		Path:       path,
		MaxResets:  DefaultMaxStoreResets,
		RemoveFunc: removeStoreFiles,
		logger:     logger,
	}
	o.OpenFunc = func(ctx context.Context, path string) (*Store, error) {
		return Open(ctx, path, o.logger)
	}
	return o
}

// State returns a snapshot of the recovery state.
func (o *Opener) State() RecoveryState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Reset clears a failed state so the next Open tries again from scratch.
func (o *Opener) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = RecoveryState{}
}

// Open returns an open store. On failure it deletes the store and retries, up to
// MaxResets times per session. Local data in a deleted store is lost; the remote
// ledger is the source of truth for everything but unsynced scans.
func (o *Opener) Open(ctx context.Context) (*Store, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Phase == PhaseFailed {
		return nil, fmt.Errorf("%w: recovery exhausted: %w", ErrStoreUnavailable, o.state.LastErr)
	}

	for {
		st, err := o.OpenFunc(ctx, o.Path)
		if err == nil {
			o.state.Phase = PhaseIdle
			o.state.LastErr = nil
			return st, nil
		}
		o.state.LastErr = err
		if ctx.Err() != nil {
			return nil, err
		}

		if o.state.Resets >= o.MaxResets {
			o.state.Phase = PhaseFailed
			o.logger.Error("Local store unavailable, giving up", "path", o.Path, "resets", o.state.Resets, "error", err)
			if o.OnUnavailable != nil {
				o.OnUnavailable(err)
			}
			if errors.Is(err, ErrStoreUnavailable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}

		o.state.Resets++
		o.state.Phase = PhaseRetrying
		o.logger.Warn("Local store failed to open, recreating", "path", o.Path, "attempt", o.state.Resets, "error", err)
		if rmErr := o.RemoveFunc(o.Path); rmErr != nil {
			o.state.Phase = PhaseFailed
			o.state.LastErr = rmErr
			o.logger.Error("Failed to delete local store", "path", o.Path, "error", rmErr)
			if o.OnUnavailable != nil {
				o.OnUnavailable(rmErr)
			}
			return nil, fmt.Errorf("%w: delete store: %w", ErrStoreUnavailable, rmErr)
		}
	}
}

// removeStoreFiles deletes the database file and its WAL/SHM companions.
func removeStoreFiles(path string) error {
	if path == ":memory:" {
		return nil
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
