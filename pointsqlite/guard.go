// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Guard decides whether remote-backed actions may run right now.
type Guard struct {
	prober Prober
	logger *slog.Logger

	// OnOffline is called with the classified error whenever a probe fails.
	OnOffline func(err error)

	mu        sync.Mutex
	lastErr   error
	lastProbe time.Time
}

// NewGuard returns a guard backed by prober
func NewGuard(prober Prober, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{prober: prober, logger: logger}
}

// Probe checks the remote and returns an error wrapping ErrUnreachable or ErrUnauthorized.
func (g *Guard) Probe(ctx context.Context) error {
	err := g.prober.Probe(ctx)
	if err != nil && !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrUnreachable) {
		err = fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	g.mu.Lock()
	g.lastErr = err
	g.lastProbe = time.Now()
	g.mu.Unlock()

	if err != nil {
		g.logger.Info("Remote ledger not usable", "error", err)
		if g.OnOffline != nil {
			g.OnOffline(err)
		}
	}
	return err
}

// Reachable reports whether the remote answered and accepted our credentials.
func (g *Guard) Reachable(ctx context.Context) bool {
	return g.Probe(ctx) == nil
}

// Require returns nil when the remote is usable and the classified error otherwise.
// Remote-only actions call it first so they fail fast while offline.
func (g *Guard) Require(ctx context.Context, action string) error {
	if err := g.Probe(ctx); err != nil {
		return fmt.Errorf("%s needs the remote ledger: %w", action, err)
	}
	return nil
}

// LastProbe returns when the most recent probe ran and its outcome.
func (g *Guard) LastProbe() (time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastProbe, g.lastErr
}
