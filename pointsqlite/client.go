// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Client bundles the device-side components around one open store.
type Client struct {
	Store     *Store
	Remote    *HTTPLedger
	Guard     *Guard
	Pending   *PendingLog
	Projector *Projector
	Sync      *Synchronizer
	Scanner   *Scanner
	Catalog   *Catalog
	Prefs     *Prefs

	UserID string
	config *Config
	logger *slog.Logger
}

// Status is a snapshot for the admin screen's sync banner.
type Status struct {
	Unsynced  int
	Reachable bool
	LastProbe time.Time
	LastError error
	Paused    bool
}

// NewClient wires every component over store, talking to the ledger at baseURL.
// tok returns the bearer token for each request; config may be nil for defaults.
func NewClient(store *Store, baseURL, userID string, tok func(context.Context) (string, error), config *Config, logger *slog.Logger) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	remote := NewHTTPLedger(baseURL, tok, config.HTTPTimeout, logger)
	guard := NewGuard(remote, logger)
	pending := NewPendingLog(store, logger)
	projector := NewProjector(store, logger)
	syncer := NewSynchronizer(store, pending, projector, remote, config, logger)

	var scanSync *Synchronizer
	if config.ImmediateSync {
		scanSync = syncer
	}

	return &Client{
		Store:     store,
		Remote:    remote,
		Guard:     guard,
		Pending:   pending,
		Projector: projector,
		Sync:      syncer,
		Scanner:   NewScanner(store, pending, projector, scanSync, guard, logger),
		Catalog:   NewCatalog(store, remote, guard, projector, pending, logger),
		Prefs:     NewPrefs(store),
		UserID:    userID,
		config:    config,
		logger:    logger,
	}, nil
}

// Config returns the client configuration
func (c *Client) Config() *Config { return c.config }

// SelectedGroup returns the group the admin is working in, or the default group.
func (c *Client) SelectedGroup(ctx context.Context) (int64, error) {
	return c.Prefs.GroupID(ctx, PrefAdminSelectedGroupID, c.config.DefaultGroupID)
}

// SelectGroup remembers groupID as the working group.
func (c *Client) SelectGroup(ctx context.Context, groupID int64) error {
	return c.Prefs.SetGroupID(ctx, PrefAdminSelectedGroupID, groupID)
}

// SyncNow drains the whole pending log if the remote is usable.
func (c *Client) SyncNow(ctx context.Context) (*SyncSummary, error) {
	if err := c.Guard.Require(ctx, "sync"); err != nil {
		return &SyncSummary{}, err
	}
	return c.Sync.Run(ctx, 0)
}

// Status reports pending work and the outcome of the last reachability probe.
func (c *Client) Status(ctx context.Context) (Status, error) {
	n, err := c.Pending.CountUnsynced(ctx)
	if err != nil {
		return Status{}, err
	}
	at, probeErr := c.Guard.LastProbe()
	return Status{
		Unsynced:  n,
		Reachable: !at.IsZero() && probeErr == nil,
		LastProbe: at,
		LastError: probeErr,
		Paused:    c.Sync.Paused(),
	}, nil
}

// Close closes the underlying store.
func (c *Client) Close() error { return c.Store.Close() }
