// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Preference keys persisted across launches
const (
	PrefSelectedGroupID      = "selectedGroupId"
	PrefPendingJoinGroupID   = "pendingJoinGroupId"
	PrefAdminSelectedGroupID = "adminSelectedGroupId"
)

// Prefs is a small key/value store for device preferences.
type Prefs struct {
	q querier
}

// NewPrefs returns the preferences of store
func NewPrefs(store *Store) *Prefs {
	return &Prefs{q: store.db}
}

// Get returns the value of key and whether it is set.
func (p *Prefs) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := p.q.QueryRowContext(ctx, `SELECT value FROM device_prefs WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get pref %s: %w", key, err)
	}
	return v, true, nil
}

func (p *Prefs) Set(ctx context.Context, key, value string) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO device_prefs (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set pref %s: %w", key, err)
	}
	return nil
}

func (p *Prefs) Delete(ctx context.Context, key string) error {
	if _, err := p.q.ExecContext(ctx, `DELETE FROM device_prefs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete pref %s: %w", key, err)
	}
	return nil
}

// GroupID reads a group id preference; unset or unparsable values yield fallback.
func (p *Prefs) GroupID(ctx context.Context, key string, fallback int64) (int64, error) {
	v, ok, err := p.Get(ctx, key)
	if err != nil || !ok {
		return fallback, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return fallback, nil
	}
	return id, nil
}

func (p *Prefs) SetGroupID(ctx context.Context, key string, groupID int64) error {
	return p.Set(ctx, key, strconv.FormatInt(groupID, 10))
}
