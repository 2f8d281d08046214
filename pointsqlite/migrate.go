// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mobiletoly/go-pointcard/pointsync"
)

// LatestSchemaVersion is the schema version this build writes.
const LatestSchemaVersion = 4

const markerDefaultGroupBackfill = "v2_default_group_backfill"

type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

// Schema versions are additive: later versions only create tables, add columns,
// indexes and triggers, or backfill. Nothing a user wrote is dropped.
var migrations = []migration{
	{1, "legacy single-group tables", migrateV1},
	{2, "multi-group tables and default group backfill", migrateV2},
	{3, "point transfer tables", migrateV3},
	{4, "soft delete, indexes and pending log immutability", migrateV4},
}

// SchemaVersion returns the version recorded in the store.
func SchemaVersion(ctx context.Context, q querier) (int, error) {
	var v int
	if err := q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Migrate upgrades db to LatestSchemaVersion. Each version commits on its own,
// so an interrupted upgrade resumes from the last completed version.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	return MigrateTo(ctx, db, LatestSchemaVersion, logger)
}

// MigrateTo upgrades db up to and including target.
func MigrateTo(ctx context.Context, db *sql.DB, target int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > LatestSchemaVersion {
		return fmt.Errorf("%w: store at v%d, build supports v%d", ErrVersionConflict, current, LatestSchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current || m.version > target {
			continue
		}
		if err := runMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
		logger.Info("Local schema upgraded", "version", m.version, "step", m.name)
	}
	return nil
}

func runMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := m.apply(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func execAll(ctx context.Context, tx *sql.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %.60q: %w", stmt, err)
		}
	}
	return nil
}

func migrateV1(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx,
		`CREATE TABLE IF NOT EXISTS user_cache (
			user_id            TEXT    PRIMARY KEY,
			points             INTEGER NOT NULL DEFAULT 0,
			total_points       INTEGER NOT NULL DEFAULT 0,
			rank               TEXT    NOT NULL DEFAULT '',
			selected_design_id TEXT    NOT NULL DEFAULT '',
			updated_at         INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS gifts (
			id          TEXT    PRIMARY KEY,
			name        TEXT    NOT NULL,
			description TEXT    NOT NULL DEFAULT '',
			points_cost INTEGER NOT NULL DEFAULT 0,
			image_url   TEXT    NOT NULL DEFAULT '',
			active      INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS user_tickets (
			id          TEXT    PRIMARY KEY,
			user_id     TEXT    NOT NULL,
			gift_id     TEXT    NOT NULL,
			gift_name   TEXT    NOT NULL DEFAULT '',
			status      TEXT    NOT NULL DEFAULT 'UNUSED' CHECK (status IN ('UNUSED','USED')),
			acquired_at INTEGER NOT NULL DEFAULT 0,
			used_at     INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS rank_configs (
			id               TEXT    PRIMARY KEY,
			name             TEXT    NOT NULL,
			min_total_points INTEGER NOT NULL DEFAULT 0,
			color            TEXT    NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS card_designs (
			id        TEXT PRIMARY KEY,
			name      TEXT NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			rarity    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS user_designs (
			user_id     TEXT    NOT NULL,
			design_id   TEXT    NOT NULL,
			acquired_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, design_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pending_scans (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id     TEXT    NOT NULL,
			points      INTEGER NOT NULL,
			kind        TEXT    NOT NULL CHECK (kind IN ('GRANT','USE_TICKET','GRANT_DESIGN')),
			ticket_id   TEXT    NOT NULL DEFAULT '',
			design_id   TEXT    NOT NULL DEFAULT '',
			captured_at INTEGER NOT NULL,
			synced      INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS device_prefs (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS _device_info (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			source_id  TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS _migration_markers (
			name       TEXT    PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`,
	)
}

// groupScopedTables gained a group_id column in v2; 0 means "not yet tagged".
var groupScopedTables = []string{"gifts", "user_tickets", "rank_configs", "card_designs", "user_designs", "pending_scans"}

func migrateV2(ctx context.Context, tx *sql.Tx) error {
	err := execAll(ctx, tx,
		`CREATE TABLE IF NOT EXISTS groups (
			id          INTEGER PRIMARY KEY,
			name        TEXT    NOT NULL,
			theme_color TEXT    NOT NULL DEFAULT '',
			logo_url    TEXT    NOT NULL DEFAULT '',
			banner_url  TEXT    NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS user_memberships (
			user_id            TEXT    NOT NULL,
			group_id           INTEGER NOT NULL,
			points             INTEGER NOT NULL DEFAULT 0,
			total_points       INTEGER NOT NULL DEFAULT 0,
			rank               TEXT    NOT NULL DEFAULT '',
			selected_design_id TEXT    NOT NULL DEFAULT '',
			updated_at         INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, group_id)
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id  INTEGER NOT NULL,
			user_id   TEXT    NOT NULL,
			role      TEXT    NOT NULL DEFAULT 'member',
			joined_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (group_id, user_id)
		)`,
	)
	if err != nil {
		return err
	}
	for _, table := range groupScopedTables {
		if err := addColumnIfMissing(ctx, tx, table, "group_id", "INTEGER NOT NULL DEFAULT 0"); err != nil {
			return err
		}
	}
	return backfillDefaultGroup(ctx, tx, pointsync.DefaultGroupID)
}

// backfillDefaultGroup moves single-group data into the default group.
// Every statement is conditional, so running it again inserts and changes nothing.
func backfillDefaultGroup(ctx context.Context, q querier, groupID int64) error {
	now := time.Now().UnixMilli()
	if _, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO groups (id, name, created_at) VALUES (?, 'Default', ?)`, groupID, now); err != nil {
		return fmt.Errorf("ensure default group: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO user_memberships (user_id, group_id, points, total_points, rank, selected_design_id, updated_at)
		SELECT uc.user_id, ?, uc.points, uc.total_points, uc.rank, uc.selected_design_id, uc.updated_at
		FROM user_cache uc
		WHERE NOT EXISTS (
			SELECT 1 FROM user_memberships m WHERE m.user_id = uc.user_id AND m.group_id = ?
		)`, groupID, groupID); err != nil {
		return fmt.Errorf("copy user_cache into memberships: %w", err)
	}
	for _, table := range groupScopedTables {
		if _, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET group_id = ? WHERE group_id = 0`, table), groupID); err != nil {
			return fmt.Errorf("tag %s with default group: %w", table, err)
		}
	}
	if _, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO _migration_markers (name, applied_at) VALUES (?, ?)`, markerDefaultGroupBackfill, now); err != nil {
		return fmt.Errorf("record backfill marker: %w", err)
	}
	return nil
}

func migrateV3(ctx context.Context, tx *sql.Tx) error {
	if err := addColumnIfMissing(ctx, tx, "groups", "transfer_enabled", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	return execAll(ctx, tx,
		`CREATE TABLE IF NOT EXISTS transfer_rules (
			id               TEXT    PRIMARY KEY,
			from_group_id    INTEGER NOT NULL,
			to_group_id      INTEGER NOT NULL,
			rate_numerator   INTEGER NOT NULL DEFAULT 1,
			rate_denominator INTEGER NOT NULL DEFAULT 1,
			enabled          INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS transfer_codes (
			code       TEXT    PRIMARY KEY,
			user_id    TEXT    NOT NULL,
			group_id   INTEGER NOT NULL,
			points     INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			used_at    INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS transfer_logs (
			id            TEXT    PRIMARY KEY,
			from_user_id  TEXT    NOT NULL,
			to_user_id    TEXT    NOT NULL,
			from_group_id INTEGER NOT NULL,
			to_group_id   INTEGER NOT NULL,
			points        INTEGER NOT NULL,
			created_at    INTEGER NOT NULL
		)`,
	)
}

func migrateV4(ctx context.Context, tx *sql.Tx) error {
	if err := addColumnIfMissing(ctx, tx, "groups", "deleted_at", "INTEGER"); err != nil {
		return err
	}
	err := execAll(ctx, tx,
		`CREATE INDEX IF NOT EXISTS idx_pending_scans_synced ON pending_scans(synced, id)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_scans_user_group ON pending_scans(user_id, group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_tickets_user_group ON user_tickets(user_id, group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_gifts_group ON gifts(group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_designs_group ON user_designs(user_id, group_id)`,
	)
	if err != nil {
		return err
	}
	return createImmutabilityTriggers(ctx, tx, "pending_scans", "synced", "pending scans")
}
