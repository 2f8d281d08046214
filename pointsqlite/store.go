// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the local durable store: every table of the on-device mirror plus the pending log.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	Groups        *Table[Group]
	Memberships   *Table[Membership]
	UserCache     *Table[UserCache]
	Gifts         *Table[Gift]
	Tickets       *Table[Ticket]
	RankConfigs   *Table[RankConfig]
	CardDesigns   *Table[CardDesign]
	UserDesigns   *Table[UserDesign]
	GroupMembers  *Table[GroupMember]
	TransferRules *Table[TransferRule]
	TransferCodes *Table[TransferCode]
	TransferLogs  *Table[TransferLog]
	PendingScans  *Table[PendingScan] // read access; append and retire through PendingLog

	sourceID string
}

// Open opens (creating if needed) the store at path and upgrades it to the latest schema.
// Failures wrap ErrStoreUnavailable; a store written by a newer build also wraps ErrVersionConflict.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	st, err := NewStore(ctx, db, path, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// openDB opens a single-connection SQLite handle. One connection keeps :memory:
// databases coherent and serializes writers the way SQLite expects.
func openDB(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewStore wraps an open database, applying pragmas and pending migrations.
func NewStore(ctx context.Context, db *sql.DB, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %w", ErrStoreUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("%w: failed to enable foreign keys: %w", ErrStoreUnavailable, err)
	}
	if err := Migrate(ctx, db, logger); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	st := &Store{
		db:            db,
		path:          path,
		logger:        logger,
		Groups:        newTable(db, groupsSpec),
		Memberships:   newTable(db, membershipsSpec),
		UserCache:     newTable(db, userCacheSpec),
		Gifts:         newTable(db, giftsSpec),
		Tickets:       newTable(db, ticketsSpec),
		RankConfigs:   newTable(db, rankConfigsSpec),
		CardDesigns:   newTable(db, cardDesignsSpec),
		UserDesigns:   newTable(db, userDesignsSpec),
		GroupMembers:  newTable(db, groupMembersSpec),
		TransferRules: newTable(db, transferRulesSpec),
		TransferCodes: newTable(db, transferCodesSpec),
		TransferLogs:  newTable(db, transferLogsSpec),
		PendingScans:  newTable(db, pendingScansSpec),
	}

	sourceID, err := st.ensureSourceID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	st.sourceID = sourceID
	return st, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the path the store was opened from.
func (s *Store) Path() string { return s.path }

// SourceID returns the persistent device identifier used to key pending operations remotely.
func (s *Store) SourceID() string { return s.sourceID }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// ensureSourceID generates and persists the device source id on first open
func (s *Store) ensureSourceID(ctx context.Context) (string, error) {
	var sourceID string
	err := s.db.QueryRowContext(ctx, `SELECT source_id FROM _device_info WHERE id = 1`).Scan(&sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		sourceID = uuid.NewString()
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO _device_info (id, source_id, created_at) VALUES (1, ?, ?)`,
			sourceID, time.Now().UnixMilli()); err != nil {
			return "", fmt.Errorf("failed to insert device info: %w", err)
		}
		s.logger.Debug("Generated device source id", "source_id", sourceID)
		return sourceID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query device info: %w", err)
	}
	return sourceID, nil
}

// WithTx runs fn in a transaction, committing when fn returns nil.
// fn must use tx (or tables bound with In) for every statement.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}
