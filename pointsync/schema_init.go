// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// initializeSchemaInTx creates the ledger tables within an existing transaction
func (s *LedgerService) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS ledger`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS ledger.groups (
			id               BIGSERIAL   PRIMARY KEY,
			name             TEXT        NOT NULL,
			theme_color      TEXT        NOT NULL DEFAULT '',
			logo_url         TEXT,
			banner_url       TEXT,
			transfer_enabled BOOLEAN     NOT NULL DEFAULT FALSE,
			deleted_at       TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		// Pre-multi-group data belongs to the default group.
		fmt.Sprintf(`INSERT INTO ledger.groups (id, name) VALUES (%d, 'Default') ON CONFLICT (id) DO NOTHING`, DefaultGroupID),
		`SELECT setval(pg_get_serial_sequence('ledger.groups', 'id'), GREATEST((SELECT MAX(id) FROM ledger.groups), 1))`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS ledger.user_memberships (
			user_id            TEXT        NOT NULL,
			group_id           BIGINT      NOT NULL REFERENCES ledger.groups(id) ON DELETE CASCADE,
			balance            BIGINT      NOT NULL DEFAULT 0 CHECK (balance >= 0),
			lifetime           BIGINT      NOT NULL DEFAULT 0,
			rank               TEXT        NOT NULL DEFAULT '',
			selected_design_id TEXT        NOT NULL DEFAULT '',
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, group_id)
		)`,

		// Append-only audit trail; survives group purge.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS ledger.point_history (
			id           BIGSERIAL   PRIMARY KEY,
			user_id      TEXT        NOT NULL,
			group_id     BIGINT      NOT NULL,
			points       BIGINT      NOT NULL,
			kind         TEXT        NOT NULL CHECK (kind IN ('GRANT','USE_TICKET','GRANT_DESIGN')),
			occurred_at  TIMESTAMPTZ NOT NULL,
			metadata     JSONB,
			source_id    TEXT        NOT NULL,
			source_op_id BIGINT      NOT NULL,
			recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (source_id, source_op_id)
		)`,
		`CREATE INDEX IF NOT EXISTS point_history_user_group_idx ON ledger.point_history(user_id, group_id, occurred_at)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS ledger.gifts (
			id          TEXT    PRIMARY KEY,
			group_id    BIGINT  NOT NULL REFERENCES ledger.groups(id) ON DELETE CASCADE,
			name        TEXT    NOT NULL,
			description TEXT    NOT NULL DEFAULT '',
			points_cost BIGINT  NOT NULL CHECK (points_cost >= 0),
			image_url   TEXT,
			active      BOOLEAN NOT NULL DEFAULT TRUE
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS ledger.user_tickets (
			id             TEXT        PRIMARY KEY,
			user_id        TEXT        NOT NULL,
			group_id       BIGINT      NOT NULL REFERENCES ledger.groups(id) ON DELETE CASCADE,
			gift_id        TEXT        NOT NULL REFERENCES ledger.gifts(id) ON DELETE CASCADE,
			gift_name      TEXT        NOT NULL DEFAULT '',
			status         TEXT        NOT NULL DEFAULT 'UNUSED' CHECK (status IN ('UNUSED','USED')),
			acquired_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			used_at        TIMESTAMPTZ,
			used_by_source TEXT,
			used_by_op     BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS user_tickets_user_group_idx ON ledger.user_tickets(user_id, group_id)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS ledger.user_designs (
			user_id     TEXT        NOT NULL,
			group_id    BIGINT      NOT NULL REFERENCES ledger.groups(id) ON DELETE CASCADE,
			design_id   TEXT        NOT NULL,
			acquired_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, group_id, design_id)
		)`,

		// Device operations already folded into a membership balance.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS ledger.membership_applied_ops (
			source_id    TEXT        NOT NULL,
			source_op_id BIGINT      NOT NULL,
			user_id      TEXT        NOT NULL,
			group_id     BIGINT      NOT NULL,
			points       BIGINT      NOT NULL,
			applied_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (source_id, source_op_id)
		)`,
	}

	for i, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ledger schema step %d: %w", i+1, err)
		}
	}
	s.logger.Debug("Ledger schema statements applied", "count", len(migrations))
	return nil
}
