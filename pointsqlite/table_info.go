// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"context"
	"fmt"
	"strings"
)

// ColumnInfo holds information about a table column
type ColumnInfo struct {
	Name         string
	DeclaredType string
	IsPrimaryKey bool
	NotNull      bool
	DefaultValue *string
}

// tableColumns reads PRAGMA table_info for table. A missing table yields no columns.
func tableColumns(ctx context.Context, q querier, table string) ([]ColumnInfo, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			cid     int
			col     ColumnInfo
			notNull int
			pk      int
		)
		if err := rows.Scan(&cid, &col.Name, &col.DeclaredType, &notNull, &col.DefaultValue, &pk); err != nil {
			return nil, fmt.Errorf("table_info %s: %w", table, err)
		}
		col.NotNull = notNull == 1
		col.IsPrimaryKey = pk > 0
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func hasColumn(ctx context.Context, q querier, table, column string) (bool, error) {
	cols, err := tableColumns(ctx, q, table)
	if err != nil {
		return false, err
	}
	for _, c := range cols {
		if strings.EqualFold(c.Name, column) {
			return true, nil
		}
	}
	return false, nil
}

// addColumnIfMissing adds a column unless a previous (possibly interrupted) run already did.
func addColumnIfMissing(ctx context.Context, q querier, table, column, decl string) error {
	ok, err := hasColumn(ctx, q, table, column)
	if err != nil || ok {
		return err
	}
	if _, err := q.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}
