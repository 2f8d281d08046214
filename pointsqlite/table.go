// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
)

// querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// tableSpec describes how a record type maps onto a SQLite table.
type tableSpec[T any] struct {
	name    string
	columns []string // insert order, keys included
	key     []string
	values  func(*T) []any // same order as columns
	scan    func(rowScanner) (T, error)
}

// Table is a typed, keyed view over one local table.
type Table[T any] struct {
	q    querier
	spec *tableSpec[T]

	selectSQL string
	upsertSQL string
	keyWhere  string
}

func newTable[T any](q querier, spec *tableSpec[T]) *Table[T] {
	keyConds := make([]string, len(spec.key))
	for i, k := range spec.key {
		keyConds[i] = k + " = ?"
	}

	isKey := make(map[string]bool, len(spec.key))
	for _, k := range spec.key {
		isKey[k] = true
	}
	var updates []string
	for _, c := range spec.columns {
		if !isKey[c] {
			updates = append(updates, c+" = excluded."+c)
		}
	}
	conflict := "DO NOTHING"
	if len(updates) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(updates, ", ")
	}

	return &Table[T]{
		q:         q,
		spec:      spec,
		selectSQL: fmt.Sprintf("SELECT %s FROM %s", strings.Join(spec.columns, ", "), spec.name),
		upsertSQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
			spec.name,
			strings.Join(spec.columns, ", "),
			strings.TrimSuffix(strings.Repeat("?, ", len(spec.columns)), ", "),
			strings.Join(spec.key, ", "),
			conflict),
		keyWhere: strings.Join(keyConds, " AND "),
	}
}

// Name returns the underlying table name.
func (t *Table[T]) Name() string { return t.spec.name }

// In returns the same table bound to a transaction.
func (t *Table[T]) In(tx *sql.Tx) *Table[T] {
	clone := *t
	clone.q = tx
	return &clone
}

// Get returns the record with the given primary key, or ErrNotFound.
func (t *Table[T]) Get(ctx context.Context, key ...any) (T, error) {
	var zero T
	if len(key) != len(t.spec.key) {
		return zero, fmt.Errorf("%s: expected %d key values, got %d", t.spec.name, len(t.spec.key), len(key))
	}
	rec, err := t.spec.scan(t.q.QueryRowContext(ctx, t.selectSQL+" WHERE "+t.keyWhere, key...))
	if errors.Is(err, sql.ErrNoRows) {
		return zero, fmt.Errorf("%w: %s %v", ErrNotFound, t.spec.name, key)
	}
	if err != nil {
		return zero, fmt.Errorf("get %s: %w", t.spec.name, err)
	}
	return rec, nil
}

// Put inserts or replaces the record keyed by its primary key.
func (t *Table[T]) Put(ctx context.Context, rec T) error {
	if _, err := t.q.ExecContext(ctx, t.upsertSQL, t.spec.values(&rec)...); err != nil {
		return fmt.Errorf("put %s: %w", t.spec.name, err)
	}
	return nil
}

// BulkPut writes all records atomically. Bound to a transaction it joins that transaction.
func (t *Table[T]) BulkPut(ctx context.Context, recs []T) error {
	if len(recs) == 0 {
		return nil
	}
	db, ok := t.q.(*sql.DB)
	if !ok {
		return t.putAll(ctx, t.q, recs)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bulk put %s: begin: %w", t.spec.name, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := t.putAll(ctx, tx, recs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bulk put %s: commit: %w", t.spec.name, err)
	}
	committed = true
	return nil
}

func (t *Table[T]) putAll(ctx context.Context, q querier, recs []T) error {
	for i := range recs {
		if _, err := q.ExecContext(ctx, t.upsertSQL, t.spec.values(&recs[i])...); err != nil {
			return fmt.Errorf("bulk put %s: %w", t.spec.name, err)
		}
	}
	return nil
}

// Query lazily yields records matching where (an SQL condition, may be empty).
// The query runs each time the sequence is ranged over. The store uses a single
// connection, so do not issue other statements on it while ranging.
func (t *Table[T]) Query(ctx context.Context, where string, args ...any) iter.Seq2[T, error] {
	query := t.selectSQL
	if where != "" {
		query += " WHERE " + where
	}
	return func(yield func(T, error) bool) {
		var zero T
		rows, err := t.q.QueryContext(ctx, query, args...)
		if err != nil {
			yield(zero, fmt.Errorf("query %s: %w", t.spec.name, err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := t.spec.scan(rows)
			if err != nil {
				yield(zero, fmt.Errorf("scan %s: %w", t.spec.name, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, fmt.Errorf("query %s: %w", t.spec.name, err))
		}
	}
}

// All collects Query results into a slice.
func (t *Table[T]) All(ctx context.Context, where string, args ...any) ([]T, error) {
	var out []T
	for rec, err := range t.Query(ctx, where, args...) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete removes the record with the given key. Deleting a missing record is not an error.
func (t *Table[T]) Delete(ctx context.Context, key ...any) error {
	if len(key) != len(t.spec.key) {
		return fmt.Errorf("%s: expected %d key values, got %d", t.spec.name, len(t.spec.key), len(key))
	}
	if _, err := t.q.ExecContext(ctx, "DELETE FROM "+t.spec.name+" WHERE "+t.keyWhere, key...); err != nil {
		return fmt.Errorf("delete %s: %w", t.spec.name, err)
	}
	return nil
}

// DeleteWhere removes all records matching where and returns how many were removed.
func (t *Table[T]) DeleteWhere(ctx context.Context, where string, args ...any) (int64, error) {
	res, err := t.q.ExecContext(ctx, "DELETE FROM "+t.spec.name+" WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", t.spec.name, err)
	}
	return res.RowsAffected()
}
