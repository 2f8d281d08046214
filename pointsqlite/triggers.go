// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
)

// immutableTriggerData holds the data needed for trigger template rendering
type immutableTriggerData struct {
	TableName   string
	Columns     string
	FlagColumn  string
	Description string
}

// Rejects any update touching the immutable columns of a row.
const immutableColumnsTemplate = `CREATE TRIGGER IF NOT EXISTS trg_{{.TableName}}_immutable
BEFORE UPDATE OF {{.Columns}} ON {{.TableName}}
BEGIN
	SELECT RAISE(ABORT, '{{.Description}} are immutable once written');
END`

// Allows the flag column to move forward only (0 -> 1).
const oneWayFlagTemplate = `CREATE TRIGGER IF NOT EXISTS trg_{{.TableName}}_{{.FlagColumn}}_one_way
BEFORE UPDATE OF {{.FlagColumn}} ON {{.TableName}}
WHEN OLD.{{.FlagColumn}} = 1 AND NEW.{{.FlagColumn}} = 0
BEGIN
	SELECT RAISE(ABORT, '{{.Description}} cannot be marked unsynced again');
END`

var (
	immutableColumnsTmpl = template.Must(template.New("immutable").Parse(immutableColumnsTemplate))
	oneWayFlagTmpl       = template.Must(template.New("oneway").Parse(oneWayFlagTemplate))
)

// createImmutabilityTriggers locks every column of table except flagColumn,
// which may only go from 0 to 1.
func createImmutabilityTriggers(ctx context.Context, q querier, table, flagColumn, description string) error {
	cols, err := tableColumns(ctx, q, table)
	if err != nil {
		return err
	}
	var locked []string
	for _, c := range cols {
		if !strings.EqualFold(c.Name, flagColumn) {
			locked = append(locked, c.Name)
		}
	}
	if len(locked) == 0 {
		return fmt.Errorf("table %s has no columns to protect", table)
	}

	data := immutableTriggerData{
		TableName:   table,
		Columns:     strings.Join(locked, ", "),
		FlagColumn:  flagColumn,
		Description: description,
	}
	for _, tmpl := range []*template.Template{immutableColumnsTmpl, oneWayFlagTmpl} {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return fmt.Errorf("render %s trigger for %s: %w", tmpl.Name(), table, err)
		}
		if _, err := q.ExecContext(ctx, buf.String()); err != nil {
			return fmt.Errorf("create %s trigger for %s: %w", tmpl.Name(), table, err)
		}
	}
	return nil
}
