package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"schemedesk/api/internal/record"
)

var ErrNotFound = errors.New("row not found")

// Table reads and writes scheme rows without assuming their column casing.
// Rows come back keyed by whatever names the driver reports.
type Table struct {
	db          *sql.DB
	dialect     Dialect
	name        string
	keyColumn   string
	orderColumn string
}

func NewTable(db *sql.DB, dialect Dialect, schema record.Schema) *Table {
	return &Table{
		db:          db,
		dialect:     dialect,
		name:        schema.Table,
		keyColumn:   schema.KeyColumn,
		orderColumn: schema.OrderColumn,
	}
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// SelectAll returns every row, newest first when the schema has an order
// column and in store order otherwise.
func (t *Table) SelectAll(ctx context.Context) ([]record.Raw, error) {
	query := "SELECT * FROM " + quote(t.name)
	if t.orderColumn != "" {
		query += " ORDER BY " + quote(t.orderColumn) + " DESC"
	}
	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", t.name, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	items := make([]record.Raw, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", t.name, err)
		}
		item := make(record.Raw, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				item[column] = string(b)
				continue
			}
			item[column] = values[i]
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", t.name, err)
	}
	return items, nil
}

func (t *Table) Insert(ctx context.Context, payload record.Payload) error {
	columns := sortedColumns(payload)
	if len(columns) == 0 {
		return errors.New("insert: empty payload")
	}
	names := make([]string, len(columns))
	marks := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, column := range columns {
		names[i] = quote(column)
		marks[i] = t.dialect.Placeholder(i + 1)
		args[i] = payload[column]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(t.name), strings.Join(names, ", "), strings.Join(marks, ", "))
	if _, err := t.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", t.name, err)
	}
	return nil
}

func (t *Table) Update(ctx context.Context, key string, payload record.Payload) error {
	columns := sortedColumns(payload)
	if len(columns) == 0 {
		return errors.New("update: empty payload")
	}
	sets := make([]string, len(columns))
	args := make([]any, 0, len(columns)+1)
	for i, column := range columns {
		sets[i] = quote(column) + " = " + t.dialect.Placeholder(i+1)
		args = append(args, payload[column])
	}
	args = append(args, key)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		quote(t.name), strings.Join(sets, ", "), quote(t.keyColumn), t.dialect.Placeholder(len(args)))
	result, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", t.name, err)
	}
	return requireAffected(result, "update")
}

func (t *Table) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", quote(t.name), quote(t.keyColumn), t.dialect.Placeholder(1))
	result, err := t.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", t.name, err)
	}
	return requireAffected(result, "delete")
}

func (t *Table) Ping(ctx context.Context) error {
	return t.db.PingContext(ctx)
}

func requireAffected(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func sortedColumns(payload record.Payload) []string {
	columns := make([]string, 0, len(payload))
	for column := range payload {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}
