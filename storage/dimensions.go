package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Attr is one column/value pair of a dimension row.
type Attr struct {
	Column string
	Value  any
}

// DimensionTable names a dimension table and its surrogate id column.
type DimensionTable struct {
	Name     string
	IDColumn string
}

// LookupDimension returns the id of the row whose key columns equal key.
// found is false when no such row exists.
func (d *DB) LookupDimension(ctx context.Context, q Querier, t DimensionTable, key []Attr) (id int64, found bool, err error) {
	eq := sq.Eq{}
	for _, a := range key {
		eq[a.Column] = a.Value
	}
	query, args, err := d.Dialect.Builder().Select(t.IDColumn).From(t.Name).Where(eq).ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("dimension %s: build lookup: %w", t.Name, err)
	}

	err = q.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("dimension %s: lookup: %w", t.Name, err)
	}
	return id, true, nil
}

// InsertDimension appends a dimension row and returns its id. A duplicate
// natural key is reported as ErrConflict.
func (d *DB) InsertDimension(ctx context.Context, q Querier, t DimensionTable, attrs []Attr) (int64, error) {
	cols := make([]string, len(attrs))
	vals := make([]any, len(attrs))
	for i, a := range attrs {
		cols[i] = a.Column
		vals[i] = a.Value
	}
	b := d.Dialect.Builder().Insert(t.Name).Columns(cols...).Values(vals...)

	id, err := insertReturningID(ctx, q, b, t.IDColumn)
	if err != nil {
		return 0, fmt.Errorf("dimension %s: insert: %w", t.Name, err)
	}
	return id, nil
}

// CountRows returns the number of rows in table. Used by reports and tests.
func (d *DB) CountRows(ctx context.Context, table string) (int, error) {
	query, args, err := d.Dialect.Builder().Select("COUNT(*)").From(table).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := d.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
