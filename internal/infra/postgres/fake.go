package postgres

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
)

// QuerierFunc is a Querier built from functions, for tests.
type QuerierFunc struct {
	QueryFunc    func(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) Row
	ExecFunc     func(ctx context.Context, sql string, args ...any) (int64, error)
}

// Query implements Querier.
func (q *QuerierFunc) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	if q.QueryFunc == nil {
		return &StaticRows{}, nil
	}
	return q.QueryFunc(ctx, sql, args...)
}

// QueryRow implements Querier.
func (q *QuerierFunc) QueryRow(ctx context.Context, sql string, args ...any) Row {
	if q.QueryRowFunc == nil {
		return &StaticRow{Err: pgx.ErrNoRows}
	}
	return q.QueryRowFunc(ctx, sql, args...)
}

// Exec implements Querier.
func (q *QuerierFunc) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if q.ExecFunc == nil {
		return 0, nil
	}
	return q.ExecFunc(ctx, sql, args...)
}

// StaticRows replays fixed values. Each value is assigned to the matching
// Scan destination, converting between compatible kinds.
type StaticRows struct {
	Values [][]any
	pos    int
}

// Next implements Rows.
func (r *StaticRows) Next() bool {
	if r.pos >= len(r.Values) {
		return false
	}
	r.pos++
	return true
}

// Scan implements Rows.
func (r *StaticRows) Scan(dest ...any) error {
	return assign(r.Values[r.pos-1], dest)
}

// Err implements Rows.
func (r *StaticRows) Err() error { return nil }

// Close implements Rows.
func (r *StaticRows) Close() {}

// StaticRow is a single-row result.
type StaticRow struct {
	Values []any
	Err    error
}

// Scan implements Row.
func (r *StaticRow) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	return assign(r.Values, dest)
}

func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan: %d values for %d destinations", len(values), len(dest))
	}
	for i, v := range values {
		target := reflect.ValueOf(dest[i])
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		elem := target.Elem()
		if v == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		val := reflect.ValueOf(v)
		switch {
		case val.Type().AssignableTo(elem.Type()):
			elem.Set(val)
		case elem.Kind() == reflect.Pointer && val.Type().AssignableTo(elem.Type().Elem()):
			p := reflect.New(elem.Type().Elem())
			p.Elem().Set(val)
			elem.Set(p)
		case val.Type().ConvertibleTo(elem.Type()):
			elem.Set(val.Convert(elem.Type()))
		default:
			return fmt.Errorf("scan: cannot assign %T to %s", v, elem.Type())
		}
	}
	return nil
}
