package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "taskbot/pkg/logx"
)

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanFunc reads one record. Columns arrive in Schema.Columns order.
type ScanFunc[T any] func(Scanner) (T, error)

// Repository gives filter-driven access to one collection.
type Repository[T any] struct {
	db     *DB
	schema Schema
	scan   ScanFunc[T]
	log    logx.Logger

	selectList string
}

func NewRepository[T any](db *DB, schema Schema, scan ScanFunc[T]) (*Repository[T], error) {
	if db == nil {
		return nil, ErrClosed
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &Repository[T]{
		db:         db,
		schema:     schema,
		scan:       scan,
		log:        db.log.With(logx.String("table", schema.Table)),
		selectList: strings.Join(schema.columnNames(), ", "),
	}, nil
}

func (r *Repository[T]) Schema() Schema { return r.schema }

// Create inserts a record and returns it with its assigned key.
func (r *Repository[T]) Create(ctx context.Context, fields Values) (T, error) {
	var zero T
	vals, err := r.schema.checkCreate(fields)
	if err != nil {
		return zero, err
	}
	var out T
	err = r.db.WithTx(ctx, func(q Querier) error {
		var ierr error
		out, _, ierr = r.insert(ctx, q, vals, false)
		return ierr
	})
	if err != nil {
		return zero, r.wrap("create", err)
	}
	return out, nil
}

// Get returns the first match in default order. Absence is (zero, false, nil).
func (r *Repository[T]) Get(ctx context.Context, where Values) (T, bool, error) {
	var zero T
	vals, err := r.schema.checkFilter(where)
	if err != nil {
		return zero, false, err
	}
	out, ok, err := r.first(ctx, r.db.sql, vals)
	if err != nil {
		return zero, false, r.wrap("get", err)
	}
	return out, ok, nil
}

// GetByID is Get on the key column.
func (r *Repository[T]) GetByID(ctx context.Context, id int64) (T, bool, error) {
	return r.Get(ctx, Values{r.schema.Key: id})
}

// Filter returns every match in default order; no match is an empty slice.
func (r *Repository[T]) Filter(ctx context.Context, where Values) ([]T, error) {
	vals, err := r.schema.checkFilter(where)
	if err != nil {
		return nil, err
	}
	clause, args := r.where(vals, 1)
	out, err := r.query(ctx, r.db.sql, "SELECT "+r.selectList+" FROM "+r.schema.Table+clause+r.orderBy(), args...)
	if err != nil {
		return nil, r.wrap("filter", err)
	}
	return out, nil
}

// All returns the whole collection in default order.
func (r *Repository[T]) All(ctx context.Context) ([]T, error) {
	out, err := r.query(ctx, r.db.sql, "SELECT "+r.selectList+" FROM "+r.schema.Table+r.orderBy())
	if err != nil {
		return nil, r.wrap("all", err)
	}
	return out, nil
}

// Range returns records whose time column lies in [start, end], ascending.
func (r *Repository[T]) Range(ctx context.Context, column string, start, end time.Time) ([]T, error) {
	c, ok := r.schema.column(column)
	if !ok || c.Kind != KindTime {
		return nil, r.schema.invalid(column, "range needs a time column")
	}
	if end.Before(start) {
		return nil, r.schema.invalid(column, "range end before start")
	}
	lo, _ := coerce(c, start)
	hi, _ := coerce(c, end)
	d := r.db.dialect
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s BETWEEN %s AND %s ORDER BY %s, %s",
		r.selectList, r.schema.Table, column, d.placeholder(1), d.placeholder(2), column, r.schema.Key)
	out, err := r.query(ctx, r.db.sql, query, lo, hi)
	if err != nil {
		return nil, r.wrap("range", err)
	}
	return out, nil
}

// GetOrCreate returns the first record matching fields, or inserts fields
// plus Schema.CreateDefaults. The bool reports whether a row was inserted.
// A natural-key conflict on insert resolves to the existing row.
func (r *Repository[T]) GetOrCreate(ctx context.Context, fields Values) (T, bool, error) {
	var zero T
	where, err := r.schema.checkFilter(fields)
	if err != nil {
		return zero, false, err
	}
	insert := make(Values, len(fields)+len(r.schema.CreateDefaults))
	for k, v := range r.schema.CreateDefaults {
		insert[k] = v
	}
	for k, v := range fields {
		insert[k] = v
	}
	vals, err := r.schema.checkCreate(insert)
	if err != nil {
		return zero, false, err
	}

	var (
		out     T
		created bool
	)
	err = r.db.WithTx(ctx, func(q Querier) error {
		rec, ok, err := r.first(ctx, q, where)
		if err != nil {
			return err
		}
		if ok {
			out = rec
			return nil
		}
		rec, ok, err = r.insert(ctx, q, vals, true)
		if err != nil {
			return err
		}
		if ok {
			out, created = rec, true
			return nil
		}
		// Conflict on the natural key: return the row already stored.
		if len(r.schema.NaturalKey) == 0 {
			return fmt.Errorf("%w: insert skipped", ErrConstraint)
		}
		rec, ok, err = r.first(ctx, q, r.naturalKey(vals))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: conflicting row not found", ErrConstraint)
		}
		out = rec
		return nil
	})
	if err != nil {
		return zero, false, r.wrap("get_or_create", err)
	}
	return out, created, nil
}

// Update applies patch to the record with the given key. An unknown key is
// not an error; use UpdateChecked to detect it.
func (r *Repository[T]) Update(ctx context.Context, id int64, patch Values) error {
	_, err := r.update(ctx, id, patch)
	return err
}

// UpdateChecked is Update returning ErrNotFound when no row has the key.
func (r *Repository[T]) UpdateChecked(ctx context.Context, id int64, patch Values) error {
	n, err := r.update(ctx, id, patch)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository[T]) update(ctx context.Context, id int64, patch Values) (int64, error) {
	vals, err := r.schema.checkPatch(patch)
	if err != nil {
		return 0, err
	}
	d := r.db.dialect
	keys := sortedKeys(vals)
	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys)+1)
	for i, k := range keys {
		sets[i] = k + " = " + d.placeholder(i+1)
		args = append(args, vals[k])
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		r.schema.Table, strings.Join(sets, ", "), r.schema.Key, d.placeholder(len(keys)+1))

	var n int64
	err = r.db.WithTx(ctx, func(q Querier) error {
		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, r.wrap("update", err)
	}
	return n, nil
}

// Delete removes the record and reports whether a row was removed.
func (r *Repository[T]) Delete(ctx context.Context, id int64) (bool, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", r.schema.Table, r.schema.Key, r.db.dialect.placeholder(1))
	var n int64
	err := r.db.WithTx(ctx, func(q Querier) error {
		res, err := q.ExecContext(ctx, query, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, r.wrap("delete", err)
	}
	return n > 0, nil
}

// Clear removes every record and returns how many were removed.
func (r *Repository[T]) Clear(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithTx(ctx, func(q Querier) error {
		res, err := q.ExecContext(ctx, "DELETE FROM "+r.schema.Table)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, r.wrap("clear", err)
	}
	return n, nil
}

// Count returns the number of records.
func (r *Repository[T]) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+r.schema.Table).Scan(&n); err != nil {
		return 0, r.wrap("count", err)
	}
	return n, nil
}

// BulkCreate inserts rows in one transaction, skipping rows that collide with
// a unique index. Any other failure rolls back the whole batch.
func (r *Repository[T]) BulkCreate(ctx context.Context, rows []Values) (int, error) {
	checked := make([]Values, len(rows))
	for i, row := range rows {
		vals, err := r.schema.checkCreate(row)
		if err != nil {
			return 0, err
		}
		checked[i] = vals
	}
	if len(checked) == 0 {
		return 0, nil
	}

	inserted := 0
	err := r.db.WithTx(ctx, func(q Querier) error {
		for _, vals := range checked {
			query, args := r.insertSQL(vals, true, false)
			res, err := q.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		r.log.Error("bulk insert rolled back", logx.Int("rows", len(checked)), logx.Err(err))
		return 0, r.wrap("bulk_create", err)
	}
	r.log.Info("bulk insert finished", logx.Int("inserted", inserted), logx.Int("skipped", len(checked)-inserted))
	return inserted, nil
}

func (r *Repository[T]) insert(ctx context.Context, q Querier, vals Values, skipConflict bool) (T, bool, error) {
	query, args := r.insertSQL(vals, skipConflict, true)
	rec, err := r.scan(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		var zero T
		return zero, false, err
	}
	return rec, true, nil
}

func (r *Repository[T]) insertSQL(vals Values, skipConflict, returning bool) (string, []any) {
	d := r.db.dialect
	keys := sortedKeys(vals)
	marks := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		marks[i] = d.placeholder(i + 1)
		args[i] = vals[k]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)", r.schema.Table, strings.Join(keys, ", "), strings.Join(marks, ", "))
	if skipConflict {
		b.WriteString(" ON CONFLICT DO NOTHING")
	}
	if returning {
		b.WriteString(" RETURNING " + r.selectList)
	}
	return b.String(), args
}

// naturalKey narrows an insert set to the schema's natural key.
func (r *Repository[T]) naturalKey(vals Values) Values {
	out := Values{}
	for _, k := range r.schema.NaturalKey {
		out[k] = vals[k]
	}
	return out
}

func (r *Repository[T]) first(ctx context.Context, q Querier, vals Values) (T, bool, error) {
	var zero T
	clause, args := r.where(vals, 1)
	query := "SELECT " + r.selectList + " FROM " + r.schema.Table + clause + r.orderBy() + " LIMIT 1"
	rec, err := r.scan(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	return rec, true, nil
}

func (r *Repository[T]) query(ctx context.Context, q Querier, query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository[T]) where(vals Values, start int) (string, []any) {
	if len(vals) == 0 {
		return "", nil
	}
	d := r.db.dialect
	keys := sortedKeys(vals)
	parts := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	n := start
	for _, k := range keys {
		if vals[k] == nil {
			parts = append(parts, k+" IS NULL")
			continue
		}
		parts = append(parts, k+" = "+d.placeholder(n))
		args = append(args, vals[k])
		n++
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

// orderBy sorts NULLs last on both dialects.
func (r *Repository[T]) orderBy() string {
	o, k := r.schema.OrderBy, r.schema.Key
	if o == k {
		return " ORDER BY " + k
	}
	return fmt.Sprintf(" ORDER BY %s IS NULL, %s, %s", o, o, k)
}

func (r *Repository[T]) wrap(op string, err error) error {
	if err == nil || IsInvalidQuery(err) || IsStorageError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	se := newStorageError(op, r.schema.Table, err)
	r.log.Debug("store operation failed", logx.String("op", op), logx.Err(err), logx.Stack(se.Stack))
	return se
}
