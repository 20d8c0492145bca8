package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/bingolive/go/internal/sqlutil"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Postgres is a Store over database/sql with the lib/pq driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func lookup(table Table) (schema, error) {
	sc, ok := schemas[table]
	if !ok {
		return schema{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return sc, nil
}

func (p *Postgres) Get(ctx context.Context, table Table, filter Filter) (Record, error) {
	recs, err := p.query(ctx, p.db, table, filter, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

func (p *Postgres) List(ctx context.Context, table Table, filter Filter) ([]Record, error) {
	return p.query(ctx, p.db, table, filter, 0)
}

func (p *Postgres) query(ctx context.Context, q querier, table Table, filter Filter, limit int) ([]Record, error) {
	sc, err := lookup(table)
	if err != nil {
		return nil, err
	}
	where, args, err := buildWhere(sc, filter, 1)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(sc.names(), ", "), table, where)
	if limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return scanRecords(sc, rows)
}

func (p *Postgres) Upsert(ctx context.Context, table Table, rec Record, conflictKey []string) (Record, error) {
	sc, err := lookup(table)
	if err != nil {
		return nil, err
	}
	cols, args, err := buildValues(sc, rec)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(sc, conflictKey); err != nil {
		return nil, err
	}
	if len(conflictKey) == 0 {
		return nil, fmt.Errorf("conflict key: %w", ErrEmptyFilter)
	}
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING %s",
		table, strings.Join(cols, ", "), placeholders(len(cols), 1),
		strings.Join(conflictKey, ", "), strings.Join(sets, ", "), strings.Join(sc.names(), ", "),
	)
	rows, err := p.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", table, err)
	}
	recs, err := scanRecords(sc, rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("upsert %s: no row returned", table)
	}
	return recs[0], nil
}

// Increment upserts with column = column + EXCLUDED.column so concurrent
// callers never lose an update.
func (p *Postgres) Increment(ctx context.Context, table Table, key Record, column string, by int64) (Record, error) {
	sc, err := lookup(table)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("increment key: %w", ErrEmptyFilter)
	}
	if err := checkColumns(sc, []string{column}); err != nil {
		return nil, err
	}
	rec := key.Clone()
	rec[column] = by
	cols, args, err := buildValues(sc, rec)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s = %s.%s + EXCLUDED.%s RETURNING %s",
		table, strings.Join(cols, ", "), placeholders(len(cols), 1),
		strings.Join(sortedKeys(key), ", "), column, table, column, column, strings.Join(sc.names(), ", "),
	)
	rows, err := p.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("increment %s: %w", table, err)
	}
	recs, err := scanRecords(sc, rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("increment %s: no row returned", table)
	}
	return recs[0], nil
}

// Insert relies on a unique constraint over conflictKey: the first committed
// row wins and later writers read it back.
func (p *Postgres) Insert(ctx context.Context, table Table, rec Record, conflictKey []string) (Record, bool, error) {
	sc, err := lookup(table)
	if err != nil {
		return nil, false, err
	}
	cols, args, err := buildValues(sc, rec)
	if err != nil {
		return nil, false, err
	}
	if err := checkColumns(sc, conflictKey); err != nil {
		return nil, false, err
	}
	keyFilter := Filter{}
	for _, k := range conflictKey {
		keyFilter[k] = rec[k]
	}
	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING RETURNING %s",
		table, strings.Join(cols, ", "), placeholders(len(cols), 1),
		strings.Join(conflictKey, ", "), strings.Join(sc.names(), ", "),
	)

	var (
		out      Record
		inserted bool
	)
	err = sqlutil.Run(ctx, p.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, stmt, args...)
		if err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
		recs, err := scanRecords(sc, rows)
		if err != nil {
			return err
		}
		if len(recs) > 0 {
			out, inserted = recs[0], true
			return nil
		}
		existing, err := p.query(ctx, tx, table, keyFilter, 1)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return fmt.Errorf("insert %s: conflicting row vanished", table)
		}
		out = existing[0]
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, inserted, nil
}

func (p *Postgres) Update(ctx context.Context, table Table, patch Record, filter Filter) error {
	sc, err := lookup(table)
	if err != nil {
		return err
	}
	if len(filter) == 0 {
		return ErrEmptyFilter
	}
	cols, args, err := buildValues(sc, patch)
	if err != nil {
		return err
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	where, whereArgs, err := buildWhere(sc, filter, len(args)+1)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), where)
	if _, err := p.db.ExecContext(ctx, stmt, append(args, whereArgs...)...); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, table Table, filter Filter) error {
	sc, err := lookup(table)
	if err != nil {
		return err
	}
	if len(filter) == 0 {
		return ErrEmptyFilter
	}
	where, args, err := buildWhere(sc, filter, 1)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s%s", table, where), args...); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

func checkColumns(sc schema, names []string) error {
	for _, n := range names {
		if _, ok := sc.byName[n]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownColumn, n)
		}
	}
	return nil
}

func sortedKeys[M ~map[string]any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func buildWhere(sc schema, filter Filter, start int) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	keys := sortedKeys(filter)
	if err := checkColumns(sc, keys); err != nil {
		return "", nil, err
	}
	conds := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("%s = $%d", k, start+i)
		v, err := toArg(sc.byName[k], filter[k])
		if err != nil {
			return "", nil, fmt.Errorf("filter %s: %w", k, err)
		}
		args[i] = v
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func buildValues(sc schema, rec Record) ([]string, []any, error) {
	keys := sortedKeys(rec)
	if err := checkColumns(sc, keys); err != nil {
		return nil, nil, err
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		v, err := toArg(sc.byName[k], rec[k])
		if err != nil {
			return nil, nil, fmt.Errorf("column %s: %w", k, err)
		}
		args[i] = v
	}
	return keys, args, nil
}

func placeholders(n, start int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ph, ", ")
}

func toArg(k kind, v any) (any, error) {
	switch k {
	case kindIntArray:
		return sqlutil.ToIntArray(v)
	case kindJSON:
		return sqlutil.ToRawMessage(v)
	case kindTime:
		return sqlutil.ToSqlTime(v)
	default:
		return v, nil
	}
}

func scanRecords(sc schema, rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		dests := make([]any, len(sc.columns))
		for i, c := range sc.columns {
			switch c.kind {
			case kindText:
				dests[i] = new(sql.NullString)
			case kindInt:
				dests[i] = new(sql.NullInt64)
			case kindIntArray:
				dests[i] = new(pq.Int64Array)
			case kindTime:
				dests[i] = new(sql.NullTime)
			case kindJSON:
				dests[i] = new(pqtype.NullRawMessage)
			}
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec := make(Record, len(sc.columns))
		for i, c := range sc.columns {
			switch d := dests[i].(type) {
			case *sql.NullString:
				rec[c.name] = sqlutil.FromSqlString(*d)
			case *sql.NullInt64:
				rec[c.name] = sqlutil.FromSqlInt64(*d)
			case *pq.Int64Array:
				rec[c.name] = sqlutil.FromInt64Array(*d)
			case *sql.NullTime:
				rec[c.name] = sqlutil.FromSqlTime(*d)
			case *pqtype.NullRawMessage:
				rec[c.name] = sqlutil.FromRawMessage(*d)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
