// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DB is the subset of pgxpool.Pool the stores use; pgxmock pools satisfy it.
type DB interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

type execer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

type querier interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
}

// Table describes one table handled by the generic row operations. Upsert
// conflicts on Key; the remaining columns are overwritten.
type Table struct {
	Name    string
	Columns []string
	Key     []string
}

// Validate checks every identifier before it is interpolated into SQL.
func (t Table) Validate() error {
	if !validTableName.MatchString(t.Name) {
		return fmt.Errorf("invalid table name %q", t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", t.Name)
	}
	for _, c := range append(append([]string(nil), t.Columns...), t.Key...) {
		if !validTableName.MatchString(c) {
			return fmt.Errorf("invalid column name %q in table %s", c, t.Name)
		}
	}
	return nil
}

// Op is a comparison allowed in a Cond.
type Op string

// Supported comparison operators.
const (
	OpEq  Op = "="
	OpGT  Op = ">"
	OpGTE Op = ">="
	OpLTE Op = "<="
	OpNE  Op = "<>"
)

// Cond filters a Select.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

// Eq builds an equality condition.
func Eq(column string, value any) Cond { return Cond{Column: column, Op: OpEq, Value: value} }

// Query parameterizes a Select.
type Query struct {
	Where   []Cond
	OrderBy []string
	Limit   int
}

func (t Table) columnList() string {
	return strings.Join(t.Columns, ", ")
}

func placeholders(n, offset int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+offset+1)
	}
	return strings.Join(ph, ", ")
}

// InsertSQL renders a plain INSERT.
func (t Table) InsertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.Name, t.columnList(), placeholders(len(t.Columns), 0))
}

// UpsertSQL renders an INSERT ... ON CONFLICT (key) DO UPDATE.
func (t Table) UpsertSQL() string {
	isKey := make(map[string]bool, len(t.Key))
	for _, k := range t.Key {
		isKey[k] = true
	}
	var sets []string
	for _, c := range t.Columns {
		if !isKey[c] {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	conflict := "DO NOTHING"
	if len(sets) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) %s", t.InsertSQL(), strings.Join(t.Key, ", "), conflict)
}

// SelectSQL renders a SELECT with conditions, ordering and limit.
func (t Table) SelectSQL(q Query) (string, []any, error) {
	var (
		sb   strings.Builder
		args []any
	)
	fmt.Fprintf(&sb, "SELECT %s FROM %s", t.columnList(), t.Name)
	for i, c := range q.Where {
		if !validTableName.MatchString(c.Column) {
			return "", nil, fmt.Errorf("invalid column name %q", c.Column)
		}
		switch c.Op {
		case OpEq, OpGT, OpGTE, OpLTE, OpNE:
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", c.Op)
		}
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		args = append(args, c.Value)
		fmt.Fprintf(&sb, "%s %s $%d", c.Column, c.Op, len(args))
	}
	if len(q.OrderBy) > 0 {
		for _, o := range q.OrderBy {
			col, dir, _ := strings.Cut(o, " ")
			if !validTableName.MatchString(col) || (dir != "" && dir != "ASC" && dir != "DESC") {
				return "", nil, fmt.Errorf("invalid order by %q", o)
			}
		}
		sb.WriteString(" ORDER BY " + strings.Join(q.OrderBy, ", "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	return sb.String(), args, nil
}

// Append inserts one row.
func (t Table) Append(ctx context.Context, db execer, values ...any) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("%s: expected %d values, got %d", t.Name, len(t.Columns), len(values))
	}
	if _, err := db.Exec(ctx, t.InsertSQL(), values...); err != nil {
		return fmt.Errorf("insert %s: %w", t.Name, err)
	}
	return nil
}

// Upsert writes rows inside one transaction and returns the rows affected.
func (t Table) Upsert(ctx context.Context, db DB, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin %s upsert: %w", t.Name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := t.UpsertSQL()
	var affected int64
	for _, row := range rows {
		if len(row) != len(t.Columns) {
			return 0, fmt.Errorf("%s: expected %d values, got %d", t.Name, len(t.Columns), len(row))
		}
		tag, err := tx.Exec(ctx, query, row...)
		if err != nil {
			return 0, fmt.Errorf("upsert %s: %w", t.Name, err)
		}
		affected += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit %s upsert: %w", t.Name, err)
	}
	return affected, nil
}

// Select runs the query and hands each row to scan.
func (t Table) Select(ctx context.Context, db querier, q Query, scan func(pgx.Rows) error) error {
	query, args, err := t.SelectSQL(q)
	if err != nil {
		return err
	}
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("select %s: %w", t.Name, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan %s: %w", t.Name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", t.Name, err)
	}
	return nil
}
