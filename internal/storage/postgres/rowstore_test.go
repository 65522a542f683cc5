package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

var widgets = Table{Name: "widgets", Columns: []string{"id", "name", "size"}, Key: []string{"id"}}

func TestTableSQLRendering(t *testing.T) {
	t.Parallel()

	require.NoError(t, widgets.Validate())
	require.Equal(t, "INSERT INTO widgets (id, name, size) VALUES ($1, $2, $3)", widgets.InsertSQL())
	require.Equal(t,
		"INSERT INTO widgets (id, name, size) VALUES ($1, $2, $3) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, size = EXCLUDED.size",
		widgets.UpsertSQL())

	keyOnly := Table{Name: "tags", Columns: []string{"id"}, Key: []string{"id"}}
	require.Contains(t, keyOnly.UpsertSQL(), "ON CONFLICT (id) DO NOTHING")

	query, args, err := widgets.SelectSQL(Query{
		Where:   []Cond{Eq("name", "a"), {Column: "size", Op: OpGTE, Value: 3}},
		OrderBy: []string{"size DESC", "id"},
		Limit:   5,
	})
	require.NoError(t, err)
	require.Equal(t, "SELECT id, name, size FROM widgets WHERE name = $1 AND size >= $2 ORDER BY size DESC, id LIMIT 5", query)
	require.Equal(t, []any{"a", 3}, args)
}

func TestTableRejectsUnsafeIdentifiers(t *testing.T) {
	t.Parallel()

	require.Error(t, Table{Name: "bad;name", Columns: []string{"id"}}.Validate())
	require.Error(t, Table{Name: "ok", Columns: []string{"id; DROP"}}.Validate())
	require.Error(t, Table{Name: "ok"}.Validate())

	_, _, err := widgets.SelectSQL(Query{Where: []Cond{{Column: "name", Op: "LIKE", Value: "x"}}})
	require.Error(t, err)
	_, _, err = widgets.SelectSQL(Query{OrderBy: []string{"size; DROP TABLE widgets"}})
	require.Error(t, err)
}

func TestTableUpsertCommitsBatch(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO widgets").WithArgs("1", "a", 1).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO widgets").WithArgs("2", "b", 2).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := widgets.Upsert(context.Background(), mock, [][]any{{"1", "a", 1}, {"2", "b", 2}})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableUpsertRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO widgets").WithArgs("1", "a", 1).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	_, err = widgets.Upsert(context.Background(), mock, [][]any{{"1", "a", 1}})
	require.ErrorContains(t, err, "upsert widgets")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableAppendChecksArity(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	require.Error(t, widgets.Append(context.Background(), mock, "1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
