package executor

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	dbsql "github.com/sllt/dbhelper/pkg/dbhelper/datasource/sql"
	"github.com/sllt/dbhelper/pkg/dbhelper/logging"
	"github.com/sllt/dbhelper/pkg/dbhelper/sink"
)

var errDriver = errors.New("driver failure")

// newMockExecutor registers a sqlmock connection under a DSN unique to the test. The executor opens its own handle
// on the sqlmock driver for every call, so expectations are matched across per-call connections.
func newMockExecutor(t *testing.T, opts ...Option) (*Executor, sqlmock.Sqlmock, string) {
	t.Helper()

	dsn := "sqlmock_" + t.Name()

	db, mock, err := sqlmock.NewWithDSN(dsn, sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	cfg := &dbsql.DBConfig{Dialect: dbsql.DialectMySQL, Driver: "sqlmock"}

	e, err := New(cfg, append([]Option{WithLogger(logging.NopLogger{})}, opts...)...)
	require.NoError(t, err)

	return e, mock, dsn
}

func usersRows(mock sqlmock.Sqlmock) *sqlmock.Rows {
	return mock.NewRowsWithColumnDefinition(
		mock.NewColumn("id").OfType("INT", int64(0)),
		mock.NewColumn("name").OfType("VARCHAR", ""),
	)
}

func TestNew(t *testing.T) {
	testCases := []struct {
		desc string
		cfg  *dbsql.DBConfig
	}{
		{"nil config", nil},
		{"missing dialect", &dbsql.DBConfig{}},
		{"unknown dialect", &dbsql.DBConfig{Dialect: "oracle"}},
		{"negative timeout", &dbsql.DBConfig{Dialect: dbsql.DialectSQLite, Timeout: -time.Second}},
	}

	for i, tc := range testCases {
		e, err := New(tc.cfg)

		assert.Nil(t, e, "TEST[%d]: %s failed", i, tc.desc)
		assert.Error(t, err, "TEST[%d]: %s failed", i, tc.desc)
	}

	e, err := New(&dbsql.DBConfig{Dialect: dbsql.DialectSQLite})
	require.NoError(t, err)
	assert.NotNil(t, e.Sink())
}

func TestExecutor_ExecuteNoReturn(t *testing.T) {
	e, mock, dsn := newMockExecutor(t)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM sessions WHERE user_id = ? AND expired = ?").
		WithArgs(int64(7), true).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := e.ExecuteNoReturn(ctx, dsn, "DELETE FROM sessions WHERE user_id = @user AND expired = @expired",
		[]dbsql.Param{dbsql.In("@expired", true), dbsql.In("@user", 7)})

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_PropagatedFailures(t *testing.T) {
	e, mock, dsn := newMockExecutor(t)
	ctx := context.Background()

	testCases := []struct {
		desc   string
		expect func()
		call   func() error
		kind   error
	}{
		{"exec failure", func() {
			mock.ExpectExec("UPDATE users SET name = ?").WithArgs("Bob").WillReturnError(errDriver)
		}, func() error {
			_, err := e.ExecuteNoReturn(ctx, dsn, "UPDATE users SET name = @name", []dbsql.Param{dbsql.In("@name", "Bob")})
			return err
		}, dbsql.ErrExecution},
		{"table query failure", func() {
			mock.ExpectQuery("SELECT id, name FROM users").WillReturnError(errDriver)
		}, func() error {
			_, err := e.ExecuteToTable(ctx, dsn, "SELECT id, name FROM users", nil)
			return err
		}, dbsql.ErrQuery},
		{"table row failure", func() {
			mock.ExpectQuery("SELECT id, name FROM users").
				WillReturnRows(usersRows(mock).AddRow(int64(1), "Alice").RowError(0, errDriver))
		}, func() error {
			_, err := e.ExecuteToTable(ctx, dsn, "SELECT id, name FROM users", nil)
			return err
		}, dbsql.ErrQuery},
		{"unknown table", func() {
			mock.ExpectQuery("SELECT id FROM missing").
				WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table 'app.missing' doesn't exist"})
		}, func() error {
			_, err := e.ExecuteToTable(ctx, dsn, "SELECT id FROM missing", nil)
			return err
		}, dbsql.ErrCommand},
		{"unknown parameter", func() {}, func() error {
			_, err := e.ExecuteNoReturn(ctx, dsn, "DELETE FROM users WHERE id = @id", nil)
			return err
		}, dbsql.ErrCommand},
		{"procedure failure", func() {
			mock.ExpectExec("CALL purge_users(?)").WithArgs(int64(30)).WillReturnError(errDriver)
		}, func() error {
			_, err := e.ExecuteProcNoReturn(ctx, dsn, "purge_users", []dbsql.Param{dbsql.In("@days", 30)})
			return err
		}, dbsql.ErrExecution},
		{"procedure table failure", func() {
			mock.ExpectQuery("CALL list_users()").WillReturnError(errDriver)
		}, func() error {
			_, err := e.ExecuteProcToTable(ctx, dsn, "list_users", nil)
			return err
		}, dbsql.ErrExecution},
		{"procedure scalar failure", func() {
			mock.ExpectQuery("CALL count_users()").WillReturnError(errDriver)
		}, func() error {
			_, err := ExecuteProcToScalar[int64](ctx, e, dsn, "count_users", nil)
			return err
		}, dbsql.ErrExecution},
		{"invalid procedure name", func() {}, func() error {
			_, err := e.ExecuteProcNoReturn(ctx, dsn, "purge; DROP TABLE users", nil)
			return err
		}, dbsql.ErrCommand},
		{"select failure", func() {
			mock.ExpectQuery("SELECT id FROM users").WillReturnError(errDriver)
		}, func() error {
			var ids []int64
			return e.ExecuteSelect(ctx, dsn, &ids, "SELECT id FROM users", nil)
		}, dbsql.ErrQuery},
	}

	for i, tc := range testCases {
		tc.expect()

		err := tc.call()

		require.ErrorIs(t, err, tc.kind, "TEST[%d]: %s failed", i, tc.desc)
	}

	require.NoError(t, mock.ExpectationsWereMet())
	assert.NoError(t, e.Sink().LastException(), "propagating operations must not record")
}

func TestExecutor_ConnectionFailure(t *testing.T) {
	e, _, _ := newMockExecutor(t)

	_, err := e.ExecuteNoReturn(context.Background(), "sqlmock_not_registered", "DELETE FROM users", nil)

	require.ErrorIs(t, err, dbsql.ErrConnection)
}

func TestExecutor_Timeout(t *testing.T) {
	e, mock, dsn := newMockExecutor(t)

	mock.ExpectExec("UPDATE users SET name = name").WillDelayFor(time.Second).WillReturnResult(sqlmock.NewResult(0, 1))

	start := time.Now()
	_, err := e.ExecuteNoReturn(context.Background(), dsn, "UPDATE users SET name = name", nil,
		WithTimeout(20*time.Millisecond))

	require.ErrorIs(t, err, dbsql.ErrExecution)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecutor_ExecuteToTable(t *testing.T) {
	e, mock, dsn := newMockExecutor(t)
	ctx := context.Background()

	for range 2 {
		mock.ExpectQuery("SELECT id, name FROM users WHERE id = ?").
			WithArgs(int64(1)).
			WillReturnRows(usersRows(mock).AddRow(int64(1), []byte("Alice")))
	}

	first, err := e.ExecuteToTable(ctx, dsn, "SELECT id, name FROM users WHERE id = @id", []dbsql.Param{dbsql.In("@id", 1)})
	require.NoError(t, err)

	second, err := e.ExecuteToTable(ctx, dsn, "SELECT id, name FROM users WHERE id = @id", []dbsql.Param{dbsql.In("@id", 1)})
	require.NoError(t, err)

	require.Equal(t, 1, first.Len())
	assert.Equal(t, []map[string]any{{"id": int64(1), "name": "Alice"}}, first.Maps())
	assert.Equal(t, "VARCHAR", first.Columns[1].DatabaseType)
	assert.Equal(t, first, second)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteToScalar(t *testing.T) {
	ctx := context.Background()

	t.Run("value", func(t *testing.T) {
		e, mock, dsn := newMockExecutor(t)

		mock.ExpectQuery("SELECT COUNT(*) FROM users WHERE name = ?").WithArgs("Alice").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

		n, err := ExecuteToScalar[int](ctx, e, dsn, "SELECT COUNT(*) FROM users WHERE name = @name",
			[]dbsql.Param{dbsql.In("@name", "Alice")})

		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("no rows and null give zero", func(t *testing.T) {
		e, mock, dsn := newMockExecutor(t)

		mock.ExpectQuery("SELECT name FROM users WHERE id = 9").WillReturnRows(sqlmock.NewRows([]string{"name"}))
		mock.ExpectQuery("SELECT NULL").WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(nil))

		name, err := ExecuteToScalar[string](ctx, e, dsn, "SELECT name FROM users WHERE id = 9", nil)
		require.NoError(t, err)
		assert.Empty(t, name)

		v, err := ExecuteToScalar[float64](ctx, e, dsn, "SELECT NULL", nil)
		require.NoError(t, err)
		assert.Zero(t, v)
		assert.NoError(t, e.Sink().LastException())
	})

	t.Run("database failure is recorded", func(t *testing.T) {
		e, mock, dsn := newMockExecutor(t)

		mock.ExpectQuery("SELECT balance FROM accounts WHERE id = ?").WithArgs(int64(5)).WillReturnError(errDriver)

		v, err := ExecuteToScalar[int64](ctx, e, dsn, "SELECT balance FROM accounts WHERE id = @id",
			[]dbsql.Param{dbsql.In("@id", 5)})

		require.NoError(t, err)
		assert.Zero(t, v)

		last := e.Sink().LastException()
		require.ErrorIs(t, last, errDriver)
		require.ErrorIs(t, last, dbsql.ErrExecution)
	})

	t.Run("conversion failure is returned", func(t *testing.T) {
		e, mock, dsn := newMockExecutor(t)

		mock.ExpectQuery("SELECT name FROM users").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Alice"))

		_, err := ExecuteToScalar[int](ctx, e, dsn, "SELECT name FROM users", nil)

		require.ErrorIs(t, err, dbsql.ErrConversion)
		assert.NoError(t, e.Sink().LastException())
	})

	t.Run("context sink takes precedence", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		override := sink.NewMockSink(ctrl)

		e, mock, dsn := newMockExecutor(t)

		mock.ExpectQuery("SELECT 1").WillReturnError(errDriver)
		override.EXPECT().Record(gomock.Any(), gomock.Any()).Do(func(_ context.Context, err error) {
			assert.ErrorIs(t, err, errDriver)
		})

		_, err := ExecuteToScalar[int](sink.NewContext(ctx, override), e, dsn, "SELECT 1", nil)

		require.NoError(t, err)
		assert.NoError(t, e.Sink().LastException())
	})
}

func TestQueryScalar(t *testing.T) {
	e, mock, dsn := newMockExecutor(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT created_at FROM users WHERE id = ?").WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	mock.ExpectQuery("SELECT balance FROM accounts").WillReturnError(errDriver)

	created, err := QueryScalar[time.Time](ctx, e, dsn, "SELECT created_at FROM users WHERE id = @id",
		[]dbsql.Param{dbsql.In("@id", 1)})
	require.NoError(t, err)
	assert.Equal(t, 2024, created.Year())

	_, err = QueryScalar[int64](ctx, e, dsn, "SELECT balance FROM accounts", nil)
	require.ErrorIs(t, err, dbsql.ErrExecution)
	assert.NoError(t, e.Sink().LastException())
}

func TestExecutor_Procedures(t *testing.T) {
	e, mock, dsn := newMockExecutor(t)
	ctx := context.Background()

	mock.ExpectExec("CALL archive_orders(?, ?)").WithArgs("2024-01-01", int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectQuery("CALL user_by_id(?)").WithArgs(int64(1)).
		WillReturnRows(usersRows(mock).AddRow(int64(1), "Alice"))
	mock.ExpectQuery("CALL user_by_id(?)").WithArgs(int64(1)).
		WillReturnRows(usersRows(mock).AddRow(int64(1), "Alice"))
	mock.ExpectQuery("CALL count_users()").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(4)))

	n, err := e.ExecuteProcNoReturn(ctx, dsn, "archive_orders",
		[]dbsql.Param{dbsql.In("@before", "2024-01-01"), dbsql.In("@batch", 100)})
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	table, err := e.ExecuteProcToTable(ctx, dsn, "user_by_id", []dbsql.Param{dbsql.In("@id", 1)})
	require.NoError(t, err)
	require.NotNil(t, table)
	assert.Equal(t, "Alice", table.Rows[0][1])

	tables, err := e.ExecuteProcToTables(ctx, dsn, "user_by_id", []dbsql.Param{dbsql.In("@id", 1)})
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, table, tables[0])

	count, err := ExecuteProcToScalar[int32](ctx, e, dsn, "count_users", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(4), count)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_ExecuteSelect(t *testing.T) {
	type user struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}

	e, mock, dsn := newMockExecutor(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT id, name FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Alice").AddRow(int64(2), "Bob"))
	mock.ExpectQuery("SELECT id, name FROM users WHERE id = ?").WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	var users []user

	require.NoError(t, e.ExecuteSelect(ctx, dsn, &users, "SELECT id, name FROM users", nil))
	assert.Equal(t, []user{{1, "Alice"}, {2, "Bob"}}, users)

	var u user

	err := e.ExecuteSelect(ctx, dsn, &u, "SELECT id, name FROM users WHERE id = @id", []dbsql.Param{dbsql.In("@id", 3)})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.ErrorIs(t, err, dbsql.ErrQuery)
}

func TestExecutor_Metrics(t *testing.T) {
	ctrl := gomock.NewController(t)
	metrics := dbsql.NewMockMetrics(ctrl)

	e, mock, dsn := newMockExecutor(t, WithMetrics(metrics))

	mock.ExpectExec("DELETE FROM users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM orders").WillReturnError(errDriver)

	metrics.EXPECT().RecordHistogram(gomock.Any(), "app_sql_stats", gomock.Any(),
		"database", "", "type", "DELETE", "dialect", "mysql").Times(2)
	metrics.EXPECT().IncrementCounter(gomock.Any(), "app_sql_failures", "kind", "execution", "dialect", "mysql")

	_, err := e.ExecuteNoReturn(context.Background(), dsn, "DELETE FROM users", nil)
	require.NoError(t, err)

	_, err = e.ExecuteNoReturn(context.Background(), dsn, "DELETE FROM orders", nil)
	require.Error(t, err)
}
