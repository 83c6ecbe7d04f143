package dbhelper

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sllt/dbhelper/pkg/dbhelper/config"
	dbsql "github.com/sllt/dbhelper/pkg/dbhelper/datasource/sql"
	"github.com/sllt/dbhelper/pkg/dbhelper/executor"
)

func newAccountsDB(t *testing.T) string {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ledger.db")

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)

	defer db.Close()

	_, err = db.Exec(`CREATE TABLE accounts (id INTEGER PRIMARY KEY, balance INTEGER NOT NULL CHECK (balance >= 0));
		INSERT INTO accounts (id, balance) VALUES (5, 5)`)
	require.NoError(t, err)

	return dsn
}

func TestNew_InvalidConfig(t *testing.T) {
	testCases := []struct {
		desc string
		conf map[string]string
	}{
		{"unknown dialect", map[string]string{"DB_DIALECT": "db2"}},
		{"bad redis db", map[string]string{"DB_DIALECT": "sqlite", "EXCEPTION_REDIS_ADDR": "localhost:6379",
			"EXCEPTION_REDIS_DB": "first"}},
		{"bad metrics port", map[string]string{"DB_DIALECT": "sqlite", "METRICS_PORT": "-1"}},
	}

	for i, tc := range testCases {
		h, err := New(config.NewMockConfig(tc.conf))

		assert.Nil(t, h, "TEST[%d]: %s failed", i, tc.desc)
		assert.Error(t, err, "TEST[%d]: %s failed", i, tc.desc)
	}
}

func TestHelper_RunsCallsAndExportsMetrics(t *testing.T) {
	dsn := newAccountsDB(t)

	h, err := New(config.NewMockConfig(map[string]string{"DB_DIALECT": "sqlite", "LOG_LEVEL": "FATAL"}))
	require.NoError(t, err)

	ctx := context.Background()

	balance, err := executor.QueryScalar[int](ctx, h.Executor, dsn, "SELECT balance FROM accounts WHERE id = @id",
		[]dbsql.Param{dbsql.In("@id", 5)})
	require.NoError(t, err)
	assert.Equal(t, 5, balance)

	assert.Zero(t, h.Transaction.ExecuteInTransaction(ctx, dsn, "UPDATE accounts SET balance = balance - 10 WHERE id = @id",
		[]dbsql.Param{dbsql.In("@id", 5)}))
	require.ErrorIs(t, h.Sink.LastException(), dbsql.ErrTransaction)

	rec := httptest.NewRecorder()
	h.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "app_sql_stats")
	assert.Contains(t, string(body), `outcome="rollback"`)
	assert.Contains(t, string(body), `kind="transaction"`)

	require.NoError(t, h.Close(ctx))
}

func TestHelper_PublishesExceptions(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	defer mr.Close()

	dsn := newAccountsDB(t)

	h, err := New(config.NewMockConfig(map[string]string{
		"DB_DIALECT":           "sqlite",
		"LOG_LEVEL":            "FATAL",
		"EXCEPTION_REDIS_ADDR": mr.Addr(),
		"EXCEPTION_REDIS_KEY":  "ledger:exceptions",
	}))
	require.NoError(t, err)

	defer h.Close(context.Background())

	h.Transaction.ExecuteInTransaction(context.Background(), dsn,
		"UPDATE accounts SET balance = balance - 10 WHERE id = @id", []dbsql.Param{dbsql.In("@id", 5)})

	list, err := mr.List("ledger:exceptions")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, list[0], `"kind":"transaction"`)
	assert.Contains(t, list[0], `"database":"ledger.db"`)
}

func TestHelper_ServeMetrics(t *testing.T) {
	h, err := New(config.NewMockConfig(map[string]string{"DB_DIALECT": "sqlite", "LOG_LEVEL": "FATAL",
		"METRICS_PORT": "0"}))
	require.NoError(t, err)

	require.NotNil(t, h.metricServer)
	require.NoError(t, h.Close(context.Background()))
}
