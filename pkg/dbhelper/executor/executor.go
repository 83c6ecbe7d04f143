package executor

import (
	"context"
	"errors"

	"github.com/sllt/dbhelper/pkg/dbhelper/datasource"
	dbsql "github.com/sllt/dbhelper/pkg/dbhelper/datasource/sql"
	"github.com/sllt/dbhelper/pkg/dbhelper/logging"
	"github.com/sllt/dbhelper/pkg/dbhelper/sink"
)

var errNilConfig = errors.New("executor: nil database config")

// Executor runs text statements and stored procedures. It holds no connection between calls and is safe for
// concurrent use.
type Executor struct {
	config  *dbsql.DBConfig
	logger  logging.Logger
	metrics dbsql.Metrics
	sink    sink.Sink
}

// New validates cfg and returns an Executor.
func New(cfg *dbsql.DBConfig, opts ...Option) (*Executor, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Executor{config: cfg, logger: logging.NopLogger{}}

	for _, opt := range opts {
		opt(e)
	}

	if e.sink == nil {
		e.sink = sink.New(e.logger)
	}

	return e, nil
}

// Sink returns the sink the executor records into.
func (e *Executor) Sink() sink.Sink {
	return e.sink
}

func (e *Executor) sinkFor(ctx context.Context) sink.Sink {
	if s, ok := sink.FromContext(ctx); ok {
		return s
	}

	return e.sink
}

// call is the state handed to an operation once its command is bound and its connection is open.
type call struct {
	conn   *dbsql.Conn
	query  string
	args   []any
	logger datasource.Logger
}

func (e *Executor) command(connectionString string, typ dbsql.CommandType, text string, params []dbsql.Param,
	opts []CallOption) *dbsql.Command {
	o := callOptions{timeout: e.config.EffectiveTimeout()}

	for _, opt := range opts {
		opt(&o)
	}

	return dbsql.NewCommand(e.config.Dialect, connectionString, typ, text, params, o.timeout)
}

// run binds cmd, opens a connection for it under the command timeout and hands both to fn. The connection and the
// handle are released before run returns.
func (e *Executor) run(ctx context.Context, cmd *dbsql.Command, shape dbsql.Shape,
	fn func(ctx context.Context, c *call) error) error {
	query, args, err := cmd.Bind(shape)
	if err != nil {
		return e.failed(ctx, err)
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.Timeout)
	defer cancel()

	logger := logging.NewContextLogger(ctx, e.logger)

	conn, err := dbsql.Open(ctx, e.config, cmd, logger, e.metrics)
	if err != nil {
		return e.failed(ctx, err)
	}

	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debugf("releasing connection: %v", err)
		}
	}()

	return e.failed(ctx, fn(ctx, &call{conn: conn, query: query, args: args, logger: logger}))
}

func (e *Executor) failed(ctx context.Context, err error) error {
	if err != nil && e.metrics != nil {
		e.metrics.IncrementCounter(ctx, "app_sql_failures",
			"kind", dbsql.KindOf(err).String(), "dialect", string(e.config.Dialect))
	}

	return err
}

// ExecuteNoReturn runs a non-query statement and returns the number of affected rows.
func (e *Executor) ExecuteNoReturn(ctx context.Context, connectionString, text string, params []dbsql.Param,
	opts ...CallOption) (int64, error) {
	return e.nonQuery(ctx, e.command(connectionString, dbsql.Text, text, params, opts))
}

// ExecuteProcNoReturn runs a stored procedure as a non-query and returns the number of affected rows. Output
// parameters are written through their pointers.
func (e *Executor) ExecuteProcNoReturn(ctx context.Context, connectionString, procedure string,
	params []dbsql.Param, opts ...CallOption) (int64, error) {
	return e.nonQuery(ctx, e.command(connectionString, dbsql.StoredProcedure, procedure, params, opts))
}

func (e *Executor) nonQuery(ctx context.Context, cmd *dbsql.Command) (int64, error) {
	var n int64

	err := e.run(ctx, cmd, dbsql.ShapeNonQuery, func(ctx context.Context, c *call) error {
		var err error
		n, err = execNonQuery(ctx, c.conn, c.query, c.args)

		return err
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}

func execNonQuery(ctx context.Context, r dbsql.Runner, query string, args []any) (int64, error) {
	res, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, dbsql.NewError(dbsql.KindExecution, "exec", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbsql.NewError(dbsql.KindExecution, "rows affected", err)
	}

	return n, nil
}

// ExecuteToTable runs a query and returns its first result set, fully read before the connection is released.
// Failures are ErrQuery unless the driver reports a connection or command problem.
func (e *Executor) ExecuteToTable(ctx context.Context, connectionString, text string, params []dbsql.Param,
	opts ...CallOption) (*dbsql.Table, error) {
	cmd := e.command(connectionString, dbsql.Text, text, params, opts)

	var t *dbsql.Table

	err := e.run(ctx, cmd, dbsql.ShapeTable, func(ctx context.Context, c *call) error {
		rows, err := c.conn.QueryContext(ctx, c.query, c.args...)
		if err != nil {
			return dbsql.NewError(dbsql.KindQuery, "query", err)
		}

		defer rows.Close()

		t, err = dbsql.ReadTable(rows)

		return dbsql.NewError(dbsql.KindQuery, "read", err)
	})
	if err != nil {
		return nil, err
	}

	return t, nil
}

// ExecuteProcToTable runs a stored procedure and returns its first result set, or nil if it returned none.
func (e *Executor) ExecuteProcToTable(ctx context.Context, connectionString, procedure string,
	params []dbsql.Param, opts ...CallOption) (*dbsql.Table, error) {
	tables, err := e.procTables(ctx, e.command(connectionString, dbsql.StoredProcedure, procedure, params, opts))
	if err != nil || len(tables) == 0 {
		return nil, err
	}

	return tables[0], nil
}

// ExecuteProcToTables runs a stored procedure and returns every result set it produced, in order.
func (e *Executor) ExecuteProcToTables(ctx context.Context, connectionString, procedure string,
	params []dbsql.Param, opts ...CallOption) ([]*dbsql.Table, error) {
	return e.procTables(ctx, e.command(connectionString, dbsql.StoredProcedure, procedure, params, opts))
}

func (e *Executor) procTables(ctx context.Context, cmd *dbsql.Command) ([]*dbsql.Table, error) {
	var tables []*dbsql.Table

	err := e.run(ctx, cmd, dbsql.ShapeTable, func(ctx context.Context, c *call) error {
		rows, err := c.conn.QueryContext(ctx, c.query, c.args...)
		if err != nil {
			return dbsql.NewError(dbsql.KindExecution, "exec", err)
		}

		defer rows.Close()

		tables, err = dbsql.ReadTables(rows)

		return dbsql.NewError(dbsql.KindQuery, "read", err)
	})
	if err != nil {
		return nil, err
	}

	return tables, nil
}

// ExecuteSelect runs a query and binds its rows into dest, a pointer to a struct, a slice of structs or a slice of
// scalars. Columns map to fields by `db` tag or by snake_cased field name. A struct destination with no matching
// row fails with an error wrapping sql.ErrNoRows.
func (e *Executor) ExecuteSelect(ctx context.Context, connectionString string, dest any, text string,
	params []dbsql.Param, opts ...CallOption) error {
	cmd := e.command(connectionString, dbsql.Text, text, params, opts)

	return e.run(ctx, cmd, dbsql.ShapeTable, func(ctx context.Context, c *call) error {
		return dbsql.NewError(dbsql.KindQuery, "select", c.conn.Select(ctx, dest, c.query, c.args...))
	})
}
