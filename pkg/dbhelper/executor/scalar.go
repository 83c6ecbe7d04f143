package executor

import (
	"context"
	"errors"

	dbsql "github.com/sllt/dbhelper/pkg/dbhelper/datasource/sql"
)

// ExecuteToScalar runs a query and decodes the first column of the first row into T. No rows or NULL give the
// zero value.
//
// Database failures are not returned: they are recorded in the sink and the zero value is returned with a nil
// error. Only ErrConversion is returned. QueryScalar is the variant that returns every failure.
func ExecuteToScalar[T dbsql.Scalar](ctx context.Context, e *Executor, connectionString, text string,
	params []dbsql.Param, opts ...CallOption) (T, error) {
	v, err := scalarOf[T](ctx, e, e.command(connectionString, dbsql.Text, text, params, opts))
	if err == nil || errors.Is(err, dbsql.ErrConversion) {
		return v, err
	}

	e.sinkFor(ctx).Record(ctx, err)

	var zero T

	return zero, nil
}

// QueryScalar is ExecuteToScalar returning every failure instead of recording it.
func QueryScalar[T dbsql.Scalar](ctx context.Context, e *Executor, connectionString, text string,
	params []dbsql.Param, opts ...CallOption) (T, error) {
	return scalarOf[T](ctx, e, e.command(connectionString, dbsql.Text, text, params, opts))
}

// ExecuteProcToScalar runs a stored procedure and decodes the first column of its first row into T. Failures are
// returned.
func ExecuteProcToScalar[T dbsql.Scalar](ctx context.Context, e *Executor, connectionString, procedure string,
	params []dbsql.Param, opts ...CallOption) (T, error) {
	return scalarOf[T](ctx, e, e.command(connectionString, dbsql.StoredProcedure, procedure, params, opts))
}

func scalarOf[T dbsql.Scalar](ctx context.Context, e *Executor, cmd *dbsql.Command) (T, error) {
	var v T

	err := e.run(ctx, cmd, dbsql.ShapeScalar, func(ctx context.Context, c *call) error {
		var err error
		v, err = queryScalar[T](ctx, c.conn, c.query, c.args)

		return err
	})

	return v, err
}

func queryScalar[T dbsql.Scalar](ctx context.Context, r dbsql.Runner, query string, args []any) (T, error) {
	var zero T

	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return zero, dbsql.NewError(dbsql.KindExecution, "exec", err)
	}

	defer rows.Close()

	if !rows.Next() {
		return zero, dbsql.NewError(dbsql.KindQuery, "read", rows.Err())
	}

	columns, err := rows.Columns()
	if err != nil {
		return zero, dbsql.NewError(dbsql.KindQuery, "read", err)
	}

	values := make([]any, len(columns))
	dest := make([]any, len(columns))

	for i := range values {
		dest[i] = &values[i]
	}

	if err := rows.Scan(dest...); err != nil {
		return zero, dbsql.NewError(dbsql.KindQuery, "read", err)
	}

	if len(values) == 0 {
		return zero, nil
	}

	return dbsql.Decode[T](values[0])
}
