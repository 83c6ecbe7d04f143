/*
Package executor runs single SQL calls against a connection string supplied per call.

Every call opens its own database handle and connection, binds the parameters for the configured dialect, runs
under a deadline (WithTimeout, default one hour) and releases everything before returning.

# Failure contracts

Most operations return their failure. Two do not, and callers relying only on return values must know which:

  - ExecuteToScalar records database failures in the sink and returns the zero value of T with a nil error. Only
    a conversion failure (ErrConversion) is returned. Use QueryScalar to get the failure instead.
  - TransactionalExecutor.ExecuteInTransaction rolls back, records the enriched failure in the sink and returns 0.
    Use ExecInTransaction to get the failure instead.

The recorded failure is read back with Sink().LastException(). A sink carried by the context (sink.NewContext)
takes precedence over the executor's own.

All returned and recorded failures match one of the kind sentinels of the datasource/sql package:

	n, err := exec.ExecuteNoReturn(ctx, dsn, "DELETE FROM sessions WHERE expires < @now", []sql.Param{sql.In("@now", now)})
	if errors.Is(err, sql.ErrConnection) {
		...
	}
*/
package executor
