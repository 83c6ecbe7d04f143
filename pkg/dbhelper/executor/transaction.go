package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	dbsql "github.com/sllt/dbhelper/pkg/dbhelper/datasource/sql"
	"github.com/sllt/dbhelper/pkg/dbhelper/sink"
)

const txFailureMessage = "Error in command"

// TransactionalExecutor runs a non-query statement inside its own transaction: the transaction commits when the
// statement succeeds and rolls back otherwise. Every call opens its own connection and transaction.
type TransactionalExecutor struct {
	exec *Executor
}

// NewTransactional returns a TransactionalExecutor configured like New.
func NewTransactional(cfg *dbsql.DBConfig, opts ...Option) (*TransactionalExecutor, error) {
	e, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	return &TransactionalExecutor{exec: e}, nil
}

// Transactional returns a TransactionalExecutor sharing e's configuration, metrics and sink.
func (e *Executor) Transactional() *TransactionalExecutor {
	return &TransactionalExecutor{exec: e}
}

// Sink returns the sink the executor records into.
func (t *TransactionalExecutor) Sink() sink.Sink {
	return t.exec.sink
}

// ExecuteInTransaction runs text in a transaction and returns the number of affected rows.
//
// Failures are not returned. The transaction is rolled back, the failure is enriched with the command and recorded
// in the sink as a *sink.DatabaseException matching ErrTransaction, and 0 is returned. ExecInTransaction is the
// variant that returns the failure.
func (t *TransactionalExecutor) ExecuteInTransaction(ctx context.Context, connectionString, text string,
	params []dbsql.Param, opts ...CallOption) int64 {
	cmd := t.exec.command(connectionString, dbsql.Text, text, params, opts)

	n, err := t.execInTx(ctx, cmd)
	if err != nil {
		t.exec.sinkFor(ctx).RecordCommand(ctx, err, cmd, txFailureMessage)
		return 0
	}

	return n
}

// ExecInTransaction is ExecuteInTransaction returning the enriched failure instead of recording it.
func (t *TransactionalExecutor) ExecInTransaction(ctx context.Context, connectionString, text string,
	params []dbsql.Param, opts ...CallOption) (int64, error) {
	cmd := t.exec.command(connectionString, dbsql.Text, text, params, opts)

	n, err := t.execInTx(ctx, cmd)
	if err != nil {
		return 0, sink.NewDatabaseException(err, cmd, txFailureMessage)
	}

	return n, nil
}

// execInTx moves through opened, begun and then committed or rolled back. Exactly one of commit and rollback is
// attempted once the transaction exists. A failed commit is not rolled back.
func (t *TransactionalExecutor) execInTx(ctx context.Context, cmd *dbsql.Command) (int64, error) {
	var n int64

	err := t.exec.run(ctx, cmd, dbsql.ShapeNonQuery, func(ctx context.Context, c *call) error {
		tx, err := c.conn.BeginTx(ctx, nil)
		if err != nil {
			return dbsql.NewError(dbsql.KindTransaction, "begin", err)
		}

		affected, err := execNonQuery(ctx, tx, c.query, c.args)
		if err != nil {
			// ErrTxDone: database/sql already rolled back when the deadline fired.
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				c.logger.Errorf("rolling back transaction: %v", rbErr)
				err = fmt.Errorf("%w (rollback: %w)", err, rbErr)
			}

			t.outcome(ctx, "rollback")

			return dbsql.NewError(dbsql.KindTransaction, "exec", err)
		}

		if err := tx.Commit(); err != nil {
			return dbsql.NewError(dbsql.KindTransaction, "commit", err)
		}

		t.outcome(ctx, "commit")

		n = affected

		return nil
	})
	if err != nil {
		if dbsql.KindOf(err) != dbsql.KindTransaction {
			err = dbsql.NewError(dbsql.KindTransaction, "transaction", err)
		}

		return 0, err
	}

	return n, nil
}

func (t *TransactionalExecutor) outcome(ctx context.Context, outcome string) {
	if t.exec.metrics != nil {
		t.exec.metrics.IncrementCounter(ctx, "app_sql_tx", "outcome", outcome)
	}
}
