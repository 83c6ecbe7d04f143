package sql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError_Classification(t *testing.T) {
	cause := errors.New("boom")

	testCases := []struct {
		desc  string
		stage Kind
		err   error
		want  Kind
	}{
		{"plain execution", KindExecution, cause, KindExecution},
		{"deadline keeps stage", KindExecution, context.DeadlineExceeded, KindExecution},
		{"bad connection", KindExecution, driver.ErrBadConn, KindConnection},
		{"mysql invalid connection", KindQuery, mysql.ErrInvalidConn, KindConnection},
		{"mysql syntax", KindExecution, &mysql.MySQLError{Number: 1064}, KindCommand},
		{"mysql duplicate key", KindExecution, &mysql.MySQLError{Number: 1062}, KindExecution},
		{"postgres undefined table", KindQuery, &pq.Error{Code: "42P01"}, KindCommand},
		{"postgres connection failure", KindExecution, &pq.Error{Code: "08006"}, KindConnection},
		{"postgres check violation", KindExecution, &pq.Error{Code: "23514"}, KindExecution},
		{"sqlserver invalid object", KindQuery, mssql.Error{Number: 208}, KindCommand},
		{"sqlserver deadlock", KindExecution, mssql.Error{Number: 1205}, KindExecution},
		{"wrapped driver error", KindExecution, fmt.Errorf("exec: %w", &mysql.MySQLError{Number: 1146}), KindCommand},
		{"conversion is never reclassified", KindConversion, driver.ErrBadConn, KindConversion},
		{"transaction is never reclassified", KindTransaction, &mysql.MySQLError{Number: 1064}, KindTransaction},
	}

	for i, tc := range testCases {
		err := NewError(tc.stage, "op", tc.err)

		assert.Equal(t, tc.want, KindOf(err), "TEST[%d]: %s failed", i, tc.desc)
		assert.Equal(t, tc.err, errors.Unwrap(err), "TEST[%d]: %s failed", i, tc.desc)
	}
}

func TestNewError_DriverErrorReachable(t *testing.T) {
	var msErr mssql.Error

	err := NewError(KindQuery, "read", fmt.Errorf("query: %w", mssql.Error{Number: 208, Message: "Invalid object name"}))

	require.ErrorAs(t, err, &msErr)
	assert.Equal(t, int32(208), msErr.Number)
	assert.ErrorIs(t, err, ErrCommand)

	var myErr *mysql.MySQLError

	require.ErrorAs(t, NewError(KindExecution, "exec", &mysql.MySQLError{Number: 1062}), &myErr)
	assert.Equal(t, uint16(1062), myErr.Number)
}

func TestError_Is(t *testing.T) {
	inner := NewError(KindExecution, "exec", errors.New("check constraint failed"))
	outer := NewError(KindTransaction, "exec", inner)

	assert.ErrorIs(t, outer, ErrTransaction)
	assert.ErrorIs(t, outer, ErrExecution)
	assert.NotErrorIs(t, outer, ErrQuery)
	assert.Equal(t, KindTransaction, KindOf(outer))
	assert.Equal(t, "exec: transaction error: exec: execution error: check constraint failed", outer.Error())

	assert.NoError(t, NewError(KindQuery, "read", nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "unknown", KindUnknown.String())
}
