package sql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	mssql "github.com/microsoft/go-mssqldb"
	"modernc.org/sqlite"
)

// Kind classifies a failure by the stage of the call that produced it.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindCommand
	KindExecution
	KindQuery
	KindTransaction
	KindConversion
)

// Sentinels matched by errors.Is against any *Error of the same Kind.
var (
	ErrConnection  = errors.New("connection error")
	ErrCommand     = errors.New("command error")
	ErrExecution   = errors.New("execution error")
	ErrQuery       = errors.New("query error")
	ErrTransaction = errors.New("transaction error")
	ErrConversion  = errors.New("conversion error")
)

var (
	errUnknownParameter      = errors.New("statement references an unknown parameter")
	errDuplicateParameter    = errors.New("duplicate parameter name")
	errOutputNotPointer      = errors.New("output parameter value must be a non-nil pointer")
	errOutputUnsupported     = errors.New("output parameters are not supported by dialect")
	errProceduresUnsupported = errors.New("stored procedures are not supported by dialect")
	errInvalidProcedureName  = errors.New("invalid stored procedure name")
	errEmptyStatement        = errors.New("empty statement")
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindCommand:
		return "command"
	case KindExecution:
		return "execution"
	case KindQuery:
		return "query"
	case KindTransaction:
		return "transaction"
	case KindConversion:
		return "conversion"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindCommand:
		return ErrCommand
	case KindExecution:
		return ErrExecution
	case KindQuery:
		return ErrQuery
	case KindTransaction:
		return ErrTransaction
	case KindConversion:
		return ErrConversion
	default:
		return nil
	}
}

// Error is a failure of one stage of a database call.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()

	return s != nil && target == s
}

// NewError wraps err as a failure of the given stage. Driver errors that are really about the command or the
// connection are reclassified. A nil err returns nil.
func NewError(stage Kind, op string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: classify(stage, err), Op: op, Err: err}
}

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

func classify(stage Kind, err error) Kind {
	switch {
	case stage == KindConversion || stage == KindTransaction:
		return stage
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return stage
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, mysql.ErrInvalidConn):
		return KindConnection
	}

	if k, ok := classifyDriverError(err); ok {
		return k
	}

	return stage
}

// mysql error numbers for malformed statements and unknown objects.
var mysqlCommandErrors = map[uint16]bool{
	1054: true, // unknown column
	1064: true, // syntax error
	1146: true, // table doesn't exist
	1210: true, // incorrect arguments to EXECUTE
	1305: true, // routine does not exist
	1318: true, // incorrect number of arguments for procedure
}

// sqlserver error numbers for malformed statements and unknown objects.
var mssqlCommandErrors = map[int32]bool{
	102:  true, // incorrect syntax
	201:  true, // procedure expects parameter
	207:  true, // invalid column name
	208:  true, // invalid object name
	2812: true, // could not find stored procedure
	8144: true, // too many arguments specified
}

const sqliteGenericError = 1

func classifyDriverError(err error) (Kind, bool) {
	var (
		myErr     *mysql.MySQLError
		pqErr     *pq.Error
		msErr     mssql.Error
		sqliteErr *sqlite.Error
	)

	switch {
	case errors.As(err, &myErr):
		if mysqlCommandErrors[myErr.Number] {
			return KindCommand, true
		}
	case errors.As(err, &pqErr):
		switch pqErr.Code.Class() {
		case "42":
			return KindCommand, true
		case "08":
			return KindConnection, true
		}
	case errors.As(err, &msErr):
		if mssqlCommandErrors[msErr.Number] {
			return KindCommand, true
		}
	case errors.As(err, &sqliteErr):
		if sqliteErr.Code()&0xff == sqliteGenericError {
			return KindCommand, true
		}
	}

	return KindUnknown, false
}
