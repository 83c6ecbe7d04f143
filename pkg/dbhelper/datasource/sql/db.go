// Package sql runs single database calls through database/sql. The package binds commands per dialect, wraps a
// per-call connection and its transaction, times and logs every operation, and materialises results into tables
// and scalars.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/sllt/dbhelper/pkg/dbhelper/datasource"
)

// Runner captures the operations shared by Conn and Tx, so a statement can run against either.
type Runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

var (
	_ Runner = (*Conn)(nil)
	_ Runner = (*Tx)(nil)
)

// Conn is one connection acquired for one call. It is never shared between calls.
type Conn struct {
	conn     *sql.Conn
	db       *sql.DB
	logger   datasource.Logger
	metrics  Metrics
	dialect  Dialect
	database string
}

type Log struct {
	Type     string `json:"type"`
	Query    string `json:"query"`
	Duration int64  `json:"duration"`
	Args     []any  `json:"args,omitempty"`
}

var (
	errSelectDataNotPointer = errors.New("data is not a pointer")
	errSelectUnsupported    = errors.New("unsupported select destination type")
)

func (l *Log) PrettyPrint(writer io.Writer) {
	fmt.Fprintf(writer, "\u001B[38;5;8m%-32s \u001B[38;5;24m%-6s\u001B[0m %8d\u001B[38;5;8mµs\u001B[0m %s\n",
		l.Type, "SQL", l.Duration, clean(l.Query))
}

var whitespace = regexp.MustCompile(`\s+`)

func clean(query string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(query, " "))
}

type stats struct {
	logger   datasource.Logger
	metrics  Metrics
	dialect  Dialect
	database string
}

func (s stats) send(ctx context.Context, start time.Time, queryType, query string, args ...any) {
	duration := time.Since(start)

	if s.logger != nil {
		s.logger.Debug(&Log{
			Type:     queryType,
			Query:    query,
			Duration: duration.Microseconds(),
			Args:     redactArgs(args),
		})
	}

	if s.metrics != nil {
		s.metrics.RecordHistogram(ctx, "app_sql_stats", float64(duration.Microseconds())/1e3,
			"database", s.database, "type", getOperationType(query), "dialect", string(s.dialect))
	}
}

func (c *Conn) stats() stats {
	return stats{logger: c.logger, metrics: c.metrics, dialect: c.dialect, database: c.database}
}

func getOperationType(query string) string {
	word, _, _ := strings.Cut(strings.TrimSpace(query), " ")

	return strings.ToUpper(word)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	defer c.stats().send(ctx, time.Now(), "QueryContext", query, args...)
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer c.stats().send(ctx, time.Now(), "ExecContext", query, args...)
	return c.conn.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction on this connection.
func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	defer c.stats().send(ctx, time.Now(), "TxBegin", "BEGIN")

	tx, err := c.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}

	return &Tx{Tx: tx, stats: c.stats()}, nil
}

// Tx is a transaction bound to one Conn.
type Tx struct {
	*sql.Tx
	stats stats
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer t.stats.send(ctx, time.Now(), "TxExecContext", query, args...)
	return t.Tx.ExecContext(ctx, query, args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	defer t.stats.send(ctx, time.Now(), "TxQueryContext", query, args...)
	return t.Tx.QueryContext(ctx, query, args...)
}

func (t *Tx) Commit() error {
	defer t.stats.send(context.Background(), time.Now(), "TxCommit", "COMMIT")
	return t.Tx.Commit()
}

func (t *Tx) Rollback() error {
	defer t.stats.send(context.Background(), time.Now(), "TxRollback", "ROLLBACK")
	return t.Tx.Rollback()
}

// Select runs a query with args and binds the result of the query to data.
// data should be a pointer to a slice or struct.
//
// Example:
//
//  1. Get multiple rows with only one column
//     ids := make([]int, 0)
//     err := conn.Select(ctx, &ids, "select id from users")
//
//  2. Get a single object from database
//     type user struct {
//     Name  string
//     ID    int
//     Image string
//     }
//     u := user{}
//     err := conn.Select(ctx, &u, "select * from users where id=?", 1)
//
//  3. Get array of objects from multiple rows
//     type user struct {
//     Name  string
//     ID    int
//     Image string `db:"image_url"`
//     }
//     users := []user{}
//     err := conn.Select(ctx, &users, "select * from users")
//
//nolint:exhaustive // We only support slice and struct destinations.
func (c *Conn) Select(ctx context.Context, data any, query string, args ...any) error {
	rvo := reflect.ValueOf(data)
	if !rvo.IsValid() || rvo.Kind() != reflect.Ptr || rvo.IsNil() {
		return errSelectDataNotPointer
	}

	rv := rvo.Elem()

	switch rv.Kind() {
	case reflect.Slice:
		return c.selectSlice(ctx, query, args, rvo, rv)
	case reflect.Struct:
		return c.selectStruct(ctx, query, args, rv)
	default:
		return fmt.Errorf("%w: %s", errSelectUnsupported, rv.Kind())
	}
}

func (c *Conn) selectSlice(ctx context.Context, query string, args []any, rvo, rv reflect.Value) error {
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}

	defer rows.Close()

	for rows.Next() {
		val := reflect.New(rv.Type().Elem())

		if rv.Type().Elem().Kind() == reflect.Struct {
			if err := rowsToStruct(rows, val); err != nil {
				return err
			}
		} else if err := rows.Scan(val.Interface()); err != nil {
			return err
		}

		rv = reflect.Append(rv, val.Elem())
	}

	if err := rows.Err(); err != nil {
		return err
	}

	rvo.Elem().Set(rv)

	return nil
}

func (c *Conn) selectStruct(ctx context.Context, query string, args []any, rv reflect.Value) error {
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}

	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}

		return sql.ErrNoRows
	}

	if err := rowsToStruct(rows, rv); err != nil {
		return err
	}

	return rows.Err()
}

func rowsToStruct(rows *sql.Rows, vo reflect.Value) error {
	v := vo
	if vo.Kind() == reflect.Ptr {
		v = vo.Elem()
	}

	fieldNameIndex := map[string]int{}

	for i := 0; i < v.Type().NumField(); i++ {
		f := v.Type().Field(i)
		if !f.IsExported() {
			continue
		}

		name := f.Tag.Get("db")
		if name == "" {
			name = ToSnakeCase(f.Name)
		}

		fieldNameIndex[name] = i
	}

	columns, err := rows.Columns()
	if err != nil {
		return err
	}

	fields := make([]any, 0, len(columns))

	for _, col := range columns {
		if i, ok := fieldNameIndex[col]; ok {
			fields = append(fields, v.Field(i).Addr().Interface())
			continue
		}

		var discard any

		fields = append(fields, &discard)
	}

	return rows.Scan(fields...)
}

var (
	matchFirstCap = regexp.MustCompile("(.)([A-Z][a-z]+)")
	matchAllCap   = regexp.MustCompile("([a-z0-9])([A-Z])")
)

func ToSnakeCase(str string) string {
	snake := matchFirstCap.ReplaceAllString(str, "${1}_${2}")
	snake = matchAllCap.ReplaceAllString(snake, "${1}_${2}")

	return strings.ToLower(snake)
}
