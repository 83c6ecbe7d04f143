package sql

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/microsoft/go-mssqldb/msdsn"
)

// Dialect is the SQL flavour of the target database. It decides the driver, parameter binding and stored
// procedure rendering.
type Dialect string

const (
	DialectMySQL     Dialect = "mysql"
	DialectPostgres  Dialect = "postgres"
	DialectSQLite    Dialect = "sqlite"
	DialectSQLServer Dialect = "sqlserver"
)

var errUnsupportedDialect = errors.New("unsupported dialect")

// ParseDialect normalises a dialect name.
//
// Supported values include:
//   - mysql, mariadb
//   - postgres, postgresql, supabase, cockroachdb
//   - sqlite, sqlite3
//   - sqlserver, mssql
func ParseDialect(dialect string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case string(DialectMySQL), "mariadb":
		return DialectMySQL, nil
	case string(DialectPostgres), "postgresql", "supabase", "cockroachdb":
		return DialectPostgres, nil
	case string(DialectSQLite), "sqlite3":
		return DialectSQLite, nil
	case string(DialectSQLServer), "mssql":
		return DialectSQLServer, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedDialect, dialect)
	}
}

// DriverName is the database/sql driver registered for the dialect by this package's imports.
func (d Dialect) DriverName() string {
	return string(d)
}

// namedBinding reports whether the driver binds sql.Named arguments.
func (d Dialect) namedBinding() bool {
	return d == DialectSQLServer || d == DialectSQLite
}

func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}

	return "?"
}

// DatabaseName extracts the target database from dsn. It returns "" when the dsn cannot be parsed.
func (d Dialect) DatabaseName(dsn string) string {
	switch d {
	case DialectMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return ""
		}

		return cfg.DBName
	case DialectPostgres:
		kv := dsn

		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			var err error
			if kv, err = pq.ParseURL(dsn); err != nil {
				return ""
			}
		}

		return lookupKeyValue(kv, " ", "dbname")
	case DialectSQLServer:
		cfg, err := msdsn.Parse(dsn)
		if err != nil {
			return ""
		}

		return cfg.Database
	case DialectSQLite:
		path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
		if path == "" || path == ":memory:" {
			return "main"
		}

		return filepath.Base(path)
	default:
		return ""
	}
}

// lookupKeyValue reads key from "k=v<sep>k=v" libpq connection strings. Keys compare case-insensitively and values may be
// single quoted.
func lookupKeyValue(s, sep, key string) string {
	for _, part := range strings.Split(s, sep) {
		k, v, ok := strings.Cut(part, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), key) {
			continue
		}

		return strings.Trim(strings.TrimSpace(v), "'")
	}

	return ""
}
