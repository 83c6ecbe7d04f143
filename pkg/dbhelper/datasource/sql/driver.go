package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sllt/dbhelper/pkg/dbhelper/datasource"
)

// tracedDrivers maps a driver name to its otelsql-wrapped registration. database/sql registrations are
// process-wide and cannot be repeated, so the wrapped name is remembered here.
var (
	tracedMu      sync.Mutex
	tracedDrivers = map[string]string{}
)

func tracedDriver(driverName string, dialect Dialect) (string, error) {
	tracedMu.Lock()
	defer tracedMu.Unlock()

	if name, ok := tracedDrivers[driverName]; ok {
		return name, nil
	}

	name, err := otelsql.Register(driverName,
		otelsql.WithAttributes(attribute.String("db.system", string(dialect))),
		otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
	)
	if err != nil {
		return "", fmt.Errorf("registering traced driver %s: %w", driverName, err)
	}

	tracedDrivers[driverName] = name

	return name, nil
}

// Open opens a database handle for the command's connection string and acquires one connection from it. The
// returned Conn owns both and releases them on Close. Failures are ErrConnection.
func Open(ctx context.Context, cfg *DBConfig, cmd *Command, logger datasource.Logger, metrics Metrics) (*Conn, error) {
	driverName := cfg.DriverName()

	if cfg.Trace {
		var err error
		if driverName, err = tracedDriver(driverName, cfg.Dialect); err != nil {
			return nil, NewError(KindConnection, "open", err)
		}
	}

	db, err := sql.Open(driverName, cmd.ConnectionString)
	if err != nil {
		return nil, NewError(KindConnection, "open", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil && logger != nil {
			logger.Debugf("closing handle after failed open: %v", closeErr)
		}

		return nil, NewError(KindConnection, "open", err)
	}

	return &Conn{
		conn:     conn,
		db:       db,
		logger:   logger,
		metrics:  metrics,
		dialect:  cfg.Dialect,
		database: cmd.Database,
	}, nil
}

// Close returns the connection and closes the handle. Both are attempted even if the first fails.
func (c *Conn) Close() error {
	return errors.Join(c.conn.Close(), c.db.Close())
}
