package sql

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sllt/dbhelper/pkg/dbhelper/config"
)

// DBConfig holds executor-wide settings. The connection string is not part of it: it is supplied per call.
type DBConfig struct {
	Dialect Dialect `validate:"required,oneof=mysql postgres sqlite sqlserver"`
	// Driver overrides the database/sql driver name derived from Dialect.
	Driver string
	// Timeout is the default per-call timeout.
	Timeout time.Duration `validate:"gte=0"`
	// Trace wraps the driver with otelsql.
	Trace bool
}

// NewDBConfig reads DB_DIALECT, DB_DRIVER, DB_TIMEOUT and DB_TRACE from c. DB_TIMEOUT accepts a duration ("30s")
// or a number of seconds.
func NewDBConfig(c config.Config) (*DBConfig, error) {
	dialect, err := ParseDialect(c.GetOrDefault("DB_DIALECT", string(DialectSQLServer)))
	if err != nil {
		return nil, err
	}

	timeout, err := parseTimeout(c.GetOrDefault("DB_TIMEOUT", ""))
	if err != nil {
		return nil, err
	}

	cfg := &DBConfig{
		Dialect: dialect,
		Driver:  c.Get("DB_DRIVER"),
		Timeout: timeout,
		Trace:   strings.EqualFold(c.GetOrDefault("DB_TRACE", "false"), "true"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the struct tags.
func (c *DBConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid database config: %w", err)
	}

	return nil
}

// DriverName returns Driver when set, otherwise the dialect's driver.
func (c *DBConfig) DriverName() string {
	if c.Driver != "" {
		return c.Driver
	}

	return c.Dialect.DriverName()
}

// EffectiveTimeout returns Timeout, or DefaultTimeout when unset.
func (c *DBConfig) EffectiveTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}

	return c.Timeout
}

func parseTimeout(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}

	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid DB_TIMEOUT %q: %w", v, err)
	}

	return d, nil
}
