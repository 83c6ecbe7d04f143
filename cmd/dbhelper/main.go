package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/sllt/dbhelper/pkg/dbhelper"
	"github.com/sllt/dbhelper/pkg/dbhelper/config"
	dbsql "github.com/sllt/dbhelper/pkg/dbhelper/datasource/sql"
	"github.com/sllt/dbhelper/pkg/dbhelper/executor"
	"github.com/sllt/dbhelper/pkg/dbhelper/logging"
)

const CLIVersion = "v0.3.0"

func main() {
	app := &cli.Command{
		Name:    "dbhelper",
		Usage:   "Run SQL statements and stored procedures and print the results",
		Version: CLIVersion,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "Connection string of the target database",
				Sources: cli.EnvVars("DB_CONNECTION_STRING"),
			},
			&cli.StringFlag{
				Name:  "dialect",
				Usage: "Database dialect: sqlserver, postgres, mysql or sqlite (default: DB_DIALECT)",
			},
			&cli.StringFlag{
				Name:  "config-dir",
				Usage: "Folder holding the .env files",
				Value: "./configs",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (default: LOG_LEVEL)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Timeout of the call (default: DB_TIMEOUT)",
			},
			&cli.StringSliceFlag{
				Name:  "param",
				Usage: "Input parameter as name=value, repeatable",
			},
			&cli.StringFlag{
				Name:  "params-file",
				Usage: "YAML file with a list of {name, value} parameters",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: json or yaml",
				Value: "json",
			},
			&cli.IntFlag{
				Name:  "metrics-port",
				Usage: "Serve /metrics on this port and keep running until interrupted",
			},
			&cli.BoolFlag{
				Name:  "soft",
				Usage: "Use the fail-soft variant and report the recorded exception instead of failing",
			},
		},
		Commands: []*cli.Command{
			newCallCommand("exec", "Execute a statement and print the number of affected rows",
				func(ctx context.Context, c *call) (any, error) {
					n, err := c.helper.Executor.ExecuteNoReturn(ctx, c.dsn, c.text, c.params, c.opts...)
					return affected{RowsAffected: n}, err
				}),
			newCallCommand("query", "Execute a query and print its rows",
				func(ctx context.Context, c *call) (any, error) {
					table, err := c.helper.Executor.ExecuteToTable(ctx, c.dsn, c.text, c.params, c.opts...)
					if err != nil {
						return nil, err
					}

					return table.Maps(), nil
				}),
			newCallCommand("scalar", "Execute a query and print the first column of its first row",
				func(ctx context.Context, c *call) (any, error) {
					if c.soft {
						return executor.ExecuteToScalar[string](ctx, c.helper.Executor, c.dsn, c.text, c.params, c.opts...)
					}

					return executor.QueryScalar[string](ctx, c.helper.Executor, c.dsn, c.text, c.params, c.opts...)
				}),
			newProcCommand(),
			newCallCommand("tx", "Execute a statement inside a transaction and print the number of affected rows",
				func(ctx context.Context, c *call) (any, error) {
					if c.soft {
						n := c.helper.Transaction.ExecuteInTransaction(ctx, c.dsn, c.text, c.params, c.opts...)
						return affected{RowsAffected: n}, nil
					}

					n, err := c.helper.Transaction.ExecInTransaction(ctx, c.dsn, c.text, c.params, c.opts...)

					return affected{RowsAffected: n}, err
				}),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// call carries what every subcommand needs to run one database call.
type call struct {
	helper *dbhelper.Helper
	dsn    string
	text   string
	params []dbsql.Param
	opts   []executor.CallOption
	soft   bool
	result string
}

type callFunc func(ctx context.Context, c *call) (any, error)

// newCallCommand creates a subcommand for "dbhelper <name> <statement>".
func newCallCommand(name, usage string, fn callFunc, flags ...cli.Flag) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: flags,
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "statement",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runCall(ctx, cmd, fn)
		},
	}
}

func newProcCommand() *cli.Command {
	return newCallCommand("proc", "Execute a stored procedure",
		func(ctx context.Context, c *call) (any, error) {
			e := c.helper.Executor

			switch c.result {
			case "none":
				n, err := e.ExecuteProcNoReturn(ctx, c.dsn, c.text, c.params, c.opts...)
				return affected{RowsAffected: n}, err
			case "scalar":
				return executor.ExecuteProcToScalar[string](ctx, e, c.dsn, c.text, c.params, c.opts...)
			case "tables":
				tables, err := e.ExecuteProcToTables(ctx, c.dsn, c.text, c.params, c.opts...)
				if err != nil {
					return nil, err
				}

				return rows(tables...), nil
			default:
				table, err := e.ExecuteProcToTable(ctx, c.dsn, c.text, c.params, c.opts...)
				if err != nil {
					return nil, err
				}

				return table.Maps(), nil
			}
		},
		&cli.StringFlag{
			Name:  "result",
			Usage: "Result shape: table, tables, scalar or none",
			Value: "table",
		},
	)
}

func runCall(ctx context.Context, cmd *cli.Command, fn callFunc) error {
	text := cmd.StringArg("statement")
	if text == "" {
		return fmt.Errorf("please provide a statement, e.g.: dbhelper %s \"SELECT 1\"", cmd.Name)
	}

	dsn := cmd.String("dsn")
	if dsn == "" {
		return fmt.Errorf("please provide a connection string with --dsn or DB_CONNECTION_STRING")
	}

	params, err := parseParams(cmd.StringSlice("param"), cmd.String("params-file"))
	if err != nil {
		return err
	}

	h, err := newHelper(cmd)
	if err != nil {
		return err
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.Close(closeCtx); err != nil {
			h.Logger.Errorf("error while closing: %v", err)
		}
	}()

	c := &call{helper: h, dsn: dsn, text: text, params: params, soft: cmd.Bool("soft"), result: cmd.String("result")}
	if cmd.IsSet("timeout") {
		c.opts = append(c.opts, executor.WithTimeout(cmd.Duration("timeout")))
	}

	out, err := fn(ctx, c)
	if err != nil {
		return err
	}

	if err := write(os.Stdout, cmd.String("format"), out); err != nil {
		return err
	}

	if c.soft {
		if exc := h.Sink.LastException(); exc != nil {
			fmt.Fprintf(os.Stderr, "Exception: %v\n", exc)
		}
	}

	if cmd.Int("metrics-port") > 0 {
		waitForSignal(ctx)
	}

	return nil
}

// newHelper builds the Helper from the .env files, with the command line flags taking precedence.
func newHelper(cmd *cli.Command) (*dbhelper.Helper, error) {
	values := make(map[string]string)

	if cmd.IsSet("dialect") {
		values["DB_DIALECT"] = cmd.String("dialect")
	}

	if cmd.IsSet("log-level") {
		values["LOG_LEVEL"] = cmd.String("log-level")
	}

	if port := cmd.Int("metrics-port"); port > 0 {
		values["METRICS_PORT"] = strconv.Itoa(int(port))
	}

	base := config.NewEnvFile(cmd.String("config-dir"), logging.NewLogger(logging.WARN))

	return dbhelper.New(&overrides{Config: base, values: values})
}

// overrides is a Config whose values shadow the wrapped Config.
type overrides struct {
	config.Config
	values map[string]string
}

func (o *overrides) Get(key string) string {
	if v, ok := o.values[key]; ok {
		return v
	}

	return o.Config.Get(key)
}

func (o *overrides) GetOrDefault(key, defaultValue string) string {
	if v, ok := o.values[key]; ok {
		return v
	}

	return o.Config.GetOrDefault(key, defaultValue)
}

func waitForSignal(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
}
