/*
Package dbhelper assembles the executors, the exception sink and their logging and metrics from configuration.

	h, err := dbhelper.New(config.NewEnvFile("./configs", logging.NewLogger(logging.INFO)))
	if err != nil {
		...
	}
	defer h.Close(ctx)

	table, err := h.Executor.ExecuteToTable(ctx, dsn, "SELECT id, name FROM users WHERE id = @id", params)
*/
package dbhelper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"

	"github.com/sllt/dbhelper/pkg/dbhelper/config"
	dbsql "github.com/sllt/dbhelper/pkg/dbhelper/datasource/sql"
	"github.com/sllt/dbhelper/pkg/dbhelper/executor"
	"github.com/sllt/dbhelper/pkg/dbhelper/logging"
	"github.com/sllt/dbhelper/pkg/dbhelper/metrics"
	"github.com/sllt/dbhelper/pkg/dbhelper/sink"
)

const defaultAppName = "dbhelper"

// Helper holds everything a caller needs to run database calls.
type Helper struct {
	Config      config.Config
	Logger      logging.Logger
	Metrics     metrics.Manager
	Sink        *sink.Manager
	Executor    *executor.Executor
	Transaction *executor.TransactionalExecutor

	metricsHandler http.Handler
	publisher      *sink.RedisPublisher
	metricServer   *metricServer
}

// New builds a Helper from cfg.
//
// LOG_LEVEL sets the log level and APP_NAME the metrics scope. METRICS_PORT, when set, starts the /metrics server.
// The DB_* keys configure the executors (see sql.NewDBConfig). When EXCEPTION_REDIS_ADDR is set, recorded
// exceptions are also published to Redis under EXCEPTION_REDIS_KEY, and on EXCEPTION_REDIS_CHANNEL when set.
func New(cfg config.Config) (*Helper, error) {
	logger := logging.NewLogger(logging.GetLevelFromString(cfg.GetOrDefault("LOG_LEVEL", "INFO")))

	dbCfg, err := dbsql.NewDBConfig(cfg)
	if err != nil {
		return nil, err
	}

	metricsPort := -1

	if v := cfg.Get("METRICS_PORT"); v != "" {
		if metricsPort, err = strconv.Atoi(v); err != nil || metricsPort < 0 {
			return nil, fmt.Errorf("invalid METRICS_PORT %q", v)
		}
	}

	manager, handler, err := metrics.NewPrometheusManager(cfg.GetOrDefault("APP_NAME", defaultAppName), logger)
	if err != nil {
		return nil, err
	}

	metrics.RegisterSQL(manager)

	h := &Helper{
		Config:         cfg,
		Logger:         logger,
		Metrics:        manager,
		metricsHandler: handler,
	}

	var sinkOpts []sink.Option

	if addr := cfg.Get("EXCEPTION_REDIS_ADDR"); addr != "" {
		db, err := strconv.Atoi(cfg.GetOrDefault("EXCEPTION_REDIS_DB", "0"))
		if err != nil {
			return nil, fmt.Errorf("invalid EXCEPTION_REDIS_DB: %w", err)
		}

		h.publisher = sink.NewRedisPublisher(sink.RedisConfig{
			Addr:     addr,
			Password: cfg.Get("EXCEPTION_REDIS_PASSWORD"),
			DB:       db,
			Key:      cfg.Get("EXCEPTION_REDIS_KEY"),
			Channel:  cfg.Get("EXCEPTION_REDIS_CHANNEL"),
		})

		h.addPublisher(h.publisher)

		sinkOpts = append(sinkOpts, sink.WithPublisher(h.publisher))
	}

	h.Sink = sink.New(logger, sinkOpts...)

	h.Executor, err = executor.New(dbCfg,
		executor.WithLogger(logger),
		executor.WithMetrics(manager),
		executor.WithSink(h.Sink),
	)
	if err != nil {
		return nil, err
	}

	h.Transaction = h.Executor.Transactional()

	if metricsPort >= 0 {
		h.ServeMetrics(metricsPort)
	}

	return h, nil
}

func (h *Helper) addPublisher(p *sink.RedisPublisher) {
	p.UseLogger(h.Logger)
	p.UseMetrics(h.Metrics)

	p.UseTracer(otel.GetTracerProvider())

	p.Connect()
}

// MetricsHandler serves the Prometheus exposition of the Helper's instruments.
func (h *Helper) MetricsHandler() http.Handler {
	return h.metricsHandler
}

// Close stops the metrics server, if running, and the exception publisher.
func (h *Helper) Close(ctx context.Context) error {
	var errs []error

	if h.metricServer != nil {
		errs = append(errs, h.metricServer.Shutdown(ctx))
	}

	if h.publisher != nil {
		errs = append(errs, h.publisher.Close())
	}

	return errors.Join(errs...)
}
