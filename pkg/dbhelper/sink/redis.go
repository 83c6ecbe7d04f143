package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/sllt/dbhelper/pkg/dbhelper/datasource"
	dbsql "github.com/sllt/dbhelper/pkg/dbhelper/datasource/sql"
	"github.com/sllt/dbhelper/pkg/dbhelper/logging"
)

const (
	defaultRedisKey    = "dbhelper:exceptions"
	defaultRedisMaxLen = 1000
)

var errNotConnected = errors.New("redis publisher is not connected")

// RedisConfig configures RedisPublisher. Key holds the bounded history list, Channel receives each payload.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	Channel  string
	MaxLen   int64
}

// RedisPublisher pushes every recorded failure as JSON onto a capped Redis list and, when Channel is set,
// publishes it on that channel.
type RedisPublisher struct {
	config  RedisConfig
	client  *redis.Client
	logger  datasource.Logger
	metrics dbsql.Metrics
	tracer  trace.TracerProvider
}

// NewRedisPublisher returns an unconnected publisher. Call Connect before use.
func NewRedisPublisher(cfg RedisConfig) *RedisPublisher {
	if cfg.Key == "" {
		cfg.Key = defaultRedisKey
	}

	if cfg.MaxLen <= 0 {
		cfg.MaxLen = defaultRedisMaxLen
	}

	return &RedisPublisher{config: cfg, logger: logging.NopLogger{}}
}

func (r *RedisPublisher) UseLogger(logger datasource.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

func (r *RedisPublisher) UseMetrics(metrics dbsql.Metrics) {
	r.metrics = metrics
}

func (r *RedisPublisher) UseTracer(tp trace.TracerProvider) {
	r.tracer = tp
}

// Connect creates the client and pings the server. A failed ping is logged; the client keeps retrying on use.
func (r *RedisPublisher) Connect() {
	r.client = redis.NewClient(&redis.Options{
		Addr:     r.config.Addr,
		Password: r.config.Password,
		DB:       r.config.DB,
	})

	if r.tracer != nil {
		if err := redisotel.InstrumentTracing(r.client, redisotel.WithTracerProvider(r.tracer)); err != nil {
			r.logger.Errorf("could not instrument redis client: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logger.Errorf("could not connect to redis at %s: %v", r.config.Addr, err)
		return
	}

	r.logger.Infof("connected to redis at %s, exceptions go to %s", r.config.Addr, r.config.Key)
}

// Publish serialises err and stores it. Errors that are not *DatabaseException are published with only a message.
func (r *RedisPublisher) Publish(ctx context.Context, err error) error {
	if r.client == nil {
		return errNotConnected
	}

	payload, mErr := marshalException(err)
	if mErr != nil {
		return fmt.Errorf("encoding exception: %w", mErr)
	}

	if pErr := r.client.LPush(ctx, r.config.Key, payload).Err(); pErr != nil {
		return pErr
	}

	if pErr := r.client.LTrim(ctx, r.config.Key, 0, r.config.MaxLen-1).Err(); pErr != nil {
		return pErr
	}

	if r.config.Channel != "" {
		if pErr := r.client.Publish(ctx, r.config.Channel, payload).Err(); pErr != nil {
			return pErr
		}
	}

	if r.metrics != nil {
		r.metrics.IncrementCounter(ctx, "app_sql_exceptions_published", "key", r.config.Key)
	}

	return nil
}

// Close releases the client.
func (r *RedisPublisher) Close() error {
	if r.client == nil {
		return nil
	}

	return r.client.Close()
}

func marshalException(err error) ([]byte, error) {
	var de *DatabaseException
	if errors.As(err, &de) {
		return json.Marshal(de)
	}

	return json.Marshal(struct {
		Time    time.Time `json:"time"`
		Message string    `json:"message"`
		Kind    string    `json:"kind"`
	}{time.Now(), err.Error(), dbsql.KindOf(err).String()})
}
