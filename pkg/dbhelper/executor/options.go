package executor

import (
	"time"

	dbsql "github.com/sllt/dbhelper/pkg/dbhelper/datasource/sql"
	"github.com/sllt/dbhelper/pkg/dbhelper/logging"
	"github.com/sllt/dbhelper/pkg/dbhelper/sink"
)

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(logger logging.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(metrics dbsql.Metrics) Option {
	return func(e *Executor) {
		e.metrics = metrics
	}
}

// WithSink sets the sink fail-soft operations record into. Without it the executor owns a private sink.Manager.
func WithSink(s sink.Sink) Option {
	return func(e *Executor) {
		e.sink = s
	}
}

// CallOption configures a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout bounds the call. Non-positive values keep the executor default.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}
