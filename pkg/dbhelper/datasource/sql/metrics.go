package sql

import "context"

//go:generate mockgen -source=metrics.go -destination=mock_metrics.go -package=sql

// Metrics is the recording surface used by Conn, Tx and the executors.
type Metrics interface {
	IncrementCounter(ctx context.Context, name string, labels ...string)
	RecordHistogram(ctx context.Context, name string, value float64, labels ...string)
}
