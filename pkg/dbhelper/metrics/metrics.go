// Package metrics records dbhelper instruments through the OpenTelemetry metric SDK and exposes them in Prometheus
// format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	errMetricDoesNotExist = errors.New("metric does not exist")
	errMetricExists       = errors.New("metric already registered")
	errOddLabels          = errors.New("odd number of labels, last one dropped")
)

// Logger is the subset of logging.Logger used to report misuse of the manager.
type Logger interface {
	Warnf(format string, args ...any)
}

// Manager registers and records instruments. Labels are passed as alternating key/value strings.
type Manager interface {
	NewCounter(name, desc string)
	NewHistogram(name, desc string, buckets ...float64)

	IncrementCounter(ctx context.Context, name string, labels ...string)
	RecordHistogram(ctx context.Context, name string, value float64, labels ...string)
}

type manager struct {
	meter  metric.Meter
	logger Logger

	mu         sync.RWMutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewManager returns a Manager recording on meter.
func NewManager(meter metric.Meter, logger Logger) Manager {
	return &manager{
		meter:      meter,
		logger:     logger,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// NewPrometheusManager builds a meter provider exporting to a fresh Prometheus registry, and returns a Manager on it
// together with the /metrics handler for that registry.
func NewPrometheusManager(appName string, logger Logger) (Manager, http.Handler, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry), otelprom.WithoutTargetInfo())
	if err != nil {
		return nil, nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	return NewManager(provider.Meter(appName), logger), GetHandler(registry), nil
}

// GetHandler serves the metrics gathered by registry.
func GetHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

func (m *manager) NewCounter(name, desc string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.counters[name]; ok {
		m.warn(name, errMetricExists)
		return
	}

	c, err := m.meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		m.warn(name, err)
		return
	}

	m.counters[name] = c
}

func (m *manager) NewHistogram(name, desc string, buckets ...float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.histograms[name]; ok {
		m.warn(name, errMetricExists)
		return
	}

	opts := []metric.Float64HistogramOption{metric.WithDescription(desc)}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}

	h, err := m.meter.Float64Histogram(name, opts...)
	if err != nil {
		m.warn(name, err)
		return
	}

	m.histograms[name] = h
}

func (m *manager) IncrementCounter(ctx context.Context, name string, labels ...string) {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()

	if !ok {
		m.warn(name, errMetricDoesNotExist)
		return
	}

	c.Add(ctx, 1, metric.WithAttributes(m.attributes(name, labels)...))
}

func (m *manager) RecordHistogram(ctx context.Context, name string, value float64, labels ...string) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()

	if !ok {
		m.warn(name, errMetricDoesNotExist)
		return
	}

	h.Record(ctx, value, metric.WithAttributes(m.attributes(name, labels)...))
}

func (m *manager) attributes(name string, labels []string) []attribute.KeyValue {
	if len(labels)%2 != 0 {
		m.warn(name, errOddLabels)
		labels = labels[:len(labels)-1]
	}

	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}

	return attrs
}

func (m *manager) warn(name string, err error) {
	if m.logger != nil {
		m.logger.Warnf("metric %s: %v", name, err)
	}
}

// RegisterSQL registers the instruments recorded by the executors and the exception publisher.
func RegisterSQL(m Manager) {
	m.NewHistogram("app_sql_stats", "Response time of SQL operations in milliseconds.",
		.05, .075, .1, .125, .15, .2, .3, .5, .75, 1, 2, 3, 4, 5, 7.5, 10, 50, 100, 500, 1000)
	m.NewCounter("app_sql_failures", "Number of failed database calls by kind.")
	m.NewCounter("app_sql_tx", "Number of finished transactions by outcome.")
	m.NewCounter("app_sql_exceptions_published", "Number of database exceptions published to redis.")
}
