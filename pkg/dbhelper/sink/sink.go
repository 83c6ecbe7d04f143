// Package sink keeps the most recent database failure observed by the executors.
//
// A Manager is constructed explicitly and injected into the executors instead of living in a global. The slot is
// last-write-wins: concurrent failures race and only the latest write is observable.
package sink

import (
	"context"
	"sync"

	"github.com/sllt/dbhelper/pkg/dbhelper/datasource"
	dbsql "github.com/sllt/dbhelper/pkg/dbhelper/datasource/sql"
	"github.com/sllt/dbhelper/pkg/dbhelper/logging"
)

//go:generate mockgen -source=sink.go -destination=mock_sink.go -package=sink

// Sink records failures that fail-soft operations absorb. Implementations must never panic.
type Sink interface {
	// Record stores err as the last exception.
	Record(ctx context.Context, err error)
	// RecordCommand enriches err with cmd into a *DatabaseException and stores it.
	RecordCommand(ctx context.Context, err error, cmd *dbsql.Command, message string)
	// LastException returns the most recently recorded failure, or nil.
	LastException() error
}

// Publisher forwards recorded failures outside the process.
type Publisher interface {
	Publish(ctx context.Context, err error) error
}

// Manager is the default Sink.
type Manager struct {
	mu   sync.RWMutex
	last error

	logger    datasource.Logger
	publisher Publisher
}

type Option func(*Manager)

// WithPublisher forwards every recorded failure to p.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// New returns a Manager logging its diagnostic trace to logger. A nil logger discards it.
func New(logger datasource.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NopLogger{}
	}

	m := &Manager{logger: logger}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) Record(ctx context.Context, err error) {
	if err == nil {
		return
	}

	m.store(ctx, err)
}

// RecordCommand enriches err with cmd. A nil cmd is a programmer error: err is stored without enrichment.
func (m *Manager) RecordCommand(ctx context.Context, err error, cmd *dbsql.Command, message string) {
	if err == nil {
		return
	}

	if cmd == nil {
		m.logger.Warnf("recording failure without command context")
		m.store(ctx, err)

		return
	}

	m.store(ctx, NewDatabaseException(err, cmd, message))
}

func (m *Manager) LastException() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.last
}

func (m *Manager) store(ctx context.Context, err error) {
	m.mu.Lock()
	m.last = err
	m.mu.Unlock()

	m.logger.Errorf("%+v", err)

	if m.publisher == nil {
		return
	}

	if pubErr := m.publisher.Publish(ctx, err); pubErr != nil {
		m.logger.Errorf("publishing database exception: %v", pubErr)
	}
}

type contextKey struct{}

// NewContext returns a context carrying s. Executors record into s instead of their own sink for calls made with
// the returned context.
func NewContext(ctx context.Context, s Sink) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the Sink stored by NewContext.
func FromContext(ctx context.Context) (Sink, bool) {
	s, ok := ctx.Value(contextKey{}).(Sink)

	return s, ok && s != nil
}
