package dbhelper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sllt/dbhelper/pkg/dbhelper/logging"
)

type metricServer struct {
	port int
	srv  *http.Server
}

func newMetricServer(port int, handler http.Handler) *metricServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	return &metricServer{
		port: port,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (m *metricServer) Run(logger logging.Logger) {
	if m != nil {
		logger.Logf("Starting metrics server on port: %d", m.port)

		err := m.srv.ListenAndServe()

		if !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("error while listening to metrics server, err: %v", err)
		}
	}
}

func (m *metricServer) Shutdown(ctx context.Context) error {
	if m.srv == nil {
		return nil
	}

	err := m.srv.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return m.srv.Close()
	}

	return err
}

// ServeMetrics starts serving /metrics on port in the background. The server stops on Close.
func (h *Helper) ServeMetrics(port int) {
	h.metricServer = newMetricServer(port, h.metricsHandler)

	go h.metricServer.Run(h.Logger)
}
