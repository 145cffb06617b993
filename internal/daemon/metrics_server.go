package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/matheus3301/sigstate/internal/metrics"
)

// MetricsServer exposes the registry over HTTP when an address is
// configured. A zero MetricsServer does nothing.
type MetricsServer struct {
	srv    *http.Server
	addr   string
	logger *zap.Logger
}

func NewMetricsServer(p Params, reg *prometheus.Registry, logger *zap.Logger) *MetricsServer {
	addr := p.config().MetricsAddr
	if addr == "" {
		return &MetricsServer{logger: logger}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	return &MetricsServer{
		srv:    &http.Server{Addr: addr, Handler: mux},
		addr:   addr,
		logger: logger,
	}
}

// Start binds the listener synchronously and serves in the background.
func (s *MetricsServer) Start() error {
	if s.srv == nil {
		return nil
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	s.addr = lis.Addr().String()
	s.logger.Info("metrics server starting", zap.String("addr", s.addr))
	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" when disabled.
func (s *MetricsServer) Addr() string {
	return s.addr
}

func (s *MetricsServer) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}
