package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Service runs an http.Server under the process lifecycle.
type Service struct {
	server *http.Server
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewService creates a Service serving handler on addr. Request contexts derive from a
// base context that Stop cancels, which is what ends open websocket feeds.
func NewService(addr string, handler http.Handler, logger *zap.Logger) *Service {
	base, cancel := context.WithCancel(context.Background())
	return &Service{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return base },
		},
		logger: logger,
		cancel: cancel,
	}
}

// Start serves until Stop.
func (s *Service) Start() error {
	s.logger.Info("HTTP roster feed listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving HTTP: %w", err)
	}
	return nil
}

// Stop ends websocket feeds and shuts the server down, waiting up to five seconds
// for in-flight requests.
func (s *Service) Stop() {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP shutdown", zap.Error(err))
	}
}
