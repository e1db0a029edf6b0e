package gameserver

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/lobby/internal/gameserver/lobbyv1"
)

// DefaultStopTimeout bounds GracefulStop before open streams are cut.
const DefaultStopTimeout = 5 * time.Second

// GRPCService serves the session and health services on one listener. It satisfies
// server.Service.
type GRPCService struct {
	addr   string
	server *grpc.Server
	logger *zap.Logger

	mu    sync.Mutex
	lis   net.Listener
	ready chan struct{}
}

// NewGRPCService registers sessions and its health server on a new grpc.Server.
//
// Precondition: addr is a "host:port" string; port 0 picks a free port.
func NewGRPCService(addr string, sessions *SessionServer, logger *zap.Logger) *GRPCService {
	srv := grpc.NewServer()
	lobbyv1.RegisterSessionServiceServer(srv, sessions)
	healthpb.RegisterHealthServer(srv, sessions.Health())
	return &GRPCService{
		addr:   addr,
		server: srv,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Start listens and serves until Stop.
func (g *GRPCService) Start() error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.addr, err)
	}
	g.mu.Lock()
	g.lis = lis
	g.mu.Unlock()
	close(g.ready)

	g.logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
	if err := g.server.Serve(lis); err != nil {
		return fmt.Errorf("serving gRPC: %w", err)
	}
	return nil
}

// Ready is closed once the listener is bound.
func (g *GRPCService) Ready() <-chan struct{} {
	return g.ready
}

// Addr returns the bound address, or "" before Start has bound the listener.
func (g *GRPCService) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lis == nil {
		return ""
	}
	return g.lis.Addr().String()
}

// Stop drains open streams, cutting them after DefaultStopTimeout.
func (g *GRPCService) Stop() {
	done := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(DefaultStopTimeout):
		g.logger.Warn("graceful stop timed out, closing streams")
		g.server.Stop()
	}
}
