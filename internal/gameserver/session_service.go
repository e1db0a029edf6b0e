// Package gameserver exposes a hosted lobby session over gRPC.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/cory-johannsen/lobby/internal/game/approval"
	"github.com/cory-johannsen/lobby/internal/game/replication"
	"github.com/cory-johannsen/lobby/internal/game/roster"
	"github.com/cory-johannsen/lobby/internal/game/session"
	"github.com/cory-johannsen/lobby/internal/gameserver/lobbyv1"
)

// HostConnectionID is the connection id the host records for itself.
const HostConnectionID roster.ConnectionID = 0

// SessionServer implements lobbyv1.SessionServiceServer and session.Listener.
// Each Join stream is one peer; connection ids are assigned from a counter that
// starts after HostConnectionID.
type SessionServer struct {
	logger *zap.Logger
	health *health.Server
	lastID atomic.Uint64

	mu      sync.RWMutex
	handler session.HostHandler
}

// NewSessionServer creates a server that rejects every join until Listen is called.
//
// Precondition: logger must be non-nil.
func NewSessionServer(logger *zap.Logger) *SessionServer {
	s := &SessionServer{
		logger: logger,
		health: health.NewServer(),
	}
	s.lastID.Store(uint64(HostConnectionID))
	s.health.SetServingStatus(lobbyv1.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Health returns the health server reporting lobbyv1.ServiceName.
func (s *SessionServer) Health() *health.Server {
	return s.health
}

// LocalID returns HostConnectionID.
func (s *SessionServer) LocalID() roster.ConnectionID {
	return HostConnectionID
}

// Listen routes Join streams to h and marks the service SERVING.
//
// Postcondition: Returns an error if another handler is registered.
func (s *SessionServer) Listen(h session.HostHandler) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		return nil, errors.New("session server already has a host")
	}
	s.handler = h
	s.health.SetServingStatus(lobbyv1.ServiceName, healthpb.HealthCheckResponse_SERVING)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.handler == h {
				s.handler = nil
				s.health.SetServingStatus(lobbyv1.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
			}
		})
	}, nil
}

func (s *SessionServer) currentHandler() session.HostHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler
}

// Join handles one peer: a join request, the decision, then replicated roster
// mutations until the peer leaves or the host's feed for it closes.
func (s *SessionServer) Join(stream lobbyv1.JoinServer) error {
	first, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("receiving join request: %w", err)
	}
	name, err := lobbyv1.DecodeJoin(first)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "first message must be a join request: %v", err)
	}

	id := roster.ConnectionID(s.lastID.Add(1))
	h := s.currentHandler()
	d := approval.Rejected(approval.ReasonClosed)
	if h != nil {
		d = h.HandleJoinRequest(id, name)
	}
	if d.Approved {
		defer h.HandlePeerDisconnected(id)
	}

	if err := stream.Send(lobbyv1.NewDecision(lobbyv1.Decision{
		Approved:     d.Approved,
		Reason:       string(d.Reason),
		ConnectionID: id,
		Capacity:     d.Capacity,
	})); err != nil {
		return fmt.Errorf("sending decision: %w", err)
	}
	if !d.Approved {
		s.logger.Debug("join stream rejected",
			zap.Uint64("connection_id", uint64(id)),
			zap.String("reason", string(d.Reason)),
		)
		return nil
	}

	feed, err := h.HandlePeerConnected(id)
	if err != nil {
		return status.Errorf(codes.Unavailable, "connecting peer: %v", err)
	}

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	// Peers send nothing after the join request; a Recv error means they left.
	go func() {
		defer cancel()
		for {
			if _, err := stream.Recv(); err != nil {
				return
			}
		}
	}()

	return s.forwardMutations(ctx, feed, stream)
}

// forwardMutations streams feed to the peer until ctx ends or the feed closes.
func (s *SessionServer) forwardMutations(ctx context.Context, feed *replication.Feed, stream lobbyv1.JoinServer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-feed.Mutations():
			if !ok {
				s.logger.Debug("peer feed closed", zap.Uint64("connection_id", uint64(feed.ConnectionID())))
				return nil
			}
			if err := stream.Send(lobbyv1.NewMutation(m)); err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("sending mutation: %w", err)
			}
		}
	}
}
