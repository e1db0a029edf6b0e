// Package bridge connects a client Coordinator to a remote session host over gRPC.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cory-johannsen/lobby/internal/game/approval"
	"github.com/cory-johannsen/lobby/internal/game/session"
	"github.com/cory-johannsen/lobby/internal/gameserver/lobbyv1"
)

// Dialer implements session.Dialer over lobby.v1.SessionService.
type Dialer struct {
	logger *zap.Logger
	opts   []grpc.DialOption
}

// NewDialer creates a Dialer using insecure transport credentials plus opts.
//
// Precondition: logger must be non-nil.
func NewDialer(logger *zap.Logger, opts ...grpc.DialOption) *Dialer {
	return &Dialer{
		logger: logger,
		opts:   append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...),
	}
}

// Dial opens a Join stream to address and sends the join request. The decision and
// later mutations are delivered to h from a receive goroutine.
//
// Postcondition: On success release closes the stream and connection; after release no
// further callbacks are made.
func (d *Dialer) Dial(address, displayName string, h session.ClientHandler) (func(), error) {
	conn, err := grpc.NewClient(address, d.opts...)
	if err != nil {
		return nil, fmt.Errorf("creating client for %s: %w", address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := lobbyv1.NewSessionServiceClient(conn).Join(ctx)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("opening join stream: %w", err)
	}
	if err := stream.Send(lobbyv1.NewJoin(displayName)); err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("sending join request: %w", err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			_ = conn.Close()
		})
	}

	go d.receive(ctx, cancel, stream, h)
	return release, nil
}

// receive maps the stream onto h until the stream ends or ctx is cancelled.
func (d *Dialer) receive(ctx context.Context, cancel context.CancelFunc, stream lobbyv1.JoinClient, h session.ClientHandler) {
	defer cancel()

	disconnect := func(err error) {
		if ctx.Err() == nil {
			h.HandleDisconnected(err)
		}
	}

	first, err := stream.Recv()
	if err != nil {
		disconnect(fmt.Errorf("awaiting join decision: %w", err))
		return
	}
	decision, err := lobbyv1.DecodeDecision(first)
	if err != nil {
		disconnect(err)
		return
	}
	if !decision.Approved {
		disconnect(session.RejectionError(approval.Decision{
			Reason:   approval.Reason(decision.Reason),
			Capacity: decision.Capacity,
		}))
		return
	}
	d.logger.Debug("join approved",
		zap.Uint64("connection_id", uint64(decision.ConnectionID)),
		zap.String("reason", decision.Reason),
		zap.Int("host_capacity", decision.Capacity),
	)
	if ctx.Err() != nil {
		return
	}
	h.HandleConnected(decision.Capacity)

	for {
		msg, err := stream.Recv()
		if err != nil {
			disconnect(err)
			return
		}
		m, err := lobbyv1.DecodeMutation(msg)
		if err != nil {
			d.logger.Warn("dropping connection on malformed mutation", zap.Error(err))
			disconnect(err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		h.HandleMutation(m)
	}
}
