package session

import (
	"fmt"

	"github.com/cory-johannsen/lobby/internal/game/approval"
	"github.com/cory-johannsen/lobby/internal/game/replication"
	"github.com/cory-johannsen/lobby/internal/game/roster"
)

// HostHandler receives connection signals from a Listener. Calls for one peer
// arrive in order: a join request, then at most one connect, then at most one
// disconnect.
type HostHandler interface {
	// HandleJoinRequest decides whether peer id may join.
	HandleJoinRequest(id roster.ConnectionID, displayName string) approval.Decision
	// HandlePeerConnected is called after an approved peer's connection is established.
	// The returned Feed carries the roster replay followed by live mutations; the
	// transport forwards it to the peer until the feed closes.
	HandlePeerConnected(id roster.ConnectionID) (*replication.Feed, error)
	// HandlePeerDisconnected is called once the peer's connection has ended.
	HandlePeerDisconnected(id roster.ConnectionID)
}

// Listener is the host side of a transport.
type Listener interface {
	// LocalID returns the connection id the host uses for itself.
	LocalID() roster.ConnectionID
	// Listen starts routing peer connections to h.
	//
	// Postcondition: release stops routing to h. release must not wait for h's callbacks
	// to return and must be safe to call more than once.
	Listen(h HostHandler) (release func(), err error)
}

// ClientHandler receives connection signals from a Dialer, in order, on a goroutine
// other than the one that called Dial.
type ClientHandler interface {
	// HandleConnected is called once the host has approved the join request.
	// hostCapacity is the host's seat count, or 0 if the host did not report one.
	HandleConnected(hostCapacity int)
	// HandleMutation delivers one replicated roster mutation.
	HandleMutation(m roster.Mutation)
	// HandleDisconnected is called once when the connection ends for any reason,
	// including rejection (err wraps ErrRejected).
	HandleDisconnected(err error)
}

// Dialer is the client side of a transport.
type Dialer interface {
	// Dial connects to address and sends a join request carrying displayName.
	//
	// Postcondition: On success callbacks are delivered to h until release is called.
	// release must not wait for h's callbacks to return and must be safe to call more
	// than once.
	Dial(address, displayName string, h ClientHandler) (release func(), err error)
}

// RejectionError is the error a Dialer passes to HandleDisconnected for a rejected join.
// It wraps ErrRejected, and also approval.ErrCapacityExceeded for a capacity rejection.
func RejectionError(d approval.Decision) error {
	if err := d.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRejected, d.Reason, err)
	}
	return fmt.Errorf("%w: %s", ErrRejected, d.Reason)
}
