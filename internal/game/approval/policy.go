// Package approval decides whether a join request is admitted to a hosted session.
package approval

import (
	"errors"

	"github.com/cory-johannsen/lobby/internal/game/roster"
)

// DefaultCapacity is the roster size at which new peers are turned away.
const DefaultCapacity = 4

// ErrCapacityExceeded is the error form of a capacity rejection.
var ErrCapacityExceeded = errors.New("session is full")

// Reason names the rule that produced a Decision.
type Reason string

const (
	// ReasonHost approves the host's own loopback connection.
	ReasonHost Reason = "host"
	// ReasonMember approves a connection that is already in the roster.
	ReasonMember Reason = "member"
	// ReasonCapacity rejects a new connection because the roster is full.
	ReasonCapacity Reason = "capacity"
	// ReasonOpen approves a new connection while seats remain.
	ReasonOpen Reason = "open"
	// ReasonClosed rejects a request that arrives when no session is being hosted.
	ReasonClosed Reason = "closed"
)

// Rejected returns the rejection decision for reason.
func Rejected(reason Reason) Decision {
	return Decision{Approved: false, Reason: reason}
}

// Request is an inbound join request.
type Request struct {
	ConnectionID roster.ConnectionID
	DisplayName  string
}

// Members is the read-only roster view the policy needs. *roster.Roster satisfies it.
type Members interface {
	Count() int
	Contains(id roster.ConnectionID) bool
}

// Decision is the outcome of evaluating a Request.
type Decision struct {
	Approved bool
	Reason   Reason
	// Capacity is the seat count of the session that decided. Zero when no session did.
	Capacity int
}

// Err returns ErrCapacityExceeded for a capacity rejection and nil otherwise.
func (d Decision) Err() error {
	if !d.Approved && d.Reason == ReasonCapacity {
		return ErrCapacityExceeded
	}
	return nil
}

// Policy is the capacity-based approval rule set. The zero value is not usable; use New.
type Policy struct {
	hostID   roster.ConnectionID
	capacity int
}

// New creates a Policy for a host whose own connection is hostID.
//
// Precondition: capacity should be >= 1; values < 1 use DefaultCapacity.
func New(hostID roster.ConnectionID, capacity int) Policy {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return Policy{hostID: hostID, capacity: capacity}
}

// Capacity returns the configured seat count.
func (p Policy) Capacity() int {
	return p.capacity
}

// HostID returns the host's own connection id.
func (p Policy) HostID() roster.ConnectionID {
	return p.hostID
}

// Evaluate applies the rules in order: the host is always approved, an existing member is
// approved, a full roster rejects, anything else is approved.
//
// Precondition: members must not be mutated for the duration of the call.
// Postcondition: The result depends only on req.ConnectionID and the members view, and
// carries the policy's capacity.
func (p Policy) Evaluate(req Request, members Members) Decision {
	d := p.decide(req, members)
	d.Capacity = p.capacity
	return d
}

func (p Policy) decide(req Request, members Members) Decision {
	if req.ConnectionID == p.hostID {
		return Decision{Approved: true, Reason: ReasonHost}
	}
	// Reconnects must not count against the seats they already hold.
	if members.Contains(req.ConnectionID) {
		return Decision{Approved: true, Reason: ReasonMember}
	}
	if members.Count() >= p.capacity {
		return Rejected(ReasonCapacity)
	}
	return Decision{Approved: true, Reason: ReasonOpen}
}
