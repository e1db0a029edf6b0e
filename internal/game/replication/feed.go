// Package replication mirrors host roster mutations to connected peers and
// rebuilds them into a read-only view on the peer side.
package replication

import (
	"fmt"
	"sync"

	"github.com/cory-johannsen/lobby/internal/game/roster"
)

// Feed is a per-peer buffered queue of roster mutations. The transport drains
// it onto the peer's stream.
type Feed struct {
	id     roster.ConnectionID
	events chan roster.Mutation
	mu     sync.Mutex
	closed bool
}

// NewFeed creates a Feed for the given peer.
//
// Postcondition: Returns a Feed with an open channel of at least 1 slot.
func NewFeed(id roster.ConnectionID, bufferSize int) *Feed {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Feed{
		id:     id,
		events: make(chan roster.Mutation, bufferSize),
	}
}

// ConnectionID returns the peer this feed serves.
func (f *Feed) ConnectionID() roster.ConnectionID {
	return f.id
}

// Push enqueues m without blocking.
//
// Postcondition: Returns an error if the feed is closed or its buffer is full.
func (f *Feed) Push(m roster.Mutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("feed %d is closed", f.id)
	}
	select {
	case f.events <- m:
		return nil
	default:
		return fmt.Errorf("feed %d buffer full", f.id)
	}
}

// Mutations returns the receive side of the feed. It is closed when the feed is closed.
func (f *Feed) Mutations() <-chan roster.Mutation {
	return f.events
}

// Close closes the mutation channel. Safe to call more than once.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// IsClosed reports whether the feed has been closed.
func (f *Feed) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
