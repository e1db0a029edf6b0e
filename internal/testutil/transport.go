// Package testutil provides in-memory session transports for tests.
package testutil

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cory-johannsen/lobby/internal/game/approval"
	"github.com/cory-johannsen/lobby/internal/game/replication"
	"github.com/cory-johannsen/lobby/internal/game/roster"
	"github.com/cory-johannsen/lobby/internal/game/session"
)

// ErrNotListening is returned when a scripted peer joins a listener with no handler.
var ErrNotListening = errors.New("listener has no handler")

// ScriptedListener is a session.Listener driven directly by the test: each Join and
// Disconnect call invokes the registered handler on the calling goroutine.
type ScriptedListener struct {
	// ListenErr, when set, is returned by Listen.
	ListenErr error

	localID roster.ConnectionID

	mu       sync.Mutex
	handler  session.HostHandler
	releases int
}

// NewScriptedListener creates a listener whose host connection id is localID.
func NewScriptedListener(localID roster.ConnectionID) *ScriptedListener {
	return &ScriptedListener{localID: localID}
}

// LocalID returns the host connection id.
func (l *ScriptedListener) LocalID() roster.ConnectionID { return l.localID }

// Listen registers h until the returned release is called.
func (l *ScriptedListener) Listen(h session.HostHandler) (func(), error) {
	if l.ListenErr != nil {
		return nil, l.ListenErr
	}
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.handler == h {
				l.handler = nil
			}
			l.releases++
		})
	}, nil
}

// Handler returns the registered handler, or nil once released.
func (l *ScriptedListener) Handler() session.HostHandler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler
}

// Releases returns how many registrations have been released.
func (l *ScriptedListener) Releases() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releases
}

// Join sends a join request for id and, when approved, reports the peer connected.
//
// Postcondition: Returns the decision and, for an approved peer, its replication feed.
func (l *ScriptedListener) Join(id roster.ConnectionID, displayName string) (approval.Decision, *replication.Feed, error) {
	h := l.Handler()
	if h == nil {
		return approval.Decision{}, nil, ErrNotListening
	}
	d := h.HandleJoinRequest(id, displayName)
	if !d.Approved {
		return d, nil, nil
	}
	feed, err := h.HandlePeerConnected(id)
	if err != nil {
		return d, nil, fmt.Errorf("connecting peer %d: %w", id, err)
	}
	return d, feed, nil
}

// Disconnect reports peer id as gone.
func (l *ScriptedListener) Disconnect(id roster.ConnectionID) error {
	h := l.Handler()
	if h == nil {
		return ErrNotListening
	}
	h.HandlePeerDisconnected(id)
	return nil
}

// ScriptedDialer is a session.Dialer that records the dial and leaves every callback to
// the test.
type ScriptedDialer struct {
	// DialErr, when set, is returned by Dial.
	DialErr error

	mu          sync.Mutex
	address     string
	displayName string
	handler     session.ClientHandler
	released    bool
}

// Dial records the request and returns a release that marks the dialer released.
func (d *ScriptedDialer) Dial(address, displayName string, h session.ClientHandler) (func(), error) {
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	d.mu.Lock()
	d.address, d.displayName, d.handler, d.released = address, displayName, h, false
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.released = true
	}, nil
}

// Handler returns the handler from the last Dial.
func (d *ScriptedDialer) Handler() session.ClientHandler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handler
}

// Address returns the address from the last Dial.
func (d *ScriptedDialer) Address() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.address
}

// DisplayName returns the display name sent with the last Dial.
func (d *ScriptedDialer) DisplayName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.displayName
}

// Released reports whether the last dial's release has been called.
func (d *ScriptedDialer) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}
