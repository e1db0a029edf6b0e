package testutil

import (
	"errors"
	"io"
	"sync"

	"github.com/cory-johannsen/lobby/internal/game/roster"
	"github.com/cory-johannsen/lobby/internal/game/session"
)

// ErrConnectionRefused is reported by Loopback.Dial when no host is listening.
var ErrConnectionRefused = errors.New("connection refused")

// Loopback connects client Coordinators to one host Coordinator in memory. It is both
// the host's session.Listener and every client's session.Dialer; the dial address is
// ignored. Each dialed peer is pumped by its own goroutine, as a network stream would be.
type Loopback struct {
	localID roster.ConnectionID

	mu     sync.Mutex
	host   session.HostHandler
	nextID roster.ConnectionID
	wg     sync.WaitGroup
}

// NewLoopback creates a transport whose host id is localID and whose peers are numbered
// from firstPeerID upward.
func NewLoopback(localID, firstPeerID roster.ConnectionID) *Loopback {
	return &Loopback{localID: localID, nextID: firstPeerID}
}

// LocalID returns the host connection id.
func (l *Loopback) LocalID() roster.ConnectionID { return l.localID }

// Listen routes later dials to h until released.
func (l *Loopback) Listen(h session.HostHandler) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.host != nil {
		return nil, errors.New("loopback already listening")
	}
	l.host = h

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.host == h {
				l.host = nil
			}
		})
	}, nil
}

// Dial joins the listening host under the next peer id.
func (l *Loopback) Dial(_ string, displayName string, h session.ClientHandler) (func(), error) {
	l.mu.Lock()
	host := l.host
	if host == nil {
		l.mu.Unlock()
		return nil, ErrConnectionRefused
	}
	id := l.nextID
	l.nextID++
	l.wg.Add(1)
	l.mu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(stop) }) }

	go func() {
		defer l.wg.Done()
		l.pump(id, displayName, host, h, stop)
	}()
	return release, nil
}

func (l *Loopback) pump(id roster.ConnectionID, displayName string, host session.HostHandler, h session.ClientHandler, stop <-chan struct{}) {
	d := host.HandleJoinRequest(id, displayName)
	if !d.Approved {
		h.HandleDisconnected(session.RejectionError(d))
		return
	}
	feed, err := host.HandlePeerConnected(id)
	if err != nil {
		host.HandlePeerDisconnected(id)
		h.HandleDisconnected(err)
		return
	}
	h.HandleConnected(d.Capacity)

	for {
		select {
		case <-stop:
			host.HandlePeerDisconnected(id)
			return
		case m, ok := <-feed.Mutations():
			if !ok {
				host.HandlePeerDisconnected(id)
				h.HandleDisconnected(io.EOF)
				return
			}
			h.HandleMutation(m)
		}
	}
}

// Wait blocks until every pump goroutine has exited.
func (l *Loopback) Wait() {
	l.wg.Wait()
}
