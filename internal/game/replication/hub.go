package replication

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/game/roster"
)

// DefaultBufferSize is the per-peer feed depth used when none is configured.
const DefaultBufferSize = 64

// ErrHubClosed is returned by Attach after Close.
var ErrHubClosed = errors.New("replication hub closed")

type attachment struct {
	feed   *Feed
	cancel func()
}

// Hub fans host roster mutations out to one Feed per attached peer.
// Delivery never blocks the roster: a peer whose feed is full has its feed
// closed and stops receiving mutations.
type Hub struct {
	source     *roster.Roster
	bufferSize int
	logger     *zap.Logger

	mu     sync.Mutex
	peers  map[roster.ConnectionID]*attachment
	closed bool
}

// NewHub creates a Hub replicating source.
//
// Precondition: source and logger must be non-nil.
func NewHub(source *roster.Roster, bufferSize int, logger *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		source:     source,
		bufferSize: bufferSize,
		logger:     logger,
		peers:      make(map[roster.ConnectionID]*attachment),
	}
}

// Attach creates the Feed for peer id. The feed first receives the current roster as
// Added mutations, then every later mutation in order. Attaching an id that is already
// attached replaces (and closes) the previous feed.
//
// Postcondition: Returns an open Feed, or ErrHubClosed.
func (h *Hub) Attach(id roster.ConnectionID) (*Feed, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if prev, ok := h.peers[id]; ok {
		prev.cancel()
		_ = prev.feed.Close()
		delete(h.peers, id)
	}

	feed := NewFeed(id, h.bufferSize+h.source.Count())
	var dropped atomic.Bool
	cancel := h.source.Watch(func(m roster.Mutation) {
		if dropped.Load() || feed.IsClosed() {
			return
		}
		if err := feed.Push(m); err != nil {
			dropped.Store(true)
			h.logger.Warn("dropping peer feed",
				zap.Uint64("connection_id", uint64(id)),
				zap.Stringer("kind", m.Kind),
				zap.Error(err),
			)
			_ = feed.Close()
		}
	})

	h.peers[id] = &attachment{feed: feed, cancel: cancel}
	h.logger.Debug("peer feed attached",
		zap.Uint64("connection_id", uint64(id)),
		zap.Int("peers", len(h.peers)),
	)
	return feed, nil
}

// Detach stops replication to peer id and closes its feed.
//
// Postcondition: Returns true if the peer was attached.
func (h *Hub) Detach(id roster.ConnectionID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.peers[id]
	if !ok {
		return false
	}
	a.cancel()
	_ = a.feed.Close()
	delete(h.peers, id)
	return true
}

// Len returns the number of attached peers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Peers returns the attached peer ids in ascending order.
func (h *Hub) Peers() []roster.ConnectionID {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]roster.ConnectionID, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close detaches every peer and rejects further attachments. Safe to call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, a := range h.peers {
		a.cancel()
		_ = a.feed.Close()
		delete(h.peers, id)
	}
	h.closed = true
}
