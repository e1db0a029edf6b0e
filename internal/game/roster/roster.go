// Package roster provides the ordered player roster owned by a session host.
// Every mutation is reported synchronously to registered observers as a
// Mutation record so that peers can rebuild the same sequence by replay.
package roster

import (
	"errors"
	"fmt"
	"iter"
	"sync"
)

// ErrDuplicateConnection is returned by Add when the connection is already a member.
var ErrDuplicateConnection = errors.New("connection already in roster")

// ConnectionID is the transport-assigned identifier of a connected peer.
type ConnectionID uint64

// PlayerRecord is a single roster entry. Two records are equal iff both fields match.
type PlayerRecord struct {
	// ConnectionID is stable for the lifetime of the connection.
	ConnectionID ConnectionID
	// DisplayName is the name supplied by the peer when it asked to join.
	DisplayName string
}

// Observer receives every mutation applied to a roster, in application order.
// Observers run while the roster's emission lock is held; they may read the
// roster but must not mutate it.
type Observer func(Mutation)

type observerHandle struct {
	fn Observer
}

// Roster is an ordered collection of PlayerRecord with unique connection IDs.
// All methods are safe for concurrent use; mutations are serialised and their
// notifications are delivered in the order the mutations happened.
type Roster struct {
	emitMu sync.Mutex // held across a mutation and its notification

	mu      sync.RWMutex
	entries []PlayerRecord

	obsMu     sync.Mutex
	observers []*observerHandle
}

// New creates an empty Roster.
func New() *Roster {
	return &Roster{}
}

// Add appends rec to the end of the roster.
//
// Precondition: rec.DisplayName should already be normalised by the caller.
// Postcondition: Returns an error wrapping ErrDuplicateConnection and emits nothing if
// rec.ConnectionID is already present; otherwise emits an Added mutation at the new tail.
func (r *Roster) Add(rec PlayerRecord) error {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if indexOf(r.entries, rec.ConnectionID) >= 0 {
		r.mu.Unlock()
		return fmt.Errorf("adding connection %d: %w", rec.ConnectionID, ErrDuplicateConnection)
	}
	r.entries = append(r.entries, rec)
	m := Mutation{Kind: MutationAdded, Index: len(r.entries) - 1, Value: rec}
	r.mu.Unlock()

	r.emit(m)
	return nil
}

// RemoveByConnection removes the entry for id.
//
// Postcondition: Returns true and emits one Removed mutation per removed entry when id was
// present. Returns false with no mutation when id is absent.
func (r *Roster) RemoveByConnection(id ConnectionID) bool {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	removed := false
	for {
		r.mu.Lock()
		idx := indexOf(r.entries, id)
		if idx < 0 {
			r.mu.Unlock()
			return removed
		}
		rec := r.entries[idx]
		r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
		r.mu.Unlock()

		removed = true
		r.emit(Mutation{Kind: MutationRemoved, Index: idx, Value: rec})
	}
}

// Clear removes every entry.
//
// Postcondition: Emits a single Cleared mutation if the roster was non-empty.
func (r *Roster) Clear() {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if len(r.entries) == 0 {
		r.mu.Unlock()
		return
	}
	r.entries = nil
	r.mu.Unlock()

	r.emit(Mutation{Kind: MutationCleared})
}

// Count returns the number of entries.
func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// At returns the entry at index.
//
// Postcondition: Returns (record, true) for 0 <= index < Count(), or (zero, false) otherwise.
func (r *Roster) At(index int) (PlayerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.entries) {
		return PlayerRecord{}, false
	}
	return r.entries[index], true
}

// Contains reports whether id is a member.
func (r *Roster) Contains(id ConnectionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return indexOf(r.entries, id) >= 0
}

// Snapshot returns a copy of the entries in insertion order.
func (r *Roster) Snapshot() []PlayerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PlayerRecord, len(r.entries))
	copy(out, r.entries)
	return out
}

// All iterates a snapshot of the entries in insertion order.
func (r *Roster) All() iter.Seq2[int, PlayerRecord] {
	snap := r.Snapshot()
	return func(yield func(int, PlayerRecord) bool) {
		for i, rec := range snap {
			if !yield(i, rec) {
				return
			}
		}
	}
}

// Subscribe registers obs for all future mutations.
//
// Postcondition: Returns a cancel function that unregisters obs; calling it more than once
// is a no-op.
func (r *Roster) Subscribe(obs Observer) (cancel func()) {
	h := &observerHandle{fn: obs}
	r.obsMu.Lock()
	r.observers = append(r.observers, h)
	r.obsMu.Unlock()
	return r.canceller(h)
}

// Watch replays the current entries to obs as Added mutations and registers obs for
// all later mutations, atomically. No mutation is missed or delivered twice between
// the replay and the live stream.
//
// Postcondition: Returns a cancel function as for Subscribe.
func (r *Roster) Watch(obs Observer) (cancel func()) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	for _, m := range ReplayOf(r.Snapshot()) {
		obs(m)
	}
	return r.Subscribe(obs)
}

func (r *Roster) canceller(h *observerHandle) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.obsMu.Lock()
			defer r.obsMu.Unlock()
			for i, o := range r.observers {
				if o == h {
					r.observers = append(r.observers[:i], r.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// emit delivers m to a copy of the observer list so observers may cancel themselves.
func (r *Roster) emit(m Mutation) {
	r.obsMu.Lock()
	observers := make([]*observerHandle, len(r.observers))
	copy(observers, r.observers)
	r.obsMu.Unlock()

	for _, o := range observers {
		o.fn(m)
	}
}

func indexOf(entries []PlayerRecord, id ConnectionID) int {
	for i, e := range entries {
		if e.ConnectionID == id {
			return i
		}
	}
	return -1
}
