package replication

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cory-johannsen/lobby/internal/game/roster"
)

// ErrOutOfSync is returned when a mutation cannot apply to the current view.
var ErrOutOfSync = errors.New("peer view out of sync")

// PeerView is the read-only mirror of the host roster held by a peer. It is only
// ever changed by Apply.
type PeerView struct {
	mu      sync.RWMutex
	entries []roster.PlayerRecord

	obsMu     sync.Mutex
	observers []*func(roster.Mutation)
}

// NewPeerView creates an empty view.
func NewPeerView() *PeerView {
	return &PeerView{}
}

// Apply applies one replicated mutation.
//
// Postcondition: On success observers are notified after the view is updated. On error the
// view is unchanged and the error wraps ErrOutOfSync.
func (v *PeerView) Apply(m roster.Mutation) error {
	v.mu.Lock()
	switch m.Kind {
	case roster.MutationAdded:
		if m.Index < 0 || m.Index > len(v.entries) {
			v.mu.Unlock()
			return fmt.Errorf("add at %d of %d: %w", m.Index, len(v.entries), ErrOutOfSync)
		}
		v.entries = append(v.entries, roster.PlayerRecord{})
		copy(v.entries[m.Index+1:], v.entries[m.Index:])
		v.entries[m.Index] = m.Value
	case roster.MutationRemoved:
		if m.Index < 0 || m.Index >= len(v.entries) {
			v.mu.Unlock()
			return fmt.Errorf("remove at %d of %d: %w", m.Index, len(v.entries), ErrOutOfSync)
		}
		if v.entries[m.Index] != m.Value {
			v.mu.Unlock()
			return fmt.Errorf("remove at %d: have connection %d, want %d: %w",
				m.Index, v.entries[m.Index].ConnectionID, m.Value.ConnectionID, ErrOutOfSync)
		}
		v.entries = append(v.entries[:m.Index], v.entries[m.Index+1:]...)
	case roster.MutationUpdated:
		if m.Index < 0 || m.Index >= len(v.entries) {
			v.mu.Unlock()
			return fmt.Errorf("update at %d of %d: %w", m.Index, len(v.entries), ErrOutOfSync)
		}
		v.entries[m.Index] = m.Value
	case roster.MutationCleared:
		v.entries = nil
	default:
		v.mu.Unlock()
		return fmt.Errorf("unknown mutation kind %v: %w", m.Kind, ErrOutOfSync)
	}
	v.mu.Unlock()

	v.notify(m)
	return nil
}

// Reset empties the view, notifying observers with a Cleared mutation if it held entries.
func (v *PeerView) Reset() {
	if v.Count() == 0 {
		return
	}
	_ = v.Apply(roster.Mutation{Kind: roster.MutationCleared})
}

// Count returns the number of entries.
func (v *PeerView) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// At returns the entry at index, or false when out of range.
func (v *PeerView) At(index int) (roster.PlayerRecord, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if index < 0 || index >= len(v.entries) {
		return roster.PlayerRecord{}, false
	}
	return v.entries[index], true
}

// Snapshot returns a copy of the entries in order.
func (v *PeerView) Snapshot() []roster.PlayerRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]roster.PlayerRecord, len(v.entries))
	copy(out, v.entries)
	return out
}

// Subscribe registers fn for every applied mutation and returns an idempotent cancel.
func (v *PeerView) Subscribe(fn func(roster.Mutation)) (cancel func()) {
	h := &fn
	v.obsMu.Lock()
	v.observers = append(v.observers, h)
	v.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.obsMu.Lock()
			defer v.obsMu.Unlock()
			for i, o := range v.observers {
				if o == h {
					v.observers = append(v.observers[:i], v.observers[i+1:]...)
					return
				}
			}
		})
	}
}

func (v *PeerView) notify(m roster.Mutation) {
	v.obsMu.Lock()
	observers := make([]*func(roster.Mutation), len(v.observers))
	copy(observers, v.observers)
	v.obsMu.Unlock()

	for _, o := range observers {
		(*o)(m)
	}
}
