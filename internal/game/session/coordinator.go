// Package session drives the host and client sides of a lobby session. A
// Coordinator is constructed once per process and owns whichever roster is
// active: the authoritative Roster while hosting, or the PeerView mirror while
// connected to a remote host.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/game/approval"
	"github.com/cory-johannsen/lobby/internal/game/replication"
	"github.com/cory-johannsen/lobby/internal/game/roster"
	"github.com/cory-johannsen/lobby/internal/observability"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = errors.New("invalid session state")
	// ErrJoinFailed is reported to the StartClient caller when the join does not complete.
	ErrJoinFailed = errors.New("join failed")
	// ErrRejected is the transport error for a join the host turned down.
	ErrRejected = errors.New("join rejected by host")
)

// Default display names used when the caller supplies none.
const (
	DefaultHostName   = "You"
	DefaultClientName = "Client"
)

// Options tunes a Coordinator. Zero values select package defaults.
type Options struct {
	// Capacity is the roster size at which new peers are rejected.
	Capacity int
	// MaxNameBytes caps display names.
	MaxNameBytes int
	// FeedBuffer is the per-peer replication queue depth.
	FeedBuffer int
}

// OptionsFromConfig maps the session configuration section onto Options.
func OptionsFromConfig(cfg config.SessionConfig) Options {
	return Options{
		Capacity:     cfg.Capacity,
		MaxNameBytes: cfg.MaxNameBytes,
		FeedBuffer:   cfg.FeedBuffer,
	}
}

func (o Options) withDefaults() Options {
	if o.Capacity < 1 {
		o.Capacity = approval.DefaultCapacity
	}
	if o.MaxNameBytes < 1 {
		o.MaxNameBytes = roster.DefaultMaxNameBytes
	}
	if o.FeedBuffer < 1 {
		o.FeedBuffer = replication.DefaultBufferSize
	}
	return o
}

// Coordinator runs at most one session at a time, as host or as client.
//
// All transport signals, starts and stops are serialised by one mutex, so policy
// evaluation and the roster mutation it triggers never interleave with another
// signal. Roster-changed notifications are delivered synchronously from inside
// that critical section; subscribers may call Snapshot and State but must not
// call StartHost, StartClient or Stop.
type Coordinator struct {
	listener Listener
	dialer   Dialer
	opts     Options
	logger   *zap.Logger

	mu         sync.Mutex
	gen        uint64
	log        *zap.Logger
	policy     approval.Policy
	hub        *replication.Hub
	release    func()
	unwatch    func()
	joinResult chan error

	infoMu    sync.RWMutex
	state     State
	sessionID string
	host      *roster.Roster
	view      *replication.PeerView
	done      chan struct{}
	// hostCapacity is the seat count the remote host reported on approval.
	hostCapacity int

	subMu       sync.Mutex
	subscribers []*func(roster.Mutation)
}

// NewCoordinator creates an idle Coordinator. Either transport may be nil when the
// process only ever plays the other role.
//
// Precondition: logger must be non-nil.
func NewCoordinator(listener Listener, dialer Dialer, opts Options, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		listener: listener,
		dialer:   dialer,
		opts:     opts.withDefaults(),
		logger:   logger,
		log:      logger,
	}
}

// StartHost begins hosting. The host's own record is in the roster before any
// peer can be routed to the Coordinator.
//
// Precondition: The Coordinator must be idle.
// Postcondition: On success the state is StateHostRunning and the roster holds exactly
// the host record. On error the Coordinator is idle.
func (c *Coordinator) StartHost(displayName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.State(); st != StateIdle {
		return fmt.Errorf("starting host in state %s: %w", st, ErrInvalidState)
	}
	if c.listener == nil {
		return fmt.Errorf("starting host without a listener: %w", ErrInvalidState)
	}

	c.gen++
	sessionID := uuid.NewString()
	c.log = observability.ForRole(c.logger, RoleHost, sessionID)

	hostID := c.listener.LocalID()
	r := roster.New()
	c.unwatch = r.Subscribe(c.broadcast)
	c.policy = approval.New(hostID, c.opts.Capacity)
	c.hub = replication.NewHub(r, c.opts.FeedBuffer, c.log)
	c.setInfo(StateHostRunning, sessionID, r, nil)

	name := roster.NormalizeName(displayName, c.opts.MaxNameBytes, DefaultHostName)
	if err := r.Add(roster.PlayerRecord{ConnectionID: hostID, DisplayName: name}); err != nil {
		c.teardownLocked(nil)
		return fmt.Errorf("adding host record: %w", err)
	}

	release, err := c.listener.Listen(&hostHandler{c: c, gen: c.gen})
	if err != nil {
		c.log.Error("listen failed", zap.Error(err))
		c.teardownLocked(nil)
		return fmt.Errorf("listening for peers: %w", err)
	}
	c.release = release

	c.log.Info("hosting session",
		zap.String("display_name", name),
		zap.Uint64("host_id", uint64(c.policy.HostID())),
		zap.Int("capacity", c.policy.Capacity()),
	)
	return nil
}

// StartClient dials a host and sends a join request. The returned channel receives
// exactly one value: nil once the host approves the join, or an error wrapping
// ErrJoinFailed if the connection ends first.
//
// Precondition: The Coordinator must be idle.
// Postcondition: A non-nil error means no join is in flight and the Coordinator is idle.
func (c *Coordinator) StartClient(address, displayName string) (<-chan error, error) {
	c.mu.Lock()
	if st := c.State(); st != StateIdle {
		c.mu.Unlock()
		return nil, fmt.Errorf("starting client in state %s: %w", st, ErrInvalidState)
	}
	if c.dialer == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("starting client without a dialer: %w", ErrInvalidState)
	}

	c.gen++
	gen := c.gen
	sessionID := uuid.NewString()
	log := observability.ForRole(c.logger, RoleClient, sessionID)
	c.log = log

	view := replication.NewPeerView()
	c.unwatch = view.Subscribe(c.broadcast)
	result := make(chan error, 1)
	c.joinResult = result
	c.setInfo(StateClientJoining, sessionID, nil, view)
	name := roster.NormalizeName(displayName, c.opts.MaxNameBytes, DefaultClientName)
	c.mu.Unlock()

	// Dial runs unlocked so Stop is never held up by a slow connect.
	release, err := c.dialer.Dial(address, name, &clientHandler{c: c, gen: gen})

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		// Stopped, or already failed through a callback, while dialing.
		if release != nil {
			release()
		}
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w: %w", address, ErrJoinFailed, err)
		}
		return result, nil
	}
	if err != nil {
		log.Warn("dial failed", zap.String("address", address), zap.Error(err))
		c.joinResult = nil
		c.teardownLocked(nil)
		return nil, fmt.Errorf("dialing %s: %w: %w", address, ErrJoinFailed, err)
	}
	c.release = release

	log.Info("joining session", zap.String("address", address), zap.String("display_name", name))
	return result, nil
}

// Stop ends the current session, if any: transport registrations are released, the
// active roster is cleared and discarded, and the Coordinator returns to idle. A join in
// flight is reported as failed. Safe to call more than once.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.State()
	if st == StateIdle {
		return
	}
	c.log.Info("stopping session", zap.Stringer("state", st))
	c.teardownLocked(fmt.Errorf("%w: session stopped", ErrJoinFailed))
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	return c.state
}

// Snapshot returns the active roster together with the session state.
func (c *Coordinator) Snapshot() Snapshot {
	c.infoMu.RLock()
	state, sessionID, host, view := c.state, c.sessionID, c.host, c.view
	capacity := c.opts.Capacity
	if view != nil {
		// A client reports the host's seats, or zero until the host has answered.
		capacity = c.hostCapacity
	}
	c.infoMu.RUnlock()

	var records []roster.PlayerRecord
	switch {
	case host != nil:
		records = host.Snapshot()
	case view != nil:
		records = view.Snapshot()
	}
	return Snapshot{
		State:     state,
		Role:      state.Role(),
		SessionID: sessionID,
		Capacity:  capacity,
		Players:   playersOf(records),
	}
}

// Connections returns the ids of peers with an open replication feed, in ascending
// order. It is empty unless hosting. Unlike Snapshot it reflects the transport rather
// than the roster: an approved peer appears only once its connection is established.
//
// Precondition: Must not be called from a Subscribe callback.
func (c *Coordinator) Connections() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := []uint64{}
	if c.hub == nil {
		return ids
	}
	for _, id := range c.hub.Peers() {
		ids = append(ids, uint64(id))
	}
	return ids
}

// Subscribe registers fn for every change to the active roster, across sessions. A host
// session reports its own mutations; a client session reports replicated ones. Ending a
// session is reported as a Cleared mutation when the roster was non-empty.
//
// Postcondition: Returns an idempotent cancel function.
func (c *Coordinator) Subscribe(fn func(roster.Mutation)) (cancel func()) {
	h := &fn
	c.subMu.Lock()
	c.subscribers = append(c.subscribers, h)
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			for i, s := range c.subscribers {
				if s == h {
					c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Coordinator) broadcast(m roster.Mutation) {
	c.subMu.Lock()
	subs := make([]*func(roster.Mutation), len(c.subscribers))
	copy(subs, c.subscribers)
	c.subMu.Unlock()

	for _, s := range subs {
		(*s)(m)
	}
}

// Done returns a channel that is closed when the current session ends. With no session
// running the returned channel is already closed.
func (c *Coordinator) Done() <-chan struct{} {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// setInfo publishes the session's read-side fields. Leaving idle opens a new done
// channel; returning to idle closes it.
func (c *Coordinator) setInfo(state State, sessionID string, host *roster.Roster, view *replication.PeerView) {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	c.state, c.sessionID, c.host, c.view = state, sessionID, host, view
	c.hostCapacity = 0
	switch {
	case state == StateIdle && c.done != nil:
		close(c.done)
		c.done = nil
	case state != StateIdle && c.done == nil:
		c.done = make(chan struct{})
	}
}

func (c *Coordinator) setConnected(hostCapacity int) {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	c.state = StateClientConnected
	c.hostCapacity = hostCapacity
}

// teardownLocked releases everything the current session holds and returns to idle.
// joinErr is delivered to a pending StartClient caller.
//
// Precondition: c.mu is held.
func (c *Coordinator) teardownLocked(joinErr error) {
	if c.release != nil {
		c.release()
		c.release = nil
	}
	if c.hub != nil {
		c.hub.Close()
		c.hub = nil
	}

	c.infoMu.RLock()
	host, view := c.host, c.view
	c.infoMu.RUnlock()
	if host != nil {
		host.Clear()
	}
	if view != nil {
		view.Reset()
	}
	if c.unwatch != nil {
		c.unwatch()
		c.unwatch = nil
	}
	if c.joinResult != nil {
		if joinErr == nil {
			joinErr = fmt.Errorf("%w: session ended", ErrJoinFailed)
		}
		c.joinResult <- joinErr
		c.joinResult = nil
	}

	c.gen++
	c.setInfo(StateIdle, "", nil, nil)
}

// current reports whether gen is the running session and the state is one of want.
//
// Precondition: c.mu is held.
func (c *Coordinator) current(gen uint64, want ...State) bool {
	if c.gen != gen {
		return false
	}
	st := c.State()
	for _, w := range want {
		if st == w {
			return true
		}
	}
	return false
}

// hostHandler binds transport callbacks to one hosted session so signals that
// arrive after the session ended are ignored.
type hostHandler struct {
	c   *Coordinator
	gen uint64
}

func (h *hostHandler) HandleJoinRequest(id roster.ConnectionID, displayName string) approval.Decision {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.current(h.gen, StateHostRunning) {
		return approval.Rejected(approval.ReasonClosed)
	}

	c.infoMu.RLock()
	r := c.host
	c.infoMu.RUnlock()

	name := roster.NormalizeName(displayName, c.opts.MaxNameBytes, DefaultClientName)
	d := c.policy.Evaluate(approval.Request{ConnectionID: id, DisplayName: name}, r)
	if !d.Approved {
		c.log.Info("join rejected",
			zap.Uint64("connection_id", uint64(id)),
			zap.String("display_name", name),
			zap.String("reason", string(d.Reason)),
		)
		return d
	}

	err := r.Add(roster.PlayerRecord{ConnectionID: id, DisplayName: name})
	switch {
	case errors.Is(err, roster.ErrDuplicateConnection):
		c.log.Debug("join from existing member", zap.Uint64("connection_id", uint64(id)))
	case err != nil:
		c.log.Error("adding peer", zap.Uint64("connection_id", uint64(id)), zap.Error(err))
	default:
		c.log.Info("join approved",
			zap.Uint64("connection_id", uint64(id)),
			zap.String("display_name", name),
			zap.String("reason", string(d.Reason)),
			zap.Int("players", r.Count()),
		)
	}
	return d
}

func (h *hostHandler) HandlePeerConnected(id roster.ConnectionID) (*replication.Feed, error) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.current(h.gen, StateHostRunning) {
		return nil, fmt.Errorf("peer %d connected after session ended: %w", id, ErrInvalidState)
	}
	c.infoMu.RLock()
	member := c.host.Contains(id)
	c.infoMu.RUnlock()
	if !member {
		return nil, fmt.Errorf("peer %d connected without approval: %w", id, ErrInvalidState)
	}

	feed, err := c.hub.Attach(id)
	if err != nil {
		return nil, fmt.Errorf("attaching peer %d: %w", id, err)
	}
	c.log.Debug("peer connected",
		zap.Uint64("connection_id", uint64(id)),
		zap.Int("connections", c.hub.Len()),
	)
	return feed, nil
}

func (h *hostHandler) HandlePeerDisconnected(id roster.ConnectionID) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.current(h.gen, StateHostRunning) {
		return
	}
	c.hub.Detach(id)

	c.infoMu.RLock()
	r := c.host
	c.infoMu.RUnlock()
	if r.RemoveByConnection(id) {
		c.log.Info("peer left",
			zap.Uint64("connection_id", uint64(id)),
			zap.Int("players", r.Count()),
			zap.Int("connections", c.hub.Len()),
		)
	}
}

// clientHandler binds transport callbacks to one join attempt.
type clientHandler struct {
	c   *Coordinator
	gen uint64
}

func (h *clientHandler) HandleConnected(hostCapacity int) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.current(h.gen, StateClientJoining) {
		return
	}
	c.setConnected(hostCapacity)
	if c.joinResult != nil {
		c.joinResult <- nil
		c.joinResult = nil
	}
	c.log.Info("joined session", zap.Int("host_capacity", hostCapacity))
}

func (h *clientHandler) HandleMutation(m roster.Mutation) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.current(h.gen, StateClientJoining, StateClientConnected) {
		return
	}
	c.infoMu.RLock()
	view := c.view
	c.infoMu.RUnlock()

	if err := view.Apply(m); err != nil {
		c.log.Error("replicated mutation rejected",
			zap.Stringer("kind", m.Kind),
			zap.Int("index", m.Index),
			zap.Error(err),
		)
		c.teardownLocked(fmt.Errorf("%w: %w", ErrJoinFailed, err))
	}
}

func (h *clientHandler) HandleDisconnected(err error) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.current(h.gen, StateClientJoining):
		c.log.Warn("join failed", zap.Error(err))
		if err == nil {
			err = errors.New("connection closed")
		}
		c.teardownLocked(fmt.Errorf("%w: %w", ErrJoinFailed, err))
	case c.current(h.gen, StateClientConnected):
		c.log.Info("disconnected from host", zap.Error(err))
		c.teardownLocked(nil)
	}
}
