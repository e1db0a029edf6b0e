package session_test

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/lobby/internal/game/approval"
	"github.com/cory-johannsen/lobby/internal/game/replication"
	"github.com/cory-johannsen/lobby/internal/game/roster"
	"github.com/cory-johannsen/lobby/internal/game/session"
	"github.com/cory-johannsen/lobby/internal/testutil"
)

func player(id uint64, name string) session.Player {
	return session.Player{ConnectionID: id, DisplayName: name}
}

type mutationLog struct {
	mu   sync.Mutex
	muts []roster.Mutation
}

func (l *mutationLog) record(m roster.Mutation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.muts = append(l.muts, m)
}

func (l *mutationLog) kinds() []roster.MutationKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]roster.MutationKind, len(l.muts))
	for i, m := range l.muts {
		out[i] = m.Kind
	}
	return out
}

func newHost(t *testing.T, hostID roster.ConnectionID, capacity int) (*session.Coordinator, *testutil.ScriptedListener) {
	t.Helper()
	l := testutil.NewScriptedListener(hostID)
	c := session.NewCoordinator(l, nil, session.Options{Capacity: capacity}, zaptest.NewLogger(t))
	t.Cleanup(c.Stop)
	return c, l
}

func TestCoordinator_HostScenario(t *testing.T) {
	c, l := newHost(t, 1, 4)
	require.NoError(t, c.StartHost("Host"))
	assert.Equal(t, []session.Player{player(1, "Host")}, c.Snapshot().Players)

	for _, p := range []struct {
		id   roster.ConnectionID
		name string
	}{{2, "Alice"}, {3, "Bob"}, {4, "Carol"}} {
		d, feed, err := l.Join(p.id, p.name)
		require.NoError(t, err)
		assert.True(t, d.Approved, "%s should be approved", p.name)
		assert.NotNil(t, feed)
	}
	assert.Len(t, c.Snapshot().Players, 4)

	d, feed, err := l.Join(5, "Eve")
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Equal(t, approval.ReasonCapacity, d.Reason)
	assert.ErrorIs(t, d.Err(), approval.ErrCapacityExceeded)
	assert.Nil(t, feed)
	assert.Len(t, c.Snapshot().Players, 4)

	require.NoError(t, l.Disconnect(2))
	assert.Equal(t, []session.Player{
		player(1, "Host"),
		player(3, "Bob"),
		player(4, "Carol"),
	}, c.Snapshot().Players)
}

func TestCoordinator_HostSnapshot(t *testing.T) {
	c, _ := newHost(t, 0, 3)
	snap := c.Snapshot()
	assert.Equal(t, session.StateIdle, snap.State)
	assert.Empty(t, snap.Role)
	assert.Empty(t, snap.Players)

	require.NoError(t, c.StartHost(""))
	snap = c.Snapshot()
	assert.Equal(t, session.StateHostRunning, snap.State)
	assert.Equal(t, session.RoleHost, snap.Role)
	assert.Equal(t, 3, snap.Capacity)
	assert.Len(t, snap.SessionID, 36)
	assert.Equal(t, []session.Player{player(0, session.DefaultHostName)}, snap.Players)
}

func TestCoordinator_DuplicateJoinIsApprovedOnce(t *testing.T) {
	c, l := newHost(t, 0, 2)
	require.NoError(t, c.StartHost("Host"))

	var log mutationLog
	defer c.Subscribe(log.record)()

	d, _, err := l.Join(7, "Alice")
	require.NoError(t, err)
	assert.Equal(t, approval.ReasonOpen, d.Reason)

	// The roster is now full; the existing member is still approved.
	d, _, err = l.Join(7, "Alice")
	require.NoError(t, err)
	assert.True(t, d.Approved)
	assert.Equal(t, approval.ReasonMember, d.Reason)

	assert.Len(t, c.Snapshot().Players, 2)
	assert.Equal(t, []roster.MutationKind{roster.MutationAdded}, log.kinds())
}

func TestCoordinator_DisconnectUnknownIsNoop(t *testing.T) {
	c, l := newHost(t, 0, 4)
	require.NoError(t, c.StartHost("Host"))

	var log mutationLog
	defer c.Subscribe(log.record)()

	require.NoError(t, l.Disconnect(42))
	require.NoError(t, l.Disconnect(42))
	assert.Empty(t, log.kinds())
	assert.Len(t, c.Snapshot().Players, 1)
}

func TestCoordinator_NamesAreNormalised(t *testing.T) {
	c, l := newHost(t, 0, 4)
	require.NoError(t, c.StartHost("  Host  "))

	_, _, err := l.Join(1, "")
	require.NoError(t, err)
	_, _, err = l.Join(2, strings.Repeat("x", 40))
	require.NoError(t, err)

	assert.Equal(t, []session.Player{
		player(0, "Host"),
		player(1, session.DefaultClientName),
		player(2, strings.Repeat("x", roster.DefaultMaxNameBytes)),
	}, c.Snapshot().Players)
}

func TestCoordinator_LateJoinerFeedReplaysRoster(t *testing.T) {
	c, l := newHost(t, 0, 4)
	require.NoError(t, c.StartHost("Host"))

	_, alice, err := l.Join(1, "Alice")
	require.NoError(t, err)
	_, bob, err := l.Join(2, "Bob")
	require.NoError(t, err)

	view := replication.NewPeerView()
	for len(bob.Mutations()) > 0 {
		require.NoError(t, view.Apply(<-bob.Mutations()))
	}
	assert.Equal(t, []roster.PlayerRecord{
		{ConnectionID: 0, DisplayName: "Host"},
		{ConnectionID: 1, DisplayName: "Alice"},
		{ConnectionID: 2, DisplayName: "Bob"},
	}, view.Snapshot())

	// Alice saw the host seed, herself, then Bob arriving.
	assert.Len(t, alice.Mutations(), 3)
}

func TestCoordinator_StartHostTwice(t *testing.T) {
	c, _ := newHost(t, 0, 4)
	require.NoError(t, c.StartHost("Host"))
	assert.ErrorIs(t, c.StartHost("Host"), session.ErrInvalidState)

	_, err := c.StartClient("127.0.0.1:7777", "Client")
	assert.ErrorIs(t, err, session.ErrInvalidState)
}

func TestCoordinator_StartHostListenError(t *testing.T) {
	c, l := newHost(t, 0, 4)
	l.ListenErr = errors.New("address in use")

	var log mutationLog
	defer c.Subscribe(log.record)()

	err := c.StartHost("Host")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	assert.Equal(t, session.StateIdle, c.State())
	assert.Empty(t, c.Snapshot().Players)
	assert.Equal(t, []roster.MutationKind{roster.MutationAdded, roster.MutationCleared}, log.kinds())
}

func TestCoordinator_StartWithoutTransport(t *testing.T) {
	c := session.NewCoordinator(nil, nil, session.Options{}, zaptest.NewLogger(t))
	assert.ErrorIs(t, c.StartHost("Host"), session.ErrInvalidState)
	_, err := c.StartClient("127.0.0.1:7777", "Client")
	assert.ErrorIs(t, err, session.ErrInvalidState)
}

func TestCoordinator_StopHost(t *testing.T) {
	c, l := newHost(t, 0, 4)
	require.NoError(t, c.StartHost("Host"))
	_, feed, err := l.Join(1, "Alice")
	require.NoError(t, err)
	stale := l.Handler()

	var log mutationLog
	defer c.Subscribe(log.record)()

	c.Stop()
	c.Stop()

	assert.Equal(t, session.StateIdle, c.State())
	assert.Empty(t, c.Snapshot().Players)
	assert.Equal(t, 1, l.Releases())
	assert.Nil(t, l.Handler())
	assert.True(t, feed.IsClosed())
	assert.Equal(t, []roster.MutationKind{roster.MutationCleared}, log.kinds())

	// Signals from the torn-down session are ignored.
	d := stale.HandleJoinRequest(9, "Late")
	assert.False(t, d.Approved)
	assert.Equal(t, approval.ReasonClosed, d.Reason)
	_, err = stale.HandlePeerConnected(1)
	assert.ErrorIs(t, err, session.ErrInvalidState)
	stale.HandlePeerDisconnected(1)

	// A fresh session starts from an empty roster.
	require.NoError(t, c.StartHost("Again"))
	assert.Equal(t, []session.Player{player(0, "Again")}, c.Snapshot().Players)
}

func TestCoordinator_Connections(t *testing.T) {
	c, l := newHost(t, 0, 4)
	assert.Equal(t, []uint64{}, c.Connections())

	require.NoError(t, c.StartHost("Host"))
	assert.Equal(t, []uint64{}, c.Connections(), "the host has no feed of its own")

	for _, id := range []roster.ConnectionID{3, 1} {
		_, _, err := l.Join(id, fmt.Sprintf("P%d", id))
		require.NoError(t, err)
	}
	// Approved but never connected: in the roster, not in the connection list.
	d := l.Handler().HandleJoinRequest(8, "Pending")
	require.True(t, d.Approved)

	assert.Equal(t, []uint64{1, 3}, c.Connections())
	assert.Len(t, c.Snapshot().Players, 4)

	require.NoError(t, l.Disconnect(3))
	assert.Equal(t, []uint64{1}, c.Connections())

	c.Stop()
	assert.Equal(t, []uint64{}, c.Connections())
}

func TestCoordinator_PeerConnectedWithoutApproval(t *testing.T) {
	c, l := newHost(t, 0, 4)
	require.NoError(t, c.StartHost("Host"))
	_, err := l.Handler().HandlePeerConnected(3)
	assert.ErrorIs(t, err, session.ErrInvalidState)
}

func TestCoordinator_SubscriberMayReadSnapshot(t *testing.T) {
	c, l := newHost(t, 0, 4)

	var counts []int
	cancel := c.Subscribe(func(roster.Mutation) {
		counts = append(counts, len(c.Snapshot().Players))
	})
	require.NoError(t, c.StartHost("Host"))
	_, _, err := l.Join(1, "Alice")
	require.NoError(t, err)
	require.NoError(t, l.Disconnect(1))
	c.Stop()

	assert.Equal(t, []int{1, 2, 1, 0}, counts)
	cancel()
	cancel()
}

func newClient(t *testing.T) (*session.Coordinator, *testutil.ScriptedDialer) {
	t.Helper()
	d := &testutil.ScriptedDialer{}
	c := session.NewCoordinator(nil, d, session.Options{}, zaptest.NewLogger(t))
	t.Cleanup(c.Stop)
	return c, d
}

func receive(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("no join result")
		return nil
	}
}

func TestCoordinator_ClientJoinAndReplicate(t *testing.T) {
	c, d := newClient(t)

	var log mutationLog
	defer c.Subscribe(log.record)()

	result, err := c.StartClient("10.0.0.1:7777", "")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:7777", d.Address())
	assert.Equal(t, session.DefaultClientName, d.DisplayName())
	assert.Equal(t, session.StateClientJoining, c.State())
	assert.Equal(t, session.RoleClient, c.Snapshot().Role)
	assert.Zero(t, c.Snapshot().Capacity, "host capacity is unknown until approval")

	h := d.Handler()
	h.HandleConnected(2)
	require.NoError(t, receive(t, result))
	assert.Equal(t, session.StateClientConnected, c.State())
	assert.Empty(t, c.Snapshot().Players, "connecting adds nothing locally")
	assert.Equal(t, 2, c.Snapshot().Capacity, "client reports the host's seats, not its own")

	h.HandleMutation(roster.Mutation{Kind: roster.MutationAdded, Index: 0, Value: roster.PlayerRecord{ConnectionID: 0, DisplayName: "Host"}})
	h.HandleMutation(roster.Mutation{Kind: roster.MutationAdded, Index: 1, Value: roster.PlayerRecord{ConnectionID: 3, DisplayName: "Client"}})
	assert.Equal(t, []session.Player{player(0, "Host"), player(3, "Client")}, c.Snapshot().Players)

	h.HandleDisconnected(errors.New("stream closed"))
	assert.Equal(t, session.StateIdle, c.State())
	assert.Empty(t, c.Snapshot().Players)
	assert.True(t, d.Released())
	assert.Equal(t, []roster.MutationKind{
		roster.MutationAdded,
		roster.MutationAdded,
		roster.MutationCleared,
	}, log.kinds())

	// Late callbacks from the finished connection are ignored.
	h.HandleMutation(roster.Mutation{Kind: roster.MutationAdded, Index: 0, Value: roster.PlayerRecord{ConnectionID: 9}})
	h.HandleConnected(2)
	assert.Empty(t, c.Snapshot().Players)
	assert.Equal(t, session.StateIdle, c.State())
}

func TestCoordinator_ClientRejected(t *testing.T) {
	c, d := newClient(t)
	result, err := c.StartClient("host:7777", "Eve")
	require.NoError(t, err)

	d.Handler().HandleDisconnected(fmt.Errorf("%w: capacity", session.ErrRejected))
	err = receive(t, result)
	assert.ErrorIs(t, err, session.ErrJoinFailed)
	assert.ErrorIs(t, err, session.ErrRejected)
	assert.Equal(t, session.StateIdle, c.State())
}

func TestCoordinator_ClientDisconnectWithoutCause(t *testing.T) {
	c, d := newClient(t)
	result, err := c.StartClient("host:7777", "Eve")
	require.NoError(t, err)

	d.Handler().HandleDisconnected(nil)
	assert.ErrorIs(t, receive(t, result), session.ErrJoinFailed)
}

func TestCoordinator_ClientDialError(t *testing.T) {
	c, d := newClient(t)
	d.DialErr = errors.New("no route to host")

	result, err := c.StartClient("host:7777", "Eve")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, session.ErrJoinFailed)
	assert.Contains(t, err.Error(), "no route to host")
	assert.Equal(t, session.StateIdle, c.State())

	// The coordinator is reusable after a failed dial.
	d.DialErr = nil
	_, err = c.StartClient("host:7777", "Eve")
	assert.NoError(t, err)
}

func TestCoordinator_ClientOutOfSync(t *testing.T) {
	c, d := newClient(t)
	result, err := c.StartClient("host:7777", "Eve")
	require.NoError(t, err)
	d.Handler().HandleConnected(4)
	require.NoError(t, receive(t, result))

	d.Handler().HandleMutation(roster.Mutation{Kind: roster.MutationRemoved, Index: 4, Value: roster.PlayerRecord{ConnectionID: 1}})
	assert.Equal(t, session.StateIdle, c.State())
	assert.True(t, d.Released())
}

func TestRejectionError(t *testing.T) {
	err := session.RejectionError(approval.Decision{Reason: approval.ReasonCapacity, Capacity: 4})
	assert.ErrorIs(t, err, session.ErrRejected)
	assert.ErrorIs(t, err, approval.ErrCapacityExceeded)
	assert.Contains(t, err.Error(), "capacity")

	err = session.RejectionError(approval.Rejected(approval.ReasonClosed))
	assert.ErrorIs(t, err, session.ErrRejected)
	assert.NotErrorIs(t, err, approval.ErrCapacityExceeded)
	assert.Contains(t, err.Error(), "closed")
}

func TestCoordinator_Done(t *testing.T) {
	c, d := newClient(t)
	select {
	case <-c.Done():
	default:
		t.Fatal("idle coordinator should report done")
	}

	_, err := c.StartClient("host:7777", "Eve")
	require.NoError(t, err)
	done := c.Done()
	select {
	case <-done:
		t.Fatal("done closed while joining")
	default:
	}

	d.Handler().HandleDisconnected(errors.New("reset"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done not closed after disconnect")
	}
}

func TestCoordinator_StopWhileJoining(t *testing.T) {
	c, d := newClient(t)
	result, err := c.StartClient("host:7777", "Eve")
	require.NoError(t, err)

	c.Stop()
	assert.ErrorIs(t, receive(t, result), session.ErrJoinFailed)
	assert.True(t, d.Released())

	d.Handler().HandleConnected(4)
	assert.Equal(t, session.StateIdle, c.State())
}

func TestCoordinator_Loopback(t *testing.T) {
	lb := testutil.NewLoopback(0, 1)
	host := session.NewCoordinator(lb, nil, session.Options{Capacity: 3}, zaptest.NewLogger(t))
	require.NoError(t, host.StartHost("Host"))

	clients := make([]*session.Coordinator, 3)
	results := make([]<-chan error, 3)
	for i, name := range []string{"Alice", "Bob", "Eve"} {
		clients[i] = session.NewCoordinator(nil, lb, session.Options{}, zaptest.NewLogger(t))
		var err error
		results[i], err = clients[i].StartClient("loopback", name)
		require.NoError(t, err)
		// Join one at a time so connection ids follow dial order.
		if i < 2 {
			require.NoError(t, receive(t, results[i]))
		}
	}
	rejected := receive(t, results[2])
	assert.ErrorIs(t, rejected, session.ErrRejected)
	assert.ErrorIs(t, rejected, approval.ErrCapacityExceeded)

	want := []session.Player{player(0, "Host"), player(1, "Alice"), player(2, "Bob")}
	assert.Equal(t, want, host.Snapshot().Players)
	for _, c := range clients[:2] {
		require.Eventually(t, func() bool {
			return assert.ObjectsAreEqual(want, c.Snapshot().Players)
		}, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, 3, c.Snapshot().Capacity)
	}

	// A client leaving is replicated to the others.
	clients[0].Stop()
	require.Eventually(t, func() bool {
		return len(host.Snapshot().Players) == 2 && len(clients[1].Snapshot().Players) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []session.Player{player(0, "Host"), player(2, "Bob")}, clients[1].Snapshot().Players)

	// The host going away returns the remaining client to idle.
	host.Stop()
	require.Eventually(t, func() bool {
		return clients[1].State() == session.StateIdle
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, clients[1].Snapshot().Players)
	lb.Wait()
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "idle", session.StateIdle.String())
	assert.Equal(t, "client_connected", session.StateClientConnected.String())
	assert.Equal(t, "state(9)", session.State(9).String())
	text, err := session.StateHostRunning.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "host_running", string(text))
}

func TestPropertyHostRosterStaysWithinCapacity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 6).Draw(t, "capacity")
		l := testutil.NewScriptedListener(0)
		c := session.NewCoordinator(l, nil, session.Options{Capacity: capacity}, zap.NewNop())
		if err := c.StartHost("Host"); err != nil {
			t.Fatalf("start host: %v", err)
		}
		defer c.Stop()

		ops := rapid.IntRange(0, 40).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			id := roster.ConnectionID(rapid.IntRange(1, 10).Draw(t, "id"))
			if rapid.Bool().Draw(t, "join") {
				if _, _, err := l.Join(id, fmt.Sprintf("P%d", id)); err != nil {
					t.Fatalf("join %d: %v", id, err)
				}
			} else if err := l.Disconnect(id); err != nil {
				t.Fatalf("disconnect %d: %v", id, err)
			}

			players := c.Snapshot().Players
			if len(players) > capacity {
				t.Fatalf("roster %d exceeds capacity %d", len(players), capacity)
			}
			if players[0] != player(0, "Host") {
				t.Fatalf("host record displaced: %+v", players[0])
			}
			seen := make(map[uint64]bool)
			for _, p := range players {
				if seen[p.ConnectionID] {
					t.Fatalf("duplicate connection %d", p.ConnectionID)
				}
				seen[p.ConnectionID] = true
			}
		}
	})
}
