package httpapi

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/cory-johannsen/lobby/internal/game/roster"
	"github.com/cory-johannsen/lobby/internal/game/session"
)

// DefaultFeedBuffer is the number of undelivered messages a websocket client may
// fall behind before it is disconnected.
const DefaultFeedBuffer = 16

const writeTimeout = 3 * time.Second

// Feed message types.
const (
	MessageSnapshot = "snapshot"
	MessageChanged  = "roster_changed"
)

// MutationView is the JSON form of a roster mutation.
type MutationView struct {
	Kind         string  `json:"kind"`
	Index        int     `json:"index"`
	ConnectionID *uint64 `json:"connection_id,omitempty"`
	DisplayName  string  `json:"display_name,omitempty"`
}

// FeedMessage is one websocket frame.
type FeedMessage struct {
	Type     string           `json:"type"`
	Mutation *MutationView    `json:"mutation,omitempty"`
	Snapshot session.Snapshot `json:"snapshot"`
}

func mutationView(m roster.Mutation) *MutationView {
	v := &MutationView{Kind: m.Kind.String(), Index: m.Index}
	if m.HasValue() {
		id := uint64(m.Value.ConnectionID)
		v.ConnectionID = &id
		v.DisplayName = m.Value.DisplayName
	}
	return v
}

// RosterFeed upgrades to a websocket and streams roster changes. Each message carries
// the mutation and the snapshot taken right after it. A client more than buffer
// messages behind is closed with StatusPolicyViolation.
func RosterFeed(src RosterSource, logger *zap.Logger, buffer int) http.HandlerFunc {
	if buffer < 1 {
		buffer = DefaultFeedBuffer
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusInternalError, "feed ended")

		// The feed is write-only; CloseRead handles pings and the peer's close frame.
		ctx := conn.CloseRead(r.Context())

		out := make(chan FeedMessage, buffer)
		dropped := make(chan struct{})
		var overflow atomic.Bool
		unsubscribe := src.Subscribe(func(m roster.Mutation) {
			msg := FeedMessage{Type: MessageChanged, Mutation: mutationView(m), Snapshot: src.Snapshot()}
			select {
			case out <- msg:
			default:
				if overflow.CompareAndSwap(false, true) {
					close(dropped)
				}
			}
		})
		defer unsubscribe()

		if err := write(ctx, conn, FeedMessage{Type: MessageSnapshot, Snapshot: src.Snapshot()}); err != nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			case <-dropped:
				logger.Info("dropping slow roster feed client", zap.String("remote", r.RemoteAddr))
				conn.Close(websocket.StatusPolicyViolation, "client too slow")
				return
			case msg := <-out:
				if err := write(ctx, conn, msg); err != nil {
					logger.Debug("roster feed write failed", zap.Error(err))
					return
				}
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg FeedMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
