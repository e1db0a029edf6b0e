// Package httpapi serves the session roster to local UIs over HTTP and websocket.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/game/roster"
	"github.com/cory-johannsen/lobby/internal/game/session"
)

// RosterSource is the read side of a session.Coordinator.
type RosterSource interface {
	Snapshot() session.Snapshot
	Subscribe(fn func(roster.Mutation)) (cancel func())
	Connections() []uint64
}

// Routes builds the HTTP handler:
//
//	GET /healthz    liveness plus the session state
//	GET /roster     JSON snapshot
//	GET /roster/ws  websocket feed: a snapshot, then one message per roster change
//	GET /connections  peer ids with an open transport connection (host only)
func Routes(src RosterSource, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz(src))
	r.Get("/roster", RosterSnapshot(src))
	r.Get("/roster/ws", RosterFeed(src, logger, DefaultFeedBuffer))
	r.Get("/connections", ConnectionList(src))
	return r
}

// Healthz reports liveness and the coordinator state.
func Healthz(src RosterSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"state":  src.Snapshot().State,
		})
	}
}

// RosterSnapshot writes the current snapshot as JSON.
func RosterSnapshot(src RosterSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, src.Snapshot())
	}
}

// ConnectionList writes the transport-level peer list, which can differ from the roster
// while a peer is between approval and connect.
func ConnectionList(src RosterSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ids := src.Connections()
		if ids == nil {
			ids = []uint64{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"state":       src.Snapshot().State,
			"connections": ids,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
