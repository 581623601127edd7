// Package eventstest provides a gateway stub for engine/httpapi
// integration tests: an httptest.Server accepting POST
// /internal/stream-events (mirroring the real gateway's internal
// endpoint, spec.md §6.2) plus an optional websocket feed so a live
// dashboard-style consumer can be exercised in the same test, adapted
// from the teacher's internal/gateway/server.go websocket.Upgrader +
// client registry.
package eventstest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/codial-ai/codial-core/pkg/codial"
)

// GatewayStub records every event POSTed to /internal/stream-events and
// optionally fans them out to connected websocket clients.
type GatewayStub struct {
	Server *httptest.Server
	Token  string

	mu     sync.Mutex
	events []codial.StreamEvent

	upgrader websocket.Upgrader
	wsMu     sync.Mutex
	wsConns  []*websocket.Conn

	RejectStatus int // when > 0, every POST gets this status instead of 202
}

// New starts a GatewayStub. token is the expected x-internal-token
// header value; a mismatch returns 401.
func New(token string) *GatewayStub {
	g := &GatewayStub{Token: token}
	mux := http.NewServeMux()
	mux.HandleFunc("/internal/stream-events", g.handleStreamEvents)
	mux.HandleFunc("/ws", g.handleWS)
	g.Server = httptest.NewServer(mux)
	g.upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return g
}

// BaseURL returns the stub's base URL, suitable as CORE_GATEWAY_BASE_URL.
func (g *GatewayStub) BaseURL() string { return g.Server.URL }

func (g *GatewayStub) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("x-internal-token") != g.Token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if g.RejectStatus > 0 {
		w.WriteHeader(g.RejectStatus)
		return
	}

	var ev codial.StreamEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	g.events = append(g.events, ev)
	g.mu.Unlock()

	g.broadcast(ev)

	w.WriteHeader(http.StatusAccepted)
}

func (g *GatewayStub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.wsMu.Lock()
	g.wsConns = append(g.wsConns, conn)
	g.wsMu.Unlock()
}

func (g *GatewayStub) broadcast(ev codial.StreamEvent) {
	g.wsMu.Lock()
	defer g.wsMu.Unlock()
	for _, c := range g.wsConns {
		_ = c.WriteJSON(ev)
	}
}

// Events returns a snapshot of every event received so far, in arrival
// order.
func (g *GatewayStub) Events() []codial.StreamEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]codial.StreamEvent, len(g.events))
	copy(out, g.events)
	return out
}

// EventsFor filters Events() to one (session_id, turn_id) pair, the
// ordering guarantee spec.md invariant 4 cares about.
func (g *GatewayStub) EventsFor(sessionID, turnID string) []codial.StreamEvent {
	var out []codial.StreamEvent
	for _, ev := range g.Events() {
		if ev.SessionID == sessionID && ev.TurnID == turnID {
			out = append(out, ev)
		}
	}
	return out
}

// Close tears down the stub server and any websocket connections.
func (g *GatewayStub) Close() {
	g.wsMu.Lock()
	for _, c := range g.wsConns {
		_ = c.Close()
	}
	g.wsMu.Unlock()
	g.Server.Close()
}
