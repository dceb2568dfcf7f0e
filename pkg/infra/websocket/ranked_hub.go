// Package websocket provides the WebSocket adapters between the domain layer's
// stream-agnostic interfaces and gorilla/websocket connections, grounded on the
// teacher's pkg/infra/websocket/hub.go register/unregister/broadcast pattern.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	rankedentities "github.com/frontierwars/session-engine/pkg/domain/ranked/entities"
)

// RankedMessage is the wire format pushed to a subscriber of /ranked/stream.
type RankedMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// RankedClient is one player's live /ranked/stream connection.
type RankedClient struct {
	PlayerID uuid.UUID
	Conn     *websocket.Conn
	Send     chan *RankedMessage
}

// RankedHub fans ticket/match updates out to every connection subscribed for a given
// player id -- the concrete implementation of ports/out.RankedStreamPublisher.
type RankedHub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*RankedClient]struct{}

	register   chan *RankedClient
	unregister chan *RankedClient
}

func NewRankedHub() *RankedHub {
	return &RankedHub{
		clients:    make(map[uuid.UUID]map[*RankedClient]struct{}),
		register:   make(chan *RankedClient, 256),
		unregister: make(chan *RankedClient, 256),
	}
}

func (h *RankedHub) RegisterClient(c *RankedClient) {
	h.register <- c
}

func (h *RankedHub) UnregisterClient(c *RankedClient) {
	h.unregister <- c
}

// Run processes registrations/unregistrations until ctx is cancelled. Broadcasts
// happen synchronously from PublishTicketUpdate, not through this loop, since a
// ticket update must reach its one subscribed player immediately rather than wait
// for a channel hop.
func (h *RankedHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *RankedHub) addClient(c *RankedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.PlayerID]; !ok {
		h.clients[c.PlayerID] = make(map[*RankedClient]struct{})
	}
	h.clients[c.PlayerID][c] = struct{}{}
}

func (h *RankedHub) removeClient(c *RankedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.clients[c.PlayerID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.PlayerID)
		}
	}
	close(c.Send)
}

func (h *RankedHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, set := range h.clients {
		for c := range set {
			close(c.Send)
		}
	}
	h.clients = make(map[uuid.UUID]map[*RankedClient]struct{})
}

// PublishTicketUpdate implements ports/out.RankedStreamPublisher: it reaches only the
// ticket's own player, never broadcasting match details to the opponent.
func (h *RankedHub) PublishTicketUpdate(ticket rankedentities.QueueTicket, match *rankedentities.MatchInfo) {
	payload, err := json.Marshal(struct {
		Ticket rankedentities.QueueTicket `json:"ticket"`
		Match  *rankedentities.MatchInfo  `json:"match,omitempty"`
	}{Ticket: ticket, Match: match})
	if err != nil {
		slog.Error("ranked hub: failed to marshal ticket update", "ticket_id", ticket.ID, "error", err)
		return
	}

	msg := &RankedMessage{
		Type:      "ticket_update",
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[ticket.PlayerID] {
		select {
		case c.Send <- msg:
		default:
			slog.Warn("ranked hub: client send buffer full", "player_id", ticket.PlayerID)
		}
	}
}

// WritePump drains c.Send to the underlying connection until it is closed.
func (c *RankedClient) WritePump() {
	defer c.Conn.Close()

	for msg := range c.Send {
		if err := c.Conn.WriteJSON(msg); err != nil {
			slog.Error("ranked hub: write error", "player_id", c.PlayerID, "error", err)
			return
		}
	}
	_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// ReadPump discards inbound frames (the ranked stream is server-push only) and
// unregisters the client once the connection drops.
func (c *RankedClient) ReadPump(hub *RankedHub) {
	defer hub.UnregisterClient(c)

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
