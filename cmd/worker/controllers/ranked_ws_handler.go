package controllers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	out "github.com/frontierwars/session-engine/pkg/domain/session/ports/out"
	infrawebsocket "github.com/frontierwars/session-engine/pkg/infra/websocket"
)

// RankedWebSocketHandler upgrades GET /ranked/stream onto the RankedHub: a browser
// WebSocket client cannot set an Authorization header on the handshake request, so
// the bearer token travels as the "token" query parameter instead, grounded on the
// teacher's lobby WS handler taking its auth from the upgrade request itself.
type RankedWebSocketHandler struct {
	hub      *infrawebsocket.RankedHub
	verifier out.TokenVerifier
	upgrader websocket.Upgrader
}

func NewRankedWebSocketHandler(hub *infrawebsocket.RankedHub, verifier out.TokenVerifier) *RankedWebSocketHandler {
	return &RankedWebSocketHandler{
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *RankedWebSocketHandler) UpgradeConnection(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		grant, err := h.verifier.Verify(ctx, token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		playerID, err := uuid.Parse(grant.ExternalID)
		if err != nil {
			http.Error(w, "external id is not a valid player id", http.StatusUnauthorized)
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.ErrorContext(ctx, "failed to upgrade ranked WebSocket connection", "error", err)
			return
		}

		client := &infrawebsocket.RankedClient{
			PlayerID: playerID,
			Conn:     conn,
			Send:     make(chan *infrawebsocket.RankedMessage, 16),
		}

		h.hub.RegisterClient(client)
		go client.WritePump()
		client.ReadPump(h.hub)
	}
}
