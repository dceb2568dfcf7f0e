package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
	"github.com/frontierwars/session-engine/pkg/domain/session/manager"
	out "github.com/frontierwars/session-engine/pkg/domain/session/ports/out"
	"github.com/frontierwars/session-engine/pkg/domain/session/services"
)

// Close codes per the session stream protocol.
const (
	closeNormal   = 1000
	closeProtocol = 1002
	closeInternal = 1011
)

// wsStreamHandle is the gorilla/websocket implementation of entities.StreamHandle --
// the session's only window onto a live connection.
type wsStreamHandle struct {
	mu   sync.Mutex
	conn *websocket.Conn
	ip   string
}

func (h *wsStreamHandle) Send(message []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn.WriteMessage(websocket.TextMessage, message)
}

func (h *wsStreamHandle) Close(code int, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	deadline := time.Now().Add(2 * time.Second)
	_ = h.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return h.conn.Close()
}

func (h *wsStreamHandle) RemoteIP() string { return h.ip }

var _ entities.StreamHandle = (*wsStreamHandle)(nil)

// inboundEnvelope covers every client->server message shape; unused fields are left
// at their zero value depending on Type.
type inboundEnvelope struct {
	Type            string                     `json:"type"`
	SessionID       string                     `json:"sessionId,omitempty"`
	Token           string                     `json:"token,omitempty"`
	ClientID        string                     `json:"clientId,omitempty"`
	Username        string                     `json:"username,omitempty"`
	Cosmetics       []string                   `json:"cosmetics,omitempty"`
	LastTurn        int                        `json:"lastTurn,omitempty"`
	Intent          *entities.Intent           `json:"intent,omitempty"`
	TurnNumber      int                        `json:"turnNumber,omitempty"`
	Hash            uint64                     `json:"hash,omitempty"`
	Winner          *entities.WinnerDescriptor `json:"winner,omitempty"`
	AllPlayersStats map[string]interface{}     `json:"allPlayersStats,omitempty"`
}

type startMessage struct {
	Type           string                 `json:"type"`
	GameStartInfo  entities.SessionConfig `json:"gameStartInfo"`
	Turns          []entities.Turn        `json:"turns"`
	LobbyCreatedAt time.Time              `json:"lobbyCreatedAt"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SessionWebSocketHandler upgrades `/stream` requests onto a SessionServer, grounded
// on the teacher's lobby_ws_handler.go register/read-pump/write-pump shape. Unlike the
// teacher's lobby hub, the session itself owns per-client broadcast (broadcastLocked),
// so this handler only needs to admit the connection and pump inbound frames into the
// session's Submit* methods -- there is no separate fan-out hub to register with.
type SessionWebSocketHandler struct {
	manager  *manager.SessionManager
	verifier out.TokenVerifier
	upgrader websocket.Upgrader
}

func NewSessionWebSocketHandler(mgr *manager.SessionManager, verifier out.TokenVerifier) *SessionWebSocketHandler {
	return &SessionWebSocketHandler{
		manager:  mgr,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// UpgradeConnection handles the full lifetime of one session stream connection: the
// join/rejoin handshake, then the steady-state ping/intent/hash/winner dispatch loop.
func (h *SessionWebSocketHandler) UpgradeConnection(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.ErrorContext(ctx, "failed to upgrade session WebSocket connection", "error", err)
			return
		}

		stream := &wsStreamHandle{conn: conn, ip: clientIP(r)}

		session, clientID, err := h.handshake(ctx, stream, conn)
		if err != nil {
			slog.WarnContext(ctx, "session WebSocket handshake rejected", "error", err)
			return
		}

		h.pump(ctx, session, clientID, stream, conn)
	}
}

// handshake reads exactly one message, expects join or rejoin, and returns the
// session + clientID the connection is now attached to. Any failure closes the
// connection with the appropriate close code and returns an error.
func (h *SessionWebSocketHandler) handshake(ctx context.Context, stream *wsStreamHandle, conn *websocket.Conn) (*services.SessionServer, string, error) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		_ = stream.Close(closeProtocol, "no handshake message")
		return nil, "", err
	}

	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.sendError(stream, "invalid_schema", "message is not valid JSON")
		_ = stream.Close(closeProtocol, "invalid_schema")
		return nil, "", err
	}

	switch env.Type {
	case "join":
		return h.handleJoin(ctx, stream, env)
	case "rejoin":
		return h.handleRejoin(stream, env)
	default:
		h.sendError(stream, "invalid_schema", "first message must be join or rejoin")
		_ = stream.Close(closeProtocol, "invalid_schema")
		return nil, "", errors.New("session websocket: expected join or rejoin")
	}
}

func (h *SessionWebSocketHandler) handleJoin(ctx context.Context, stream *wsStreamHandle, env inboundEnvelope) (*services.SessionServer, string, error) {
	sessionID, err := uuid.Parse(env.SessionID)
	if err != nil {
		h.sendError(stream, "invalid_schema", "sessionId is not a valid id")
		_ = stream.Close(closeProtocol, "invalid_schema")
		return nil, "", err
	}

	var grant *entities.AccessGrant
	if env.Token != "" {
		grant, err = h.verifier.Verify(ctx, env.Token)
		if err != nil {
			h.sendError(stream, "unauthorized", "token rejected")
			_ = stream.Close(closeProtocol, "unauthorized")
			return nil, "", err
		}
	}

	session, ok := h.manager.Lookup(sessionID)
	if !ok {
		h.sendError(stream, "not_found", "session does not exist on this worker")
		_ = stream.Close(closeProtocol, "not_found")
		return nil, "", errors.New("session websocket: unknown session")
	}

	// The wire protocol carries a single "clientId" on join; it doubles as both the
	// per-stream id and the persistent id for this, its first, connection. A later
	// reconnect presents the same value as rejoin's "clientId", which is matched
	// against the persistent id recorded here.
	client := entities.NewClient(env.ClientID, env.ClientID, stream.ip, env.Username, env.Cosmetics, grant, stream)

	turns, err := session.JoinClient(client, true, env.LastTurn)
	if err != nil {
		h.sendError(stream, "join_rejected", err.Error())
		_ = stream.Close(closeProtocol, err.Error())
		return nil, "", err
	}

	if turns != nil {
		h.sendStart(stream, session, turns)
	}

	return session, env.ClientID, nil
}

func (h *SessionWebSocketHandler) handleRejoin(stream *wsStreamHandle, env inboundEnvelope) (*services.SessionServer, string, error) {
	sessionID, err := uuid.Parse(env.SessionID)
	if err != nil {
		h.sendError(stream, "invalid_schema", "sessionId is not a valid id")
		_ = stream.Close(closeProtocol, "invalid_schema")
		return nil, "", err
	}

	session, ok := h.manager.Lookup(sessionID)
	if !ok {
		h.sendError(stream, "not_found", "session does not exist on this worker")
		_ = stream.Close(closeProtocol, "not_found")
		return nil, "", errors.New("session websocket: unknown session")
	}

	turns, err := session.RejoinClient(stream, env.ClientID, env.LastTurn)
	if err != nil {
		h.sendError(stream, "rejoin_rejected", err.Error())
		_ = stream.Close(closeProtocol, err.Error())
		return nil, "", err
	}

	if turns != nil {
		h.sendStart(stream, session, turns)
	}

	return session, env.ClientID, nil
}

// pump is the steady-state read loop: every further frame is a ping/intent/hash/
// winner dispatched straight into the session under its own lock. There is no write
// pump here since the session already pushes turns/desyncs directly through stream.
func (h *SessionWebSocketHandler) pump(ctx context.Context, session *services.SessionServer, clientID string, stream *wsStreamHandle, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env inboundEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			h.sendError(stream, "invalid_schema", "message is not valid JSON")
			continue
		}

		switch env.Type {
		case "ping":
			session.Touch(clientID)
		case "intent":
			if env.Intent != nil {
				session.SubmitIntent(clientID, *env.Intent)
			}
		case "hash":
			session.SubmitHash(clientID, env.TurnNumber, env.Hash)
		case "winner":
			if env.Winner != nil {
				session.SubmitWinner(ctx, clientID, *env.Winner, env.AllPlayersStats)
			}
		default:
			slog.WarnContext(ctx, "dropping unrecognized session message type", "type", env.Type, "client_id", clientID)
		}
	}
}

func (h *SessionWebSocketHandler) sendStart(stream *wsStreamHandle, session *services.SessionServer, turns []entities.Turn) {
	msg := startMessage{
		Type:           "start",
		GameStartInfo:  session.Config,
		Turns:          turns,
		LobbyCreatedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal start message", "session_id", session.ID, "error", err)
		return
	}
	_ = stream.Send(body)
}

func (h *SessionWebSocketHandler) sendError(stream *wsStreamHandle, errKey, message string) {
	body, err := json.Marshal(errorMessage{Type: "error", Error: errKey, Message: message})
	if err != nil {
		return
	}
	_ = stream.Send(body)
}

// clientIP recovers the caller's address, preferring proxy headers over the raw
// socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
