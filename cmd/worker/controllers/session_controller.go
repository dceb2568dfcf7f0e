// Package controllers implements the Worker Host's HTTP surface (§6), grounded on the
// teacher's cmd/rest-api/controllers package: one small struct per resource, each
// method returning a context-bound http.HandlerFunc the way the teacher's
// controller_helper.go pattern does, but without the teacher's DI-container
// resolution step since this worker wires its handful of dependencies directly in
// main.go.
package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	common "github.com/frontierwars/session-engine/pkg/domain"
	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
	"github.com/frontierwars/session-engine/pkg/domain/session/manager"
	"github.com/frontierwars/session-engine/pkg/domain/session/services"
	"github.com/frontierwars/session-engine/pkg/infra/shard"

	"github.com/frontierwars/session-engine/cmd/worker/middlewares"
)

// SessionController implements the session-control endpoints from §6: create/start/
// update/query/kick. The singleplayer archive endpoint lives in ArchiveController.
type SessionController struct {
	manager    *manager.SessionManager
	workerID   int
	numWorkers int
}

func NewSessionController(mgr *manager.SessionManager, workerID, numWorkers int) *SessionController {
	return &SessionController{manager: mgr, workerID: workerID, numWorkers: numWorkers}
}

// sessionInfo is the JSON projection this controller returns for a live session.
type sessionInfo struct {
	ID          uuid.UUID              `json:"id"`
	Config      entities.SessionConfig `json:"config"`
	State       services.State         `json:"state"`
	PlayerCount int                    `json:"player_count"`
}

func toSessionInfo(s *services.SessionServer) sessionInfo {
	return sessionInfo{ID: s.ID, Config: s.Config, State: s.State(), PlayerCount: s.ClientCount()}
}

func parseSessionID(r *http.Request, key string) (uuid.UUID, bool) {
	raw := mux.Vars(r)[key]
	id, err := uuid.Parse(raw)
	return id, err == nil
}

// CreateGame handles POST /api/create_game/{id}: a public game may be created with
// only the admin header; a private or singleplayer game requires the creator's
// bearer token, whose external id becomes the session's creator/allowlist entry.
func (c *SessionController) CreateGame(verifyAdmin func(*http.Request) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseSessionID(r, "id")
		if !ok {
			writeAPIError(w, common.NewAPIError(http.StatusBadRequest, "INVALID_ID", "id is not a valid session id"))
			return
		}

		if shard.WorkerIndex(id, c.numWorkers) != c.workerID {
			writeAPIError(w, common.NewAPIError(http.StatusBadRequest, "WRONG_SHARD", "this session id does not belong to this worker"))
			return
		}

		var cfg entities.SessionConfig
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&cfg) // an empty body leaves cfg at its zero value, per §6
		}

		grant := middlewares.AccessGrantFromContext(r.Context())

		creatorID := ""
		switch {
		case grant != nil:
			creatorID = grant.ExternalID
		case cfg.GameType == entities.GameTypePublic && verifyAdmin(r):
			// admin-created public lobby has no single creator
		default:
			writeAPIError(w, common.ErrUnauthorized)
			return
		}

		s := c.manager.Create(id, cfg, creatorID)
		writeJSON(w, http.StatusOK, toSessionInfo(s))
	}
}

// StartGame handles POST /api/start_game/{id}: only the lobby creator may transition
// a session out of Lobby.
func (c *SessionController) StartGame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseSessionID(r, "id")
		if !ok {
			writeAPIError(w, common.ErrBadRequest)
			return
		}

		s, ok := c.manager.Lookup(id)
		if !ok {
			writeAPIError(w, common.ErrNotFound)
			return
		}

		grant := middlewares.AccessGrantFromContext(r.Context())
		if grant == nil || grant.ExternalID != s.CreatorID {
			writeAPIError(w, common.ErrForbidden)
			return
		}

		if err := s.RequestActivation(); err != nil {
			writeAPIError(w, common.NewAPIError(http.StatusForbidden, "NOT_HOST", err.Error()))
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// UpdateGame handles PUT /api/game/{id}: partial config update, creator-only, lobby-only.
func (c *SessionController) UpdateGame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseSessionID(r, "id")
		if !ok {
			writeAPIError(w, common.ErrBadRequest)
			return
		}

		s, ok := c.manager.Lookup(id)
		if !ok {
			writeAPIError(w, common.ErrNotFound)
			return
		}

		var patch entities.SessionConfig
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeAPIError(w, common.ErrBadRequest)
			return
		}

		grant := middlewares.AccessGrantFromContext(r.Context())
		requesterID := ""
		if grant != nil {
			requesterID = grant.ExternalID
		}

		if err := s.UpdateConfig(requesterID, patch); err != nil {
			writeAPIError(w, common.NewAPIError(http.StatusBadRequest, "UPDATE_REJECTED", err.Error()))
			return
		}

		writeJSON(w, http.StatusOK, toSessionInfo(s))
	}
}

// GameExists handles GET /api/game/{id}/exists.
func (c *SessionController) GameExists() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseSessionID(r, "id")
		if !ok {
			writeAPIError(w, common.ErrBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"exists": c.manager.Exists(id)})
	}
}

// GetGame handles GET /api/game/{id}.
func (c *SessionController) GetGame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseSessionID(r, "id")
		if !ok {
			writeAPIError(w, common.ErrBadRequest)
			return
		}
		s, ok := c.manager.Lookup(id)
		if !ok {
			writeAPIError(w, common.ErrNotFound)
			return
		}
		writeJSON(w, http.StatusOK, toSessionInfo(s))
	}
}

// KickPlayer handles POST /api/kick_player/{g}/{c}, admin-only.
func (c *SessionController) KickPlayer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := parseSessionID(r, "g")
		if !ok {
			writeAPIError(w, common.ErrBadRequest)
			return
		}
		clientID := mux.Vars(r)["c"]

		s, ok := c.manager.Lookup(sessionID)
		if !ok {
			writeAPIError(w, common.ErrNotFound)
			return
		}

		_ = s.KickClient(clientID, "kicked_by_admin")
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	_ = common.WriteSuccessResponse(w, body, status)
}

func writeAPIError(w http.ResponseWriter, err *common.APIError) {
	_ = common.WriteErrorResponse(w, err)
}
