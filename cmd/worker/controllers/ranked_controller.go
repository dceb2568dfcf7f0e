package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	common "github.com/frontierwars/session-engine/pkg/domain"
	"github.com/frontierwars/session-engine/pkg/domain/ranked/coordinator"
	"github.com/frontierwars/session-engine/pkg/domain/ranked/queue"

	"github.com/frontierwars/session-engine/cmd/worker/middlewares"
)

// RankedController implements the /ranked/ HTTP surface (§6): queue join/leave,
// ticket query, and match accept/decline. Every request binds to a playerId derived
// from the bearer token rather than a client-supplied id.
type RankedController struct {
	rc *coordinator.RankedCoordinator
}

func NewRankedController(rc *coordinator.RankedCoordinator) *RankedController {
	return &RankedController{rc: rc}
}

func playerIDFromRequest(r *http.Request) (uuid.UUID, bool) {
	grant := middlewares.AccessGrantFromContext(r.Context())
	if grant == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(grant.ExternalID)
	return id, err == nil
}

type joinQueueRequest struct {
	Mode   string   `json:"mode"`
	Region string   `json:"region"`
	MMR    *float64 `json:"mmr,omitempty"`
}

// JoinQueue handles POST /ranked/queue/join.
func (c *RankedController) JoinQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := playerIDFromRequest(r)
		if !ok {
			writeAPIError(w, common.ErrUnauthorized)
			return
		}

		var body joinQueueRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeAPIError(w, common.ErrBadRequest)
			return
		}
		if body.Mode == "" || body.Region == "" {
			writeAPIError(w, common.NewAPIError(http.StatusBadRequest, "INVALID_REQUEST", "mode and region are required"))
			return
		}
		if rec := c.rc.Accept().GetDodgePenalty(playerID); rec != nil && rec.IsBlocked(time.Now().UTC()) {
			writeAPIError(w, common.NewAPIError(http.StatusForbidden, "DODGE_PENALTY", "queue join blocked until the dodge penalty expires"))
			return
		}

		ticket := c.rc.Queue().Join(queue.JoinRequest{
			PlayerID: playerID,
			Mode:     body.Mode,
			Region:   body.Region,
			MMR:      body.MMR,
		})
		writeJSON(w, http.StatusOK, ticket)
	}
}

type leaveQueueRequest struct {
	TicketID uuid.UUID `json:"ticket_id"`
}

// LeaveQueue handles POST /ranked/queue/leave.
func (c *RankedController) LeaveQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := playerIDFromRequest(r); !ok {
			writeAPIError(w, common.ErrUnauthorized)
			return
		}

		var body leaveQueueRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeAPIError(w, common.ErrBadRequest)
			return
		}

		left := c.rc.Queue().Leave(body.TicketID)
		writeJSON(w, http.StatusOK, map[string]bool{"left": left})
	}
}

// TicketStatus handles GET /ranked/ticket: the caller's current non-terminal ticket.
func (c *RankedController) TicketStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := playerIDFromRequest(r)
		if !ok {
			writeAPIError(w, common.ErrUnauthorized)
			return
		}

		ticket, ok := c.rc.Queue().TicketForPlayer(playerID)
		if !ok {
			writeAPIError(w, common.ErrNotFound)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	}
}

type matchDecisionRequest struct {
	MatchID     uuid.UUID `json:"match_id"`
	TicketID    uuid.UUID `json:"ticket_id"`
	AcceptToken string    `json:"accept_token,omitempty"`
}

// AcceptMatch handles POST /ranked/accept.
func (c *RankedController) AcceptMatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := playerIDFromRequest(r); !ok {
			writeAPIError(w, common.ErrUnauthorized)
			return
		}

		var body matchDecisionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeAPIError(w, common.ErrBadRequest)
			return
		}

		ok := c.rc.Accept().Accept(body.MatchID, body.TicketID, body.AcceptToken)
		if !ok {
			writeAPIError(w, common.NewAPIError(http.StatusConflict, "ACCEPT_REJECTED", "match or ticket not pending, or token mismatch"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
	}
}

// DeclineMatch handles POST /ranked/decline.
func (c *RankedController) DeclineMatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := playerIDFromRequest(r); !ok {
			writeAPIError(w, common.ErrUnauthorized)
			return
		}

		var body matchDecisionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeAPIError(w, common.ErrBadRequest)
			return
		}

		ok := c.rc.Accept().Decline(body.MatchID, body.TicketID)
		if !ok {
			writeAPIError(w, common.ErrNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"declined": true})
	}
}
