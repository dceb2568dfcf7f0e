package entities

import (
	"time"

	"github.com/google/uuid"
)

type MatchState string

const (
	MatchAwaitingAccept MatchState = "awaiting_accept"
	MatchReady          MatchState = "ready"
	MatchCancelled      MatchState = "cancelled"
	MatchCompleted      MatchState = "completed"
)

// MatchInfo is a paired set of tickets progressing through accept -> ready ->
// completed. Owned by the Ranked Coordinator while live; the Repository becomes
// authoritative once it reaches a terminal state.
type MatchInfo struct {
	ID        uuid.UUID   `json:"id" bson:"_id"`
	CreatedAt time.Time   `json:"created_at" bson:"created_at"`
	Mode      string      `json:"mode" bson:"mode"`
	Region    string      `json:"region" bson:"region"`
	TicketIDs []uuid.UUID `json:"ticket_ids" bson:"ticket_ids"`

	State         MatchState `json:"state" bson:"state"`
	AcceptDeadline time.Time `json:"accept_deadline" bson:"accept_deadline"`

	ExternalSessionID *uuid.UUID `json:"external_session_id,omitempty" bson:"external_session_id,omitempty"`
	AcceptedCount     int        `json:"accepted_count" bson:"accepted_count"`
	TotalPlayers      int        `json:"total_players" bson:"total_players"`
	SeasonID          *uuid.UUID `json:"season_id,omitempty" bson:"season_id,omitempty"`
}

// WorkerAssignment is the narrow contract returned by the out-of-scope external
// matchmaker to the Matchmaking Poller.
type WorkerAssignment struct {
	SessionID uuid.UUID
	Config    map[string]interface{}
}
