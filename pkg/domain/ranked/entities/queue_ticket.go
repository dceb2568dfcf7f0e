package entities

import (
	"time"

	"github.com/google/uuid"
)

type TicketState string

const (
	TicketQueued    TicketState = "queued"
	TicketMatched   TicketState = "matched"
	TicketReady     TicketState = "ready"
	TicketCancelled TicketState = "cancelled"
	TicketCompleted TicketState = "completed"
)

// QueueTicket is a queued player's matchmaking record. Owned and persisted by the
// Matchmaking Queue.
type QueueTicket struct {
	ID       uuid.UUID `json:"id" bson:"_id"`
	PlayerID uuid.UUID `json:"player_id" bson:"player_id"`
	Mode     string    `json:"mode" bson:"mode"`
	Region   string    `json:"region" bson:"region"`

	MMR   *float64    `json:"mmr,omitempty" bson:"mmr,omitempty"`
	State TicketState `json:"state" bson:"state"`

	JoinedAt  time.Time `json:"joined_at" bson:"joined_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`

	MatchID          *uuid.UUID `json:"match_id,omitempty" bson:"match_id,omitempty"`
	AcceptToken      string     `json:"accept_token,omitempty" bson:"accept_token,omitempty"`
	AcceptedAt       *time.Time `json:"accepted_at,omitempty" bson:"accepted_at,omitempty"`
	DodgePenaltyUntil *time.Time `json:"dodge_penalty_until,omitempty" bson:"dodge_penalty_until,omitempty"`
}

func (t *QueueTicket) ClearMatch() {
	t.MatchID = nil
	t.AcceptToken = ""
	t.AcceptedAt = nil
	t.State = TicketQueued
}

func (t *QueueTicket) Touch() {
	t.UpdatedAt = time.Now().UTC()
}
