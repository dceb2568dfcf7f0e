package entities

import (
	"time"

	"github.com/google/uuid"
)

// DodgePenaltyRecord is the persisted per-player abuse ledger behind the Accept
// Coordinator's escalating dodge penalty.
type DodgePenaltyRecord struct {
	PlayerID         uuid.UUID  `json:"player_id" bson:"_id"`
	Count            int        `json:"count" bson:"count"`
	LastIncidentAt   time.Time  `json:"last_incident_at" bson:"last_incident_at"`
	PenaltyUntil     *time.Time `json:"penalty_until,omitempty" bson:"penalty_until,omitempty"`
}

func (r DodgePenaltyRecord) IsBlocked(at time.Time) bool {
	return r.PenaltyUntil != nil && at.Before(*r.PenaltyUntil)
}
