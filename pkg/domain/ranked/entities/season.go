package entities

import (
	"time"

	"github.com/google/uuid"
)

// Season is a time-bounded rating epoch. Owned by the Ranked Repository.
type Season struct {
	ID              uuid.UUID `json:"id" bson:"_id"`
	DisplayName     string    `json:"display_name" bson:"display_name"`
	StartsAt        time.Time `json:"starts_at" bson:"starts_at"`
	EndsAt          time.Time `json:"ends_at" bson:"ends_at"`
	SoftResetFactor float64   `json:"soft_reset_factor" bson:"soft_reset_factor"`
}

func (s Season) Active(at time.Time) bool {
	return !at.Before(s.StartsAt) && at.Before(s.EndsAt)
}
