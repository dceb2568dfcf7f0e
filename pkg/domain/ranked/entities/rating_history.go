package entities

import (
	"time"

	"github.com/google/uuid"
)

// RatingHistoryEntry is append-only in the Repository: one row per rating change.
type RatingHistoryEntry struct {
	PlayerID    uuid.UUID `json:"player_id" bson:"player_id"`
	SeasonID    uuid.UUID `json:"season_id" bson:"season_id"`
	MatchID     uuid.UUID `json:"match_id" bson:"match_id"`
	Delta       float64   `json:"delta" bson:"delta"`
	RatingAfter float64   `json:"rating_after" bson:"rating_after"`
	Reason      string    `json:"reason" bson:"reason"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
}
