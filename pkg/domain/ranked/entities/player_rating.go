package entities

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultRating     = 1500.0
	DefaultRD         = 350.0
	DefaultVolatility = 0.06
)

// PlayerRating is keyed by (PlayerID, SeasonID); upserted at every rated match.
type PlayerRating struct {
	PlayerID uuid.UUID `json:"player_id" bson:"player_id"`
	SeasonID uuid.UUID `json:"season_id" bson:"season_id"`

	Rating     float64 `json:"rating" bson:"rating"`
	RD         float64 `json:"rd" bson:"rd"`
	Volatility float64 `json:"volatility" bson:"volatility"`

	MatchesPlayed int `json:"matches_played" bson:"matches_played"`
	Wins          int `json:"wins" bson:"wins"`
	Losses        int `json:"losses" bson:"losses"`
	Streak        int `json:"streak" bson:"streak"` // positive: win streak, negative: loss streak

	LastActiveAt time.Time  `json:"last_active_at" bson:"last_active_at"`
	LastMatchID  *uuid.UUID `json:"last_match_id,omitempty" bson:"last_match_id,omitempty"`
	DisplayName  string     `json:"display_name,omitempty" bson:"display_name,omitempty"`
}

func NewDefaultPlayerRating(playerID, seasonID uuid.UUID, displayName string) PlayerRating {
	return PlayerRating{
		PlayerID:    playerID,
		SeasonID:    seasonID,
		Rating:      DefaultRating,
		RD:          DefaultRD,
		Volatility:  DefaultVolatility,
		DisplayName: displayName,
	}
}
