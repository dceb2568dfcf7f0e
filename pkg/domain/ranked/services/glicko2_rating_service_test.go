package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/frontierwars/session-engine/pkg/domain/ranked/entities"
)

func defaultRating() entities.PlayerRating {
	return entities.PlayerRating{
		Rating:     entities.DefaultRating,
		RD:         entities.DefaultRD,
		Volatility: entities.DefaultVolatility,
	}
}

func TestGlicko2RoundTripSymmetricOnWin(t *testing.T) {
	winner := defaultRating()
	loser := defaultRating()

	newWinner := UpdatePlayerRating(winner, []Opponent{{Rating: loser.Rating, RD: loser.RD, Volatility: loser.Volatility, Score: 1}})
	newLoser := UpdatePlayerRating(loser, []Opponent{{Rating: winner.Rating, RD: winner.RD, Volatility: winner.Volatility, Score: 0}})

	winnerDelta := newWinner.Rating - winner.Rating
	loserDelta := newLoser.Rating - loser.Rating

	assert.Greater(t, winnerDelta, 0.0)
	assert.Less(t, loserDelta, 0.0)
	assert.InDelta(t, winnerDelta, -loserDelta, 1e-6)
}

func TestGlicko2ZeroMatchesOnlyDecaysRD(t *testing.T) {
	r := entities.PlayerRating{Rating: 1600, RD: 50, Volatility: 0.06}
	updated := UpdatePlayerRating(r, nil)

	assert.Equal(t, r.Rating, updated.Rating)
	assert.Greater(t, updated.RD, r.RD)
}

func TestGlicko2RDNeverExceedsDefault(t *testing.T) {
	r := entities.PlayerRating{Rating: 1500, RD: entities.DefaultRD, Volatility: 0.06}
	updated := UpdatePlayerRating(r, nil)
	assert.LessOrEqual(t, updated.RD, entities.DefaultRD+1e-9)
}
