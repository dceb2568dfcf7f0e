package out

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/frontierwars/session-engine/pkg/domain/ranked/entities"
)

// RankedRepository is the durable store for seasons, ratings, tickets, matches, and
// rating history. Queue/accept state is held in-process by the owning components and
// persisted here on every transition so a restarted worker can rehydrate.
type RankedRepository interface {
	CurrentSeason(ctx context.Context) (*entities.Season, error)

	GetPlayerRating(ctx context.Context, playerID, seasonID uuid.UUID) (*entities.PlayerRating, error)
	UpsertPlayerRating(ctx context.Context, rating entities.PlayerRating) error

	SaveTicket(ctx context.Context, ticket entities.QueueTicket) error
	DeleteTicket(ctx context.Context, ticketID uuid.UUID) error
	ListTickets(ctx context.Context) ([]entities.QueueTicket, error)

	SaveMatch(ctx context.Context, match entities.MatchInfo) error
	GetMatch(ctx context.Context, matchID uuid.UUID) (*entities.MatchInfo, error)
	ListActiveMatches(ctx context.Context) ([]entities.MatchInfo, error)

	AppendRatingHistory(ctx context.Context, entry entities.RatingHistoryEntry) error

	// HasRatedMatch supports the Rating Engine's idempotency guard: true once
	// MarkMatchRated has recorded this match id.
	HasRatedMatch(ctx context.Context, matchID uuid.UUID) (bool, error)
	MarkMatchRated(ctx context.Context, matchID uuid.UUID) error

	GetDodgePenalty(ctx context.Context, playerID uuid.UUID) (*entities.DodgePenaltyRecord, error)
	SaveDodgePenalty(ctx context.Context, record entities.DodgePenaltyRecord) error
	PruneStaleDodgePenalties(ctx context.Context, olderThan time.Duration) (int, error)
}
