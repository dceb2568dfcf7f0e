package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	rankedentities "github.com/frontierwars/session-engine/pkg/domain/ranked/entities"
	rankedout "github.com/frontierwars/session-engine/pkg/domain/ranked/ports/out"
)

const (
	seasonsCollection       = "ranked_seasons"
	playerRatingsCollection = "ranked_player_ratings"
	ticketsCollection       = "ranked_tickets"
	matchesCollection       = "ranked_matches"
	ratingHistoryCollection = "ranked_rating_history"
	dodgePenaltyCollection  = "ranked_dodge_penalties"
	matchRatingsCollection  = "ranked_match_ratings"
)

// RankedMongoDBRepository implements ports/out.RankedRepository over MongoDB,
// grounded on pkg/infra/db/mongodb/player_rating_mongodb.go's direct-collection style
// (no generic repository wrapper -- see DESIGN.md for why that teacher dependency was
// dropped).
type RankedMongoDBRepository struct {
	db *mongo.Database
}

func NewRankedMongoDBRepository(db *mongo.Database) rankedout.RankedRepository {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexes := map[string][]mongo.IndexModel{
		playerRatingsCollection: {
			{
				Keys:    bson.D{{Key: "player_id", Value: 1}, {Key: "season_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "season_id", Value: 1}, {Key: "rating", Value: -1}}},
		},
		ticketsCollection: {
			{Keys: bson.D{{Key: "player_id", Value: 1}}},
			{Keys: bson.D{{Key: "state", Value: 1}}},
		},
		matchesCollection: {
			{Keys: bson.D{{Key: "state", Value: 1}}},
		},
		ratingHistoryCollection: {
			{Keys: bson.D{{Key: "player_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		},
		seasonsCollection: {
			{Keys: bson.D{{Key: "starts_at", Value: -1}}},
		},
	}

	for name, idx := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			slog.Warn("failed to create ranked repository indexes", "collection", name, "error", err)
		}
	}

	return &RankedMongoDBRepository{db: db}
}

func (r *RankedMongoDBRepository) CurrentSeason(ctx context.Context) (*rankedentities.Season, error) {
	now := time.Now().UTC()

	filter := bson.M{
		"starts_at": bson.M{"$lte": now},
		"ends_at":   bson.M{"$gt": now},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "starts_at", Value: -1}})

	var season rankedentities.Season
	err := r.db.Collection(seasonsCollection).FindOne(ctx, filter, opts).Decode(&season)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to load current season", "error", err)
		return nil, fmt.Errorf("ranked repository: current season: %w", err)
	}

	return &season, nil
}

func (r *RankedMongoDBRepository) GetPlayerRating(ctx context.Context, playerID, seasonID uuid.UUID) (*rankedentities.PlayerRating, error) {
	filter := bson.M{"player_id": playerID, "season_id": seasonID}

	var rating rankedentities.PlayerRating
	err := r.db.Collection(playerRatingsCollection).FindOne(ctx, filter).Decode(&rating)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to get player rating", "player_id", playerID, "season_id", seasonID, "error", err)
		return nil, fmt.Errorf("ranked repository: get player rating: %w", err)
	}

	return &rating, nil
}

func (r *RankedMongoDBRepository) UpsertPlayerRating(ctx context.Context, rating rankedentities.PlayerRating) error {
	filter := bson.M{"player_id": rating.PlayerID, "season_id": rating.SeasonID}
	opts := options.Replace().SetUpsert(true)

	_, err := r.db.Collection(playerRatingsCollection).ReplaceOne(ctx, filter, rating, opts)
	if err != nil {
		slog.ErrorContext(ctx, "failed to upsert player rating", "player_id", rating.PlayerID, "error", err)
		return fmt.Errorf("ranked repository: upsert player rating: %w", err)
	}

	return nil
}

func (r *RankedMongoDBRepository) SaveTicket(ctx context.Context, ticket rankedentities.QueueTicket) error {
	opts := options.Replace().SetUpsert(true)

	_, err := r.db.Collection(ticketsCollection).ReplaceOne(ctx, bson.M{"_id": ticket.ID}, ticket, opts)
	if err != nil {
		slog.ErrorContext(ctx, "failed to save ticket", "ticket_id", ticket.ID, "error", err)
		return fmt.Errorf("ranked repository: save ticket: %w", err)
	}

	return nil
}

func (r *RankedMongoDBRepository) DeleteTicket(ctx context.Context, ticketID uuid.UUID) error {
	_, err := r.db.Collection(ticketsCollection).DeleteOne(ctx, bson.M{"_id": ticketID})
	if err != nil {
		slog.ErrorContext(ctx, "failed to delete ticket", "ticket_id", ticketID, "error", err)
		return fmt.Errorf("ranked repository: delete ticket: %w", err)
	}

	return nil
}

func (r *RankedMongoDBRepository) ListTickets(ctx context.Context) ([]rankedentities.QueueTicket, error) {
	cursor, err := r.db.Collection(ticketsCollection).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("ranked repository: list tickets: %w", err)
	}
	defer cursor.Close(ctx)

	var tickets []rankedentities.QueueTicket
	if err := cursor.All(ctx, &tickets); err != nil {
		return nil, fmt.Errorf("ranked repository: decode tickets: %w", err)
	}

	return tickets, nil
}

func (r *RankedMongoDBRepository) SaveMatch(ctx context.Context, match rankedentities.MatchInfo) error {
	opts := options.Replace().SetUpsert(true)

	_, err := r.db.Collection(matchesCollection).ReplaceOne(ctx, bson.M{"_id": match.ID}, match, opts)
	if err != nil {
		slog.ErrorContext(ctx, "failed to save match", "match_id", match.ID, "error", err)
		return fmt.Errorf("ranked repository: save match: %w", err)
	}

	return nil
}

func (r *RankedMongoDBRepository) GetMatch(ctx context.Context, matchID uuid.UUID) (*rankedentities.MatchInfo, error) {
	var match rankedentities.MatchInfo
	err := r.db.Collection(matchesCollection).FindOne(ctx, bson.M{"_id": matchID}).Decode(&match)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to get match", "match_id", matchID, "error", err)
		return nil, fmt.Errorf("ranked repository: get match: %w", err)
	}

	return &match, nil
}

func (r *RankedMongoDBRepository) ListActiveMatches(ctx context.Context) ([]rankedentities.MatchInfo, error) {
	filter := bson.M{
		"state": bson.M{"$in": []string{
			string(rankedentities.MatchAwaitingAccept),
			string(rankedentities.MatchReady),
		}},
	}

	cursor, err := r.db.Collection(matchesCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ranked repository: list active matches: %w", err)
	}
	defer cursor.Close(ctx)

	var matches []rankedentities.MatchInfo
	if err := cursor.All(ctx, &matches); err != nil {
		return nil, fmt.Errorf("ranked repository: decode active matches: %w", err)
	}

	return matches, nil
}

func (r *RankedMongoDBRepository) AppendRatingHistory(ctx context.Context, entry rankedentities.RatingHistoryEntry) error {
	_, err := r.db.Collection(ratingHistoryCollection).InsertOne(ctx, entry)
	if err != nil {
		slog.ErrorContext(ctx, "failed to append rating history", "player_id", entry.PlayerID, "match_id", entry.MatchID, "error", err)
		return fmt.Errorf("ranked repository: append rating history: %w", err)
	}

	return nil
}

// ratedMatchMarker is the sole document inserted per rated match, backing
// HasRatedMatch/MarkMatchRated. A dedicated collection keeps the idempotency guard
// independent of MatchInfo.State, which a cancelled-then-resurrected match could
// otherwise revisit.
type ratedMatchMarker struct {
	MatchID uuid.UUID `bson:"_id"`
	RatedAt time.Time `bson:"rated_at"`
}

func (r *RankedMongoDBRepository) HasRatedMatch(ctx context.Context, matchID uuid.UUID) (bool, error) {
	err := r.db.Collection(matchRatingsCollection).FindOne(ctx, bson.M{"_id": matchID}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ranked repository: has rated match: %w", err)
	}

	return true, nil
}

func (r *RankedMongoDBRepository) MarkMatchRated(ctx context.Context, matchID uuid.UUID) error {
	marker := ratedMatchMarker{MatchID: matchID, RatedAt: time.Now().UTC()}

	_, err := r.db.Collection(matchRatingsCollection).InsertOne(ctx, marker)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		slog.ErrorContext(ctx, "failed to mark match rated", "match_id", matchID, "error", err)
		return fmt.Errorf("ranked repository: mark match rated: %w", err)
	}

	return nil
}

func (r *RankedMongoDBRepository) GetDodgePenalty(ctx context.Context, playerID uuid.UUID) (*rankedentities.DodgePenaltyRecord, error) {
	var record rankedentities.DodgePenaltyRecord
	err := r.db.Collection(dodgePenaltyCollection).FindOne(ctx, bson.M{"_id": playerID}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to get dodge penalty", "player_id", playerID, "error", err)
		return nil, fmt.Errorf("ranked repository: get dodge penalty: %w", err)
	}

	return &record, nil
}

func (r *RankedMongoDBRepository) SaveDodgePenalty(ctx context.Context, record rankedentities.DodgePenaltyRecord) error {
	opts := options.Replace().SetUpsert(true)

	_, err := r.db.Collection(dodgePenaltyCollection).ReplaceOne(ctx, bson.M{"_id": record.PlayerID}, record, opts)
	if err != nil {
		slog.ErrorContext(ctx, "failed to save dodge penalty", "player_id", record.PlayerID, "error", err)
		return fmt.Errorf("ranked repository: save dodge penalty: %w", err)
	}

	return nil
}

func (r *RankedMongoDBRepository) PruneStaleDodgePenalties(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := r.db.Collection(dodgePenaltyCollection).DeleteMany(ctx, bson.M{
		"last_incident_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to prune stale dodge penalties", "error", err)
		return 0, fmt.Errorf("ranked repository: prune stale dodge penalties: %w", err)
	}

	return int(result.DeletedCount), nil
}

var _ rankedout.RankedRepository = (*RankedMongoDBRepository)(nil)
