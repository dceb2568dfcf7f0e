package db_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	rankedentities "github.com/frontierwars/session-engine/pkg/domain/ranked/entities"
	db "github.com/frontierwars/session-engine/pkg/infra/db/mongodb"
)

var (
	rankedClientInstance *mongo.Client
	rankedClientOnce     sync.Once
)

func getRankedTestClient() (*mongo.Client, error) {
	var err error
	rankedClientOnce.Do(func() {
		opt := options.Client().ApplyURI("mongodb://127.0.0.1:37019/ranked")
		rankedClientInstance, err = mongo.Connect(context.Background(), opt)
	})
	return rankedClientInstance, err
}

func TestRankedMongoDBRepository_TicketLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client, err := getRankedTestClient()
	require.NoError(t, err)

	dbHandle := client.Database("ranked_test")
	repo := db.NewRankedMongoDBRepository(dbHandle)

	defer func() {
		_ = dbHandle.Collection("ranked_tickets").Drop(context.Background())
	}()

	ticket := rankedentities.QueueTicket{
		ID:       uuid.New(),
		PlayerID: uuid.New(),
		Mode:     "duel",
		Region:   "na",
		State:    rankedentities.TicketQueued,
		JoinedAt: time.Now().UTC(),
	}

	require.NoError(t, repo.SaveTicket(context.Background(), ticket))

	tickets, err := repo.ListTickets(context.Background())
	require.NoError(t, err)
	assert.Len(t, tickets, 1)
	assert.Equal(t, ticket.ID, tickets[0].ID)

	require.NoError(t, repo.DeleteTicket(context.Background(), ticket.ID))

	tickets, err = repo.ListTickets(context.Background())
	require.NoError(t, err)
	assert.Len(t, tickets, 0)
}

func TestRankedMongoDBRepository_PlayerRatingUpsert(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client, err := getRankedTestClient()
	require.NoError(t, err)

	dbHandle := client.Database("ranked_test")
	repo := db.NewRankedMongoDBRepository(dbHandle)

	defer func() {
		_ = dbHandle.Collection("ranked_player_ratings").Drop(context.Background())
	}()

	playerID, seasonID := uuid.New(), uuid.New()

	rating, err := repo.GetPlayerRating(context.Background(), playerID, seasonID)
	require.NoError(t, err)
	assert.Nil(t, rating)

	fresh := rankedentities.NewDefaultPlayerRating(playerID, seasonID, "tester")
	require.NoError(t, repo.UpsertPlayerRating(context.Background(), fresh))

	fresh.Wins = 1
	fresh.Rating = 1516
	require.NoError(t, repo.UpsertPlayerRating(context.Background(), fresh))

	rating, err = repo.GetPlayerRating(context.Background(), playerID, seasonID)
	require.NoError(t, err)
	require.NotNil(t, rating)
	assert.Equal(t, 1, rating.Wins)
	assert.Equal(t, 1516.0, rating.Rating)
}

func TestRankedMongoDBRepository_MatchRatingIdempotency(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client, err := getRankedTestClient()
	require.NoError(t, err)

	dbHandle := client.Database("ranked_test")
	repo := db.NewRankedMongoDBRepository(dbHandle)

	defer func() {
		_ = dbHandle.Collection("ranked_match_ratings").Drop(context.Background())
	}()

	matchID := uuid.New()

	rated, err := repo.HasRatedMatch(context.Background(), matchID)
	require.NoError(t, err)
	assert.False(t, rated)

	require.NoError(t, repo.MarkMatchRated(context.Background(), matchID))
	require.NoError(t, repo.MarkMatchRated(context.Background(), matchID)) // idempotent re-mark

	rated, err = repo.HasRatedMatch(context.Background(), matchID)
	require.NoError(t, err)
	assert.True(t, rated)
}
