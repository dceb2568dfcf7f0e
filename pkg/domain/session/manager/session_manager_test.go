package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
	"github.com/frontierwars/session-engine/pkg/domain/session/services"
)

type noopSink struct{}

func (noopSink) Archive(ctx context.Context, r entities.SessionRecord) error { return nil }
func (noopSink) ReadGameRecord(ctx context.Context, id uuid.UUID) (*entities.SessionRecord, error) {
	return nil, nil
}
func (noopSink) GameRecordExists(ctx context.Context, id uuid.UUID) (bool, error) { return false, nil }

func TestSessionManagerDrivesActivation(t *testing.T) {
	var mu sync.Mutex
	var finishedIDs []uuid.UUID

	mgr := NewSessionManager(noopSink{}, 10*time.Millisecond, 0, func(id uuid.UUID, s *services.SessionServer) {
		mu.Lock()
		defer mu.Unlock()
		finishedIDs = append(finishedIDs, id)
	})

	id := uuid.New()
	s := mgr.Create(id, entities.SessionConfig{GameType: entities.GameTypePrivate, MaxPlayers: 2}, "creator")
	require.NoError(t, s.RequestActivation())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	require.Eventually(t, func() bool {
		return s.HasStarted()
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.End(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(finishedIDs) == 1 && finishedIDs[0] == id
	}, 3*time.Second, 20*time.Millisecond)

	_, ok := mgr.Lookup(id)
	assert.False(t, ok)
}

func TestPublicLobbiesListsPublicLobby(t *testing.T) {
	mgr := NewSessionManager(noopSink{}, 50*time.Millisecond, 0, nil)
	id := uuid.New()
	mgr.Create(id, entities.SessionConfig{GameType: entities.GameTypePublic}, "creator")

	lobbies := mgr.PublicLobbies()
	require.Len(t, lobbies, 1)
	assert.Equal(t, id, lobbies[0].ID)
}
