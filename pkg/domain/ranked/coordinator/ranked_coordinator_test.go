package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rankedentities "github.com/frontierwars/session-engine/pkg/domain/ranked/entities"
	"github.com/frontierwars/session-engine/pkg/domain/ranked/queue"
	sessionentities "github.com/frontierwars/session-engine/pkg/domain/session/entities"
	"github.com/frontierwars/session-engine/pkg/domain/session/manager"
)

type fakeRankedRepo struct {
	mu       sync.Mutex
	season   *rankedentities.Season
	ratings  map[string]rankedentities.PlayerRating // key playerID:seasonID
	tickets  map[uuid.UUID]rankedentities.QueueTicket
	matches  map[uuid.UUID]rankedentities.MatchInfo
	rated    map[uuid.UUID]bool
	history  []rankedentities.RatingHistoryEntry
	dodge    map[uuid.UUID]rankedentities.DodgePenaltyRecord
}

func newFakeRankedRepo() *fakeRankedRepo {
	return &fakeRankedRepo{
		ratings: make(map[string]rankedentities.PlayerRating),
		tickets: make(map[uuid.UUID]rankedentities.QueueTicket),
		matches: make(map[uuid.UUID]rankedentities.MatchInfo),
		rated:   make(map[uuid.UUID]bool),
		dodge:   make(map[uuid.UUID]rankedentities.DodgePenaltyRecord),
	}
}

func ratingKey(playerID, seasonID uuid.UUID) string { return playerID.String() + ":" + seasonID.String() }

func (f *fakeRankedRepo) CurrentSeason(ctx context.Context) (*rankedentities.Season, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.season, nil
}

func (f *fakeRankedRepo) GetPlayerRating(ctx context.Context, playerID, seasonID uuid.UUID) (*rankedentities.PlayerRating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.ratings[ratingKey(playerID, seasonID)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeRankedRepo) UpsertPlayerRating(ctx context.Context, rating rankedentities.PlayerRating) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratings[ratingKey(rating.PlayerID, rating.SeasonID)] = rating
	return nil
}

func (f *fakeRankedRepo) SaveTicket(ctx context.Context, ticket rankedentities.QueueTicket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets[ticket.ID] = ticket
	return nil
}

func (f *fakeRankedRepo) DeleteTicket(ctx context.Context, ticketID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tickets, ticketID)
	return nil
}

func (f *fakeRankedRepo) ListTickets(ctx context.Context) ([]rankedentities.QueueTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]rankedentities.QueueTicket, 0, len(f.tickets))
	for _, t := range f.tickets {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeRankedRepo) SaveMatch(ctx context.Context, match rankedentities.MatchInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[match.ID] = match
	return nil
}

func (f *fakeRankedRepo) GetMatch(ctx context.Context, matchID uuid.UUID) (*rankedentities.MatchInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[matchID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeRankedRepo) ListActiveMatches(ctx context.Context) ([]rankedentities.MatchInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rankedentities.MatchInfo
	for _, m := range f.matches {
		if m.State == rankedentities.MatchAwaitingAccept || m.State == rankedentities.MatchReady {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRankedRepo) AppendRatingHistory(ctx context.Context, entry rankedentities.RatingHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, entry)
	return nil
}

func (f *fakeRankedRepo) HasRatedMatch(ctx context.Context, matchID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rated[matchID], nil
}

func (f *fakeRankedRepo) MarkMatchRated(ctx context.Context, matchID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rated[matchID] = true
	return nil
}

func (f *fakeRankedRepo) GetDodgePenalty(ctx context.Context, playerID uuid.UUID) (*rankedentities.DodgePenaltyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.dodge[playerID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeRankedRepo) SaveDodgePenalty(ctx context.Context, record rankedentities.DodgePenaltyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dodge[record.PlayerID] = record
	return nil
}

func (f *fakeRankedRepo) PruneStaleDodgePenalties(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

type fakePublisher struct {
	mu      sync.Mutex
	updates []rankedentities.QueueTicket
}

func (f *fakePublisher) PublishTicketUpdate(ticket rankedentities.QueueTicket, match *rankedentities.MatchInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, ticket)
}

type noopArchive struct{}

func (noopArchive) Archive(ctx context.Context, r sessionentities.SessionRecord) error { return nil }
func (noopArchive) ReadGameRecord(ctx context.Context, id uuid.UUID) (*sessionentities.SessionRecord, error) {
	return nil, nil
}
func (noopArchive) GameRecordExists(ctx context.Context, id uuid.UUID) (bool, error) { return false, nil }

func newTestCoordinator() (*RankedCoordinator, *fakeRankedRepo) {
	repo := newFakeRankedRepo()
	repo.season = &rankedentities.Season{ID: uuid.New(), DisplayName: "season-1"}

	sessMgr := manager.NewSessionManager(noopArchive{}, 5*time.Millisecond, 0, nil)
	rc := NewRankedCoordinator(NewRankedCoordinatorParams{
		Repo:       repo,
		SessionMgr: sessMgr,
		Publish:    &fakePublisher{},
		WorkerID:   "w0",
	})
	return rc, repo
}

// TestMatchFlowAcceptCreatesActiveSession exercises queue -> accept -> session
// creation, stopping short of a rated result (covered separately below since that
// requires a client-submitted winner vote, out of this package's scope to simulate).
func TestMatchFlowAcceptCreatesActiveSession(t *testing.T) {
	rc, repo := newTestCoordinator()

	p1, p2 := uuid.New(), uuid.New()
	mmr1, mmr2 := 1500.0, 1550.0
	rc.Queue().Join(queue.JoinRequest{PlayerID: p1, Mode: "duel", Region: "na", MMR: &mmr1})
	rc.Queue().Join(queue.JoinRequest{PlayerID: p2, Mode: "duel", Region: "na", MMR: &mmr2})

	require.Eventually(t, func() bool {
		active, _ := repo.ListActiveMatches(context.Background())
		return len(active) == 1
	}, time.Second, 5*time.Millisecond)

	var matchID uuid.UUID
	var ticket1ID, ticket2ID uuid.UUID
	var token1, token2 string
	repo.mu.Lock()
	for _, m := range repo.matches {
		matchID = m.ID
	}
	for _, tk := range repo.tickets {
		if tk.PlayerID == p1 {
			token1 = tk.AcceptToken
			ticket1ID = tk.ID
		}
		if tk.PlayerID == p2 {
			token2 = tk.AcceptToken
			ticket2ID = tk.ID
		}
	}
	repo.mu.Unlock()

	require.NotEqual(t, uuid.Nil, matchID)
	require.NotEmpty(t, token1)
	require.NotEmpty(t, token2)

	assert.True(t, rc.Accept().Accept(matchID, ticket1ID, token1))
	assert.True(t, rc.Accept().Accept(matchID, ticket2ID, token2))

	rc.mu.Lock()
	game, ok := rc.activeGames[*mustExternalSessionID(t, repo, matchID)]
	rc.mu.Unlock()
	require.True(t, ok)
	assert.ElementsMatch(t, []uuid.UUID{p1, p2}, []uuid.UUID{game.tickets[0].PlayerID, game.tickets[1].PlayerID})

	s, ok := rc.sessMgr.Lookup(*mustExternalSessionID(t, repo, matchID))
	require.True(t, ok)
	assert.Equal(t, 2, s.Config.MaxPlayers)
}

func mustExternalSessionID(t *testing.T, repo *fakeRankedRepo, matchID uuid.UUID) *uuid.UUID {
	t.Helper()
	repo.mu.Lock()
	defer repo.mu.Unlock()
	m, ok := repo.matches[matchID]
	require.True(t, ok)
	require.NotNil(t, m.ExternalSessionID)
	return m.ExternalSessionID
}

func TestFinalizeGameAppliesRatingOnWin(t *testing.T) {
	rc, repo := newTestCoordinator()
	season := repo.season

	p1, p2 := uuid.New(), uuid.New()
	t1 := rankedentities.QueueTicket{ID: uuid.New(), PlayerID: p1, Mode: "duel", Region: "na"}
	t2 := rankedentities.QueueTicket{ID: uuid.New(), PlayerID: p2, Mode: "duel", Region: "na"}
	matchID := uuid.New()
	match := rankedentities.MatchInfo{ID: matchID, SeasonID: &season.ID, TicketIDs: []uuid.UUID{t1.ID, t2.ID}}

	winner := &sessionentities.WinnerDescriptor{Kind: sessionentities.WinnerKindPlayer, ID: "client-1"}
	clientToPlayer := map[string]uuid.UUID{"client-1": p1}

	rc.finalizeGame(context.Background(), &activeGame{match: match, tickets: []rankedentities.QueueTicket{t1, t2}}, winner, clientToPlayer)

	r1, err := repo.GetPlayerRating(context.Background(), p1, season.ID)
	require.NoError(t, err)
	require.NotNil(t, r1)
	assert.Greater(t, r1.Rating, rankedentities.DefaultRating)
	assert.Equal(t, 1, r1.Wins)

	r2, err := repo.GetPlayerRating(context.Background(), p2, season.ID)
	require.NoError(t, err)
	require.NotNil(t, r2)
	assert.Less(t, r2.Rating, rankedentities.DefaultRating)
	assert.Equal(t, 1, r2.Losses)

	rated, err := repo.HasRatedMatch(context.Background(), matchID)
	require.NoError(t, err)
	assert.True(t, rated)
}

func TestFinalizeGameRequeuesTicketsWhenNoWinnerAdopted(t *testing.T) {
	rc, repo := newTestCoordinator()
	season := repo.season

	p1, p2 := uuid.New(), uuid.New()
	t1 := rankedentities.QueueTicket{ID: uuid.New(), PlayerID: p1, Mode: "duel", Region: "na", State: rankedentities.TicketReady}
	t2 := rankedentities.QueueTicket{ID: uuid.New(), PlayerID: p2, Mode: "duel", Region: "na", State: rankedentities.TicketReady}
	matchID := uuid.New()
	match := rankedentities.MatchInfo{ID: matchID, SeasonID: &season.ID}

	rc.finalizeGame(context.Background(), &activeGame{match: match, tickets: []rankedentities.QueueTicket{t1, t2}}, nil, nil)

	m, err := repo.GetMatch(context.Background(), matchID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, rankedentities.MatchCancelled, m.State)

	rated, err := repo.HasRatedMatch(context.Background(), matchID)
	require.NoError(t, err)
	assert.False(t, rated)
}

