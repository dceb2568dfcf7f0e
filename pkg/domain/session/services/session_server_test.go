package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
)

type fakeStream struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
	ip       string
}

func (f *fakeStream) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeStream) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStream) RemoteIP() string { return f.ip }

func (f *fakeStream) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return ""
	}
	return string(f.messages[len(f.messages)-1])
}

type memorySink struct {
	mu      sync.Mutex
	records map[uuid.UUID]entities.SessionRecord
}

func newMemorySink() *memorySink {
	return &memorySink{records: make(map[uuid.UUID]entities.SessionRecord)}
}

func (m *memorySink) Archive(ctx context.Context, r entities.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.SessionID] = r
	return nil
}

func (m *memorySink) ReadGameRecord(ctx context.Context, id uuid.UUID) (*entities.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memorySink) GameRecordExists(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[id]
	return ok, nil
}

func newTestSession(t *testing.T, turnInterval time.Duration) (*SessionServer, *memorySink) {
	sink := newMemorySink()
	s := NewSessionServer(NewSessionParams{
		ID:           uuid.New(),
		Config:       entities.SessionConfig{GameType: entities.GameTypePrivate, MaxPlayers: 8},
		CreatorID:    "creator-persistent-id",
		TurnInterval: turnInterval,
		Sink:         sink,
	})
	require.NotNil(t, s)
	return s, sink
}

func joinTestClient(t *testing.T, s *SessionServer, clientID, persistentID, ip string) (*entities.Client, *fakeStream) {
	stream := &fakeStream{ip: ip}
	client := entities.NewClient(clientID, persistentID, ip, clientID, nil, nil, stream)
	_, err := s.JoinClient(client, false, 0)
	require.NoError(t, err)
	return client, stream
}

func TestSingleTurnBroadcast(t *testing.T) {
	s, _ := newTestSession(t, 20*time.Millisecond)
	_, streamA := joinTestClient(t, s, "A", "pA", "1.1.1.1")
	_, streamB := joinTestClient(t, s, "B", "pB", "2.2.2.2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	s.SubmitIntent("A", entities.Intent{Type: entities.IntentChat, ClientID: "A", Payload: map[string]interface{}{"text": "hi"}})

	time.Sleep(60 * time.Millisecond)

	assert.Contains(t, streamA.last(), `"type":"turn"`)
	assert.Contains(t, streamB.last(), `"type":"turn"`)
}

func TestLateJoinReceivesExactTurnRange(t *testing.T) {
	s, _ := newTestSession(t, 10*time.Millisecond)
	joinTestClient(t, s, "A", "pA", "1.1.1.1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	time.Sleep(70 * time.Millisecond) // let a handful of turns emit

	currentTurn := s.CurrentTurn()
	require.GreaterOrEqual(t, currentTurn, 2)

	stream := &fakeStream{ip: "3.3.3.3"}
	late := entities.NewClient("C", "pC", "3.3.3.3", "C", nil, nil, stream)
	turns, err := s.JoinClient(late, false, 0)
	require.NoError(t, err)
	assert.Equal(t, currentTurn, len(turns))
	assert.Equal(t, 0, turns[0].Number)
}

func TestWinnerVoteQuorumAdoption(t *testing.T) {
	s, sink := newTestSession(t, 10*time.Millisecond)
	joinTestClient(t, s, "A", "pA", "1.1.1.1")
	joinTestClient(t, s, "B", "pB", "2.2.2.2")
	joinTestClient(t, s, "C", "pC", "3.3.3.3")
	joinTestClient(t, s, "D", "pD", "4.4.4.4")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	winner := entities.WinnerDescriptor{Kind: entities.WinnerKindPlayer, ID: "X"}
	s.SubmitWinner(ctx, "A", winner, nil)
	assert.Nil(t, s.AdoptedWinner())

	s.SubmitWinner(ctx, "B", winner, nil)
	require.NotNil(t, s.AdoptedWinner())
	s.SubmitWinner(ctx, "C", winner, nil)
	assert.Equal(t, "X", s.AdoptedWinner().ID)

	exists, err := sink.GameRecordExists(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDuplicatePersistentIdRejectedOutsideProduction(t *testing.T) {
	s, _ := newTestSession(t, 10*time.Millisecond)
	joinTestClient(t, s, "A", "shared-pid", "1.1.1.1")

	stream := &fakeStream{ip: "9.9.9.9"}
	dup := entities.NewClient("A2", "shared-pid", "9.9.9.9", "A2", nil, nil, stream)
	_, err := s.JoinClient(dup, false, 0)
	assert.ErrorIs(t, err, ErrDuplicatePersistentID)
}

func TestMajorityHashVoting(t *testing.T) {
	h, agreeing := majorityHash([]uint64{0xAA, 0xAA, 0xBB})
	assert.Equal(t, uint64(0xAA), h)
	assert.Equal(t, 2, agreeing)
}

func TestBroadcastLobbyInfoOnlyWhileInLobby(t *testing.T) {
	s, _ := newTestSession(t, 10*time.Millisecond)
	_, stream := joinTestClient(t, s, "A", "pA", "1.1.1.1")

	s.BroadcastLobbyInfo()
	assert.Contains(t, stream.last(), `"type":"lobby_info"`)
	assert.Contains(t, stream.last(), `"player_count":1`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	stream.mu.Lock()
	stream.messages = nil
	stream.mu.Unlock()

	s.BroadcastLobbyInfo()
	time.Sleep(20 * time.Millisecond)

	stream.mu.Lock()
	defer stream.mu.Unlock()
	for _, m := range stream.messages {
		assert.NotContains(t, string(m), `"type":"lobby_info"`)
	}
}

func TestJoinRejectedWhenGrantOutsideAllowlist(t *testing.T) {
	sink := newMemorySink()
	s := NewSessionServer(NewSessionParams{
		ID:        uuid.New(),
		CreatorID: "creator-persistent-id",
		Sink:      sink,
		Config: entities.SessionConfig{
			GameType:           entities.GameTypePrivate,
			MaxPlayers:         2,
			AllowedExternalIDs: []string{"player-1", "player-2"},
		},
	})

	stream := &fakeStream{ip: "1.1.1.1"}
	outsider := entities.NewClient("A", "pA", "1.1.1.1", "A", nil, &entities.AccessGrant{ExternalID: "player-9"}, stream)
	_, err := s.JoinClient(outsider, false, 0)
	assert.ErrorIs(t, err, ErrAuthForbidden)

	allowed := entities.NewClient("B", "pB", "1.1.1.2", "B", nil, &entities.AccessGrant{ExternalID: "player-1"}, stream)
	_, err = s.JoinClient(allowed, false, 0)
	assert.NoError(t, err)
}

func TestJoinRejectedWhenRoleMissing(t *testing.T) {
	sink := newMemorySink()
	s := NewSessionServer(NewSessionParams{
		ID:        uuid.New(),
		CreatorID: "creator-persistent-id",
		Sink:      sink,
		Config: entities.SessionConfig{
			GameType:      entities.GameTypePrivate,
			MaxPlayers:    2,
			RequiredRoles: []string{"beta_tester"},
		},
	})

	stream := &fakeStream{ip: "1.1.1.1"}
	noRole := entities.NewClient("A", "pA", "1.1.1.1", "A", nil, &entities.AccessGrant{ExternalID: "player-9"}, stream)
	_, err := s.JoinClient(noRole, false, 0)
	assert.ErrorIs(t, err, ErrAuthForbidden)

	withRole := entities.NewClient("B", "pB", "1.1.1.2", "B", nil, &entities.AccessGrant{ExternalID: "player-1", Roles: []string{"beta_tester"}}, stream)
	_, err = s.JoinClient(withRole, false, 0)
	assert.NoError(t, err)
}

func TestEvictedClientKeepsPersistentIDForRejoin(t *testing.T) {
	s, _ := newTestSession(t, 5*time.Millisecond)
	client, _ := joinTestClient(t, s, "A", "pA", "1.1.1.1")
	client.LastPing = time.Now().UTC().Add(-2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	// Let a handful of liveness sweeps run; the stale client should be evicted.
	time.Sleep(80 * time.Millisecond)

	newStream := &fakeStream{ip: "1.1.1.1"}
	_, err := s.RejoinClient(newStream, "pA", 0)
	assert.NoError(t, err, "an evicted (not kicked) client's persistent id must remain reconnectable")
}

func TestReconcileTreatsExactHalfOutOfSyncAsEveryone(t *testing.T) {
	s, _ := newTestSession(t, time.Hour)
	a, streamA := joinTestClient(t, s, "A", "pA", "1.1.1.1")
	b, streamB := joinTestClient(t, s, "B", "pB", "2.2.2.2")
	c, streamC := joinTestClient(t, s, "C", "pC", "3.3.3.3")
	d, streamD := joinTestClient(t, s, "D", "pD", "4.4.4.4")

	s.mu.Lock()
	s.turns = append(s.turns, entities.NewTurn(0, nil))
	s.mu.Unlock()

	a.HashByTurn[0] = 0xAA
	b.HashByTurn[0] = 0xAA
	c.HashByTurn[0] = 0xBB
	d.HashByTurn[0] = 0xBB

	s.mu.Lock()
	s.reconcileLocked(10)
	s.mu.Unlock()

	assert.Contains(t, streamA.last(), `"type":"desync"`)
	assert.Contains(t, streamB.last(), `"type":"desync"`)
	assert.Contains(t, streamC.last(), `"type":"desync"`)
	assert.Contains(t, streamD.last(), `"type":"desync"`, "an exact 2-of-4 split must fall back to treating every client as out of sync")
}

func TestDesyncDeliveredOnceAndHashAdoptedRetroactively(t *testing.T) {
	s, _ := newTestSession(t, 5*time.Millisecond)
	_, streamA := joinTestClient(t, s, "A", "pA", "1.1.1.1")
	_, streamB := joinTestClient(t, s, "B", "pB", "2.2.2.2")
	_, streamC := joinTestClient(t, s, "C", "pC", "3.3.3.3")

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	require.Eventually(t, func() bool { return s.CurrentTurn() >= 11 }, 2*time.Second, 2*time.Millisecond)
	s.SubmitHash("A", 10, 0xAA)
	s.SubmitHash("B", 10, 0xAA)
	s.SubmitHash("C", 10, 0xBB)

	require.Eventually(t, func() bool { return s.CurrentTurn() >= 21 }, 2*time.Second, 2*time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	cancel() // stop the pump so no later reconciliation window confounds the counts below

	countDesync := func(stream *fakeStream) int {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		n := 0
		for _, m := range stream.messages {
			if strings.Contains(string(m), `"type":"desync"`) {
				n++
			}
		}
		return n
	}

	assert.Equal(t, 0, countDesync(streamA))
	assert.Equal(t, 0, countDesync(streamB))
	assert.Equal(t, 1, countDesync(streamC))

	s.mu.Lock()
	adopted := s.turns[10].AdoptedHash
	s.reconcileLocked(20) // re-run reconciliation for the same window: must not re-notify
	s.mu.Unlock()

	require.NotNil(t, adopted)
	assert.Equal(t, uint64(0xAA), *adopted)
	assert.Equal(t, 1, countDesync(streamC), "desync must be delivered exactly once per reconciliation turn")
}
