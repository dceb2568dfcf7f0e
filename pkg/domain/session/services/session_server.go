package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
	out "github.com/frontierwars/session-engine/pkg/domain/session/ports/out"
)

// State is the session's Lobby -> Active -> Finished machine. Lobby admits joins and
// mutates config; Active runs the turn pump and rejects config changes; Finished is
// terminal.
type State string

const (
	StateLobby    State = "lobby"
	StateActive   State = "active"
	StateFinished State = "finished"
)

const (
	disconnectThreshold = 30 * time.Second
	evictThreshold      = 60 * time.Second
	reconcileEveryTurns = 10
	livenessEveryTurns  = 5
	hashRetentionTurns  = 20
	ipFanoutCap         = 3
)

// SessionServer runs one live multiplayer session end to end, from Lobby admission
// through the turn pump to the archived SessionRecord. It owns its turns, client
// table, and pending intents exclusively; every cross-subsystem reference into it is
// by session id only.
type SessionServer struct {
	mu sync.Mutex

	ID            uuid.UUID
	Config        entities.SessionConfig
	CreatorID     string // persistent id of the lobby creator
	state         State
	hasStarted    bool
	hasEnded      bool
	paused        bool
	startedAt     time.Time
	maxDuration   time.Duration

	turnInterval time.Duration

	clients         map[string]*entities.Client // by ClientID
	persistentIndex map[string]string           // persistentID -> ClientID
	kicked          map[string]struct{}
	outOfSync       map[string]struct{}
	ipCounts        map[string]int

	turns          []entities.Turn
	pendingIntents []entities.Intent

	winnerVotes    map[string]map[string]struct{} // winner key -> distinct IPs
	votedClients   map[string]struct{}
	adoptedWinner  *entities.WinnerDescriptor
	roster         []entities.RosterEntry

	archived bool
	sink     out.ArchiveSink

	stopCh chan struct{}
	onEnd  func(sessionID uuid.UUID) // notifies the manager/coordinator the session finished
}

type NewSessionParams struct {
	ID           uuid.UUID
	Config       entities.SessionConfig
	CreatorID    string
	TurnInterval time.Duration
	MaxDuration  time.Duration
	Sink         out.ArchiveSink
	OnEnd        func(sessionID uuid.UUID)
}

func NewSessionServer(p NewSessionParams) *SessionServer {
	if p.TurnInterval <= 0 {
		p.TurnInterval = 100 * time.Millisecond
	}
	return &SessionServer{
		ID:              p.ID,
		Config:          p.Config,
		CreatorID:       p.CreatorID,
		state:           StateLobby,
		turnInterval:    p.TurnInterval,
		maxDuration:     p.MaxDuration,
		clients:         make(map[string]*entities.Client),
		persistentIndex: make(map[string]string),
		kicked:          make(map[string]struct{}),
		outOfSync:       make(map[string]struct{}),
		ipCounts:        make(map[string]int),
		winnerVotes:     make(map[string]map[string]struct{}),
		votedClients:    make(map[string]struct{}),
		sink:            p.Sink,
		stopCh:          make(chan struct{}),
		onEnd:           p.OnEnd,
	}
}

func (s *SessionServer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ClientCount reports how many clients currently hold a row in this session's client
// table (attached or merely evicted-but-reconnectable), used by the session-info HTTP
// endpoint's player_count field.
func (s *SessionServer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *SessionServer) CurrentTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// JoinClient admits a new stream per §4.1. On success the joiner is caught up with
// every turn from lastTurn onward if the session already started.
func (s *SessionServer) JoinClient(c *entities.Client, production bool, lastTurn int) ([]entities.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.kicked[c.ClientID]; ok {
		return nil, ErrKicked
	}

	if s.Config.MaxPlayers > 0 && len(s.clients) >= s.Config.MaxPlayers {
		return nil, ErrFull
	}

	if s.Config.GameType == entities.GameTypePublic && s.ipCounts[c.IP] >= ipFanoutCap {
		return nil, ErrDuplicateIP
	}

	if !grantSatisfiesConfig(c.AccessGrant, s.Config) {
		return nil, ErrAuthForbidden
	}

	if existingClientID, ok := s.persistentIndex[c.PersistentID]; ok {
		if production {
			s.removeClientLocked(existingClientID, "superseded_by_rejoin")
		} else {
			return nil, ErrDuplicatePersistentID
		}
	}

	c.Touch()
	s.clients[c.ClientID] = c
	s.persistentIndex[c.PersistentID] = c.ClientID
	s.ipCounts[c.IP]++

	if s.hasStarted {
		if lastTurn < 0 {
			lastTurn = 0
		}
		if lastTurn > len(s.turns) {
			lastTurn = len(s.turns)
		}
		return append([]entities.Turn(nil), s.turns[lastTurn:]...), nil
	}

	return nil, nil
}

// RejoinClient re-attaches a fresh stream to an existing client entry.
func (s *SessionServer) RejoinClient(stream entities.StreamHandle, persistentID string, lastTurn int) ([]entities.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clientID, ok := s.persistentIndex[persistentID]
	if !ok {
		return nil, ErrPersistentIDMismatch
	}

	c, ok := s.clients[clientID]
	if !ok || c.PersistentID != persistentID {
		return nil, ErrPersistentIDMismatch
	}

	c.Stream = stream
	c.Disconnected = false
	c.Touch()

	if lastTurn < 0 {
		lastTurn = 0
	}
	if lastTurn > len(s.turns) {
		lastTurn = len(s.turns)
	}
	return append([]entities.Turn(nil), s.turns[lastTurn:]...), nil
}

// UpdateConfig is allowed only in Lobby, only by the creator, and can never flip a
// private game public.
func (s *SessionServer) UpdateConfig(requesterPersistentID string, patch entities.SessionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLobby {
		return ErrNotLobby
	}
	if requesterPersistentID != s.CreatorID {
		return ErrNotCreator
	}

	return s.Config.ApplyPartial(patch)
}

// KickClient is idempotent: closes the stream with the reason, removes the client
// from the active set, and records the id in the kick set so it cannot rejoin.
func (s *SessionServer) KickClient(clientID, reasonKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kicked[clientID] = struct{}{}
	s.removeClientLocked(clientID, reasonKey)
	return nil
}

// Touch records a liveness ping from an attached client, resetting its disconnect
// countdown. A ping for an unknown or already-removed client is a no-op.
func (s *SessionServer) Touch(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[clientID]; ok {
		c.Touch()
	}
}

// removeClientLocked fully removes a client: used by Kick and End, where the
// persistent id is never expected to reconnect to this session again, and by a
// production JoinClient to drop the existing holder of a reused persistent id.
func (s *SessionServer) removeClientLocked(clientID, reasonKey string) {
	c, ok := s.clients[clientID]
	if !ok {
		return
	}
	if c.Stream != nil {
		_ = c.Stream.Close(1000, reasonKey)
	}
	if s.ipCounts[c.IP] > 0 {
		s.ipCounts[c.IP]--
	}
	delete(s.clients, clientID)
	delete(s.persistentIndex, c.PersistentID)
}

// evictClientLocked closes an idle client's stream but, unlike removeClientLocked,
// keeps its row in the client table and its persistentIndex entry intact: §4.1
// requires that a client evicted for heartbeat loss (as opposed to kicked) remains
// reconnectable, and RejoinClient resolves persistent ids through exactly these two
// maps.
func (s *SessionServer) evictClientLocked(clientID, reasonKey string) {
	c, ok := s.clients[clientID]
	if !ok {
		return
	}
	if c.Stream != nil {
		_ = c.Stream.Close(1000, reasonKey)
	}
	c.Stream = nil
	c.Disconnected = true
}

// grantSatisfiesConfig checks a joining client's access grant against the session's
// allowlist/role requirement, if either is set. A session with neither set admits any
// grant (including none).
func grantSatisfiesConfig(grant *entities.AccessGrant, cfg entities.SessionConfig) bool {
	if len(cfg.AllowedExternalIDs) == 0 && len(cfg.RequiredRoles) == 0 {
		return true
	}
	if grant == nil {
		return false
	}

	if len(cfg.AllowedExternalIDs) > 0 {
		allowed := false
		for _, id := range cfg.AllowedExternalIDs {
			if id == grant.ExternalID {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(cfg.RequiredRoles) > 0 && !grant.HasAnyRole(cfg.RequiredRoles) {
		return false
	}

	return true
}

// Prestart broadcasts map identity once so clients can begin loading assets.
func (s *SessionServer) Prestart() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := fmt.Sprintf(`{"type":"prestart","gameMap":%q,"gameMapSize":%q}`, s.Config.Map, s.Config.MapSize)
	s.broadcastLocked([]byte(msg))
	return []byte(msg), nil
}

// RequestActivation transitions the session from Lobby to Active (e.g. the
// start_game endpoint, or immediate activation for a ranked-created session). It does
// not itself begin the turn pump -- the SessionManager's phase tick observes the new
// Active state and drives Prestart/Start.
func (s *SessionServer) RequestActivation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLobby {
		return ErrNotLobby
	}
	s.state = StateActive
	return nil
}

// Start is one-shot: freezes the config/roster and begins the turn pump.
func (s *SessionServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.hasStarted {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.hasStarted = true
	s.state = StateActive
	s.startedAt = time.Now().UTC()
	for _, c := range s.clients {
		s.roster = append(s.roster, entities.RosterEntry{
			PersistentID: c.PersistentID,
			DisplayName:  c.DisplayName,
		})
	}
	s.mu.Unlock()

	go s.runPump(ctx)
	return nil
}

func (s *SessionServer) runPump(ctx context.Context) {
	ticker := time.NewTicker(s.turnInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *SessionServer) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused || s.state != StateActive {
		return
	}

	turn := entities.NewTurn(len(s.turns), s.pendingIntents)
	s.pendingIntents = nil
	s.turns = append(s.turns, turn)

	if turn.Number > 0 && turn.Number%reconcileEveryTurns == 0 {
		s.reconcileLocked(turn.Number)
	}
	if turn.Number > 0 && turn.Number%livenessEveryTurns == 0 {
		s.livenessSweepLocked()
	}

	s.broadcastTurnLocked(s.turns[turn.Number])
}

// livenessSweepLocked marks stale clients disconnected/reconnected and evicts clients
// that have been silent past evictThreshold.
func (s *SessionServer) livenessSweepLocked() {
	now := time.Now().UTC()
	for id, c := range s.clients {
		idle := now.Sub(c.LastPing)

		if idle > evictThreshold {
			if !c.Disconnected || c.Stream != nil {
				slog.Info("evicting idle client", "session_id", s.ID, "client_id", id)
			}
			s.evictClientLocked(id, "heartbeat_loss")
			continue
		}

		shouldBeDisconnected := idle > disconnectThreshold
		if shouldBeDisconnected != c.Disconnected {
			c.Disconnected = shouldBeDisconnected
			s.pendingIntents = append(s.pendingIntents, entities.NewMarkDisconnectedIntent(id, shouldBeDisconnected))
		}
	}
}

// reconcileLocked resolves the turn 10-ago via Boyer-Moore majority vote and notifies
// out-of-sync clients exactly once each.
func (s *SessionServer) reconcileLocked(currentTurn int) {
	reconcileTurn := currentTurn - reconcileEveryTurns
	if reconcileTurn < 0 {
		return
	}

	var hashes []uint64
	for _, c := range s.clients {
		if h, ok := c.HashByTurn[reconcileTurn]; ok {
			hashes = append(hashes, h)
		}
	}

	// A window in which no client reported a hash has nothing to reconcile.
	if len(hashes) == 0 {
		for _, c := range s.clients {
			c.PruneHashes(currentTurn)
		}
		return
	}

	majority, agreeing := majorityHash(hashes)
	activeCount := len(s.clients)
	outOfSyncCount := activeCount - agreeing

	// If half or more of the active clients are out of sync with the computed
	// majority (whether by a differing hash or by never reporting one), the server
	// treats every client as out of sync rather than trust an unreliable pick.
	everyoneOutOfSync := activeCount > 0 && outOfSyncCount*2 >= activeCount

	s.turns[reconcileTurn].AdoptedHash = &majority

	for id, c := range s.clients {
		h, reported := c.HashByTurn[reconcileTurn]
		outOfSync := everyoneOutOfSync || (reported && h != majority)

		if outOfSync {
			s.outOfSync[id] = struct{}{}
			if _, sent := c.DesyncNotified[reconcileTurn]; !sent {
				c.DesyncNotified[reconcileTurn] = struct{}{}
				msg := fmt.Sprintf(`{"type":"desync","turn":%d,"correctHash":%d,"clientsWithCorrectHash":%d,"totalActiveClients":%d}`,
					reconcileTurn, majority, agreeing, activeCount)
				if c.Stream != nil {
					_ = c.Stream.Send([]byte(msg))
				}
			}
		} else {
			delete(s.outOfSync, id)
		}

		c.PruneHashes(currentTurn)
	}
}

func (s *SessionServer) broadcastTurnLocked(turn entities.Turn) {
	body, err := json.Marshal(struct {
		Type string        `json:"type"`
		Turn entities.Turn `json:"turn"`
	}{Type: "turn", Turn: turn})
	if err != nil {
		slog.Error("failed to marshal turn broadcast", "session_id", s.ID, "turn", turn.Number, "error", err)
		return
	}
	s.broadcastLocked(body)
}

// lobbySnapshot is the lobby_info payload shape: a read-only view of a session while
// it is still accepting joins.
type lobbySnapshot struct {
	ID          uuid.UUID              `json:"id"`
	Config      entities.SessionConfig `json:"config"`
	State       State                  `json:"state"`
	PlayerCount int                    `json:"player_count"`
}

// BroadcastLobbyInfo pushes a lobby_info snapshot to every attached client. Called by
// the Session Manager at ~1 Hz while the session remains in Lobby; a no-op once the
// session has left Lobby.
func (s *SessionServer) BroadcastLobbyInfo() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLobby {
		return
	}

	body, err := json.Marshal(struct {
		Type  string        `json:"type"`
		Lobby lobbySnapshot `json:"lobby"`
	}{
		Type: "lobby_info",
		Lobby: lobbySnapshot{
			ID:          s.ID,
			Config:      s.Config,
			State:       s.state,
			PlayerCount: len(s.clients),
		},
	})
	if err != nil {
		slog.Error("failed to marshal lobby_info broadcast", "session_id", s.ID, "error", err)
		return
	}
	s.broadcastLocked(body)
}

func (s *SessionServer) broadcastLocked(msg []byte) {
	for _, c := range s.clients {
		if c.Stream != nil {
			_ = c.Stream.Send(msg)
		}
	}
}

// SubmitIntent appends a client-originated intent to the pending buffer, dropping it
// silently when the embedded clientID mismatches the submitting client.
func (s *SessionServer) SubmitIntent(clientID string, intent entities.Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return
	}
	if intent.ClientID != clientID {
		slog.Warn("dropping intent with mismatched clientID", "session_id", s.ID, "submitter", clientID, "embedded", intent.ClientID)
		return
	}
	s.pendingIntents = append(s.pendingIntents, intent)
}

// SubmitHash records a client's simulation-state fingerprint for a given turn.
func (s *SessionServer) SubmitHash(clientID string, turnNumber int, hash uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[clientID]
	if !ok {
		return
	}
	c.HashByTurn[turnNumber] = hash
}

// SubmitWinner registers a vote for a proposed winner. Adoption happens the moment
// the descriptor's distinct-IP vote count reaches half of the distinct active-client
// IP count; it is idempotent (first adoption wins) and triggers an immediate archive
// emission.
func (s *SessionServer) SubmitWinner(ctx context.Context, clientID string, winner entities.WinnerDescriptor, stats map[string]interface{}) {
	s.mu.Lock()

	if s.adoptedWinner != nil {
		s.mu.Unlock()
		return
	}
	if _, isOut := s.outOfSync[clientID]; isOut {
		s.mu.Unlock()
		return
	}
	if _, kicked := s.kicked[clientID]; kicked {
		s.mu.Unlock()
		return
	}
	if _, voted := s.votedClients[clientID]; voted {
		s.mu.Unlock()
		return
	}

	c, ok := s.clients[clientID]
	if !ok {
		s.mu.Unlock()
		return
	}
	c.ReportedWinner = &winner
	s.votedClients[clientID] = struct{}{}

	key := winner.Key()
	if s.winnerVotes[key] == nil {
		s.winnerVotes[key] = make(map[string]struct{})
	}
	s.winnerVotes[key][c.IP] = struct{}{}

	distinctActiveIPs := make(map[string]struct{})
	for _, cl := range s.clients {
		distinctActiveIPs[cl.IP] = struct{}{}
	}

	adopted := len(s.winnerVotes[key])*2 >= len(distinctActiveIPs) && len(distinctActiveIPs) > 0

	if !adopted {
		s.mu.Unlock()
		return
	}

	s.adoptedWinner = &winner
	record := s.buildRecordLocked()
	s.mu.Unlock()

	if err := s.sink.Archive(ctx, record); err != nil {
		slog.ErrorContext(ctx, "failed to archive session on winner adoption", "session_id", s.ID, "error", err)
	}
}

// End is one-shot: stops the turn pump, closes every stream with code 1000, and
// emits the final record (unless one was already emitted on winner adoption).
func (s *SessionServer) End(ctx context.Context) error {
	s.mu.Lock()
	if s.hasEnded {
		s.mu.Unlock()
		return ErrAlreadyEnded
	}
	s.hasEnded = true
	s.state = StateFinished
	close(s.stopCh)

	shouldArchive := s.hasStarted && len(s.clients) > 0 && !s.archived
	var record entities.SessionRecord
	if shouldArchive {
		record = s.buildRecordLocked()
	}

	for id := range s.clients {
		s.removeClientLocked(id, "session_ended")
	}
	s.mu.Unlock()

	if shouldArchive {
		if err := s.sink.Archive(ctx, record); err != nil {
			slog.ErrorContext(ctx, "failed to archive session at end", "session_id", s.ID, "error", err)
		}
	}

	if s.onEnd != nil {
		s.onEnd(s.ID)
	}

	return nil
}

func (s *SessionServer) buildRecordLocked() entities.SessionRecord {
	s.archived = true
	endedAt := time.Now().UTC()
	return entities.SessionRecord{
		SessionID: s.ID,
		Config:    s.Config,
		Roster:    s.roster,
		Turns:     append([]entities.Turn(nil), s.turns...),
		StartedAt: s.startedAt,
		EndedAt:   endedAt,
		Winner:    s.adoptedWinner,
	}
}

// SetPaused toggles the turn pump's pause flag. Unpause clears the flag before the
// next tick so that tick can immediately include the resumed intents.
func (s *SessionServer) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

func (s *SessionServer) HasStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasStarted
}

func (s *SessionServer) IsExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxDuration <= 0 || s.startedAt.IsZero() {
		return false
	}
	return now.Sub(s.startedAt) > s.maxDuration
}

func (s *SessionServer) AdoptedWinner() *entities.WinnerDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adoptedWinner
}

// ExternalIDByClientID returns each currently attached client's external identity,
// keyed by client id, so callers outside this package can resolve credited winners
// (who are identified by client id) back to an external identity without reaching
// into the client map directly.
func (s *SessionServer) ExternalIDByClientID() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.clients))
	for id, c := range s.clients {
		if c.AccessGrant != nil {
			out[id] = c.AccessGrant.ExternalID
		}
	}
	return out
}
