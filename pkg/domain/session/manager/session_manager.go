package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
	out "github.com/frontierwars/session-engine/pkg/domain/session/ports/out"
	"github.com/frontierwars/session-engine/pkg/domain/session/services"
)

const (
	prestartDelay = 2 * time.Second
	tickInterval  = 1 * time.Second
)

// SessionInfo is the read-only projection of a session returned to HTTP/WS callers.
type SessionInfo struct {
	ID         uuid.UUID             `json:"id"`
	Config     entities.SessionConfig `json:"config"`
	State      services.State         `json:"state"`
	PlayerCount int                   `json:"player_count"`
}

// SessionManager owns every live session on this worker: a 1 Hz cadence drives each
// session's Lobby->Active->Finished transitions and removes finished sessions from
// the map at the end of the tick.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*services.SessionServer
	entered  map[uuid.UUID]bool // tracks whether Prestart/Start already ran for this session

	sink         out.ArchiveSink
	turnInterval time.Duration
	maxDuration  time.Duration

	onFinished func(sessionID uuid.UUID, s *services.SessionServer)
}

func NewSessionManager(sink out.ArchiveSink, turnInterval, maxDuration time.Duration, onFinished func(uuid.UUID, *services.SessionServer)) *SessionManager {
	return &SessionManager{
		sessions:     make(map[uuid.UUID]*services.SessionServer),
		entered:      make(map[uuid.UUID]bool),
		sink:         sink,
		turnInterval: turnInterval,
		maxDuration:  maxDuration,
		onFinished:   onFinished,
	}
}

// Create registers a brand new session under the given id.
func (m *SessionManager) Create(id uuid.UUID, cfg entities.SessionConfig, creatorID string) *services.SessionServer {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := services.NewSessionServer(services.NewSessionParams{
		ID:           id,
		Config:       cfg,
		CreatorID:    creatorID,
		TurnInterval: m.turnInterval,
		MaxDuration:  m.maxDuration,
		Sink:         m.sink,
	})
	m.sessions[id] = s
	return s
}

func (m *SessionManager) Lookup(id uuid.UUID) (*services.SessionServer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *SessionManager) Exists(id uuid.UUID) bool {
	_, ok := m.Lookup(id)
	return ok
}

// ActiveSessionCount is this worker's current concurrent-session count, reported to
// the external matchmaker as CCU on every poller check-in.
func (m *SessionManager) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// PublicLobbies lists every session currently in Lobby state with a public game type.
func (m *SessionManager) PublicLobbies() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	var infos []SessionInfo
	for id, s := range m.sessions {
		if s.State() != services.StateLobby {
			continue
		}
		if s.Config.GameType != entities.GameTypePublic {
			continue
		}
		infos = append(infos, SessionInfo{ID: id, Config: s.Config, State: s.State()})
	}
	return infos
}

// Run drives the 1 Hz phase-polling loop until ctx is cancelled.
func (m *SessionManager) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

func (m *SessionManager) pollOnce(ctx context.Context) {
	m.mu.Lock()
	snapshot := make(map[uuid.UUID]*services.SessionServer, len(m.sessions))
	for id, s := range m.sessions {
		snapshot[id] = s
	}
	m.mu.Unlock()

	var finished []uuid.UUID

	for id, s := range snapshot {
		state := s.State()

		switch state {
		case services.StateLobby:
			s.BroadcastLobbyInfo()
		case services.StateActive:
			m.mu.Lock()
			already := m.entered[id]
			m.entered[id] = true
			m.mu.Unlock()

			if !already {
				m.safeStartSequence(ctx, id, s)
			}
		case services.StateFinished:
			finished = append(finished, id)
		}
	}

	if len(finished) == 0 {
		return
	}

	m.mu.Lock()
	for _, id := range finished {
		delete(m.sessions, id)
		delete(m.entered, id)
	}
	m.mu.Unlock()

	for _, id := range finished {
		if m.onFinished != nil {
			m.onFinished(id, snapshot[id])
		}
	}
}

// safeStartSequence runs Prestart then, after a short delay, Start -- isolated so a
// failure for one session cannot take down the manager's poll loop.
func (m *SessionManager) safeStartSequence(ctx context.Context, id uuid.UUID, s *services.SessionServer) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic starting session", "session_id", id, "recover", r)
		}
	}()

	if _, err := s.Prestart(); err != nil {
		slog.Error("prestart failed", "session_id", id, "error", err)
		return
	}

	time.Sleep(prestartDelay)

	if err := s.Start(ctx); err != nil {
		slog.Error("start failed", "session_id", id, "error", err)
	}
}
