package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"

	rankedentities "github.com/frontierwars/session-engine/pkg/domain/ranked/entities"
	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
	"github.com/frontierwars/session-engine/pkg/domain/session/manager"
	"github.com/frontierwars/session-engine/pkg/infra/shard"
)

const (
	baseInterval = 5 * time.Second
	maxJitter    = 1 * time.Second
	startDelay   = 7 * time.Second
	checkInTimeout = 3 * time.Second
)

// CheckInRequest is this worker's periodic announcement to the external matchmaker:
// its identity, its current load, and a session id it has pre-minted so that, should
// the matchmaker assign it a match, the session is guaranteed to hash back to this
// worker.
type CheckInRequest struct {
	WorkerID           string    `json:"worker_id"`
	CCU                int       `json:"ccu"`
	CandidateSessionID uuid.UUID `json:"candidate_session_id"`
}

// CheckInResponse carries an assignment only when the matchmaker has matched players
// to this worker's candidate session.
type CheckInResponse struct {
	Assignment *rankedentities.WorkerAssignment `json:"assignment,omitempty"`
}

// PlaylistConfig supplies the shared session config template used for matchmaker-
// assigned sessions, since the assignment payload itself only carries loose
// key/value overrides.
type PlaylistConfig func() entities.SessionConfig

// MatchmakingPoller is the outbound half of the external matchmaking integration:
// it never accepts inbound requests, only announces capacity and learns of
// assignments in the check-in response.
type MatchmakingPoller struct {
	httpClient *http.Client
	url        string

	workerID    string
	workerIndex int
	shardCount  int

	sessMgr  *manager.SessionManager
	playlist PlaylistConfig
}

func NewMatchmakingPoller(url, workerID string, workerIndex, shardCount int, sessMgr *manager.SessionManager, playlist PlaylistConfig) *MatchmakingPoller {
	return &MatchmakingPoller{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    5,
				IdleConnTimeout: 30 * time.Second,
			},
			Timeout: checkInTimeout,
		},
		url:         url,
		workerID:    workerID,
		workerIndex: workerIndex,
		shardCount:  shardCount,
		sessMgr:     sessMgr,
		playlist:    playlist,
	}
}

// Run checks in once immediately, then on a ~5s ± jitter cadence, until ctx is
// cancelled. A check-in failure is logged and retried on the next tick; it never
// brings down the worker.
func (p *MatchmakingPoller) Run(ctx context.Context) {
	if p.url == "" {
		slog.InfoContext(ctx, "matchmaking poller disabled: no external matchmaker url configured")
		return
	}

	p.checkIn(ctx)

	for {
		wait := baseInterval + time.Duration(rand.Int63n(int64(maxJitter)))
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			p.checkIn(ctx)
		}
	}
}

func (p *MatchmakingPoller) checkIn(ctx context.Context) {
	candidate := shard.GenerateSessionID(p.workerIndex, p.shardCount)

	req := CheckInRequest{
		WorkerID:           p.workerID,
		CCU:                p.sessMgr.ActiveSessionCount(),
		CandidateSessionID: candidate,
	}

	body, err := json.Marshal(req)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal matchmaking check-in", "error", err)
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		slog.ErrorContext(ctx, "failed to build matchmaking check-in request", "error", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := p.httpClient.Do(httpReq)
	if err != nil {
		// Timeouts and connection resets are expected background noise; swallow them.
		slog.WarnContext(ctx, "matchmaking check-in failed, will retry next tick", "error", err)
		return
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		slog.WarnContext(ctx, "matchmaking check-in rejected", "status", res.StatusCode)
		return
	}

	var checkInRes CheckInResponse
	if err := json.NewDecoder(res.Body).Decode(&checkInRes); err != nil {
		slog.ErrorContext(ctx, "failed to decode matchmaking check-in response", "error", err)
		return
	}

	if checkInRes.Assignment == nil {
		return
	}

	p.handleAssignment(ctx, *checkInRes.Assignment)
}

func (p *MatchmakingPoller) handleAssignment(ctx context.Context, assignment rankedentities.WorkerAssignment) {
	if shard.WorkerIndex(assignment.SessionID, p.shardCount) != p.workerIndex {
		slog.ErrorContext(ctx, "matchmaker assigned a session id outside this worker's shard", "session_id", assignment.SessionID)
		return
	}

	if p.sessMgr.Exists(assignment.SessionID) {
		return
	}

	cfg := p.playlist()
	applyAssignmentOverrides(&cfg, assignment.Config)

	s := p.sessMgr.Create(assignment.SessionID, cfg, "")

	slog.InfoContext(ctx, "matchmaker assigned session, scheduling start", "session_id", assignment.SessionID, "start_delay", startDelay)

	go func() {
		time.Sleep(startDelay)
		if err := s.RequestActivation(); err != nil {
			slog.ErrorContext(ctx, "failed to activate matchmaker-assigned session", "session_id", assignment.SessionID, "error", err)
		}
	}()
}

func applyAssignmentOverrides(cfg *entities.SessionConfig, overrides map[string]interface{}) {
	if overrides == nil {
		return
	}
	if v, ok := overrides["map"].(string); ok && v != "" {
		cfg.Map = v
	}
	if v, ok := overrides["map_size"].(string); ok && v != "" {
		cfg.MapSize = v
	}
	if v, ok := overrides["mode"].(string); ok && v != "" {
		cfg.Mode = v
	}
	if v, ok := overrides["max_players"].(float64); ok && v > 0 {
		cfg.MaxPlayers = int(v)
	}
	if v, ok := overrides["allowed_external_ids"].([]interface{}); ok {
		ids := make([]string, 0, len(v))
		for _, raw := range v {
			if s, ok := raw.(string); ok {
				ids = append(ids, s)
			}
		}
		cfg.AllowedExternalIDs = ids
	}
}
