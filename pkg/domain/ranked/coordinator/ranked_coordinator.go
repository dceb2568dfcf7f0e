package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frontierwars/session-engine/pkg/domain/ranked/accept"
	rankedentities "github.com/frontierwars/session-engine/pkg/domain/ranked/entities"
	out "github.com/frontierwars/session-engine/pkg/domain/ranked/ports/out"
	"github.com/frontierwars/session-engine/pkg/domain/ranked/queue"
	ratingsvc "github.com/frontierwars/session-engine/pkg/domain/ranked/services"
	sessionentities "github.com/frontierwars/session-engine/pkg/domain/session/entities"
	"github.com/frontierwars/session-engine/pkg/domain/session/manager"
	sessionservices "github.com/frontierwars/session-engine/pkg/domain/session/services"
)

// StaleTicketSweepInterval and OrphanGameSweepInterval are the cadences at which
// cmd/worker schedules this coordinator's two periodic brooms.
const (
	StaleTicketSweepInterval = 5 * time.Minute
	OrphanGameSweepInterval  = 60 * time.Second

	staleTicketAge = 1 * time.Hour
)

// activeGame is an in-memory record of a ranked match whose session has been created,
// kept so SessionFinished can route results back to the right tickets/match.
type activeGame struct {
	match   rankedentities.MatchInfo
	tickets []rankedentities.QueueTicket
}

// RankedCoordinator wires the Queue, Accept Coordinator, Session Manager, Rating
// Engine, and Repository together: queue -> accept -> session creation -> result
// ingestion -> rating commit, plus a thin WebSocket fan-out.
type RankedCoordinator struct {
	mu sync.Mutex

	queue   *queue.MatchmakingQueue
	accept  *accept.AcceptCoordinator
	repo    out.RankedRepository
	sessMgr *manager.SessionManager
	publish out.RankedStreamPublisher

	// workerID is the worker id this coordinator was constructed with. Outbound
	// ticket/match updates do not carry it. Every ranked session this coordinator
	// creates is registered with this worker's Session Manager.
	workerID string

	activeGames map[uuid.UUID]*activeGame // by session id
}

type NewRankedCoordinatorParams struct {
	Repo       out.RankedRepository
	SessionMgr *manager.SessionManager
	Publish    out.RankedStreamPublisher
	WorkerID   string
}

func NewRankedCoordinator(p NewRankedCoordinatorParams) *RankedCoordinator {
	rc := &RankedCoordinator{
		repo:        p.Repo,
		sessMgr:     p.SessionMgr,
		publish:     p.Publish,
		workerID:    p.WorkerID,
		activeGames: make(map[uuid.UUID]*activeGame),
	}

	rc.queue = queue.NewMatchmakingQueue(rc.onMatchReady)
	rc.accept = accept.NewAcceptCoordinator(rc.onAllAccepted, rc.onDeclined)

	return rc
}

func (rc *RankedCoordinator) Queue() *queue.MatchmakingQueue   { return rc.queue }
func (rc *RankedCoordinator) Accept() *accept.AcceptCoordinator { return rc.accept }

// onMatchReady is the Queue's MatchReady callback: mints accept tokens, registers the
// accept window, persists the match and the tickets, and broadcasts.
func (rc *RankedCoordinator) onMatchReady(a, b rankedentities.QueueTicket) {
	ctx := context.Background()

	match := rankedentities.MatchInfo{
		ID:        *a.MatchID,
		CreatedAt: time.Now().UTC(),
		Mode:      a.Mode,
		Region:    a.Region,
		TicketIDs: []uuid.UUID{a.ID, b.ID},
		State:     rankedentities.MatchAwaitingAccept,
	}

	tokens := rc.accept.RegisterMatch(match, []rankedentities.QueueTicket{a, b})

	a.AcceptToken = tokens[a.ID]
	b.AcceptToken = tokens[b.ID]

	if err := rc.repo.SaveMatch(ctx, match); err != nil {
		slog.ErrorContext(ctx, "failed to persist proposed match", "match_id", match.ID, "error", err)
	}

	for _, t := range []rankedentities.QueueTicket{a, b} {
		if err := rc.repo.SaveTicket(ctx, t); err != nil {
			slog.ErrorContext(ctx, "failed to persist matched ticket", "ticket_id", t.ID, "error", err)
		}
		rc.publish.PublishTicketUpdate(t, &match)
	}

	slog.InfoContext(ctx, "match found", "match_id", match.ID, "mode", match.Mode, "region", match.Region)
}

// onAllAccepted is the Accept Coordinator's callback for full acceptance: it
// synthesizes a private session config restricted to the matched players and creates
// the session in this worker's Session Manager. The session id is a random uuid; it
// is not checked against shard.WorkerIndex, so it may hash to a different worker.
func (rc *RankedCoordinator) onAllAccepted(match rankedentities.MatchInfo, tickets []rankedentities.QueueTicket) {
	ctx := context.Background()

	sessionID := uuid.New()

	allowedIDs := make([]string, len(tickets))
	for i, t := range tickets {
		allowedIDs[i] = t.PlayerID.String()
	}

	humanCount := len(tickets)
	cfg := sessionentities.SessionConfig{
		Map:                "duel_arena",
		MapSize:            "small",
		GameType:           sessionentities.GameTypePrivate,
		BotCount:           maxInt(0, 4-humanCount),
		MaxPlayers:         humanCount,
		Mode:               "ffa",
		AllowedExternalIDs: allowedIDs,
	}

	s := rc.sessMgr.Create(sessionID, cfg, "")
	if err := s.RequestActivation(); err != nil {
		slog.ErrorContext(ctx, "failed to activate ranked session", "session_id", sessionID, "error", err)
	}

	season, err := rc.repo.CurrentSeason(ctx)
	var seasonID *uuid.UUID
	if err != nil {
		slog.ErrorContext(ctx, "failed to resolve current season", "error", err)
	} else if season != nil {
		seasonID = &season.ID
	}

	match.ExternalSessionID = &sessionID
	match.State = rankedentities.MatchReady
	match.AcceptedCount = len(tickets)
	match.SeasonID = seasonID

	for i := range tickets {
		tickets[i].State = rankedentities.TicketReady
		tickets[i].Touch()
		if err := rc.repo.SaveTicket(ctx, tickets[i]); err != nil {
			slog.ErrorContext(ctx, "failed to persist ready ticket", "ticket_id", tickets[i].ID, "error", err)
		}
		rc.publish.PublishTicketUpdate(tickets[i], &match)
	}

	if err := rc.repo.SaveMatch(ctx, match); err != nil {
		slog.ErrorContext(ctx, "failed to persist ready match", "match_id", match.ID, "error", err)
	}

	rc.mu.Lock()
	rc.activeGames[sessionID] = &activeGame{match: match, tickets: tickets}
	rc.mu.Unlock()
}

// onDeclined is the Accept Coordinator's callback for a decline or timeout: clears
// ticket match fields and requeues them.
func (rc *RankedCoordinator) onDeclined(match rankedentities.MatchInfo, tickets []rankedentities.QueueTicket, decliningTicket *uuid.UUID) {
	ctx := context.Background()

	if err := rc.repo.SaveMatch(ctx, match); err != nil {
		slog.ErrorContext(ctx, "failed to persist cancelled match", "match_id", match.ID, "error", err)
	}

	rc.queue.RequeueTickets(tickets)

	for _, t := range tickets {
		rc.publish.PublishTicketUpdate(t, &match)
	}
}

// SessionFinished is the Session Manager's onFinished hook. It looks up the active
// match for this session, resolves the winning player, runs the Rating Engine, and
// persists the completed match/participants/history. Unmatched sessions (not ranked)
// are ignored.
func (rc *RankedCoordinator) SessionFinished(sessionID uuid.UUID, s *sessionservices.SessionServer) {
	ctx := context.Background()

	rc.mu.Lock()
	game, ok := rc.activeGames[sessionID]
	if ok {
		delete(rc.activeGames, sessionID)
	}
	rc.mu.Unlock()

	if !ok {
		return
	}

	var winner *sessionentities.WinnerDescriptor
	var clientToPlayer map[string]uuid.UUID
	if s != nil {
		winner = s.AdoptedWinner()
		clientToPlayer = playerIDsByClientID(s)
	}

	rc.finalizeGame(ctx, game, winner, clientToPlayer)
}

// playerIDsByClientID resolves each attached client's ranked player id, keyed by
// client id, from the external identity the Ranked Coordinator itself assigned when
// it created the session (the ticket's player id, stringified).
func playerIDsByClientID(s *sessionservices.SessionServer) map[string]uuid.UUID {
	out := make(map[string]uuid.UUID)
	for clientID, externalID := range s.ExternalIDByClientID() {
		playerID, err := uuid.Parse(externalID)
		if err != nil {
			continue
		}
		out[clientID] = playerID
	}
	return out
}

func (rc *RankedCoordinator) finalizeGame(ctx context.Context, game *activeGame, winner *sessionentities.WinnerDescriptor, clientToPlayer map[string]uuid.UUID) {
	already, err := rc.repo.HasRatedMatch(ctx, game.match.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to check rating idempotency", "match_id", game.match.ID, "error", err)
		return
	}
	if already {
		return
	}

	if winner == nil || game.match.SeasonID == nil {
		rc.cancelGame(ctx, game)
		return
	}

	winningPlayerID, hasWinner := resolveWinnerPlayer(winner, clientToPlayer)

	ratings := make(map[uuid.UUID]rankedentities.PlayerRating, len(game.tickets))
	for _, t := range game.tickets {
		r, err := rc.repo.GetPlayerRating(ctx, t.PlayerID, *game.match.SeasonID)
		if err != nil {
			slog.ErrorContext(ctx, "failed to load player rating", "player_id", t.PlayerID, "error", err)
			return
		}
		if r == nil {
			d := rankedentities.NewDefaultPlayerRating(t.PlayerID, *game.match.SeasonID, "")
			r = &d
		}
		ratings[t.PlayerID] = *r
	}

	for _, t := range game.tickets {
		subject := ratings[t.PlayerID]

		var opponents []ratingsvc.Opponent
		score := 0.5
		if hasWinner {
			if t.PlayerID == winningPlayerID {
				score = 1
			} else {
				score = 0
			}
		}
		for _, other := range game.tickets {
			if other.PlayerID == t.PlayerID {
				continue
			}
			opp := ratings[other.PlayerID]
			opponents = append(opponents, ratingsvc.Opponent{Rating: opp.Rating, RD: opp.RD, Volatility: opp.Volatility, Score: score})
		}

		updated := ratingsvc.UpdatePlayerRating(subject, opponents)
		updated.MatchesPlayed++
		delta := updated.Rating - subject.Rating

		if hasWinner && t.PlayerID == winningPlayerID {
			updated.Wins++
			if updated.Streak >= 0 {
				updated.Streak++
			} else {
				updated.Streak = 1
			}
		} else if hasWinner {
			updated.Losses++
			if updated.Streak <= 0 {
				updated.Streak--
			} else {
				updated.Streak = -1
			}
		}
		updated.LastActiveAt = time.Now().UTC()
		updated.LastMatchID = &game.match.ID

		if err := rc.repo.UpsertPlayerRating(ctx, updated); err != nil {
			slog.ErrorContext(ctx, "failed to persist updated rating", "player_id", t.PlayerID, "error", err)
			continue
		}

		if err := rc.repo.AppendRatingHistory(ctx, rankedentities.RatingHistoryEntry{
			PlayerID:    t.PlayerID,
			SeasonID:    *game.match.SeasonID,
			MatchID:     game.match.ID,
			Delta:       delta,
			RatingAfter: updated.Rating,
			Reason:      "ranked_match_completed",
			Timestamp:   time.Now().UTC(),
		}); err != nil {
			slog.ErrorContext(ctx, "failed to append rating history", "player_id", t.PlayerID, "error", err)
		}
	}

	if err := rc.repo.MarkMatchRated(ctx, game.match.ID); err != nil {
		slog.ErrorContext(ctx, "failed to mark match rated", "match_id", game.match.ID, "error", err)
	}

	game.match.State = rankedentities.MatchCompleted
	if err := rc.repo.SaveMatch(ctx, game.match); err != nil {
		slog.ErrorContext(ctx, "failed to persist completed match", "match_id", game.match.ID, "error", err)
	}

	completed := rc.queue.CompleteMatch(game.match.ID)
	for _, t := range completed {
		if err := rc.repo.DeleteTicket(ctx, t.ID); err != nil {
			slog.ErrorContext(ctx, "failed to delete completed ticket", "ticket_id", t.ID, "error", err)
		}
		rc.publish.PublishTicketUpdate(t, &game.match)
	}
}

func (rc *RankedCoordinator) cancelGame(ctx context.Context, game *activeGame) {
	game.match.State = rankedentities.MatchCancelled
	if err := rc.repo.SaveMatch(ctx, game.match); err != nil {
		slog.ErrorContext(ctx, "failed to persist cancelled game", "match_id", game.match.ID, "error", err)
	}
	rc.queue.RequeueTickets(game.tickets)
}

// StaleTicketSweep force-cancels any ticket stuck in matched/awaiting_accept for over
// an hour. Runs every 5 minutes.
func (rc *RankedCoordinator) StaleTicketSweep(ctx context.Context) {
	tickets, err := rc.repo.ListTickets(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list tickets for stale sweep", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, t := range tickets {
		if (t.State == rankedentities.TicketMatched) && now.Sub(t.UpdatedAt) > staleTicketAge {
			t.State = rankedentities.TicketCancelled
			t.Touch()
			if err := rc.repo.SaveTicket(ctx, t); err != nil {
				slog.ErrorContext(ctx, "failed to force-cancel stale ticket", "ticket_id", t.ID, "error", err)
			}
		}
	}
}

// OrphanGameSweep defensively finalizes active-game entries whose session no longer
// exists, has exceeded the max duration, or already finished without the
// SessionFinished event being observed. Runs every 60 seconds.
func (rc *RankedCoordinator) OrphanGameSweep(ctx context.Context) {
	rc.mu.Lock()
	snapshot := make(map[uuid.UUID]*activeGame, len(rc.activeGames))
	for id, g := range rc.activeGames {
		snapshot[id] = g
	}
	rc.mu.Unlock()

	for sessionID, game := range snapshot {
		s, exists := rc.sessMgr.Lookup(sessionID)

		orphaned := !exists
		if exists && s.IsExpired(time.Now().UTC()) {
			orphaned = true
		}

		if !orphaned {
			continue
		}

		rc.mu.Lock()
		delete(rc.activeGames, sessionID)
		rc.mu.Unlock()

		var winner *sessionentities.WinnerDescriptor
		var clientToPlayer map[string]uuid.UUID
		if exists {
			winner = s.AdoptedWinner()
			clientToPlayer = playerIDsByClientID(s)
		}
		rc.finalizeGame(ctx, game, winner, clientToPlayer)
	}
}

func resolveWinnerPlayer(winner *sessionentities.WinnerDescriptor, clientToPlayer map[string]uuid.UUID) (uuid.UUID, bool) {
	if winner == nil {
		return uuid.Nil, false
	}
	clientID := winner.CreditedClientID()
	playerID, ok := clientToPlayer[clientID]
	return playerID, ok
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
