package accept

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frontierwars/session-engine/pkg/domain/ranked/entities"
)

const (
	acceptWindow = 12 * time.Second

	dodgeResetAfter = 24 * time.Hour
)

var dodgeEscalator = []time.Duration{120 * time.Second, 300 * time.Second, 600 * time.Second}

type pendingMatch struct {
	match    entities.MatchInfo
	tickets  map[uuid.UUID]*entities.QueueTicket // by ticket id
	tokens   map[uuid.UUID]string
	accepted map[uuid.UUID]struct{}
}

// OnAllAcceptedFunc fires once every ticket in a match has accepted.
type OnAllAcceptedFunc func(match entities.MatchInfo, tickets []entities.QueueTicket)

// OnDeclinedFunc fires on an explicit decline or a deadline timeout. decliningTicket
// is nil on a timeout with no single attributable decliner.
type OnDeclinedFunc func(match entities.MatchInfo, tickets []entities.QueueTicket, decliningTicket *uuid.UUID)

// AcceptCoordinator tracks, per live match, which tickets have accepted, and owns the
// per-player dodge-penalty ledger.
type AcceptCoordinator struct {
	mu       sync.Mutex
	pending  map[uuid.UUID]*pendingMatch // by match id
	dodge    map[uuid.UUID]*entities.DodgePenaltyRecord

	onAllAccepted OnAllAcceptedFunc
	onDeclined    OnDeclinedFunc
}

func NewAcceptCoordinator(onAllAccepted OnAllAcceptedFunc, onDeclined OnDeclinedFunc) *AcceptCoordinator {
	return &AcceptCoordinator{
		pending:       make(map[uuid.UUID]*pendingMatch),
		dodge:         make(map[uuid.UUID]*entities.DodgePenaltyRecord),
		onAllAccepted: onAllAccepted,
		onDeclined:    onDeclined,
	}
}

// RegisterMatch begins tracking a freshly formed match and mints an accept token per
// ticket.
func (c *AcceptCoordinator) RegisterMatch(match entities.MatchInfo, tickets []entities.QueueTicket) map[uuid.UUID]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	match.AcceptDeadline = time.Now().UTC().Add(acceptWindow)
	match.TotalPlayers = len(tickets)
	match.State = entities.MatchAwaitingAccept

	pm := &pendingMatch{
		match:    match,
		tickets:  make(map[uuid.UUID]*entities.QueueTicket, len(tickets)),
		tokens:   make(map[uuid.UUID]string, len(tickets)),
		accepted: make(map[uuid.UUID]struct{}),
	}

	for i := range tickets {
		t := tickets[i]
		token := newAcceptToken()
		pm.tickets[t.ID] = &t
		pm.tokens[t.ID] = token
	}

	c.pending[match.ID] = pm

	return pm.tokens
}

// Accept stamps a ticket's acceptance if the token matches; invokes onAllAccepted once
// every ticket has accepted.
func (c *AcceptCoordinator) Accept(matchID, ticketID uuid.UUID, acceptToken string) bool {
	c.mu.Lock()

	pm, ok := c.pending[matchID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	if pm.tokens[ticketID] != acceptToken {
		c.mu.Unlock()
		return false
	}

	now := time.Now().UTC()
	if t, ok := pm.tickets[ticketID]; ok {
		t.AcceptedAt = &now
	}
	pm.accepted[ticketID] = struct{}{}

	if len(pm.accepted) < len(pm.tickets) {
		c.mu.Unlock()
		return true
	}

	delete(c.pending, matchID)
	match := pm.match
	match.State = entities.MatchReady
	match.AcceptedCount = len(pm.accepted)

	tickets := collectTickets(pm)
	c.mu.Unlock()

	if c.onAllAccepted != nil {
		c.onAllAccepted(match, tickets)
	}
	return true
}

// Decline dissolves the match and applies a dodge penalty to the declining player.
func (c *AcceptCoordinator) Decline(matchID, ticketID uuid.UUID) bool {
	c.mu.Lock()

	pm, ok := c.pending[matchID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, matchID)

	match := pm.match
	match.State = entities.MatchCancelled
	tickets := collectTickets(pm)

	var decliner *uuid.UUID
	if t, ok := pm.tickets[ticketID]; ok {
		playerID := t.PlayerID
		c.applyDodgePenaltyLocked(playerID)
		decliner = &ticketID
	}
	c.mu.Unlock()

	if c.onDeclined != nil {
		c.onDeclined(match, tickets, decliner)
	}
	return true
}

// SweepTimeouts dissolves every match whose accept deadline has passed without full
// acceptance, applying dodge penalties to every non-accepting player.
func (c *AcceptCoordinator) SweepTimeouts(now time.Time) {
	c.mu.Lock()

	var expired []*pendingMatch
	for id, pm := range c.pending {
		if now.After(pm.match.AcceptDeadline) {
			expired = append(expired, pm)
			delete(c.pending, id)
		}
	}

	type fireout struct {
		match   entities.MatchInfo
		tickets []entities.QueueTicket
	}
	var toFire []fireout

	for _, pm := range expired {
		match := pm.match
		match.State = entities.MatchCancelled
		tickets := collectTickets(pm)

		for ticketID, t := range pm.tickets {
			if _, accepted := pm.accepted[ticketID]; !accepted {
				c.applyDodgePenaltyLocked(t.PlayerID)
			}
		}

		toFire = append(toFire, fireout{match: match, tickets: tickets})
	}
	c.mu.Unlock()

	for _, f := range toFire {
		if c.onDeclined != nil {
			c.onDeclined(f.match, f.tickets, nil)
		}
	}
}

// PruneStaleDodgeEntries drops ledger entries whose last incident is older than 24h.
func (c *AcceptCoordinator) PruneStaleDodgeEntries(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := 0
	for id, rec := range c.dodge {
		if now.Sub(rec.LastIncidentAt) > dodgeResetAfter {
			delete(c.dodge, id)
			pruned++
		}
	}
	return pruned
}

// GetDodgePenalty exposes the current ledger entry for a player, if any.
func (c *AcceptCoordinator) GetDodgePenalty(playerID uuid.UUID) *entities.DodgePenaltyRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.dodge[playerID]
	if !ok {
		return nil
	}
	clone := *rec
	return &clone
}

// LoadDodgePenalty seeds the in-memory ledger from a persisted record (used at
// startup rehydration).
func (c *AcceptCoordinator) LoadDodgePenalty(record entities.DodgePenaltyRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := record
	c.dodge[record.PlayerID] = &r
}

func (c *AcceptCoordinator) applyDodgePenaltyLocked(playerID uuid.UUID) {
	now := time.Now().UTC()

	rec, ok := c.dodge[playerID]
	if !ok || now.Sub(rec.LastIncidentAt) > dodgeResetAfter {
		rec = &entities.DodgePenaltyRecord{PlayerID: playerID}
	}

	rec.Count++
	rec.LastIncidentAt = now

	idx := rec.Count - 1
	if idx >= len(dodgeEscalator) {
		idx = len(dodgeEscalator) - 1
	}
	until := now.Add(dodgeEscalator[idx])
	rec.PenaltyUntil = &until

	c.dodge[playerID] = rec
}

func collectTickets(pm *pendingMatch) []entities.QueueTicket {
	tickets := make([]entities.QueueTicket, 0, len(pm.tickets))
	for _, t := range pm.tickets {
		tickets = append(tickets, *t)
	}
	return tickets
}

func newAcceptToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
