package queue

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frontierwars/session-engine/pkg/domain/ranked/entities"
)

type bucketKey struct {
	Mode   string
	Region string
}

// JoinRequest is the input to Join.
type JoinRequest struct {
	PlayerID uuid.UUID
	Mode     string
	Region   string
	MMR      *float64
}

// OnMatchFunc is invoked whenever two tickets in a bucket are paired.
type OnMatchFunc func(a, b entities.QueueTicket)

// MatchmakingQueue holds, per (mode, region), an ordered bucket of queued tickets and
// runs the time-widening MMR search over it.
type MatchmakingQueue struct {
	mu       sync.Mutex
	buckets  map[bucketKey][]*entities.QueueTicket
	byPlayer map[uuid.UUID]*entities.QueueTicket // the player's current non-terminal ticket
	onMatch  OnMatchFunc
}

func NewMatchmakingQueue(onMatch OnMatchFunc) *MatchmakingQueue {
	return &MatchmakingQueue{
		buckets:  make(map[bucketKey][]*entities.QueueTicket),
		byPlayer: make(map[uuid.UUID]*entities.QueueTicket),
		onMatch:  onMatch,
	}
}

// Join returns the player's existing ticket if it is already in a non-queued state;
// otherwise cancels any prior queued ticket and inserts a fresh one at the tail,
// triggering a match attempt for its bucket.
func (q *MatchmakingQueue) Join(req JoinRequest) entities.QueueTicket {
	q.mu.Lock()

	if existing, ok := q.byPlayer[req.PlayerID]; ok {
		if existing.State != entities.TicketQueued {
			ticket := *existing
			q.mu.Unlock()
			return ticket
		}
		q.removeFromBucketLocked(existing)
		existing.State = entities.TicketCancelled
	}

	now := time.Now().UTC()
	ticket := &entities.QueueTicket{
		ID:        uuid.New(),
		PlayerID:  req.PlayerID,
		Mode:      req.Mode,
		Region:    req.Region,
		MMR:       req.MMR,
		State:     entities.TicketQueued,
		JoinedAt:  now,
		UpdatedAt: now,
	}

	key := bucketKey{Mode: req.Mode, Region: req.Region}
	q.buckets[key] = append(q.buckets[key], ticket)
	q.byPlayer[req.PlayerID] = ticket

	q.mu.Unlock()

	q.attemptMatch(key)

	return *ticket
}

// TicketForPlayer returns the player's current non-terminal ticket, if any -- used by
// the /ranked/ticket query endpoint so a reconnecting client can recover its queue
// position or match-accept state without having kept the ticket id client-side.
func (q *MatchmakingQueue) TicketForPlayer(playerID uuid.UUID) (entities.QueueTicket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.byPlayer[playerID]
	if !ok {
		return entities.QueueTicket{}, false
	}
	return *t, true
}

// Leave removes a ticket from its bucket if queued, marking it cancelled.
func (q *MatchmakingQueue) Leave(ticketID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for key, bucket := range q.buckets {
		for i, t := range bucket {
			if t.ID != ticketID {
				continue
			}
			if t.State != entities.TicketQueued {
				return false
			}
			q.buckets[key] = append(bucket[:i], bucket[i+1:]...)
			t.State = entities.TicketCancelled
			t.Touch()
			return true
		}
	}
	return false
}

// RestoreTickets rehydrates the in-memory queue from persisted state at startup,
// preserving bucket ordering by join time.
func (q *MatchmakingQueue) RestoreTickets(tickets []entities.QueueTicket) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range tickets {
		t := tickets[i]
		if t.State != entities.TicketQueued {
			continue
		}
		key := bucketKey{Mode: t.Mode, Region: t.Region}
		ticketCopy := t
		q.buckets[key] = append(q.buckets[key], &ticketCopy)
		q.byPlayer[t.PlayerID] = &ticketCopy
	}

	for key, bucket := range q.buckets {
		sortByJoinTime(bucket)
		q.buckets[key] = bucket
	}
}

// RequeueTickets resets declined/timed-out tickets to queued, refreshing their
// joinedAt -- declines cost queue priority by design.
func (q *MatchmakingQueue) RequeueTickets(tickets []entities.QueueTicket) {
	q.mu.Lock()
	keys := make(map[bucketKey]struct{})

	for i := range tickets {
		t := tickets[i]
		t.ClearMatch()
		t.JoinedAt = time.Now().UTC()
		t.Touch()

		key := bucketKey{Mode: t.Mode, Region: t.Region}
		ticketCopy := t
		q.buckets[key] = append(q.buckets[key], &ticketCopy)
		q.byPlayer[t.PlayerID] = &ticketCopy
		keys[key] = struct{}{}
	}
	q.mu.Unlock()

	for key := range keys {
		q.attemptMatch(key)
	}
}

// CompleteMatch removes every ticket associated with matchID, returning them marked
// completed.
func (q *MatchmakingQueue) CompleteMatch(matchID uuid.UUID) []entities.QueueTicket {
	q.mu.Lock()
	defer q.mu.Unlock()

	var completed []entities.QueueTicket
	for key, bucket := range q.buckets {
		remaining := bucket[:0]
		for _, t := range bucket {
			if t.MatchID != nil && *t.MatchID == matchID {
				t.State = entities.TicketCompleted
				t.Touch()
				completed = append(completed, *t)
				delete(q.byPlayer, t.PlayerID)
				continue
			}
			remaining = append(remaining, t)
		}
		q.buckets[key] = remaining
	}
	return completed
}

// RecalculateMatches is the periodic sweep that attempts a match in every bucket.
func (q *MatchmakingQueue) RecalculateMatches() {
	q.mu.Lock()
	keys := make([]bucketKey, 0, len(q.buckets))
	for k := range q.buckets {
		keys = append(keys, k)
	}
	q.mu.Unlock()

	for _, k := range keys {
		q.attemptMatch(k)
	}
}

// mmrHalfWidth implements the wait-time -> MMR half-width table from §4.3.
func mmrHalfWidth(waited time.Duration) (width float64, unbounded bool) {
	seconds := waited.Seconds()

	switch {
	case seconds <= 30:
		return 100, false
	case seconds <= 90:
		steps := math.Floor((seconds - 30) / 15)
		return 100 + 50*(steps+1), false
	case seconds <= 180:
		steps := math.Floor((seconds - 30) / 15)
		width = 100 + 50*(steps+1)
		if width > 400 {
			width = 400
		}
		return width, false
	default:
		return 400, true
	}
}

func (q *MatchmakingQueue) attemptMatch(key bucketKey) {
	q.mu.Lock()

	bucket := q.buckets[key]
	if len(bucket) < 2 {
		q.mu.Unlock()
		return
	}

	sortByJoinTime(bucket)
	oldest := bucket[0]

	width, unbounded := mmrHalfWidth(time.Since(oldest.JoinedAt))

	var bestIdx = -1
	var bestDistance = math.MaxFloat64

	for i := 1; i < len(bucket); i++ {
		candidate := bucket[i]
		if candidate.PlayerID == oldest.PlayerID {
			continue
		}

		if oldest.MMR == nil || candidate.MMR == nil || unbounded {
			distance := 0.0
			if oldest.MMR != nil && candidate.MMR != nil {
				distance = math.Abs(*oldest.MMR - *candidate.MMR)
			}
			if bestIdx == -1 || distance < bestDistance {
				bestIdx = i
				bestDistance = distance
			}
			continue
		}

		distance := math.Abs(*oldest.MMR - *candidate.MMR)
		if distance > width {
			continue
		}
		if bestIdx == -1 || distance < bestDistance {
			bestIdx = i
			bestDistance = distance
		}
	}

	if bestIdx == -1 {
		q.mu.Unlock()
		return
	}

	other := bucket[bestIdx]

	matchID := uuid.New()
	now := time.Now().UTC()

	oldest.State = entities.TicketMatched
	oldest.MatchID = &matchID
	oldest.Touch()

	other.State = entities.TicketMatched
	other.MatchID = &matchID
	other.Touch()

	remaining := make([]*entities.QueueTicket, 0, len(bucket)-2)
	for i, t := range bucket {
		if i == 0 || i == bestIdx {
			continue
		}
		remaining = append(remaining, t)
	}
	q.buckets[key] = remaining

	a, b := *oldest, *other
	_ = now
	q.mu.Unlock()

	if q.onMatch != nil {
		q.onMatch(a, b)
	}
}

func sortByJoinTime(bucket []*entities.QueueTicket) {
	for i := 1; i < len(bucket); i++ {
		for j := i; j > 0 && bucket[j].JoinedAt.Before(bucket[j-1].JoinedAt); j-- {
			bucket[j], bucket[j-1] = bucket[j-1], bucket[j]
		}
	}
}

func (q *MatchmakingQueue) removeFromBucketLocked(ticket *entities.QueueTicket) {
	key := bucketKey{Mode: ticket.Mode, Region: ticket.Region}
	bucket := q.buckets[key]
	for i, t := range bucket {
		if t.ID == ticket.ID {
			q.buckets[key] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}
