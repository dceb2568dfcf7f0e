package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontierwars/session-engine/pkg/domain/ranked/entities"
)

func mmr(v float64) *float64 { return &v }

func TestQueueMatchesWithinMMRWindow(t *testing.T) {
	var mu sync.Mutex
	var matched [][2]entities.QueueTicket

	q := NewMatchmakingQueue(func(a, b entities.QueueTicket) {
		mu.Lock()
		defer mu.Unlock()
		matched = append(matched, [2]entities.QueueTicket{a, b})
	})

	p1, p2 := uuid.New(), uuid.New()
	q.Join(JoinRequest{PlayerID: p1, Mode: "duel", Region: "na", MMR: mmr(1500)})
	q.Join(JoinRequest{PlayerID: p2, Mode: "duel", Region: "na", MMR: mmr(1550)})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, matched, 1)
	assert.ElementsMatch(t, []uuid.UUID{p1, p2}, []uuid.UUID{matched[0][0].PlayerID, matched[0][1].PlayerID})
	assert.Equal(t, entities.TicketMatched, matched[0][0].State)
}

func TestQueueUniquenessPerPlayer(t *testing.T) {
	q := NewMatchmakingQueue(nil)
	p1 := uuid.New()

	t1 := q.Join(JoinRequest{PlayerID: p1, Mode: "duel", Region: "na", MMR: mmr(1500)})
	t2 := q.Join(JoinRequest{PlayerID: p1, Mode: "duel", Region: "na", MMR: mmr(1500)})

	assert.NotEqual(t, t1.ID, t2.ID)
}

func TestLeaveRemovesQueuedTicket(t *testing.T) {
	q := NewMatchmakingQueue(nil)
	p1 := uuid.New()
	ticket := q.Join(JoinRequest{PlayerID: p1, Mode: "duel", Region: "eu"})

	ok := q.Leave(ticket.ID)
	assert.True(t, ok)

	ok = q.Leave(ticket.ID)
	assert.False(t, ok)
}

func TestMMRHalfWidthWidensOverTime(t *testing.T) {
	w, unbounded := mmrHalfWidth(0)
	assert.Equal(t, 100.0, w)
	assert.False(t, unbounded)

	w, unbounded = mmrHalfWidth(200 * time.Second)
	assert.Equal(t, 400.0, w)
	assert.True(t, unbounded)
}
