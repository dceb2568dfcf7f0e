package accept

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontierwars/session-engine/pkg/domain/ranked/entities"
)

func testMatch(tickets ...entities.QueueTicket) entities.MatchInfo {
	ids := make([]uuid.UUID, len(tickets))
	for i, t := range tickets {
		ids[i] = t.ID
	}
	return entities.MatchInfo{ID: uuid.New(), Mode: "duel", Region: "na", TicketIDs: ids}
}

func TestAllTicketsAcceptingTransitionsToReady(t *testing.T) {
	var mu sync.Mutex
	var gotReady bool

	c := NewAcceptCoordinator(func(m entities.MatchInfo, tickets []entities.QueueTicket) {
		mu.Lock()
		defer mu.Unlock()
		gotReady = true
		assert.Equal(t, entities.MatchReady, m.State)
	}, nil)

	t1 := entities.QueueTicket{ID: uuid.New(), PlayerID: uuid.New()}
	t2 := entities.QueueTicket{ID: uuid.New(), PlayerID: uuid.New()}
	match := testMatch(t1, t2)

	tokens := c.RegisterMatch(match, []entities.QueueTicket{t1, t2})

	assert.True(t, c.Accept(match.ID, t1.ID, tokens[t1.ID]))
	assert.True(t, c.Accept(match.ID, t2.ID, tokens[t2.ID]))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, gotReady)
}

func TestDeclineAppliesDodgePenalty(t *testing.T) {
	var declinedTicket *uuid.UUID

	c := NewAcceptCoordinator(nil, func(m entities.MatchInfo, tickets []entities.QueueTicket, decliner *uuid.UUID) {
		declinedTicket = decliner
	})

	t1 := entities.QueueTicket{ID: uuid.New(), PlayerID: uuid.New()}
	t2 := entities.QueueTicket{ID: uuid.New(), PlayerID: uuid.New()}
	match := testMatch(t1, t2)
	c.RegisterMatch(match, []entities.QueueTicket{t1, t2})

	c.Decline(match.ID, t1.ID)

	require.NotNil(t, declinedTicket)
	assert.Equal(t, t1.ID, *declinedTicket)

	rec := c.GetDodgePenalty(t1.PlayerID)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.Count)
	assert.True(t, rec.IsBlocked(time.Now().UTC().Add(119*time.Second)))
	assert.False(t, rec.IsBlocked(time.Now().UTC().Add(121*time.Second)))
}

func TestSweepTimeoutsDissolvesExpiredMatches(t *testing.T) {
	var gotCancelled bool
	c := NewAcceptCoordinator(nil, func(m entities.MatchInfo, tickets []entities.QueueTicket, decliner *uuid.UUID) {
		gotCancelled = true
		assert.Nil(t, decliner)
	})

	t1 := entities.QueueTicket{ID: uuid.New(), PlayerID: uuid.New()}
	match := testMatch(t1)
	c.RegisterMatch(match, []entities.QueueTicket{t1})

	c.SweepTimeouts(time.Now().UTC().Add(13 * time.Second))
	assert.True(t, gotCancelled)
}
