package out

import (
	"github.com/frontierwars/session-engine/pkg/domain/ranked/entities"
)

// RankedStreamPublisher fans ticket/match updates out to subscribed WebSocket
// connections. Its implementation (websocket.RankedHub) keys subscribers by player id
// only: an update reaches the connections of the ticket's own player, and there is
// no subscription by ticket id.
type RankedStreamPublisher interface {
	PublishTicketUpdate(ticket entities.QueueTicket, match *entities.MatchInfo)
}
