package entities

import "time"

// AccessGrant is the narrow contract this server consumes from the out-of-scope
// identity/privilege service: an external identity plus the roles it was granted. No
// privilege policy lives here, only the intersection check in SessionConfig.RequiredRoles.
type AccessGrant struct {
	ExternalID string
	Roles      []string
}

func (g AccessGrant) HasAnyRole(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(g.Roles))
	for _, r := range g.Roles {
		have[r] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; ok {
			return true
		}
	}
	return false
}

// StreamHandle is the non-owning handle the session keeps to a client's live
// connection: just enough surface to push a message and force a close. The session
// never owns the socket itself, only this handle, so stream closure on either side
// never creates a destructor cycle.
type StreamHandle interface {
	Send(message []byte) error
	Close(code int, reason string) error
	RemoteIP() string
}

// Client is one participant attached to a session. PersistentID is the identity key
// across reconnects; ClientID is the per-stream identifier a fresh connection
// presents.
type Client struct {
	ClientID     string
	PersistentID string
	IP           string
	DisplayName  string
	CosmeticIDs  []string

	AccessGrant *AccessGrant

	LastPing time.Time

	ReportedWinner *WinnerDescriptor

	// HashByTurn holds every hash this client has reported, keyed by turn number, so
	// reconciliation can look back. PruneHashes drops entries more than 20 turns
	// behind the current turn.
	HashByTurn map[int]uint64

	// DesyncNotified records which reconciliation turns this client has already
	// received a Desync message for, so it is never re-sent for the same turn.
	DesyncNotified map[int]struct{}

	Disconnected bool

	Stream StreamHandle
}

func NewClient(clientID, persistentID, ip, displayName string, cosmetics []string, grant *AccessGrant, stream StreamHandle) *Client {
	return &Client{
		ClientID:       clientID,
		PersistentID:   persistentID,
		IP:             ip,
		DisplayName:    displayName,
		CosmeticIDs:    cosmetics,
		AccessGrant:    grant,
		LastPing:       time.Now().UTC(),
		HashByTurn:     make(map[int]uint64),
		DesyncNotified: make(map[int]struct{}),
		Stream:         stream,
	}
}

func (c *Client) Touch() {
	c.LastPing = time.Now().UTC()
}

// PruneHashes drops hash entries more than 20 turns behind currentTurn, bounding
// per-client memory.
func (c *Client) PruneHashes(currentTurn int) {
	for turn := range c.HashByTurn {
		if currentTurn-turn > 20 {
			delete(c.HashByTurn, turn)
		}
	}
}
