package entities

import "encoding/json"

// IntentType tags the heterogeneous intent union. Unknown tags are dropped with a log
// line rather than rejected, so rolling client upgrades degrade gracefully.
type IntentType string

const (
	IntentMovement         IntentType = "movement"
	IntentBuild            IntentType = "build"
	IntentChat             IntentType = "chat"
	IntentEmoji            IntentType = "emoji"
	IntentEmbargo          IntentType = "embargo"
	IntentAllianceRequest  IntentType = "alliance_request"
	IntentAllianceReply    IntentType = "alliance_reply"
	IntentAllianceBreak    IntentType = "alliance_break"
	IntentAllianceExtend   IntentType = "alliance_extend"
	IntentDonate           IntentType = "donate"
	IntentAttack           IntentType = "attack"
	IntentCancel           IntentType = "cancel"
	IntentTarget           IntentType = "target"
	IntentKickPlayer       IntentType = "kick_player"
	IntentUpdateConfig     IntentType = "update_config"
	IntentTogglePause      IntentType = "toggle_pause"
	IntentMarkDisconnected IntentType = "mark_disconnected" // server-synthesized only
	IntentSendWinner       IntentType = "send_winner"
)

// Intent is one client-originated (or server-synthesized, for mark_disconnected)
// action observed during a turn interval. Payload carries the type-specific fields;
// handlers switch on Type and decode Payload as needed.
type Intent struct {
	Type     IntentType             `json:"type"`
	ClientID string                 `json:"clientID"`
	Payload  map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Payload's keys alongside type/clientID, so a client sees one
// object rather than a nested envelope.
func (i Intent) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(i.Payload)+2)
	for k, v := range i.Payload {
		out[k] = v
	}
	out["type"] = i.Type
	out["clientID"] = i.ClientID
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse: type/clientID are lifted into their fields, and every
// other key is kept as Payload.
func (i *Intent) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if t, ok := raw["type"].(string); ok {
		i.Type = IntentType(t)
	}
	if c, ok := raw["clientID"].(string); ok {
		i.ClientID = c
	}
	delete(raw, "type")
	delete(raw, "clientID")
	i.Payload = raw

	return nil
}

// NewMarkDisconnectedIntent synthesizes the liveness-sweep transition so every client
// observes a peer's disconnect/reconnect as a regular intent at the same turn.
func NewMarkDisconnectedIntent(clientID string, disconnected bool) Intent {
	return Intent{
		Type:     IntentMarkDisconnected,
		ClientID: clientID,
		Payload:  map[string]interface{}{"disconnected": disconnected},
	}
}
