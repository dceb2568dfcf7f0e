package entities

import (
	"time"

	"github.com/google/uuid"
)

// RosterEntry is one participant's snapshot as persisted on the final SessionRecord.
type RosterEntry struct {
	PersistentID string                 `json:"persistent_id" bson:"persistent_id"`
	DisplayName  string                 `json:"display_name" bson:"display_name"`
	ClanTag      string                 `json:"clan_tag,omitempty" bson:"clan_tag,omitempty"`
	Stats        map[string]interface{} `json:"stats,omitempty" bson:"stats,omitempty"`
}

// SessionRecord is the archival form of a finished session, owned by the Archive once
// emitted. It is emitted exactly once per finalized session (either at End(), or
// immediately on winner adoption, whichever happens first).
type SessionRecord struct {
	SessionID uuid.UUID         `json:"session_id" bson:"_id"`
	Config    SessionConfig     `json:"config" bson:"config"`
	Roster    []RosterEntry     `json:"roster" bson:"roster"`
	Turns     []Turn            `json:"turns" bson:"turns"`
	StartedAt time.Time         `json:"started_at" bson:"started_at"`
	EndedAt   time.Time         `json:"ended_at" bson:"ended_at"`
	Winner    *WinnerDescriptor `json:"winner,omitempty" bson:"winner,omitempty"`
}
