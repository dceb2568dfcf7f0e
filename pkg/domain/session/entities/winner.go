package entities

import (
	"fmt"
	"sort"
	"strings"
)

// WinnerDescriptorKind tags the winner variant.
type WinnerDescriptorKind string

const (
	WinnerKindPlayer WinnerDescriptorKind = "player"
	WinnerKindTeam   WinnerDescriptorKind = "team"
)

// WinnerDescriptor is the tagged variant submitted in a send_winner intent and, once
// adopted, stored on the SessionRecord. Serialized canonically (fixed field order,
// sorted member ids) so that vote keys compare byte-for-byte regardless of submission
// order.
type WinnerDescriptor struct {
	Kind       WinnerDescriptorKind `json:"kind"`
	ID         string               `json:"id,omitempty"`
	Team       string               `json:"team,omitempty"`
	MemberIDs  []string             `json:"memberIds,omitempty"`
}

// Key returns the canonical vote key for this descriptor.
func (w WinnerDescriptor) Key() string {
	switch w.Kind {
	case WinnerKindPlayer:
		return fmt.Sprintf("player:%s", w.ID)
	case WinnerKindTeam:
		members := append([]string(nil), w.MemberIDs...)
		sort.Strings(members)
		return fmt.Sprintf("team:%s:%s", w.Team, strings.Join(members, ","))
	default:
		return "unknown"
	}
}

// CreditedClientID is the single client id this win is attributed to. For a team win
// the first member listed in the descriptor is credited; whether this should instead
// be weighted by contribution is left open (see DESIGN.md).
func (w WinnerDescriptor) CreditedClientID() string {
	if w.Kind == WinnerKindPlayer {
		return w.ID
	}
	if len(w.MemberIDs) > 0 {
		return w.MemberIDs[0]
	}
	return ""
}
