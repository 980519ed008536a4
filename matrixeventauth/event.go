// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package matrixeventauth

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Event is the read-only projection of a room event the engine needs (C3).
// It performs no validation beyond what the caller already guarantees by
// constructing one; per-rule content validation happens in the rule engine
// (C6), not here. If the room version mandates strict canonical JSON, the
// caller is expected to have built Content from an already-canonicalized
// source — the engine treats that as a precondition, not something it
// checks.
type Event struct {
	RoomID     string
	EventID    string
	Sender     string
	Type       string
	StateKey   *string
	Content    json.RawMessage
	PrevEvents []string
	Depth      int64
	Redacts    string
}

// IsState reports whether the event carries a state key (including the
// empty string, which is itself a valid state key).
func (e *Event) IsState() bool {
	return e.StateKey != nil
}

// content looks up a single field of the event's content by gjson path.
// Using gjson here (rather than unmarshaling Content into
// map[string]interface{}) keeps the distinction between a JSON number, a
// JSON string, and a float/exponent literal available to the power-level
// coercion rules in C4 — a generic interface{} unmarshal collapses that
// distinction into float64 and loses it.
func (e *Event) content(path string) gjson.Result {
	return gjson.GetBytes(e.Content, path)
}

// AuthEventKey identifies one entry of a room's auth-event set by
// (type, state_key), per spec.md §3.
type AuthEventKey struct {
	Type     string
	StateKey string
}

// AuthEvents is a keyed lookup of at most one event per (type, state_key).
// There is no insertion-order dependency — see spec.md §9.
type AuthEvents map[AuthEventKey]*Event

// Create returns the room's m.room.create auth event, or nil if absent.
func (a AuthEvents) Create() *Event {
	return a[AuthEventKey{Type: "m.room.create"}]
}

// JoinRules returns the room's m.room.join_rules auth event, or nil.
func (a AuthEvents) JoinRules() *Event {
	return a[AuthEventKey{Type: "m.room.join_rules"}]
}

// PowerLevels returns the room's m.room.power_levels auth event, or nil.
func (a AuthEvents) PowerLevels() *Event {
	return a[AuthEventKey{Type: "m.room.power_levels"}]
}

// Member returns the m.room.member auth event for userID, or nil if the
// user has no entry (equivalent to "never in the room").
func (a AuthEvents) Member(userID string) *Event {
	return a[AuthEventKey{Type: "m.room.member", StateKey: userID}]
}

// ThirdPartyInvite returns the m.room.third_party_invite auth event for the
// given token, or nil.
func (a AuthEvents) ThirdPartyInvite(token string) *Event {
	return a[AuthEventKey{Type: "m.room.third_party_invite", StateKey: token}]
}
