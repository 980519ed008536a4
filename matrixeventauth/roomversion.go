// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package matrixeventauth

// EventFormat identifies the shape of an event ID for a room version.
type EventFormat int

const (
	// EventFormatV1 is the original "$id:server" event ID format.
	EventFormatV1 EventFormat = iota + 1
	// EventFormatV2 is the MSC1659-style "$hash" format introduced for room version 3.
	EventFormatV2
	// EventFormatV3 is the MSC1884-style "$hash" format introduced for room version 4.
	EventFormatV3
)

// StateResAlgorithm identifies which state-resolution algorithm a room
// version couples with. The authorization engine does not run state
// resolution itself; it only reports this so a caller's state-resolution
// subsystem knows which algorithm to run alongside auth decisions.
type StateResAlgorithm int

const (
	StateResV1 StateResAlgorithm = iota + 1
	StateResV2
)

// Disposition marks whether a room version is a stable release or an
// unstable, MSC-gated draft. It has no effect on authorization rules or on
// RoomVersionCapabilities; it lets callers tell stable from unstable
// versions (authconfig's AcceptedRoomVersions filters on it).
type Disposition string

const (
	DispositionStable   Disposition = "stable"
	DispositionUnstable Disposition = "unstable"
)

// RoomVersion is an immutable record of the behavioral flags that select an
// authorization rule dialect. Once published, a RoomVersion's fields never
// change — see spec.md §4.2. Construct new ones only by adding entries to
// the registry below, never by mutating an existing value.
type RoomVersion struct {
	Identifier  string
	Disposition Disposition
	EventFormat EventFormat
	StateRes    StateResAlgorithm

	EnforceKeyValidity bool

	// SpecialCaseAliasesAuth: pre-MSC2432, m.room.aliases events have
	// special auth rules (no power-level check, state key must equal the
	// sender's domain).
	SpecialCaseAliasesAuth bool

	// StrictCanonicalJSON rejects floats, NaN, and integers outside
	// ±(2^53-1) wherever the engine reads numeric content.
	StrictCanonicalJSON bool

	// LimitNotificationsPowerLevels: MSC2209, check the 'notifications' key
	// when authorizing a power-levels event.
	LimitNotificationsPowerLevels bool

	// UpdatedRedactionRules: MSC2176, removes the same-domain shortcut from
	// redaction authorization.
	UpdatedRedactionRules bool

	// RestrictedJoinRule: MSC3083, the 'restricted' join rule and the
	// join_authorised_via_users_server mechanism.
	RestrictedJoinRule bool

	// Knocking: MSC2403, the 'knock' membership and join rule.
	Knocking bool

	// HistoricalEvents: MSC2716, content.historical gating for
	// insertion/chunk/marker events. The authorization engine does not
	// interpret historical events specially beyond this flag being
	// queryable; batch-send semantics live in the caller's timeline logic.
	HistoricalEvents bool

	// RestrictedJoinAuthorizerLevel is the power-level key a restricted
	// join's designated authorizer must meet or exceed. spec.md §9 flags
	// this as an open question ("some drafts use kick instead of invite");
	// the registry pins it per room version rather than hard-coding
	// "invite" everywhere, so a future version can diverge without
	// touching the membership state machine.
	RestrictedJoinAuthorizerLevel PowerLevelKey
}

// PowerLevelKey names one of the named thresholds in a power-levels event
// (as opposed to a per-user or per-event-type override).
type PowerLevelKey int

const (
	PowerLevelBan PowerLevelKey = iota
	PowerLevelKick
	PowerLevelRedact
	PowerLevelInvite
	PowerLevelStateDefault
	PowerLevelEventsDefault
	PowerLevelUsersDefault
)

var (
	RoomVersionV1 = RoomVersion{
		Identifier: "1", Disposition: DispositionStable,
		EventFormat: EventFormatV1, StateRes: StateResV1,
		SpecialCaseAliasesAuth:       true,
		RestrictedJoinAuthorizerLevel: PowerLevelInvite,
	}
	RoomVersionV2 = RoomVersion{
		Identifier: "2", Disposition: DispositionStable,
		EventFormat: EventFormatV1, StateRes: StateResV2,
		SpecialCaseAliasesAuth:       true,
		RestrictedJoinAuthorizerLevel: PowerLevelInvite,
	}
	RoomVersionV3 = RoomVersion{
		Identifier: "3", Disposition: DispositionStable,
		EventFormat: EventFormatV2, StateRes: StateResV2,
		SpecialCaseAliasesAuth:       true,
		RestrictedJoinAuthorizerLevel: PowerLevelInvite,
	}
	RoomVersionV4 = RoomVersion{
		Identifier: "4", Disposition: DispositionStable,
		EventFormat: EventFormatV3, StateRes: StateResV2,
		SpecialCaseAliasesAuth:       true,
		RestrictedJoinAuthorizerLevel: PowerLevelInvite,
	}
	RoomVersionV5 = RoomVersion{
		Identifier: "5", Disposition: DispositionStable,
		EventFormat: EventFormatV3, StateRes: StateResV2,
		EnforceKeyValidity:           true,
		SpecialCaseAliasesAuth:       true,
		RestrictedJoinAuthorizerLevel: PowerLevelInvite,
	}
	RoomVersionV6 = RoomVersion{
		Identifier: "6", Disposition: DispositionStable,
		EventFormat: EventFormatV3, StateRes: StateResV2,
		EnforceKeyValidity:            true,
		StrictCanonicalJSON:           true,
		LimitNotificationsPowerLevels: true,
		RestrictedJoinAuthorizerLevel: PowerLevelInvite,
	}
	RoomVersionMSC2176 = RoomVersion{
		Identifier: "org.matrix.msc2176", Disposition: DispositionUnstable,
		EventFormat: EventFormatV3, StateRes: StateResV2,
		EnforceKeyValidity:            true,
		StrictCanonicalJSON:           true,
		LimitNotificationsPowerLevels: true,
		UpdatedRedactionRules:         true,
		RestrictedJoinAuthorizerLevel: PowerLevelInvite,
	}
	RoomVersionMSC3083 = RoomVersion{
		Identifier: "org.matrix.msc3083.v2", Disposition: DispositionUnstable,
		EventFormat: EventFormatV3, StateRes: StateResV2,
		EnforceKeyValidity:            true,
		StrictCanonicalJSON:           true,
		LimitNotificationsPowerLevels: true,
		RestrictedJoinRule:            true,
		RestrictedJoinAuthorizerLevel: PowerLevelInvite,
	}
	RoomVersionV7 = RoomVersion{
		Identifier: "7", Disposition: DispositionStable,
		EventFormat: EventFormatV3, StateRes: StateResV2,
		EnforceKeyValidity:            true,
		StrictCanonicalJSON:           true,
		LimitNotificationsPowerLevels: true,
		Knocking:                      true,
		RestrictedJoinAuthorizerLevel: PowerLevelInvite,
	}
	RoomVersionMSC2716 = RoomVersion{
		Identifier: "org.matrix.msc2716", Disposition: DispositionStable,
		EventFormat: EventFormatV3, StateRes: StateResV2,
		EnforceKeyValidity:            true,
		StrictCanonicalJSON:           true,
		LimitNotificationsPowerLevels: true,
		Knocking:                      true,
		HistoricalEvents:              true,
		RestrictedJoinAuthorizerLevel: PowerLevelInvite,
	}
)

// knownRoomVersions is the process-global, immutable registry (C2). It is
// built once (via init) and only ever read afterwards, so it is safe to
// share across every caller goroutine without synchronization, per
// spec.md §5.
var knownRoomVersions map[string]RoomVersion

func init() {
	knownRoomVersions = make(map[string]RoomVersion, 10)
	for _, v := range []RoomVersion{
		RoomVersionV1, RoomVersionV2, RoomVersionV3, RoomVersionV4, RoomVersionV5,
		RoomVersionV6, RoomVersionMSC2176, RoomVersionMSC3083, RoomVersionV7,
		RoomVersionMSC2716,
	} {
		knownRoomVersions[v.Identifier] = v
	}
}

// LookupRoomVersion returns the room version record for identifier, or a
// CodeUnknownRoomVersion *AuthError if it isn't in the registry.
func LookupRoomVersion(identifier string) (RoomVersion, error) {
	v, ok := knownRoomVersions[identifier]
	if !ok {
		return RoomVersion{}, reject(CodeUnknownRoomVersion, "room_version", "unknown room version %q", identifier)
	}
	return v, nil
}

// KnownRoomVersions returns every registered room version. The slice is a
// fresh copy per call; mutating it does not affect the registry.
func KnownRoomVersions() []RoomVersion {
	out := make([]RoomVersion, 0, len(knownRoomVersions))
	for _, v := range knownRoomVersions {
		out = append(out, v)
	}
	return out
}
