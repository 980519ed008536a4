// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package matrixeventauth

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fixture builders, modeled on test_event_auth.py's _create_event /
// _member_event / _power_levels_event / _join_rules_event / _alias_event
// helpers, reexpressed as idiomatic Go test builders. ---

var eventCounter int

func nextEventID() string {
	eventCounter++
	return fmt.Sprintf("$event%d:example.com", eventCounter)
}

func mustContent(t *testing.T, v map[string]interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func createEvent(t *testing.T, creator string) *Event {
	t.Helper()
	domain, err := DomainOf(creator)
	require.NoError(t, err)
	empty := ""
	return &Event{
		RoomID:   "!room:" + domain,
		EventID:  nextEventID(),
		Sender:   creator,
		Type:     typeCreate,
		StateKey: &empty,
		Content:  mustContent(t, map[string]interface{}{"creator": creator}),
	}
}

func memberEvent(t *testing.T, roomID, target, membership, sender string, extra map[string]interface{}) *Event {
	t.Helper()
	content := map[string]interface{}{"membership": membership}
	for k, v := range extra {
		content[k] = v
	}
	if sender == "" {
		sender = target
	}
	return &Event{
		RoomID:   roomID,
		EventID:  nextEventID(),
		Sender:   sender,
		Type:     typeMember,
		StateKey: &target,
		Content:  mustContent(t, content),
	}
}

func joinEvent(t *testing.T, roomID, userID string, extra map[string]interface{}) *Event {
	return memberEvent(t, roomID, userID, string(MembershipJoin), userID, extra)
}

func powerLevelsEvent(t *testing.T, roomID, sender string, levels map[string]interface{}) *Event {
	t.Helper()
	empty := ""
	return &Event{
		RoomID:   roomID,
		EventID:  nextEventID(),
		Sender:   sender,
		Type:     typePowerLevels,
		StateKey: &empty,
		Content:  mustContent(t, levels),
	}
}

func joinRulesEvent(t *testing.T, roomID, sender, rule string) *Event {
	t.Helper()
	empty := ""
	return &Event{
		RoomID:   roomID,
		EventID:  nextEventID(),
		Sender:   sender,
		Type:     typeJoinRules,
		StateKey: &empty,
		Content:  mustContent(t, map[string]interface{}{"join_rule": rule}),
	}
}

func aliasEvent(t *testing.T, roomID, sender, stateKey string) *Event {
	t.Helper()
	return &Event{
		RoomID:   roomID,
		EventID:  nextEventID(),
		Sender:   sender,
		Type:     typeAliases,
		StateKey: &stateKey,
		Content:  mustContent(t, map[string]interface{}{"aliases": []string{}}),
	}
}

func randomStateEvent(t *testing.T, roomID, sender string) *Event {
	t.Helper()
	key := ""
	return &Event{
		RoomID:   roomID,
		EventID:  nextEventID(),
		Sender:   sender,
		Type:     "com.example.test",
		StateKey: &key,
		Content:  mustContent(t, map[string]interface{}{}),
	}
}

func authEventsWith(events ...*Event) AuthEvents {
	out := make(AuthEvents, len(events))
	for _, e := range events {
		var stateKey string
		if e.StateKey != nil {
			stateKey = *e.StateKey
		}
		out[AuthEventKey{Type: e.Type, StateKey: stateKey}] = e
	}
	return out
}

// baseRoom builds create(@creator) + join(@creator) auth events, the
// minimal scaffold every scenario below starts from.
func baseRoom(t *testing.T, creator string) (roomID string, auth AuthEvents, create *Event) {
	t.Helper()
	create = createEvent(t, creator)
	join := joinEvent(t, create.RoomID, creator, nil)
	return create.RoomID, authEventsWith(create, join), create
}

// --- S1-S8 end-to-end scenarios (spec.md §8) ---

func TestScenario_S1_InsufficientPowerDefault(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")
	joiner := joinEvent(t, roomID, "@j:example.com", nil)
	auth = authEventsWith(append(authEventsToSlice(auth), joiner)...)

	ev := randomStateEvent(t, roomID, "@j:example.com")
	err := Check(RoomVersionV1, ev, auth, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeInsufficientPower, err.Code)
}

func TestScenario_S2_PowerLevelsGrantsAccess(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")
	joiner := joinEvent(t, roomID, "@j:example.com", nil)
	events := authEventsToSlice(auth)
	events = append(events, joiner)
	events = append(events, joinEvent(t, roomID, "@p:example.com", nil), joinEvent(t, roomID, "@k:example.com", nil))
	pl := powerLevelsEvent(t, roomID, "@c:example.com", map[string]interface{}{
		"state_default": 30,
		"users":         map[string]interface{}{"@p:example.com": 29, "@k:example.com": 30},
	})
	events = append(events, pl)
	auth = authEventsWith(events...)

	okEvent := randomStateEvent(t, roomID, "@k:example.com")
	require.Nil(t, Check(RoomVersionV1, okEvent, auth, false, nil))

	rejectEvent := randomStateEvent(t, roomID, "@p:example.com")
	err := Check(RoomVersionV1, rejectEvent, auth, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeInsufficientPower, err.Code)
}

func TestScenario_S3_AliasSpecialCaseV1(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")

	good := aliasEvent(t, roomID, "@c:example.com", "example.com")
	require.Nil(t, Check(RoomVersionV1, good, auth, false, nil))

	emptyKey := aliasEvent(t, roomID, "@c:example.com", "")
	err := Check(RoomVersionV1, emptyKey, auth, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeBadAliasStateKey, err.Code)

	otherDomain := aliasEvent(t, roomID, "@c:example.com", "other.com")
	err = Check(RoomVersionV1, otherDomain, auth, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeBadAliasStateKey, err.Code)
}

func TestScenario_S4_AliasNoSpecialCaseV6(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")

	emptyKey := aliasEvent(t, roomID, "@c:example.com", "")
	assert.Nil(t, Check(RoomVersionV6, emptyKey, auth, false, nil))

	otherDomain := aliasEvent(t, roomID, "@c:example.com", "other.com")
	assert.Nil(t, Check(RoomVersionV6, otherDomain, auth, false, nil))
}

func TestScenario_S5_InviteOnlyRejectsBareJoin(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")
	events := authEventsToSlice(auth)
	events = append(events, joinRulesEvent(t, roomID, "@c:example.com", "invite"))
	auth = authEventsWith(events...)

	join := joinEvent(t, roomID, "@p:example.com", nil)
	err := Check(RoomVersionV6, join, auth, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeForbidden, err.Code)
}

func TestScenario_S6_InviteOnlyAllowsInvitedJoin(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")
	events := authEventsToSlice(auth)
	events = append(events, joinRulesEvent(t, roomID, "@c:example.com", "invite"))
	events = append(events, memberEvent(t, roomID, "@p:example.com", string(MembershipInvite), "@c:example.com", nil))
	auth = authEventsWith(events...)

	join := joinEvent(t, roomID, "@p:example.com", nil)
	assert.Nil(t, Check(RoomVersionV6, join, auth, false, nil))
}

func TestScenario_S7_RestrictedMissingAuthoriser(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")
	events := authEventsToSlice(auth)
	events = append(events, powerLevelsEvent(t, roomID, "@c:example.com", map[string]interface{}{"invite": 0}))
	events = append(events, joinRulesEvent(t, roomID, "@c:example.com", "restricted"))
	auth = authEventsWith(events...)

	join := joinEvent(t, roomID, "@p:example.com", nil)
	err := Check(RoomVersionMSC3083, join, auth, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeMissingAuthorisedVia, err.Code)
}

func TestScenario_S8_RestrictedValidAuthoriser(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")
	events := authEventsToSlice(auth)
	events = append(events, powerLevelsEvent(t, roomID, "@c:example.com", map[string]interface{}{"invite": 0}))
	events = append(events, joinRulesEvent(t, roomID, "@c:example.com", "restricted"))
	auth = authEventsWith(events...)

	join := joinEvent(t, roomID, "@p:example.com", map[string]interface{}{
		"join_authorised_via_users_server": "@c:example.com",
	})
	assert.Nil(t, Check(RoomVersionMSC3083, join, auth, false, nil))
}

// --- invariant property tests (spec.md §8) ---

func TestInvariant_Determinism(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")
	ev := randomStateEvent(t, roomID, "@c:example.com")
	r1 := Check(RoomVersionV6, ev, auth, false, nil)
	r2 := Check(RoomVersionV6, ev, auth, false, nil)
	assert.Equal(t, r1, r2)
}

func TestInvariant_CreatorOmnipotenceBeforeFirstPowerLevels(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")
	events := authEventsToSlice(auth)
	events = append(events, joinEvent(t, roomID, "@other:example.com", nil))
	auth = authEventsWith(events...)

	creatorEvent := randomStateEvent(t, roomID, "@c:example.com")
	assert.Nil(t, Check(RoomVersionV6, creatorEvent, auth, false, nil))

	otherEvent := randomStateEvent(t, roomID, "@other:example.com")
	err := Check(RoomVersionV6, otherEvent, auth, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeInsufficientPower, err.Code)
}

func TestInvariant_BanDominance(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")
	events := authEventsToSlice(auth)
	events = append(events, joinRulesEvent(t, roomID, "@c:example.com", "public"))
	events = append(events, memberEvent(t, roomID, "@p:example.com", string(MembershipBan), "@c:example.com", nil))
	auth = authEventsWith(events...)

	join := joinEvent(t, roomID, "@p:example.com", nil)
	err := Check(RoomVersionV6, join, auth, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeBanned, err.Code)

	knock := memberEvent(t, roomID, "@p:example.com", string(MembershipKnock), "@p:example.com", nil)
	err = Check(RoomVersionV7, knock, auth, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeBanned, err.Code)
}

func TestInvariant_NoForceJoin(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")
	events := authEventsToSlice(auth)
	events = append(events, joinRulesEvent(t, roomID, "@c:example.com", "public"))
	auth = authEventsWith(events...)

	forced := memberEvent(t, roomID, "@p:example.com", string(MembershipJoin), "@c:example.com", nil)
	err := Check(RoomVersionV6, forced, auth, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeForbidden, err.Code)
}

func TestInvariant_MonotoneStateDefault(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")
	events := authEventsToSlice(auth)
	events = append(events, joinEvent(t, roomID, "@low:example.com", nil))
	events = append(events, powerLevelsEvent(t, roomID, "@c:example.com", map[string]interface{}{
		"state_default": 40,
		"users":         map[string]interface{}{"@low:example.com": 10},
	}))
	auth = authEventsWith(events...)

	ev := randomStateEvent(t, roomID, "@low:example.com")
	err := Check(RoomVersionV6, ev, auth, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeInsufficientPower, err.Code)
}

func TestInvariant_VersionCapabilityConsistency(t *testing.T) {
	caps := RoomVersionCapabilities()
	knock := caps["knock"]
	for _, v := range KnownRoomVersions() {
		inList := false
		for _, id := range knock.SupportingVersions {
			if id == v.Identifier {
				inList = true
			}
		}
		assert.Equal(t, v.Knocking, inList, "version %s knocking=%v but capability list mismatch", v.Identifier, v.Knocking)
	}
}

// --- supporting unit tests ---

func TestCheck_RejectsMissingCreate(t *testing.T) {
	ev := randomStateEvent(t, "!room:example.com", "@c:example.com")
	err := Check(RoomVersionV6, ev, AuthEvents{}, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeMissingCreate, err.Code)
}

func TestCheck_RejectsSenderNotInRoom(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")
	ev := randomStateEvent(t, roomID, "@stranger:example.com")
	err := Check(RoomVersionV6, ev, auth, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeSenderNotInRoom, err.Code)
}

func TestCheck_CreateEventRejectsMismatchedCreator(t *testing.T) {
	empty := ""
	ev := &Event{
		RoomID:   "!room:example.com",
		EventID:  nextEventID(),
		Sender:   "@c:example.com",
		Type:     typeCreate,
		StateKey: &empty,
		Content:  mustContent(t, map[string]interface{}{"creator": "@other:example.com"}),
	}
	err := Check(RoomVersionV6, ev, AuthEvents{}, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeInvalidCreate, err.Code)
}

func TestCheck_SignatureGate(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")
	ev := randomStateEvent(t, roomID, "@c:example.com")

	called := false
	verifier := func(e *Event, domains []string) error {
		called = true
		return nil
	}
	assert.Nil(t, Check(RoomVersionV6, ev, auth, true, verifier))
	assert.True(t, called)

	failing := func(e *Event, domains []string) error { return fmt.Errorf("bad sig") }
	err := Check(RoomVersionV6, ev, auth, true, failing)
	require.NotNil(t, err)
	assert.Equal(t, CodeSignatureError, err.Code)
}

func TestCheck_KickRequiresSufficientPower(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")
	events := authEventsToSlice(auth)
	events = append(events, joinEvent(t, roomID, "@p:example.com", nil))
	events = append(events, powerLevelsEvent(t, roomID, "@c:example.com", map[string]interface{}{
		"kick":  50,
		"users": map[string]interface{}{"@c:example.com": 100, "@p:example.com": 40},
	}))
	auth = authEventsWith(events...)

	kick := memberEvent(t, roomID, "@p:example.com", string(MembershipLeave), "@c:example.com", nil)
	assert.Nil(t, Check(RoomVersionV6, kick, auth, false, nil))

	kickByLowPower := memberEvent(t, roomID, "@p:example.com", string(MembershipLeave), "@p2:example.com", nil)
	events2 := append(authEventsToSlice(auth), joinEvent(t, roomID, "@p2:example.com", nil))
	err := Check(RoomVersionV6, kickByLowPower, authEventsWith(events2...), false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeInsufficientPower, err.Code)
}

func TestCheck_RedactionDomainShortcut(t *testing.T) {
	roomID, auth, _ := baseRoom(t, "@c:example.com")
	events := authEventsToSlice(auth)
	events = append(events, joinEvent(t, roomID, "@p:example.com", nil))
	auth = authEventsWith(events...)

	redaction := &Event{
		RoomID:  roomID,
		EventID: nextEventID(),
		Sender:  "@p:example.com",
		Type:    typeRedaction,
		Redacts: "$orig:other.com",
		Content: mustContent(t, map[string]interface{}{}),
	}
	// @p is not on the same domain as the redacted event, so the shortcut
	// doesn't apply and the sender's redact level (0) is below default (50).
	err := Check(RoomVersionV6, redaction, auth, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeInsufficientPower, err.Code)

	redaction2 := &Event{
		RoomID:  roomID,
		EventID: nextEventID(),
		Sender:  "@p:example.com",
		Type:    typeRedaction,
		Redacts: "$orig:" + mustDomain(t, "@p:example.com"),
		Content: mustContent(t, map[string]interface{}{}),
	}
	assert.Nil(t, Check(RoomVersionV6, redaction2, auth, false, nil))

	// Updated-redaction-rules versions drop the same-domain shortcut
	// entirely, so the same event is rejected under org.matrix.msc2176
	// despite the domain match.
	err = Check(RoomVersionMSC2176, redaction2, auth, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, CodeInsufficientPower, err.Code)
}

func mustDomain(t *testing.T, id string) string {
	t.Helper()
	d, err := DomainOf(id)
	require.NoError(t, err)
	return d
}

// authEventsToSlice is a small test helper to rebuild a mutable slice from
// an AuthEvents map, since the map itself has no stable iteration order.
func authEventsToSlice(a AuthEvents) []*Event {
	out := make([]*Event, 0, len(a))
	for _, e := range a {
		out = append(out, e)
	}
	return out
}
