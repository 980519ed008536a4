// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package matrixeventauth

const (
	typeCreate           = "m.room.create"
	typeMember           = "m.room.member"
	typePowerLevels      = "m.room.power_levels"
	typeJoinRules        = "m.room.join_rules"
	typeAliases          = "m.room.aliases"
	typeThirdPartyInvite = "m.room.third_party_invite"
	typeRedaction        = "m.room.redaction"
)

// SignatureVerifier is the external collaborator the engine delegates to
// when do_sig_check is requested (spec.md §6). The engine never implements
// signature algorithms or key fetching itself.
type SignatureVerifier func(event *Event, requiredDomains []string) error

// Check is the top-level authorization predicate (C6, spec.md §4.6). It is
// a pure, synchronous function of its arguments: no I/O, no mutation of
// event or auth_events, safe to call concurrently from any number of
// goroutines.
//
// sigVerifier is consulted only when doSigCheck is true; pass nil when it
// is false.
func Check(version RoomVersion, event *Event, authEvents AuthEvents, doSigCheck bool, sigVerifier SignatureVerifier) *AuthError {
	if event == nil {
		return errorf("event is nil")
	}

	// 1. Signature gate.
	if doSigCheck {
		if sigVerifier == nil {
			return reject(CodeSignatureError, "", "signature check requested but no verifier supplied")
		}
		domains, derr := requiredSignatureDomains(event)
		if derr != nil {
			return derr
		}
		if err := sigVerifier(event, domains); err != nil {
			return reject(CodeSignatureError, "", "signature verification failed: %v", err)
		}
	}

	// 2. Create event.
	if event.Type == typeCreate {
		return checkCreateEvent(event)
	}

	// 3. Auth-events presence.
	create := authEvents.Create()
	if create == nil {
		return reject(CodeMissingCreate, "", "no m.room.create event in auth events")
	}
	if event.RoomID != create.RoomID {
		return reject(CodeRoomIDMismatch, "room_id", "event room %q does not match create event room %q", event.RoomID, create.RoomID)
	}

	powerLevels, plErr := ResolvePowerLevels(create, authEvents.PowerLevels(), version.StrictCanonicalJSON)
	if plErr != nil {
		return plErr
	}

	// 4. Sender membership, with the alias and third-party-invite
	// exceptions.
	senderMember := membershipOf(authEvents.Member(event.Sender))
	senderIsMember := senderMember == MembershipJoin

	isAliasException := version.SpecialCaseAliasesAuth && event.Type == typeAliases
	isThirdPartyJoin := event.Type == typeMember && membershipOf(event) == MembershipJoin && thirdPartyInviteMatches(authEvents, event)

	// Member events are exempted from this generic gate: a sender who is
	// not yet joined is exactly what invite-accept, bare join, knock, and
	// restricted-join events look like. "sender must already be joined"
	// only applies to one member changing someone *else's* membership, and
	// that is enforced by checkMembershipOther (membership.go), not here.
	if event.Type != typeMember && !senderIsMember && !isAliasException && !isThirdPartyJoin {
		return reject(CodeSenderNotInRoom, "sender", "sender %q is not joined to the room", event.Sender)
	}

	// 5. Type-specific rules.
	switch event.Type {
	case typeMember:
		return checkMemberEvent(version, event, authEvents, powerLevels)
	case typePowerLevels:
		return checkPowerLevelsEvent(version, event, authEvents, powerLevels)
	case typeJoinRules:
		return checkJoinRulesEvent(version, event, powerLevels)
	case typeAliases:
		if version.SpecialCaseAliasesAuth {
			return checkAliasesEvent(version, event)
		}
		return checkDefaultEvent(event, powerLevels)
	case typeThirdPartyInvite:
		return checkThirdPartyInviteEvent(event, powerLevels)
	case typeRedaction:
		return checkRedactionEvent(version, event, powerLevels)
	default:
		return checkDefaultEvent(event, powerLevels)
	}
}

// requiredSignatureDomains names the domains whose signature a candidate
// event must carry, for the external verifier to check. The engine itself
// never verifies a signature; it only knows which domains are relevant.
func requiredSignatureDomains(event *Event) ([]string, *AuthError) {
	senderDomain, err := DomainOf(event.Sender)
	if err != nil {
		return nil, errorf("sender %q has no domain part: %v", event.Sender, err)
	}
	domains := []string{senderDomain}
	if event.Type == typeCreate {
		return domains, nil
	}
	roomDomain, err := DomainOf(event.RoomID)
	if err == nil && roomDomain != senderDomain {
		domains = append(domains, roomDomain)
	}
	return domains, nil
}

// checkCreateEvent implements spec.md §4.6 step 2.
func checkCreateEvent(event *Event) *AuthError {
	if event.IsState() && *event.StateKey != "" {
		return reject(CodeInvalidCreate, "state_key", "create event must have an empty state key")
	}
	if !event.IsState() {
		return reject(CodeInvalidCreate, "state_key", "create event must be a state event")
	}
	if len(event.PrevEvents) != 0 {
		return reject(CodeInvalidCreate, "prev_events", "create event must have no prev_events")
	}
	senderDomain, err := DomainOf(event.Sender)
	if err != nil {
		return reject(CodeInvalidCreate, "sender", "create event sender has no domain: %v", err)
	}
	roomDomain, err := DomainOf(event.RoomID)
	if err != nil {
		return reject(CodeInvalidCreate, "room_id", "create event room id has no domain: %v", err)
	}
	if !SameDomain(event.Sender, event.RoomID) {
		return reject(CodeInvalidCreate, "room_id", "create event sender domain %q does not match room domain %q", senderDomain, roomDomain)
	}
	creator := event.content("creator")
	if !creator.Exists() || creator.String() == "" {
		return reject(CodeInvalidCreate, "creator", "create event is missing content.creator")
	}
	if creator.String() != event.Sender {
		return reject(CodeInvalidCreate, "creator", "content.creator %q does not match sender %q", creator.String(), event.Sender)
	}
	return nil
}

// checkMemberEvent dispatches to the membership state machine (C5).
func checkMemberEvent(version RoomVersion, event *Event, authEvents AuthEvents, pl *PowerLevelView) *AuthError {
	if !event.IsState() {
		return reject(CodeInvalidMembershipTransition, "state_key", "m.room.member must be a state event")
	}
	targetID := *event.StateKey
	if !IsValidUserID(targetID) {
		return reject(CodeInvalidMembershipTransition, "state_key", "member state key %q is not a valid user id", targetID)
	}
	newMembership := membershipOf(event)

	ctx := membershipContext{
		version:       version,
		event:         event,
		targetID:      targetID,
		senderID:      event.Sender,
		newMembership: newMembership,
		oldMembership: membershipOf(authEvents.Member(targetID)),
		senderMember:  membershipOf(authEvents.Member(event.Sender)),
		powerLevels:   pl,
		joinRule:      joinRuleOf(authEvents.JoinRules()),
	}

	if newMembership == MembershipJoin && event.Sender == targetID {
		ctx.thirdPartyInviteMatch = thirdPartyInviteMatches(authEvents, event)
	}

	if ctx.joinRule == JoinRuleRestricted && version.RestrictedJoinRule {
		if authorizer := event.content(restrictedAuthorizerField); authorizer.Exists() && authorizer.String() != "" {
			authorizerMember := authEvents.Member(authorizer.String())
			ctx.authorizerJoined = membershipOf(authorizerMember) == MembershipJoin
			if ctx.authorizerJoined {
				ctx.authorizerLevel = pl.LevelForUser(authorizer.String())
			}
		}
	}

	return checkMembership(ctx)
}

// thirdPartyInviteMatches reports whether event carries a third-party
// invite token that matches a known m.room.third_party_invite auth event
// (spec.md §4.5's "third-party-invite variant"). Cryptographic validation
// of the signed token is out of scope (§1) — that's what do_sig_check is
// for; here we only check that the referenced invite exists.
func thirdPartyInviteMatches(authEvents AuthEvents, event *Event) bool {
	token := event.content("third_party_invite.signed.token")
	if !token.Exists() || token.String() == "" {
		return false
	}
	return authEvents.ThirdPartyInvite(token.String()) != nil
}

// checkPowerLevelsEvent implements spec.md §4.4's change-comparison rule
// and §4.6's power_levels case.
func checkPowerLevelsEvent(version RoomVersion, event *Event, authEvents AuthEvents, current *PowerLevelView) *AuthError {
	proposed, perr := ResolvePowerLevels(authEvents.Create(), event, version.StrictCanonicalJSON)
	if perr != nil {
		return perr
	}
	senderLevel := current.LevelForUser(event.Sender)

	checkNamed := func(field string, oldV, newV int64) *AuthError {
		if !checkLevelChangeAllowed(senderLevel, oldV, newV) {
			return reject(CodeInsufficientPower, field, "sender level %d insufficient to change %s from %d to %d", senderLevel, field, oldV, newV)
		}
		return nil
	}
	for _, f := range []struct {
		name     string
		old, new int64
	}{
		{"users_default", current.UsersDefault, proposed.UsersDefault},
		{"events_default", current.EventsDefault, proposed.EventsDefault},
		{"state_default", current.StateDefault, proposed.StateDefault},
		{"ban", current.Ban, proposed.Ban},
		{"kick", current.Kick, proposed.Kick},
		{"redact", current.Redact, proposed.Redact},
		{"invite", current.Invite, proposed.Invite},
	} {
		if err := checkNamed(f.name, f.old, f.new); err != nil {
			return err
		}
	}

	for _, userID := range unionKeys(current.Users, proposed.Users) {
		oldV, newV := current.Users[userID], proposed.Users[userID]
		if userID == event.Sender {
			// The sender's own entry is special-cased: they may lower it
			// freely but never raise it above their current level. The
			// generic strictly-greater-than-old rule below would otherwise
			// always reject (senderLevel == oldV for one's own entry).
			if newV > senderLevel {
				return reject(CodeInsufficientPower, "users", "sender %q cannot raise their own level above %d", event.Sender, senderLevel)
			}
			continue
		}
		if !checkLevelChangeAllowed(senderLevel, oldV, newV) {
			return reject(CodeInsufficientPower, "users", "sender level %d insufficient to change %q from %d to %d", senderLevel, userID, oldV, newV)
		}
	}
	for _, evType := range unionKeys(current.Events, proposed.Events) {
		if !checkLevelChangeAllowed(senderLevel, current.Events[evType], proposed.Events[evType]) {
			return reject(CodeInsufficientPower, "events", "sender level %d insufficient to change %q", senderLevel, evType)
		}
	}
	if version.LimitNotificationsPowerLevels {
		for _, class := range unionKeys(current.Notifications, proposed.Notifications) {
			if !checkLevelChangeAllowed(senderLevel, current.Notifications[class], proposed.Notifications[class]) {
				return reject(CodeInsufficientPower, "notifications", "sender level %d insufficient to change %q", senderLevel, class)
			}
		}
	}
	return nil
}

// checkJoinRulesEvent implements spec.md §4.6's join_rules case.
func checkJoinRulesEvent(version RoomVersion, event *Event, pl *PowerLevelView) *AuthError {
	rule := JoinRule(event.content("join_rule").String())
	if rule == JoinRuleRestricted && !version.RestrictedJoinRule {
		return reject(CodeForbidden, "join_rule", "room version does not support the restricted join rule")
	}
	senderLevel := pl.LevelForUser(event.Sender)
	if senderLevel < pl.StateDefault {
		return reject(CodeInsufficientPower, "join_rule", "sender level %d below state_default %d", senderLevel, pl.StateDefault)
	}
	return nil
}

// checkAliasesEvent implements spec.md §4.6's aliases case (pre-MSC2432
// special-casing only; Check only calls this when special_case_aliases_auth
// is on — once it's off, aliases fall through to checkDefaultEvent).
func checkAliasesEvent(version RoomVersion, event *Event) *AuthError {
	if !event.IsState() || *event.StateKey == "" {
		return reject(CodeBadAliasStateKey, "state_key", "alias event must have a non-empty state key")
	}
	senderDomain, err := DomainOf(event.Sender)
	if err != nil {
		return reject(CodeBadAliasStateKey, "sender", "sender %q has no domain: %v", event.Sender, err)
	}
	if *event.StateKey != senderDomain {
		return reject(CodeBadAliasStateKey, "state_key", "alias state key %q does not match sender domain %q", *event.StateKey, senderDomain)
	}
	return nil
}

// checkThirdPartyInviteEvent implements spec.md §4.6's third_party_invite
// case.
func checkThirdPartyInviteEvent(event *Event, pl *PowerLevelView) *AuthError {
	senderLevel := pl.LevelForUser(event.Sender)
	if senderLevel < pl.Invite {
		return reject(CodeInsufficientPower, "sender", "sender level %d below invite level %d", senderLevel, pl.Invite)
	}
	return nil
}

// checkRedactionEvent implements spec.md §4.6's redaction case.
func checkRedactionEvent(version RoomVersion, event *Event, pl *PowerLevelView) *AuthError {
	senderLevel := pl.LevelForUser(event.Sender)
	if senderLevel >= pl.Redact {
		return nil
	}
	if version.UpdatedRedactionRules {
		return reject(CodeInsufficientPower, "sender", "sender level %d below redact level %d", senderLevel, pl.Redact)
	}
	// Old-format rooms allow same-domain self-redaction as a shortcut.
	if SameDomain(event.Sender, event.Redacts) {
		return nil
	}
	return reject(CodeInsufficientPower, "sender", "sender level %d below redact level %d and domain does not match redacted event", senderLevel, pl.Redact)
}

// checkDefaultEvent implements spec.md §4.6's final catch-all case.
func checkDefaultEvent(event *Event, pl *PowerLevelView) *AuthError {
	// Until the room has a power-levels event, only the creator may send
	// state events.
	if event.IsState() && !pl.hasPLEvent && event.Sender != pl.creator {
		return reject(CodeInsufficientPower, "sender", "only the creator may send state events before the first power-levels event")
	}
	senderLevel := pl.LevelForUser(event.Sender)
	required := pl.LevelForSending(event.Type, event.IsState())
	if senderLevel < required {
		return reject(CodeInsufficientPower, "sender", "sender level %d below required level %d for %q", senderLevel, required, event.Type)
	}
	return nil
}

// GetPowerLevels exposes the power-level view for use by an external
// state-resolution subsystem (spec.md §6). It performs no rule checks.
func GetPowerLevels(create, maybePowerLevels *Event, strict bool) (*PowerLevelView, *AuthError) {
	return ResolvePowerLevels(create, maybePowerLevels, strict)
}
