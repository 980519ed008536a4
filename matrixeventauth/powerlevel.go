// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package matrixeventauth

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// maxSafeInteger is the strict_canonicaljson bound: integers must lie in
// [-(2^53-1), 2^53-1].
const maxSafeInteger = 1<<53 - 1

// defaultBan, defaultKick, defaultRedact, and defaultInvite are the
// room-version-independent fallbacks used when no power-levels event is
// present at all (spec.md §4.4.1).
const (
	defaultBan    = 50
	defaultKick   = 50
	defaultRedact = 50
	defaultInvite = 50
)

// PowerLevelView is the derived, read-only query interface over a room's
// power levels (C4). It is computed fresh per call from one auth event and
// the create event; the engine never caches it (spec.md §3).
type PowerLevelView struct {
	UsersDefault  int64
	EventsDefault int64
	StateDefault  int64
	Ban           int64
	Kick          int64
	Redact        int64
	Invite        int64
	Users         map[string]int64
	Events        map[string]int64
	Notifications map[string]int64

	creator    string
	hasPLEvent bool
}

// LevelForUser returns users[u], falling back to users_default. When no
// power-levels event exists in the room at all, the creator is implicitly
// level 100 and everyone else is users_default (spec.md §4.4.1); once a
// power-levels event exists, even one with no explicit users map, the
// creator carries no permanent privilege and falls back to users_default
// like anybody else (spec.md §4.4.3).
func (p *PowerLevelView) LevelForUser(userID string) int64 {
	if lvl, ok := p.Users[userID]; ok {
		return lvl
	}
	if !p.hasPLEvent && userID != "" && userID == p.creator {
		return 100
	}
	return p.UsersDefault
}

// LevelForSending returns the power level required to send an event of the
// given type, distinguishing state from non-state events (spec.md §4.4.4).
func (p *PowerLevelView) LevelForSending(eventType string, isState bool) int64 {
	if lvl, ok := p.Events[eventType]; ok {
		return lvl
	}
	if isState {
		return p.StateDefault
	}
	return p.EventsDefault
}

// LevelFor returns the named threshold (ban/kick/redact/invite/...) by key.
func (p *PowerLevelView) LevelFor(key PowerLevelKey) int64 {
	switch key {
	case PowerLevelBan:
		return p.Ban
	case PowerLevelKick:
		return p.Kick
	case PowerLevelRedact:
		return p.Redact
	case PowerLevelInvite:
		return p.Invite
	case PowerLevelStateDefault:
		return p.StateDefault
	case PowerLevelEventsDefault:
		return p.EventsDefault
	case PowerLevelUsersDefault:
		return p.UsersDefault
	default:
		return 0
	}
}

// ResolvePowerLevels derives a PowerLevelView from the room's create event
// and an optional power-levels event (C4, spec.md §4.4). strict enables
// room-version strict_canonicaljson semantics, which disables string-integer
// coercion and tightens the integer bound to ±(2^53-1).
func ResolvePowerLevels(create, powerLevels *Event, strict bool) (*PowerLevelView, *AuthError) {
	view := &PowerLevelView{
		UsersDefault:  0,
		EventsDefault: 0,
		StateDefault:  0,
		Ban:           defaultBan,
		Kick:          defaultKick,
		Redact:        defaultRedact,
		Invite:        defaultInvite,
		Users:         map[string]int64{},
		Events:        map[string]int64{},
		Notifications: map[string]int64{},
	}
	if create != nil {
		view.creator = create.content("creator").String()
	}
	if powerLevels == nil {
		return view, nil
	}
	view.hasPLEvent = true

	get := func(key string, dst *int64) *AuthError {
		raw := powerLevels.content(key)
		if !raw.Exists() {
			return nil
		}
		v, err := coercePowerLevelValue(raw, strict)
		if err != nil {
			err.Field = key
			return err
		}
		*dst = v
		return nil
	}
	for _, f := range []struct {
		key string
		dst *int64
	}{
		{"users_default", &view.UsersDefault},
		{"events_default", &view.EventsDefault},
		{"state_default", &view.StateDefault},
		{"ban", &view.Ban},
		{"kick", &view.Kick},
		{"redact", &view.Redact},
		{"invite", &view.Invite},
	} {
		if err := get(f.key, f.dst); err != nil {
			return nil, err
		}
	}

	if err := coerceIntMap(powerLevels.content("users"), strict, view.Users); err != nil {
		err.Field = "users"
		return nil, err
	}
	for userID := range view.Users {
		if !IsValidUserID(userID) {
			return nil, reject(CodeInvalidPowerLevels, "users", "not a valid user ID: %q", userID)
		}
	}
	if err := coerceIntMap(powerLevels.content("events"), strict, view.Events); err != nil {
		err.Field = "events"
		return nil, err
	}
	if err := coerceIntMap(powerLevels.content("notifications"), strict, view.Notifications); err != nil {
		err.Field = "notifications"
		return nil, err
	}

	return view, nil
}

// coercePowerLevelValue implements spec.md §4.4.2 / §9: strings that parse
// as integers are accepted outside strict mode; floats and overflowing
// values are always rejected.
func coercePowerLevelValue(raw gjson.Result, strict bool) (int64, *AuthError) {
	invalid := func(format string, args ...interface{}) *AuthError {
		return reject(CodeInvalidPowerLevels, "", fmt.Sprintf(format, args...))
	}
	switch raw.Type {
	case gjson.Number:
		if strings.ContainsAny(raw.Raw, ".eE") {
			return 0, invalid("value %s is not an integer", raw.Raw)
		}
		i, err := strconv.ParseInt(raw.Raw, 10, 64)
		if err != nil {
			return 0, invalid("value %s is outside the 64-bit signed range", raw.Raw)
		}
		if strict && (i > maxSafeInteger || i < -maxSafeInteger) {
			return 0, invalid("value %d exceeds the strict canonical JSON bound", i)
		}
		return i, nil
	case gjson.String:
		if strict {
			return 0, invalid("value %q is a string; strict canonical JSON forbids coercion", raw.Str)
		}
		i, perr := strconv.ParseInt(raw.Str, 10, 64)
		if perr != nil {
			return 0, invalid("value %q does not parse as an integer", raw.Str)
		}
		return i, nil
	default:
		return 0, invalid("value has an unsupported type for a power level")
	}
}

// coerceIntMap coerces every value of a JSON object field into dst, which
// must already be a non-nil map.
func coerceIntMap(raw gjson.Result, strict bool, dst map[string]int64) *AuthError {
	if !raw.Exists() {
		return nil
	}
	if !raw.IsObject() {
		return reject(CodeInvalidPowerLevels, "", "expected a JSON object")
	}
	var outerErr *AuthError
	raw.ForEach(func(key, value gjson.Result) bool {
		v, err := coercePowerLevelValue(value, strict)
		if err != nil {
			outerErr = err
			return false
		}
		dst[key.String()] = v
		return true
	})
	return outerErr
}

// checkLevelChangeAllowed implements the §4.4 comparison rule: for a
// changed named/per-type/per-notification key, the sender must have a level
// strictly greater than both the old and the new value.
func checkLevelChangeAllowed(senderLevel, oldValue, newValue int64) bool {
	if oldValue == newValue {
		return true
	}
	return senderLevel > oldValue && senderLevel > newValue
}

// unionKeys returns the union of two int64 maps' keys.
func unionKeys(a, b map[string]int64) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for k := range a {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	for k := range b {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}
