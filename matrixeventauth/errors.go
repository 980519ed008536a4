// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package matrixeventauth

import "fmt"

// ErrorCode is the stable rejection-reason enumeration from spec.md §7.
// Callers may switch on it; the set is closed and will only grow with new
// room-version behavior, never change meaning.
type ErrorCode string

const (
	CodeForbidden                   ErrorCode = "forbidden"
	CodeMissingCreate               ErrorCode = "missing_create"
	CodeInvalidCreate               ErrorCode = "invalid_create"
	CodeRoomIDMismatch              ErrorCode = "room_id_mismatch"
	CodeSenderNotInRoom             ErrorCode = "sender_not_in_room"
	CodeInsufficientPower           ErrorCode = "insufficient_power"
	CodeInvalidPowerLevels          ErrorCode = "invalid_power_levels"
	CodeBadAliasStateKey            ErrorCode = "bad_alias_state_key"
	CodeBanned                      ErrorCode = "banned"
	CodeMissingAuthorisedVia        ErrorCode = "missing_authorised_via"
	CodeUnauthorisedVia             ErrorCode = "unauthorised_via"
	CodeInvalidMembershipTransition ErrorCode = "invalid_membership_transition"
	CodeSignatureError              ErrorCode = "signature_error"
	CodeUnknownRoomVersion          ErrorCode = "unknown_room_version"
)

// AuthError is the single rejection type the engine ever returns. It carries
// a stable code, the offending field (sender, state_key, a power-level key,
// ...) when one is meaningful, and a short human-readable message. The
// engine never panics; fatal/programmer-error conditions (a nil event, an
// unknown room version) surface as an *AuthError too, not a crash.
type AuthError struct {
	Code    ErrorCode
	Field   string
	Message string
}

func (e *AuthError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("matrixeventauth: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("matrixeventauth: %s (%s): %s", e.Code, e.Field, e.Message)
}

func reject(code ErrorCode, field, format string, args ...interface{}) *AuthError {
	return &AuthError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// errorf builds a generic "forbidden" rejection with no particular offending
// field; used by low-level helpers (identifier parsing) that don't know
// which higher-level rule is consuming them.
func errorf(format string, args ...interface{}) *AuthError {
	return reject(CodeForbidden, "", format, args...)
}

// IsCode reports whether err is an *AuthError with the given code, the usual
// way callers branch on rejection reasons without a type assertion.
func IsCode(err error, code ErrorCode) bool {
	ae, ok := err.(*AuthError)
	return ok && ae.Code == code
}
