// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package matrixeventauth

import (
	"strings"

	"github.com/element-hq/dendrite-authcore/internal/util"
)

// Sigil is the leading byte of a Matrix identifier that names its kind.
type Sigil byte

const (
	SigilUser  Sigil = '@'
	SigilRoom  Sigil = '!'
	SigilAlias Sigil = '#'
	SigilEvent Sigil = '$'
)

// maxIdentifierLength bounds are per spec.md §4.1: user ids, aliases, and
// group ids are capped at 255 characters. Room and event identifiers carry
// no such bound here; they are still required to have a domain part for
// DomainOf to succeed.
const maxIdentifierLength = 255

// ParseID splits an identifier of the form "<sigil><localpart>:<domain>"
// and checks it carries the expected sigil. It never panics on malformed
// input; callers get a typed error instead.
func ParseID(id string, want Sigil) (localpart, domain string, err error) {
	if len(id) == 0 {
		return "", "", errorf("identifier is empty")
	}
	if Sigil(id[0]) != want {
		return "", "", errorf("identifier %q does not start with sigil %q", id, string(want))
	}
	idx := strings.IndexByte(id, ':')
	if idx == -1 {
		return "", "", errorf("identifier %q has no domain part", id)
	}
	localpart = id[1:idx]
	domain = id[idx+1:]
	if domain == "" {
		return "", "", errorf("identifier %q has an empty domain", id)
	}
	if (want == SigilUser || want == SigilAlias) && len(id) > maxIdentifierLength {
		return "", "", errorf("identifier %q exceeds %d characters", id, maxIdentifierLength)
	}
	return localpart, domain, nil
}

// DomainOf returns the substring of id after its first colon, the way the
// engine needs to compare a sender's domain against a room ID's domain or an
// alias's state key. It tolerates any sigil, since callers (e.g. the create
// event check) compare room IDs against user IDs.
func DomainOf(id string) (string, error) {
	idx := strings.IndexByte(id, ':')
	if idx == -1 || idx == len(id)-1 {
		return "", errorf("identifier %q has no domain part", id)
	}
	return id[idx+1:], nil
}

// SameDomain reports whether two identifiers share a domain, comparing
// case-insensitively per RFC 1035 (domain names are not case sensitive).
func SameDomain(a, b string) bool {
	da, err := DomainOf(a)
	if err != nil {
		return false
	}
	db, err := DomainOf(b)
	if err != nil {
		return false
	}
	return util.NormalizeServerName(da) == util.NormalizeServerName(db)
}

// IsValidUserID reports whether id is a well-formed user identifier:
// sigil '@', non-empty domain, within the length bound.
func IsValidUserID(id string) bool {
	_, _, err := ParseID(id, SigilUser)
	return err == nil
}
