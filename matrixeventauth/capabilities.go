// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package matrixeventauth

import "sort"

// Capability describes, for one named capability (e.g. "knock",
// "restricted"), which room version a server should prefer when creating a
// new room that wants that capability, and the full set of versions that
// support it at all. Mirrors MSC3244_CAPABILITIES in the Synapse reference
// implementation this registry is grounded on.
type Capability struct {
	Identifier        string
	PreferredVersion  string // empty if no version is preferred
	SupportingVersions []string
}

type capabilityDef struct {
	identifier string
	preferred  string
	supports   func(RoomVersion) bool
}

var capabilityDefs = []capabilityDef{
	{
		identifier: "knock",
		preferred:  RoomVersionV7.Identifier,
		supports:   func(v RoomVersion) bool { return v.Knocking },
	},
	{
		identifier: "restricted",
		preferred:  "",
		supports:   func(v RoomVersion) bool { return v.RestrictedJoinRule },
	},
}

// RoomVersionCapabilities returns a mapping from capability identifier to
// the room versions that support it, computed fresh from the registry each
// call — it is a pure function of the table (spec.md §4.2), never cached.
func RoomVersionCapabilities() map[string]Capability {
	versions := KnownRoomVersions()
	sort.Slice(versions, func(i, j int) bool { return versions[i].Identifier < versions[j].Identifier })

	out := make(map[string]Capability, len(capabilityDefs))
	for _, def := range capabilityDefs {
		c := Capability{Identifier: def.identifier, PreferredVersion: def.preferred}
		for _, v := range versions {
			if def.supports(v) {
				c.SupportingVersions = append(c.SupportingVersions, v.Identifier)
			}
		}
		out[def.identifier] = c
	}
	return out
}
