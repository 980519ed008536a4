// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package authconfig holds the operator-facing policy knobs that sit
// alongside the authorization engine without being part of its immutable
// room-version registry: which unstable room versions an embedding service
// is willing to accept, and the restricted-join authorizer threshold left
// open by the upstream drafts.
package authconfig

import (
	"fmt"
	"strings"

	"github.com/element-hq/dendrite-authcore/matrixeventauth"
	"gopkg.in/yaml.v2"
)

// ConfigErrors accumulates human-readable configuration problems, following
// the same non-fail-fast style as the teacher's setup/config package: every
// problem is reported at once rather than stopping at the first one.
type ConfigErrors []string

// Add appends a problem description.
func (e *ConfigErrors) Add(description string) {
	*e = append(*e, description)
}

func (e ConfigErrors) Error() string {
	return strings.Join(e, "\n")
}

// DefaultOpts carries the handful of environment facts Defaults() needs,
// mirroring config.DefaultOpts in the teacher.
type DefaultOpts struct {
	// Generate requests maximally-permissive defaults suitable for
	// generating a fresh sample config file (as opposed to validating one
	// that's already been loaded).
	Generate bool
}

// AuthorizationPolicy is the config fragment this module contributes. It
// deliberately does not redefine the room-version table itself (that is the
// immutable registry in matrixeventauth, C2) — only which of those versions
// the embedding service accepts, and the open-question knob from the
// authorization spec around restricted joins.
type AuthorizationPolicy struct {
	// AllowUnstableVersions permits room creation/join against room
	// versions whose Disposition is "unstable" (MSC-gated drafts). When
	// false, the engine itself still knows how to authorize events in
	// those rooms (LookupRoomVersion never consults this flag); this only
	// gates whether the embedding service offers them to clients.
	AllowUnstableVersions bool `yaml:"allow_unstable_versions"`

	// RestrictedJoinAuthorizerMinLevel names the power-level key a
	// restricted join's designated authorizer must meet or exceed.
	// spec.md §9 flags this as an open question ("some drafts use kick
	// instead of invite"); default is "invite". Accepted values: "invite",
	// "kick". AuthorizerLevel resolves it to a PowerLevelKey; loading the
	// policy does not change the registry, and Check reads only the
	// RoomVersion.RestrictedJoinAuthorizerLevel it is given.
	RestrictedJoinAuthorizerMinLevel string `yaml:"restricted_join_authorizer_min_level"`
}

// Defaults populates conservative values (unstable versions off), or
// permissive ones when opts.Generate is set, following the teacher's
// convention of a Defaults(opts) method taking a DefaultOpts rather than a
// bare no-arg method.
func (c *AuthorizationPolicy) Defaults(opts DefaultOpts) {
	c.AllowUnstableVersions = opts.Generate
	c.RestrictedJoinAuthorizerMinLevel = "invite"
}

// Verify checks the loaded config and reports every problem it finds via
// configErrs, rather than stopping at the first one (matching
// setup/config's ClientAPI.Verify in the teacher).
func (c *AuthorizationPolicy) Verify(configErrs *ConfigErrors) {
	switch c.RestrictedJoinAuthorizerMinLevel {
	case "", "invite", "kick":
	default:
		configErrs.Add(fmt.Sprintf(
			"authorization.restricted_join_authorizer_min_level: unrecognized value %q (must be \"invite\" or \"kick\")",
			c.RestrictedJoinAuthorizerMinLevel,
		))
	}
}

// AuthorizerLevel resolves the configured knob to the matrixeventauth
// PowerLevelKey the room-version registry expects.
func (c *AuthorizationPolicy) AuthorizerLevel() matrixeventauth.PowerLevelKey {
	if c.RestrictedJoinAuthorizerMinLevel == "kick" {
		return matrixeventauth.PowerLevelKick
	}
	return matrixeventauth.PowerLevelInvite
}

// AcceptedRoomVersions returns the subset of matrixeventauth's registry this
// policy permits offering to clients: every stable version, plus unstable
// ones when AllowUnstableVersions is set.
func (c *AuthorizationPolicy) AcceptedRoomVersions() []matrixeventauth.RoomVersion {
	all := matrixeventauth.KnownRoomVersions()
	out := make([]matrixeventauth.RoomVersion, 0, len(all))
	for _, v := range all {
		if v.Disposition == matrixeventauth.DispositionStable || c.AllowUnstableVersions {
			out = append(out, v)
		}
	}
	return out
}

// Load parses an authorization policy document from YAML, applies defaults
// for anything unset, and verifies it.
func Load(data []byte) (*AuthorizationPolicy, error) {
	var c AuthorizationPolicy
	c.Defaults(DefaultOpts{})
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("authconfig: parsing policy: %w", err)
	}
	var errs ConfigErrors
	c.Verify(&errs)
	if len(errs) > 0 {
		return nil, fmt.Errorf("authconfig: invalid policy: %w", errs)
	}
	return &c, nil
}
