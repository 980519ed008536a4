// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package util

import "strings"

// NormalizeServerName trims whitespace and lowercases a server name so that
// domain comparisons in the authorization engine remain case-insensitive.
// Domain names are defined as case-insensitive by RFC 1035, so this
// canonical form is safe to compare.
func NormalizeServerName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
