// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package authsvc

import (
	"context"

	"github.com/dgraph-io/ristretto"
	"github.com/element-hq/dendrite-authcore/matrixeventauth"
)

// CachedChecker memoizes authorization verdicts by event ID for repeated
// Check calls over the same DAG frontier (e.g. a state-resolution
// subsystem re-checking events it has already accepted). CheckBatch does
// not go through this cache; it calls InstrumentedChecker.Check. This cache lives
// entirely outside matrixeventauth: the engine's own Check is never cached
// internally (spec.md §3, "PowerLevelView ... not cached by the engine"),
// since its inputs can change between calls (a different auth-event set
// for the same event id is a caller bug, not something the engine should
// paper over) — only this outer, caller-owned convenience wrapper caches,
// and only when the caller knows the inputs are stable.
type CachedChecker struct {
	Inner *InstrumentedChecker
	cache *ristretto.Cache
}

// NewCachedChecker builds a CachedChecker with a modest default capacity,
// sized the way the teacher's roomserver caches are (counters ~10x the
// expected item count, cost bounded by max items rather than bytes, since
// an *AuthError is tiny and fixed-size).
func NewCachedChecker(inner *InstrumentedChecker, maxItems int64) (*CachedChecker, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedChecker{Inner: inner, cache: cache}, nil
}

type cacheEntry struct {
	err *matrixeventauth.AuthError
}

// Check returns the cached verdict for event.EventID if present, otherwise
// computes and stores it.
func (c *CachedChecker) Check(ctx context.Context, version matrixeventauth.RoomVersion, event *matrixeventauth.Event, authEvents matrixeventauth.AuthEvents, doSigCheck bool) *matrixeventauth.AuthError {
	if v, ok := c.cache.Get(event.EventID); ok {
		return v.(cacheEntry).err
	}
	err := c.Inner.Check(ctx, version, event, authEvents, doSigCheck)
	c.cache.Set(event.EventID, cacheEntry{err: err}, 1)
	return err
}

// Invalidate drops a cached verdict, for callers that detect their inputs
// for an event id have changed (e.g. a corrected auth-event set).
func (c *CachedChecker) Invalidate(eventID string) {
	c.cache.Del(eventID)
}
