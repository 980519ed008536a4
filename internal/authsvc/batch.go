// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package authsvc

import (
	"context"

	"github.com/element-hq/dendrite-authcore/matrixeventauth"
	"golang.org/x/sync/errgroup"
)

// maxBatchConcurrency bounds how many events a single CheckBatch call
// authorizes in parallel. The engine itself is safe for unbounded
// concurrent use (spec.md §5); the bound here exists only to keep one
// caller's batch from monopolizing CPU.
const maxBatchConcurrency = 8

// BatchResult pairs a candidate event with its verdict.
type BatchResult struct {
	Event *matrixeventauth.Event
	Err   *matrixeventauth.AuthError
}

// CheckBatch authorizes a slice of candidate events concurrently, each
// against its own auth-event set, using a bounded errgroup the way the rest
// of the teacher's codebase uses golang.org/x/sync for bounded concurrent
// work. Every item gets its own RoomVersion/AuthEvents, since a batch might
// span more than one room. The engine's purity (no shared mutable state)
// is what makes this safe: each goroutine calls Check independently.
func (c *InstrumentedChecker) CheckBatch(ctx context.Context, items []BatchItem) []BatchResult {
	results := make([]BatchResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBatchConcurrency)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			results[i] = BatchResult{
				Event: item.Event,
				Err:   c.Check(gctx, item.Version, item.Event, item.AuthEvents, item.DoSigCheck),
			}
			return nil
		})
	}
	// Every goroutine above always returns nil; CheckBatch reports
	// per-item AuthErrors through BatchResult rather than failing the
	// whole batch, so the aggregate error from Wait is never non-nil.
	_ = g.Wait()
	return results
}

// BatchItem is one unit of work for CheckBatch.
type BatchItem struct {
	Version    matrixeventauth.RoomVersion
	Event      *matrixeventauth.Event
	AuthEvents matrixeventauth.AuthEvents
	DoSigCheck bool
}
