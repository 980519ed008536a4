// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package authsvc wraps the pure matrixeventauth engine with the ambient
// concerns a caller embedding it inside a real service needs: metrics,
// structured logging, bounded-concurrency batching, and an outer decision
// cache. None of this lives inside matrixeventauth itself — Check stays a
// pure, synchronous function with no I/O, exactly as spec.md §5 requires.
package authsvc

import (
	"context"
	"time"

	"github.com/element-hq/dendrite-authcore/matrixeventauth"
	"github.com/matrix-org/util"
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.MustRegister(checkDuration)
	prometheus.MustRegister(checkRejections)
}

var checkDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "dendrite",
		Subsystem: "authcore",
		Name:      "check_duration_millis",
		Help:      "How long a single authorization check took",
		Buckets: []float64{ // milliseconds
			0.1, 0.25, 0.5, 1, 2, 5, 10, 25, 50, 100, 250,
		},
	},
	[]string{"room_version"},
)

var checkRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dendrite",
		Subsystem: "authcore",
		Name:      "check_rejections_total",
		Help:      "Count of authorization rejections by reason code",
	},
	[]string{"code"},
)

// InstrumentedChecker wraps matrixeventauth.Check with logging and metrics,
// following the same prometheus.MustRegister + HistogramVec pattern the
// roomserver input pipeline uses for processRoomEventDuration, plus a
// rejection counter broken down by AuthError.Code.
type InstrumentedChecker struct {
	SignatureVerifier matrixeventauth.SignatureVerifier
}

// Check authorizes a single event, logging the outcome via
// util.GetLogger(ctx) the way the roomserver input pipeline logs room event
// processing, and recording duration/rejection metrics.
func (c *InstrumentedChecker) Check(ctx context.Context, version matrixeventauth.RoomVersion, event *matrixeventauth.Event, authEvents matrixeventauth.AuthEvents, doSigCheck bool) *matrixeventauth.AuthError {
	logger := util.GetLogger(ctx).WithField("room_id", event.RoomID).WithField("event_id", event.EventID)

	start := time.Now()
	err := matrixeventauth.Check(version, event, authEvents, doSigCheck, c.SignatureVerifier)
	checkDuration.With(prometheus.Labels{"room_version": version.Identifier}).Observe(float64(time.Since(start).Milliseconds()))

	if err != nil {
		checkRejections.With(prometheus.Labels{"code": string(err.Code)}).Inc()
		logger.WithField("code", err.Code).WithField("field", err.Field).Debug("event rejected by authorization engine")
		return err
	}
	logger.Debug("event accepted by authorization engine")
	return nil
}
