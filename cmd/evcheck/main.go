// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Command evcheck drives the authorization engine end to end against a
// batch of JSON-described events, for manual testing and demos. It is not
// part of the engine itself (spec.md §1 excludes the servlet/HTTP layer and
// persistence); this is a thin CLI harness around internal/authsvc.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/element-hq/dendrite-authcore/internal/authsvc"
	"github.com/element-hq/dendrite-authcore/matrixeventauth"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	flagInput       = flag.String("input", "", "Path to a JSON batch-request file (room_version, auth_events, candidates). Reads stdin if empty.")
	flagRoomVersion = flag.String("room-version", "7", "Room version identifier to use when the batch file doesn't specify one.")
	flagVerbose     = flag.Bool("verbose", false, "Enable debug-level logging")
)

// batchRequest is the on-disk shape evcheck consumes: a set of auth events
// shared by every candidate, plus the candidates themselves.
type batchRequest struct {
	RoomVersion string     `json:"room_version"`
	AuthEvents  []rawEvent `json:"auth_events"`
	Candidates  []rawEvent `json:"candidates"`
}

type rawEvent struct {
	RoomID     string          `json:"room_id"`
	EventID    string          `json:"event_id"`
	Sender     string          `json:"sender"`
	Type       string          `json:"type"`
	StateKey   *string         `json:"state_key"`
	Content    json.RawMessage `json:"content"`
	PrevEvents []string        `json:"prev_events"`
	Depth      int64           `json:"depth"`
	Redacts    string          `json:"redacts"`
}

func (r rawEvent) toEvent() *matrixeventauth.Event {
	return &matrixeventauth.Event{
		RoomID:     r.RoomID,
		EventID:    r.EventID,
		Sender:     r.Sender,
		Type:       r.Type,
		StateKey:   r.StateKey,
		Content:    r.Content,
		PrevEvents: r.PrevEvents,
		Depth:      r.Depth,
		Redacts:    r.Redacts,
	}
}

func main() {
	flag.Parse()
	if *flagVerbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	var data []byte
	var err error
	if *flagInput != "" {
		data, err = os.ReadFile(*flagInput)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		logrus.WithError(err).Fatal("failed to read input")
	}

	var req batchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		logrus.WithError(err).Fatal("failed to parse input as JSON")
	}

	versionID := req.RoomVersion
	if versionID == "" {
		versionID = *flagRoomVersion
	}
	version, err := matrixeventauth.LookupRoomVersion(versionID)
	if err != nil {
		logrus.WithError(err).Fatal("unknown room version")
	}

	auth := make(matrixeventauth.AuthEvents, len(req.AuthEvents))
	for _, re := range req.AuthEvents {
		ev := re.toEvent()
		var stateKey string
		if ev.StateKey != nil {
			stateKey = *ev.StateKey
		}
		auth[matrixeventauth.AuthEventKey{Type: ev.Type, StateKey: stateKey}] = ev
	}

	runID := uuid.New().String()
	checker := &authsvc.InstrumentedChecker{}
	ctx := context.Background()

	items := make([]authsvc.BatchItem, len(req.Candidates))
	for i, re := range req.Candidates {
		items[i] = authsvc.BatchItem{Version: version, Event: re.toEvent(), AuthEvents: auth}
	}
	results := checker.CheckBatch(ctx, items)

	exitCode := 0
	for _, r := range results {
		log := logrus.WithFields(logrus.Fields{
			"run_id":   runID,
			"event_id": r.Event.EventID,
		})
		if r.Err != nil {
			log.WithField("code", r.Err.Code).Warn("rejected")
			fmt.Printf("%s REJECT %s: %s\n", r.Event.EventID, r.Err.Code, r.Err.Message)
			exitCode = 1
			continue
		}
		log.Info("accepted")
		fmt.Printf("%s ACCEPT\n", r.Event.EventID)
	}
	os.Exit(exitCode)
}
