// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestSocket(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/updates"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var event Event
	require.NoError(t, json.Unmarshal(payload, &event))
	return event
}

func TestWebSocketInitialStateAndBroadcast(t *testing.T) {
	router, deps := newTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialTestSocket(t, server)

	initial := readEvent(t, conn)
	assert.Equal(t, "initial_state", initial.Type)
	snapshot := initial.Data.(map[string]any)
	assert.Contains(t, snapshot, "power_zones")
	assert.Contains(t, snapshot, "grid_health")

	deps.Hub.Publish(Event{Type: "manual_allocation", Data: map[string]any{"zone_id": "zone_port"}})
	event := readEvent(t, conn)
	assert.Equal(t, "manual_allocation", event.Type)
}

func TestHubIsolatesBrokenClients(t *testing.T) {
	router, deps := newTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	healthy := dialTestSocket(t, server)
	readEvent(t, healthy) // initial_state

	broken := dialTestSocket(t, server)
	readEvent(t, broken) // initial_state
	broken.Close()

	// Give the hub's reader goroutine a moment to reap the closed client.
	deadline := time.Now().Add(2 * time.Second)
	for deps.Hub.Clients() > 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	deps.Hub.Publish(Event{Type: "cyber_update", Data: map[string]any{"zone_id": "airport_zone"}})
	event := readEvent(t, healthy)
	assert.Equal(t, "cyber_update", event.Type)
}

func TestEventLogBounded(t *testing.T) {
	log := NewEventLog()
	for i := 0; i < eventLogCapacity+10; i++ {
		log.Add(SecurityEvent{ZoneID: "airport_zone", EventType: "failed_login"})
	}
	assert.Len(t, log.Recent(), eventLogCapacity)
}
