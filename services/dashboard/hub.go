// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dashboard

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var wsClients = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "citypulse",
	Subsystem: "dashboard",
	Name:      "ws_clients",
	Help:      "Currently connected websocket dashboard clients.",
})

// hubWriteTimeout bounds one broadcast write per client. A client that
// cannot keep up is dropped rather than stalling the others.
const hubWriteTimeout = 5 * time.Second

// Event is one broadcast message pushed to every connected dashboard.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans pipeline and store events out to connected websocket clients.
// Delivery is fire-and-forget, at most once: a failed write disconnects
// that client only. Safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[*websocket.Conn]bool), logger: logger}
}

// Register adds a connection and starts its reader. The reader discards
// inbound frames; its exit (client close, network error) unregisters the
// connection.
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()
	wsClients.Set(float64(count))
	h.logger.Info("dashboard client connected", "clients", count)

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(conn)
				return
			}
		}
	}()
}

// Publish sends the event to all connected clients. Failures are isolated
// per client; the broken connection is closed and removed.
func (h *Hub) Publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("broadcast encode failed", "type", event.Type, "error", err)
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Warn("dropping broken dashboard client", "type", event.Type, "error", err)
			h.remove(conn)
		}
	}
}

// Send delivers one event to a single connection, used for the
// initial_state snapshot right after connect.
func (h *Hub) Send(conn *websocket.Conn, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.mu.Unlock()
	wsClients.Set(0)

	for _, conn := range conns {
		conn.Close()
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, present := h.clients[conn]
	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()

	if present {
		conn.Close()
		wsClients.Set(float64(count))
		h.logger.Info("dashboard client disconnected", "clients", count)
	}
}
