// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package web exposes the acquisition controller over HTTP and a
// websocket that streams samples.
package web

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/imu_logger/internal/acquisition"
)

const (
	clientQueueSize = 32
	writeWait       = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local instrument UI, any origin
	},
}

// WSMessage is a command sent by a websocket client.
type WSMessage struct {
	Action string `json:"action"` // start, stop, export, status
}

// WSResponse is anything the server writes to a websocket client.
type WSResponse struct {
	Type    string              `json:"type"` // sample, status, exported, error
	Sample  *acquisition.Sample `json:"sample,omitempty"`
	Status  *acquisition.Status `json:"status,omitempty"`
	Path    string              `json:"path,omitempty"`
	Message string              `json:"message,omitempty"`
}

// Hub keeps the latest sample and fans samples out to websocket clients.
// It is an acquisition.Sink; a slow client loses samples, never the tick.
type Hub struct {
	mu     sync.RWMutex
	latest acquisition.Sample
	have   bool

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

// OnSample implements acquisition.Sink.
func (h *Hub) OnSample(s acquisition.Sample) {
	h.mu.Lock()
	h.latest = s
	h.have = true
	h.mu.Unlock()

	h.clientsMu.Lock()
	n := len(h.clients)
	h.clientsMu.Unlock()
	if n == 0 {
		return
	}

	payload, err := json.Marshal(WSResponse{Type: "sample", Sample: &s})
	if err != nil {
		log.Printf("web: json marshal error (sample): %v", err)
		return
	}

	h.clientsMu.Lock()
	for c := range h.clients {
		c.offer(payload)
	}
	h.clientsMu.Unlock()
}

// Latest returns the most recent sample, if any.
func (h *Hub) Latest() (acquisition.Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.have
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *wsClient) {
	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	h.clientsMu.Unlock()
}

func (h *Hub) remove(c *wsClient) {
	h.clientsMu.Lock()
	delete(h.clients, c)
	h.clientsMu.Unlock()
}

// wsClient owns one connection. Only writeLoop writes to conn.
type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	closed  chan struct{}
	once    sync.Once
	dropped uint64
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:   conn,
		send:   make(chan []byte, clientQueueSize),
		closed: make(chan struct{}),
	}
}

// offer queues a broadcast payload, dropping it if the client is behind.
// Called with the hub's clientsMu held.
func (c *wsClient) offer(payload []byte) {
	select {
	case c.send <- payload:
	default:
		c.dropped++
	}
}

// reply queues a response to a command; it waits for room unless the
// client has gone away.
func (c *wsClient) reply(resp WSResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Printf("web: json marshal error (%s): %v", resp.Type, err)
		return
	}
	select {
	case c.send <- payload:
	case <-c.closed:
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

func (c *wsClient) writeLoop() {
	defer c.close()
	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("web: websocket write error: %v", err)
				return
			}
		}
	}
}
