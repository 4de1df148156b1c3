// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/goanna247/diagnostic/internal/controlpoint"
)

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// controlHub fans control point responses out to every connected client.
type controlHub struct {
	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

func newControlHub() *controlHub {
	return &controlHub{conns: make(map[*wsConn]struct{})}
}

func (h *controlHub) add(c *wsConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *controlHub) remove(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// broadcast forwards a ControlResponse payload as published by the producer.
func (h *controlHub) broadcast(payload []byte) {
	var resp ControlResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		log.Printf("control: response unmarshal error: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		if err := c.writeJSON(resp); err != nil {
			log.Printf("control: websocket write error: %v", err)
		}
	}
}

// HandleControlWS accepts controlpoint.Commands, e.g.
//
//	{"name":"request_accel1_transform"}
//	{"name":"set_partner_address","args":["C0:FF:EE:00:00:01"]}
//
// Requests that cannot be built are answered immediately; device responses
// arrive asynchronously through the hub.
func HandleControlWS(p *Pipeline, hub *controlHub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("control: websocket upgrade error: %v", err)
		return
	}
	c := &wsConn{conn: conn}
	hub.add(c)
	defer func() {
		hub.remove(c)
		conn.Close()
	}()

	for {
		var cmd controlpoint.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("control: websocket read error: %v", err)
			}
			return
		}
		req, err := cmd.Build()
		if err == nil {
			if p.Control == nil {
				err = errNoControl
			} else {
				err = p.Control(req)
			}
		}
		if err != nil {
			if werr := c.writeJSON(ControlResponse{Request: cmd.Name, Error: err.Error()}); werr != nil {
				return
			}
			continue
		}
		log.Printf("control: sent %s (% X)", cmd.Name, req)
	}
}
