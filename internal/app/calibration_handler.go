// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/goanna247/diagnostic/internal/stats"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSResponse is sent to calibration websocket clients.
type WSResponse struct {
	Type    string          `json:"type"` // result, stats, error
	Result  *CommandResult  `json:"result,omitempty"`
	Stats   *stats.Snapshot `json:"stats,omitempty"`
	Message string          `json:"message,omitempty"`
}

// HandleCalibrationWS runs the interactive calibration protocol. Clients send
// Commands; "stats" returns the current statistics so a UI can show when the
// crank is still enough to capture.
//
//	{"action":"reset_stats","group":"accel1"}
//	{"action":"capture","sensor":"1","orientation":"+X"}
//	{"action":"process","sensor":"1"}
//	{"action":"upload","sensor":"1"}
func HandleCalibrationWS(p *Pipeline, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("calibration: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	for {
		var c Command
		if err := conn.ReadJSON(&c); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("calibration: websocket read error: %v", err)
			}
			return
		}

		var resp WSResponse
		switch c.Action {
		case "stats":
			snap := p.Session().Snapshot().Stats
			resp = WSResponse{Type: "stats", Stats: &snap}
		default:
			res, err := p.Execute(c)
			resp = WSResponse{Type: "result", Result: &res}
			if err != nil {
				log.Printf("calibration: %s: %v", c.Action, err)
				resp.Type, resp.Message = "error", err.Error()
			}
		}
		if err := conn.WriteJSON(resp); err != nil {
			log.Printf("calibration: websocket write error: %v", err)
			return
		}
	}
}
