// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/goanna247/diagnostic/internal/calibration"
	"github.com/goanna247/diagnostic/internal/config"
	"github.com/goanna247/diagnostic/internal/datalog"
	"github.com/goanna247/diagnostic/internal/metrics"
)

// RunWeb subscribes to the raw stream, keeps its own session for interactive
// calibration, and serves the JSON API and websockets.
func RunWeb() error {
	cfg := config.Get()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	p := NewPipeline(cfg)
	if cfg.MetricsEnabled {
		p.Metrics = metrics.New()
	}
	// Requests go to the producer, which owns the link to the crank.
	p.Control = func(req []byte) error {
		return rawPublisher{client}.Publish(cfg.TopicControl, req)
	}
	hub := newControlHub()

	// The producer writes the datalog; the web server only reads it.
	var hist *datalog.Log
	if cfg.DatalogPath != "" {
		if hist, err = datalog.Open(cfg.DatalogPath); err != nil {
			return err
		}
		defer hist.Close()
		log.Printf("web: session history from %s", cfg.DatalogPath)
	}

	if err := subscribe(client, cfg.TopicRaw, func(_ mqtt.Client, msg mqtt.Message) {
		p.Handle(msg.Payload())
	}); err != nil {
		return err
	}
	log.Printf("web: subscribed to MQTT topic %s", cfg.TopicRaw)

	if err := subscribe(client, cfg.TopicControlResponse, func(_ mqtt.Client, msg mqtt.Message) {
		hub.broadcast(msg.Payload())
	}); err != nil {
		return err
	}
	log.Printf("web: subscribed to MQTT topic %s", cfg.TopicControlResponse)

	mux := newWebMux(p, hub, hist)
	if _, err := os.Stat("web"); err == nil {
		mux.Handle("/", http.FileServer(http.Dir("web")))
	}

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func newWebMux(p *Pipeline, hub *controlHub, hist *datalog.Log) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		snap := p.Session().Snapshot()
		if snap.Steps == 0 {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, newStateMessage(snap.ID, snap.State, 0))
	})

	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, p.Session().Snapshot().Stats)
	})

	mux.HandleFunc("/api/calibration", func(w http.ResponseWriter, r *http.Request) {
		snap := p.Session().Snapshot()
		type sensorCalibration struct {
			Table        calibration.Table         `json:"table"`
			Transform    calibration.Transform     `json:"transform"`
			Coefficients *calibration.Coefficients `json:"coefficients,omitempty"`
		}
		var out [2]sensorCalibration
		for i := range out {
			out[i] = sensorCalibration{Table: snap.Tables[i], Transform: snap.Transforms[i]}
			if co, err := snap.Transforms[i].Quantize(); err == nil {
				out[i].Coefficients = &co
			}
		}
		writeJSON(w, map[string]sensorCalibration{"accel1": out[0], "accel2": out[1]})
	})

	mux.HandleFunc("/ws/calibration", func(w http.ResponseWriter, r *http.Request) {
		HandleCalibrationWS(p, w, r)
	})
	mux.HandleFunc("/ws/control", func(w http.ResponseWriter, r *http.Request) {
		HandleControlWS(p, hub, w, r)
	})

	if hist != nil {
		mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
			handleHistory(hist, w, r)
		})
	}

	if p.Metrics != nil {
		mux.Handle("/metrics", p.Metrics.Handler())
	}
	return mux
}

// sessionHistory is what the datalog holds for one producer session.
type sessionHistory struct {
	Session      string                   `json:"session"`
	States       []StateMessage           `json:"states"`
	Calibrations []datalog.CalibrationRow `json:"calibrations"`
	DecodeErrors int                      `json:"decode_errors"`
}

// handleHistory serves /api/history?session=<id>[&limit=n].
func handleHistory(hist *datalog.Log, w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if id == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}
	limit := 1000
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	out := sessionHistory{Session: id}
	states, err := hist.States(id, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, st := range states {
		out.States = append(out.States, newStateMessage(id, st, 0))
	}
	if out.Calibrations, err = hist.Calibrations(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if out.DecodeErrors, err = hist.DecodeErrorCount(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}
