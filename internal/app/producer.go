// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/goanna247/diagnostic/internal/config"
	"github.com/goanna247/diagnostic/internal/controlpoint"
	"github.com/goanna247/diagnostic/internal/datalog"
	"github.com/goanna247/diagnostic/internal/metrics"
	"github.com/goanna247/diagnostic/internal/telemetry"
	"github.com/goanna247/diagnostic/internal/transport"
)

// TransportOptions maps the configuration onto transport options.
func TransportOptions(cfg *config.Config) transport.Options {
	return transport.Options{
		Kind:            cfg.Transport,
		BLEName:         cfg.BLEDeviceName,
		BLEAddress:      cfg.BLEDeviceAddress,
		BLEService:      cfg.BLEServiceUUID,
		BLERawData:      cfg.BLERawDataUUID,
		BLEControlPoint: cfg.BLEControlPointUUID,
		SerialPort:      cfg.SerialPort,
		SerialBaud:      cfg.SerialBaudRate,
		ReplayFile:      cfg.ReplayFile,
		ReplayInterval:  time.Duration(cfg.ReplayInterval) * time.Millisecond,
		Model:           cfg.ModelConstants(),
		SimRPM:          cfg.SimRPM,
		SimNoise:        cfg.SimNoise,
	}
}

// RunProducer connects to the crank, runs every notification through the
// pipeline, and publishes raw data, samples, state and statistics to MQTT.
// It also serves the command and control point topics.
func RunProducer() error {
	log.Println("starting crank diagnostic producer")
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- connect to MQTT ---
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer)
	if err != nil {
		log.Fatalf("MQTT connect error: %v", err)
	}
	defer client.Disconnect(250)

	// --- open transport ---
	src, err := transport.Open(ctx, TransportOptions(cfg))
	if err != nil {
		return fmt.Errorf("producer: %w", err)
	}
	defer src.Close()
	log.Printf("producer: transport %s open", cfg.Transport)

	p := NewPipeline(cfg)
	p.Pub = mqttPublisher{client}
	raw := rawPublisher{client}

	if cfg.DatalogPath != "" {
		dl, err := datalog.Open(cfg.DatalogPath)
		if err != nil {
			return fmt.Errorf("producer: %w", err)
		}
		defer dl.Close()
		if err := dl.StartSession(p.Session().ID().String(), p.Session().Started(), p.Session().Constants()); err != nil {
			return fmt.Errorf("producer: %w", err)
		}
		p.Log = dl
		log.Printf("producer: logging session %s to %s", p.Session().ID(), cfg.DatalogPath)
	}
	if cfg.RawlogPath != "" {
		rw, err := datalog.CreateRaw(cfg.RawlogPath)
		if err != nil {
			return fmt.Errorf("producer: %w", err)
		}
		defer func() {
			log.Printf("producer: raw log %s: %s", cfg.RawlogPath, rw.Summary())
			rw.Close()
		}()
		p.Raw = rw
	}
	if cfg.MetricsEnabled {
		p.Metrics = metrics.New()
		addr := fmt.Sprintf(":%d", cfg.WebServerPort+1)
		mux := http.NewServeMux()
		mux.Handle("/metrics", p.Metrics.Handler())
		go func() {
			log.Printf("producer: metrics on %s/metrics", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("producer: metrics server: %v", err)
			}
		}()
	}

	// --- control point ---
	if cp, err := transport.AsControlPoint(src); err == nil {
		p.Control = cp.WriteControl
		go forwardIndications(cp.Indications(), raw, cfg.TopicControlResponse)
		if err := subscribe(client, cfg.TopicControl, func(_ mqtt.Client, msg mqtt.Message) {
			handleControlMessage(msg.Payload(), cp.WriteControl, raw, cfg.TopicControlResponse)
		}); err != nil {
			return fmt.Errorf("producer: subscribe %s: %w", cfg.TopicControl, err)
		}
		log.Printf("producer: control point requests on %s", cfg.TopicControl)
	} else {
		log.Printf("producer: %s transport has no control point", cfg.Transport)
	}

	// --- commands ---
	if err := subscribe(client, cfg.TopicCommand, func(_ mqtt.Client, msg mqtt.Message) {
		var c Command
		if err := json.Unmarshal(msg.Payload(), &c); err != nil {
			log.Printf("producer: command unmarshal error: %v", err)
			return
		}
		res, err := p.Execute(c)
		if err != nil {
			log.Printf("producer: command %s: %v", c.Action, err)
			return
		}
		log.Printf("producer: command %s ok", res.Action)
	}); err != nil {
		return fmt.Errorf("producer: subscribe %s: %w", cfg.TopicCommand, err)
	}

	log.Println("producer: streaming")
	var notifications int
	for {
		buf, err := src.Next(ctx)
		if len(buf) > 0 {
			notifications++
			if perr := raw.Publish(cfg.TopicRaw, buf); perr != nil {
				log.Printf("producer: publish raw: %v", perr)
			}
		}
		switch {
		case err == nil:
			p.Handle(buf)
		case errors.Is(err, telemetry.ErrUnknownOpcode):
			// serial resync: buf holds the records decoded before the bad byte
			recs, _ := telemetry.Decode(buf)
			p.HandleRecords(recs, err)
		case errors.Is(err, io.EOF):
			log.Printf("producer: source exhausted after %d notifications", notifications)
			return nil
		case errors.Is(err, context.Canceled):
			log.Printf("producer: shutting down after %d notifications", notifications)
			return nil
		default:
			return fmt.Errorf("producer: %w", err)
		}
	}
}

// ControlResponse is a parsed control point response as published on the
// control response topic.
type ControlResponse struct {
	Request string      `json:"request"`
	Result  string      `json:"result"`
	OK      bool        `json:"ok"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
	Raw     []byte      `json:"raw"`
}

func describeResponse(b []byte) ControlResponse {
	out := ControlResponse{Raw: b}
	r, err := controlpoint.ParseResponse(b)
	out.Request, out.Result = r.Request.String(), r.Result.String()
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.OK = true
	if out.Payload, err = r.Payload(); err != nil {
		out.OK = false
		out.Error = err.Error()
	}
	return out
}

func forwardIndications(ind <-chan []byte, pub Publisher, topic string) {
	for b := range ind {
		resp := describeResponse(b)
		log.Printf("producer: control point %s: %s", resp.Request, resp.Result)
		payload, err := json.Marshal(resp)
		if err != nil {
			log.Printf("producer: json marshal error (control response): %v", err)
			continue
		}
		if err := pub.Publish(topic, payload); err != nil {
			log.Printf("producer: publish error (%s): %v", topic, err)
		}
	}
}

// handleControlMessage writes a control point request to the crank. The
// payload is either a JSON controlpoint.Command or the request bytes
// themselves. Requests that cannot be built are answered on the response
// topic directly.
func handleControlMessage(payload []byte, write func([]byte) error, pub Publisher, topic string) {
	var (
		c   controlpoint.Command
		req []byte
		err error
	)
	if len(payload) > 0 && payload[0] == '{' {
		if err = json.Unmarshal(payload, &c); err == nil {
			req, err = c.Build()
		}
	} else if len(payload) > 0 {
		req = payload
		c.Name = controlpoint.Opcode(payload[0]).String()
	} else {
		err = errors.New("empty request")
	}
	if err == nil {
		err = write(req)
	}
	if err == nil {
		log.Printf("producer: control point request %s (% X)", c.Name, req)
		return
	}
	log.Printf("producer: control point request %q: %v", c.Name, err)
	b, _ := json.Marshal(ControlResponse{Request: c.Name, Error: err.Error()})
	if perr := pub.Publish(topic, b); perr != nil {
		log.Printf("producer: publish error (%s): %v", topic, perr)
	}
}
