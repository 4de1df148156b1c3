// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/goanna247/diagnostic/internal/calibration"
	"github.com/goanna247/diagnostic/internal/config"
	"github.com/goanna247/diagnostic/internal/controlpoint"
	"github.com/goanna247/diagnostic/internal/datalog"
	"github.com/goanna247/diagnostic/internal/kinematics"
	"github.com/goanna247/diagnostic/internal/metrics"
	"github.com/goanna247/diagnostic/internal/session"
	"github.com/goanna247/diagnostic/internal/stats"
	"github.com/goanna247/diagnostic/internal/telemetry"
)

var errNoControl = errors.New("no control point available")

// Publisher sends a payload to a topic. The MQTT client is wrapped by
// mqttPublisher; tests substitute a recorder.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Pipeline runs notifications through a session and fans the results out to
// MQTT, the datalog and metrics. Every sink is optional.
type Pipeline struct {
	cfg  *config.Config
	sess *session.Session

	Pub     Publisher
	Metrics *metrics.Metrics
	Log     *datalog.Log
	Raw     *datalog.RawWriter
	// Control delivers a control point request to the crank.
	Control func(req []byte) error

	lastStats time.Time
}

func NewPipeline(cfg *config.Config) *Pipeline {
	return &Pipeline{cfg: cfg, sess: session.New(cfg.ModelConstants())}
}

func (p *Pipeline) Session() *session.Session { return p.sess }

// SampleMessage is one decoded record as published on the samples topic.
// Physical is set for records with a unit, e.g. "21.5°C".
type SampleMessage struct {
	Type     string           `json:"type"`
	Record   telemetry.Record `json:"record"`
	Physical string           `json:"physical,omitempty"`
}

func newSampleMessage(r telemetry.Record) SampleMessage {
	m := SampleMessage{Type: r.Opcode().String(), Record: r}
	switch v := r.(type) {
	case telemetry.Temperature:
		m.Physical = v.Physic().String()
	case telemetry.Battery:
		m.Physical = v.Physic().String()
	}
	return m
}

// StateMessage is the filter state as published on the state topic.
type StateMessage struct {
	Session    string  `json:"session"`
	T          float64 `json:"t"`
	Theta      float64 `json:"theta"`
	ThetaDeg   float64 `json:"theta_deg"`
	Omega      float64 `json:"omega"`
	Alpha      float64 `json:"alpha"`
	RPM        float64 `json:"rpm"`
	Degenerate int     `json:"degenerate,omitempty"`
}

func newStateMessage(id string, st kinematics.State, degenerate int) StateMessage {
	th := st.WrappedTheta()
	return StateMessage{
		Session:    id,
		T:          st.T,
		Theta:      th,
		ThetaDeg:   th * 180 / math.Pi,
		Omega:      st.Omega,
		Alpha:      st.Alpha,
		RPM:        st.RPM(),
		Degenerate: degenerate,
	}
}

// Handle processes one notification. Decode and filter errors are logged and
// recorded but never stop the pipeline; the returned error is informational.
func (p *Pipeline) Handle(buf []byte) (session.Update, error) {
	if p.Raw != nil {
		if err := p.Raw.WriteFrame(buf); err != nil {
			log.Printf("pipeline: raw log: %v", err)
		}
	}
	upd, err := p.sess.HandleBuffer(buf)
	p.account(upd, err)
	return upd, err
}

// HandleRecords is Handle for records already reassembled from a stream.
func (p *Pipeline) HandleRecords(recs []telemetry.Record, decodeErr error) (session.Update, error) {
	if p.Raw != nil && len(recs) > 0 {
		if err := p.Raw.WriteFrame(telemetry.Encode(recs...)); err != nil {
			log.Printf("pipeline: raw log: %v", err)
		}
	}
	upd, err := p.sess.HandleRecords(recs)
	err = errors.Join(decodeErr, err)
	p.account(upd, err)
	return upd, err
}

func (p *Pipeline) account(upd session.Update, err error) {
	id := p.sess.ID().String()

	if p.Metrics != nil {
		p.Metrics.Observe(upd, err)
	}
	if err != nil {
		if errors.Is(err, telemetry.ErrUnknownOpcode) || errors.Is(err, telemetry.ErrTruncatedRecord) {
			log.Printf("pipeline: decode: %v", err)
			if p.Log != nil {
				p.Log.DecodeError(id, err)
			}
		}
		if upd.Degenerate > 0 {
			log.Printf("pipeline: %d filter steps skipped (degenerate innovation)", upd.Degenerate)
		}
	}
	if p.Log != nil {
		for _, st := range upd.States {
			p.Log.State(id, st)
		}
	}
	if p.Pub == nil {
		return
	}

	if len(upd.Records) > 0 {
		msgs := make([]SampleMessage, len(upd.Records))
		for i, r := range upd.Records {
			msgs[i] = newSampleMessage(r)
		}
		p.publishJSON(p.cfg.TopicSamples, msgs)
	}
	if n := len(upd.States); n > 0 {
		p.publishJSON(p.cfg.TopicState, newStateMessage(id, upd.States[n-1], upd.Degenerate))
	}
	if time.Since(p.lastStats) >= p.cfg.StatsInterval() {
		p.lastStats = time.Now()
		p.publishJSON(p.cfg.TopicStats, p.sess.Snapshot().Stats)
	}
}

func (p *Pipeline) publishJSON(topic string, v interface{}) {
	if p.Pub == nil || topic == "" {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("pipeline: json marshal error (%s): %v", topic, err)
		return
	}
	if err := p.Pub.Publish(topic, payload); err != nil {
		log.Printf("pipeline: publish error (%s): %v", topic, err)
	}
}

// Command is a request to change session state, received on the command
// topic or from the calibration websocket.
type Command struct {
	Action      string `json:"action"` // reset_stats, reset_filter, capture, process, reset_table, upload, snapshot
	Group       string `json:"group,omitempty"`
	Sensor      string `json:"sensor,omitempty"`
	Orientation string `json:"orientation,omitempty"`
}

// CommandResult is the reply to a Command.
type CommandResult struct {
	Action       string                    `json:"action"`
	OK           bool                      `json:"ok"`
	Error        string                    `json:"error,omitempty"`
	Sensor       string                    `json:"sensor,omitempty"`
	Orientation  string                    `json:"orientation,omitempty"`
	Mean         *[3]float64               `json:"mean,omitempty"`
	Missing      []string                  `json:"missing,omitempty"`
	Transform    *calibration.Transform    `json:"transform,omitempty"`
	Coefficients *calibration.Coefficients `json:"coefficients,omitempty"`
	Snapshot     *session.Snapshot         `json:"snapshot,omitempty"`
}

// Execute applies a command. Failures are reported in the result and also
// returned.
func (p *Pipeline) Execute(c Command) (CommandResult, error) {
	res := CommandResult{Action: c.Action, Sensor: c.Sensor, Orientation: c.Orientation}
	err := p.execute(c, &res)
	if err != nil {
		res.Error = err.Error()
	} else {
		res.OK = true
	}
	if c.Action == "process" || c.Action == "capture" || c.Action == "upload" {
		p.publishJSON(p.cfg.TopicCalibration, res)
	}
	return res, err
}

func (p *Pipeline) execute(c Command, res *CommandResult) error {
	switch c.Action {
	case "reset_stats":
		g := stats.GroupAll
		if c.Group != "" {
			var err error
			if g, err = stats.ParseGroup(c.Group); err != nil {
				return err
			}
		}
		p.sess.ResetStats(g)
		return nil

	case "reset_filter":
		p.sess.ResetFilter()
		return nil

	case "snapshot":
		snap := p.sess.Snapshot()
		res.Snapshot = &snap
		return nil
	}

	sensor, err := session.ParseSensor(c.Sensor)
	if err != nil {
		return err
	}

	switch c.Action {
	case "capture":
		o, err := calibration.ParseOrientation(c.Orientation)
		if err != nil {
			return err
		}
		mean, err := p.sess.Capture(sensor, o)
		if err != nil {
			return err
		}
		res.Mean = &mean
		res.Missing = p.missing(sensor)
		return nil

	case "reset_table":
		return p.sess.ResetTable(sensor)

	case "process":
		res.Missing = p.missing(sensor)
		tr, err := p.sess.Process(sensor)
		if p.Metrics != nil {
			p.Metrics.Solve(sensor, err)
		}
		if p.Log != nil {
			p.Log.Calibration(p.sess.ID().String(), int(sensor), tr, err)
		}
		if err != nil {
			return err
		}
		res.Transform = &tr
		co, err := tr.Quantize()
		if err != nil {
			return fmt.Errorf("transform installed but not representable on the device: %w", err)
		}
		res.Coefficients = &co
		return nil

	case "upload":
		if p.Control == nil {
			return errNoControl
		}
		tr, err := p.sess.Transform(sensor)
		if err != nil {
			return err
		}
		co, err := tr.Quantize()
		if err != nil {
			return err
		}
		req, err := controlpoint.EncodeTransform(int(sensor), co)
		if err != nil {
			return err
		}
		res.Transform, res.Coefficients = &tr, &co
		return p.Control(req)
	}
	return fmt.Errorf("unknown action %q", c.Action)
}

func (p *Pipeline) missing(sensor session.Sensor) []string {
	snap := p.sess.Snapshot()
	var out []string
	for _, o := range snap.Tables[int(sensor)-1].Missing() {
		out = append(out, o.String())
	}
	return out
}
