// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session ties the decoder, statistics, calibration and estimator
// together for one connected crank. All methods are safe for concurrent use:
// telemetry arrives from the transport goroutine while reset, capture and
// process requests arrive from the UI.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goanna247/diagnostic/internal/calibration"
	"github.com/goanna247/diagnostic/internal/kinematics"
	"github.com/goanna247/diagnostic/internal/stats"
	"github.com/goanna247/diagnostic/internal/telemetry"
)

// Sensor selects one of the two crank accelerometers.
type Sensor int

const (
	Accel1 Sensor = 1
	Accel2 Sensor = 2
)

func (s Sensor) String() string { return fmt.Sprintf("accel%d", int(s)) }

// ParseSensor accepts "1", "2", "accel1" and "accel2".
func ParseSensor(v string) (Sensor, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "accel1":
		return Accel1, nil
	case "2", "accel2":
		return Accel2, nil
	}
	return 0, fmt.Errorf("unknown accelerometer %q", v)
}

func (s Sensor) index() (int, error) {
	if s != Accel1 && s != Accel2 {
		return 0, fmt.Errorf("session: invalid accelerometer %d", int(s))
	}
	return int(s) - 1, nil
}

// Latest holds the most recent decoded value of each scalar record type.
type Latest struct {
	Strain       int32                 `json:"strain"`
	Acceleration telemetry.Acceleration `json:"acceleration"`
	Accel1G      [3]float64            `json:"accel1_g"`
	Accel2G      [3]float64            `json:"accel2_g"`
	Celsius      float64               `json:"celsius"`
	Volts        float64               `json:"volts"`
	DeviceState  *DeviceState          `json:"device_state,omitempty"`
	Vector4      *telemetry.Vector4    `json:"vector4,omitempty"`
	Matrix33     *telemetry.Matrix33   `json:"matrix33,omitempty"`
}

// DeviceState is the crank's own on-board estimate, in degrees.
type DeviceState struct {
	Angle        float64 `json:"angle_deg"`
	Velocity     float64 `json:"velocity_dps"`
	Acceleration float64 `json:"acceleration_dps2"`
}

// Update is the outcome of one notification buffer.
type Update struct {
	Records      []telemetry.Record
	Observations []kinematics.Observation
	States       []kinematics.State
	Degenerate   int
}

// Session is the per-device processing state.
type Session struct {
	mu sync.Mutex

	id      uuid.UUID
	started time.Time
	consts  kinematics.Constants

	stats      *stats.Set
	tables     [2]*calibration.Table
	transforms [2]calibration.Transform
	est        *kinematics.Estimator
	step       uint64
	latest     Latest
}

// New starts a session with default calibrations and a fresh estimator.
func New(c kinematics.Constants) *Session {
	def := calibration.DefaultTransform(c.Gravity)
	return &Session{
		id:         uuid.New(),
		started:    time.Now(),
		consts:     c,
		stats:      stats.NewSet(),
		tables:     [2]*calibration.Table{calibration.NewTable(), calibration.NewTable()},
		transforms: [2]calibration.Transform{def, def},
		est:        kinematics.New(c),
	}
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) Started() time.Time { return s.started }

func (s *Session) Constants() kinematics.Constants { return s.consts }

// HandleBuffer decodes one notification and runs every record through the
// pipeline. Records decoded before a decode error are still processed, and the
// returned error joins the decode error with any rejected filter steps.
func (s *Session) HandleBuffer(buf []byte) (Update, error) {
	recs, decErr := telemetry.Decode(buf)
	upd, err := s.HandleRecords(recs)
	return upd, errors.Join(decErr, err)
}

// HandleRecords processes already decoded records, as produced by a
// telemetry.Stream.
func (s *Session) HandleRecords(recs []telemetry.Record) (Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upd := Update{Records: recs}
	var errs []error
	for _, r := range recs {
		switch v := r.(type) {
		case telemetry.Strain:
			s.stats.Strain.Observe(float64(v.Value))
			s.latest.Strain = v.Value
		case telemetry.Acceleration:
			raw1, raw2 := v.Raw()
			s.stats.Accel1.Observe(raw1)
			s.stats.Accel2.Observe(raw2)
			s.latest.Acceleration = v
			s.latest.Accel1G, s.latest.Accel2G = v.G()

			s.step++
			obs := s.observation(raw1, raw2)
			upd.Observations = append(upd.Observations, obs)
			st, err := s.est.Step(obs)
			if err != nil {
				upd.Degenerate++
				errs = append(errs, err)
				continue
			}
			upd.States = append(upd.States, st)
		case telemetry.Temperature:
			s.stats.Temperature.Observe(v.Celsius())
			s.latest.Celsius = v.Celsius()
		case telemetry.Battery:
			s.stats.Battery.Observe(v.Volts())
			s.latest.Volts = v.Volts()
		case telemetry.State:
			a, w, al := v.Degrees()
			s.latest.DeviceState = &DeviceState{Angle: a, Velocity: w, Acceleration: al}
		case telemetry.Vector4:
			s.latest.Vector4 = &v
		case telemetry.Matrix33:
			s.latest.Matrix33 = &v
		}
	}
	return upd, errors.Join(errs...)
}

// observation calibrates both raw samples into the in-plane components.
func (s *Session) observation(raw1, raw2 [3]float64) kinematics.Observation {
	p1 := s.transforms[0].Apply(raw1)
	p2 := s.transforms[1].Apply(raw2)
	return kinematics.Observation{
		T: float64(s.step) * s.consts.DT,
		Z: [4]float64{p1[0], p1[1], p2[0], p2[1]},
	}
}

// ResetStats clears one statistics group.
func (s *Session) ResetStats(g stats.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Reset(g)
}

// ResetFilter restarts the estimator from rest.
func (s *Session) ResetFilter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.est.Reset()
	s.step = 0
}

// Capture stores the current mean of the sensor's statistics as the table row
// for orientation o and returns the stored mean.
func (s *Session) Capture(sensor Sensor, o calibration.Orientation) ([3]float64, error) {
	i, err := sensor.index()
	if err != nil {
		return [3]float64{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	mean := s.stats.Accel1.Means()
	if sensor == Accel2 {
		mean = s.stats.Accel2.Means()
	}
	if err := s.tables[i].Set(o, mean); err != nil {
		return [3]float64{}, err
	}
	return mean, nil
}

// Process solves the sensor's orientation table. On success the new
// transform is used for all following samples; on failure the previous one
// stays in place.
func (s *Session) Process(sensor Sensor) (calibration.Transform, error) {
	i, err := sensor.index()
	if err != nil {
		return calibration.Transform{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, err := calibration.Solve(s.tables[i], s.consts.Gravity)
	if err != nil {
		return calibration.Transform{}, fmt.Errorf("%s: %w", sensor, err)
	}
	s.transforms[i] = tr
	return tr, nil
}

// ResetTable restores the default rows of the sensor's orientation table.
func (s *Session) ResetTable(sensor Sensor) error {
	i, err := sensor.index()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[i].Reset()
	return nil
}

func (s *Session) Transform(sensor Sensor) (calibration.Transform, error) {
	i, err := sensor.index()
	if err != nil {
		return calibration.Transform{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transforms[i], nil
}

// SetTransform installs a transform, for example one read back from the
// device control point.
func (s *Session) SetTransform(sensor Sensor, t calibration.Transform) error {
	i, err := sensor.index()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transforms[i] = t
	return nil
}

// Snapshot is a consistent copy of the session for publishing.
type Snapshot struct {
	ID         string                   `json:"id"`
	Started    time.Time                `json:"started"`
	Steps      uint64                   `json:"steps"`
	Stats      stats.Snapshot           `json:"stats"`
	Tables     [2]calibration.Table     `json:"tables"`
	Transforms [2]calibration.Transform `json:"transforms"`
	State      kinematics.State         `json:"state"`
	Latest     Latest                   `json:"latest"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.id.String(),
		Started:    s.started,
		Steps:      s.step,
		Stats:      s.stats.Snapshot(),
		Tables:     [2]calibration.Table{*s.tables[0], *s.tables[1]},
		Transforms: s.transforms,
		State:      s.est.State(),
		Latest:     s.latest,
	}
}
