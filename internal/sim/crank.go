// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sim synthesizes crank motion and the telemetry the crank would
// stream for it, optionally with sensor noise.
package sim

import (
	"math"
	"math/rand"

	"github.com/goanna247/diagnostic/internal/calibration"
	"github.com/goanna247/diagnostic/internal/kinematics"
	"github.com/goanna247/diagnostic/internal/telemetry"
)

// Truth is the simulated crank state at a sample.
type Truth struct {
	Theta float64 `json:"theta"`
	Omega float64 `json:"omega"`
	Alpha float64 `json:"alpha"`
}

// Crank accelerates from rest to a target cadence with constant angular
// acceleration and then holds it.
type Crank struct {
	c      kinematics.Constants
	omega0 float64 // target rad/s
	spinUp float64 // seconds
	noise  float64 // m/s^2, 1 sigma
	rng    *rand.Rand

	k     int
	truth Truth

	raw1, raw2 calibration.Transform // physical -> counts
}

// New creates a crank that reaches rpm after spinUp seconds. A zero spinUp
// starts the crank already turning at rpm.
func New(c kinematics.Constants, rpm, spinUp, noise float64, seed int64) *Crank {
	s := &Crank{
		c:      c,
		omega0: 2 * math.Pi * rpm / 60,
		spinUp: spinUp,
		noise:  noise,
		rng:    rand.New(rand.NewSource(seed)),
	}
	if spinUp <= 0 {
		s.truth.Omega = s.omega0
	}
	def := calibration.DefaultTransform(c.Gravity)
	s.raw1, _ = def.Inverse()
	s.raw2 = s.raw1
	return s
}

// SetTransforms makes the raw counts consistent with the given sensor
// calibrations, so that applying them recovers the physical values.
func (s *Crank) SetTransforms(t1, t2 calibration.Transform) error {
	inv1, err := t1.Inverse()
	if err != nil {
		return err
	}
	inv2, err := t2.Inverse()
	if err != nil {
		return err
	}
	s.raw1, s.raw2 = inv1, inv2
	return nil
}

// Truth returns the state of the last generated sample.
func (s *Crank) Truth() Truth { return s.truth }

func (s *Crank) advance() {
	dt := s.c.DT
	s.k++
	alpha := 0.0
	if s.spinUp > 0 && float64(s.k)*dt <= s.spinUp+dt/2 {
		alpha = s.omega0 / s.spinUp
	}
	s.truth.Theta += s.truth.Omega*dt + alpha*dt*dt/2
	s.truth.Omega += alpha * dt
	s.truth.Alpha = alpha
}

// Next advances one sample period and returns the noisy observation.
func (s *Crank) Next() kinematics.Observation {
	s.advance()
	z := s.c.Measurement(s.truth.Theta, s.truth.Omega, s.truth.Alpha)
	if s.noise > 0 {
		for i := range z {
			z[i] += s.noise * s.rng.NormFloat64()
		}
	}
	return kinematics.Observation{T: float64(s.k) * s.c.DT, Z: z}
}

// NextRecord advances one sample period and returns it as raw counts. The
// out-of-plane axis of both sensors reads zero acceleration.
func (s *Crank) NextRecord() telemetry.Acceleration {
	z := s.Next().Z
	p1 := s.raw1.Apply([3]float64{z[0], z[1], 0})
	p2 := s.raw2.Apply([3]float64{z[2], z[3], 0})
	var a telemetry.Acceleration
	for i := 0; i < 3; i++ {
		a.A1[i] = toCount(p1[i])
		a.A2[i] = toCount(p2[i])
	}
	return a
}

// Notification builds one raw-data notification holding n acceleration
// samples, a strain sample per acceleration sample, and a temperature and
// battery reading once per simulated second.
func (s *Crank) Notification(n int) []byte {
	var buf []byte
	perSecond := int(math.Round(1 / s.c.DT))
	for i := 0; i < n; i++ {
		acc := s.NextRecord()
		buf = telemetry.AppendRecord(buf, acc)
		buf = telemetry.AppendRecord(buf, telemetry.Strain{Value: s.strain()})
		if perSecond > 0 && s.k%perSecond == 0 {
			buf = telemetry.AppendRecord(buf, telemetry.Temperature{Integral: 21, Fractional: int32(s.rng.Intn(1000000))})
			buf = telemetry.AppendRecord(buf, telemetry.Battery{Raw: 3400 + uint16(s.rng.Intn(16))})
		}
	}
	return buf
}

// strain models pedal torque on the downstroke of one crank arm.
func (s *Crank) strain() int32 {
	v := 20000 * math.Max(0, math.Sin(s.truth.Theta))
	if s.noise > 0 {
		v += 50 * s.rng.NormFloat64()
	}
	return int32(v)
}

func toCount(v float64) int16 {
	r := math.Round(v)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}
