// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"time"

	"github.com/goanna247/diagnostic/internal/controlpoint"
	"github.com/goanna247/diagnostic/internal/kinematics"
	"github.com/goanna247/diagnostic/internal/sim"
)

const (
	samplesPerNotification = 8
	simSpinUp              = 1.0 // seconds
)

// Sim is an emulated crank: a simulator for the raw data and an in-memory
// control point.
type Sim struct {
	crank    *sim.Crank
	device   *controlpoint.Emulator
	interval time.Duration
	last     time.Time
	ind      chan []byte
}

// NewSim creates an emulated crank spinning up to rpm. With realtime set,
// notifications are paced at the rate the real crank sends them.
func NewSim(c kinematics.Constants, rpm, noise float64, realtime bool) *Sim {
	s := &Sim{
		crank:  sim.New(c, rpm, simSpinUp, noise, time.Now().UnixNano()),
		device: &controlpoint.Emulator{KF: controlpoint.KFParametersFrom(c), CPVSize: 16, CPVDownsamp: 1},
		ind:    make(chan []byte, 16),
	}
	if realtime {
		s.interval = time.Duration(float64(samplesPerNotification) * c.DT * float64(time.Second))
	}
	return s
}

// Crank exposes the simulator, e.g. to read the true state.
func (s *Sim) Crank() *sim.Crank { return s.crank }

func (s *Sim) Next(ctx context.Context) ([]byte, error) {
	if s.interval > 0 && !s.last.IsZero() {
		t := time.NewTimer(time.Until(s.last.Add(s.interval)))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.last = time.Now()
	return s.crank.Notification(samplesPerNotification), nil
}

func (s *Sim) WriteControl(req []byte) error {
	select {
	case s.ind <- s.device.Handle(req):
	default:
	}
	return nil
}

func (s *Sim) Indications() <-chan []byte { return s.ind }

func (s *Sim) Close() error { return nil }
