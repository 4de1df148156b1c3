// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport delivers raw-data notifications from a crank, a serial
// bridge, a recorded log or the simulator.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goanna247/diagnostic/internal/kinematics"
)

// Source yields raw-data notifications. Next returns io.EOF when the source
// is exhausted.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// ControlPoint is implemented by sources that can reach the device's control
// point characteristic. Responses arrive on Indications.
type ControlPoint interface {
	WriteControl(req []byte) error
	Indications() <-chan []byte
}

var ErrNoControlPoint = errors.New("transport has no control point")

// Options selects and configures a source.
type Options struct {
	Kind string // ble, serial, replay, sim

	BLEName           string
	BLEAddress        string
	BLEService        string
	BLERawData        string
	BLEControlPoint   string
	BLEConnectTimeout time.Duration

	SerialPort string
	SerialBaud uint

	ReplayFile     string
	ReplayInterval time.Duration

	Model    kinematics.Constants
	SimRPM   float64
	SimNoise float64
}

// Open creates the source selected by o.Kind.
func Open(ctx context.Context, o Options) (Source, error) {
	switch o.Kind {
	case "ble":
		return OpenBLE(ctx, o)
	case "serial":
		return OpenSerial(o.SerialPort, o.SerialBaud)
	case "replay":
		return OpenReplay(o.ReplayFile, o.ReplayInterval)
	case "sim":
		return NewSim(o.Model, o.SimRPM, o.SimNoise, true), nil
	}
	return nil, fmt.Errorf("transport: unknown kind %q", o.Kind)
}

// AsControlPoint returns the control point of s if it has one.
func AsControlPoint(s Source) (ControlPoint, error) {
	cp, ok := s.(ControlPoint)
	if !ok {
		return nil, ErrNoControlPoint
	}
	return cp, nil
}
