// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"math"

	"periph.io/x/conn/v3/physic"
)

const (
	// CountsPerG is the accelerometer sensitivity at the ±8 g range.
	CountsPerG = 32768.0 / 8.0

	batteryVoltsPerCount = 0.6 * 6.0 / 4096.0

	positionScale     = 1.0 / (1 << 13)     // rev per count
	velocityScale     = 128.0 / (1 << 35)   // rev/s per count
	accelerationScale = 16384.0 / (1 << 40) // rev/s^2 per count
	revToRad          = 2 * math.Pi
)

// G converts both accelerometer samples to units of standard gravity.
func (a Acceleration) G() (a1, a2 [3]float64) {
	for i := 0; i < 3; i++ {
		a1[i] = float64(a.A1[i]) / CountsPerG
		a2[i] = float64(a.A2[i]) / CountsPerG
	}
	return a1, a2
}

// Raw returns the counts as float64 triples, the input to calibration.
func (a Acceleration) Raw() (a1, a2 [3]float64) {
	for i := 0; i < 3; i++ {
		a1[i] = float64(a.A1[i])
		a2[i] = float64(a.A2[i])
	}
	return a1, a2
}

// Celsius returns the temperature in degrees Celsius.
func (t Temperature) Celsius() float64 {
	return float64(t.Integral) + 1e-6*float64(t.Fractional)
}

// Physic returns the temperature as a periph physical quantity.
func (t Temperature) Physic() physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(t.Celsius()*float64(physic.Kelvin))
}

// Volts returns the battery voltage.
func (b Battery) Volts() float64 {
	return batteryVoltsPerCount * float64(b.Raw)
}

// Physic returns the battery voltage as a periph physical quantity.
func (b Battery) Physic() physic.ElectricPotential {
	return physic.ElectricPotential(b.Volts() * float64(physic.Volt))
}

// Revolutions returns angle, velocity and acceleration in rev, rev/s and rev/s^2.
func (s State) Revolutions() (pos, vel, acc float64) {
	return float64(s.Position) * positionScale,
		float64(s.Velocity) * velocityScale,
		float64(s.Acceleration) * accelerationScale
}

// Radians returns the state in rad, rad/s and rad/s^2.
func (s State) Radians() (theta, omega, alpha float64) {
	p, v, a := s.Revolutions()
	return p * revToRad, v * revToRad, a * revToRad
}

// Degrees returns the state in deg, deg/s and deg/s^2.
func (s State) Degrees() (theta, omega, alpha float64) {
	p, v, a := s.Revolutions()
	return p * 360, v * 360, a * 360
}
