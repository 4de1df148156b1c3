// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

/*
Package kinematics estimates crank angle, angular velocity and angular
acceleration from the two crank accelerometers with an extended Kalman filter.

State: x = [theta, omega, alpha] in rad, rad/s and rad/s^2.

Equations of motion over one sample period DT:

	theta -> theta + omega*DT + alpha*DT^2/2
	omega -> omega + alpha*DT
	alpha -> alpha

Measurement predictions for accelerometer i at radius ri, where RATIO couples
in the angular acceleration of a partner crank:

	xi =  RATIO*alpha*cos(theta) + g*sin(theta) - ri*omega^2
	yi = -RATIO*alpha*sin(theta) + g*cos(theta) + ri*alpha
*/
package kinematics

import (
	"fmt"
	"math"
)

// Constants are the model parameters of one filter run.
type Constants struct {
	DT          float64 `json:"dt"`           // sample period, s
	Sigma2Alpha float64 `json:"sigma2_alpha"` // process variance of alpha
	Sigma2Accel float64 `json:"sigma2_accel"` // measurement variance per axis
	R1          float64 `json:"r1"`           // radius of accelerometer 1, m
	R2          float64 `json:"r2"`           // radius of accelerometer 2, m
	Ratio       float64 `json:"ratio"`
	Gravity     float64 `json:"gravity"`
}

// DefaultConstants match the production crank at 128 Hz.
func DefaultConstants() Constants {
	return Constants{
		DT:          0.0078125,
		Sigma2Alpha: 0.1,
		Sigma2Accel: 10,
		R1:          0.0284,
		R2:          0.0614,
		Ratio:       0,
		Gravity:     9.81,
	}
}

func (c Constants) Validate() error {
	for name, v := range map[string]float64{
		"DT": c.DT, "SIGMA2_ALPHA": c.Sigma2Alpha, "SIGMA2_ACCEL": c.Sigma2Accel,
		"R1": c.R1, "R2": c.R2, "RATIO": c.Ratio, "GRAVITY": c.Gravity,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("kinematics: %s is not finite", name)
		}
	}
	if c.DT <= 0 {
		return fmt.Errorf("kinematics: DT must be positive, got %g", c.DT)
	}
	if c.Sigma2Alpha < 0 || c.Sigma2Accel < 0 {
		return fmt.Errorf("kinematics: variances must not be negative")
	}
	return nil
}

// Measurement is h(x): the accelerations [x1, y1, x2, y2] expected for a state.
func (c Constants) Measurement(theta, omega, alpha float64) [4]float64 {
	sin, cos := math.Sincos(theta)
	x := c.Ratio*alpha*cos + c.Gravity*sin
	y := -c.Ratio*alpha*sin + c.Gravity*cos
	return [4]float64{
		x - c.R1*omega*omega,
		y + c.R1*alpha,
		x - c.R2*omega*omega,
		y + c.R2*alpha,
	}
}

// Jacobian is dh/dx evaluated at the given state.
func (c Constants) Jacobian(theta, omega, alpha float64) [4][3]float64 {
	sin, cos := math.Sincos(theta)
	dxdTheta := -c.Ratio*alpha*sin + c.Gravity*cos
	dydTheta := -c.Ratio*alpha*cos - c.Gravity*sin
	return [4][3]float64{
		{dxdTheta, -2 * c.R1 * omega, c.Ratio * cos},
		{dydTheta, 0, -c.Ratio*sin + c.R1},
		{dxdTheta, -2 * c.R2 * omega, c.Ratio * cos},
		{dydTheta, 0, -c.Ratio*sin + c.R2},
	}
}
