// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kinematics

import (
	"errors"
	"fmt"
	"math"

	"github.com/skelterjohn/go.matrix"
)

var ErrFilterDegenerate = errors.New("filter degenerate")

// maxCondition bounds the 1-norm condition estimate of S.
const maxCondition = 1e12

// Observation is one calibrated sample pair: z = [x1, y1, x2, y2] in m/s^2.
type Observation struct {
	T float64    `json:"t"`
	Z [4]float64 `json:"z"`
}

// State is the estimate after a filter step.
type State struct {
	T     float64       `json:"t"`
	Theta float64       `json:"theta"`
	Omega float64       `json:"omega"`
	Alpha float64       `json:"alpha"`
	P     [3][3]float64 `json:"p"`
}

// RPM returns omega in revolutions per minute.
func (s State) RPM() float64 { return s.Omega * 60 / (2 * math.Pi) }

// WrappedTheta returns theta folded into [0, 2pi) for display.
func (s State) WrappedTheta() float64 {
	th := math.Mod(s.Theta, 2*math.Pi)
	if th < 0 {
		th += 2 * math.Pi
	}
	return th
}

// Estimator is the crank EKF. It is not safe for concurrent use.
type Estimator struct {
	c Constants
	t float64

	x *matrix.DenseMatrix // 3x1
	p *matrix.DenseMatrix // 3x3
	f *matrix.DenseMatrix
	q *matrix.DenseMatrix
	r *matrix.DenseMatrix
}

// New returns an estimator at theta = omega = alpha = 0 with zero covariance.
func New(c Constants) *Estimator {
	dt := c.DT
	g := []float64{dt * dt / 2, dt, 1}
	q := matrix.Zeros(3, 3)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			q.Set(i, j, c.Sigma2Alpha*g[i]*g[j])
		}
	}
	e := &Estimator{
		c: c,
		f: matrix.MakeDenseMatrix([]float64{
			1, dt, dt * dt / 2,
			0, 1, dt,
			0, 0, 1,
		}, 3, 3),
		q: q,
		r: matrix.Scaled(matrix.Eye(4), c.Sigma2Accel),
	}
	e.Reset()
	return e
}

func (e *Estimator) Constants() Constants { return e.c }

// Reset returns the filter to its initial state.
func (e *Estimator) Reset() {
	e.t = 0
	e.x = matrix.Zeros(3, 1)
	e.p = matrix.Zeros(3, 3)
}

func (e *Estimator) State() State {
	s := State{
		T:     e.t,
		Theta: e.x.Get(0, 0),
		Omega: e.x.Get(1, 0),
		Alpha: e.x.Get(2, 0),
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s.P[i][j] = e.p.Get(i, j)
		}
	}
	return s
}

// Step runs one predict/update cycle. On ErrFilterDegenerate the estimate is
// left as it was before the call.
func (e *Estimator) Step(z Observation) (State, error) {
	// predict
	xp := matrix.Product(e.f, e.x)
	pp := matrix.Sum(matrix.Product(e.f, matrix.Product(e.p, e.f.Transpose())), e.q)

	theta, omega, alpha := xp.Get(0, 0), xp.Get(1, 0), xp.Get(2, 0)
	hx := e.c.Measurement(theta, omega, alpha)
	y := matrix.MakeDenseMatrix([]float64{
		z.Z[0] - hx[0],
		z.Z[1] - hx[1],
		z.Z[2] - hx[2],
		z.Z[3] - hx[3],
	}, 4, 1)

	jac := e.c.Jacobian(theta, omega, alpha)
	h := matrix.MakeDenseMatrix([]float64{
		jac[0][0], jac[0][1], jac[0][2],
		jac[1][0], jac[1][1], jac[1][2],
		jac[2][0], jac[2][1], jac[2][2],
		jac[3][0], jac[3][1], jac[3][2],
	}, 4, 3)
	ht := h.Transpose()

	// update
	ss := matrix.Sum(matrix.Product(h, matrix.Product(pp, ht)), e.r)
	ssInv, err := invert(ss)
	if err != nil {
		return e.State(), fmt.Errorf("kinematics: t=%.4f: %w", z.T, err)
	}
	kk := matrix.Product(pp, matrix.Product(ht, ssInv))
	x := matrix.Sum(xp, matrix.Product(kk, y))

	// Joseph form keeps P symmetric and positive semi-definite.
	ikh := matrix.Difference(matrix.Eye(3), matrix.Product(kk, h))
	p := matrix.Sum(
		matrix.Product(ikh, matrix.Product(pp, ikh.Transpose())),
		matrix.Product(kk, matrix.Product(e.r, kk.Transpose())),
	)

	if !finite(x) || !finite(p) {
		return e.State(), fmt.Errorf("kinematics: t=%.4f: non-finite update: %w", z.T, ErrFilterDegenerate)
	}
	e.x, e.p, e.t = x, p, z.T
	return e.State(), nil
}

// invert returns S^-1, rejecting singular and badly conditioned S.
func invert(ss *matrix.DenseMatrix) (*matrix.DenseMatrix, error) {
	if !finite(ss) {
		return nil, fmt.Errorf("non-finite innovation covariance: %w", ErrFilterDegenerate)
	}
	inv, err := ss.Inverse()
	if err != nil {
		return nil, fmt.Errorf("invert innovation covariance: %v: %w", err, ErrFilterDegenerate)
	}
	if !finite(inv) {
		return nil, fmt.Errorf("non-finite inverse: %w", ErrFilterDegenerate)
	}
	if c := norm1(ss) * norm1(inv); c > maxCondition {
		return nil, fmt.Errorf("innovation covariance condition %g: %w", c, ErrFilterDegenerate)
	}
	return inv, nil
}

func finite(m *matrix.DenseMatrix) bool {
	for i := 0; i < m.Rows(); i++ {
		for j := 0; j < m.Cols(); j++ {
			v := m.Get(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// norm1 is the maximum absolute column sum.
func norm1(m *matrix.DenseMatrix) float64 {
	max := 0.0
	for j := 0; j < m.Cols(); j++ {
		sum := 0.0
		for i := 0; i < m.Rows(); i++ {
			sum += math.Abs(m.Get(i, j))
		}
		if sum > max {
			max = sum
		}
	}
	return max
}
