// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration fits the affine transform that maps raw accelerometer
// counts to acceleration in the crank frame from six static poses.
package calibration

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// StandardGravity is the reference magnitude used by the device tooling.
const StandardGravity = 9.81

// maxCondition rejects normal matrices too close to singular to trust.
const maxCondition = 1e12

var ErrSingularCalibrationMatrix = errors.New("singular calibration matrix")

// normalEquations builds M (4x4) and the right-hand side (4x3) of the least
// squares problem physical_k = A_k . raw + b_k over the six poses.
func normalEquations(t *Table, g float64) (*mat.Dense, *mat.Dense) {
	m := mat.NewDense(4, 4, nil)
	for _, r := range t.Rows {
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				m.Set(i, j, m.At(i, j)+r[i]*r[j])
			}
			m.Set(i, 3, m.At(i, 3)+r[i])
			m.Set(3, i, m.At(3, i)+r[i])
		}
	}
	m.Set(3, 3, NumOrientations)

	// Gravity flips sign between opposite poses, any offset does not.
	rhs := mat.NewDense(4, 3, nil)
	for k := 0; k < 3; k++ {
		plus, minus := t.Rows[2*k], t.Rows[2*k+1]
		for i := 0; i < 3; i++ {
			rhs.Set(i, k, g*(plus[i]-minus[i]))
		}
	}
	return m, rhs
}

// Solve returns the least squares transform for the table. The table is not
// modified. On ErrSingularCalibrationMatrix the caller should keep its
// previous transform.
func Solve(t *Table, g float64) (Transform, error) {
	m, rhs := normalEquations(t, g)

	var lu mat.LU
	lu.Factorize(m)
	if c := lu.Cond(); math.IsNaN(c) || c > maxCondition {
		return Transform{}, fmt.Errorf("calibration: condition number %g: %w", c, ErrSingularCalibrationMatrix)
	}

	var x mat.Dense
	if err := lu.SolveTo(&x, false, rhs); err != nil {
		return Transform{}, fmt.Errorf("calibration: %v: %w", err, ErrSingularCalibrationMatrix)
	}

	// Rows 0..2 of the solution hold A transposed, row 3 holds b.
	var out Transform
	for k := 0; k < 3; k++ {
		for j := 0; j < 3; j++ {
			out.A[k][j] = x.At(j, k)
		}
		out.B[k] = x.At(3, k)
	}
	for k := 0; k < 3; k++ {
		for j := 0; j < 3; j++ {
			if math.IsNaN(out.A[k][j]) || math.IsInf(out.A[k][j], 0) {
				return Transform{}, fmt.Errorf("calibration: non-finite coefficient: %w", ErrSingularCalibrationMatrix)
			}
		}
		if math.IsNaN(out.B[k]) || math.IsInf(out.B[k], 0) {
			return Transform{}, fmt.Errorf("calibration: non-finite offset: %w", ErrSingularCalibrationMatrix)
		}
	}
	return out, nil
}
