// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// LinearScale and OffsetScale map the float coefficients onto the int16
	// values stored by the device.
	LinearScale = 1 << 23
	OffsetScale = 1 << 15

	// countsPerG matches the ±8 g range of the crank accelerometers.
	countsPerG = 4096.0
)

var ErrCoefficientOverflow = errors.New("calibration coefficient does not fit in int16")

// Transform maps a raw accelerometer sample to m/s^2: physical = A*raw + B.
type Transform struct {
	A [3][3]float64 `json:"a"`
	B [3]float64    `json:"b"`
}

// Coefficients is the wire order of a transform: A row 0, b0, A row 1, b1,
// A row 2, b2.
type Coefficients [12]int16

// Identity returns the transform that passes raw values through.
func Identity() Transform {
	return Transform{A: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
}

// DefaultTransform converts counts to m/s^2 using the nominal sensitivity.
func DefaultTransform(g float64) Transform {
	k := g / countsPerG
	return Transform{A: [3][3]float64{{k, 0, 0}, {0, k, 0}, {0, 0, k}}}
}

func (t Transform) Apply(raw [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = t.A[i][0]*raw[0] + t.A[i][1]*raw[1] + t.A[i][2]*raw[2] + t.B[i]
	}
	return out
}

// Inverse returns the transform mapping physical values back to raw counts.
func (t Transform) Inverse() (Transform, error) {
	a := mat.NewDense(3, 3, []float64{
		t.A[0][0], t.A[0][1], t.A[0][2],
		t.A[1][0], t.A[1][1], t.A[1][2],
		t.A[2][0], t.A[2][1], t.A[2][2],
	})
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		return Transform{}, fmt.Errorf("calibration: invert transform: %w", err)
	}
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.A[i][j] = inv.At(i, j)
		}
	}
	for i := 0; i < 3; i++ {
		out.B[i] = -(out.A[i][0]*t.B[0] + out.A[i][1]*t.B[1] + out.A[i][2]*t.B[2])
	}
	return out, nil
}

// Quantize rounds the transform to the device representation.
func (t Transform) Quantize() (Coefficients, error) {
	var c Coefficients
	for i := 0; i < 12; i++ {
		row, col := i/4, i%4
		var v float64
		if col == 3 {
			v = t.B[row] * OffsetScale
		} else {
			v = t.A[row][col] * LinearScale
		}
		r := math.Round(v)
		if math.IsNaN(r) || r < math.MinInt16 || r > math.MaxInt16 {
			return Coefficients{}, fmt.Errorf("coefficient %d = %g: %w", i, v, ErrCoefficientOverflow)
		}
		c[i] = int16(r)
	}
	return c, nil
}

// FromWire converts device coefficients back to a float transform.
func FromWire(c Coefficients) Transform {
	var t Transform
	for i, v := range c {
		row, col := i/4, i%4
		if col == 3 {
			t.B[row] = float64(v) / OffsetScale
		} else {
			t.A[row][col] = float64(v) / LinearScale
		}
	}
	return t
}
