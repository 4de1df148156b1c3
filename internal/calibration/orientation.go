// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"fmt"
	"strconv"
	"strings"
)

// Orientation is one of the six canonical rest poses used for calibration.
type Orientation int

const (
	PosX Orientation = iota
	NegX
	PosY
	NegY
	PosZ
	NegZ
)

// NumOrientations is the number of rows in a Table.
const NumOrientations = 6

var orientationNames = [NumOrientations]string{"+X", "-X", "+Y", "-Y", "+Z", "-Z"}

func (o Orientation) String() string {
	if o < 0 || o >= NumOrientations {
		return fmt.Sprintf("Orientation(%d)", int(o))
	}
	return orientationNames[o]
}

// Axis returns 0, 1 or 2 for the x, y or z axis.
func (o Orientation) Axis() int { return int(o) / 2 }

// Sign is +1 for the positive poses and -1 for the negative ones.
func (o Orientation) Sign() float64 {
	if o%2 == 0 {
		return 1
	}
	return -1
}

// ParseOrientation accepts "+x", "-Z" and the like, or an index 0..5.
func ParseOrientation(s string) (Orientation, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range orientationNames {
		if s == name {
			return Orientation(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < NumOrientations {
		return Orientation(n), nil
	}
	return 0, fmt.Errorf("invalid orientation %q (want +X,-X,+Y,-Y,+Z,-Z or 0-5)", s)
}

// Table holds the mean raw reading of one accelerometer for each orientation.
type Table struct {
	Rows     [NumOrientations][3]float64 `json:"rows"`
	Captured [NumOrientations]bool       `json:"captured"`
}

// NewTable returns a table filled with the signed unit vector of each pose.
func NewTable() *Table {
	t := &Table{}
	t.Reset()
	return t
}

func (t *Table) Reset() {
	for i := range t.Rows {
		o := Orientation(i)
		t.Rows[i] = [3]float64{}
		t.Rows[i][o.Axis()] = o.Sign()
		t.Captured[i] = false
	}
}

// Set overwrites the row for o with a captured mean.
func (t *Table) Set(o Orientation, mean [3]float64) error {
	if o < 0 || o >= NumOrientations {
		return fmt.Errorf("calibration: orientation %d out of range", int(o))
	}
	t.Rows[o] = mean
	t.Captured[o] = true
	return nil
}

// Missing lists the orientations that still hold their default row.
func (t *Table) Missing() []Orientation {
	var out []Orientation
	for i, ok := range t.Captured {
		if !ok {
			out = append(out, Orientation(i))
		}
	}
	return out
}
