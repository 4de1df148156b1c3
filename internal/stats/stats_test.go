// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stats

import (
	"math"
	"testing"
)

func relClose(a, b float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}

func TestMeanStdDev(t *testing.T) {
	tests := []struct {
		in         []float64
		mean, sdev float64
	}{
		{[]float64{2, 4, 4, 4, 5, 5, 7, 9}, 5, 2},
		{[]float64{1}, 1, 0},
		{[]float64{-3, 3}, 0, 3},
		{[]float64{1001, 1002, 1003}, 1002, math.Sqrt(2.0 / 3.0)},
	}
	for _, tt := range tests {
		var c ChannelStats
		for _, v := range tt.in {
			c.Observe(v)
		}
		if !relClose(c.Mean(), tt.mean) {
			t.Errorf("%v: mean = %v, want %v", tt.in, c.Mean(), tt.mean)
		}
		if math.Abs(c.StdDev()-tt.sdev) > 1e-4 {
			t.Errorf("%v: stddev = %v, want %v", tt.in, c.StdDev(), tt.sdev)
		}
	}
}

func TestStdDevNeverNaN(t *testing.T) {
	var c ChannelStats
	if math.IsNaN(c.StdDev()) || c.Mean() != 0 {
		t.Errorf("empty channel: mean %v stddev %v", c.Mean(), c.StdDev())
	}
	// rounding makes sumSquares/count slightly smaller than mean^2
	for i := 0; i < 1000; i++ {
		c.Observe(0.1)
	}
	if sd := c.StdDev(); math.IsNaN(sd) || sd < 0 || sd > 1e-6 {
		t.Errorf("constant channel stddev = %v", sd)
	}
}

func TestTriadResetSeeds(t *testing.T) {
	var tr Triad
	tr.Observe([3]float64{1, 2, 3})
	tr.Reset()
	for i := range tr {
		if tr[i].Count != ResetEpsilon || tr[i].Sum != 0 || tr[i].SumSquares != 0 {
			t.Errorf("axis %d not seeded: %+v", i, tr[i])
		}
	}
	m := tr.Means()
	for i := range m {
		if m[i] != 0 || math.IsNaN(m[i]) {
			t.Errorf("axis %d mean after reset = %v", i, m[i])
		}
	}
}

func TestSetGroupsResetIndependently(t *testing.T) {
	s := NewSet()
	s.Strain.Observe(10)
	s.Accel1.Observe([3]float64{1, 1, 1})
	s.Accel2.Observe([3]float64{2, 2, 2})

	s.Reset(GroupAccel1)
	if s.Strain.Count != 1 {
		t.Errorf("strain touched by accel1 reset")
	}
	if math.Abs(s.Accel2[0].Count-(1+ResetEpsilon)) > 1e-12 {
		t.Errorf("accel2 touched by accel1 reset: %v", s.Accel2[0].Count)
	}
	if s.Accel1[0].Count != ResetEpsilon {
		t.Errorf("accel1 not reset")
	}

	s.Reset(GroupStrain)
	if s.Strain.Count != 0 {
		t.Errorf("strain count after reset = %v", s.Strain.Count)
	}
}

func TestParseGroup(t *testing.T) {
	if _, err := ParseGroup("accel2"); err != nil {
		t.Error(err)
	}
	if _, err := ParseGroup("gyro"); err == nil {
		t.Error("expected error for unknown group")
	}
}
