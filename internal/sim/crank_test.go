// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sim

import (
	"math"
	"testing"

	"github.com/goanna247/diagnostic/internal/calibration"
	"github.com/goanna247/diagnostic/internal/kinematics"
	"github.com/goanna247/diagnostic/internal/telemetry"
)

func TestSpinUpProfile(t *testing.T) {
	c := kinematics.DefaultConstants()
	s := New(c, 60, 1, 0, 1)
	for i := 0; i < 256; i++ {
		s.Next()
	}
	tr := s.Truth()
	if math.Abs(tr.Omega-2*math.Pi) > 1e-9 {
		t.Errorf("omega after spin-up = %v, want 2pi", tr.Omega)
	}
	if tr.Alpha != 0 {
		t.Errorf("alpha after spin-up = %v", tr.Alpha)
	}
	// 0.5 rev during the ramp and 1 rev at cadence
	if math.Abs(tr.Theta-3*math.Pi) > 1e-9 {
		t.Errorf("theta = %v, want 3pi", tr.Theta)
	}
}

func TestObservationMatchesModel(t *testing.T) {
	c := kinematics.DefaultConstants()
	s := New(c, 90, 0, 0, 1)
	for i := 0; i < 10; i++ {
		z := s.Next()
		tr := s.Truth()
		if z.Z != c.Measurement(tr.Theta, tr.Omega, tr.Alpha) {
			t.Fatalf("sample %d: observation differs from model", i)
		}
		if math.Abs(z.T-float64(i+1)*c.DT) > 1e-12 {
			t.Fatalf("sample %d: t = %v", i, z.T)
		}
	}
}

func TestRecordsInvertCalibration(t *testing.T) {
	c := kinematics.DefaultConstants()
	t1 := calibration.Transform{
		A: [3][3]float64{{2.4e-3, 1e-5, 0}, {0, 2.38e-3, 0}, {0, 0, 2.4e-3}},
		B: [3]float64{0.1, -0.05, 0},
	}
	t2 := calibration.DefaultTransform(c.Gravity)

	s := New(c, 80, 0, 0, 1)
	if err := s.SetTransforms(t1, t2); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		rec := s.NextRecord()
		tr := s.Truth()
		want := c.Measurement(tr.Theta, tr.Omega, tr.Alpha)
		r1, r2 := rec.Raw()
		p1, p2 := t1.Apply(r1), t2.Apply(r2)
		// one count is about 2.4e-3 m/s^2
		got := [4]float64{p1[0], p1[1], p2[0], p2[1]}
		for j := range got {
			if math.Abs(got[j]-want[j]) > 0.01 {
				t.Fatalf("sample %d axis %d: %v, want %v", i, j, got[j], want[j])
			}
		}
	}
}

func TestNotificationDecodes(t *testing.T) {
	c := kinematics.DefaultConstants()
	s := New(c, 90, 0, 0.2, 7)
	buf := s.Notification(128)
	recs, err := telemetry.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	counts := map[telemetry.Opcode]int{}
	for _, r := range recs {
		counts[r.Opcode()]++
	}
	if counts[telemetry.OpAcceleration] != 128 || counts[telemetry.OpStrain] != 128 {
		t.Errorf("record counts = %v", counts)
	}
	if counts[telemetry.OpTemperature] != 1 || counts[telemetry.OpBattery] != 1 {
		t.Errorf("expected one temperature and battery per second, got %v", counts)
	}
}
