// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package controlpoint

import (
	"errors"
	"testing"
	"time"

	"github.com/goanna247/diagnostic/internal/calibration"
)

func exchange(t *testing.T, e *Emulator, req []byte) (Response, error) {
	t.Helper()
	return ParseResponse(e.Handle(req))
}

func TestEmulatorTransform(t *testing.T) {
	e := &Emulator{}
	want := calibration.Coefficients{20091, 0, 0, 16384, 0, 20091, 0, -8192, 0, 0, 20091, 0}
	req, _ := EncodeTransform(2, want)
	if _, err := exchange(t, e, req); err != nil {
		t.Fatal(err)
	}
	get, _ := EncodeRequest(RequestAccel2Transform)
	r, err := exchange(t, e, get)
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.Transform()
	if err != nil || got != want {
		t.Errorf("transform %v %v", got, err)
	}
	if e.Transforms[0] != (calibration.Coefficients{}) {
		t.Errorf("accel1 transform changed: %v", e.Transforms[0])
	}
}

func TestEmulatorResults(t *testing.T) {
	e := &Emulator{}
	tests := []struct {
		name string
		req  []byte
		want Result
	}{
		{"unknown", []byte{0x42}, NotSupported},
		{"short kf", []byte{byte(SetKFParameters), 1, 2}, InvalidOperand},
		{"empty serial", []byte{byte(SetSerialNumber)}, InvalidOperand},
		{"bad month", []byte{byte(SetFactoryCalibrationDate), 0xE8, 0x07, 13, 1, 0, 0, 0}, InvalidOperand},
		{"no partner", []byte{byte(RequestPartnerAddress)}, OperationFailed},
		{"delete no partner", []byte{byte(DeletePartnerAddress)}, OperationFailed},
		{"zero cpv", []byte{byte(SetCPVParameters), 0, 1}, InvalidOperand},
		{"cpv", []byte{byte(SetCPVParameters), 8, 2}, Success},
	}
	for _, tt := range tests {
		r, err := exchange(t, e, tt.req)
		if r.Result != tt.want {
			t.Errorf("%s: result %s, want %s", tt.name, r.Result, tt.want)
		}
		var re *ResultError
		if (tt.want == Success) == errors.As(err, &re) {
			t.Errorf("%s: error %v", tt.name, err)
		}
	}
}

func TestEmulatorSettings(t *testing.T) {
	e := &Emulator{}
	date := time.Date(2025, time.June, 1, 8, 30, 0, 0, time.UTC)
	a := [6]byte{1, 2, 3, 4, 5, 6}
	for _, req := range [][]byte{
		EncodeFactoryCalibrationDate(date),
		EncodePartnerAddress(a),
		EncodeKFParameters(KFParameters{Sigma2Alpha: 0.5, Sigma2Accel: 5, Ratio: 1, R1: 0.03, R2: 0.06}),
	} {
		if _, err := exchange(t, e, req); err != nil {
			t.Fatalf("% X: %v", req, err)
		}
	}
	if !e.Calibrated.Equal(date) {
		t.Errorf("calibration date %v", e.Calibrated)
	}

	get, _ := EncodeRequest(RequestPartnerAddress)
	r, err := exchange(t, e, get)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := r.PartnerAddress(); got != a {
		t.Errorf("partner %v", got)
	}

	get, _ = EncodeRequest(RequestKFParameters)
	r, _ = exchange(t, e, get)
	if kf, _ := r.KFParameters(); kf.Sigma2Accel != 5 || kf.R2 != 0.06 {
		t.Errorf("kf %+v", kf)
	}

	del, _ := EncodeRequest(DeletePartnerAddress)
	if _, err := exchange(t, e, del); err != nil {
		t.Fatal(err)
	}
	if e.Partner != nil {
		t.Error("partner not deleted")
	}
}
