// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package controlpoint

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/goanna247/diagnostic/internal/calibration"
	"github.com/goanna247/diagnostic/internal/kinematics"
)

func TestEncodeRequests(t *testing.T) {
	date := time.Date(2024, time.March, 7, 13, 45, 9, 0, time.UTC)
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"date", EncodeFactoryCalibrationDate(date), []byte{0x02, 0xE8, 0x07, 3, 7, 13, 45, 9}},
		{"partner", EncodePartnerAddress([6]byte{1, 2, 3, 4, 5, 6}), []byte{0x0B, 1, 2, 3, 4, 5, 6}},
		{"cpv", EncodeCPVParameters(32, 4), []byte{0x0E, 32, 4}},
	}
	for _, tt := range tests {
		if !bytes.Equal(tt.got, tt.want) {
			t.Errorf("%s: got % X, want % X", tt.name, tt.got, tt.want)
		}
	}

	b, err := EncodeTransform(2, calibration.Coefficients{1, -1})
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 25 || b[0] != byte(SetAccel2Transform) || b[1] != 1 || b[3] != 0xFF || b[4] != 0xFF {
		t.Errorf("transform request % X", b)
	}
	if _, err := EncodeTransform(3, calibration.Coefficients{}); err == nil {
		t.Error("accelerometer 3 accepted")
	}

	kf := EncodeKFParameters(KFParameters{Sigma2Alpha: 0.1, Sigma2Accel: 10, Ratio: 1, R1: 0.0284, R2: 0.0614})
	if len(kf) != 21 || kf[0] != byte(SetKFParameters) {
		t.Errorf("kf request % X", kf)
	}

	if _, err := EncodeRequest(SetSerialNumber); err == nil {
		t.Error("payload-less set_serial_number accepted")
	}
	if _, err := EncodeSerialNumber(""); err == nil {
		t.Error("empty serial number accepted")
	}
}

func TestParseResponseErrors(t *testing.T) {
	if _, err := ParseResponse([]byte{0x20, 0x04}); !errors.Is(err, ErrShortResponse) {
		t.Errorf("short response: %v", err)
	}
	if _, err := ParseResponse([]byte{0x21, 0x04, 1}); !errors.Is(err, ErrNotResponse) {
		t.Errorf("wrong leading opcode: %v", err)
	}

	r, err := ParseResponse([]byte{0x20, 0x05, 3})
	var re *ResultError
	if !errors.As(err, &re) {
		t.Fatalf("expected ResultError, got %v", err)
	}
	if re.Request != SetAccel1Transform || re.Result != InvalidOperand || r.Result != InvalidOperand {
		t.Errorf("result error %+v", re)
	}
}

func TestTypedResponses(t *testing.T) {
	want := calibration.Coefficients{20091, 0, 0, 16384, 0, 20091, 0, -8192, 0, 0, 20091, 0}
	req, _ := EncodeTransform(1, want)
	resp := append([]byte{0x20, byte(RequestAccel1Transform), 1}, req[1:]...)
	r, err := ParseResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.Transform()
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("transform %v, want %v", got, want)
	}

	p := KFParametersFrom(kinematics.DefaultConstants())
	req = EncodeKFParameters(p)
	r, err = ParseResponse(append([]byte{0x20, byte(RequestKFParameters), 1}, req[1:]...))
	if err != nil {
		t.Fatal(err)
	}
	kp, err := r.KFParameters()
	if err != nil {
		t.Fatal(err)
	}
	if kp != p {
		t.Errorf("kf parameters %+v, want %+v", kp, p)
	}
	c := kp.Apply(kinematics.DefaultConstants())
	if math.Abs(c.R2-kinematics.DefaultConstants().R2) > 1e-6 {
		t.Errorf("applied r2 %v", c.R2)
	}

	r, _ = ParseResponse([]byte{0x20, byte(RequestPartnerAddress), 1, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF})
	v, err := r.Payload()
	if err != nil || v != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("partner payload %v %v", v, err)
	}

	r, _ = ParseResponse([]byte{0x20, byte(RequestCalibrationParameters), 1, 0, 0})
	if _, err := r.CalibrationParameters(); !errors.Is(err, ErrShortData) {
		t.Errorf("short calibration parameters: %v", err)
	}

	r, _ = ParseResponse([]byte{0x20, byte(SetSerialNumber), 1})
	if v, err := r.Payload(); v != nil || err != nil {
		t.Errorf("set response payload %v %v", v, err)
	}
}

func TestAddress(t *testing.T) {
	a, err := ParseAddress("de:ad:be:ef:00:01")
	if err != nil {
		t.Fatal(err)
	}
	if a != [6]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01} {
		t.Errorf("address %X", a)
	}
	if FormatAddress(a) != "DE:AD:BE:EF:00:01" {
		t.Errorf("format %s", FormatAddress(a))
	}
	for _, bad := range []string{"", "de:ad:be:ef:00", "de:ad:be:ef:00:zz", "de:ad:be:ef:00:100"} {
		if _, err := ParseAddress(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

func TestCommandBuild(t *testing.T) {
	tests := []struct {
		cmd  Command
		want []byte
		fail bool
	}{
		{cmd: Command{Name: "request_kf_parameters"}, want: []byte{0x0A}},
		{cmd: Command{Name: "delete_partner_address"}, want: []byte{0x0D}},
		{cmd: Command{Name: "set_serial_number", Args: []string{"IC-01"}}, want: []byte{0x01, 'I', 'C', '-', '0', '1'}},
		{cmd: Command{Name: "set_cpv_parameters", Args: []string{"16", "2"}}, want: []byte{0x0E, 16, 2}},
		{cmd: Command{Name: "set_partner_address", Args: []string{"01:02:03:04:05:06"}}, want: []byte{0x0B, 1, 2, 3, 4, 5, 6}},
		{cmd: Command{Name: "set_factory_calibration_date", Args: []string{"2024-03-07T13:45:09Z"}}, want: []byte{0x02, 0xE8, 0x07, 3, 7, 13, 45, 9}},
		{cmd: Command{Name: "set_cpv_parameters", Args: []string{"300", "2"}}, fail: true},
		{cmd: Command{Name: "set_accel1_transform", Args: []string{"1"}}, fail: true},
		{cmd: Command{Name: "request_kf_parameters", Args: []string{"x"}}, fail: true},
		{cmd: Command{Name: "response"}, fail: true},
		{cmd: Command{Name: "reboot"}, fail: true},
	}
	for _, tt := range tests {
		got, err := tt.cmd.Build()
		if tt.fail {
			if err == nil {
				t.Errorf("%s %v: expected error", tt.cmd.Name, tt.cmd.Args)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.cmd.Name, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("%s: got % X, want % X", tt.cmd.Name, got, tt.want)
		}
	}

	args := []string{"20091", "0", "0", "16384", "0", "20091", "0", "-8192", "0", "0", "20091", "0"}
	b, err := Command{Name: "set_accel1_transform", Args: args}.Build()
	if err != nil || len(b) != 25 || b[0] != 0x05 {
		t.Errorf("transform command % X %v", b, err)
	}
}
