// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package controlpoint

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goanna247/diagnostic/internal/calibration"
)

// Command is the textual form of a request used by the CLI, the websocket
// handler and the MQTT control topic.
type Command struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// ParseOpcode maps a command name such as "request_kf_parameters" to its opcode.
func ParseOpcode(name string) (Opcode, error) {
	for op, n := range opcodeNames {
		if n == name && op != ResponseCode {
			return op, nil
		}
	}
	return 0, fmt.Errorf("control point: unknown command %q", name)
}

// Build turns a command into request bytes.
func (c Command) Build() ([]byte, error) {
	op, err := ParseOpcode(c.Name)
	if err != nil {
		return nil, err
	}
	args := c.Args
	want := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("control point: %s takes %d arguments, got %d", op, n, len(args))
		}
		return nil
	}

	switch op {
	case SetSerialNumber:
		if err := want(1); err != nil {
			return nil, err
		}
		return EncodeSerialNumber(args[0])

	case SetFactoryCalibrationDate:
		t := time.Now().UTC()
		if len(args) > 0 {
			if err := want(1); err != nil {
				return nil, err
			}
			if t, err = time.Parse(time.RFC3339, args[0]); err != nil {
				return nil, fmt.Errorf("control point: date: %w", err)
			}
		}
		return EncodeFactoryCalibrationDate(t), nil

	case SetCalibrationParameters:
		if err := want(6); err != nil {
			return nil, err
		}
		f, err := parseFloats(args)
		if err != nil {
			return nil, err
		}
		var k [6]float32
		copy(k[:], f)
		return EncodeCalibrationParameters(k), nil

	case SetAccel1Transform, SetAccel2Transform:
		if err := want(12); err != nil {
			return nil, err
		}
		var co calibration.Coefficients
		for i, a := range args {
			v, err := strconv.ParseInt(a, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("control point: coefficient %d: %w", i, err)
			}
			co[i] = int16(v)
		}
		sensor := 1
		if op == SetAccel2Transform {
			sensor = 2
		}
		return EncodeTransform(sensor, co)

	case SetKFParameters:
		if err := want(5); err != nil {
			return nil, err
		}
		f, err := parseFloats(args)
		if err != nil {
			return nil, err
		}
		return EncodeKFParameters(KFParameters{Sigma2Alpha: f[0], Sigma2Accel: f[1], Ratio: f[2], R1: f[3], R2: f[4]}), nil

	case SetPartnerAddress:
		if err := want(1); err != nil {
			return nil, err
		}
		a, err := ParseAddress(args[0])
		if err != nil {
			return nil, err
		}
		return EncodePartnerAddress(a), nil

	case SetCPVParameters:
		if err := want(2); err != nil {
			return nil, err
		}
		var v [2]uint8
		for i, a := range args {
			n, err := strconv.ParseUint(a, 10, 8)
			if err != nil {
				return nil, fmt.Errorf("control point: cpv argument %d: %w", i, err)
			}
			v[i] = uint8(n)
		}
		return EncodeCPVParameters(v[0], v[1]), nil
	}

	if err := want(0); err != nil {
		return nil, err
	}
	return EncodeRequest(op)
}

func parseFloats(args []string) ([]float32, error) {
	out := make([]float32, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 32)
		if err != nil {
			return nil, fmt.Errorf("control point: argument %d: %w", i, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
