// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package controlpoint

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/goanna247/diagnostic/internal/calibration"
)

// Emulator answers control point requests the way the crank firmware does,
// keeping the settings in memory. The simulated transport uses it.
type Emulator struct {
	mu sync.Mutex

	Serial      string
	Calibrated  time.Time
	Params      [6]float32
	Transforms  [2]calibration.Coefficients
	KF          KFParameters
	Partner     *[6]byte
	CPVSize     uint8
	CPVDownsamp uint8
}

var payloadSize = map[Opcode]int{
	SetFactoryCalibrationDate: 7,
	SetCalibrationParameters:  24,
	SetAccel1Transform:        24,
	SetAccel2Transform:        24,
	SetKFParameters:           20,
	SetPartnerAddress:         6,
	SetCPVParameters:          2,
}

// Handle processes one request and returns the response bytes.
func (e *Emulator) Handle(req []byte) []byte {
	if len(req) == 0 {
		return []byte{byte(ResponseCode), 0, byte(InvalidOperand)}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	op, p := Opcode(req[0]), req[1:]
	resp := func(r Result, data ...byte) []byte {
		return append([]byte{byte(ResponseCode), byte(op), byte(r)}, data...)
	}
	if n, ok := payloadSize[op]; ok && len(p) != n {
		return resp(InvalidOperand)
	}

	switch op {
	case SetSerialNumber:
		if len(p) == 0 {
			return resp(InvalidOperand)
		}
		e.Serial = string(p)
	case SetFactoryCalibrationDate:
		month, day := int(p[2]), int(p[3])
		if month < 1 || month > 12 || day < 1 || day > 31 || p[4] > 23 || p[5] > 59 || p[6] > 59 {
			return resp(InvalidOperand)
		}
		e.Calibrated = time.Date(int(binary.LittleEndian.Uint16(p)), time.Month(month), day,
			int(p[4]), int(p[5]), int(p[6]), 0, time.UTC)
	case SetCalibrationParameters:
		r := Response{Data: p}
		e.Params, _ = r.CalibrationParameters()
	case RequestCalibrationParameters:
		return resp(Success, appendFloats(nil, e.Params[:]...)...)
	case SetAccel1Transform, SetAccel2Transform:
		r := Response{Data: p}
		c, _ := r.Transform()
		e.Transforms[transformIndex(op)] = c
	case RequestAccel1Transform, RequestAccel2Transform:
		var data []byte
		for _, v := range e.Transforms[transformIndex(op)] {
			data = binary.LittleEndian.AppendUint16(data, uint16(v))
		}
		return resp(Success, data...)
	case SetKFParameters:
		r := Response{Data: p}
		e.KF, _ = r.KFParameters()
	case RequestKFParameters:
		return resp(Success, EncodeKFParameters(e.KF)[1:]...)
	case SetPartnerAddress:
		var a [6]byte
		copy(a[:], p)
		e.Partner = &a
	case RequestPartnerAddress:
		if e.Partner == nil {
			return resp(OperationFailed)
		}
		return resp(Success, e.Partner[:]...)
	case DeletePartnerAddress:
		if e.Partner == nil {
			return resp(OperationFailed)
		}
		e.Partner = nil
	case SetCPVParameters:
		if p[0] == 0 || p[1] == 0 {
			return resp(InvalidOperand)
		}
		e.CPVSize, e.CPVDownsamp = p[0], p[1]
	case RequestCPVParameters:
		return resp(Success, e.CPVSize, e.CPVDownsamp)
	default:
		return resp(NotSupported)
	}
	return resp(Success)
}

func transformIndex(op Opcode) int {
	if op == SetAccel2Transform || op == RequestAccel2Transform {
		return 1
	}
	return 0
}
