// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrTruncatedRecord = errors.New("truncated record")
)

// DecodeError reports where in a buffer decoding stopped.
type DecodeError struct {
	Offset int
	Opcode Opcode
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("telemetry: offset %d (%s): %v", e.Offset, e.Opcode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode splits buf into records. On error the records decoded before the
// failing offset are still returned and the rest of the buffer is dropped.
func Decode(buf []byte) ([]Record, error) {
	var out []Record
	off := 0
	for off < len(buf) {
		op := Opcode(buf[off])
		size, ok := op.Size()
		if !ok {
			return out, &DecodeError{Offset: off, Opcode: op, Err: ErrUnknownOpcode}
		}
		if len(buf)-off < size {
			return out, &DecodeError{Offset: off, Opcode: op, Err: ErrTruncatedRecord}
		}
		out = append(out, decodePayload(op, buf[off+1:off+size]))
		off += size
	}
	return out, nil
}

// decodePayload expects p to hold exactly the payload for op.
func decodePayload(op Opcode, p []byte) Record {
	le := binary.LittleEndian
	switch op {
	case OpStrain:
		// bits 0..5 are unused, the value sits in bits 6..23
		raw := uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16
		return Strain{Value: int32(raw<<8) >> 14}
	case OpAcceleration:
		var a Acceleration
		for i := 0; i < 3; i++ {
			a.A1[i] = int16(le.Uint16(p[2*i:]))
			a.A2[i] = int16(le.Uint16(p[6+2*i:]))
		}
		return a
	case OpTemperature:
		return Temperature{
			Integral:   int16(le.Uint16(p[0:])),
			Fractional: int32(le.Uint32(p[2:])),
		}
	case OpBattery:
		return Battery{Raw: le.Uint16(p)}
	case OpState:
		return State{
			Position:     int32(le.Uint32(p[0:])),
			Velocity:     int32(le.Uint32(p[4:])),
			Acceleration: int32(le.Uint32(p[8:])),
		}
	case OpVector4:
		var v Vector4
		for i := range v.V {
			v.V[i] = math.Float32frombits(le.Uint32(p[4*i:]))
		}
		return v
	case OpMatrix33:
		var m Matrix33
		for i := 0; i < 9; i++ {
			m.M[i/3][i%3] = math.Float32frombits(le.Uint32(p[4*i:]))
		}
		return m
	}
	panic("telemetry: no payload decoder for " + op.String())
}
