// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/binary"
	"math"
)

// Encode serializes records back into the notification wire format.
func Encode(records ...Record) []byte {
	var buf []byte
	for _, r := range records {
		buf = AppendRecord(buf, r)
	}
	return buf
}

// AppendRecord appends the encoding of r to buf. Strain values outside the
// 18-bit range are truncated to their low 18 bits.
func AppendRecord(buf []byte, r Record) []byte {
	le := binary.LittleEndian
	buf = append(buf, byte(r.Opcode()))
	switch v := r.(type) {
	case Strain:
		raw := (uint32(v.Value) & 0x3FFFF) << 6
		buf = append(buf, byte(raw), byte(raw>>8), byte(raw>>16))
	case Acceleration:
		for _, c := range v.A1 {
			buf = le.AppendUint16(buf, uint16(c))
		}
		for _, c := range v.A2 {
			buf = le.AppendUint16(buf, uint16(c))
		}
	case Temperature:
		buf = le.AppendUint16(buf, uint16(v.Integral))
		buf = le.AppendUint32(buf, uint32(v.Fractional))
	case Battery:
		buf = le.AppendUint16(buf, v.Raw)
	case State:
		buf = le.AppendUint32(buf, uint32(v.Position))
		buf = le.AppendUint32(buf, uint32(v.Velocity))
		buf = le.AppendUint32(buf, uint32(v.Acceleration))
	case Vector4:
		for _, f := range v.V {
			buf = le.AppendUint32(buf, math.Float32bits(f))
		}
	case Matrix33:
		for _, row := range v.M {
			for _, f := range row {
				buf = le.AppendUint32(buf, math.Float32bits(f))
			}
		}
	}
	return buf
}
