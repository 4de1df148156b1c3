// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry decodes the raw-data notification stream of the crank.
//
// A notification is a concatenation of records. Each record starts with a
// one-byte opcode that fixes the length of the payload that follows. All
// multi-byte fields are little-endian.
package telemetry

import "fmt"

// Opcode identifies the record variant.
type Opcode byte

const (
	OpStrain       Opcode = 0
	OpAcceleration Opcode = 1
	OpTemperature  Opcode = 2
	OpBattery      Opcode = 3
	OpState        Opcode = 4
	OpVector4      Opcode = 5
	OpMatrix33     Opcode = 6
)

// recordSize is the total record length including the opcode byte.
var recordSize = map[Opcode]int{
	OpStrain:       4,
	OpAcceleration: 13,
	OpTemperature:  7,
	OpBattery:      3,
	OpState:        13,
	OpVector4:      17,
	OpMatrix33:     37,
}

// Size returns the encoded size of a record with this opcode, opcode byte
// included, and false for unknown opcodes.
func (o Opcode) Size() (int, bool) {
	n, ok := recordSize[o]
	return n, ok
}

func (o Opcode) String() string {
	switch o {
	case OpStrain:
		return "strain"
	case OpAcceleration:
		return "acceleration"
	case OpTemperature:
		return "temperature"
	case OpBattery:
		return "battery"
	case OpState:
		return "state"
	case OpVector4:
		return "vector4"
	case OpMatrix33:
		return "matrix33"
	}
	return fmt.Sprintf("opcode(0x%02X)", byte(o))
}

// Record is one decoded sample.
type Record interface {
	Opcode() Opcode
}

// Strain is an 18-bit signed strain gauge count.
type Strain struct {
	Value int32 `json:"value"`
}

// Acceleration carries one raw sample from each accelerometer, in counts.
type Acceleration struct {
	A1 [3]int16 `json:"a1"`
	A2 [3]int16 `json:"a2"`
}

// Temperature is split into an integral part and a fractional part in millionths.
type Temperature struct {
	Integral   int16 `json:"integral"`
	Fractional int32 `json:"fractional"`
}

// Battery is the raw ADC reading of the cell voltage.
type Battery struct {
	Raw uint16 `json:"raw"`
}

// State is the on-device kinematic estimate in fixed point.
type State struct {
	Position     int32 `json:"position"`
	Velocity     int32 `json:"velocity"`
	Acceleration int32 `json:"acceleration"`
}

// Vector4 is a generic diagnostic vector.
type Vector4 struct {
	V [4]float32 `json:"v"`
}

// Matrix33 is a generic diagnostic matrix, row major.
type Matrix33 struct {
	M [3][3]float32 `json:"m"`
}

func (Strain) Opcode() Opcode       { return OpStrain }
func (Acceleration) Opcode() Opcode { return OpAcceleration }
func (Temperature) Opcode() Opcode  { return OpTemperature }
func (Battery) Opcode() Opcode      { return OpBattery }
func (State) Opcode() Opcode        { return OpState }
func (Vector4) Opcode() Opcode      { return OpVector4 }
func (Matrix33) Opcode() Opcode     { return OpMatrix33 }
