// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package controlpoint encodes requests for the crank's custom control point
// characteristic and parses the indications it answers with.
//
// Request:  opcode, payload...
// Response: 0x20, request opcode, result code, data...
package controlpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goanna247/diagnostic/internal/calibration"
	"github.com/goanna247/diagnostic/internal/kinematics"
)

type Opcode byte

const (
	SetSerialNumber              Opcode = 0x01
	SetFactoryCalibrationDate    Opcode = 0x02
	SetCalibrationParameters     Opcode = 0x03
	RequestCalibrationParameters Opcode = 0x04
	SetAccel1Transform           Opcode = 0x05
	RequestAccel1Transform       Opcode = 0x06
	SetAccel2Transform           Opcode = 0x07
	RequestAccel2Transform       Opcode = 0x08
	SetKFParameters              Opcode = 0x09
	RequestKFParameters          Opcode = 0x0A
	SetPartnerAddress            Opcode = 0x0B
	RequestPartnerAddress        Opcode = 0x0C
	DeletePartnerAddress         Opcode = 0x0D
	SetCPVParameters             Opcode = 0x0E
	RequestCPVParameters         Opcode = 0x0F

	ResponseCode Opcode = 0x20
)

var opcodeNames = map[Opcode]string{
	SetSerialNumber:              "set_serial_number",
	SetFactoryCalibrationDate:    "set_factory_calibration_date",
	SetCalibrationParameters:     "set_calibration_parameters",
	RequestCalibrationParameters: "request_calibration_parameters",
	SetAccel1Transform:           "set_accel1_transform",
	RequestAccel1Transform:       "request_accel1_transform",
	SetAccel2Transform:           "set_accel2_transform",
	RequestAccel2Transform:       "request_accel2_transform",
	SetKFParameters:              "set_kf_parameters",
	RequestKFParameters:          "request_kf_parameters",
	SetPartnerAddress:            "set_partner_address",
	RequestPartnerAddress:        "request_partner_address",
	DeletePartnerAddress:         "delete_partner_address",
	SetCPVParameters:             "set_cpv_parameters",
	RequestCPVParameters:         "request_cpv_parameters",
	ResponseCode:                 "response",
}

func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("opcode(0x%02X)", byte(o))
}

// Result is the outcome code carried in a response.
type Result byte

const (
	Success         Result = 1
	NotSupported    Result = 2
	InvalidOperand  Result = 3
	OperationFailed Result = 4
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case NotSupported:
		return "not supported"
	case InvalidOperand:
		return "invalid operand"
	case OperationFailed:
		return "operation failed"
	}
	return fmt.Sprintf("result(%d)", byte(r))
}

var (
	ErrShortResponse = errors.New("control point response too short")
	ErrNotResponse   = errors.New("not a control point response")
	ErrShortData     = errors.New("control point response data too short")
)

// ResultError is returned when the device rejects a request.
type ResultError struct {
	Request Opcode
	Result  Result
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("control point: %s failed: %s", e.Request, e.Result)
}

// --- requests ---

// EncodeRequest builds a request that carries no payload.
func EncodeRequest(op Opcode) ([]byte, error) {
	switch op {
	case RequestCalibrationParameters, RequestAccel1Transform, RequestAccel2Transform,
		RequestKFParameters, RequestPartnerAddress, DeletePartnerAddress, RequestCPVParameters:
		return []byte{byte(op)}, nil
	}
	return nil, fmt.Errorf("control point: %s needs a payload", op)
}

func EncodeSerialNumber(serial string) ([]byte, error) {
	if serial == "" {
		return nil, errors.New("control point: empty serial number")
	}
	return append([]byte{byte(SetSerialNumber)}, serial...), nil
}

func EncodeFactoryCalibrationDate(t time.Time) []byte {
	b := []byte{byte(SetFactoryCalibrationDate)}
	b = binary.LittleEndian.AppendUint16(b, uint16(t.Year()))
	return append(b, byte(t.Month()), byte(t.Day()), byte(t.Hour()), byte(t.Minute()), byte(t.Second()))
}

func EncodeCalibrationParameters(k [6]float32) []byte {
	return appendFloats([]byte{byte(SetCalibrationParameters)}, k[:]...)
}

// EncodeTransform builds the set-transform request for accelerometer 1 or 2.
func EncodeTransform(sensor int, c calibration.Coefficients) ([]byte, error) {
	var op Opcode
	switch sensor {
	case 1:
		op = SetAccel1Transform
	case 2:
		op = SetAccel2Transform
	default:
		return nil, fmt.Errorf("control point: invalid accelerometer %d", sensor)
	}
	b := []byte{byte(op)}
	for _, v := range c {
		b = binary.LittleEndian.AppendUint16(b, uint16(v))
	}
	return b, nil
}

// KFParameters is the on-device filter configuration.
type KFParameters struct {
	Sigma2Alpha float32 `json:"sigma2_alpha"`
	Sigma2Accel float32 `json:"sigma2_accel"`
	Ratio       float32 `json:"ratio"`
	R1          float32 `json:"r1"`
	R2          float32 `json:"r2"`
}

func KFParametersFrom(c kinematics.Constants) KFParameters {
	return KFParameters{
		Sigma2Alpha: float32(c.Sigma2Alpha),
		Sigma2Accel: float32(c.Sigma2Accel),
		Ratio:       float32(c.Ratio),
		R1:          float32(c.R1),
		R2:          float32(c.R2),
	}
}

// Apply copies the parameters onto c.
func (p KFParameters) Apply(c kinematics.Constants) kinematics.Constants {
	c.Sigma2Alpha = float64(p.Sigma2Alpha)
	c.Sigma2Accel = float64(p.Sigma2Accel)
	c.Ratio = float64(p.Ratio)
	c.R1 = float64(p.R1)
	c.R2 = float64(p.R2)
	return c
}

func EncodeKFParameters(p KFParameters) []byte {
	return appendFloats([]byte{byte(SetKFParameters)}, p.Sigma2Alpha, p.Sigma2Accel, p.Ratio, p.R1, p.R2)
}

// ParseAddress parses "AA:BB:CC:DD:EE:FF" in the order it is written.
func ParseAddress(s string) ([6]byte, error) {
	var a [6]byte
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return a, fmt.Errorf("control point: invalid address %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return a, fmt.Errorf("control point: invalid address %q: %w", s, err)
		}
		a[i] = byte(v)
	}
	return a, nil
}

func FormatAddress(a [6]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

func EncodePartnerAddress(a [6]byte) []byte {
	return append([]byte{byte(SetPartnerAddress)}, a[:]...)
}

// EncodeCPVParameters sets the cycling power vector size and downsampling.
func EncodeCPVParameters(size, downsample uint8) []byte {
	return []byte{byte(SetCPVParameters), size, downsample}
}

func appendFloats(b []byte, fs ...float32) []byte {
	for _, f := range fs {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

// --- responses ---

// Response is a parsed control point indication.
type Response struct {
	Request Opcode `json:"request"`
	Result  Result `json:"result"`
	Data    []byte `json:"data,omitempty"`
}

// ParseResponse validates an indication. A well-formed response whose result
// is not Success is returned together with a *ResultError.
func ParseResponse(b []byte) (Response, error) {
	if len(b) < 3 {
		return Response{}, fmt.Errorf("%d bytes: %w", len(b), ErrShortResponse)
	}
	if Opcode(b[0]) != ResponseCode {
		return Response{}, fmt.Errorf("leading opcode 0x%02X: %w", b[0], ErrNotResponse)
	}
	r := Response{
		Request: Opcode(b[1]),
		Result:  Result(b[2]),
		Data:    append([]byte(nil), b[3:]...),
	}
	if r.Result != Success {
		return r, &ResultError{Request: r.Request, Result: r.Result}
	}
	return r, nil
}

func (r Response) need(n int) error {
	if len(r.Data) < n {
		return fmt.Errorf("%s: have %d bytes, need %d: %w", r.Request, len(r.Data), n, ErrShortData)
	}
	return nil
}

func (r Response) floats(n int) ([]float32, error) {
	if err := r.need(4 * n); err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(r.Data[4*i:]))
	}
	return out, nil
}

func (r Response) CalibrationParameters() ([6]float32, error) {
	var k [6]float32
	f, err := r.floats(6)
	if err != nil {
		return k, err
	}
	copy(k[:], f)
	return k, nil
}

func (r Response) Transform() (calibration.Coefficients, error) {
	var c calibration.Coefficients
	if err := r.need(24); err != nil {
		return c, err
	}
	for i := range c {
		c[i] = int16(binary.LittleEndian.Uint16(r.Data[2*i:]))
	}
	return c, nil
}

func (r Response) KFParameters() (KFParameters, error) {
	f, err := r.floats(5)
	if err != nil {
		return KFParameters{}, err
	}
	return KFParameters{Sigma2Alpha: f[0], Sigma2Accel: f[1], Ratio: f[2], R1: f[3], R2: f[4]}, nil
}

func (r Response) PartnerAddress() ([6]byte, error) {
	var a [6]byte
	if err := r.need(6); err != nil {
		return a, err
	}
	copy(a[:], r.Data)
	return a, nil
}

func (r Response) CPVParameters() (size, downsample uint8, err error) {
	if err := r.need(2); err != nil {
		return 0, 0, err
	}
	return r.Data[0], r.Data[1], nil
}

// Payload decodes the data of a response to one of the request opcodes into
// a JSON-friendly value. Responses without data yield nil.
func (r Response) Payload() (interface{}, error) {
	switch r.Request {
	case RequestCalibrationParameters:
		return r.CalibrationParameters()
	case RequestAccel1Transform, RequestAccel2Transform:
		c, err := r.Transform()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"coefficients": c, "transform": calibration.FromWire(c)}, nil
	case RequestKFParameters:
		return r.KFParameters()
	case RequestPartnerAddress:
		a, err := r.PartnerAddress()
		if err != nil {
			return nil, err
		}
		return FormatAddress(a), nil
	case RequestCPVParameters:
		size, ds, err := r.CPVParameters()
		if err != nil {
			return nil, err
		}
		return map[string]uint8{"size": size, "downsample": ds}, nil
	}
	return nil, nil
}
