// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"fmt"
	"io"
	"log"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/goanna247/diagnostic/internal/telemetry"
)

// Serial reads the record stream forwarded by a USB or UART bridge. The byte
// stream has no notification boundaries, so records are reassembled with a
// telemetry.Stream and each Next returns whole records only.
type Serial struct {
	port   io.ReadCloser
	stream telemetry.Stream
	buf    []byte
}

func OpenSerial(name string, baud uint) (*Serial, error) {
	opts := serial.OpenOptions{
		PortName:              name,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", name, err)
	}
	log.Printf("serial: opened %s at %d baud", name, baud)
	return newSerial(port), nil
}

func newSerial(port io.ReadCloser) *Serial {
	return &Serial{port: port, buf: make([]byte, 512)}
}

// Next blocks until at least one complete record has arrived. After an
// unknown opcode the buffered bytes are dropped and the error is returned
// with whatever was decoded before it.
func (s *Serial) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.port.Read(s.buf)
		if n > 0 {
			recs, derr := s.stream.Feed(s.buf[:n])
			if derr != nil {
				return telemetry.Encode(recs...), derr
			}
			if len(recs) > 0 {
				return telemetry.Encode(recs...), nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *Serial) Close() error { return s.port.Close() }
