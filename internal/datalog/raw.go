// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package datalog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
)

// MaxFrame is the largest notification a raw log can hold.
const MaxFrame = 0xFFFF

var ErrTruncatedFrame = errors.New("raw log: truncated frame")

// RawWriter appends notifications to a raw log. Each frame is a little-endian
// uint16 length followed by the notification bytes exactly as received.
type RawWriter struct {
	f      *os.File
	w      *bufio.Writer
	frames int
	bytes  uint64
}

// CreateRaw opens path for appending, creating it if needed.
func CreateRaw(path string) (*RawWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("raw log: %w", err)
	}
	return &RawWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func (w *RawWriter) WriteFrame(b []byte) error {
	if len(b) > MaxFrame {
		return fmt.Errorf("raw log: frame of %d bytes exceeds %d", len(b), MaxFrame)
	}
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(b)))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	w.frames++
	w.bytes += uint64(len(b)) + 2
	return nil
}

func (w *RawWriter) Flush() error { return w.w.Flush() }

// Summary describes what has been written so far, e.g. "1200 frames, 48 kB".
func (w *RawWriter) Summary() string {
	return fmt.Sprintf("%d frames, %s", w.frames, humanize.Bytes(w.bytes))
}

func (w *RawWriter) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// RawReader reads frames written by RawWriter.
type RawReader struct {
	r      *bufio.Reader
	c      io.Closer
	frames int
	bytes  uint64
}

func NewRawReader(r io.Reader) *RawReader {
	return &RawReader{r: bufio.NewReader(r)}
}

func OpenRaw(path string) (*RawReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("raw log: %w", err)
	}
	rr := NewRawReader(f)
	rr.c = f
	return rr, nil
}

// Next returns the next frame. It returns io.EOF at a clean end of log and
// ErrTruncatedFrame when the log stops inside a frame.
func (r *RawReader) Next() ([]byte, error) {
	var hdr [2]byte
	n, err := io.ReadFull(r.r, hdr[:])
	switch {
	case n == 0 && err == io.EOF:
		return nil, io.EOF
	case err != nil:
		return nil, ErrTruncatedFrame
	}
	b := make([]byte, binary.LittleEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, ErrTruncatedFrame
	}
	r.frames++
	r.bytes += uint64(len(b)) + 2
	return b, nil
}

func (r *RawReader) Summary() string {
	return fmt.Sprintf("%d frames, %s", r.frames, humanize.Bytes(r.bytes))
}

func (r *RawReader) Close() error {
	if r.c == nil {
		return nil
	}
	return r.c.Close()
}
