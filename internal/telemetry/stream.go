// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import "errors"

// Stream reassembles records from a byte stream whose chunk boundaries do not
// line up with record boundaries, such as a serial link.
type Stream struct {
	pending []byte
}

// Feed appends chunk and returns every complete record. A truncated tail is
// held back until the next call. On an unknown opcode the pending bytes are
// dropped so the stream can resync, and the error is returned together with
// the records decoded before it.
func (s *Stream) Feed(chunk []byte) ([]Record, error) {
	s.pending = append(s.pending, chunk...)
	recs, err := Decode(s.pending)

	var de *DecodeError
	switch {
	case err == nil:
		s.pending = s.pending[:0]
	case errors.As(err, &de) && errors.Is(err, ErrTruncatedRecord):
		s.pending = append(s.pending[:0], s.pending[de.Offset:]...)
		err = nil
	default:
		s.pending = s.pending[:0]
	}
	return recs, err
}

// Pending returns the number of buffered bytes waiting for a complete record.
func (s *Stream) Pending() int { return len(s.pending) }

// Reset drops any buffered bytes.
func (s *Stream) Reset() { s.pending = s.pending[:0] }
