// Copyright (C) 2018 Rob Caelers <rob.caelers@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package framer implements the SLIP-like byte-stuffing framing used on the
// serial DFU transport. Each frame is a byte sequence terminated by a single
// 0xC0 byte; 0xC0 and 0xDB bytes within the payload are escaped.
package framer

import (
	"bufio"
	"io"

	"github.com/dfuctl/nrf-dfu/errkind"
)

const (
	end    byte = 0xC0
	esc    byte = 0xDB
	escEnd byte = 0xDC
	escEsc byte = 0xDD
)

// FramingOverhead is a fixed per-frame margin (the trailing terminator plus
// headroom). It does not cover escaping: in the worst case every payload
// byte is 0xC0 or 0xDB and doubles, so a caller subtracts this margin from
// an MTU and halves the remainder.
const FramingOverhead = 3

// Encode escapes payload and appends the frame terminator.
func Encode(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+2)
	for _, b := range payload {
		switch b {
		case end:
			out = append(out, esc, escEnd)
		case esc:
			out = append(out, esc, escEsc)
		default:
			out = append(out, b)
		}
	}
	out = append(out, end)
	return out
}

// Decoder reads SLIP-like frames off a byte stream. A malformed escape
// sequence fails only the frame in progress; the decoder discards bytes up
// to the next terminator and resynchronizes there, so a subsequent
// ReadFrame succeeds once the stream produces a clean frame.
type Decoder struct {
	r   *bufio.Reader
	buf []byte
}

// NewDecoder wraps r for frame-at-a-time decoding.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// ReadFrame blocks until one complete, unescaped frame has been read, a
// framing error is detected (errkind.FramingError, after resyncing to the
// next terminator), or the underlying reader fails (errkind.IoError).
func (d *Decoder) ReadFrame() ([]byte, error) {
	d.buf = d.buf[:0]
	escaped := false
	malformed := false

	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, errkind.New(errkind.IoError, "serial framer: read failed: %v", err)
		}

		if escaped {
			escaped = false
			switch b {
			case escEnd:
				d.buf = append(d.buf, end)
			case escEsc:
				d.buf = append(d.buf, esc)
			case end:
				return nil, errkind.New(errkind.FramingError, "serial framer: escape at end of frame, resynced at terminator")
			default:
				malformed = true
			}
			continue
		}

		switch b {
		case end:
			if malformed {
				return nil, errkind.New(errkind.FramingError, "serial framer: invalid escape sequence, resynced at terminator")
			}
			frame := make([]byte, len(d.buf))
			copy(frame, d.buf)
			return frame, nil
		case esc:
			escaped = true
		default:
			d.buf = append(d.buf, b)
		}
	}
}
