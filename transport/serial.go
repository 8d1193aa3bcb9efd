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

package transport

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"go.bug.st/serial"

	"github.com/dfuctl/nrf-dfu/errkind"
	"github.com/dfuctl/nrf-dfu/framer"
)

// DefaultBaudRate is the bootloader's default UART speed, per SPEC_FULL.md
// §6.3.
const DefaultBaudRate = 115200

// maxConsecutiveFramingErrors bounds how many resynced framing errors in a
// row readLoop tolerates before surfacing one as fatal, per SPEC_FULL.md §7
// ("Resync at next terminator; counted, fatal after threshold").
const maxConsecutiveFramingErrors = 5

type frameResult struct {
	resp *Response
	err  error
}

// SerialTransport speaks the SLIP-like framed protocol over a tty, per
// SPEC_FULL.md §4.1/§4.2/§6.3. It owns a background goroutine that decodes
// frames off the port and feeds them into a single-slot rendezvous.
type SerialTransport struct {
	port serial.Port

	writeMu sync.Mutex
	slot    chan frameResult
	closed  chan struct{}
	once    sync.Once
}

// OpenSerial opens port at DefaultBaudRate, 8 data bits, no parity, one stop
// bit, and starts the background frame-decoding loop.
func OpenSerial(port string) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, errkind.New(errkind.IoError, "open serial port %s: %v", port, err)
	}

	t := &SerialTransport{
		port:   p,
		slot:   make(chan frameResult, 1),
		closed: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *SerialTransport) readLoop() {
	dec := framer.NewDecoder(t.port)
	var consecutiveFramingErrors int
	for {
		raw, err := dec.ReadFrame()
		var result frameResult
		if err != nil {
			if errkind.Is(err, errkind.IoError) {
				// Port closed or broken; stop decoding.
				return
			}
			if errkind.Is(err, errkind.FramingError) {
				consecutiveFramingErrors++
				jww.WARN.Printf("serial framing error, resyncing (%d/%d): %v", consecutiveFramingErrors, maxConsecutiveFramingErrors, err)
				if consecutiveFramingErrors < maxConsecutiveFramingErrors {
					continue
				}
				jww.ERROR.Printf("serial port exceeded %d consecutive framing errors", maxConsecutiveFramingErrors)
			}
			result = frameResult{err: err}
		} else {
			consecutiveFramingErrors = 0
			resp, perr := ParseResponse(raw)
			result = frameResult{resp: resp, err: perr}
		}

		select {
		case <-t.slot:
		default:
		}
		select {
		case t.slot <- result:
		case <-t.closed:
			return
		}
	}
}

func (t *SerialTransport) WriteControl(data []byte) error {
	return t.write(data)
}

func (t *SerialTransport) WriteData(data []byte) error {
	return t.write(data)
}

func (t *SerialTransport) write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	framed := framer.Encode(data)
	if _, err := t.port.Write(framed); err != nil {
		return errkind.New(errkind.IoError, "serial write failed: %v", err)
	}
	return nil
}

func (t *SerialTransport) DrainControl() {
	select {
	case <-t.slot:
	default:
	}
}

func (t *SerialTransport) ReadControl(timeout time.Duration) (*Response, error) {
	select {
	case r := <-t.slot:
		if r.err != nil {
			return nil, r.err
		}
		return r.resp, nil
	case <-time.After(timeout):
		return nil, errkind.New(errkind.Timeout, "no response within %s", timeout)
	case <-t.closed:
		return nil, errkind.New(errkind.Cancelled, "transport closed")
	}
}

func (t *SerialTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		if cerr := t.port.Close(); cerr != nil {
			err = errors.Wrap(cerr, "closing serial port")
			jww.ERROR.Printf("%v", err)
		}
	})
	return err
}
