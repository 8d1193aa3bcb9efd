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

// Package transport defines the capability both the serial and BLE DFU
// transports implement, and the wire response format they share.
package transport

import (
	"time"

	"github.com/dfuctl/nrf-dfu/errkind"
)

// ResponseCode is the single byte every DFU response frame/notification is
// prefixed with.
const ResponseCode byte = 0x60

// ResultSuccess is the only Result value that does not indicate a protocol
// error.
const ResultSuccess byte = 0x01

// Response is a decoded control-channel reply: the opcode it answers, the
// bootloader's result code, and any trailing payload.
type Response struct {
	Opcode  byte
	Result  byte
	Payload []byte
}

// Transport is the capability DfuProtocol drives. Two implementations exist:
// SerialTransport (framed, SLIP-like escaping) and ble.Transport (GATT
// control/data characteristics). Neither retries nor interprets result
// codes; that is DfuProtocol's job.
type Transport interface {
	// WriteControl sends one control-channel request.
	WriteControl(data []byte) error
	// ReadControl blocks for one complete response or notification, or
	// until timeout elapses.
	ReadControl(timeout time.Duration) (*Response, error)
	// WriteData sends one data-channel chunk. No response is expected.
	WriteData(data []byte) error
	// DrainControl discards any response sitting in the single-slot
	// rendezvous without blocking. DfuProtocol calls this immediately
	// before issuing a new control request, per SPEC_FULL.md §5 ("the
	// engine clears the slot before issuing a request").
	DrainControl()
	// Close releases the transport. Any in-flight ReadControl wait aborts
	// with errkind.Cancelled.
	Close() error
}

// MTUReporter is implemented by transports that already know their
// data-channel MTU without a protocol round trip (BLE: the negotiated ATT
// MTU). Transports without this capability (serial) are probed via the
// DfuProtocol MtuGet opcode instead.
type MTUReporter interface {
	MTU() uint16
}

// ParseResponse decodes the "0x60 <opcode> <result> <payload...>" framing
// shared by both transports' control responses.
func ParseResponse(raw []byte) (*Response, error) {
	if len(raw) < 3 {
		return nil, errkind.New(errkind.ProtocolDesync, "response too short: %d bytes", len(raw))
	}
	if raw[0] != ResponseCode {
		return nil, errkind.New(errkind.ProtocolDesync, "unexpected response code 0x%02x", raw[0])
	}
	return &Response{
		Opcode:  raw[1],
		Result:  raw[2],
		Payload: raw[3:],
	}, nil
}
