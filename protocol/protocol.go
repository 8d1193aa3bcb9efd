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

// Package protocol implements the Nordic bootloader's object-transfer
// opcode layer (SPEC_FULL.md §4.3) on top of a transport.Transport. It owns
// opcode encoding, response parsing, opcode-echo validation and result-code
// to errkind.Kind mapping; it knows nothing about object slicing, bursts or
// retry — that is DfuEngine's job.
package protocol

import (
	"encoding/binary"
	"time"

	"github.com/dfuctl/nrf-dfu/errkind"
	"github.com/dfuctl/nrf-dfu/transport"
)

// Opcode identifies a DFU control-point operation.
type Opcode byte

const (
	OpProtocolVersion Opcode = 0x00
	OpObjectCreate    Opcode = 0x01
	OpReceiptNotifSet Opcode = 0x02
	OpCrcGet          Opcode = 0x03
	OpObjectExecute   Opcode = 0x04
	OpObjectSelect    Opcode = 0x06
	OpMtuGet          Opcode = 0x07
	OpObjectWrite     Opcode = 0x08
	OpPing            Opcode = 0x09
)

// ObjectType distinguishes the init-packet object stream from the firmware
// object stream (SPEC_FULL.md §3).
type ObjectType byte

const (
	ObjectCommand ObjectType = 0x01
	ObjectData    ObjectType = 0x02
)

// Result codes returned in the third byte of every response, per
// SPEC_FULL.md §4.3/§7.
const (
	resultInvalidCode           byte = 0x00
	resultSuccess               byte = transport.ResultSuccess
	resultOpCodeNotSupported    byte = 0x02
	resultInvalidParameter      byte = 0x03
	resultInsufficientResources byte = 0x04
	resultInvalidObject         byte = 0x05
	resultUnsupportedType       byte = 0x07
	resultOperationNotPermitted byte = 0x08
	resultOperationFailed       byte = 0x0A
	resultExtendedError         byte = 0x0B
)

// resultMessage describes a non-success result code for error context; the
// Kind itself is always errkind.ServerError (SPEC_FULL.md §7's
// "ServerError(code)" row — all of these codes map to the same Kind, with
// the code itself preserved on the error for callers that care).
func resultMessage(code byte) string {
	switch code {
	case resultInvalidCode:
		return "invalid opcode"
	case resultOpCodeNotSupported:
		return "operation not supported"
	case resultInvalidParameter:
		return "invalid parameter"
	case resultInsufficientResources:
		return "insufficient resources"
	case resultInvalidObject:
		return "invalid object"
	case resultUnsupportedType:
		return "unsupported object type"
	case resultOperationNotPermitted:
		return "operation not permitted"
	case resultOperationFailed:
		return "operation failed"
	case resultExtendedError:
		return "extended error"
	default:
		return "unknown result code"
	}
}

// SelectResult is the response to an ObjectSelect request.
type SelectResult struct {
	MaxSize uint32
	Offset  uint32
	Crc32   uint32
}

// ChecksumResult is the response to a CalcCrc request.
type ChecksumResult struct {
	Offset uint32
	Crc32  uint32
}

// DfuProtocol drives one Transport with the opcode layer. It is not safe
// for concurrent use; DfuEngine issues one request at a time by design
// (SPEC_FULL.md §5).
type DfuProtocol struct {
	transport transport.Transport
	timeout   time.Duration
}

// New wraps t with a per-request response timeout. No default is applied
// here; the driver passes config.Config.Timeout.
func New(t transport.Transport, timeout time.Duration) *DfuProtocol {
	return &DfuProtocol{transport: t, timeout: timeout}
}

// Transport exposes the underlying transport, e.g. so the engine can check
// for transport.MTUReporter or call WriteData directly during a burst.
func (p *DfuProtocol) Transport() transport.Transport {
	return p.transport
}

// send writes opcode+params on the control channel, reads back the
// response, and validates the opcode echo and result code (the transport
// has already checked the 0x60 response code). The returned payload
// excludes the 3-byte header.
func (p *DfuProtocol) send(op Opcode, params []byte) ([]byte, error) {
	p.transport.DrainControl()

	request := append([]byte{byte(op)}, params...)
	if err := p.transport.WriteControl(request); err != nil {
		return nil, err
	}

	resp, err := p.transport.ReadControl(p.timeout)
	if err != nil {
		return nil, err
	}

	if resp.Opcode != byte(op) {
		return nil, errkind.New(errkind.ProtocolDesync, "opcode echo mismatch: sent 0x%02x, got 0x%02x", op, resp.Opcode)
	}
	if resp.Result != resultSuccess {
		return nil, errkind.NewServerError(resp.Result, resultMessage(resp.Result))
	}
	return resp.Payload, nil
}

// Ping sends a ping with the given id and returns the echoed id.
func (p *DfuProtocol) Ping(id byte) (byte, error) {
	payload, err := p.send(OpPing, []byte{id})
	if err != nil {
		return 0, err
	}
	if len(payload) < 1 {
		return 0, errkind.New(errkind.ProtocolDesync, "ping response too short")
	}
	return payload[0], nil
}

// SetPRN configures the Packet Receipt Notification interval; 0 disables
// server-initiated PRNs (SPEC_FULL.md §4.4.1, default behavior).
func (p *DfuProtocol) SetPRN(prn uint16) error {
	params := make([]byte, 2)
	binary.LittleEndian.PutUint16(params, prn)
	_, err := p.send(OpReceiptNotifSet, params)
	return err
}

// MtuGet queries the serial data-channel MTU. BLE transports skip this and
// read transport.MTUReporter.MTU() instead (SPEC_FULL.md §4.4.1).
func (p *DfuProtocol) MtuGet() (uint16, error) {
	payload, err := p.send(OpMtuGet, nil)
	if err != nil {
		return 0, err
	}
	if len(payload) < 2 {
		return 0, errkind.New(errkind.ProtocolDesync, "mtu response too short")
	}
	return binary.LittleEndian.Uint16(payload), nil
}

// Select learns the server's chunk size and resume point for objType.
func (p *DfuProtocol) Select(objType ObjectType) (SelectResult, error) {
	var result SelectResult
	payload, err := p.send(OpObjectSelect, []byte{byte(objType)})
	if err != nil {
		return result, err
	}
	if len(payload) < 12 {
		return result, errkind.New(errkind.ProtocolDesync, "select response too short")
	}
	result.MaxSize = binary.LittleEndian.Uint32(payload[0:4])
	result.Offset = binary.LittleEndian.Uint32(payload[4:8])
	result.Crc32 = binary.LittleEndian.Uint32(payload[8:12])
	return result, nil
}

// Create starts a new object of objType and size bytes, resetting that
// slot's offset and CRC on both sides (SPEC_FULL.md §3 invariants).
func (p *DfuProtocol) Create(objType ObjectType, size uint32) error {
	params := make([]byte, 5)
	params[0] = byte(objType)
	binary.LittleEndian.PutUint32(params[1:], size)
	_, err := p.send(OpObjectCreate, params)
	return err
}

// CalcCrc reads back the server's running offset and CRC32 for the current
// object.
func (p *DfuProtocol) CalcCrc() (ChecksumResult, error) {
	var result ChecksumResult
	payload, err := p.send(OpCrcGet, nil)
	if err != nil {
		return result, err
	}
	if len(payload) < 8 {
		return result, errkind.New(errkind.ProtocolDesync, "crc response too short")
	}
	result.Offset = binary.LittleEndian.Uint32(payload[0:4])
	result.Crc32 = binary.LittleEndian.Uint32(payload[4:8])
	return result, nil
}

// Execute commits the current object. This is the only durable commit in
// the protocol (SPEC_FULL.md §4.4.3).
func (p *DfuProtocol) Execute() error {
	_, err := p.send(OpObjectExecute, nil)
	return err
}
