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

// Package engine drives a full DFU upgrade: MTU negotiation, the init and
// firmware object streams, per-object CRC verification with retry, and
// final activation. It is transport-agnostic; all I/O goes through a
// protocol.DfuProtocol.
package engine

import (
	"hash/crc32"
	"io"
	"time"

	jww "github.com/spf13/jwalterweatherman"

	"github.com/dfuctl/nrf-dfu/errkind"
	"github.com/dfuctl/nrf-dfu/protocol"
	"github.com/dfuctl/nrf-dfu/transport"
)

// framingOverhead is the fixed per-chunk margin (terminator plus headers);
// the engine subtracts it from the negotiated MTU and halves the rest to
// arrive at a safe data-channel chunk size.
const framingOverhead = 3

// pingAttempts is how many Pings Probing sends in total before giving up.
const pingAttempts = 3

// crcRetries is how many times a single object is recreated and resent
// after a CRC mismatch before the upgrade fails.
const crcRetries = 3

const defaultTimeout = 10 * time.Second

// Payload is a finite byte source of known length. Restarting from offset
// zero after partial consumption is not required; the engine reads it
// once, in full, before the first object of its stream is created.
type Payload interface {
	io.Reader
	Size() int64
}

// Progress reports upgrade progress; value and total are cumulative bytes
// across both object streams.
type Progress func(value, total int64)

// DfuEngine drives one upgrade over a protocol.DfuProtocol. Create a new
// DfuEngine per upgrade; it is not reusable.
type DfuEngine struct {
	proto   *protocol.DfuProtocol
	prn     uint16
	timeout time.Duration

	chunk int

	progress      Progress
	progressValue int64
	progressTotal int64
}

// Option configures a DfuEngine at construction time.
type Option func(*DfuEngine)

// WithPRN overrides the default Packet Receipt Notification interval (0:
// disabled).
func WithPRN(prn uint16) Option {
	return func(e *DfuEngine) { e.prn = prn }
}

// WithTimeout overrides the engine's timeout field (default 10s). Control
// requests wait for the timeout their protocol.DfuProtocol was built with;
// this option does not change that wait.
func WithTimeout(timeout time.Duration) Option {
	return func(e *DfuEngine) { e.timeout = timeout }
}

// WithProgress registers a callback invoked after each data-channel burst.
func WithProgress(p Progress) Option {
	return func(e *DfuEngine) { e.progress = p }
}

// New builds a DfuEngine over proto, which must already be able to reach a
// responsive bootloader.
func New(proto *protocol.DfuProtocol, opts ...Option) *DfuEngine {
	e := &DfuEngine{
		proto:   proto,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drives the full upgrade: Probing, then the init payload as a Command
// object stream, then the firmware payload as a Data object stream. It
// consumes each payload exactly once.
func (e *DfuEngine) Run(initPayload, fwPayload Payload) error {
	e.progressValue = 0
	e.progressTotal = initPayload.Size() + fwPayload.Size()

	if err := e.probe(); err != nil {
		return err
	}

	jww.INFO.Println("Transferring init packet.")
	if err := e.transferObject(protocol.ObjectCommand, initPayload); err != nil {
		return err
	}

	jww.INFO.Println("Transferring firmware image.")
	if err := e.transferObject(protocol.ObjectData, fwPayload); err != nil {
		return err
	}

	jww.INFO.Println("Firmware update complete.")
	return nil
}

// probe implements SPEC_FULL.md §4.4.1: confirm the bootloader responds,
// disable server-initiated PRNs (unless overridden), and learn the
// data-channel chunk size.
func (e *DfuEngine) probe() error {
	var lastErr error
	responsive := false
	for i := 0; i < pingAttempts; i++ {
		id := byte(i + 1)
		echoed, err := e.proto.Ping(id)
		if err == nil && echoed == id {
			responsive = true
			break
		}
		lastErr = err
	}
	if !responsive {
		if lastErr == nil {
			lastErr = errkind.New(errkind.Timeout, "bootloader did not respond to ping")
		}
		return errkind.New(errkind.Timeout, "bootloader unresponsive after %d pings: %v", pingAttempts, lastErr)
	}

	if err := e.proto.SetPRN(e.prn); err != nil {
		return err
	}

	mtu, err := e.negotiateMtu()
	if err != nil {
		return err
	}

	e.chunk = effectiveChunk(mtu)
	jww.DEBUG.Printf("Negotiated MTU %d, data chunk size %d\n", mtu, e.chunk)
	return nil
}

// effectiveChunk halves the negotiated MTU to leave headroom for framing
// overhead on both transports (SPEC_FULL.md §4.4.1).
func effectiveChunk(mtu uint16) int {
	chunk := (int(mtu) - framingOverhead) / 2
	if chunk < 1 {
		chunk = 1
	}
	return chunk
}

// negotiateMtu prefers a transport that already knows its MTU (BLE's
// negotiated ATT MTU) over a protocol round trip (serial's MtuGet).
func (e *DfuEngine) negotiateMtu() (uint16, error) {
	if reporter, ok := e.proto.Transport().(transport.MTUReporter); ok {
		return reporter.MTU(), nil
	}
	return e.proto.MtuGet()
}

// transferObject implements SPEC_FULL.md §4.4.2 for one object type: read
// the whole payload (payloads are small enough that buffering is
// reasonable, matching the teacher's own ioutil.ReadAll-based transfer),
// Select to learn resume state, then burst Create/Write/CalcCrc/Execute
// until the payload is exhausted.
func (e *DfuEngine) transferObject(objType protocol.ObjectType, payload Payload) error {
	data := make([]byte, payload.Size())
	if _, err := io.ReadFull(payload, data); err != nil {
		return errkind.New(errkind.PackageError, "failed to read payload: %v", err)
	}
	size := uint32(len(data))
	fullCrc := crc32.ChecksumIEEE(data)

	sel, err := e.proto.Select(objType)
	if err != nil {
		return err
	}

	written := uint32(0)
	if sel.Offset > 0 && sel.Offset <= size {
		if sel.Crc32 == crc32.ChecksumIEEE(data[:sel.Offset]) {
			written = sel.Offset
			jww.INFO.Printf("Resuming object type %d at offset %d\n", objType, written)
		}
	}

	if written == size && sel.Crc32 == fullCrc {
		e.bumpProgress(int64(size))
		return nil
	}

	maxChunk := int(sel.MaxSize)
	if maxChunk <= 0 {
		maxChunk = e.chunk
	}

	for written < size {
		burstEnd := written + uint32(maxChunk)
		if burstEnd > size {
			burstEnd = size
		}

		if err := e.sendObjectBurst(objType, data, written, burstEnd); err != nil {
			return err
		}
		written = burstEnd
	}

	return nil
}

// sendObjectBurst creates one object covering data[start:end], streams it
// in e.chunk-sized writes, verifies its CRC, retrying the whole object up
// to crcRetries times on mismatch (SPEC_FULL.md §9: "always re-Create on
// retry"), and executes it once verified.
func (e *DfuEngine) sendObjectBurst(objType protocol.ObjectType, data []byte, start, end uint32) error {
	object := data[start:end]
	expectedCrc := crc32.ChecksumIEEE(data[:end])

	var lastErr error
	attempts := crcRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := e.proto.Create(objType, uint32(len(object))); err != nil {
			return err
		}

		if err := e.writeBurst(object); err != nil {
			return err
		}

		check, err := e.proto.CalcCrc()
		if err != nil {
			return err
		}

		if check.Offset == end && check.Crc32 == expectedCrc {
			if err := e.proto.Execute(); err != nil {
				return err
			}
			e.bumpProgress(int64(len(object)))
			return nil
		}

		lastErr = errkind.New(errkind.CrcMismatch, "object [%d:%d): got offset=%d crc=0x%08x, want offset=%d crc=0x%08x",
			start, end, check.Offset, check.Crc32, end, expectedCrc)
		jww.ERROR.Printf("CRC mismatch on attempt %d/%d: %v\n", attempt+1, attempts, lastErr)
	}

	return errkind.New(errkind.CrcMismatch, "object [%d:%d) failed after %d attempts: %v", start, end, attempts, lastErr)
}

// writeBurst hands every chunk of object to the transport before any
// further control request is issued, per SPEC_FULL.md §4.4.3.
func (e *DfuEngine) writeBurst(object []byte) error {
	t := e.proto.Transport()
	chunk := e.chunk
	if chunk <= 0 {
		chunk = len(object)
	}
	for i := 0; i < len(object); i += chunk {
		end := i + chunk
		if end > len(object) {
			end = len(object)
		}
		if err := t.WriteData(object[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (e *DfuEngine) bumpProgress(n int64) {
	e.progressValue += n
	if e.progress != nil {
		e.progress(e.progressValue, e.progressTotal)
	}
}
