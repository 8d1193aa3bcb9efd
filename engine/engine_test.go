package engine

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfuctl/nrf-dfu/errkind"
	"github.com/dfuctl/nrf-dfu/protocol"
	"github.com/dfuctl/nrf-dfu/transport"
)

// bytesPayload adapts a byte slice to the engine.Payload interface.
type bytesPayload struct {
	*bytes.Reader
}

func newPayload(data []byte) bytesPayload {
	return bytesPayload{bytes.NewReader(data)}
}

func (p bytesPayload) Size() int64 { return p.Reader.Size() }

// slot tracks one object type's server-side state, mirroring
// protocol.SelectResult/ChecksumResult: committed is everything Executed so
// far, pending is the bytes written for the object currently under
// construction. corruptNTimes forces CalcCrc to lie that many times before
// reporting truthfully, simulating a flaky link.
type slot struct {
	maxSize       uint32
	committed     []byte
	pending       []byte
	corruptNTimes int
}

// fakeBootloader is an in-memory transport.Transport that answers the
// opcodes the engine issues the way a real Nordic bootloader would, so the
// engine tests exercise the real probe/transfer/resume/retry control flow
// without a real link.
type fakeBootloader struct {
	mtu    uint16
	active protocol.ObjectType
	slots  map[protocol.ObjectType]*slot
	resp   chan *transport.Response
}

func newFakeBootloader(mtu uint16, maxSize uint32) *fakeBootloader {
	return &fakeBootloader{
		mtu: mtu,
		slots: map[protocol.ObjectType]*slot{
			protocol.ObjectCommand: {maxSize: maxSize},
			protocol.ObjectData:    {maxSize: maxSize},
		},
		resp: make(chan *transport.Response, 1),
	}
}

func (f *fakeBootloader) MTU() uint16 { return f.mtu }

func (f *fakeBootloader) DrainControl() {
	select {
	case <-f.resp:
	default:
	}
}

func (f *fakeBootloader) ReadControl(timeout time.Duration) (*transport.Response, error) {
	select {
	case r := <-f.resp:
		return r, nil
	case <-time.After(timeout):
		return nil, errkind.New(errkind.Timeout, "fake bootloader: no response queued")
	}
}

func (f *fakeBootloader) WriteData(data []byte) error {
	s := f.slots[f.active]
	s.pending = append(s.pending, data...)
	return nil
}

func (f *fakeBootloader) Close() error { return nil }

func (f *fakeBootloader) WriteControl(data []byte) error {
	op := protocol.Opcode(data[0])
	params := data[1:]

	switch op {
	case protocol.OpPing:
		f.reply(op, transport.ResultSuccess, []byte{params[0]})

	case protocol.OpReceiptNotifSet:
		f.reply(op, transport.ResultSuccess, nil)

	case protocol.OpMtuGet:
		payload := make([]byte, 2)
		binary.LittleEndian.PutUint16(payload, f.mtu)
		f.reply(op, transport.ResultSuccess, payload)

	case protocol.OpObjectSelect:
		objType := protocol.ObjectType(params[0])
		f.active = objType
		s := f.slots[objType]
		payload := make([]byte, 12)
		binary.LittleEndian.PutUint32(payload[0:4], s.maxSize)
		binary.LittleEndian.PutUint32(payload[4:8], uint32(len(s.committed)))
		binary.LittleEndian.PutUint32(payload[8:12], crc32.ChecksumIEEE(s.committed))
		f.reply(op, transport.ResultSuccess, payload)

	case protocol.OpObjectCreate:
		objType := protocol.ObjectType(params[0])
		f.active = objType
		s := f.slots[objType]
		s.pending = nil
		f.reply(op, transport.ResultSuccess, nil)

	case protocol.OpCrcGet:
		s := f.slots[f.active]
		full := append(append([]byte(nil), s.committed...), s.pending...)
		crc := crc32.ChecksumIEEE(full)
		if s.corruptNTimes > 0 {
			s.corruptNTimes--
			crc ^= 0xFFFFFFFF
		}
		payload := make([]byte, 8)
		binary.LittleEndian.PutUint32(payload[0:4], uint32(len(full)))
		binary.LittleEndian.PutUint32(payload[4:8], crc)
		f.reply(op, transport.ResultSuccess, payload)

	case protocol.OpObjectExecute:
		s := f.slots[f.active]
		s.committed = append(s.committed, s.pending...)
		s.pending = nil
		f.reply(op, transport.ResultSuccess, nil)

	default:
		f.reply(op, 0x02, nil)
	}
	return nil
}

func (f *fakeBootloader) reply(op protocol.Opcode, result byte, payload []byte) {
	f.resp <- &transport.Response{Opcode: byte(op), Result: result, Payload: payload}
}

func TestEngineHappyPath(t *testing.T) {
	fb := newFakeBootloader(64, 32)
	p := protocol.New(fb, time.Second)
	e := New(p)

	init := []byte("init-packet-payload")
	fw := bytes.Repeat([]byte{0xAB}, 100)

	var lastValue, lastTotal int64
	e.progress = func(v, total int64) { lastValue, lastTotal = v, total }

	err := e.Run(newPayload(init), newPayload(fw))
	require.NoError(t, err)
	assert.Equal(t, lastTotal, lastValue)
	assert.Equal(t, int64(len(init)+len(fw)), lastTotal)
	assert.Equal(t, fw, fb.slots[protocol.ObjectData].committed)
	assert.Equal(t, init, fb.slots[protocol.ObjectCommand].committed)
}

func TestEngineResumesFromServerOffset(t *testing.T) {
	fb := newFakeBootloader(64, 32)
	fw := bytes.Repeat([]byte{0x42}, 50)

	// The server already has the first 20 bytes committed, as if a
	// previous run was interrupted right after that burst.
	fb.slots[protocol.ObjectData].committed = append([]byte(nil), fw[:20]...)

	p := protocol.New(fb, time.Second)
	e := New(p)

	err := e.Run(newPayload([]byte("x")), newPayload(fw))
	require.NoError(t, err)
	assert.Equal(t, fw, fb.slots[protocol.ObjectData].committed)
}

func TestEngineRetriesOnCrcMismatch(t *testing.T) {
	fb := newFakeBootloader(64, 32)
	fb.slots[protocol.ObjectData].corruptNTimes = 1

	p := protocol.New(fb, time.Second)
	e := New(p)

	err := e.Run(newPayload([]byte("i")), newPayload(bytes.Repeat([]byte{0x01}, 10)))
	require.NoError(t, err)
}

func TestEngineFailsAfterExhaustingCrcRetries(t *testing.T) {
	fb := newFakeBootloader(64, 32)
	fb.slots[protocol.ObjectData].corruptNTimes = crcRetries + 1

	p := protocol.New(fb, time.Second)
	e := New(p)

	err := e.Run(newPayload([]byte("i")), newPayload(bytes.Repeat([]byte{0x01}, 10)))
	assert.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.CrcMismatch))
}

func TestEffectiveChunkHalvesMtu(t *testing.T) {
	assert.Equal(t, (64-framingOverhead)/2, effectiveChunk(64))
	assert.Equal(t, 1, effectiveChunk(0))
}
