package protocol

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dfuctl/nrf-dfu/errkind"
	"github.com/dfuctl/nrf-dfu/transport"
)

// stubTransport is a minimal transport.Transport double: each WriteControl
// queues the next scripted response (or error) for ReadControl, matching
// the one-outstanding-request pattern DfuProtocol relies on.
type stubTransport struct {
	responses []*transport.Response
	errs      []error
	next      int
	drains    int
	writes    [][]byte
}

func (s *stubTransport) WriteControl(data []byte) error {
	cp := append([]byte(nil), data...)
	s.writes = append(s.writes, cp)
	return nil
}

func (s *stubTransport) ReadControl(timeout time.Duration) (*transport.Response, error) {
	i := s.next
	s.next++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return nil, errkind.New(errkind.Timeout, "stub exhausted")
}

func (s *stubTransport) WriteData(data []byte) error { return nil }
func (s *stubTransport) DrainControl()                { s.drains++ }
func (s *stubTransport) Close() error                 { return nil }

func newProto(resp ...*transport.Response) (*DfuProtocol, *stubTransport) {
	st := &stubTransport{responses: resp}
	return New(st, time.Second), st
}

func TestPingEchoesId(t *testing.T) {
	p, st := newProto(&transport.Response{Opcode: byte(OpPing), Result: transport.ResultSuccess, Payload: []byte{0x42}})
	id, err := p.Ping(0x42)
	assert.NoError(t, err)
	assert.Equal(t, byte(0x42), id)
	assert.Equal(t, 1, st.drains)
	assert.Equal(t, []byte{byte(OpPing), 0x42}, st.writes[0])
}

func TestSetPRNEncodesLittleEndian(t *testing.T) {
	p, st := newProto(&transport.Response{Opcode: byte(OpReceiptNotifSet), Result: transport.ResultSuccess})
	err := p.SetPRN(512)
	assert.NoError(t, err)
	assert.Equal(t, []byte{byte(OpReceiptNotifSet), 0x00, 0x02}, st.writes[0])
}

func TestSelectDecodesPayload(t *testing.T) {
	payload := make([]byte, 12)
	binary.LittleEndian.PutUint32(payload[0:4], 4096)
	binary.LittleEndian.PutUint32(payload[4:8], 128)
	binary.LittleEndian.PutUint32(payload[8:12], 0xDEADBEEF)

	p, _ := newProto(&transport.Response{Opcode: byte(OpObjectSelect), Result: transport.ResultSuccess, Payload: payload})
	result, err := p.Select(ObjectData)
	assert.NoError(t, err)
	assert.Equal(t, uint32(4096), result.MaxSize)
	assert.Equal(t, uint32(128), result.Offset)
	assert.Equal(t, uint32(0xDEADBEEF), result.Crc32)
}

func TestCreateEncodesTypeAndSize(t *testing.T) {
	p, st := newProto(&transport.Response{Opcode: byte(OpObjectCreate), Result: transport.ResultSuccess})
	err := p.Create(ObjectCommand, 256)
	assert.NoError(t, err)
	assert.Equal(t, byte(ObjectCommand), st.writes[0][1])
	assert.Equal(t, uint32(256), binary.LittleEndian.Uint32(st.writes[0][2:]))
}

func TestCalcCrcDecodesPayload(t *testing.T) {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], 64)
	binary.LittleEndian.PutUint32(payload[4:8], 0x12345678)

	p, _ := newProto(&transport.Response{Opcode: byte(OpCrcGet), Result: transport.ResultSuccess, Payload: payload})
	result, err := p.CalcCrc()
	assert.NoError(t, err)
	assert.Equal(t, uint32(64), result.Offset)
	assert.Equal(t, uint32(0x12345678), result.Crc32)
}

func TestExecuteSucceeds(t *testing.T) {
	p, _ := newProto(&transport.Response{Opcode: byte(OpObjectExecute), Result: transport.ResultSuccess})
	assert.NoError(t, p.Execute())
}

func TestOpcodeMismatchIsProtocolDesync(t *testing.T) {
	p, _ := newProto(&transport.Response{Opcode: byte(OpObjectExecute), Result: transport.ResultSuccess})
	_, err := p.Ping(0x01)
	assert.True(t, errkind.Is(err, errkind.ProtocolDesync))
}

func TestServerResultMapsToServerError(t *testing.T) {
	p, _ := newProto(&transport.Response{Opcode: byte(OpObjectCreate), Result: resultInsufficientResources})
	err := p.Create(ObjectData, 1024)
	assert.True(t, errkind.Is(err, errkind.ServerError))
	de, ok := err.(*errkind.DfuError)
	assert.True(t, ok)
	assert.Equal(t, resultInsufficientResources, de.ServerCode)
}

func TestReadControlErrorPropagates(t *testing.T) {
	st := &stubTransport{errs: []error{errkind.New(errkind.Timeout, "no reply")}}
	p := New(st, time.Second)
	_, err := p.MtuGet()
	assert.True(t, errkind.Is(err, errkind.Timeout))
}

func TestShortPayloadIsProtocolDesync(t *testing.T) {
	p, _ := newProto(&transport.Response{Opcode: byte(OpMtuGet), Result: transport.ResultSuccess, Payload: []byte{0x01}})
	_, err := p.MtuGet()
	assert.True(t, errkind.Is(err, errkind.ProtocolDesync))
}
