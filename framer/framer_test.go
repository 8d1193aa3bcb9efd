package framer

import (
	"bytes"
	"testing"

	"github.com/dfuctl/nrf-dfu/errkind"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01, 0x02, 0x03},
		{0xC0},
		{0xDB},
		{0xC0, 0xDB, 0xC0, 0xDB},
		bytes.Repeat([]byte{0xC0, 0xDB}, 64),
	}

	for _, payload := range cases {
		framed := Encode(payload)
		dec := NewDecoder(bytes.NewReader(framed))
		got, err := dec.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame(%x): %v", payload, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("round trip mismatch: want %x got %x", payload, got)
		}
	}
}

func TestConcatenatedFrames(t *testing.T) {
	a := []byte{0x01, 0xC0, 0x02}
	b := []byte{0xDB, 0x03}

	var buf bytes.Buffer
	buf.Write(Encode(a))
	buf.Write(Encode(b))

	dec := NewDecoder(&buf)

	got1, err := dec.ReadFrame()
	if err != nil {
		t.Fatalf("first ReadFrame: %v", err)
	}
	if !bytes.Equal(got1, a) {
		t.Fatalf("first frame mismatch: want %x got %x", a, got1)
	}

	got2, err := dec.ReadFrame()
	if err != nil {
		t.Fatalf("second ReadFrame: %v", err)
	}
	if !bytes.Equal(got2, b) {
		t.Fatalf("second frame mismatch: want %x got %x", b, got2)
	}
}

func TestMalformedEscapeResyncs(t *testing.T) {
	// 0xDB followed by a byte that is neither 0xDC nor 0xDD is malformed.
	bad := []byte{0x01, esc, 0x99, end}
	good := Encode([]byte{0x05, 0x06})

	var buf bytes.Buffer
	buf.Write(bad)
	buf.Write(good)

	dec := NewDecoder(&buf)

	_, err := dec.ReadFrame()
	if err == nil {
		t.Fatal("expected FramingError for malformed escape")
	}
	if !errkind.Is(err, errkind.FramingError) {
		t.Fatalf("expected FramingError, got %v", err)
	}

	frame, err := dec.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame after resync: %v", err)
	}
	if !bytes.Equal(frame, []byte{0x05, 0x06}) {
		t.Fatalf("resynced frame mismatch: got %x", frame)
	}
}

func TestEmptyPayloadRoundTrip(t *testing.T) {
	// The framer has no CRC of its own; an empty payload must round-trip
	// as an empty frame.
	framed := Encode(nil)
	dec := NewDecoder(bytes.NewReader(framed))
	got, err := dec.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame(nil): %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty frame, got %x", got)
	}
}
