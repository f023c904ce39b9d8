package cep

import (
	"bytes"
	"errors"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []Frame{
		Ack(),
		Nack(),
		Eof(),
	}
	for _, f := range cases {
		got, err := Decode(bytes.NewReader(Encode(f)))
		if err != nil {
			t.Fatalf("decode %s: %v", f.Kind, err)
		}
		if got.Kind != f.Kind {
			t.Fatalf("kind mismatch: got %s want %s", got.Kind, f.Kind)
		}
	}

	data, err := NewData([]byte("hello scheduler"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(bytes.NewReader(Encode(data)))
	if err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if !bytes.Equal(got.Payload, data.Payload) {
		t.Fatalf("payload mismatch: got %q want %q", got.Payload, data.Payload)
	}
}

func TestEncodeDataLayout(t *testing.T) {
	payload := []byte("abc")
	f, err := NewData(payload)
	if err != nil {
		t.Fatal(err)
	}
	wire := Encode(f)

	if wire[0] != byte(KindData) {
		t.Fatalf("header byte = 0x%02x, want 0x8b", wire[0])
	}
	length := int(wire[1]) | int(wire[2])<<8
	if length != len(payload) {
		t.Fatalf("length field = %d, want %d", length, len(payload))
	}
	crcBytes := wire[len(wire)-4:]
	gotCRC := uint32(crcBytes[0]) | uint32(crcBytes[1])<<8 | uint32(crcBytes[2])<<16 | uint32(crcBytes[3])<<24
	wantCRC := crc32MPEG2(payload)
	if gotCRC != wantCRC {
		t.Fatalf("crc = 0x%08x, want 0x%08x", gotCRC, wantCRC)
	}
}

func TestBitFlipRejectedAsInvalidCRC(t *testing.T) {
	f, err := NewData([]byte{0x01, 0x02, 0x03, 0x04})
	if err != nil {
		t.Fatal(err)
	}
	wire := Encode(f)
	// Flip one payload bit but leave the stored CRC untouched.
	wire[3] ^= 0x01

	_, err = Decode(bytes.NewReader(wire))
	if !errors.Is(err, ErrInvalidCRC) {
		t.Fatalf("got %v, want ErrInvalidCRC", err)
	}
}

func TestLengthTooLargeRejected(t *testing.T) {
	wire := []byte{byte(KindData), 0x00, 0x30} // length = 0x3000 = 12288 > 11*1024
	_, err := Decode(bytes.NewReader(wire))
	var lenErr *InvalidLengthError
	if !errors.As(err, &lenErr) {
		t.Fatalf("got %v, want *InvalidLengthError", err)
	}
}

func TestInvalidHeaderByte(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{0x00}))
	var hdrErr *InvalidHeaderError
	if !errors.As(err, &hdrErr) {
		t.Fatalf("got %v, want *InvalidHeaderError", err)
	}
}

func TestPayloadTooLargeRejectedAtConstruction(t *testing.T) {
	_, err := NewData(make([]byte, MaxPayload+1))
	var lenErr *InvalidLengthError
	if !errors.As(err, &lenErr) {
		t.Fatalf("got %v, want *InvalidLengthError", err)
	}
}
