// Package cep implements the framed request/response protocol ("CEP") used
// on the serial link between the spacecraft's On-Board Computer and the
// payload scheduler: four frame kinds, each introduced by a one-byte
// header, with a CRC-32/MPEG-2 checksum guarding Data payloads.
package cep

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Kind identifies one of the four frame kinds on the wire. The numeric
// values are the wire header bytes and must not change.
type Kind byte

const (
	KindAck  Kind = 0xD7
	KindNack Kind = 0x27
	KindEof  Kind = 0x59
	KindData Kind = 0x8B
)

func (k Kind) String() string {
	switch k {
	case KindAck:
		return "Ack"
	case KindNack:
		return "Nack"
	case KindEof:
		return "Eof"
	case KindData:
		return "Data"
	default:
		return fmt.Sprintf("Kind(0x%02x)", byte(k))
	}
}

// MaxPayload is the largest Data frame payload accepted on the wire,
// 11 KiB.
const MaxPayload = 11 * 1024

// Frame is one wire message: Ack, Nack, and Eof carry no payload; Data
// carries up to MaxPayload bytes.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Ack returns an Ack frame.
func Ack() Frame { return Frame{Kind: KindAck} }

// Nack returns a Nack frame.
func Nack() Frame { return Frame{Kind: KindNack} }

// Eof returns an Eof frame.
func Eof() Frame { return Frame{Kind: KindEof} }

// NewData returns a Data frame carrying payload. It fails if payload
// exceeds MaxPayload.
func NewData(payload []byte) (Frame, error) {
	if len(payload) > MaxPayload {
		return Frame{}, &InvalidLengthError{Length: len(payload)}
	}
	return Frame{Kind: KindData, Payload: payload}, nil
}

// Encode serializes f to its wire representation.
func Encode(f Frame) []byte {
	if f.Kind != KindData {
		return []byte{byte(f.Kind)}
	}

	buf := make([]byte, 1+2+len(f.Payload)+4)
	buf[0] = byte(KindData)
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(f.Payload)))
	copy(buf[3:3+len(f.Payload)], f.Payload)
	crc := crc32MPEG2(f.Payload)
	binary.LittleEndian.PutUint32(buf[3+len(f.Payload):], crc)
	return buf
}

// Decode reads exactly one frame from r. For a Data frame it reads the
// length, payload, and CRC fields in order and verifies the CRC; an invalid
// CRC is reported without affecting the returned error's distinguishability
// from an I/O failure (callers should use errors.As for InvalidLengthError /
// InvalidHeaderError / errors.Is for ErrInvalidCRC, and treat anything else
// as an I/O error to wrap and propagate).
func Decode(r io.Reader) (Frame, error) {
	var hdr [1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, fmt.Errorf("cep: read header: %w", err)
	}

	kind := Kind(hdr[0])
	switch kind {
	case KindAck, KindNack, KindEof:
		return Frame{Kind: kind}, nil
	case KindData:
		return decodeData(r)
	default:
		return Frame{}, &InvalidHeaderError{Byte: hdr[0]}
	}
}

func decodeData(r io.Reader) (Frame, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, fmt.Errorf("cep: read length: %w", err)
	}
	length := int(binary.LittleEndian.Uint16(lenBuf[:]))
	if length > MaxPayload {
		return Frame{}, &InvalidLengthError{Length: length}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("cep: read payload: %w", err)
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return Frame{}, fmt.Errorf("cep: read crc: %w", err)
	}
	stored := binary.LittleEndian.Uint32(crcBuf[:])
	if stored != crc32MPEG2(payload) {
		return Frame{}, ErrInvalidCRC
	}

	return Frame{Kind: KindData, Payload: payload}, nil
}
